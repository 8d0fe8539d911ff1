package attendance

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"qrattend/internal/calendar"
	"qrattend/internal/model"
)

// MatchPolicy decides which scans count as presence for a scheduled session.
type MatchPolicy int

const (
	// MatchAnyScan marks a session present when the student scanned any class
	// on that date. Two subjects on the same day are therefore both credited
	// by a single scan.
	MatchAnyScan MatchPolicy = iota
	// MatchSameClass requires a scan for the session's own class on that date.
	MatchSameClass
)

func (p MatchPolicy) String() string {
	if p == MatchSameClass {
		return "same-class"
	}
	return "any-scan"
}

// ParseMatchPolicy reads the ATTENDANCE_MATCH_POLICY value.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any-scan", "any":
		return MatchAnyScan, nil
	case "same-class", "class":
		return MatchSameClass, nil
	}
	return MatchAnyScan, fmt.Errorf("unknown match policy %q", s)
}

// Report is a student's attendance derived from their classes and scans.
type Report struct {
	Stats   []model.SubjectStat   `json:"stats"`
	Overall model.SubjectStat     `json:"overall"`
	Records []model.HistoryRecord `json:"records"`
}

// Aggregate expands every schedule of classes into session dates between
// semesterStart and today and joins them against scans. Scan timestamps are
// bucketed into dates in loc.
//
// Stats are tallied from the produced records. A subject whose classes have
// scans but no scheduled session so far reports those scan days as both
// attended and total, and no subject reports fewer sessions than days scanned.
func Aggregate(classes []model.ClassSession, scans []model.ScanRecord, semesterStart, today time.Time, loc *time.Location, policy MatchPolicy) Report {
	rep := Report{Stats: []model.SubjectStat{}, Records: []model.HistoryRecord{}}
	if len(classes) == 0 {
		return rep
	}
	if loc == nil {
		loc = time.UTC
	}

	// earliest scan per date, and per class+date
	byDate := map[string]model.ScanRecord{}
	byClassDate := map[string]model.ScanRecord{}
	for _, s := range scans {
		day := calendar.Key(s.Timestamp, loc)
		if prev, ok := byDate[day]; !ok || s.Timestamp.Before(prev.Timestamp) {
			byDate[day] = s
		}
		k := s.ClassID + "|" + day
		if prev, ok := byClassDate[k]; !ok || s.Timestamp.Before(prev.Timestamp) {
			byClassDate[k] = s
		}
	}

	tally := map[string]*model.SubjectStat{}
	subjectClasses := map[string]map[string]bool{}
	for _, c := range classes {
		if tally[c.Subject] == nil {
			tally[c.Subject] = &model.SubjectStat{Subject: c.Subject}
			subjectClasses[c.Subject] = map[string]bool{}
		}
		subjectClasses[c.Subject][c.ID] = true

		for _, sch := range c.Schedules {
			for _, d := range calendar.SessionDates(semesterStart, today, sch.Weekday()) {
				day := d.Format(calendar.KeyLayout)
				var (
					hit model.ScanRecord
					ok  bool
				)
				if policy == MatchSameClass {
					hit, ok = byClassDate[c.ID+"|"+day]
				} else {
					hit, ok = byDate[day]
				}
				rec := model.HistoryRecord{
					ClassID:   c.ID,
					Subject:   c.Subject,
					Date:      day,
					StartTime: sch.StartTime,
					EndTime:   sch.EndTime,
					Room:      sch.RoomNumber,
					Status:    model.Absent,
				}
				if ok {
					at := hit.Timestamp
					rec.Status = model.Present
					rec.MarkedAt = &at
				}
				rep.Records = append(rep.Records, rec)
			}
		}
	}

	for _, rec := range rep.Records {
		st := tally[rec.Subject]
		st.Total++
		if rec.Status == model.Present {
			st.Attended++
		}
	}

	for subject, st := range tally {
		days := map[string]bool{}
		for _, s := range scans {
			if subjectClasses[subject][s.ClassID] {
				days[calendar.Key(s.Timestamp, loc)] = true
			}
		}
		if st.Total == 0 {
			st.Attended = len(days)
		}
		st.Total = max(st.Total, len(days))
	}

	subjects := make([]string, 0, len(tally))
	for s := range tally {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	rep.Overall.Subject = "Overall"
	for _, s := range subjects {
		st := *tally[s]
		rep.Stats = append(rep.Stats, st)
		rep.Overall.Attended += st.Attended
		rep.Overall.Total += st.Total
	}

	sort.SliceStable(rep.Records, func(i, j int) bool {
		a, b := rep.Records[i], rep.Records[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.Subject < b.Subject
	})
	return rep
}
