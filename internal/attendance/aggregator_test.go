package attendance

import (
	"testing"
	"time"

	"qrattend/internal/calendar"
	"qrattend/internal/model"
)

var (
	semesterStart = calendar.Date(2024, time.July, 15)
	july31        = calendar.Date(2024, time.July, 31)
)

func monWed(id, subject string) model.ClassSession {
	return model.ClassSession{
		ID:      id,
		Subject: subject,
		Schedules: []model.Schedule{
			{Day: int(time.Monday), StartTime: "10:00", EndTime: "11:00", RoomNumber: "A-101"},
			{Day: int(time.Wednesday), StartTime: "10:00", EndTime: "11:00", RoomNumber: "A-101"},
		},
	}
}

func scanAt(classID string, y int, m time.Month, d, hour int) model.ScanRecord {
	return model.ScanRecord{ClassID: classID, Timestamp: time.Date(y, m, d, hour, 5, 0, 0, time.UTC)}
}

func TestAggregateSemesterScenario(t *testing.T) {
	classes := []model.ClassSession{monWed("c1", "Data Structures")}
	scans := []model.ScanRecord{
		scanAt("c1", 2024, time.July, 17, 10),
		scanAt("c1", 2024, time.July, 24, 10),
	}

	rep := Aggregate(classes, scans, semesterStart, july31, time.UTC, MatchAnyScan)

	if len(rep.Stats) != 1 {
		t.Fatalf("stats = %+v", rep.Stats)
	}
	st := rep.Stats[0]
	if st.Total != 6 || st.Attended != 2 {
		t.Fatalf("got %d/%d, want 2/6", st.Attended, st.Total)
	}
	if st.Rate() != 33 {
		t.Fatalf("rate = %d", st.Rate())
	}

	wantDates := []string{"2024-07-15", "2024-07-17", "2024-07-22", "2024-07-24", "2024-07-29", "2024-07-31"}
	if len(rep.Records) != len(wantDates) {
		t.Fatalf("records = %+v", rep.Records)
	}
	for i, rec := range rep.Records {
		if rec.Date != wantDates[i] {
			t.Errorf("record %d date = %s, want %s", i, rec.Date, wantDates[i])
		}
		present := rec.Date == "2024-07-17" || rec.Date == "2024-07-24"
		if (rec.Status == model.Present) != present {
			t.Errorf("%s status = %s", rec.Date, rec.Status)
		}
		if present && (rec.MarkedAt == nil || calendar.Key(*rec.MarkedAt, time.UTC) != rec.Date) {
			t.Errorf("%s marked at %v", rec.Date, rec.MarkedAt)
		}
	}
	if rep.Overall.Total != 6 || rep.Overall.Attended != 2 {
		t.Fatalf("overall = %+v", rep.Overall)
	}
}

func TestAggregateNoClasses(t *testing.T) {
	rep := Aggregate(nil, []model.ScanRecord{scanAt("c1", 2024, time.July, 17, 10)}, semesterStart, july31, time.UTC, MatchAnyScan)
	if rep.Stats == nil || rep.Records == nil || len(rep.Stats) != 0 || len(rep.Records) != 0 {
		t.Fatalf("want empty non-nil report, got %+v", rep)
	}
}

func TestAggregateMatchPolicies(t *testing.T) {
	ds := monWed("c1", "Data Structures")
	os := model.ClassSession{ID: "c2", Subject: "Operating Systems", Schedules: []model.Schedule{
		{Day: int(time.Wednesday), StartTime: "14:00", EndTime: "15:00"},
	}}
	// one scan for DS on the 17th only
	scans := []model.ScanRecord{scanAt("c1", 2024, time.July, 17, 10)}

	anyScan := Aggregate([]model.ClassSession{ds, os}, scans, semesterStart, july31, time.UTC, MatchAnyScan)
	if got := statFor(t, anyScan, "Operating Systems"); got.Attended != 1 || got.Total != 3 {
		t.Fatalf("any-scan credits same-day scans to every subject, got %+v", got)
	}

	sameClass := Aggregate([]model.ClassSession{ds, os}, scans, semesterStart, july31, time.UTC, MatchSameClass)
	if got := statFor(t, sameClass, "Operating Systems"); got.Attended != 0 || got.Total != 3 {
		t.Fatalf("same-class policy got %+v", got)
	}
	if got := statFor(t, sameClass, "Data Structures"); got.Attended != 1 || got.Total != 6 {
		t.Fatalf("same-class policy got %+v", got)
	}

	// stats sorted by subject, records by date then start time
	if anyScan.Stats[0].Subject != "Data Structures" {
		t.Fatalf("stats order = %+v", anyScan.Stats)
	}
	for i := 1; i < len(anyScan.Records); i++ {
		a, b := anyScan.Records[i-1], anyScan.Records[i]
		if a.Date > b.Date || (a.Date == b.Date && a.StartTime > b.StartTime) {
			t.Fatalf("records out of order at %d: %+v then %+v", i, a, b)
		}
	}
}

func TestAggregateScansWithoutScheduledSessions(t *testing.T) {
	// class meets on Fridays only, semester started this Wednesday
	start := calendar.Date(2024, time.July, 17)
	today := calendar.Date(2024, time.July, 18)
	c := model.ClassSession{ID: "c9", Subject: "Lab", Schedules: []model.Schedule{{Day: int(time.Friday), StartTime: "09:00", EndTime: "12:00"}}}
	rep := Aggregate([]model.ClassSession{c}, []model.ScanRecord{scanAt("c9", 2024, time.July, 18, 9)}, start, today, time.UTC, MatchAnyScan)
	if got := statFor(t, rep, "Lab"); got.Attended != 1 || got.Total != 1 {
		t.Fatalf("got %+v, want 1/1", got)
	}
	if len(rep.Records) != 0 {
		t.Fatalf("no session was scheduled, records = %+v", rep.Records)
	}
}

func TestAggregateBucketsScansByLocation(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skip("tz database unavailable")
	}
	// 19:00 UTC on the 16th is already the 17th in IST
	scan := model.ScanRecord{ClassID: "c1", Timestamp: time.Date(2024, time.July, 16, 19, 0, 0, 0, time.UTC)}
	rep := Aggregate([]model.ClassSession{monWed("c1", "DS")}, []model.ScanRecord{scan}, semesterStart, july31, ist, MatchAnyScan)
	if got := statFor(t, rep, "DS"); got.Attended != 1 {
		t.Fatalf("got %+v", got)
	}
	if rep.Records[1].Date != "2024-07-17" || rep.Records[1].Status != model.Present {
		t.Fatalf("record = %+v", rep.Records[1])
	}
}

func TestParseMatchPolicy(t *testing.T) {
	for in, want := range map[string]MatchPolicy{"": MatchAnyScan, "any-scan": MatchAnyScan, "Same-Class": MatchSameClass} {
		got, err := ParseMatchPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseMatchPolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMatchPolicy("strict"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func statFor(t *testing.T, rep Report, subject string) model.SubjectStat {
	t.Helper()
	for _, s := range rep.Stats {
		if s.Subject == subject {
			return s
		}
	}
	t.Fatalf("no stat for %q in %+v", subject, rep.Stats)
	return model.SubjectStat{}
}
