// Package calendar expands weekly class schedules into the civil dates on which
// sessions fell, and formats the YYYY-MM-DD keys used to bucket scan records.
package calendar

import "time"

// KeyLayout is the date key format used in collection paths and comparisons.
const KeyLayout = "2006-01-02"

// Date returns the civil date y-m-d as UTC midnight.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayOf returns the civil date of t as observed in loc, as UTC midnight.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date(y, m, d)
}

// Key formats the civil date of t in loc.
func Key(t time.Time, loc *time.Location) string {
	return DayOf(t, loc).Format(KeyLayout)
}

// ParseKey parses a YYYY-MM-DD key into a date-only value.
func ParseKey(key string) (time.Time, error) {
	return time.ParseInLocation(KeyLayout, key, time.UTC)
}

// SessionDates lists every date in [semesterStart, today] whose weekday is day,
// in ascending order. Only the civil date parts of the bounds are used.
func SessionDates(semesterStart, today time.Time, day time.Weekday) []time.Time {
	start := Date(semesterStart.Date())
	end := Date(today.Date())
	if end.Before(start) {
		return nil
	}

	offset := (int(day) - int(start.Weekday()) + 7) % 7
	var dates []time.Time
	for d := start.AddDate(0, 0, offset); !d.After(end); d = d.AddDate(0, 0, 7) {
		dates = append(dates, d)
	}
	return dates
}
