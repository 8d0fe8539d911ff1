package calendar

import (
	"testing"
	"time"
)

func keys(ds []time.Time) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Format(KeyLayout)
	}
	return out
}

func TestSessionDates(t *testing.T) {
	start := Date(2024, time.July, 15) // Monday
	today := Date(2024, time.July, 31) // Wednesday

	tests := []struct {
		name string
		day  time.Weekday
		want []string
	}{
		{"mondays", time.Monday, []string{"2024-07-15", "2024-07-22", "2024-07-29"}},
		{"wednesdays include today", time.Wednesday, []string{"2024-07-17", "2024-07-24", "2024-07-31"}},
		{"sundays", time.Sunday, []string{"2024-07-21", "2024-07-28"}},
		{"thursdays", time.Thursday, []string{"2024-07-18", "2024-07-25"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keys(SessionDates(start, today, tt.day))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSessionDatesBeforeSemester(t *testing.T) {
	start := Date(2024, time.July, 15)
	for day := time.Sunday; day <= time.Saturday; day++ {
		if got := SessionDates(start, Date(2024, time.July, 14), day); len(got) != 0 {
			t.Fatalf("weekday %s: got %v, want none", day, keys(got))
		}
	}
}

func TestSessionDatesSameDay(t *testing.T) {
	d := Date(2024, time.July, 15)
	if got := keys(SessionDates(d, d, time.Monday)); len(got) != 1 || got[0] != "2024-07-15" {
		t.Fatalf("got %v", got)
	}
	if got := SessionDates(d, d, time.Tuesday); len(got) != 0 {
		t.Fatalf("got %v", keys(got))
	}
}

func TestSessionDatesPropertiesHold(t *testing.T) {
	start := Date(2024, time.January, 3)
	today := Date(2024, time.June, 30)
	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, d := range SessionDates(start, today, day) {
			if d.Weekday() != day {
				t.Fatalf("%s is a %s, want %s", d.Format(KeyLayout), d.Weekday(), day)
			}
			if d.Before(start) || d.After(today) {
				t.Fatalf("%s outside range", d.Format(KeyLayout))
			}
		}
	}
}

func TestSessionDatesIgnoresClockTime(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	start := time.Date(2024, time.July, 15, 18, 30, 0, 0, ist)
	today := time.Date(2024, time.July, 22, 0, 5, 0, 0, ist)
	got := keys(SessionDates(start, today, time.Monday))
	if len(got) != 2 || got[0] != "2024-07-15" || got[1] != "2024-07-22" {
		t.Fatalf("got %v", got)
	}
}

func TestKeyUsesLocation(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2024, time.July, 16, 20, 0, 0, 0, time.UTC)
	if got := Key(ts, ist); got != "2024-07-17" {
		t.Fatalf("Key = %s, want 2024-07-17", got)
	}
	if got := Key(ts, nil); got != "2024-07-16" {
		t.Fatalf("Key nil loc = %s", got)
	}
	parsed, err := ParseKey("2024-07-17")
	if err != nil || !parsed.Equal(Date(2024, time.July, 17)) {
		t.Fatalf("ParseKey = %v, %v", parsed, err)
	}
}
