package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSubjectStatRate(t *testing.T) {
	tests := []struct {
		attended, total, want int
	}{
		{0, 0, 0},
		{3, 0, 0},
		{2, 6, 33},
		{1, 2, 50},
		{2, 3, 67},
		{6, 6, 100},
		{7, 6, 100},
		{-1, 6, 0},
	}
	for _, tt := range tests {
		got := SubjectStat{Attended: tt.attended, Total: tt.total}.Rate()
		if got != tt.want {
			t.Errorf("Rate(%d/%d) = %d, want %d", tt.attended, tt.total, got, tt.want)
		}
	}
}

func TestClassRoundTripThroughJSONNumbers(t *testing.T) {
	c := ClassSession{
		Subject:     "Data Structures",
		Department:  "CSE",
		Semester:    3,
		TeacherID:   "t1",
		TeacherName: "R. Rao",
		Schedules: []Schedule{
			{Day: 1, StartTime: "10:00", EndTime: "11:00", RoomNumber: "A-101"},
			{Day: 3, StartTime: "10:00", EndTime: "11:00", RoomNumber: "A-101"},
		},
	}
	// Stores hand documents back with float64 numbers after a JSON hop.
	raw, _ := json.Marshal(EncodeClass(c))
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatal(err)
	}

	got, err := DecodeClass("c1", data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "c1" || got.Semester != 3 || len(got.Schedules) != 2 || got.Schedules[1].Weekday() != time.Wednesday {
		t.Fatalf("unexpected class %+v", got)
	}
}

func TestDecodeClassRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		field string
	}{
		{"missing subject", map[string]any{"department": "CSE", "semester": int64(3), "teacherId": "t"}, "subject"},
		{"string semester", map[string]any{"subject": "DS", "department": "CSE", "semester": "three", "teacherId": "t"}, "semester"},
		{"fractional semester", map[string]any{"subject": "DS", "department": "CSE", "semester": 3.5, "teacherId": "t"}, "semester"},
		{"schedule not a map", map[string]any{"subject": "DS", "department": "CSE", "semester": 3, "teacherId": "t", "schedules": []any{"mon"}}, "schedules[0]"},
		{"schedule missing start", map[string]any{"subject": "DS", "department": "CSE", "semester": 3, "teacherId": "t",
			"schedules": []any{map[string]any{"day": 1, "endTime": "11:00"}}}, "schedules[0].startTime"},
		{"schedule day out of range", map[string]any{"subject": "DS", "department": "CSE", "semester": 3, "teacherId": "t",
			"schedules": []any{map[string]any{"day": 9, "startTime": "10:00", "endTime": "11:00"}}}, "schedules[0].day"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClass("c1", tt.data)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want DecodeError", err)
			}
			if de.Field != tt.field || de.Collection != Classes || de.ID != "c1" {
				t.Fatalf("DecodeError = %+v, want field %q", de, tt.field)
			}
		})
	}
}

func TestScanRoundTrip(t *testing.T) {
	ts := time.Date(2024, time.July, 17, 4, 35, 12, 0, time.UTC)
	r := ScanRecord{StudentID: "s1", StudentName: "Asha", USN: "1RV21CS001", Timestamp: ts, DeviceFingerprint: "D1", ClassID: "c1", Subject: "DS"}
	got, err := DecodeScan("classes/c1/attendance/2024-07-17/records", "r1", EncodeScan(r))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Timestamp.Equal(ts) || got.ID != "r1" || got.DeviceFingerprint != "D1" {
		t.Fatalf("got %+v", got)
	}

	_, err = DecodeScan("classes/c1/attendance/2024-07-17/records", "r2", map[string]any{"studentId": "s1", "classId": "c1"})
	var de *DecodeError
	if !errors.As(err, &de) || de.Field != "timestamp" {
		t.Fatalf("err = %v", err)
	}
}

func TestEncodeQRClearsZeroTimes(t *testing.T) {
	m := EncodeQR("", time.Time{}, time.Time{}, "")
	if m["qrCodeExpiresAt"] != nil || m["qrCodeGeneratedAt"] != nil {
		t.Fatalf("zero times must encode as nil: %v", m)
	}
}

func TestValidateClass(t *testing.T) {
	ok := ClassSession{Subject: "DS", Department: "CSE", Semester: 3,
		Schedules: []Schedule{{Day: 0, StartTime: "09:00", EndTime: "10:00"}}}
	if err := Validate(ok); err != nil {
		t.Fatalf("valid class rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ClassSession)
		want   string
	}{
		{"bad start", func(c *ClassSession) { c.Schedules[0].StartTime = "9am" }, "schedules[0].startTime must be a HH:mm time"},
		{"end before start", func(c *ClassSession) { c.Schedules[0].EndTime = "08:00" }, "schedules[0].endTime must be after startTime"},
		{"bad day", func(c *ClassSession) { c.Schedules[0].Day = 7 }, "schedules[0].day must be a day"},
		{"semester range", func(c *ClassSession) { c.Semester = 0 }, "semester must be at least 1"},
		{"missing subject", func(c *ClassSession) { c.Subject = "" }, "subject is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ok
			c.Schedules = append([]Schedule(nil), ok.Schedules...)
			tt.mutate(&c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestValidateStudent(t *testing.T) {
	p := StudentProfile{FullName: "Asha", USN: "1RV21CS001", Email: "asha@example.edu", Semester: 3, Department: "CSE"}
	if err := Validate(p); err != nil {
		t.Fatalf("valid profile rejected: %v", err)
	}
	p.Email = "nope"
	if err := Validate(p); err == nil || !strings.Contains(err.Error(), "email must be a valid email") {
		t.Fatalf("err = %v", err)
	}
}

func TestRole(t *testing.T) {
	if !RoleTeacher.Valid() || Role("root").Valid() {
		t.Fatal("role validity wrong")
	}
	if RoleAdmin.Collection() != Admins || RoleStudent.Collection() != Students {
		t.Fatal("role collection wrong")
	}
}
