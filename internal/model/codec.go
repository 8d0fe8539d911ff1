package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// DecodeError reports a stored document that does not have the expected shape.
type DecodeError struct {
	Collection string
	ID         string
	Field      string
	Reason     string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s/%s: field %q %s", e.Collection, e.ID, e.Field, e.Reason)
}

// fields reads typed values out of a raw document, remembering the first failure.
type fields struct {
	collection string
	id         string
	data       map[string]any
	err        *DecodeError
}

func newFields(collection, id string, data map[string]any) *fields {
	return &fields{collection: collection, id: id, data: data}
}

func (f *fields) fail(field, reason string) {
	if f.err == nil {
		f.err = &DecodeError{Collection: f.collection, ID: f.id, Field: field, Reason: reason}
	}
}

func (f *fields) result() error {
	if f.err != nil {
		return f.err
	}
	return nil
}

func (f *fields) str(key string, required bool) string {
	v, ok := f.data[key]
	if !ok || v == nil {
		if required {
			f.fail(key, "is missing")
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(key, fmt.Sprintf("has type %T, want string", v))
		return ""
	}
	if required && s == "" {
		f.fail(key, "is empty")
	}
	return s
}

func (f *fields) int64(key string, required bool) int64 {
	v, ok := f.data[key]
	if !ok || v == nil {
		if required {
			f.fail(key, "is missing")
		}
		return 0
	}
	n, ok := toInt64(v)
	if !ok {
		f.fail(key, fmt.Sprintf("has type %T, want integer", v))
	}
	return n
}

func (f *fields) millis(key string, required bool) time.Time {
	n := f.int64(key, required)
	if n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func (f *fields) list(key string) []any {
	v, ok := f.data[key]
	if !ok || v == nil {
		return nil
	}
	l, ok := v.([]any)
	if !ok {
		f.fail(key, fmt.Sprintf("has type %T, want list", v))
	}
	return l
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func millisOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// DecodeClass builds a ClassSession from a classes document.
func DecodeClass(id string, data map[string]any) (ClassSession, error) {
	f := newFields(Classes, id, data)
	c := ClassSession{
		ID:                id,
		Subject:           f.str("subject", true),
		Department:        f.str("department", true),
		Semester:          int(f.int64("semester", true)),
		TeacherID:         f.str("teacherId", true),
		TeacherName:       f.str("teacherName", false),
		MaxStudents:       int(f.int64("maxStudents", false)),
		QRCode:            f.str("qrCode", false),
		QRCodeGeneratedAt: f.millis("qrCodeGeneratedAt", false),
		QRCodeExpiresAt:   f.millis("qrCodeExpiresAt", false),
		QRImageURL:        f.str("qrImageUrl", false),
	}
	for i, raw := range f.list("schedules") {
		m, ok := raw.(map[string]any)
		if !ok {
			f.fail(fmt.Sprintf("schedules[%d]", i), fmt.Sprintf("has type %T, want map", raw))
			break
		}
		sf := newFields(Classes, id, m)
		s := Schedule{
			Day:        int(sf.int64("day", true)),
			StartTime:  sf.str("startTime", true),
			EndTime:    sf.str("endTime", true),
			RoomNumber: sf.str("roomNumber", false),
		}
		if sf.err != nil {
			sf.err.Field = fmt.Sprintf("schedules[%d].%s", i, sf.err.Field)
			f.fail(sf.err.Field, sf.err.Reason)
			break
		}
		if s.Day < 0 || s.Day > 6 {
			f.fail(fmt.Sprintf("schedules[%d].day", i), "is out of range")
			break
		}
		c.Schedules = append(c.Schedules, s)
	}
	return c, f.result()
}

// EncodeClass returns the stored shape of c, without QR fields. A nil
// maxStudents means no limit.
func EncodeClass(c ClassSession) map[string]any {
	schedules := make([]any, 0, len(c.Schedules))
	for _, s := range c.Schedules {
		schedules = append(schedules, map[string]any{
			"day":        s.Day,
			"startTime":  s.StartTime,
			"endTime":    s.EndTime,
			"roomNumber": s.RoomNumber,
		})
	}
	// maxStudents is always present so a merge can clear an old limit.
	var maxStudents any
	if c.MaxStudents > 0 {
		maxStudents = c.MaxStudents
	}
	return map[string]any{
		"subject":     c.Subject,
		"department":  c.Department,
		"semester":    c.Semester,
		"teacherId":   c.TeacherID,
		"teacherName": c.TeacherName,
		"schedules":   schedules,
		"maxStudents": maxStudents,
	}
}

// EncodeQR returns the merge patch storing a class QR token.
func EncodeQR(code string, generatedAt, expiresAt time.Time, imageURL string) map[string]any {
	return map[string]any{
		"qrCode":            code,
		"qrCodeGeneratedAt": millisOrNil(generatedAt),
		"qrCodeExpiresAt":   millisOrNil(expiresAt),
		"qrImageUrl":        imageURL,
	}
}

// DecodeScan builds a ScanRecord from a records document stored under path.
func DecodeScan(path, id string, data map[string]any) (ScanRecord, error) {
	f := newFields(path, id, data)
	r := ScanRecord{
		ID:                id,
		StudentID:         f.str("studentId", true),
		StudentName:       f.str("studentName", false),
		USN:               f.str("usn", false),
		Timestamp:         f.millis("timestamp", true),
		DeviceFingerprint: f.str("deviceFingerprint", false),
		ClassID:           f.str("classId", true),
		Subject:           f.str("subject", false),
	}
	return r, f.result()
}

// EncodeScan returns the stored shape of r.
func EncodeScan(r ScanRecord) map[string]any {
	return map[string]any{
		"studentId":         r.StudentID,
		"studentName":       r.StudentName,
		"usn":               r.USN,
		"timestamp":         r.Timestamp.UnixMilli(),
		"deviceFingerprint": r.DeviceFingerprint,
		"classId":           r.ClassID,
		"subject":           r.Subject,
	}
}

// DecodeStudent builds a StudentProfile from a students document.
func DecodeStudent(id string, data map[string]any) (StudentProfile, error) {
	f := newFields(Students, id, data)
	p := StudentProfile{
		ID:         id,
		FullName:   f.str("fullName", true),
		USN:        f.str("usn", true),
		Email:      f.str("email", false),
		Phone:      f.str("phone", false),
		Semester:   int(f.int64("semester", true)),
		Department: f.str("department", true),
	}
	return p, f.result()
}

// EncodeStudent returns the stored shape of p.
func EncodeStudent(p StudentProfile) map[string]any {
	return map[string]any{
		"fullName":   p.FullName,
		"usn":        p.USN,
		"email":      p.Email,
		"phone":      p.Phone,
		"semester":   p.Semester,
		"department": p.Department,
	}
}

// DecodeTeacher builds a TeacherProfile from a teachers document.
func DecodeTeacher(id string, data map[string]any) (TeacherProfile, error) {
	f := newFields(Teachers, id, data)
	p := TeacherProfile{
		ID:         id,
		FullName:   f.str("fullName", true),
		Email:      f.str("email", false),
		Phone:      f.str("phone", false),
		Department: f.str("department", false),
	}
	return p, f.result()
}

// EncodeTeacher returns the stored shape of p.
func EncodeTeacher(p TeacherProfile) map[string]any {
	return map[string]any{
		"fullName":   p.FullName,
		"email":      p.Email,
		"phone":      p.Phone,
		"department": p.Department,
	}
}

// DecodeAdmin builds an AdminProfile from an admins document.
func DecodeAdmin(id string, data map[string]any) (AdminProfile, error) {
	f := newFields(Admins, id, data)
	p := AdminProfile{
		ID:       id,
		FullName: f.str("fullName", true),
		Email:    f.str("email", false),
	}
	return p, f.result()
}

// EncodeAdmin returns the stored shape of p.
func EncodeAdmin(p AdminProfile) map[string]any {
	return map[string]any{"fullName": p.FullName, "email": p.Email}
}
