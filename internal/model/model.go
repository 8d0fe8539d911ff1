package model

import (
	"math"
	"time"
)

// Collection names in the document store.
const (
	Students = "students"
	Teachers = "teachers"
	Admins   = "admins"
	Classes  = "classes"
	Records  = "records"
)

// Role of an authenticated user; it names the profile collection holding the uid.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// Collection returns the profile collection for r.
func (r Role) Collection() string {
	switch r {
	case RoleTeacher:
		return Teachers
	case RoleAdmin:
		return Admins
	default:
		return Students
	}
}

// Schedule is one weekly recurrence of a class.
type Schedule struct {
	Day        int    `json:"day" validate:"weekday"`
	StartTime  string `json:"startTime" validate:"required,hhmm"`
	EndTime    string `json:"endTime" validate:"required,hhmm"`
	RoomNumber string `json:"roomNumber" validate:"max=32"`
}

// Weekday returns the schedule day as a time.Weekday.
func (s Schedule) Weekday() time.Weekday { return time.Weekday(s.Day) }

// ClassSession is a class owned by a teacher, with its weekly schedules and the
// QR token currently shown for it.
type ClassSession struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject" validate:"required,max=120"`
	Department  string     `json:"department" validate:"required,max=80"`
	Semester    int        `json:"semester" validate:"min=1,max=12"`
	TeacherID   string     `json:"teacherId"`
	TeacherName string     `json:"teacherName"`
	Schedules   []Schedule `json:"schedules" validate:"dive"`
	MaxStudents int        `json:"maxStudents,omitempty" validate:"min=0,max=1000"`

	QRCode            string    `json:"qrCode,omitempty"`
	QRCodeGeneratedAt time.Time `json:"qrCodeGeneratedAt,omitempty"`
	QRCodeExpiresAt   time.Time `json:"qrCodeExpiresAt,omitempty"`
	QRImageURL        string    `json:"qrImageUrl,omitempty"`
}

// ScanRecord proves a student scanned a class QR code. It is never updated.
type ScanRecord struct {
	ID                string    `json:"id"`
	StudentID         string    `json:"studentId"`
	StudentName       string    `json:"studentName"`
	USN               string    `json:"usn"`
	Timestamp         time.Time `json:"timestamp"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
	ClassID           string    `json:"classId"`
	Subject           string    `json:"subject"`
}

// StudentProfile is the per-student document; department and semester select
// the visible classes.
type StudentProfile struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName" validate:"required,max=120"`
	USN        string `json:"usn" validate:"required,alphanum,max=20"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"omitempty,e164|numeric"`
	Semester   int    `json:"semester" validate:"min=1,max=12"`
	Department string `json:"department" validate:"required,max=80"`
}

// TeacherProfile is the per-teacher document.
type TeacherProfile struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName" validate:"required,max=120"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"omitempty,e164|numeric"`
	Department string `json:"department" validate:"required,max=80"`
}

// AdminProfile is the per-admin document.
type AdminProfile struct {
	ID       string `json:"id"`
	FullName string `json:"fullName" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
}

// Status of one scheduled session for a student.
type Status string

const (
	Present Status = "Present"
	Absent  Status = "Absent"
)

// HistoryRecord is one scheduled session of a subject and whether the student
// attended it.
type HistoryRecord struct {
	ClassID   string     `json:"classId"`
	Subject   string     `json:"subject"`
	Date      string     `json:"date"`
	StartTime string     `json:"startTime"`
	EndTime   string     `json:"endTime"`
	Room      string     `json:"roomNumber,omitempty"`
	Status    Status     `json:"status"`
	MarkedAt  *time.Time `json:"markedAt,omitempty"`
}

// SubjectStat is the derived attended/total count for one subject.
type SubjectStat struct {
	Subject  string `json:"subject"`
	Attended int    `json:"attended"`
	Total    int    `json:"total"`
}

// Rate returns round(attended/total*100) clamped to [0,100], and 0 when no
// session was scheduled.
func (s SubjectStat) Rate() int {
	if s.Total <= 0 {
		return 0
	}
	r := int(math.Round(float64(s.Attended) / float64(s.Total) * 100))
	return min(max(r, 0), 100)
}
