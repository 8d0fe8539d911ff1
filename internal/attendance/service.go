package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"qrattend/internal/apperr"
	"qrattend/internal/calendar"
	"qrattend/internal/docstore"
	"qrattend/internal/metrics"
	"qrattend/internal/model"
	"qrattend/internal/qr"
	"qrattend/internal/queue"
)

// Options configures a Service.
type Options struct {
	SemesterStart     time.Time
	Policy            MatchPolicy
	SuspiciousWindow  time.Duration
	MaxScansPerDevice int
	// Events receives a message per accepted scan; nil disables publishing.
	Events queue.Publisher
	Logger *zap.Logger
	Now    func() time.Time
}

// Service coordinates scans, class management and the derived reports.
type Service struct {
	repo *Repository
	opts Options
	log  *zap.Logger
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxScansPerDevice <= 0 {
		opts.MaxScansPerDevice = DefaultMaxScansPerDevice
	}
	return &Service{repo: repo, opts: opts, log: opts.Logger}
}

// Today returns the current date key.
func (s *Service) Today() string {
	return calendar.Key(s.opts.Now(), s.repo.Location())
}

// storeErr classifies a repository error for callers.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, what+" not found", err)
	}
	var de *model.DecodeError
	if errors.As(err, &de) {
		return apperr.Wrap(apperr.Unavailable, "stored data is malformed", err)
	}
	return apperr.Wrap(apperr.Unavailable, "could not load "+what, err)
}

// ---- profiles ----

// RoleOf resolves the role of an authenticated uid.
func (s *Service) RoleOf(ctx context.Context, uid string) (model.Role, error) {
	role, err := s.repo.RoleOf(ctx, uid)
	return role, storeErr(err, "profile")
}

// StudentProfile returns the student's own profile.
func (s *Service) StudentProfile(ctx context.Context, id string) (model.StudentProfile, error) {
	p, err := s.repo.GetStudent(ctx, id)
	return p, storeErr(err, "student profile")
}

// SaveStudentProfile validates and stores p. It creates the profile on sign-up.
func (s *Service) SaveStudentProfile(ctx context.Context, p model.StudentProfile) error {
	p.USN = strings.ToUpper(strings.TrimSpace(p.USN))
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if err := model.Validate(p); err != nil {
		return apperr.Wrap(apperr.Validation, err.Error(), err)
	}
	if err := s.repo.PutStudent(ctx, p); err != nil {
		return apperr.Wrap(apperr.Unavailable, "could not save profile", err)
	}
	return nil
}

// TeacherProfile returns a teacher's profile.
func (s *Service) TeacherProfile(ctx context.Context, id string) (model.TeacherProfile, error) {
	p, err := s.repo.GetTeacher(ctx, id)
	return p, storeErr(err, "teacher profile")
}

// SaveTeacherProfile validates and stores p.
func (s *Service) SaveTeacherProfile(ctx context.Context, p model.TeacherProfile) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if err := model.Validate(p); err != nil {
		return apperr.Wrap(apperr.Validation, err.Error(), err)
	}
	if err := s.repo.PutTeacher(ctx, p); err != nil {
		return apperr.Wrap(apperr.Unavailable, "could not save profile", err)
	}
	return nil
}

// AdminProfile returns an admin's profile.
func (s *Service) AdminProfile(ctx context.Context, id string) (model.AdminProfile, error) {
	p, err := s.repo.GetAdmin(ctx, id)
	return p, storeErr(err, "admin profile")
}

// SaveAdminProfile validates and stores p.
func (s *Service) SaveAdminProfile(ctx context.Context, p model.AdminProfile) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if err := model.Validate(p); err != nil {
		return apperr.Wrap(apperr.Validation, err.Error(), err)
	}
	if err := s.repo.PutAdmin(ctx, p); err != nil {
		return apperr.Wrap(apperr.Unavailable, "could not save profile", err)
	}
	return nil
}

// ListStudents returns every student; admin only.
func (s *Service) ListStudents(ctx context.Context) ([]model.StudentProfile, error) {
	out, err := s.repo.ListStudents(ctx)
	return out, storeErr(err, "students")
}

// ListTeachers returns every teacher; admin only.
func (s *Service) ListTeachers(ctx context.Context) ([]model.TeacherProfile, error) {
	out, err := s.repo.ListTeachers(ctx)
	return out, storeErr(err, "teachers")
}

// ListClasses returns every class; admin only.
func (s *Service) ListClasses(ctx context.Context) ([]model.ClassSession, error) {
	out, err := s.repo.ListClasses(ctx)
	return out, storeErr(err, "classes")
}

// ---- student side ----

// ClassesForStudent lists the classes of the student's department and semester.
func (s *Service) ClassesForStudent(ctx context.Context, studentID string) ([]model.ClassSession, error) {
	p, err := s.StudentProfile(ctx, studentID)
	if err != nil {
		return nil, err
	}
	classes, err := s.repo.ClassesFor(ctx, p.Department, p.Semester)
	return classes, storeErr(err, "classes")
}

// StudentReport derives the student's per-subject stats and session history.
// A student without classes gets an empty report.
func (s *Service) StudentReport(ctx context.Context, studentID string) (Report, error) {
	classes, err := s.ClassesForStudent(ctx, studentID)
	if err != nil {
		return Report{}, err
	}
	today := calendar.DayOf(s.opts.Now(), s.repo.Location())
	scans, err := s.repo.ScansForStudent(ctx, studentID, s.opts.SemesterStart, today)
	if err != nil {
		return Report{}, storeErr(err, "attendance records")
	}
	return Aggregate(classes, scans, s.opts.SemesterStart, today, s.repo.Location(), s.opts.Policy), nil
}

// ScanRequest is what a student's device submits after reading a class code.
type ScanRequest struct {
	StudentID         string
	ClassID           string
	Token             string
	DeviceFingerprint string
}

// Scan records the student's attendance for the class today.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (model.ScanRecord, error) {
	rec, err := s.scan(ctx, req)
	result := "accepted"
	switch apperr.KindOf(err) {
	case apperr.Conflict:
		result = "duplicate"
	case apperr.Validation, apperr.Forbidden, apperr.NotFound:
		result = "rejected"
	}
	if err != nil {
		if result == "accepted" {
			result = "error"
		}
		s.log.Info("scan refused", zap.String("class_id", req.ClassID), zap.String("student_id", req.StudentID), zap.String("result", result), zap.Error(err))
	}
	metrics.Scans.WithLabelValues(result).Inc()
	return rec, err
}

func (s *Service) scan(ctx context.Context, req ScanRequest) (model.ScanRecord, error) {
	if strings.TrimSpace(req.Token) == "" {
		return model.ScanRecord{}, apperr.New(apperr.Validation, "QR code is required")
	}
	now := s.opts.Now()

	class, err := s.repo.GetClass(ctx, req.ClassID)
	if err != nil {
		return model.ScanRecord{}, storeErr(err, "class")
	}
	switch err := qr.Check(class, req.Token, now); {
	case errors.Is(err, qr.ErrNoToken):
		return model.ScanRecord{}, apperr.Wrap(apperr.Validation, "no active QR code for this class", err)
	case errors.Is(err, qr.ErrTokenExpired):
		return model.ScanRecord{}, apperr.Wrap(apperr.Validation, "QR code has expired", err)
	case err != nil:
		return model.ScanRecord{}, apperr.Wrap(apperr.Validation, "invalid QR code", err)
	}

	student, err := s.StudentProfile(ctx, req.StudentID)
	if err != nil {
		return model.ScanRecord{}, err
	}
	if student.Department != class.Department || student.Semester != class.Semester {
		return model.ScanRecord{}, apperr.New(apperr.Forbidden, "you are not enrolled in this class")
	}

	date := calendar.Key(now, s.repo.Location())
	prev, err := s.repo.StudentScanForClassDate(ctx, class.ID, date, student.ID)
	if err != nil {
		return model.ScanRecord{}, storeErr(err, "attendance records")
	}
	if prev != nil {
		return *prev, apperr.New(apperr.Conflict, "attendance already marked for today")
	}
	if class.MaxStudents > 0 {
		existing, err := s.repo.ScansForClassDate(ctx, class.ID, date)
		if err != nil {
			return model.ScanRecord{}, storeErr(err, "attendance records")
		}
		if len(existing) >= class.MaxStudents {
			return model.ScanRecord{}, apperr.New(apperr.Conflict, "class is full")
		}
	}

	rec, err := s.repo.AppendScan(ctx, model.ScanRecord{
		StudentID:         student.ID,
		StudentName:       student.FullName,
		USN:               student.USN,
		Timestamp:         now,
		DeviceFingerprint: req.DeviceFingerprint,
		ClassID:           class.ID,
		Subject:           class.Subject,
	})
	if err != nil {
		return model.ScanRecord{}, apperr.Wrap(apperr.Unavailable, "could not record attendance", err)
	}
	s.log.Info("scan recorded", zap.String("class_id", class.ID), zap.String("student_id", student.ID), zap.String("date", date))

	if s.opts.Events != nil {
		msg, err := queue.NewScanMessage(queue.ScanEvent{ClassID: class.ID, Date: date, RecordID: rec.ID})
		if err == nil {
			err = s.opts.Events.Publish(ctx, msg)
		}
		if err != nil {
			s.log.Warn("publish scan event failed", zap.String("class_id", class.ID), zap.Error(err))
		}
	}
	return rec, nil
}

// ---- teacher side ----

// TeacherClasses lists the classes owned by teacherID.
func (s *Service) TeacherClasses(ctx context.Context, teacherID string) ([]model.ClassSession, error) {
	out, err := s.repo.ClassesForTeacher(ctx, teacherID)
	return out, storeErr(err, "classes")
}

// TeacherClass returns one class if teacherID owns it.
func (s *Service) TeacherClass(ctx context.Context, teacherID, classID string) (model.ClassSession, error) {
	c, err := s.repo.GetClass(ctx, classID)
	if err != nil {
		return model.ClassSession{}, storeErr(err, "class")
	}
	if c.TeacherID != teacherID {
		return model.ClassSession{}, apperr.New(apperr.Forbidden, "class belongs to another teacher")
	}
	return c, nil
}

// CreateClass validates c and stores it owned by teacherID.
func (s *Service) CreateClass(ctx context.Context, teacherID string, c model.ClassSession) (model.ClassSession, error) {
	teacher, err := s.TeacherProfile(ctx, teacherID)
	if err != nil {
		return model.ClassSession{}, err
	}
	c.ID = ""
	c.TeacherID, c.TeacherName = teacher.ID, teacher.FullName
	c.QRCode, c.QRImageURL = "", ""
	c.QRCodeGeneratedAt, c.QRCodeExpiresAt = time.Time{}, time.Time{}
	if err := model.Validate(c); err != nil {
		return model.ClassSession{}, apperr.Wrap(apperr.Validation, err.Error(), err)
	}
	created, err := s.repo.CreateClass(ctx, c)
	if err != nil {
		return model.ClassSession{}, apperr.Wrap(apperr.Unavailable, "could not create class", err)
	}
	s.log.Info("class created", zap.String("class_id", created.ID), zap.String("teacher_id", teacherID))
	return created, nil
}

// UpdateClass replaces the editable fields of an owned class. The QR token is kept.
func (s *Service) UpdateClass(ctx context.Context, teacherID string, c model.ClassSession) (model.ClassSession, error) {
	cur, err := s.TeacherClass(ctx, teacherID, c.ID)
	if err != nil {
		return model.ClassSession{}, err
	}
	c.TeacherID, c.TeacherName = cur.TeacherID, cur.TeacherName
	c.QRCode, c.QRCodeGeneratedAt, c.QRCodeExpiresAt, c.QRImageURL = cur.QRCode, cur.QRCodeGeneratedAt, cur.QRCodeExpiresAt, cur.QRImageURL
	if err := model.Validate(c); err != nil {
		return model.ClassSession{}, apperr.Wrap(apperr.Validation, err.Error(), err)
	}
	if err := s.repo.UpdateClass(ctx, c); err != nil {
		return model.ClassSession{}, storeErr(err, "class")
	}
	return c, nil
}

// DeleteClass removes an owned class.
func (s *Service) DeleteClass(ctx context.Context, teacherID, classID string) error {
	if _, err := s.TeacherClass(ctx, teacherID, classID); err != nil {
		return err
	}
	if err := s.repo.DeleteClass(ctx, classID); err != nil {
		return apperr.Wrap(apperr.Unavailable, "could not delete class", err)
	}
	s.log.Info("class deleted", zap.String("class_id", classID), zap.String("teacher_id", teacherID))
	return nil
}

func checkDate(date string) error {
	if _, err := calendar.ParseKey(date); err != nil {
		return apperr.Wrap(apperr.Validation, "date must be YYYY-MM-DD", err)
	}
	return nil
}

// ClassAttendance returns the records of an owned class on date.
func (s *Service) ClassAttendance(ctx context.Context, teacherID, classID, date string) ([]model.ScanRecord, error) {
	if err := checkDate(date); err != nil {
		return nil, err
	}
	if _, err := s.TeacherClass(ctx, teacherID, classID); err != nil {
		return nil, err
	}
	recs, err := s.repo.ScansForClassDate(ctx, classID, date)
	return recs, storeErr(err, "attendance records")
}

// Suspicious runs the device heuristic over an owned class's records on date.
func (s *Service) Suspicious(ctx context.Context, teacherID, classID, date string) (SuspiciousReport, error) {
	recs, err := s.ClassAttendance(ctx, teacherID, classID, date)
	if err != nil {
		return SuspiciousReport{}, err
	}
	return DetectSuspicious(recs, s.opts.SuspiciousWindow, s.opts.MaxScansPerDevice), nil
}

// WatchToday streams today's records of an owned class to fn until the
// returned subscription is stopped. The caller must stop it.
func (s *Service) WatchToday(ctx context.Context, teacherID, classID string, fn func([]model.ScanRecord, error)) (docstore.Subscription, error) {
	if _, err := s.TeacherClass(ctx, teacherID, classID); err != nil {
		return nil, err
	}
	sub, err := s.repo.WatchClassDate(ctx, classID, s.Today(), fn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "could not watch attendance", err)
	}
	return sub, nil
}

// ---- background checks ----

// CheckBucket runs the heuristic over one class/date bucket and stores the result.
func (s *Service) CheckBucket(ctx context.Context, classID, date string) (SuspiciousReport, error) {
	if err := checkDate(date); err != nil {
		return SuspiciousReport{}, err
	}
	recs, err := s.repo.ScansForClassDate(ctx, classID, date)
	if err != nil {
		return SuspiciousReport{}, storeErr(err, "attendance records")
	}
	rep := DetectSuspicious(recs, s.opts.SuspiciousWindow, s.opts.MaxScansPerDevice)
	if err := s.repo.SaveReport(ctx, classID, date, rep, s.opts.Now()); err != nil {
		return rep, apperr.Wrap(apperr.Unavailable, "could not save suspicious report", err)
	}
	if rep.IsSuspicious {
		metrics.SuspiciousFlagged.Add(float64(len(rep.Flagged)))
		s.log.Warn("suspicious scans", zap.String("class_id", classID), zap.String("date", date), zap.Int("flagged", len(rep.Flagged)))
	}
	return rep, nil
}

// SweepToday checks today's bucket of every class. It keeps going past
// individual failures and returns how many buckets were checked.
func (s *Service) SweepToday(ctx context.Context) (int, error) {
	classes, err := s.repo.ListClasses(ctx)
	if err != nil {
		return 0, storeErr(err, "classes")
	}
	date := s.Today()
	checked := 0
	for _, c := range classes {
		if ctx.Err() != nil {
			return checked, ctx.Err()
		}
		if _, err := s.CheckBucket(ctx, c.ID, date); err != nil {
			s.log.Error("sweep bucket failed", zap.String("class_id", c.ID), zap.String("date", date), zap.Error(err))
			continue
		}
		checked++
	}
	return checked, nil
}
