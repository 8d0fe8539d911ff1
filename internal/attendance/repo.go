package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"qrattend/internal/calendar"
	"qrattend/internal/docstore"
	"qrattend/internal/model"
	"qrattend/internal/qr"
)

// Repository persists attendance data in the document store. It validates the
// shape of every document it reads and returns model.DecodeError for bad ones.
type Repository struct {
	store docstore.Store
	loc   *time.Location
}

// NewRepository creates a repo. loc decides which calendar date a scan
// timestamp belongs to.
func NewRepository(store docstore.Store, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{store: store, loc: loc}
}

// Location returns the time zone used for date keys.
func (r *Repository) Location() *time.Location { return r.loc }

// ---- classes ----

// GetClass returns a class by id.
func (r *Repository) GetClass(ctx context.Context, id string) (model.ClassSession, error) {
	doc, err := r.store.Get(ctx, model.Classes, id)
	if err != nil {
		return model.ClassSession{}, fmt.Errorf("class %s: %w", id, err)
	}
	return model.DecodeClass(doc.ID, doc.Data)
}

// ClassesForTeacher lists the classes owned by teacherID.
func (r *Repository) ClassesForTeacher(ctx context.Context, teacherID string) ([]model.ClassSession, error) {
	return r.queryClasses(ctx, docstore.Eq("teacherId", teacherID))
}

// ClassesFor lists the classes visible to students of department and semester.
func (r *Repository) ClassesFor(ctx context.Context, department string, semester int) ([]model.ClassSession, error) {
	return r.queryClasses(ctx, docstore.Eq("department", department), docstore.Eq("semester", semester))
}

// ListClasses returns every class.
func (r *Repository) ListClasses(ctx context.Context) ([]model.ClassSession, error) {
	return r.queryClasses(ctx)
}

func (r *Repository) queryClasses(ctx context.Context, filters ...docstore.Filter) ([]model.ClassSession, error) {
	docs, err := r.store.Query(ctx, model.Classes, filters...)
	if err != nil {
		return nil, err
	}
	classes := make([]model.ClassSession, 0, len(docs))
	for _, d := range docs {
		c, err := model.DecodeClass(d.ID, d.Data)
		if err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, nil
}

// CreateClass stores a new class and returns it with its id.
func (r *Repository) CreateClass(ctx context.Context, c model.ClassSession) (model.ClassSession, error) {
	id, err := r.store.Add(ctx, model.Classes, model.EncodeClass(c))
	if err != nil {
		return model.ClassSession{}, err
	}
	c.ID = id
	return c, nil
}

// UpdateClass merges the editable fields of c; the QR token is left alone.
func (r *Repository) UpdateClass(ctx context.Context, c model.ClassSession) error {
	return r.store.Merge(ctx, model.Classes, c.ID, model.EncodeClass(c))
}

// DeleteClass removes a class document. Its scan records are kept.
func (r *Repository) DeleteClass(ctx context.Context, id string) error {
	return r.store.Delete(ctx, model.Classes, id)
}

// SaveQR overwrites the token stored on the class.
func (r *Repository) SaveQR(ctx context.Context, t qr.Token, imageURL string) error {
	return r.store.Merge(ctx, model.Classes, t.ClassID, model.EncodeQR(t.Code, t.GeneratedAt, t.ExpiresAt, imageURL))
}

// ---- profiles ----

// GetStudent returns a student profile by uid.
func (r *Repository) GetStudent(ctx context.Context, id string) (model.StudentProfile, error) {
	doc, err := r.store.Get(ctx, model.Students, id)
	if err != nil {
		return model.StudentProfile{}, fmt.Errorf("student %s: %w", id, err)
	}
	return model.DecodeStudent(doc.ID, doc.Data)
}

// PutStudent creates or replaces a student profile.
func (r *Repository) PutStudent(ctx context.Context, p model.StudentProfile) error {
	return r.store.Set(ctx, model.Students, p.ID, model.EncodeStudent(p))
}

// ListStudents returns every student profile.
func (r *Repository) ListStudents(ctx context.Context) ([]model.StudentProfile, error) {
	docs, err := r.store.Query(ctx, model.Students)
	if err != nil {
		return nil, err
	}
	out := make([]model.StudentProfile, 0, len(docs))
	for _, d := range docs {
		p, err := model.DecodeStudent(d.ID, d.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// GetTeacher returns a teacher profile by uid.
func (r *Repository) GetTeacher(ctx context.Context, id string) (model.TeacherProfile, error) {
	doc, err := r.store.Get(ctx, model.Teachers, id)
	if err != nil {
		return model.TeacherProfile{}, fmt.Errorf("teacher %s: %w", id, err)
	}
	return model.DecodeTeacher(doc.ID, doc.Data)
}

// PutTeacher creates or replaces a teacher profile.
func (r *Repository) PutTeacher(ctx context.Context, p model.TeacherProfile) error {
	return r.store.Set(ctx, model.Teachers, p.ID, model.EncodeTeacher(p))
}

// ListTeachers returns every teacher profile.
func (r *Repository) ListTeachers(ctx context.Context) ([]model.TeacherProfile, error) {
	docs, err := r.store.Query(ctx, model.Teachers)
	if err != nil {
		return nil, err
	}
	out := make([]model.TeacherProfile, 0, len(docs))
	for _, d := range docs {
		p, err := model.DecodeTeacher(d.ID, d.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// GetAdmin returns an admin profile by uid.
func (r *Repository) GetAdmin(ctx context.Context, id string) (model.AdminProfile, error) {
	doc, err := r.store.Get(ctx, model.Admins, id)
	if err != nil {
		return model.AdminProfile{}, fmt.Errorf("admin %s: %w", id, err)
	}
	return model.DecodeAdmin(doc.ID, doc.Data)
}

// PutAdmin creates or replaces an admin profile.
func (r *Repository) PutAdmin(ctx context.Context, p model.AdminProfile) error {
	return r.store.Set(ctx, model.Admins, p.ID, model.EncodeAdmin(p))
}

// RoleOf finds which profile collection holds uid.
func (r *Repository) RoleOf(ctx context.Context, uid string) (model.Role, error) {
	for _, role := range []model.Role{model.RoleAdmin, model.RoleTeacher, model.RoleStudent} {
		_, err := r.store.Get(ctx, role.Collection(), uid)
		if err == nil {
			return role, nil
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("profile %s: %w", uid, docstore.ErrNotFound)
}

// ---- scan records ----

// ScanCollection is the bucket holding the records of one class on one date.
func ScanCollection(classID, date string) string {
	return docstore.Join(model.Classes, classID, "attendance", date, model.Records)
}

// AppendScan writes rec into the bucket of its own timestamp's date.
func (r *Repository) AppendScan(ctx context.Context, rec model.ScanRecord) (model.ScanRecord, error) {
	date := calendar.Key(rec.Timestamp, r.loc)
	id, err := r.store.Add(ctx, ScanCollection(rec.ClassID, date), model.EncodeScan(rec))
	if err != nil {
		return model.ScanRecord{}, err
	}
	rec.ID = id
	return rec, nil
}

// ScansForClassDate returns the records of one bucket in arrival order.
func (r *Repository) ScansForClassDate(ctx context.Context, classID, date string) ([]model.ScanRecord, error) {
	docs, err := r.store.Query(ctx, ScanCollection(classID, date))
	if err != nil {
		return nil, err
	}
	return r.decodeScans(docs)
}

// StudentScanForClassDate returns the student's record in a bucket, if any.
func (r *Repository) StudentScanForClassDate(ctx context.Context, classID, date, studentID string) (*model.ScanRecord, error) {
	docs, err := r.store.Query(ctx, ScanCollection(classID, date), docstore.Eq("studentId", studentID))
	if err != nil {
		return nil, err
	}
	recs, err := r.decodeScans(docs)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// ScansForStudent returns every record of studentID across classes whose date
// lies in [from, to], in arrival order.
func (r *Repository) ScansForStudent(ctx context.Context, studentID string, from, to time.Time) ([]model.ScanRecord, error) {
	docs, err := r.store.QueryGroup(ctx, model.Records, docstore.Eq("studentId", studentID))
	if err != nil {
		return nil, err
	}
	recs, err := r.decodeScans(docs)
	if err != nil {
		return nil, err
	}
	lo, hi := from.Format(calendar.KeyLayout), to.Format(calendar.KeyLayout)
	out := recs[:0]
	for _, rec := range recs {
		if k := calendar.Key(rec.Timestamp, r.loc); k >= lo && k <= hi {
			out = append(out, rec)
		}
	}
	return out, nil
}

// WatchClassDate streams the records of one bucket until the subscription is
// stopped. Store errors are passed through; see docstore.ErrWatchEnded.
func (r *Repository) WatchClassDate(ctx context.Context, classID, date string, fn func([]model.ScanRecord, error)) (docstore.Subscription, error) {
	return r.store.Subscribe(ctx, ScanCollection(classID, date), nil, func(docs []docstore.Doc, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(r.decodeScans(docs))
	})
}

func (r *Repository) decodeScans(docs []docstore.Doc) ([]model.ScanRecord, error) {
	recs := make([]model.ScanRecord, 0, len(docs))
	for _, d := range docs {
		rec, err := model.DecodeScan(d.Collection, d.ID, d.Data)
		if err != nil {
			return nil, err
		}
		if err := r.checkBucket(d.Collection, rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	return recs, nil
}

// checkBucket enforces that a record sits under its class and timestamp date.
func (r *Repository) checkBucket(collection string, rec model.ScanRecord) error {
	parts := strings.Split(collection, "/")
	if len(parts) != 5 || parts[0] != model.Classes || parts[2] != "attendance" {
		return &model.DecodeError{Collection: collection, ID: rec.ID, Field: "path", Reason: "is not a class attendance bucket"}
	}
	if parts[1] != rec.ClassID {
		return &model.DecodeError{Collection: collection, ID: rec.ID, Field: "classId", Reason: "does not match bucket class " + parts[1]}
	}
	if date := calendar.Key(rec.Timestamp, r.loc); parts[3] != date {
		return &model.DecodeError{Collection: collection, ID: rec.ID, Field: "timestamp", Reason: "falls on " + date + ", not bucket date " + parts[3]}
	}
	return nil
}

// ---- suspicious reports ----

// SaveReport stores the heuristic result for a bucket next to its records.
func (r *Repository) SaveReport(ctx context.Context, classID, date string, rep SuspiciousReport, checkedAt time.Time) error {
	flagged := make([]any, 0, len(rep.Flagged))
	for _, f := range rep.Flagged {
		flagged = append(flagged, f.ID)
	}
	return r.store.Set(ctx, docstore.Join(model.Classes, classID, "attendance"), date, map[string]any{
		"isSuspicious":      rep.IsSuspicious,
		"flaggedRecords":    flagged,
		"summary":           rep.Summary,
		"checkedRecords":    rep.Checked,
		"maxScansPerDevice": rep.MaxPerDevice,
		"checkedAt":         checkedAt.UnixMilli(),
	})
}
