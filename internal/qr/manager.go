package qr

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"qrattend/internal/apperr"
	"qrattend/internal/docstore"
	"qrattend/internal/metrics"
	"qrattend/internal/model"
)

// ClassStore loads classes and persists their QR token.
type ClassStore interface {
	GetClass(ctx context.Context, id string) (model.ClassSession, error)
	SaveQR(ctx context.Context, t Token, imageURL string) error
}

// ImageHost publishes rendered QR images and returns their public URL.
type ImageHost interface {
	UploadPNG(ctx context.Context, data []byte, publicID string) (string, error)
}

// Status is what the teacher's projector view shows.
type Status struct {
	State     State     `json:"state"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Remaining string    `json:"remaining"`
	URL       string    `json:"url,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
}

// Manager issues tokens for classes owned by the calling teacher. Only the
// owning teacher regenerates a class token, so writes are not coordinated.
type Manager struct {
	classes ClassStore
	host    ImageHost
	origin  string
	now     func() time.Time
	log     *zap.Logger
}

// NewManager creates a manager. host may be nil when images are not published.
func NewManager(classes ClassStore, host ImageHost, origin string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{classes: classes, host: host, origin: origin, now: time.Now, log: log}
}

// WithClock replaces the time source; used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Generate replaces the class token with a fresh one valid for Validity.
func (m *Manager) Generate(ctx context.Context, classID, teacherID string) (Status, error) {
	c, err := m.ownedClass(ctx, classID, teacherID)
	if err != nil {
		return Status{}, err
	}

	t := New(c.ID, m.now())
	url := ScanURL(m.origin, c.ID, t.Code)

	var imageURL string
	if m.host != nil {
		if png, err := RenderPNG(url, 512); err != nil {
			m.log.Warn("render qr failed", zap.String("class_id", c.ID), zap.Error(err))
		} else if imageURL, err = m.host.UploadPNG(ctx, png, "class-"+c.ID); err != nil {
			m.log.Warn("publish qr image failed", zap.String("class_id", c.ID), zap.Error(err))
			imageURL = ""
		}
	}

	if err := m.classes.SaveQR(ctx, t, imageURL); err != nil {
		m.log.Error("save qr failed", zap.String("class_id", c.ID), zap.Error(err))
		return Status{}, apperr.Wrap(apperr.Unavailable, "could not generate QR code", err)
	}
	metrics.QRGenerated.Inc()
	m.log.Info("qr generated", zap.String("class_id", c.ID), zap.Time("expires_at", t.ExpiresAt))

	c.QRCode, c.QRCodeGeneratedAt, c.QRCodeExpiresAt, c.QRImageURL = t.Code, t.GeneratedAt, t.ExpiresAt, imageURL
	return m.status(c), nil
}

// Current reports the class token state for its owner.
func (m *Manager) Current(ctx context.Context, classID, teacherID string) (Status, error) {
	c, err := m.ownedClass(ctx, classID, teacherID)
	if err != nil {
		return Status{}, err
	}
	return m.status(c), nil
}

// URL returns the scan link for the class token, or ErrNoToken.
func (m *Manager) URL(ctx context.Context, classID, teacherID string) (string, error) {
	c, err := m.ownedClass(ctx, classID, teacherID)
	if err != nil {
		return "", err
	}
	if !FromClass(c).Valid(m.now()) {
		return "", apperr.New(apperr.NotFound, "no active QR code for this class")
	}
	return ScanURL(m.origin, c.ID, c.QRCode), nil
}

func (m *Manager) status(c model.ClassSession) Status {
	now := m.now()
	t := FromClass(c)
	st := Status{State: t.State(now), Remaining: FormatRemaining(t.Remaining(now))}
	if st.State == Active {
		st.Token = t.Code
		st.ExpiresAt = t.ExpiresAt
		st.URL = ScanURL(m.origin, c.ID, t.Code)
		st.ImageURL = c.QRImageURL
	}
	return st
}

func (m *Manager) ownedClass(ctx context.Context, classID, teacherID string) (model.ClassSession, error) {
	c, err := m.classes.GetClass(ctx, classID)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.ClassSession{}, apperr.Wrap(apperr.NotFound, "class not found", err)
	}
	if err != nil {
		return model.ClassSession{}, apperr.Wrap(apperr.Unavailable, "could not fetch class", err)
	}
	if c.TeacherID != teacherID {
		return model.ClassSession{}, apperr.New(apperr.Forbidden, "class belongs to another teacher")
	}
	return c, nil
}
