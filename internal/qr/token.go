// Package qr implements the lifecycle of the time boxed QR tokens teachers show
// in class: generation, validity checks, countdown display and image rendering.
package qr

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"qrattend/internal/model"
)

// Validity is how long a generated token is accepted.
const Validity = 10 * time.Minute

// State of a class QR token.
type State string

const (
	Absent  State = "absent"
	Active  State = "active"
	Expired State = "expired"
)

var (
	ErrNoToken       = errors.New("no QR code has been generated for this class")
	ErrTokenMismatch = errors.New("QR code is not the current code for this class")
	ErrTokenExpired  = errors.New("QR code has expired")
)

// Token is the QR code currently attached to a class.
type Token struct {
	ClassID     string    `json:"classId"`
	Code        string    `json:"token"`
	GeneratedAt time.Time `json:"generatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// New issues a fresh token for classID valid for Validity from now.
func New(classID string, now time.Time) Token {
	return Token{
		ClassID:     classID,
		Code:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		GeneratedAt: now,
		ExpiresAt:   now.Add(Validity),
	}
}

// FromClass reads the token stored on c.
func FromClass(c model.ClassSession) Token {
	return Token{ClassID: c.ID, Code: c.QRCode, GeneratedAt: c.QRCodeGeneratedAt, ExpiresAt: c.QRCodeExpiresAt}
}

// Valid reports whether now lies in [GeneratedAt, ExpiresAt). Tokens stored
// without a generation time are only bounded by their expiry.
func (t Token) Valid(now time.Time) bool {
	if t.Code == "" {
		return false
	}
	if !t.GeneratedAt.IsZero() && now.Before(t.GeneratedAt) {
		return false
	}
	return now.Before(t.ExpiresAt)
}

// State returns the lifecycle state at now.
func (t Token) State(now time.Time) State {
	switch {
	case t.Code == "":
		return Absent
	case t.Valid(now):
		return Active
	default:
		return Expired
	}
}

// Remaining returns max(0, ExpiresAt-now).
func (t Token) Remaining(now time.Time) time.Duration {
	if t.Code == "" {
		return 0
	}
	return max(t.ExpiresAt.Sub(now), 0)
}

// FormatRemaining renders d as MM:SS, dropping partial seconds.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// Check validates a presented code against the class token at now.
func Check(c model.ClassSession, presented string, now time.Time) error {
	t := FromClass(c)
	if t.Code == "" {
		return ErrNoToken
	}
	if subtle.ConstantTimeCompare([]byte(t.Code), []byte(presented)) != 1 {
		return ErrTokenMismatch
	}
	if !t.Valid(now) {
		return ErrTokenExpired
	}
	return nil
}

// ScanURL is the link encoded in the QR image.
func ScanURL(origin, classID, code string) string {
	return fmt.Sprintf("%s/student/class/%s?qr=%s",
		strings.TrimRight(origin, "/"), url.PathEscape(classID), url.QueryEscape(code))
}

// RenderPNG encodes content as a QR PNG of size pixels.
func RenderPNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = 300
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
