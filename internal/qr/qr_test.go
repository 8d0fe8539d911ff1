package qr

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"qrattend/internal/apperr"
	"qrattend/internal/docstore"
	"qrattend/internal/model"
)

var t0 = time.Date(2024, time.July, 17, 10, 0, 0, 0, time.UTC)

func TestTokenValidityWindow(t *testing.T) {
	tok := New("c1", t0)
	if tok.Code == "" || tok.ClassID != "c1" {
		t.Fatalf("bad token %+v", tok)
	}
	if got := tok.ExpiresAt.Sub(tok.GeneratedAt); got != 10*time.Minute {
		t.Fatalf("validity = %s", got)
	}

	tests := []struct {
		name  string
		at    time.Time
		valid bool
		state State
	}{
		{"at generation", t0, true, Active},
		{"before generation", t0.Add(-time.Second), false, Expired},
		{"one ns before expiry", tok.ExpiresAt.Add(-time.Nanosecond), true, Active},
		{"at expiry", tok.ExpiresAt, false, Expired},
		{"601 seconds later", t0.Add(601 * time.Second), false, Expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tok.Valid(tt.at); got != tt.valid {
				t.Fatalf("Valid = %v, want %v", got, tt.valid)
			}
			if got := tok.State(tt.at); got != tt.state {
				t.Fatalf("State = %s, want %s", got, tt.state)
			}
		})
	}
}

func TestFreshTokensDiffer(t *testing.T) {
	if New("c1", t0).Code == New("c1", t0).Code {
		t.Fatal("two generations produced the same code")
	}
}

func TestAbsentToken(t *testing.T) {
	var tok Token
	if tok.Valid(t0) || tok.State(t0) != Absent || tok.Remaining(t0) != 0 {
		t.Fatal("zero token must be absent and invalid")
	}
}

func TestLegacyTokenWithoutGeneratedAt(t *testing.T) {
	tok := Token{Code: "abc", ExpiresAt: t0.Add(time.Minute)}
	if !tok.Valid(t0) {
		t.Fatal("token without generation time should be bounded only by expiry")
	}
}

func TestRemainingAndFormat(t *testing.T) {
	tok := New("c1", t0)
	if got := tok.Remaining(t0); got != 600*time.Second {
		t.Fatalf("Remaining at generation = %s", got)
	}
	if got := FormatRemaining(tok.Remaining(t0)); got != "10:00" {
		t.Fatalf("format = %s", got)
	}
	if got := FormatRemaining(tok.Remaining(t0.Add(9*time.Minute + 5500*time.Millisecond))); got != "00:54" {
		t.Fatalf("format = %s", got)
	}
	if got := tok.Remaining(t0.Add(time.Hour)); got != 0 {
		t.Fatalf("Remaining after expiry = %s", got)
	}
	if FormatRemaining(-time.Second) != "00:00" {
		t.Fatal("negative durations format as 00:00")
	}
}

func TestCheck(t *testing.T) {
	tok := New("c1", t0)
	c := model.ClassSession{ID: "c1", QRCode: tok.Code, QRCodeGeneratedAt: tok.GeneratedAt, QRCodeExpiresAt: tok.ExpiresAt}

	if err := Check(c, tok.Code, t0); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	if err := Check(c, "old-code", t0); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("mismatch err = %v", err)
	}
	if err := Check(c, tok.Code, t0.Add(601*time.Second)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired err = %v", err)
	}
	if err := Check(model.ClassSession{ID: "c1"}, tok.Code, t0); !errors.Is(err, ErrNoToken) {
		t.Fatalf("absent err = %v", err)
	}
}

func TestScanURL(t *testing.T) {
	got := ScanURL("https://attend.example.edu/", "c 1", "a+b")
	want := "https://attend.example.edu/student/class/c%201?qr=a%2Bb"
	if got != want {
		t.Fatalf("ScanURL = %s, want %s", got, want)
	}
}

func TestRenderPNG(t *testing.T) {
	png, err := RenderPNG(ScanURL("http://localhost", "c1", "tok"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("output is not a PNG")
	}
}

type fakeClasses struct {
	classes map[string]model.ClassSession
	saveErr error
	saved   []Token
}

func (f *fakeClasses) GetClass(_ context.Context, id string) (model.ClassSession, error) {
	c, ok := f.classes[id]
	if !ok {
		return model.ClassSession{}, docstore.ErrNotFound
	}
	return c, nil
}

func (f *fakeClasses) SaveQR(_ context.Context, tok Token, imageURL string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	c := f.classes[tok.ClassID]
	c.QRCode, c.QRCodeGeneratedAt, c.QRCodeExpiresAt, c.QRImageURL = tok.Code, tok.GeneratedAt, tok.ExpiresAt, imageURL
	f.classes[tok.ClassID] = c
	f.saved = append(f.saved, tok)
	return nil
}

type fakeHost struct{ uploads int }

func (h *fakeHost) UploadPNG(_ context.Context, data []byte, publicID string) (string, error) {
	h.uploads++
	return "https://img.example/" + publicID + ".png", nil
}

func TestManagerGenerateReplacesToken(t *testing.T) {
	store := &fakeClasses{classes: map[string]model.ClassSession{"c1": {ID: "c1", TeacherID: "t1"}}}
	host := &fakeHost{}
	now := t0
	m := NewManager(store, host, "https://attend.example.edu", nil).WithClock(func() time.Time { return now })
	ctx := context.Background()

	first, err := m.Generate(ctx, "c1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if first.State != Active || first.Remaining != "10:00" || first.ImageURL == "" || host.uploads != 1 {
		t.Fatalf("first status = %+v", first)
	}

	now = t0.Add(2 * time.Minute)
	second, err := m.Generate(ctx, "c1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if second.Token == first.Token {
		t.Fatal("regeneration kept the old token")
	}
	if err := Check(store.classes["c1"], first.Token, now); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("superseded token err = %v", err)
	}

	cur, err := m.Current(ctx, "c1", "t1")
	if err != nil || cur.Token != second.Token || cur.Remaining != "10:00" {
		t.Fatalf("Current = %+v, %v", cur, err)
	}

	now = t0.Add(time.Hour)
	cur, _ = m.Current(ctx, "c1", "t1")
	if cur.State != Expired || cur.Token != "" || cur.Remaining != "00:00" {
		t.Fatalf("expired status = %+v", cur)
	}
	if _, err := m.URL(ctx, "c1", "t1"); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("URL for expired token err = %v", err)
	}
}

func TestManagerErrors(t *testing.T) {
	store := &fakeClasses{classes: map[string]model.ClassSession{"c1": {ID: "c1", TeacherID: "t1"}}}
	m := NewManager(store, nil, "http://localhost", nil).WithClock(func() time.Time { return t0 })
	ctx := context.Background()

	if _, err := m.Generate(ctx, "nope", "t1"); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("missing class err = %v", err)
	}
	if _, err := m.Generate(ctx, "c1", "t2"); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("foreign class err = %v", err)
	}

	store.saveErr = errors.New("write timeout")
	_, err := m.Generate(ctx, "c1", "t1")
	if apperr.KindOf(err) != apperr.Unavailable || apperr.Message(err) != "could not generate QR code" {
		t.Fatalf("save failure err = %v", err)
	}
	if len(store.saved) != 0 {
		t.Fatal("failed generation must not be retried")
	}
}
