package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "1700000000", "public_id": "class-c1", "api_key": "key", "folder": ""})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=class-c1&timestamp=1700000000secret")))
	if got != want {
		t.Fatalf("sign = %s, want %s", got, want)
	}
}

func TestUploadPNG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/demo/image/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("public_id") != "class-c1" || r.FormValue("folder") != "qrattend" || r.FormValue("signature") == "" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if string(data) != "png-bytes" {
				t.Errorf("file = %q", data)
			}
		}
		_, _ = w.Write([]byte(`{"public_id":"qrattend/class-c1","secure_url":"https://res.example/qrattend/class-c1.png"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "qrattend")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	url, err := c.UploadPNG(context.Background(), []byte("png-bytes"), "class-c1")
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://res.example/qrattend/class-c1.png" {
		t.Fatalf("url = %s", url)
	}
}

func TestUploadPNGError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	if _, err := c.UploadPNG(context.Background(), []byte("x"), "class-c1"); err == nil {
		t.Fatal("expected error")
	}
	if (&Client{}).Configured() || !c.Configured() {
		t.Fatal("Configured wrong")
	}
}
