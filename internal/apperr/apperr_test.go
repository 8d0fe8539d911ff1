package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Unavailable, "could not fetch class", cause)
	if !errors.Is(err, cause) {
		t.Fatal("wrapped error lost its cause")
	}
	if KindOf(err) != Unavailable {
		t.Fatalf("kind = %s", KindOf(err))
	}
	if Message(err) != "could not fetch class" {
		t.Fatalf("message = %q", Message(err))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(NotFound, "x", nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
}

func TestKindOfForeignError(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(Forbidden, "not your class"))
	if KindOf(err) != Forbidden {
		t.Fatalf("kind = %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != Unavailable {
		t.Fatal("plain errors map to unavailable")
	}
	if Message(errors.New("plain")) != "internal error" {
		t.Fatal("plain errors must not leak their text")
	}
}
