package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/docstore"
	"qrattend/internal/identity"
	"qrattend/internal/model"
)

func TestAddAdmin(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	ids := identity.NewLocal(store, 4)
	svc := attendance.NewService(attendance.NewRepository(store, time.UTC), attendance.Options{})

	uid, err := addAdmin(ctx, ids, svc, "Admin@College.edu", "s3cret", "Registrar")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	role, err := svc.RoleOf(ctx, uid)
	if err != nil || role != model.RoleAdmin {
		t.Fatalf("role = %q, %v", role, err)
	}

	// running again with the same password promotes the existing account
	again, err := addAdmin(ctx, ids, svc, "admin@college.edu", "s3cret", "Registrar")
	if err != nil || again != uid {
		t.Fatalf("rerun uid = %q, %v", again, err)
	}

	if _, err := addAdmin(ctx, ids, svc, "admin@college.edu", "wrong", "Registrar"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := addAdmin(ctx, ids, svc, "not-an-email", "pw", "X"); err == nil {
		t.Fatal("invalid email must be rejected")
	}
}
