// Command adduser creates an admin account. Admins cannot sign up through the
// API, so the first one (and any later one) is seeded here.
//
//	adduser -email admin@college.edu -password 's3cret' -name 'Registrar'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/bootstrap"
	"qrattend/internal/config"
	"qrattend/internal/identity"
	"qrattend/internal/logging"
	"qrattend/internal/model"
)

func main() {
	email := flag.String("email", "", "admin email (required)")
	password := flag.String("password", "", "admin password (required)")
	name := flag.String("name", "Administrator", "display name")
	flag.Parse()

	if *email == "" || *password == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logging.Must(cfg.Env).Named("adduser")
	defer func() { _ = log.Sync() }()

	if cfg.StoreBackend == "memory" {
		log.Fatal("STORE_BACKEND=memory keeps nothing after this command exits; point it at firestore or postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backends, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("open backends", zap.Error(err))
	}
	defer func() { _ = backends.Close() }()

	svc := attendance.NewService(attendance.NewRepository(backends.Store, cfg.Location), attendance.Options{Logger: log})
	uid, err := addAdmin(ctx, backends.Identity, svc, *email, *password, *name)
	if err != nil {
		_ = backends.Close()
		log.Fatal("add admin failed", zap.Error(err))
	}
	fmt.Printf("admin %s ready (uid %s)\n", *email, uid)
}

// addAdmin creates the identity and the admin profile. An existing account is
// promoted when the password matches.
func addAdmin(ctx context.Context, ids identity.Provider, svc *attendance.Service, email, password, name string) (string, error) {
	profile := model.AdminProfile{ID: "pending", FullName: name, Email: email}
	if err := model.Validate(profile); err != nil {
		return "", err
	}

	acct, err := ids.SignUp(ctx, email, password)
	if errors.Is(err, identity.ErrEmailTaken) {
		acct, err = ids.SignIn(ctx, email, password)
	}
	if err != nil {
		return "", fmt.Errorf("account for %s: %w", email, err)
	}

	profile.ID = acct.UID
	if err := svc.SaveAdminProfile(ctx, profile); err != nil {
		return "", err
	}
	return acct.UID, nil
}
