// Package identity creates and checks user credentials. Profiles live in the
// document store keyed by the uid issued here.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("identity: invalid email or password")
	// ErrEmailTaken is returned by SignUp when the email already has an account.
	ErrEmailTaken = errors.New("identity: email already registered")
	// ErrInvalidToken is returned by VerifyIDToken for a bad external token.
	ErrInvalidToken = errors.New("identity: invalid id token")
)

// Account is an authenticated user.
type Account struct {
	UID   string
	Email string
}

// Provider registers and authenticates email/password users.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (Account, error)
	SignIn(ctx context.Context, email, password string) (Account, error)
}

// TokenVerifier checks ID tokens issued by an external identity service.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (Account, error)
}
