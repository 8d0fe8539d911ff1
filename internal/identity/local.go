package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"qrattend/internal/docstore"
)

// CredentialsCollection holds one document per lowercased email.
const CredentialsCollection = "credentials"

// Local keeps bcrypt password hashes in the document store.
type Local struct {
	store docstore.Store
	cost  int
}

// NewLocal creates a provider; cost <= 0 uses bcrypt.DefaultCost.
func NewLocal(store docstore.Store, cost int) *Local {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Local{store: store, cost: cost}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates a credential with a fresh uid.
func (l *Local) SignUp(ctx context.Context, email, password string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Account{}, ErrInvalidCredentials
	}
	_, err := l.store.Get(ctx, CredentialsCollection, email)
	if err == nil {
		return Account{}, ErrEmailTaken
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cost)
	if err != nil {
		return Account{}, err
	}
	acct := Account{UID: uuid.NewString(), Email: email}
	if err := l.store.Set(ctx, CredentialsCollection, email, map[string]any{
		"uid":          acct.UID,
		"email":        email,
		"passwordHash": string(hash),
	}); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// SignIn checks the password against the stored hash.
func (l *Local) SignIn(ctx context.Context, email, password string) (Account, error) {
	email = normalizeEmail(email)
	doc, err := l.store.Get(ctx, CredentialsCollection, email)
	if errors.Is(err, docstore.ErrNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	hash, _ := doc.Data["passwordHash"].(string)
	uid, _ := doc.Data["uid"].(string)
	if uid == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Account{}, ErrInvalidCredentials
	}
	return Account{UID: uid, Email: email}, nil
}
