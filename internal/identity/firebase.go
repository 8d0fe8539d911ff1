package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
)

const signInEndpoint = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// Firebase registers users with the Admin SDK and signs them in through the
// Identity Toolkit REST API, which the Admin SDK does not expose.
type Firebase struct {
	client   *auth.Client
	apiKey   string
	endpoint string
	HTTP     *http.Client
}

// NewFirebase creates a provider. apiKey is the project's web API key.
func NewFirebase(client *auth.Client, apiKey string) *Firebase {
	return &Firebase{
		client:   client,
		apiKey:   apiKey,
		endpoint: signInEndpoint,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

// SignUp creates a Firebase user.
func (f *Firebase) SignUp(ctx context.Context, email, password string) (Account, error) {
	email = normalizeEmail(email)
	u, err := f.client.CreateUser(ctx, (&auth.UserToCreate{}).Email(email).Password(password))
	if auth.IsEmailAlreadyExists(err) {
		return Account{}, ErrEmailTaken
	}
	if err != nil {
		return Account{}, fmt.Errorf("firebase: create user: %w", err)
	}
	return Account{UID: u.UID, Email: u.Email}, nil
}

type signInResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn verifies the password with Firebase.
func (f *Firebase) SignIn(ctx context.Context, email, password string) (Account, error) {
	if f.apiKey == "" {
		return Account{}, errors.New("firebase: web api key not configured")
	}
	body, _ := json.Marshal(map[string]any{
		"email":             normalizeEmail(email),
		"password":          password,
		"returnSecureToken": true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint+"?key="+url.QueryEscape(f.apiKey), bytes.NewReader(body))
	if err != nil {
		return Account{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return Account{}, fmt.Errorf("firebase: sign in request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out signInResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Account{}, fmt.Errorf("firebase: decode sign in response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || out.Error != nil {
		msg := ""
		if out.Error != nil {
			msg = out.Error.Message
		}
		if resp.StatusCode == http.StatusBadRequest && isCredentialError(msg) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, fmt.Errorf("firebase: sign in failed (%d): %s", resp.StatusCode, msg)
	}
	return Account{UID: out.LocalID, Email: out.Email}, nil
}

func isCredentialError(msg string) bool {
	for _, code := range []string{"INVALID_PASSWORD", "EMAIL_NOT_FOUND", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "USER_DISABLED"} {
		if strings.HasPrefix(msg, code) {
			return true
		}
	}
	return false
}

// VerifyIDToken checks a token minted by the Firebase client SDK.
func (f *Firebase) VerifyIDToken(ctx context.Context, idToken string) (Account, error) {
	tok, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	email, _ := tok.Claims["email"].(string)
	return Account{UID: tok.UID, Email: email}, nil
}
