// Package credential resolves the bearer credential used to talk to the object store.
package credential

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Errors.
var (
	// ErrNotConnected means no session or token is available.
	ErrNotConnected = errors.New("not connected: no credential for the target store")

	// ErrExpired means the credential is present but no longer accepted.
	// Callers must re-authenticate; requests are never retried with it.
	ErrExpired = errors.New("credential expired: reconnect required")
)

// Accessor resolves a credential from a session-backed token source.
// It never caches: every call asks the source, which may refresh.
type Accessor struct {
	src oauth2.TokenSource
}

// NewAccessor returns an Accessor reading from src. A nil src always reports ErrNotConnected.
func NewAccessor(src oauth2.TokenSource) *Accessor {
	return &Accessor{src: src}
}

// Credential returns a valid token or ErrNotConnected / ErrExpired.
func (a *Accessor) Credential() (*oauth2.Token, error) {
	if a == nil || a.src == nil {
		return nil, ErrNotConnected
	}

	tok, err := a.src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrNotConnected
	}
	if !tok.Valid() {
		return nil, ErrExpired
	}

	return tok, nil
}

// Static returns a token source for a fixed bearer token, e.g. from config or the environment.
// A zero expiry means the token does not expire locally; the server may still reject it.
func Static(token string, expiry time.Time) oauth2.TokenSource {
	if token == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      expiry,
	})
}

// IsAuthError reports whether err is a credential failure that requires reconnecting.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrExpired)
}
