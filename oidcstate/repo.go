package oidcstate

import (
	"context"
	"time"
)

// State is the transient record of one login attempt. It lives between the
// redirect to the IdP and the callback, and is keyed by StateNonce.
type State struct {
	StateNonce   string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
	OIDCNonce    string `json:"nonce"`
	RedirectTo   string `json:"redirect_to"`
	// CorrelationHash is the SHA-256 of the correlation cookie value that
	// binds this attempt to the browser that started it.
	CorrelationHash []byte    `json:"correlation_hash"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// IsExpired reports whether the login attempt has timed out
func (s *State) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Repo stores login attempts. Consume must be an atomic check-and-delete so
// a state nonce can be redeemed at most once.
type Repo interface {
	Save(ctx context.Context, state *State) error
	// Consume removes and returns the state. Unknown, already consumed and
	// expired states all fail with errors.ErrInvalidState.
	Consume(ctx context.Context, stateNonce string) (*State, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
