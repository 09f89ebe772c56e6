package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"maps"
	"time"
)

const (
	// idBytes gives session ids 256 bits of entropy
	idBytes = 32
	// csrfSecretBytes is the size of the per-session CSRF key
	csrfSecretBytes = 32
)

// Session is the server side authentication state for one browser. The
// browser only ever sees ID, carried in the session cookie.
type Session struct {
	ID string `json:"id"`

	// Tokens
	AccessToken       string    `json:"access_token"`
	RefreshToken      string    `json:"refresh_token,omitempty"`
	IDToken           string    `json:"id_token,omitempty"` // raw, kept for the end-session id_token_hint
	TokenType         string    `json:"token_type,omitempty"`
	AccessTokenExpiry time.Time `json:"access_token_expiry"`

	// Identity
	Claims map[string]any `json:"claims,omitempty"`

	CSRFSecret []byte `json:"csrf_secret"`

	// Session management
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tokens is the token set produced by a code exchange or a refresh
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Expiry       time.Time
}

// IsAuthenticated reports whether the session carries tokens. A session
// without an access token is never treated as authenticated.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.ID != "" && s.AccessToken != ""
}

// IsExpired reports whether the session itself has passed its lifetime
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AccessTokenExpired reports whether the access token is expired or will be
// within skew. A zero expiry means the IdP did not send expires_in.
func (s *Session) AccessTokenExpired(now time.Time, skew time.Duration) bool {
	if s.AccessTokenExpiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.AccessTokenExpiry)
}

// ApplyTokens replaces the token set, keeping the refresh and ID tokens when
// the IdP does not rotate them.
func (s *Session) ApplyTokens(t Tokens, now time.Time) {
	s.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		s.RefreshToken = t.RefreshToken
	}
	if t.IDToken != "" {
		s.IDToken = t.IDToken
	}
	if t.TokenType != "" {
		s.TokenType = t.TokenType
	}
	s.AccessTokenExpiry = t.Expiry
	s.UpdatedAt = now
}

// Subject returns the sub claim
func (s *Session) Subject() string {
	sub, _ := s.Claims["sub"].(string)
	return sub
}

// Clone returns a deep enough copy for stores to hand out without sharing
// mutable state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Claims = maps.Clone(s.Claims)
	c.CSRFSecret = append([]byte(nil), s.CSRFSecret...)
	return &c
}

// NewID generates an opaque, unguessable session identifier
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newCSRFSecret() ([]byte, error) {
	b := make([]byte, csrfSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate csrf secret: %w", err)
	}
	return b, nil
}
