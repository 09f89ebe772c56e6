package sessions

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithClock replaces the clock used for session expiry. The OIDC engine and
// the sweeper read the manager's clock, so one override moves them all.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the session lifecycle on top of a Repo and serialises every
// mutation of a session behind a per-session lock.
type Manager struct {
	repo     Repo
	locks    *KeyedMutex
	lifetime time.Duration
	now      func() time.Time
}

// NewManager creates a session manager. lifetime is the absolute session
// lifetime counted from creation.
func NewManager(repo Repo, lifetime time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:     repo,
		locks:    NewKeyedMutex(),
		lifetime: lifetime,
		now:      func() time.Time { return NowTimeFunc() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the manager's current time
func (m *Manager) Now() time.Time {
	return m.now()
}

// Create builds and stores a new authenticated session
func (m *Manager) Create(ctx context.Context, tokens Tokens, claims map[string]any) (*Session, error) {
	if tokens.AccessToken == "" {
		return nil, errors.New("[sessions Create] access token is required")
	}
	id, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("[sessions Create] %w", err)
	}
	secret, err := newCSRFSecret()
	if err != nil {
		return nil, fmt.Errorf("[sessions Create] %w", err)
	}

	now := m.now()
	s := &Session{
		ID:         id,
		Claims:     maps.Clone(claims),
		CSRFSecret: secret,
		ExpiresAt:  now.Add(m.lifetime),
		CreatedAt:  now,
	}
	s.ApplyTokens(tokens, now)

	if err := m.repo.Upsert(ctx, s); err != nil {
		return nil, fmt.Errorf("[sessions Create] failed to store session: %w", err)
	}
	return s, nil
}

// Get returns a live authenticated session. Missing, expired and token-less
// sessions all report ErrSessionNotFound; expired ones are removed lazily.
// The access token may still be expired; refreshing it is the caller's job.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, bfferrors.ErrSessionNotFound
	}
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, bfferrors.ErrSessionNotFound) {
			return nil, bfferrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("[sessions Get] %w", err)
	}
	if s.IsExpired(m.now()) {
		_ = m.repo.Delete(ctx, sessionID)
		return nil, bfferrors.ErrSessionNotFound
	}
	if !s.IsAuthenticated() {
		return nil, bfferrors.ErrSessionNotFound
	}
	return s, nil
}

// Save stores an updated session. Callers mutating an existing session
// should do so inside WithLock.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if err := m.repo.Upsert(ctx, s); err != nil {
		return fmt.Errorf("[sessions Save] %w", err)
	}
	return nil
}

// Delete removes a session
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("[sessions Delete] %w", err)
	}
	return nil
}

// WithLock runs fn while holding the exclusive lock for sessionID. Other
// sessions are never blocked by it.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	unlock, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("[sessions WithLock] %w", err)
	}
	defer unlock()
	return fn(ctx)
}

// CleanupExpired removes all expired sessions from the repo
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.repo.DeleteExpired(ctx, m.now())
}

// GetLifetime returns the absolute session lifetime
func (m *Manager) GetLifetime() time.Duration {
	return m.lifetime
}
