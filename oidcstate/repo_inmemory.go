package oidcstate

import (
	"context"
	"errors"
	"sync"
	"time"

	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]*State
	now    func() time.Time
}

// Option configures an InMemoryRepo
type Option func(*InMemoryRepo)

// WithClock replaces the clock used to expire states on Consume
func WithClock(now func() time.Time) Option {
	return func(r *InMemoryRepo) {
		r.now = now
	}
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a new in-memory login state repository
func NewInMemoryRepo(opts ...Option) *InMemoryRepo {
	r := &InMemoryRepo{
		states: make(map[string]*State),
		now:    func() time.Time { return NowTimeFunc() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save stores a login attempt
func (r *InMemoryRepo) Save(_ context.Context, state *State) error {
	if state == nil {
		return errors.New("state cannot be nil")
	}
	if state.StateNonce == "" {
		return errors.New("state nonce cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Create a copy to prevent external modifications
	r.states[state.StateNonce] = copyState(state)
	return nil
}

// Consume atomically looks up and deletes a login attempt
func (r *InMemoryRepo) Consume(_ context.Context, stateNonce string) (*State, error) {
	if stateNonce == "" {
		return nil, bfferrors.ErrInvalidState
	}

	r.mu.Lock()
	state, exists := r.states[stateNonce]
	delete(r.states, stateNonce)
	r.mu.Unlock()

	if !exists || state.IsExpired(r.now()) {
		return nil, bfferrors.ErrInvalidState
	}
	return state, nil
}

// DeleteExpired removes every login attempt that timed out before now
func (r *InMemoryRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for nonce, s := range r.states {
		if s.IsExpired(now) {
			delete(r.states, nonce)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of pending login attempts
func (r *InMemoryRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func copyState(s *State) *State {
	c := *s
	c.CorrelationHash = append([]byte(nil), s.CorrelationHash...)
	return &c
}
