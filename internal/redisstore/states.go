package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/oidcstate"
	"github.com/redis/go-redis/v9"
)

// StateRepo stores login attempts with a TTL matching their lifetime.
// Consume relies on GETDEL so only one caller can ever redeem a nonce.
type StateRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

var _ oidcstate.Repo = (*StateRepo)(nil)

// NewStateRepo creates a Redis login state repo
func NewStateRepo(client redis.UniversalClient) *StateRepo {
	return &StateRepo{client: client, now: time.Now}
}

// Save stores a login attempt until it expires
func (r *StateRepo) Save(ctx context.Context, state *oidcstate.State) error {
	if state == nil || state.StateNonce == "" {
		return errors.New("[redisstore Save] state nonce is required")
	}
	ttl := state.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return errors.New("[redisstore Save] state already expired")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("[redisstore Save] failed to marshal state: %w", err)
	}
	if err := r.client.Set(ctx, stateKeyPrefix+state.StateNonce, data, ttl).Err(); err != nil {
		return fmt.Errorf("[redisstore Save] failed to store state: %w", err)
	}
	return nil
}

// Consume atomically fetches and deletes a login attempt
func (r *StateRepo) Consume(ctx context.Context, stateNonce string) (*oidcstate.State, error) {
	if stateNonce == "" {
		return nil, bfferrors.ErrInvalidState
	}

	data, err := r.client.GetDel(ctx, stateKeyPrefix+stateNonce).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, bfferrors.ErrInvalidState
		}
		return nil, fmt.Errorf("[redisstore Consume] failed to load state: %w", err)
	}

	var state oidcstate.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("[redisstore Consume] failed to unmarshal state: %w", err)
	}
	if state.IsExpired(r.now()) {
		return nil, bfferrors.ErrInvalidState
	}
	return &state, nil
}

// DeleteExpired is a no-op: Redis expires state keys on its own
func (r *StateRepo) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
