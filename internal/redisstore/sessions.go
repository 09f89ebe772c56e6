package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SessionRepo stores sessions as sealed JSON blobs. Keys expire with the
// session, so DeleteExpired has nothing to do.
type SessionRepo struct {
	client redis.UniversalClient
	sealer *sessions.Sealer
	now    func() time.Time
}

var _ sessions.Repo = (*SessionRepo)(nil)

// NewSessionRepo creates a Redis session repo. Every session is encrypted
// with sealer before it leaves the process.
func NewSessionRepo(client redis.UniversalClient, sealer *sessions.Sealer) *SessionRepo {
	return &SessionRepo{
		client: client,
		sealer: sealer,
		now:    time.Now,
	}
}

// Upsert creates or updates a session
func (r *SessionRepo) Upsert(ctx context.Context, session *sessions.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("[redisstore Upsert] session id is required")
	}

	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.Delete(ctx, session.ID)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("[redisstore Upsert] failed to marshal session: %w", err)
	}
	sealed, err := r.sealer.Seal(session.ID, data)
	if err != nil {
		return fmt.Errorf("[redisstore Upsert] %w", err)
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+session.ID, sealed, ttl).Err(); err != nil {
		return fmt.Errorf("[redisstore Upsert] failed to store session: %w", err)
	}
	return nil
}

// Get retrieves a session. A blob that fails to unseal, for example after
// the session secret was rotated, is reported as not found.
func (r *SessionRepo) Get(ctx context.Context, sessionID string) (*sessions.Session, error) {
	if sessionID == "" {
		return nil, bfferrors.ErrSessionNotFound
	}

	sealed, err := r.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, bfferrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("[redisstore Get] failed to load session: %w", err)
	}

	data, err := r.sealer.Open(sessionID, sealed)
	if err != nil {
		log.Warn().Msg("discarding session that could not be unsealed")
		_ = r.client.Del(ctx, sessionKeyPrefix+sessionID).Err()
		return nil, bfferrors.ErrSessionNotFound
	}

	var session sessions.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("[redisstore Get] failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (r *SessionRepo) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("[redisstore Delete] failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires session keys on its own
func (r *SessionRepo) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
