package sessions

import (
	"context"
	"time"
)

// Repo persists sessions keyed by session id. Implementations must be safe
// for concurrent use and return ErrSessionNotFound for unknown ids.
type Repo interface {
	Upsert(ctx context.Context, session *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
	// DeleteExpired removes sessions that expired before now and returns how many were removed
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
