package server

import (
	"context"
	"time"

	"github.com/jrsteele09/go-bff-server/oidcstate"
	"github.com/jrsteele09/go-bff-server/sessions"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically deletes expired sessions and abandoned login
// attempts. Lookups expire entries lazily as well; the sweep only bounds
// memory held by entries nobody asks for again.
type Sweeper struct {
	sessions *sessions.Manager
	states   oidcstate.Repo
	interval time.Duration
}

func NewSweeper(manager *sessions.Manager, states oidcstate.Repo, interval time.Duration) *Sweeper {
	return &Sweeper{
		sessions: manager,
		states:   states,
		interval: interval,
	}
}

// Run sweeps every interval until ctx is cancelled
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many entries it removed
func (sw *Sweeper) Sweep(ctx context.Context) (sessionsRemoved, statesRemoved int) {
	sessionsRemoved, err := sw.sessions.CleanupExpired(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("session sweep failed")
	}
	statesRemoved, err = sw.states.DeleteExpired(ctx, sw.sessions.Now())
	if err != nil {
		log.Warn().Err(err).Msg("login state sweep failed")
	}
	if sessionsRemoved > 0 || statesRemoved > 0 {
		log.Debug().Int("sessions", sessionsRemoved).Int("states", statesRemoved).Msg("swept expired entries")
	}
	return sessionsRemoved, statesRemoved
}
