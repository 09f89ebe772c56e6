package server

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-bff-server/internal/config"
	"github.com/jrsteele09/go-bff-server/internal/redisstore"
	"github.com/jrsteele09/go-bff-server/oidcstate"
	"github.com/jrsteele09/go-bff-server/sessions"
	"github.com/rs/zerolog/log"
)

// Stores are the session and login state stores selected by SESSION_STORE
type Stores struct {
	Sessions sessions.Repo
	States   oidcstate.Repo
	// Health is nil for in-process stores
	Health func(context.Context) error

	close func() error
}

// Deps returns server dependencies backed by the stores
func (st *Stores) Deps() Deps {
	return Deps{
		Sessions: st.Sessions,
		States:   st.States,
		Health:   st.Health,
	}
}

// Close releases the store connection, if any
func (st *Stores) Close() error {
	if st.close == nil {
		return nil
	}
	return st.close()
}

// NewStores builds the configured stores. In-memory stores only work for a
// single instance; Redis shares sessions and login attempts between
// instances and seals sessions with a key derived from SESSION_SECRET.
func NewStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.GetSessionStore() {
	case config.SessionStoreMemory:
		log.Info().Msg("using in-memory session store")
		return &Stores{
			Sessions: sessions.NewInMemoryRepo(),
			States:   oidcstate.NewInMemoryRepo(),
		}, nil

	case config.SessionStoreRedis:
		sealer, err := newSealer(cfg)
		if err != nil {
			return nil, fmt.Errorf("[server NewStores] %w", err)
		}
		client, err := redisstore.Connect(ctx, cfg.GetRedisURL())
		if err != nil {
			return nil, fmt.Errorf("[server NewStores] %w", err)
		}
		log.Info().Str("addr", client.Options().Addr).Msg("using redis session store")
		return &Stores{
			Sessions: redisstore.NewSessionRepo(client, sealer),
			States:   redisstore.NewStateRepo(client),
			Health:   redisstore.Healthcheck(client),
			close:    client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("[server NewStores] unknown SESSION_STORE %q", cfg.GetSessionStore())
	}
}

func newSealer(cfg config.Config) (*sessions.Sealer, error) {
	if secret := cfg.GetSessionSecret(); secret != "" {
		return sessions.NewSealer([]byte(secret))
	}
	if !cfg.IsDevelopment() {
		return nil, fmt.Errorf("SESSION_SECRET is required for the redis session store")
	}
	log.Warn().Msg("SESSION_SECRET not set, sealed sessions will not survive a restart")
	return sessions.NewRandomSealer()
}
