package config

import "time"

const (
	minSessionSecretLength = 32

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type SessionConfig interface {
	GetSessionSecret() string
	GetSessionLifetime() time.Duration
	GetSessionStore() string
	GetRedisURL() string
	GetSweepInterval() time.Duration
}

type Session struct {
	Secret        string        `env:"SESSION_SECRET"`
	Lifetime      time.Duration `env:"SESSION_LIFETIME" envDefault:"8h"`
	Store         string        `env:"SESSION_STORE" envDefault:"memory"`
	RedisURL      string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

var _ SessionConfig = Session{}

// GetSessionSecret is the master secret the session sealing key is derived from
func (s Session) GetSessionSecret() string {
	return s.Secret
}

// GetSessionLifetime is the absolute session lifetime, independent of token expiry
func (s Session) GetSessionLifetime() time.Duration {
	if s.Lifetime <= 0 {
		return 8 * time.Hour
	}
	return s.Lifetime
}

func (s Session) GetSessionStore() string {
	if s.Store == "" {
		return SessionStoreMemory
	}
	return s.Store
}

func (s Session) GetRedisURL() string {
	return s.RedisURL
}

func (s Session) GetSweepInterval() time.Duration {
	if s.SweepInterval <= 0 {
		return time.Minute
	}
	return s.SweepInterval
}
