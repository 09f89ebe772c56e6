// Package redisstore keeps sessions and login attempts in Redis so several
// gateway instances can share them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

const (
	sessionKeyPrefix = "bff:session:"
	stateKeyPrefix   = "bff:oidc-state:"
)

// ErrInvalidURL is returned when REDIS_URL cannot be parsed
var ErrInvalidURL = errors.New("invalid redis url")

// Connect creates a client from a redis:// or rediss:// URL and verifies the
// connection with a ping.
func Connect(ctx context.Context, connectionURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(connectionURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	opts.DialTimeout = DefaultDialTimeout
	opts.ReadTimeout = DefaultReadTimeout
	opts.WriteTimeout = DefaultWriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Healthcheck returns a function that pings Redis
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
		return nil
	}
}
