package oidcstate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/oidcstate"
	"github.com/stretchr/testify/require"
)

func newState(nonce string, now time.Time) *oidcstate.State {
	return &oidcstate.State{
		StateNonce:      nonce,
		CodeVerifier:    "verifier-" + nonce,
		OIDCNonce:       "oidc-" + nonce,
		RedirectTo:      "/orders",
		CorrelationHash: []byte{1, 2, 3},
		CreatedAt:       now,
		ExpiresAt:       now.Add(10 * time.Minute),
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	repo := oidcstate.NewInMemoryRepo()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newState("abc", time.Now())))

	got, err := repo.Consume(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, "verifier-abc", got.CodeVerifier)
	require.Equal(t, "/orders", got.RedirectTo)

	_, err = repo.Consume(ctx, "abc")
	require.ErrorIs(t, err, bfferrors.ErrInvalidState)
}

func TestConsumeConcurrentReplay(t *testing.T) {
	repo := oidcstate.NewInMemoryRepo()
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, newState("replayed", time.Now())))

	var successes, failures int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume(ctx, "replayed"); err == nil {
				atomic.AddInt32(&successes, 1)
			} else if bfferrors.Is(err, bfferrors.ErrInvalidState) {
				atomic.AddInt32(&failures, 1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), successes)
	require.Equal(t, int32(31), failures)
}

func TestConsumeExpired(t *testing.T) {
	repo := oidcstate.NewInMemoryRepo()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newState("old", time.Now().Add(-time.Hour))))
	_, err := repo.Consume(ctx, "old")
	require.ErrorIs(t, err, bfferrors.ErrInvalidState)
	require.Equal(t, 0, repo.Count())
}

func TestConsumeUnknownOrEmpty(t *testing.T) {
	repo := oidcstate.NewInMemoryRepo()

	_, err := repo.Consume(context.Background(), "")
	require.ErrorIs(t, err, bfferrors.ErrInvalidState)
	_, err = repo.Consume(context.Background(), "missing")
	require.ErrorIs(t, err, bfferrors.ErrInvalidState)
}

func TestSaveValidation(t *testing.T) {
	repo := oidcstate.NewInMemoryRepo()

	require.Error(t, repo.Save(context.Background(), nil))
	require.Error(t, repo.Save(context.Background(), &oidcstate.State{}))
}

func TestDeleteExpired(t *testing.T) {
	repo := oidcstate.NewInMemoryRepo()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Save(ctx, newState("stale", now.Add(-20*time.Minute))))
	require.NoError(t, repo.Save(ctx, newState("fresh", now)))

	removed, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, repo.Count())
}
