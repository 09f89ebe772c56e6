package sessions_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerFixture struct {
	repo    *sessions.InMemoryRepo
	manager *sessions.Manager
	now     time.Time
}

func setupManager(t *testing.T) *managerFixture {
	t.Helper()

	f := &managerFixture{
		repo: sessions.NewInMemoryRepo(),
		now:  time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
	}
	f.manager = sessions.NewManager(f.repo, time.Hour)

	original := sessions.NowTimeFunc
	sessions.NowTimeFunc = func() time.Time { return f.now }
	t.Cleanup(func() { sessions.NowTimeFunc = original })
	return f
}

func testTokens() sessions.Tokens {
	return sessions.Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		IDToken:      "id-1",
		TokenType:    "Bearer",
		Expiry:       time.Date(2026, 1, 2, 10, 5, 0, 0, time.UTC),
	}
}

func TestManagerCreateAndGet(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	s, err := f.manager.Create(ctx, testTokens(), map[string]any{"sub": "user-1", "name": "Ada"})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	require.Len(t, s.CSRFSecret, 32)
	require.Equal(t, f.now.Add(time.Hour), s.ExpiresAt)
	require.Equal(t, "user-1", s.Subject())

	got, err := f.manager.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "access-1", got.AccessToken)
	require.Equal(t, "refresh-1", got.RefreshToken)
	require.Equal(t, "Ada", got.Claims["name"])
}

func TestManagerCreateRequiresAccessToken(t *testing.T) {
	f := setupManager(t)

	_, err := f.manager.Create(context.Background(), sessions.Tokens{}, nil)
	require.Error(t, err)
	require.Equal(t, 0, f.repo.Count())
}

func TestManagerCreateGeneratesDistinctIDs(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s, err := f.manager.Create(ctx, testTokens(), nil)
		require.NoError(t, err)
		require.False(t, seen[s.ID])
		seen[s.ID] = true
	}
}

func TestManagerGetExpiredSession(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	s, err := f.manager.Create(ctx, testTokens(), nil)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.manager.Get(ctx, s.ID)
	require.ErrorIs(t, err, bfferrors.ErrSessionNotFound)
	require.Equal(t, 0, f.repo.Count())
}

func TestManagerGetUnknownAndEmpty(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	_, err := f.manager.Get(ctx, "")
	require.ErrorIs(t, err, bfferrors.ErrSessionNotFound)

	_, err = f.manager.Get(ctx, "does-not-exist")
	require.ErrorIs(t, err, bfferrors.ErrSessionNotFound)
}

func TestManagerGetSessionWithoutAccessToken(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Upsert(ctx, &sessions.Session{ID: "half", ExpiresAt: f.now.Add(time.Hour)}))
	_, err := f.manager.Get(ctx, "half")
	require.ErrorIs(t, err, bfferrors.ErrSessionNotFound)
}

func TestManagerDelete(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	s, err := f.manager.Create(ctx, testTokens(), nil)
	require.NoError(t, err)
	require.NoError(t, f.manager.Delete(ctx, s.ID))

	_, err = f.manager.Get(ctx, s.ID)
	require.ErrorIs(t, err, bfferrors.ErrSessionNotFound)
	require.NoError(t, f.manager.Delete(ctx, s.ID))
}

func TestManagerSaveKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	s, err := f.manager.Create(ctx, testTokens(), nil)
	require.NoError(t, err)

	s.ApplyTokens(sessions.Tokens{AccessToken: "access-2", Expiry: f.now.Add(10 * time.Minute)}, f.now)
	require.NoError(t, f.manager.Save(ctx, s))

	got, err := f.manager.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "access-2", got.AccessToken)
	require.Equal(t, "refresh-1", got.RefreshToken)
	require.Equal(t, "id-1", got.IDToken)
}

func TestManagerCleanupExpired(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, testTokens(), nil)
	require.NoError(t, err)
	f.now = f.now.Add(30 * time.Minute)
	live, err := f.manager.Create(ctx, testTokens(), nil)
	require.NoError(t, err)

	f.now = f.now.Add(45 * time.Minute)
	removed, err := f.manager.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = f.manager.Get(ctx, live.ID)
	require.NoError(t, err)
}

func TestManagerWithLockSerialisesSameSession(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.manager.WithLock(ctx, "same", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestManagerWithLockDoesNotBlockOtherSessions(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.manager.WithLock(ctx, "a", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan struct{})
	go func() {
		_ = f.manager.WithLock(ctx, "b", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on session b blocked by session a")
	}
	close(release)
}
