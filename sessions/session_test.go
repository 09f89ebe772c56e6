package sessions_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-bff-server/sessions"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"no expiry", time.Time{}, false},
		{"well in the future", now.Add(time.Hour), false},
		{"inside skew", now.Add(10 * time.Second), true},
		{"in the past", now.Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &sessions.Session{AccessTokenExpiry: tt.expiry}
			require.Equal(t, tt.want, s.AccessTokenExpired(now, 30*time.Second))
		})
	}
}

func TestIsAuthenticated(t *testing.T) {
	var nilSession *sessions.Session
	require.False(t, nilSession.IsAuthenticated())
	require.False(t, (&sessions.Session{ID: "x"}).IsAuthenticated())
	require.True(t, (&sessions.Session{ID: "x", AccessToken: "at"}).IsAuthenticated())
}

func TestCloneDoesNotShareClaims(t *testing.T) {
	s := &sessions.Session{ID: "x", Claims: map[string]any{"sub": "a"}, CSRFSecret: []byte{1, 2}}
	c := s.Clone()
	c.Claims["sub"] = "b"
	c.CSRFSecret[0] = 9

	require.Equal(t, "a", s.Subject())
	require.Equal(t, byte(1), s.CSRFSecret[0])
}
