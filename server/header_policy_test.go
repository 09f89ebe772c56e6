package server_test

import (
	"net/http"
	"testing"

	"github.com/jrsteele09/go-bff-server/server"
	"github.com/stretchr/testify/require"
)

func TestHeaderPolicy(t *testing.T) {
	dev := server.NewHeaderPolicy(true, "https://login.example.com/realms/app")
	prod := server.NewHeaderPolicy(false, "https://login.example.com/realms/app")

	require.Contains(t, dev["Content-Security-Policy"], "form-action 'self' https://login.example.com;")
	require.Contains(t, dev["Content-Security-Policy"], "ws:")
	require.NotContains(t, dev, "Strict-Transport-Security")

	require.NotContains(t, prod["Content-Security-Policy"], "unsafe-eval")
	require.Contains(t, prod, "Strict-Transport-Security")

	h := http.Header{}
	h.Set("X-Frame-Options", "SAMEORIGIN")
	prod.Apply(h)
	require.Equal(t, "DENY", h.Get("X-Frame-Options"))
}
