package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-bff-server/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("OIDC_AUTHORITY", "https://idp.example.com")
	t.Setenv("OIDC_CLIENT_ID", "bff")
	t.Setenv("OIDC_SCOPES", "openid profile")
	t.Setenv("SESSION_LIFETIME", "2h")
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "dev")

	routesPath := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(routesPath, []byte(`
routes:
  - name: orders
    path: /api/orders/
    backend: http://localhost:5001
    requiresAuth: true
`), 0o600))
	t.Setenv("ROUTES_FILE", routesPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.GetPort())
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, []string{"openid", "profile"}, cfg.GetScopes())
	require.Equal(t, 2*time.Hour, cfg.GetSessionLifetime())
	require.Equal(t, "/api", cfg.GetAPIPrefix())
	require.Equal(t, config.SessionStoreMemory, cfg.GetSessionStore())

	routes := cfg.GetRoutes()
	require.Len(t, routes, 1)
	require.Equal(t, "/api/orders", routes[0].PathPrefix)
	require.True(t, routes[0].RequiresAuth)
}

func TestLoad_MissingAuthority(t *testing.T) {
	t.Setenv("OIDC_AUTHORITY", "")
	t.Setenv("OIDC_CLIENT_ID", "bff")

	_, err := config.Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "OIDC_AUTHORITY")
}

func TestSettings_Validate(t *testing.T) {
	base := config.Settings{
		OIDC: config.OIDC{Authority: "https://idp.example.com", ClientID: "bff"},
	}

	t.Run("development allows empty secret", func(t *testing.T) {
		s := base
		s.EnvVars.Env = "DEV"
		require.NoError(t, s.Validate())
	})

	t.Run("production requires secret", func(t *testing.T) {
		s := base
		s.EnvVars.Env = "PROD"
		err := s.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "SESSION_SECRET")

		s.Session.Secret = "0123456789abcdef0123456789abcdef"
		require.NoError(t, s.Validate())
	})
}

func TestSettings_LogTokensIsDevelopmentOnly(t *testing.T) {
	s := config.Settings{OIDC: config.OIDC{LogTokens: true}}

	s.EnvVars.Env = "DEV"
	require.True(t, s.GetLogTokens())

	s.EnvVars.Env = "PROD"
	require.False(t, s.GetLogTokens())
}

func TestParseRoutes(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		routes, err := config.ParseRoutes([]byte(`
routes:
  - name: orders
    path: /api/orders
    backend: https://orders.internal
    requiresAuth: true
  - name: status
    path: /api/status
    backend: http://status.internal:8080
    stripPrefix: true
`))
		require.NoError(t, err)
		require.Len(t, routes, 2)
		require.False(t, routes[1].RequiresAuth)
		require.True(t, routes[1].StripPrefix)
	})

	t.Run("relative path", func(t *testing.T) {
		_, err := config.ParseRoutes([]byte("routes:\n  - path: api\n    backend: http://x\n"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "must start with /")
	})

	t.Run("bad backend", func(t *testing.T) {
		_, err := config.ParseRoutes([]byte("routes:\n  - path: /api\n    backend: ftp://x\n"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "absolute http(s) URL")
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := config.ParseRoutes([]byte("routes:\n  - path: /api/a\n    backend: http://x\n  - path: /api/a/\n    backend: http://y\n"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "duplicate")
	})
}

func TestProxy_GetRoutesReturnsCopy(t *testing.T) {
	p := config.Proxy{Routes: []config.RouteRule{{PathPrefix: "/api/a", Backend: "http://a"}}}
	routes := p.GetRoutes()
	routes[0].Backend = "http://evil"
	require.Equal(t, "http://a", p.GetRoutes()[0].Backend)
}

func TestCors_GetAllowedOrigins(t *testing.T) {
	c := config.Cors{Origins: []string{"https://app.example.com", " ", "http://localhost:5173"}}
	origins := c.GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("https://app.example.com"))
	require.True(t, origins.IsAllowedOrigin("http://localhost:5173"))
	require.False(t, origins.IsAllowedOrigin(""))
}
