package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	OIDCConfig
	SessionConfig
	ProxyConfig
	CorsConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	IsDevelopment() bool
	GetBaseURL() string
	GetStaticDir() string
	GetUIDevServerURL() string
	GetLogLevel() string
}

// Settings is the complete configuration surface. It is loaded once at
// startup and never mutated afterwards.
type Settings struct {
	EnvVars
	OIDC
	Session
	Proxy
	Cors
}

var _ Config = Settings{}

// GetLogTokens only honours OIDC_LOG_TOKENS in development. Decoded ID
// token claims carry personal data and must never reach production logs.
func (s Settings) GetLogTokens() bool {
	return s.OIDC.LogTokens && s.IsDevelopment()
}

// Load reads the optional .env file, parses the environment and loads the
// route table.
func Load() (Config, error) {
	_ = godotenv.Load()

	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("[config Load] failed to parse environment: %w", err)
	}

	routes, err := LoadRoutes(s.Proxy.RoutesFile)
	if err != nil {
		return nil, fmt.Errorf("[config Load] %w", err)
	}
	s.Proxy.Routes = routes

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("[config Load] %w", err)
	}
	return s, nil
}

// Validate checks the settings that have no usable default.
func (s Settings) Validate() error {
	if s.OIDC.Authority == "" {
		return fmt.Errorf("OIDC_AUTHORITY is required")
	}
	if s.OIDC.ClientID == "" {
		return fmt.Errorf("OIDC_CLIENT_ID is required")
	}
	if !s.IsDevelopment() && len(s.Session.Secret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters outside development", minSessionSecretLength)
	}
	if err := ValidateRoutes(s.Proxy.Routes); err != nil {
		return err
	}
	return nil
}
