package config

import (
	"fmt"
	"os"
	"strings"
)

const devEnv = "DEV"

type EnvVars struct {
	Port           string `env:"PORT" envDefault:"8080"`
	AppName        string `env:"APP_NAME" envDefault:"Go BFF Server"`
	Env            string `env:"ENV" envDefault:"DEV"`
	BaseURL        string `env:"BASE_URL" envDefault:"https://localhost:8080"`
	StaticDir      string `env:"STATIC_DIR" envDefault:"./wwwroot"`
	UIDevServerURL string `env:"UI_DEV_SERVER_URL"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if port == "" {
		port = "8080"
	}
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	if e.AppName == "" {
		return "Go BFF Server"
	}
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return devEnv
	}
	return strings.ToUpper(e.Env)
}

func (e EnvVars) IsDevelopment() bool {
	return e.GetEnv() == devEnv
}

// GetBaseURL returns the externally visible URL of the gateway (e.g., "https://app.example.com").
// The OIDC redirect URI and post logout redirect are built from it.
func (e EnvVars) GetBaseURL() string {
	return strings.TrimSuffix(e.BaseURL, "/")
}

func (e EnvVars) GetStaticDir() string {
	if e.StaticDir == "" {
		return "./wwwroot"
	}
	return e.StaticDir
}

// GetUIDevServerURL is only honoured in development
func (e EnvVars) GetUIDevServerURL() string {
	if !e.IsDevelopment() {
		return ""
	}
	return e.UIDevServerURL
}

func (e EnvVars) GetLogLevel() string {
	if e.LogLevel == "" {
		return "info"
	}
	return e.LogLevel
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
