package config

import (
	"strings"
	"time"
)

type ProxyConfig interface {
	GetAPIPrefix() string
	GetRoutes() []RouteRule
	GetProxyTimeout() time.Duration
	GetSPARequiresAuth() bool
}

type Proxy struct {
	APIPrefix       string        `env:"API_PREFIX" envDefault:"/api"`
	RoutesFile      string        `env:"ROUTES_FILE"`
	Timeout         time.Duration `env:"PROXY_TIMEOUT" envDefault:"30s"`
	SPARequiresAuth bool          `env:"SPA_REQUIRES_AUTH" envDefault:"false"`

	// Routes is populated from RoutesFile by Load
	Routes []RouteRule `env:"-"`
}

var _ ProxyConfig = Proxy{}

// GetAPIPrefix returns the reserved API prefix. Requests below it never fall
// back to the SPA host.
func (p Proxy) GetAPIPrefix() string {
	prefix := p.APIPrefix
	if prefix == "" {
		prefix = "/api"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}

// GetRoutes returns a copy so the loaded table cannot be modified
func (p Proxy) GetRoutes() []RouteRule {
	routes := make([]RouteRule, len(p.Routes))
	copy(routes, p.Routes)
	return routes
}

func (p Proxy) GetProxyTimeout() time.Duration {
	if p.Timeout <= 0 {
		return 30 * time.Second
	}
	return p.Timeout
}

func (p Proxy) GetSPARequiresAuth() bool {
	return p.SPARequiresAuth
}
