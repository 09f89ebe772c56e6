package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-bff-server/csrf"
	"github.com/jrsteele09/go-bff-server/gate"
	"github.com/jrsteele09/go-bff-server/internal/config"
	"github.com/jrsteele09/go-bff-server/oidcflow"
	"github.com/jrsteele09/go-bff-server/oidcstate"
	"github.com/jrsteele09/go-bff-server/proxy"
	"github.com/jrsteele09/go-bff-server/sessions"
)

// Deps are the stores and clients the server is built on
type Deps struct {
	Sessions sessions.Repo
	States   oidcstate.Repo
	// IdPClient reaches the identity provider, nil for a default client
	IdPClient *http.Client
	// BackendClient reaches proxied backends, nil for a default client
	BackendClient *http.Client
	// Health reports whether shared stores are reachable, nil when there are none
	Health func(context.Context) error
}

type Server struct {
	env    string // Environment (e.g., "DEV", "PROD")
	mux    *http.ServeMux
	routes []string
	config config.Config

	sessions  *sessions.Manager
	states    oidcstate.Repo
	oidc      *oidcflow.Engine
	gate      *gate.Gate
	forwarder *proxy.Forwarder
	spa       *SPAHost
	headers   HeaderPolicy
	health    func(context.Context) error
	pages     pages
}

// New discovers the IdP and wires the request pipeline. ctx bounds
// discovery only.
func New(ctx context.Context, cfg config.Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.States == nil {
		return nil, fmt.Errorf("[Server New] session and state stores are required")
	}

	manager := sessions.NewManager(deps.Sessions, cfg.GetSessionLifetime())

	var engineOpts []oidcflow.Option
	if deps.IdPClient != nil {
		engineOpts = append(engineOpts, oidcflow.WithHTTPClient(deps.IdPClient))
	}
	engine, err := oidcflow.NewEngine(ctx, cfg, cfg.GetBaseURL()+RouteCallback, deps.States, manager, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}

	var proxyOpts []proxy.Option
	if deps.BackendClient != nil {
		proxyOpts = append(proxyOpts, proxy.WithHTTPClient(deps.BackendClient))
	}
	forwarder := proxy.New(cfg.GetProxyTimeout(),
		[]string{SessionCookieName, CorrelationCookieName, csrf.CookieName},
		append(proxyOpts, proxy.WithStrippedHeaders(csrf.HeaderName))...,
	)

	spa, err := NewSPAHost(cfg.GetStaticDir(), cfg.GetUIDevServerURL())
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}

	pages, err := loadPages()
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		sessions:  manager,
		states:    deps.States,
		oidc:      engine,
		forwarder: forwarder,
		spa:       spa,
		headers:   NewHeaderPolicy(cfg.IsDevelopment(), engine.Authority()),
		health:    deps.Health,
		pages:     pages,
		gate: gate.New(gate.NewTable(cfg.GetRoutes()), gate.Options{
			APIPrefix:       cfg.GetAPIPrefix(),
			LoginPath:       RouteLogin,
			SPARequiresAuth: cfg.GetSPARequiresAuth(),
		}),
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes returns the registered route patterns followed by the proxied
// route table.
func (s *Server) Routes() []string {
	routes := make([]string, 0, len(s.routes))
	routes = append(routes, s.routes...)
	for _, rule := range s.gate.Table().Rules() {
		auth := "public"
		if rule.RequiresAuth {
			auth = "auth"
		}
		routes = append(routes, fmt.Sprintf("PROXY %s -> %s (%s)", rule.PathPrefix, rule.Backend, auth))
	}
	return routes
}

// Sessions exposes the session manager to the sweeper
func (s *Server) Sessions() *sessions.Manager {
	return s.sessions
}

// States exposes the login state store to the sweeper
func (s *Server) States() oidcstate.Repo {
	return s.states
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
