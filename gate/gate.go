// Package gate decides, per inbound request, whether the gateway passes it
// through, forwards it with a token, redirects the browser to log in,
// rejects it or reports it as missing.
//
// The decision is an ordered chain of pure functions over the matched
// route rule, the resolved session and the request kind. Nothing in this
// package touches the network or a store.
package gate

import (
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-bff-server/csrf"
	"github.com/jrsteele09/go-bff-server/internal/config"
	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/sessions"
)

// Outcome is what the gateway does with a request
type Outcome int

const (
	// Pass hands the request to the SPA host untouched
	Pass Outcome = iota
	// Forward proxies the request to Decision.Rule's backend
	Forward
	// Redirect sends the browser to Decision.Location
	Redirect
	// Reject answers with Decision.Status
	Reject
	// NotFound answers 404 without consulting the SPA host
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Forward:
		return "forward"
	case Redirect:
		return "redirect"
	case Reject:
		return "reject"
	case NotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Request is the subset of an inbound request the gate decides on
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Kind     Kind
	// StaticAsset is set when the SPA host can serve Path as a file
	StaticAsset bool
	// Session is the resolved live session, nil when unauthenticated
	Session *sessions.Session
	// CSRFToken is the token the client presented, if any
	CSRFToken string
}

// Decision is the single outcome for a request
type Decision struct {
	Outcome  Outcome
	Rule     config.RouteRule
	Status   int
	Err      error
	Location string
	// AttachToken is set when the forwarded request must carry the
	// session's access token.
	AttachToken bool
}

// Options configures the gate
type Options struct {
	APIPrefix       string
	LoginPath       string
	SPARequiresAuth bool
}

// Gate holds the immutable inputs of the decision chain
type Gate struct {
	table *Table
	opts  Options
	steps []step
}

// step inspects the request and either decides or defers to the next step
type step func(g *Gate, req Request, rule config.RouteRule, matched bool) (Decision, bool)

// New creates a gate over a route table
func New(table *Table, opts Options) *Gate {
	if opts.LoginPath == "" {
		opts.LoginPath = "/bff/login"
	}
	return &Gate{
		table: table,
		opts:  opts,
		steps: []step{
			publicRoute,
			staticAsset,
			requireSession,
			unmatchedRoute,
			requireCSRF,
			forwardAuthenticated,
		},
	}
}

// Decide runs the chain and returns the first decision made
func (g *Gate) Decide(req Request) Decision {
	rule, matched := g.table.Match(req.Path)
	for _, s := range g.steps {
		if d, done := s(g, req, rule, matched); done {
			return d
		}
	}
	return Decision{Outcome: NotFound, Status: http.StatusNotFound, Err: bfferrors.ErrNotFound}
}

// Table returns the route table the gate matches against
func (g *Gate) Table() *Table {
	return g.table
}

// NeedsSession reports whether the request can only proceed authenticated.
// The server uses it to skip session resolution and refresh for public
// traffic.
func (g *Gate) NeedsSession(req Request) bool {
	rule, matched := g.table.Match(req.Path)
	return g.needsAuth(req, rule, matched)
}

func (g *Gate) needsAuth(req Request, rule config.RouteRule, matched bool) bool {
	if matched {
		return rule.RequiresAuth
	}
	if UnderPrefix(g.opts.APIPrefix, req.Path) {
		return true
	}
	return g.opts.SPARequiresAuth && !req.StaticAsset
}

func publicRoute(_ *Gate, _ Request, rule config.RouteRule, matched bool) (Decision, bool) {
	if matched && !rule.RequiresAuth {
		return Decision{Outcome: Forward, Rule: rule}, true
	}
	return Decision{}, false
}

func staticAsset(g *Gate, req Request, _ config.RouteRule, matched bool) (Decision, bool) {
	if !matched && req.StaticAsset && !UnderPrefix(g.opts.APIPrefix, req.Path) {
		return Decision{Outcome: Pass}, true
	}
	return Decision{}, false
}

func requireSession(g *Gate, req Request, rule config.RouteRule, matched bool) (Decision, bool) {
	if req.Session.IsAuthenticated() || !g.needsAuth(req, rule, matched) {
		return Decision{}, false
	}
	if req.Kind == KindAPI || UnderPrefix(g.opts.APIPrefix, req.Path) {
		return Decision{Outcome: Reject, Status: http.StatusUnauthorized, Err: bfferrors.ErrSessionNotFound}, true
	}
	return Decision{Outcome: Redirect, Status: http.StatusFound, Location: g.LoginURL(req.Path, req.RawQuery)}, true
}

func unmatchedRoute(g *Gate, req Request, _ config.RouteRule, matched bool) (Decision, bool) {
	if matched {
		return Decision{}, false
	}
	if UnderPrefix(g.opts.APIPrefix, req.Path) {
		return Decision{Outcome: NotFound, Status: http.StatusNotFound, Err: bfferrors.ErrNotFound}, true
	}
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		return Decision{Outcome: Pass}, true
	}
	return Decision{Outcome: NotFound, Status: http.StatusNotFound, Err: bfferrors.ErrNotFound}, true
}

func requireCSRF(_ *Gate, req Request, rule config.RouteRule, _ bool) (Decision, bool) {
	if !csrf.RequiresValidation(req.Method) {
		return Decision{}, false
	}
	if err := csrf.Verify(req.Session, req.CSRFToken); err != nil {
		return Decision{Outcome: Reject, Rule: rule, Status: http.StatusForbidden, Err: err}, true
	}
	return Decision{}, false
}

func forwardAuthenticated(_ *Gate, _ Request, rule config.RouteRule, _ bool) (Decision, bool) {
	return Decision{Outcome: Forward, Rule: rule, AttachToken: true}, true
}

// LoginURL builds the login redirect preserving the original local target
func (g *Gate) LoginURL(path, rawQuery string) string {
	target := path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return g.opts.LoginPath + "?returnUrl=" + url.QueryEscape(target)
}
