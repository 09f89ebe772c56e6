package server

import (
	"errors"
	"net/http"

	"github.com/jrsteele09/go-bff-server/csrf"
	"github.com/jrsteele09/go-bff-server/gate"
	"github.com/jrsteele09/go-bff-server/proxy"
	"github.com/rs/zerolog"
)

// GatewayHandler runs every request not owned by a BFF route through the
// gate and carries out its decision.
func (s *Server) GatewayHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := gate.Request{
			Method:      r.Method,
			Path:        r.URL.Path,
			RawQuery:    r.URL.RawQuery,
			Kind:        gate.Classify(r, s.config.GetAPIPrefix()),
			StaticAsset: s.spa.IsAsset(r.URL.Path),
			// Proxied bodies are streamed untouched, so only the header is read
			CSRFToken: r.Header.Get(csrf.HeaderName),
		}

		if s.gate.NeedsSession(req) {
			session, err := s.resolveSession(w, r)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			req.Session = session
		}

		decision := s.gate.Decide(req)
		logger := zerolog.Ctx(r.Context())
		logger.Debug().
			Str("kind", req.Kind.String()).
			Str("outcome", decision.Outcome.String()).
			Str("route", decision.Rule.Name).
			Msg("gate decision")

		switch decision.Outcome {
		case gate.Pass:
			s.spa.ServeHTTP(w, r)
		case gate.Forward:
			accessToken := ""
			if decision.AttachToken {
				accessToken = req.Session.AccessToken
			}
			if err := s.forwarder.Forward(w, r, decision.Rule, accessToken); err != nil {
				if errors.Is(err, proxy.ErrClientGone) {
					logger.Debug().Str("route", decision.Rule.Name).Msg("client went away before the backend answered")
					return
				}
				s.writeError(w, r, err)
			}
		case gate.Redirect:
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, decision.Location, decision.Status)
		default:
			s.writeError(w, r, decision.Err)
		}
	}
}
