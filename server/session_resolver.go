package server

import (
	"net/http"

	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/sessions"
	"github.com/rs/zerolog"
)

// resolveSession returns the live session for the request cookie,
// refreshing its access token when it is about to expire. A missing,
// expired or unrefreshable session yields nil and clears the browser's
// cookies. Only failures the caller must report, such as an IdP timeout,
// are returned as errors.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) (*sessions.Session, error) {
	sessionID := cookieValue(r, SessionCookieName)
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if bfferrors.Is(err, bfferrors.ErrSessionNotFound) {
			clearSessionCookies(w)
			return nil, nil
		}
		return nil, err
	}
	if !s.oidc.NeedsRefresh(session) {
		return session, nil
	}

	refreshed, err := s.oidc.Refresh(r.Context(), sessionID)
	switch {
	case err == nil:
		return refreshed, nil
	case bfferrors.Is(err, bfferrors.ErrUpstreamTimeout):
		return nil, err
	case bfferrors.Is(err, bfferrors.ErrRefreshFailed), bfferrors.Is(err, bfferrors.ErrSessionNotFound):
		zerolog.Ctx(r.Context()).Info().Err(err).Msg("session ended by failed refresh")
		clearSessionCookies(w)
		return nil, nil
	default:
		return nil, err
	}
}
