package server

import (
	"html/template"
	"net/http"
	"sort"

	"github.com/jrsteele09/go-bff-server/csrf"
	"github.com/jrsteele09/go-bff-server/gate"
	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/oidcflow"
	"github.com/jrsteele09/go-bff-server/sessions"
	"github.com/rs/zerolog"
)

const (
	nameClaimType = "name"
	roleClaimType = "role"
)

// LoginHandler starts a login and sends the browser to the IdP. returnUrl
// is honoured only when it is a local path.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ins, err := s.oidc.BeginLogin(r.Context(), r.URL.Query().Get("returnUrl"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		setCorrelationCookie(w, ins.CorrelationID, ins.ExpiresAt)
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, ins.AuthURL, http.StatusFound)
	}
}

// CallbackHandler completes the login. It serves both the query response
// mode (GET) and form_post (POST).
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue works for both query params and POST form data
		params := oidcflow.CallbackParams{
			Code:             r.FormValue("code"),
			State:            r.FormValue("state"),
			Error:            r.FormValue("error"),
			ErrorDescription: r.FormValue("error_description"),
		}
		correlationID := cookieValue(r, CorrelationCookieName)
		clearCookie(w, CorrelationCookieName)

		result, err := s.oidc.HandleCallback(r.Context(), params, correlationID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		// A browser logging in again drops its previous session
		if previous := cookieValue(r, SessionCookieName); previous != "" && previous != result.Session.ID {
			if err := s.sessions.Delete(r.Context(), previous); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to delete replaced session")
			}
		}

		setSessionCookie(w, result.Session)
		setCSRFCookie(w, result.Session)
		zerolog.Ctx(r.Context()).Info().Str("subject", result.Session.Subject()).Msg("login completed")

		renderRedirect(w, s.pages.redirectPage, s.config.GetAppName(), result.RedirectTo)
	}
}

// renderRedirect hops to target from a same-origin page. A 302 would keep
// the cross-site context of the IdP redirect and the browser would then
// withhold the SameSite=Strict session cookie.
func renderRedirect(w http.ResponseWriter, tmpl *template.Template, appName, target string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = tmpl.Execute(w, map[string]string{
		"AppName": appName,
		"Target":  target,
	})
}

// LogoutHandler ends the session. The CSRF token is accepted from the
// X-XSRF-TOKEN header or the __RequestVerificationToken form field.
// Browsers are redirected to the IdP end-session endpoint; script callers
// receive the URL as JSON and navigate themselves.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := "/"

		sessionID := cookieValue(r, SessionCookieName)
		session, err := s.sessions.Get(r.Context(), sessionID)
		switch {
		case err == nil:
			if err := csrf.Verify(session, csrf.TokenFromRequest(r)); err != nil {
				s.writeError(w, r, err)
				return
			}
			ins, err := s.oidc.Logout(r.Context(), session.ID)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if ins.EndSessionURL != "" {
				target = ins.EndSessionURL
			}
			zerolog.Ctx(r.Context()).Info().Str("subject", session.Subject()).Msg("logout")
		case bfferrors.Is(err, bfferrors.ErrSessionNotFound):
			// Nothing to end server side
		default:
			s.writeError(w, r, err)
			return
		}

		clearSessionCookies(w)
		w.Header().Set("Cache-Control", "no-store")
		if gate.Classify(r, s.config.GetAPIPrefix()) == gate.KindAPI {
			writeJSON(w, http.StatusOK, map[string]string{"logoutUrl": target})
			return
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

type claimView struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type userView struct {
	IsAuthenticated bool        `json:"isAuthenticated"`
	NameClaimType   string      `json:"nameClaimType,omitempty"`
	RoleClaimType   string      `json:"roleClaimType,omitempty"`
	Claims          []claimView `json:"claims,omitempty"`
}

// UserHandler reports the signed in user's claims to the SPA. It is
// anonymous: an unauthenticated caller gets isAuthenticated=false, not 401.
// The CSRF cookie is (re)issued for authenticated callers.
func (s *Server) UserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")

		session, err := s.resolveSession(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if session == nil {
			writeJSON(w, http.StatusOK, userView{IsAuthenticated: false})
			return
		}

		setCSRFCookie(w, session)
		writeJSON(w, http.StatusOK, userView{
			IsAuthenticated: true,
			NameClaimType:   nameClaimType,
			RoleClaimType:   roleClaimType,
			Claims:          claimList(session),
		})
	}
}

// claimList flattens multi valued claims into one entry per value, sorted
// by type for a stable response.
func claimList(s *sessions.Session) []claimView {
	types := make([]string, 0, len(s.Claims))
	for t := range s.Claims {
		types = append(types, t)
	}
	sort.Strings(types)

	claims := make([]claimView, 0, len(types))
	for _, t := range types {
		if values, ok := s.Claims[t].([]any); ok {
			for _, v := range values {
				claims = append(claims, claimView{Type: t, Value: v})
			}
			continue
		}
		claims = append(claims, claimView{Type: t, Value: s.Claims[t]})
	}
	return claims
}
