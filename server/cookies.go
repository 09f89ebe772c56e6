package server

import (
	"net/http"
	"time"

	"github.com/jrsteele09/go-bff-server/csrf"
	"github.com/jrsteele09/go-bff-server/sessions"
)

const (
	// SessionCookieName carries the opaque session id
	SessionCookieName = "__Host-bff-session"
	// CorrelationCookieName binds a login attempt to the browser that started it
	CorrelationCookieName = "__Host-bff-correlation"
)

// __Host- cookies must be Secure, host only and scoped to "/"

func setSessionCookie(w http.ResponseWriter, s *sessions.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge(s.ExpiresAt),
	})
}

// setCSRFCookie is readable by script so the SPA can mirror it into the
// X-XSRF-TOKEN header.
func setCSRFCookie(w http.ResponseWriter, s *sessions.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrf.CookieName,
		Value:    csrf.Issue(s),
		Path:     "/",
		HttpOnly: false,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge(s.ExpiresAt),
	})
}

// The IdP returns the browser cross-site, possibly as a form POST, so only
// SameSite=None survives the trip. The value is useless without the state
// record it was issued with.
func setCorrelationCookie(w http.ResponseWriter, correlationID string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CorrelationCookieName,
		Value:    correlationID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   maxAge(expiresAt),
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: name != csrf.CookieName,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func clearSessionCookies(w http.ResponseWriter) {
	clearCookie(w, SessionCookieName)
	clearCookie(w, csrf.CookieName)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func maxAge(expiresAt time.Time) int {
	seconds := int(time.Until(expiresAt).Seconds())
	if seconds < 1 {
		return 1
	}
	return seconds
}
