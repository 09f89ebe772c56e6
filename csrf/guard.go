// Package csrf implements the double-submit token tied to a session.
//
// The token is an HMAC of the session id keyed with the session's CSRF
// secret. It is never stored; it is re-derived on every check, so a token
// without the matching session cookie is worthless.
package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"mime"
	"net/http"

	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/sessions"
)

const (
	// CookieName is readable by browser script so it can mirror the value
	// into HeaderName.
	CookieName = "__Host-X-XSRF-TOKEN"
	HeaderName = "X-XSRF-TOKEN"
	// FormField is accepted for plain HTML form posts
	FormField = "__RequestVerificationToken"
)

// Issue derives the CSRF token for a session
func Issue(s *sessions.Session) string {
	if s == nil || len(s.CSRFSecret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, s.CSRFSecret)
	mac.Write([]byte(s.ID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a presented token against the session in constant time
func Verify(s *sessions.Session, presented string) error {
	if !s.IsAuthenticated() || presented == "" {
		return bfferrors.ErrCsrfValidationFailed
	}
	expected := Issue(s)
	if expected == "" || !hmac.Equal([]byte(expected), []byte(presented)) {
		return bfferrors.ErrCsrfValidationFailed
	}
	return nil
}

// RequiresValidation reports whether a request method changes state
func RequiresValidation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// TokenFromRequest returns the token presented in the header, falling back
// to the form field for urlencoded form posts.
func TokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(HeaderName); token != "" {
		return token
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		return r.PostFormValue(FormField)
	}
	return ""
}
