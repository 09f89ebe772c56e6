package csrf_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jrsteele09/go-bff-server/csrf"
	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/sessions"
	"github.com/stretchr/testify/require"
)

func testSession(id string, secret string) *sessions.Session {
	return &sessions.Session{ID: id, AccessToken: "at", CSRFSecret: []byte(secret)}
}

func TestIssueIsDeterministic(t *testing.T) {
	s := testSession("session-1", "secret-1")

	token := csrf.Issue(s)
	require.NotEmpty(t, token)
	require.Equal(t, token, csrf.Issue(s))
	require.NotEqual(t, token, csrf.Issue(testSession("session-2", "secret-1")))
	require.NotEqual(t, token, csrf.Issue(testSession("session-1", "secret-2")))
	require.Empty(t, csrf.Issue(nil))
}

func TestVerify(t *testing.T) {
	s := testSession("session-1", "secret-1")
	token := csrf.Issue(s)

	tests := []struct {
		name      string
		session   *sessions.Session
		presented string
		wantErr   bool
	}{
		{"cookie and header", s, token, false},
		{"header without session", nil, token, true},
		{"session without header", s, "", true},
		{"token of another session", testSession("session-2", "secret-2"), token, true},
		{"tampered token", s, token + "x", true},
		{"unauthenticated session", &sessions.Session{ID: "session-1", CSRFSecret: []byte("secret-1")}, token, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := csrf.Verify(tt.session, tt.presented)
			if tt.wantErr {
				require.ErrorIs(t, err, bfferrors.ErrCsrfValidationFailed)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRequiresValidation(t *testing.T) {
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		require.True(t, csrf.RequiresValidation(m), m)
	}
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		require.False(t, csrf.RequiresValidation(m), m)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/bff/logout", nil)
	r.Header.Set(csrf.HeaderName, "from-header")
	require.Equal(t, "from-header", csrf.TokenFromRequest(r))

	form := url.Values{csrf.FormField: {"from-form"}}
	r = httptest.NewRequest(http.MethodPost, "/bff/logout", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.Equal(t, "from-form", csrf.TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	require.Empty(t, csrf.TokenFromRequest(r))
}
