package idptest_test

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-bff-server/internal/idptest"
	"github.com/stretchr/testify/require"
)

func TestProvider_Discovery(t *testing.T) {
	p := idptest.New(t)

	resp, err := http.Get(p.URL(idptest.RouteDiscovery))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.Equal(t, p.Issuer, doc["issuer"])
	require.Equal(t, p.URL(idptest.RouteToken), doc["token_endpoint"])
	require.Equal(t, p.URL(idptest.RouteEndSession), doc["end_session_endpoint"])
}

func TestProvider_TokenEndpointRequiresClientAuth(t *testing.T) {
	p := idptest.New(t)

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"unknown"}}
	resp, err := http.Post(p.URL(idptest.RouteToken), "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 1, p.TokenCalls())
	require.Equal(t, 0, p.RefreshCalls())
}

func TestKeyPair_SignVerifiesWithPublicKey(t *testing.T) {
	kp, err := idptest.GenerateKeyPair("kid-1")
	require.NoError(t, err)

	signed, err := kp.Sign(jwt.MapClaims{"sub": idptest.Subject})
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (any, error) {
		require.Equal(t, "kid-1", token.Header["kid"])
		return &kp.PrivateKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	jwk := kp.ToJWK()
	require.Equal(t, "RSA", jwk.Kty)
	require.Equal(t, "kid-1", jwk.Kid)
}
