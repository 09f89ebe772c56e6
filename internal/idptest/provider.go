// Package idptest runs an in-process OpenID Connect provider for tests. It
// implements discovery, JWKS, an auto-approving authorize endpoint, the
// token endpoint (authorization_code with PKCE S256, refresh_token),
// userinfo and end-session, and counts calls to the token endpoint.
package idptest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ClientID     = "bff-client"
	ClientSecret = "bff-secret"
	Subject      = "user-1"

	RouteDiscovery  = "/.well-known/openid-configuration"
	RouteJWKS       = "/jwks"
	RouteAuthorize  = "/authorize"
	RouteToken      = "/token"
	RouteUserInfo   = "/userinfo"
	RouteEndSession = "/logout"
)

type authCode struct {
	clientID      string
	redirectURI   string
	codeChallenge string
	nonce         string
	subject       string
}

// Provider is the test double. All knobs are safe to change while the
// server is handling requests.
type Provider struct {
	Server *httptest.Server
	Issuer string

	key      *KeyPair
	wrongKey *KeyPair

	mu            sync.Mutex
	codes         map[string]authCode
	refreshTokens map[string]string // refresh token -> subject
	accessTokens  map[string]string // access token -> subject
	claims        map[string]any
	userInfo      map[string]any
	accessTTL     time.Duration
	refreshDelay  time.Duration
	authorizeErr  string
	audience      string
	nonceOverride string
	signWrongKey  bool
	omitIDToken   bool
	rotateRefresh bool

	tokenCalls   atomic.Int32
	codeCalls    atomic.Int32
	refreshCalls atomic.Int32
}

// New starts a provider that is shut down when the test ends
func New(t *testing.T) *Provider {
	t.Helper()

	key, err := GenerateKeyPair("test-key")
	if err != nil {
		t.Fatalf("idptest: %v", err)
	}
	wrongKey, err := GenerateKeyPair("test-key")
	if err != nil {
		t.Fatalf("idptest: %v", err)
	}

	p := &Provider{
		key:           key,
		wrongKey:      wrongKey,
		codes:         make(map[string]authCode),
		refreshTokens: make(map[string]string),
		accessTokens:  make(map[string]string),
		claims: map[string]any{
			"name":  "Ada Lovelace",
			"email": "ada@example.com",
			"role":  "admin",
		},
		userInfo:      map[string]any{"locale": "en-GB"},
		accessTTL:     time.Hour,
		rotateRefresh: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+RouteDiscovery, p.discovery)
	mux.HandleFunc("GET "+RouteJWKS, p.jwks)
	mux.HandleFunc("GET "+RouteAuthorize, p.authorize)
	mux.HandleFunc("POST "+RouteToken, p.token)
	mux.HandleFunc("GET "+RouteUserInfo, p.userinfo)
	mux.HandleFunc("GET "+RouteEndSession, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	p.Server = httptest.NewServer(mux)
	p.Issuer = p.Server.URL
	t.Cleanup(p.Server.Close)
	return p
}

// SetAccessTokenTTL controls expires_in of issued access tokens
func (p *Provider) SetAccessTokenTTL(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTTL = d
}

// SetRefreshDelay makes every refresh_token grant wait d before answering
func (p *Provider) SetRefreshDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshDelay = d
}

// SetAuthorizeError makes the authorize endpoint answer with error=code
func (p *Provider) SetAuthorizeError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorizeErr = code
}

// SetAudience overrides the aud claim of issued ID tokens
func (p *Provider) SetAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audience = aud
}

// SetNonce overrides the nonce claim of issued ID tokens
func (p *Provider) SetNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonceOverride = nonce
}

// SignWithUnknownKey signs ID tokens with a key that is not in the JWKS
func (p *Provider) SignWithUnknownKey() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signWrongKey = true
}

// OmitIDToken drops id_token from authorization_code responses
func (p *Provider) OmitIDToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetClaim adds a claim to issued ID tokens
func (p *Provider) SetClaim(name string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims[name] = value
}

// SetUserInfo replaces the extra claims served by the userinfo endpoint
func (p *Provider) SetUserInfo(claims map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfo = claims
}

// RevokeRefreshTokens invalidates every refresh token issued so far
func (p *Provider) RevokeRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshTokens = make(map[string]string)
}

// TokenCalls returns the number of token endpoint requests
func (p *Provider) TokenCalls() int {
	return int(p.tokenCalls.Load())
}

// CodeExchanges returns the number of authorization_code grants
func (p *Provider) CodeExchanges() int {
	return int(p.codeCalls.Load())
}

// RefreshCalls returns the number of refresh_token grants
func (p *Provider) RefreshCalls() int {
	return int(p.refreshCalls.Load())
}

// URL returns the absolute URL of an endpoint route
func (p *Provider) URL(route string) string {
	return p.Issuer + route
}

func (p *Provider) discovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Issuer,
		"authorization_endpoint":                p.URL(RouteAuthorize),
		"token_endpoint":                        p.URL(RouteToken),
		"userinfo_endpoint":                     p.URL(RouteUserInfo),
		"jwks_uri":                              p.URL(RouteJWKS),
		"end_session_endpoint":                  p.URL(RouteEndSession),
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
	})
}

func (p *Provider) jwks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JWKS{Keys: []JWK{p.key.ToJWK()}})
}

// authorize approves every valid request immediately and redirects back
// with a code, as if the user had logged in.
func (p *Provider) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	if q.Get("client_id") != ClientID || redirectURI == "" {
		writeJSONError(w, "invalid_request", "unknown client or missing redirect_uri", http.StatusBadRequest)
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		writeJSONError(w, "invalid_request", "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	params := url.Values{"state": {q.Get("state")}}

	p.mu.Lock()
	authorizeErr := p.authorizeErr
	p.mu.Unlock()

	switch {
	case authorizeErr != "":
		params.Set("error", authorizeErr)
		params.Set("error_description", "the user declined")
	case q.Get("response_type") != "code" || q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "":
		params.Set("error", "invalid_request")
	default:
		code := uuid.NewString()
		p.mu.Lock()
		p.codes[code] = authCode{
			clientID:      ClientID,
			redirectURI:   redirectURI,
			codeChallenge: q.Get("code_challenge"),
			nonce:         q.Get("nonce"),
			subject:       Subject,
		}
		p.mu.Unlock()
		params.Set("code", code)
	}

	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	p.tokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if !clientAuthenticated(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="idptest"`)
		writeJSONError(w, "invalid_client", "client authentication failed", http.StatusUnauthorized)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.codeCalls.Add(1)
		p.exchangeCode(w, r)
	case "refresh_token":
		p.refreshCalls.Add(1)
		p.refresh(w, r)
	default:
		writeJSONError(w, "unsupported_grant_type", "", http.StatusBadRequest)
	}
}

func (p *Provider) exchangeCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")

	p.mu.Lock()
	ac, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	if !ok || ac.redirectURI != r.PostForm.Get("redirect_uri") {
		writeJSONError(w, "invalid_grant", "unknown code", http.StatusBadRequest)
		return
	}
	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != ac.codeChallenge {
		writeJSONError(w, "invalid_grant", "PKCE verification failed", http.StatusBadRequest)
		return
	}

	p.issueTokens(w, ac.subject, ac.nonce, true)
}

func (p *Provider) refresh(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	delay := p.refreshDelay
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	rt := r.PostForm.Get("refresh_token")
	p.mu.Lock()
	subject, ok := p.refreshTokens[rt]
	if ok && p.rotateRefresh {
		delete(p.refreshTokens, rt)
	}
	p.mu.Unlock()

	if !ok {
		writeJSONError(w, "invalid_grant", "refresh token revoked or expired", http.StatusBadRequest)
		return
	}
	p.issueTokens(w, subject, "", false)
}

func (p *Provider) issueTokens(w http.ResponseWriter, subject, nonce string, initial bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accessToken := "at-" + uuid.NewString()
	refreshToken := "rt-" + uuid.NewString()
	p.accessTokens[accessToken] = subject
	p.refreshTokens[refreshToken] = subject

	resp := map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    int(p.accessTTL.Seconds()),
		"refresh_token": refreshToken,
	}

	if !initial || !p.omitIDToken {
		idToken, err := p.idToken(subject, nonce, accessToken)
		if err != nil {
			writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
			return
		}
		resp["id_token"] = idToken
	}
	writeJSON(w, http.StatusOK, resp)
}

// idToken must be called with p.mu held
func (p *Provider) idToken(subject, nonce, accessToken string) (string, error) {
	now := time.Now()
	sum := sha256.Sum256([]byte(accessToken))

	claims := jwt.MapClaims{
		"iss":     p.Issuer,
		"sub":     subject,
		"aud":     ClientID,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
		"at_hash": base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]),
	}
	if p.audience != "" {
		claims["aud"] = p.audience
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	if p.nonceOverride != "" {
		claims["nonce"] = p.nonceOverride
	}
	for k, v := range p.claims {
		claims[k] = v
	}

	signer := p.key
	if p.signWrongKey {
		signer = p.wrongKey
	}
	return signer.Sign(claims)
}

func (p *Provider) userinfo(w http.ResponseWriter, r *http.Request) {
	const prefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if len(authz) <= len(prefix) || authz[:len(prefix)] != prefix {
		writeJSONError(w, "invalid_token", "", http.StatusUnauthorized)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	subject, ok := p.accessTokens[authz[len(prefix):]]
	if !ok {
		writeJSONError(w, "invalid_token", "", http.StatusUnauthorized)
		return
	}
	resp := map[string]any{"sub": subject}
	for k, v := range p.userInfo {
		resp[k] = v
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientAuthenticated accepts client_secret_basic and client_secret_post
func clientAuthenticated(r *http.Request) bool {
	if id, secret, ok := r.BasicAuth(); ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
		return id == ClientID && secret == ClientSecret
	}
	return r.PostForm.Get("client_id") == ClientID && r.PostForm.Get("client_secret") == ClientSecret
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	body := map[string]string{"error": errorCode}
	if description != "" {
		body["error_description"] = description
	}
	writeJSON(w, statusCode, body)
}
