// Package oidcflow drives the OpenID Connect authorization code flow on
// behalf of the browser: it starts logins, completes callbacks, refreshes
// expired access tokens and ends sessions.
package oidcflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-bff-server/internal/config"
	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/jrsteele09/go-bff-server/oidcstate"
	"github.com/jrsteele09/go-bff-server/sessions"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Engine is the OIDC relying party
type Engine struct {
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	httpClient   *http.Client

	states   oidcstate.Repo
	sessions *sessions.Manager

	endSessionURL      string
	postLogoutRedirect string
	useUserInfo        bool
	logTokens          bool

	stateLifetime time.Duration
	httpTimeout   time.Duration
	refreshSkew   time.Duration

	refreshGroup singleflight.Group
	now          func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithHTTPClient sets the client used for every IdP call
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = c
	}
}


// LoginInstruction tells the caller where to send the browser and which
// correlation value to pin in a short-lived cookie.
type LoginInstruction struct {
	AuthURL       string
	CorrelationID string
	ExpiresAt     time.Time
}

// CallbackParams are the parameters the IdP sent to the callback route
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult is a completed login
type CallbackResult struct {
	Session    *sessions.Session
	RedirectTo string
}

// LogoutInstruction carries the IdP end-session URL, empty when the IdP
// does not advertise one.
type LogoutInstruction struct {
	EndSessionURL string
}

// NewEngine discovers the IdP at the configured authority. redirectURL is
// the absolute URL of the callback route.
func NewEngine(ctx context.Context, cfg config.OIDCConfig, redirectURL string, states oidcstate.Repo, sessionManager *sessions.Manager, opts ...Option) (*Engine, error) {
	e := &Engine{
		httpClient:         &http.Client{Timeout: cfg.GetHTTPTimeout()},
		states:             states,
		sessions:           sessionManager,
		postLogoutRedirect: cfg.GetPostLogoutRedirect(),
		useUserInfo:        cfg.GetUseUserInfo(),
		logTokens:          cfg.GetLogTokens(),
		stateLifetime:      cfg.GetStateLifetime(),
		httpTimeout:        cfg.GetHTTPTimeout(),
		refreshSkew:        cfg.GetRefreshSkew(),
		now:                sessionManager.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	discoveryCtx, cancel := context.WithTimeout(oidc.ClientContext(ctx, e.httpClient), e.httpTimeout)
	defer cancel()
	provider, err := oidc.NewProvider(discoveryCtx, cfg.GetAuthority())
	if err != nil {
		return nil, fmt.Errorf("[oidcflow NewEngine] failed to discover %s: %w", cfg.GetAuthority(), err)
	}

	var metadata struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return nil, fmt.Errorf("[oidcflow NewEngine] failed to read provider metadata: %w", err)
	}

	e.provider = provider
	e.endSessionURL = metadata.EndSessionEndpoint
	e.verifier = provider.Verifier(&oidc.Config{
		ClientID: cfg.GetClientID(),
		Now:      e.now,
	})
	e.oauth2Config = &oauth2.Config{
		ClientID:     cfg.GetClientID(),
		ClientSecret: cfg.GetClientSecret(),
		Endpoint:     provider.Endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       cfg.GetScopes(),
	}
	return e, nil
}

// BeginLogin records a new login attempt and builds the authorization URL.
// requestedRedirect is where the browser lands after login; anything that
// is not a local path is replaced with "/".
func (e *Engine) BeginLogin(ctx context.Context, requestedRedirect string) (*LoginInstruction, error) {
	stateNonce, err := randomString(32)
	if err != nil {
		return nil, fmt.Errorf("[oidcflow BeginLogin] %w", err)
	}
	oidcNonce, err := randomString(32)
	if err != nil {
		return nil, fmt.Errorf("[oidcflow BeginLogin] %w", err)
	}
	correlationID, err := randomString(32)
	if err != nil {
		return nil, fmt.Errorf("[oidcflow BeginLogin] %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	now := e.now()
	state := &oidcstate.State{
		StateNonce:      stateNonce,
		CodeVerifier:    verifier,
		OIDCNonce:       oidcNonce,
		RedirectTo:      SanitizeRedirect(requestedRedirect),
		CorrelationHash: hashCorrelation(correlationID),
		CreatedAt:       now,
		ExpiresAt:       now.Add(e.stateLifetime),
	}
	if err := e.states.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("[oidcflow BeginLogin] failed to store login state: %w", err)
	}

	authURL := e.oauth2Config.AuthCodeURL(stateNonce,
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(oidcNonce),
	)
	return &LoginInstruction{
		AuthURL:       authURL,
		CorrelationID: correlationID,
		ExpiresAt:     state.ExpiresAt,
	}, nil
}

// HandleCallback completes a login. The state is consumed before anything
// else, so a replayed callback always fails with ErrInvalidState.
func (e *Engine) HandleCallback(ctx context.Context, params CallbackParams, correlationID string) (*CallbackResult, error) {
	if params.State == "" {
		return nil, bfferrors.Wrapf(bfferrors.ErrInvalidState, "[oidcflow HandleCallback] missing state")
	}
	state, err := e.states.Consume(ctx, params.State)
	if err != nil {
		return nil, fmt.Errorf("[oidcflow HandleCallback] %w", err)
	}
	if !correlationMatches(state.CorrelationHash, correlationID) {
		return nil, bfferrors.Wrapf(bfferrors.ErrInvalidState, "[oidcflow HandleCallback] correlation mismatch")
	}
	if params.Error != "" {
		return nil, fmt.Errorf("[oidcflow HandleCallback] %s %s: %w", params.Error, params.ErrorDescription, bfferrors.ErrAuthorizationDenied)
	}
	if params.Code == "" {
		return nil, bfferrors.Wrapf(bfferrors.ErrTokenExchangeFailed, "[oidcflow HandleCallback] missing code")
	}

	idpCtx, cancel := context.WithTimeout(oidc.ClientContext(ctx, e.httpClient), e.httpTimeout)
	defer cancel()

	token, err := e.oauth2Config.Exchange(idpCtx, params.Code, oauth2.VerifierOption(state.CodeVerifier))
	if err != nil {
		return nil, upstreamError("[oidcflow HandleCallback] exchange", bfferrors.ErrTokenExchangeFailed, err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, bfferrors.Wrapf(bfferrors.ErrInvalidIDToken, "[oidcflow HandleCallback] no id_token in token response")
	}
	idToken, err := e.verifier.Verify(idpCtx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[oidcflow HandleCallback] %w: %w", bfferrors.ErrInvalidIDToken, err)
	}
	if !nonceMatches(idToken.Nonce, state.OIDCNonce) {
		return nil, bfferrors.Wrapf(bfferrors.ErrInvalidIDToken, "[oidcflow HandleCallback] nonce mismatch")
	}
	if idToken.AccessTokenHash != "" {
		if err := idToken.VerifyAccessToken(token.AccessToken); err != nil {
			return nil, fmt.Errorf("[oidcflow HandleCallback] %w: %w", bfferrors.ErrInvalidIDToken, err)
		}
	}

	claims, err := identityClaims(idToken)
	if err != nil {
		return nil, fmt.Errorf("[oidcflow HandleCallback] %w: %w", bfferrors.ErrInvalidIDToken, err)
	}
	if e.useUserInfo && e.provider.UserInfoEndpoint() != "" {
		if err := e.mergeUserInfo(idpCtx, token, idToken.Subject, claims); err != nil {
			return nil, fmt.Errorf("[oidcflow HandleCallback] %w", err)
		}
	}

	tokens := tokensFrom(token, rawIDToken)
	session, err := e.sessions.Create(ctx, tokens, claims)
	if err != nil {
		return nil, fmt.Errorf("[oidcflow HandleCallback] %w", err)
	}
	if e.logTokens {
		logTokens("login", session.ID, tokens)
	}

	return &CallbackResult{Session: session, RedirectTo: state.RedirectTo}, nil
}

// NeedsRefresh reports whether the session's access token is expired or
// about to expire.
func (e *Engine) NeedsRefresh(s *sessions.Session) bool {
	return s.AccessTokenExpired(e.now(), e.refreshSkew)
}

// Refresh exchanges the session's refresh token for new tokens. Concurrent
// calls for one session share a single IdP request. A rejected refresh
// token deletes the session; the caller must then treat the browser as
// logged out.
func (e *Engine) Refresh(ctx context.Context, sessionID string) (*sessions.Session, error) {
	ch := e.refreshGroup.DoChan(sessionID, func() (any, error) {
		// Late arrivals share this call, so it must outlive the first caller.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.httpTimeout)
		defer cancel()
		return e.refreshLocked(refreshCtx, sessionID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sessions.Session).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) refreshLocked(ctx context.Context, sessionID string) (*sessions.Session, error) {
	var refreshed *sessions.Session

	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := e.sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		// Another instance may have refreshed while we waited for the lock
		if !e.NeedsRefresh(s) {
			refreshed = s
			return nil
		}
		if s.RefreshToken == "" {
			_ = e.sessions.Delete(ctx, sessionID)
			return bfferrors.Wrapf(bfferrors.ErrRefreshFailed, "[oidcflow Refresh] session has no refresh token")
		}

		idpCtx := oidc.ClientContext(ctx, e.httpClient)
		token, err := e.oauth2Config.TokenSource(idpCtx, &oauth2.Token{RefreshToken: s.RefreshToken}).Token()
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				_ = e.sessions.Delete(ctx, sessionID)
				return fmt.Errorf("[oidcflow Refresh] idp rejected refresh token (%s): %w", retrieveErr.ErrorCode, bfferrors.ErrRefreshFailed)
			}
			return upstreamError("[oidcflow Refresh]", bfferrors.ErrRefreshFailed, err)
		}

		rawIDToken, _ := token.Extra("id_token").(string)
		if rawIDToken != "" {
			idToken, err := e.verifier.Verify(idpCtx, rawIDToken)
			if err != nil || idToken.Subject != s.Subject() {
				_ = e.sessions.Delete(ctx, sessionID)
				return fmt.Errorf("[oidcflow Refresh] %w: %w", bfferrors.ErrRefreshFailed, bfferrors.ErrInvalidIDToken)
			}
		}

		tokens := tokensFrom(token, rawIDToken)
		s.ApplyTokens(tokens, e.now())
		if err := e.sessions.Save(ctx, s); err != nil {
			return fmt.Errorf("[oidcflow Refresh] %w", err)
		}
		if e.logTokens {
			logTokens("refresh", s.ID, tokens)
		}
		refreshed = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// Logout deletes the session and builds the IdP end-session URL. Logging
// out an unknown session still yields the end-session URL, without a hint.
func (e *Engine) Logout(ctx context.Context, sessionID string) (*LogoutInstruction, error) {
	var idTokenHint string

	if sessionID != "" {
		err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
			if s, err := e.sessions.Get(ctx, sessionID); err == nil {
				idTokenHint = s.IDToken
			}
			return e.sessions.Delete(ctx, sessionID)
		})
		if err != nil {
			return nil, fmt.Errorf("[oidcflow Logout] %w", err)
		}
	}

	if e.endSessionURL == "" {
		return &LogoutInstruction{}, nil
	}
	u, err := url.Parse(e.endSessionURL)
	if err != nil {
		return nil, fmt.Errorf("[oidcflow Logout] invalid end_session_endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", e.oauth2Config.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if e.postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", e.postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return &LogoutInstruction{EndSessionURL: u.String()}, nil
}

// Authority returns the issuer the engine trusts
func (e *Engine) Authority() string {
	var metadata struct {
		Issuer string `json:"issuer"`
	}
	_ = e.provider.Claims(&metadata)
	return metadata.Issuer
}

// StateLifetime returns how long a login attempt stays valid
func (e *Engine) StateLifetime() time.Duration {
	return e.stateLifetime
}

func (e *Engine) mergeUserInfo(ctx context.Context, token *oauth2.Token, subject string, claims map[string]any) error {
	info, err := e.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return upstreamError("userinfo", bfferrors.ErrTokenExchangeFailed, err)
	}
	if info.Subject != subject {
		return bfferrors.Wrapf(bfferrors.ErrInvalidIDToken, "userinfo subject mismatch")
	}

	var extra map[string]any
	if err := info.Claims(&extra); err != nil {
		return fmt.Errorf("failed to decode userinfo claims: %w: %w", bfferrors.ErrTokenExchangeFailed, err)
	}
	for k, v := range extra {
		if _, exists := claims[k]; !exists {
			claims[k] = v
		}
	}
	return nil
}

// protocolClaims only matter while validating the ID token
var protocolClaims = []string{"nonce", "at_hash", "c_hash"}

func identityClaims(idToken *oidc.IDToken) (map[string]any, error) {
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	for _, c := range protocolClaims {
		delete(claims, c)
	}
	return claims, nil
}

func tokensFrom(token *oauth2.Token, rawIDToken string) sessions.Tokens {
	return sessions.Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
		TokenType:    token.Type(),
		Expiry:       token.Expiry,
	}
}

// upstreamError wraps an IdP failure in the operation's sentinel, adding
// ErrUpstreamTimeout when the call ran out of time.
func upstreamError(op string, sentinel error, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w: %v", op, sentinel, bfferrors.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}

// SanitizeRedirect only lets local absolute paths through. Protocol
// relative and backslash tricks such as //evil.example or /\evil are
// rejected.
func SanitizeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return target
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
