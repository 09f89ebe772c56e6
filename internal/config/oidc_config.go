package config

import "time"

type OIDCConfig interface {
	GetAuthority() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetUseUserInfo() bool
	GetPostLogoutRedirect() string
	GetLogTokens() bool
	GetHTTPTimeout() time.Duration
	GetStateLifetime() time.Duration
	GetRefreshSkew() time.Duration
}

type OIDC struct {
	Authority          string        `env:"OIDC_AUTHORITY"`
	ClientID           string        `env:"OIDC_CLIENT_ID"`
	ClientSecret       string        `env:"OIDC_CLIENT_SECRET"`
	Scopes             []string      `env:"OIDC_SCOPES" envSeparator:" " envDefault:"openid profile email offline_access"`
	UseUserInfo        bool          `env:"OIDC_USERINFO" envDefault:"true"`
	PostLogoutRedirect string        `env:"OIDC_POST_LOGOUT_REDIRECT"`
	LogTokens          bool          `env:"OIDC_LOG_TOKENS" envDefault:"false"`
	HTTPTimeout        time.Duration `env:"OIDC_HTTP_TIMEOUT" envDefault:"10s"`
	StateLifetime      time.Duration `env:"OIDC_STATE_LIFETIME" envDefault:"10m"`
	RefreshSkew        time.Duration `env:"OIDC_REFRESH_SKEW" envDefault:"30s"`
}

var _ OIDCConfig = OIDC{}

func (o OIDC) GetAuthority() string {
	return o.Authority
}

func (o OIDC) GetClientID() string {
	return o.ClientID
}

func (o OIDC) GetClientSecret() string {
	return o.ClientSecret
}

func (o OIDC) GetScopes() []string {
	if len(o.Scopes) == 0 {
		return []string{"openid", "profile", "email", "offline_access"}
	}
	return o.Scopes
}

func (o OIDC) GetUseUserInfo() bool {
	return o.UseUserInfo
}

// GetPostLogoutRedirect returns the absolute URL the IdP sends the browser
// back to after end-session. Empty means "do not send one".
func (o OIDC) GetPostLogoutRedirect() string {
	return o.PostLogoutRedirect
}

// GetLogTokens is overridden by Settings so that it is development only
func (o OIDC) GetLogTokens() bool {
	return o.LogTokens
}

func (o OIDC) GetHTTPTimeout() time.Duration {
	if o.HTTPTimeout <= 0 {
		return 10 * time.Second
	}
	return o.HTTPTimeout
}

func (o OIDC) GetStateLifetime() time.Duration {
	if o.StateLifetime <= 0 {
		return 10 * time.Minute
	}
	return o.StateLifetime
}

// GetRefreshSkew is how long before expiry an access token is treated as expired
func (o OIDC) GetRefreshSkew() time.Duration {
	if o.RefreshSkew < 0 {
		return 0
	}
	return o.RefreshSkew
}
