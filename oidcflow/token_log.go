package oidcflow

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-bff-server/sessions"
	"github.com/rs/zerolog/log"
)

// logTokens writes decoded ID token claims and token fingerprints at debug
// level. It is only ever enabled in development: the claims carry personal
// data. Raw tokens are never logged.
func logTokens(event, sessionID string, tokens sessions.Tokens) {
	entry := log.Debug().
		Str("event", event).
		Str("session", fingerprint(sessionID)).
		Str("access_token", fingerprint(tokens.AccessToken)).
		Time("access_token_expiry", tokens.Expiry)

	if tokens.RefreshToken != "" {
		entry = entry.Str("refresh_token", fingerprint(tokens.RefreshToken))
	}
	if tokens.IDToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tokens.IDToken, claims); err == nil {
			entry = entry.Interface("id_token_claims", map[string]any(claims))
		}
	}
	entry.Msg("oidc tokens issued")
}

func fingerprint(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:6])
}
