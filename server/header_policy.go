package server

import (
	"net/http"
	"net/url"
	"strings"
)

// HeaderPolicy is the set of security headers applied to every response
type HeaderPolicy map[string]string

// NewHeaderPolicy builds the development or production policy. The IdP
// authority is allowed as a form target so a logout form post can land on
// its end-session endpoint.
func NewHeaderPolicy(development bool, authority string) HeaderPolicy {
	formAction := "form-action 'self'"
	if origin := originOf(authority); origin != "" {
		formAction += " " + origin
	}

	csp := []string{
		"default-src 'self'",
		"img-src 'self' data:",
		"font-src 'self'",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors 'none'",
		formAction,
	}
	if development {
		// Dev servers inject inline scripts and keep a websocket open for hot reload
		csp = append(csp,
			"script-src 'self' 'unsafe-inline' 'unsafe-eval'",
			"style-src 'self' 'unsafe-inline'",
			"connect-src 'self' ws: wss:",
		)
	} else {
		csp = append(csp,
			"script-src 'self'",
			"style-src 'self'",
			"connect-src 'self'",
			"upgrade-insecure-requests",
		)
	}

	policy := HeaderPolicy{
		"Content-Security-Policy":      strings.Join(csp, "; "),
		"X-Frame-Options":              "DENY",
		"X-Content-Type-Options":       "nosniff",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Opener-Policy":   "same-origin",
		"Cross-Origin-Resource-Policy": "same-origin",
		"Permissions-Policy":           "camera=(), microphone=(), geolocation=()",
	}
	if development {
		policy["Referrer-Policy"] = "strict-origin-when-cross-origin"
	} else {
		policy["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
	}
	return policy
}

// Apply sets every header of the policy, replacing existing values
func (p HeaderPolicy) Apply(h http.Header) {
	for k, v := range p {
		h.Set(k, v)
	}
}

func originOf(authority string) string {
	u, err := url.Parse(authority)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
