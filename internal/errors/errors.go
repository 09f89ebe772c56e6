package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the BFF gateway
var (
	// Login flow errors
	ErrInvalidState        = errors.New("invalid state")
	ErrAuthorizationDenied = errors.New("authorization denied by identity provider")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrInvalidIDToken      = errors.New("invalid id token")

	// Session errors
	ErrRefreshFailed   = errors.New("refresh failed")
	ErrSessionNotFound = errors.New("session not found")

	// Request errors
	ErrCsrfValidationFailed = errors.New("csrf validation failed")

	// Upstream errors
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// StatusCode maps an error chain to the HTTP status reported to the caller.
// Timeouts are checked first because they are joined with the operation error.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthorizationDenied), errors.Is(err, ErrCsrfValidationFailed):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidIDToken), errors.Is(err, ErrRefreshFailed), errors.Is(err, ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTokenExchangeFailed), errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the short machine readable code used in API error bodies
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAuthorizationDenied):
		return "access_denied"
	case errors.Is(err, ErrCsrfValidationFailed):
		return "csrf_validation_failed"
	case errors.Is(err, ErrInvalidIDToken):
		return "invalid_id_token"
	case errors.Is(err, ErrRefreshFailed), errors.Is(err, ErrSessionNotFound):
		return "unauthorized"
	case errors.Is(err, ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
