package server

// Route path constants
// All gateway owned routes are defined here; everything else is decided by the gate
const (
	// BFF management routes
	RouteLogin  = "/bff/login"
	RouteLogout = "/bff/logout"
	RouteUser   = "/bff/user"

	// OIDC callback, registered with the IdP as redirect_uri
	RouteCallback = "/signin-oidc"

	RouteHealth = "/healthz"

	// Catch-all handled by the gate
	RouteGateway = "/"
)
