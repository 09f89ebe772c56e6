package server

func (s *Server) initRoutes() {
	// BFF management endpoints
	s.RegisterRouteHandler("GET "+RouteLogin, ChainMiddleware(s.LoginHandler(), s.StdMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.StdMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.StdMiddleware()...)) // For form_post response mode
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.StdMiddleware(s.APIMiddleware()...)...))
	s.RegisterRouteHandler("GET "+RouteUser, ChainMiddleware(s.UserHandler(), s.StdMiddleware(s.APIMiddleware()...)...))

	// Probes arrive over plain HTTP inside the cluster, so no HTTPS redirect
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.RecoverMiddleware, s.SecurityHeadersMiddleware))

	// Everything else goes through the gate: proxied APIs and the SPA host
	s.RegisterRouteHandler(RouteGateway, ChainMiddleware(s.GatewayHandler(), s.StdMiddleware(s.APIMiddleware()...)...))
}
