package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	requiredRole := s.config.GetRequiredRole()
	writeRole := s.config.GetWriteRole()

	s.RegisterRouteHandler("GET "+RouteIndex, ChainMiddleware(s.IndexHandler(), s.APIMiddleware()...))

	// LOGIN
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthLogin, ChainMiddleware(s.LoginRedirectHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteAuthRedirect, ChainMiddleware(s.AuthRedirectHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware(s.RequireSession)...))

	// API routes
	s.RegisterRouteHandler("GET "+RouteAPIUserInformation, ChainMiddleware(s.UserInformationHandler(), s.APIMiddleware(s.RequireSession, s.RequireRole(requiredRole))...))
	s.RegisterRouteHandler("POST "+RouteAPIWriteData, ChainMiddleware(s.WriteDataHandler(), s.APIMiddleware(s.RequireSession, s.RequireRole(requiredRole, writeRole))...))

	// Operational routes
	s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	s.RegisterRouteHandler("GET "+RoutePages, ChainMiddleware(s.serveFileHandler(), s.HTMLMiddleWare(s.CacheMiddleware)...))

	s.RegisterRouteFunc("GET /", s.NotFoundHandler())

	// CORS preflight for every path
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.CorsMiddleware))
}

func (s *Server) serveFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filePath := r.PathValue("file")
		if filePath == "" {
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
		err := StreamFile(w, r, filePath)
		if err != nil {
			logError(r.Method, r.URL.Path, err.Error())
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
	}
}
