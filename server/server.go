package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-gateway/auth"
	"github.com/jrsteele09/go-session-gateway/internal/config"
	"github.com/jrsteele09/go-session-gateway/internal/metrics"
	"github.com/jrsteele09/go-session-gateway/server/authflowrepo"
)

// HealthChecker reports whether the session store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP layer, built once in main.
type Deps struct {
	Auth      *auth.Authenticator
	AuthFlows authflowrepo.Repo
	Metrics   *metrics.Recorder
	Health    HealthChecker
}

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	auth      *auth.Authenticator
	authFlows authflowrepo.Repo
	metrics   *metrics.Recorder
	health    HealthChecker
}

func New(config config.Config, deps Deps) *Server {
	s := &Server{
		env:       config.GetEnv(),
		mux:       http.NewServeMux(),
		config:    config,
		auth:      deps.Auth,
		authFlows: deps.AuthFlows,
		metrics:   deps.Metrics,
		health:    deps.Health,
	}
	if s.authFlows == nil {
		s.authFlows = authflowrepo.NewInMemoryRepo()
	}

	s.initRoutes()
	s.logRoutes()

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// redirectURI is the callback registered with the identity provider.
func (s *Server) redirectURI() string {
	return s.config.GetBaseURL() + RouteAuthRedirect
}
