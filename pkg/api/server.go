package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cloudrounds/rounds/pkg/articles"
	"github.com/cloudrounds/rounds/pkg/audit"
	"github.com/cloudrounds/rounds/pkg/config"
	"github.com/cloudrounds/rounds/pkg/feedback"
	"github.com/cloudrounds/rounds/pkg/httputil"
	"github.com/cloudrounds/rounds/pkg/middleware"
	"github.com/cloudrounds/rounds/pkg/observability"
	"github.com/cloudrounds/rounds/pkg/purposes"
	"github.com/cloudrounds/rounds/pkg/requests"
	"github.com/cloudrounds/rounds/pkg/sso"
	"github.com/cloudrounds/rounds/pkg/users"
)

// RouteRegistrar is implemented by every feature handler set.
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Deps carries everything the server mounts. SSO and RateLimit are
// optional; the rest are required.
type Deps struct {
	Config  *config.Config
	Metrics *observability.Metrics

	Auth      *middleware.AuthMiddleware
	RateLimit func(http.Handler) http.Handler

	Users    *users.Handlers
	Purposes *purposes.Handlers
	Requests *requests.Handlers
	Articles *articles.Handlers
	Feedback *feedback.Handlers
	Audit    *audit.Handlers
	SSO      *sso.Handlers
}

// Server is the assembled HTTP API.
type Server struct {
	router *mux.Router
	deps   Deps
}

// NewServer builds the router and mounts all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the route tiers. Public routes must be
// registered before the authenticated subrouter: mux matches in
// registration order and the subrouter claims every remaining path.
func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		httputil.CORSMiddleware(s.deps.Config.Server.CORSAllowedOrigins),
		httputil.LoggingMiddleware,
	)
	if s.deps.Metrics != nil {
		s.router.Use(s.deps.Metrics.HTTPMiddleware)
	}

	// Public tier.
	s.deps.Users.RegisterPublicRoutes(s.router)
	if s.deps.SSO != nil {
		s.deps.SSO.RegisterRoutes(s.router)
	}

	// Authenticated tier.
	authed := s.router.PathPrefix("/").Subrouter()
	authed.Use(s.deps.Auth.Handler)
	if s.deps.RateLimit != nil {
		authed.Use(s.deps.RateLimit)
	}

	for _, registrar := range []RouteRegistrar{
		s.deps.Users,
		s.deps.Purposes,
		s.deps.Requests,
		s.deps.Articles,
		s.deps.Feedback,
	} {
		registrar.RegisterRoutes(authed)
	}

	// Admin tier: the audit trail is not exposed to regular users.
	authed.Handle("/audit/events",
		middleware.RequireAdmin(http.HandlerFunc(s.deps.Audit.ListEvents))).Methods("GET")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server wrapped for tracing when OTel is enabled.
func (s *Server) Handler() http.Handler {
	if s.deps.Config.Observability.OTelEnabled {
		return otelhttp.NewHandler(s.router, "rounds-api")
	}
	return s.router
}
