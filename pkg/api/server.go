// Package api exposes the auth core over HTTP: session refresh, tenant
// introspection, flag evaluation, and the health/metrics endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/luminate-bi/authcore/pkg/audit"
	"github.com/luminate-bi/authcore/pkg/flags"
	"github.com/luminate-bi/authcore/pkg/httputil"
	"github.com/luminate-bi/authcore/pkg/middleware"
	"github.com/luminate-bi/authcore/pkg/observability"
	"github.com/luminate-bi/authcore/pkg/session"
	"github.com/luminate-bi/authcore/pkg/tenant"
)

// Server wires the middleware chain and handlers onto a mux router.
type Server struct {
	router *mux.Router

	authn    *middleware.Authenticator
	gate     *middleware.RoleGate
	sessions *session.Manager
	flags    *flags.Evaluator
	logger   *observability.Logger
	metrics  *observability.Metrics
	health   *observability.HealthChecker
	audit    audit.Recorder
}

// Option customizes a Server.
type Option func(*Server)

// WithHealthChecker mounts /healthz and /readyz.
func WithHealthChecker(h *observability.HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics mounts /metrics and instruments routes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAudit records refresh outcomes and flag invalidations.
func WithAudit(rec audit.Recorder) Option {
	return func(s *Server) { s.audit = rec }
}

// NewServer builds the HTTP surface.
func NewServer(
	authn *middleware.Authenticator,
	gate *middleware.RoleGate,
	sessions *session.Manager,
	evaluator *flags.Evaluator,
	logger *observability.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		authn:    authn,
		gate:     gate,
		sessions: sessions,
		flags:    evaluator,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	base := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.MaxBytesMiddleware(1<<20),
	)

	if s.health != nil {
		s.router.HandleFunc("/healthz", s.health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", s.health.Readiness).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Session refresh is the one unauthenticated endpoint: its
	// credential is the refresh token itself.
	v1.Handle("/session/refresh",
		s.instrument("/v1/session/refresh", base(http.HandlerFunc(s.handleRefresh))),
	).Methods(http.MethodPost)

	authed := func(h http.Handler) http.Handler {
		return base(s.authn.Handler(h))
	}

	v1.Handle("/me",
		s.instrument("/v1/me", authed(http.HandlerFunc(s.handleMe))),
	).Methods(http.MethodGet)

	v1.Handle("/orgs/{org_id}/flags/{key}",
		s.instrument("/v1/orgs/{org_id}/flags/{key}",
			authed(s.gate.Require(tenant.RoleViewer, "org_id")(http.HandlerFunc(s.handleEvaluateFlag)))),
	).Methods(http.MethodGet)

	v1.Handle("/admin/flags/{key}/invalidate",
		s.instrument("/v1/admin/flags/{key}/invalidate",
			authed(s.gate.Require(tenant.RoleAdmin, "")(http.HandlerFunc(s.handleInvalidateFlag)))),
	).Methods(http.MethodPost)
}

func (s *Server) instrument(path string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return s.metrics.Middleware(path)(h)
}
