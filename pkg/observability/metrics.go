package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the auth core.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Token verification metrics
	TokenVerificationsTotal *prometheus.CounterVec

	// JWKS cache metrics
	JWKSRefreshesTotal *prometheus.CounterVec
	JWKSKeysCurrent    prometheus.Gauge

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec

	// Feature flag metrics
	FlagEvaluationsTotal *prometheus.CounterVec
	FlagCacheHitsTotal   prometheus.Counter
	FlagCacheMissesTotal prometheus.Counter
	FlagStoreErrorsTotal prometheus.Counter

	// Session refresh metrics
	SessionRefreshesTotal  *prometheus.CounterVec
	SessionRefreshDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics. A nil
// registry creates a private one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_token_verifications_total",
				Help: "Total token verification attempts by outcome",
			},
			[]string{"outcome"},
		),
		JWKSRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_jwks_refreshes_total",
				Help: "Total JWKS key set refreshes by outcome",
			},
			[]string{"outcome"},
		),
		JWKSKeysCurrent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcore_jwks_keys_current",
				Help: "Number of signing keys in the current key set",
			},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_authz_decisions_total",
				Help: "Authorization decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		FlagEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_flag_evaluations_total",
				Help: "Feature flag evaluations by resolution source",
			},
			[]string{"source"},
		),
		FlagCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_flag_cache_hits_total",
				Help: "Feature flag evaluation cache hits",
			},
		),
		FlagCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_flag_cache_misses_total",
				Help: "Feature flag evaluation cache misses",
			},
		),
		FlagStoreErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_flag_store_errors_total",
				Help: "Errors reading the flag definition store",
			},
		),
		SessionRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_session_refreshes_total",
				Help: "Refresh token exchanges by outcome",
			},
			[]string{"outcome"},
		),
		SessionRefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authcore_session_refresh_duration_seconds",
				Help:    "Refresh token exchange duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokenVerificationsTotal,
		m.JWKSRefreshesTotal,
		m.JWKSKeysCurrent,
		m.AuthzDecisionsTotal,
		m.FlagEvaluationsTotal,
		m.FlagCacheHitsTotal,
		m.FlagCacheMissesTotal,
		m.FlagStoreErrorsTotal,
		m.SessionRefreshesTotal,
		m.SessionRefreshDuration,
	)

	return m
}

// Handler returns the /metrics endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments HTTP handlers with request count and duration.
// The route template should be used as path to bound cardinality.
func (m *Metrics) Middleware(path string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
