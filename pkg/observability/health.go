package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// KeyAgeReporter reports when the JWKS key set was last fetched.
// Implemented by jwks.Cache.
type KeyAgeReporter interface {
	LastFetched() time.Time
}

// HealthChecker probes the auth core's dependencies: the flag/directory
// database, the optional Redis layer, and the JWKS key cache.
type HealthChecker struct {
	db   *sql.DB
	rdb  *redis.Client
	keys KeyAgeReporter
	// keyStaleAfter marks the JWKS probe degraded once the key set is
	// older than this. Zero disables the probe.
	keyStaleAfter time.Duration
}

// NewHealthChecker creates a health checker. Any dependency may be nil
// and its probe is skipped.
func NewHealthChecker(db *sql.DB, rdb *redis.Client, keys KeyAgeReporter, keyStaleAfter time.Duration) *HealthChecker {
	return &HealthChecker{db: db, rdb: rdb, keys: keys, keyStaleAfter: keyStaleAfter}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Liveness always returns 200 while the process is running.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness checks all dependencies; 503 when unhealthy.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check runs every configured probe and folds the results.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	merge := func(name string, dep DependencyStatus, optional bool) {
		status.Dependencies[name] = dep
		switch dep.Status {
		case StatusUnhealthy:
			if optional {
				if status.Status == StatusHealthy {
					status.Status = StatusDegraded
				}
			} else {
				status.Status = StatusUnhealthy
			}
		case StatusDegraded:
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		}
	}

	if h.db != nil {
		merge("database", h.checkDatabase(ctx), false)
	}
	// Redis is a read-through layer only; losing it degrades, it does
	// not take the service down.
	if h.rdb != nil {
		merge("redis", h.checkRedis(ctx), true)
	}
	if h.keys != nil && h.keyStaleAfter > 0 {
		merge("jwks", h.checkKeys(), true)
	}

	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy}

	if err := h.db.PingContext(ctx); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
		dep.LatencyMS = time.Since(start).Milliseconds()
		return dep
	}
	dep.LatencyMS = time.Since(start).Milliseconds()

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		dep.Status = StatusDegraded
		dep.Message = "connection pool exhausted"
	}
	return dep
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy}

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	dep.LatencyMS = time.Since(start).Milliseconds()
	return dep
}

func (h *HealthChecker) checkKeys() DependencyStatus {
	dep := DependencyStatus{Status: StatusHealthy}
	last := h.keys.LastFetched()
	switch {
	case last.IsZero():
		dep.Status = StatusDegraded
		dep.Message = "key set not fetched yet"
	case time.Since(last) > h.keyStaleAfter:
		dep.Status = StatusDegraded
		dep.Message = "key set is stale"
	}
	return dep
}
