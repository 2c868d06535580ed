// Package flags resolves feature flag values for a user/tenant pair.
//
// Resolution order, first match wins: user override, organization
// override, percentage rollout, global default. Rollout membership is a
// deterministic hash of flag key and user id, so a user sees a stable
// value across requests with no sticky-session state.
//
// Evaluation results are cached per (flag, organization, user) tuple.
// Entries are never shared across tenants, even for the same flag key.
// The evaluator never returns an error: when the definition store is
// unreachable it serves the last cached value within a staleness
// ceiling, then the flag's configured fallback.
package flags

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/luminate-bi/authcore/pkg/observability"
	"github.com/luminate-bi/authcore/pkg/tenant"
)

// Resolution sources, recorded in metrics.
const (
	sourceUserOverride = "user_override"
	sourceOrgOverride  = "org_override"
	sourceRollout      = "rollout"
	sourceDefault      = "default"
	sourceCache        = "cache"
	sourceStale        = "stale_cache"
	sourceFallback     = "fallback"
)

type cacheEntry struct {
	value      bool
	computedAt time.Time
}

// EvaluatorConfig holds evaluation cache settings.
type EvaluatorConfig struct {
	// FreshFor is how long a cached result is served without
	// recomputation. Default 2m.
	FreshFor time.Duration
	// StaleCeiling bounds how old a cached result may be and still
	// serve as a fallback on store failure. Default 10m. The LRU's TTL
	// is set to this, so anything still in cache is usable as stale.
	StaleCeiling time.Duration
	// MaxEntries bounds the cache. Default 10000.
	MaxEntries int
	// Fallbacks maps flag keys to the value served when neither the
	// store nor the cache can answer. A fallback declared on the flag
	// definition itself takes precedence once the definition has been
	// fetched.
	Fallbacks map[string]bool
	// DefaultFallback covers flags absent from Fallbacks.
	DefaultFallback bool
}

func (c *EvaluatorConfig) applyDefaults() {
	if c.FreshFor <= 0 {
		c.FreshFor = 2 * time.Minute
	}
	if c.StaleCeiling <= 0 {
		c.StaleCeiling = 10 * time.Minute
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = logger }
}

// WithMetrics wires evaluation metrics.
func WithMetrics(m *observability.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// Evaluator resolves flag values with a short-TTL per-tenant cache.
type Evaluator struct {
	store   Store
	cfg     EvaluatorConfig
	cache   *lru.LRU[string, cacheEntry]
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// fallbacks remembers each fetched definition's declared fallback,
	// so an outage serves the flag author's fail-safe even for tuples
	// that were never cached.
	fallbackMu sync.RWMutex
	fallbacks  map[string]bool
}

// NewEvaluator creates an Evaluator over the given definition store.
func NewEvaluator(store Store, cfg EvaluatorConfig, opts ...EvaluatorOption) *Evaluator {
	cfg.applyDefaults()
	e := &Evaluator{
		store:     store,
		cfg:       cfg,
		cache:     lru.NewLRU[string, cacheEntry](cfg.MaxEntries, nil, cfg.StaleCeiling),
		logger:    observability.NewLogger(observability.InfoLevel, nil),
		now:       time.Now,
		fallbacks: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate resolves the flag for the given tenant context. It never
// fails: flag evaluation must not break page rendering.
func (e *Evaluator) Evaluate(ctx context.Context, key string, tc *tenant.Context) bool {
	cacheKey := evaluationKey(key, tc)

	if entry, ok := e.cache.Get(cacheKey); ok {
		if e.now().Sub(entry.computedAt) < e.cfg.FreshFor {
			e.recordSource(sourceCache)
			e.recordCacheHit(true)
			return entry.value
		}
	}
	e.recordCacheHit(false)

	def, err := e.store.GetDefinition(ctx, key)
	if err != nil {
		return e.degrade(ctx, key, cacheKey, err)
	}

	value, source := resolve(def, tc)
	e.rememberFallback(def)
	e.cache.Add(cacheKey, cacheEntry{value: value, computedAt: e.now()})
	e.recordSource(source)
	return value
}

// Invalidate drops cached evaluations after an administrative flag
// update. The LRU cannot be purged by key pattern, so the whole
// evaluation cache is cleared; entries repopulate on next use.
func (e *Evaluator) Invalidate(ctx context.Context, key string) error {
	e.cache.Purge()
	if inv, ok := e.store.(Invalidator); ok {
		return inv.Invalidate(ctx, key)
	}
	return nil
}

// degrade handles a store failure: stale cache first, configured
// fallback last. Entries older than the staleness ceiling have already
// been evicted by the LRU's TTL.
func (e *Evaluator) degrade(ctx context.Context, key, cacheKey string, cause error) bool {
	logger := observability.FromContext(ctx).WithError(cause).WithField("flag", key)

	if errors.Is(cause, ErrFlagNotFound) {
		// An unknown flag is not an outage. Serve the fallback and keep
		// quiet beyond debug.
		e.recordSource(sourceFallback)
		logger.Debug("flag not defined, serving fallback")
		return e.fallbackFor(key)
	}

	if e.metrics != nil {
		e.metrics.FlagStoreErrorsTotal.Inc()
	}

	if entry, ok := e.cache.Get(cacheKey); ok {
		e.recordSource(sourceStale)
		logger.Warn("flag store unavailable, serving stale cached value")
		return entry.value
	}

	e.recordSource(sourceFallback)
	logger.Warn("flag store unavailable and no cached value, serving fallback")
	return e.fallbackFor(key)
}

func (e *Evaluator) rememberFallback(def *Definition) {
	e.fallbackMu.Lock()
	e.fallbacks[def.Key] = def.Fallback
	e.fallbackMu.Unlock()
}

func (e *Evaluator) fallbackFor(key string) bool {
	e.fallbackMu.RLock()
	v, ok := e.fallbacks[key]
	e.fallbackMu.RUnlock()
	if ok {
		return v
	}
	if v, ok := e.cfg.Fallbacks[key]; ok {
		return v
	}
	return e.cfg.DefaultFallback
}

func (e *Evaluator) recordSource(source string) {
	if e.metrics != nil {
		e.metrics.FlagEvaluationsTotal.WithLabelValues(source).Inc()
	}
}

func (e *Evaluator) recordCacheHit(hit bool) {
	if e.metrics == nil {
		return
	}
	if hit {
		e.metrics.FlagCacheHitsTotal.Inc()
	} else {
		e.metrics.FlagCacheMissesTotal.Inc()
	}
}

// resolve applies the resolution order to a definition.
func resolve(def *Definition, tc *tenant.Context) (bool, string) {
	if v, ok := def.UserOverrides[tc.UserID]; ok {
		return v, sourceUserOverride
	}
	if v, ok := def.OrgOverrides[tc.OrganizationID]; ok {
		return v, sourceOrgOverride
	}
	if def.RolloutPercent > 0 {
		if Bucket(def.Key, tc.UserID) < def.RolloutPercent {
			return true, sourceRollout
		}
		return false, sourceRollout
	}
	return def.Enabled, sourceDefault
}

// Bucket maps (flagKey, userID) to a stable bucket in [0,100). The hash
// must stay fixed forever: changing it reshuffles every rollout.
func Bucket(flagKey, userID string) int {
	h := sha256.Sum256([]byte(flagKey + ":" + userID))
	return int(binary.BigEndian.Uint64(h[:8]) % 100)
}

// evaluationKey builds the cache key. The tuple includes organization
// and user so entries can never leak across tenants; 0x1f separators
// keep adjacent fields from colliding.
func evaluationKey(flagKey string, tc *tenant.Context) string {
	return flagKey + "\x1f" + tc.OrganizationID + "\x1f" + tc.UserID
}
