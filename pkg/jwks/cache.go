// Package jwks fetches and caches the identity provider's public
// signing keys.
//
// The key set is replaced wholesale on every refresh with an atomic
// pointer swap: readers always see either the previous complete set or
// the new complete set, never a partially-updated one, and the read
// path takes no lock. A refresh that fails or is cancelled leaves the
// prior set untouched.
package jwks

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/luminate-bi/authcore/pkg/observability"
)

var (
	// ErrKeyNotFound means the kid is absent even after a refresh:
	// either a rotated-out key or a forged token. Terminal, not retried.
	ErrKeyNotFound = errors.New("jwks: signing key not found")
	// ErrKeyFetch means the JWKS endpoint is unreachable and no usable
	// stale set exists. Fatal for all pending verifications until the
	// endpoint recovers.
	ErrKeyFetch = errors.New("jwks: key set fetch failed")
)

// SigningKey is one public key from the provider's key set.
type SigningKey struct {
	KID       string
	Algorithm string
	Key       crypto.PublicKey
}

// keySet is an immutable snapshot of the provider's keys.
type keySet struct {
	keys      map[string]SigningKey
	fetchedAt time.Time
}

// Config holds cache settings.
type Config struct {
	// Endpoint is the provider's JWKS URL
	// (https://<tenant>/.well-known/jwks.json).
	Endpoint string
	// RefreshInterval is the background refresh period. Default 1h.
	RefreshInterval time.Duration
	// StalenessCeiling bounds how old a last-known-good set may be and
	// still serve lookups when a refresh fails. Default 24h.
	StalenessCeiling time.Duration
	// FetchAttempts bounds the retries per fetch. Default 3.
	FetchAttempts uint
	// FetchBaseDelay is the initial backoff delay. Default 500ms.
	FetchBaseDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Hour
	}
	if c.StalenessCeiling <= 0 {
		c.StalenessCeiling = 24 * time.Hour
	}
	if c.FetchAttempts == 0 {
		c.FetchAttempts = 3
	}
	if c.FetchBaseDelay <= 0 {
		c.FetchBaseDelay = 500 * time.Millisecond
	}
}

// Option customizes a Cache.
type Option func(*Cache)

// WithHTTPClient overrides the HTTP client used for fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) { c.client = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics wires refresh metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is the in-memory JWKS key cache.
type Cache struct {
	cfg     Config
	client  *http.Client
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	set   atomic.Pointer[keySet]
	group singleflight.Group
}

// NewCache creates a Cache. The first fetch happens lazily on the first
// lookup (or eagerly via Refresh).
func NewCache(cfg Config, opts ...Option) *Cache {
	cfg.applyDefaults()
	c := &Cache{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: observability.NewLogger(observability.InfoLevel, nil),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetKey returns the signing key for kid. On a miss (or when the held
// set has aged past the staleness ceiling) it refreshes the full set
// once and retries the lookup; a rotated-in key is therefore picked up
// without waiting for the background refresh.
func (c *Cache) GetKey(ctx context.Context, kid string) (SigningKey, error) {
	if set := c.set.Load(); set != nil && c.now().Sub(set.fetchedAt) <= c.cfg.StalenessCeiling {
		if key, ok := set.keys[kid]; ok {
			return key, nil
		}
	}

	if err := c.refresh(ctx); err != nil {
		// Fall back to the last-known-good set if it is not past the
		// staleness ceiling. An unreachable provider must not take down
		// verification of tokens signed with keys we already hold.
		set := c.set.Load()
		if set == nil || c.now().Sub(set.fetchedAt) > c.cfg.StalenessCeiling {
			return SigningKey{}, fmt.Errorf("%w: %v", ErrKeyFetch, err)
		}
		c.logger.WithError(err).WithField("age", c.now().Sub(set.fetchedAt).String()).
			Warn("jwks refresh failed, serving stale key set")
		if key, ok := set.keys[kid]; ok {
			return key, nil
		}
		return SigningKey{}, ErrKeyNotFound
	}

	if set := c.set.Load(); set != nil {
		if key, ok := set.keys[kid]; ok {
			return key, nil
		}
	}
	return SigningKey{}, ErrKeyNotFound
}

// SigningKey implements token.KeyProvider.
func (c *Cache) SigningKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, err := c.GetKey(ctx, kid)
	if err != nil {
		return nil, err
	}
	return key.Key, nil
}

// Refresh forces a fetch of the full key set.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

// LastFetched reports when the current set was fetched. Zero means no
// successful fetch yet. Used by the readiness probe.
func (c *Cache) LastFetched() time.Time {
	if set := c.set.Load(); set != nil {
		return set.fetchedAt
	}
	return time.Time{}
}

// Run refreshes the key set on the configured interval until ctx is
// cancelled. Errors are logged and the loop keeps going; lookups fall
// back to the stale set in the meantime.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refresh(ctx); err != nil {
				c.logger.WithError(err).Warn("background jwks refresh failed")
			}
		}
	}
}

// refresh fetches the key set and swaps it in. Concurrent callers are
// coalesced into a single fetch.
func (c *Cache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		keys, err := c.fetch(ctx)
		if err != nil {
			c.recordRefresh("failure", -1)
			return nil, err
		}
		c.set.Store(&keySet{keys: keys, fetchedAt: c.now()})
		c.recordRefresh("success", len(keys))
		c.logger.WithField("keys", len(keys)).Debug("jwks key set refreshed")
		return nil, nil
	})
	return err
}

func (c *Cache) recordRefresh(outcome string, keys int) {
	if c.metrics == nil {
		return
	}
	c.metrics.JWKSRefreshesTotal.WithLabelValues(outcome).Inc()
	if keys >= 0 {
		c.metrics.JWKSKeysCurrent.Set(float64(keys))
	}
}

// fetch retrieves and parses the JWKS document with bounded exponential
// backoff. Only public, signature-use keys make it into the set.
func (c *Cache) fetch(ctx context.Context) (map[string]SigningKey, error) {
	var jwks jose.JSONWebKeySet
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(&jwks)
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.FetchAttempts),
		retry.Delay(c.cfg.FetchBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]SigningKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.KeyID == "" || !k.Valid() || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		keys[k.KeyID] = SigningKey{
			KID:       k.KeyID,
			Algorithm: k.Algorithm,
			Key:       k.Key,
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks document contains no usable signing keys")
	}
	return keys, nil
}
