package flags

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminate-bi/authcore/pkg/tenant"
)

// fakeStore serves a fixed definition set and counts lookups.
type fakeStore struct {
	mu    sync.Mutex
	defs  map[string]*Definition
	err   error
	calls int

	invalidated []string
}

func (s *fakeStore) GetDefinition(_ context.Context, key string) (*Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	def, ok := s.defs[key]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return def, nil
}

func (s *fakeStore) Invalidate(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, key)
	return nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func userIn(org, user string) *tenant.Context {
	return &tenant.Context{UserID: user, OrganizationID: org, Role: tenant.RoleViewer}
}

func TestResolutionOrder(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		tc   *tenant.Context
		want bool
	}{
		{
			name: "user override wins over everything",
			def: Definition{
				Key:            "new-dashboard",
				Enabled:        false,
				RolloutPercent: 0,
				OrgOverrides:   map[string]bool{"org-a": false},
				UserOverrides:  map[string]bool{"user-1": true},
			},
			tc:   userIn("org-a", "user-1"),
			want: true,
		},
		{
			name: "user override can force off",
			def: Definition{
				Key:           "new-dashboard",
				Enabled:       true,
				UserOverrides: map[string]bool{"user-1": false},
			},
			tc:   userIn("org-a", "user-1"),
			want: false,
		},
		{
			name: "org override beats rollout and default",
			def: Definition{
				Key:            "new-dashboard",
				Enabled:        false,
				RolloutPercent: 100,
				OrgOverrides:   map[string]bool{"org-a": false},
			},
			tc:   userIn("org-a", "user-2"),
			want: false,
		},
		{
			name: "full rollout enables without overrides",
			def: Definition{
				Key:            "new-dashboard",
				Enabled:        false,
				RolloutPercent: 100,
			},
			tc:   userIn("org-a", "user-2"),
			want: true,
		},
		{
			name: "no rollout falls back to default",
			def: Definition{
				Key:     "new-dashboard",
				Enabled: true,
			},
			tc:   userIn("org-a", "user-2"),
			want: true,
		},
		{
			name: "other orgs unaffected by org override",
			def: Definition{
				Key:          "new-dashboard",
				Enabled:      true,
				OrgOverrides: map[string]bool{"org-a": false},
			},
			tc:   userIn("org-b", "user-3"),
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := tt.def
			store := &fakeStore{defs: map[string]*Definition{def.Key: &def}}
			e := NewEvaluator(store, EvaluatorConfig{})
			assert.Equal(t, tt.want, e.Evaluate(context.Background(), def.Key, tt.tc))
		})
	}
}

func TestBucketDeterministic(t *testing.T) {
	first := Bucket("new-dashboard", "user-1")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Bucket("new-dashboard", "user-1"))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 100)

	// Different flags bucket the same user independently.
	seen := map[int]bool{}
	for _, key := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		seen[Bucket(key, "user-1")] = true
	}
	assert.Greater(t, len(seen), 1, "buckets should vary across flag keys")
}

func TestRolloutStableAcrossEvaluations(t *testing.T) {
	def := &Definition{Key: "beta-charts", RolloutPercent: 50}
	store := &fakeStore{defs: map[string]*Definition{"beta-charts": def}}
	e := NewEvaluator(store, EvaluatorConfig{FreshFor: time.Nanosecond})

	tc := userIn("org-a", "user-42")
	first := e.Evaluate(context.Background(), "beta-charts", tc)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, e.Evaluate(context.Background(), "beta-charts", tc))
	}
}

func TestEvaluateCaching(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{defs: map[string]*Definition{
		"new-dashboard": {Key: "new-dashboard", Enabled: true},
	}}
	e := NewEvaluator(store, EvaluatorConfig{FreshFor: 2 * time.Minute},
		WithClock(func() time.Time { return now }))

	tc := userIn("org-a", "user-1")
	assert.True(t, e.Evaluate(context.Background(), "new-dashboard", tc))
	assert.True(t, e.Evaluate(context.Background(), "new-dashboard", tc))
	assert.Equal(t, 1, store.callCount(), "second evaluation should hit the cache")

	now = now.Add(3 * time.Minute)
	assert.True(t, e.Evaluate(context.Background(), "new-dashboard", tc))
	assert.Equal(t, 2, store.callCount(), "aged-out entry should recompute")
}

func TestEvaluateCacheScopedToTenant(t *testing.T) {
	store := &fakeStore{defs: map[string]*Definition{
		"new-dashboard": {
			Key:          "new-dashboard",
			Enabled:      false,
			OrgOverrides: map[string]bool{"org-a": true},
		},
	}}
	e := NewEvaluator(store, EvaluatorConfig{})

	assert.True(t, e.Evaluate(context.Background(), "new-dashboard", userIn("org-a", "user-1")))
	// Same user id under another org must not reuse org-a's entry.
	assert.False(t, e.Evaluate(context.Background(), "new-dashboard", userIn("org-b", "user-1")))
	assert.Equal(t, 2, store.callCount())
}

func TestEvaluateDegradesOnStoreFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{defs: map[string]*Definition{
		"new-dashboard": {Key: "new-dashboard", Enabled: true},
	}}
	e := NewEvaluator(store, EvaluatorConfig{
		FreshFor:     2 * time.Minute,
		StaleCeiling: 10 * time.Minute,
		Fallbacks:    map[string]bool{"critical-path": true},
	}, WithClock(func() time.Time { return now }))

	tc := userIn("org-a", "user-1")
	require.True(t, e.Evaluate(context.Background(), "new-dashboard", tc))

	store.setErr(ErrStoreUnavailable)

	t.Run("stale cached value served past freshness", func(t *testing.T) {
		now = now.Add(5 * time.Minute)
		assert.True(t, e.Evaluate(context.Background(), "new-dashboard", tc))
	})

	t.Run("uncached flag serves configured fallback", func(t *testing.T) {
		assert.True(t, e.Evaluate(context.Background(), "critical-path", tc))
	})

	t.Run("uncached flag without configured fallback serves default", func(t *testing.T) {
		assert.False(t, e.Evaluate(context.Background(), "experimental-thing", tc))
	})
}

func TestEvaluateOutageServesDefinitionFallback(t *testing.T) {
	store := &fakeStore{defs: map[string]*Definition{
		"billing-v2": {Key: "billing-v2", Enabled: false, Fallback: true},
	}}
	e := NewEvaluator(store, EvaluatorConfig{
		Fallbacks: map[string]bool{"billing-v2": false},
	})

	// A fetch teaches the evaluator the definition's declared fallback.
	require.False(t, e.Evaluate(context.Background(), "billing-v2", userIn("org-a", "user-1")))

	store.setErr(ErrStoreUnavailable)

	// A tuple never evaluated before has no cached value to fall back
	// on; the definition's fallback wins over the configured one.
	assert.True(t, e.Evaluate(context.Background(), "billing-v2", userIn("org-a", "user-2")))
}

func TestEvaluateUnknownFlagServesFallback(t *testing.T) {
	store := &fakeStore{defs: map[string]*Definition{}}
	e := NewEvaluator(store, EvaluatorConfig{DefaultFallback: false})
	assert.False(t, e.Evaluate(context.Background(), "never-defined", userIn("org-a", "user-1")))
}

func TestInvalidate(t *testing.T) {
	store := &fakeStore{defs: map[string]*Definition{
		"new-dashboard": {Key: "new-dashboard", Enabled: true},
	}}
	e := NewEvaluator(store, EvaluatorConfig{})

	tc := userIn("org-a", "user-1")
	require.True(t, e.Evaluate(context.Background(), "new-dashboard", tc))
	require.Equal(t, 1, store.callCount())

	require.NoError(t, e.Invalidate(context.Background(), "new-dashboard"))
	assert.Equal(t, []string{"new-dashboard"}, store.invalidated)

	// Cache was purged: the next evaluation reloads the definition.
	e.Evaluate(context.Background(), "new-dashboard", tc)
	assert.Equal(t, 2, store.callCount())
}
