package flags

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFlagNotFound means no definition exists for the key.
	ErrFlagNotFound = errors.New("flags: flag not found")
	// ErrStoreUnavailable wraps definition-store failures. It never
	// reaches handlers; the evaluator degrades to a stale cache entry
	// or the configured fallback instead.
	ErrStoreUnavailable = errors.New("flags: definition store unavailable")
)

// Definition is a feature flag's configuration. Definitions are managed
// through an external admin interface and read-only here.
type Definition struct {
	Key string `json:"key"`
	// Enabled is the global default when no override or rollout applies.
	Enabled bool `json:"enabled"`
	// RolloutPercent enables the flag for a deterministic user bucket
	// in [0, RolloutPercent). 0 means no rollout, 100 means everyone.
	RolloutPercent int `json:"rollout_percent"`
	// Fallback is served when the store is unreachable and no cached
	// result exists.
	Fallback bool `json:"fallback"`
	// OrgOverrides pins the flag for whole organizations.
	OrgOverrides map[string]bool `json:"org_overrides,omitempty"`
	// UserOverrides pins the flag for individual users and wins over
	// everything else.
	UserOverrides map[string]bool `json:"user_overrides,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Store provides read access to flag definitions.
type Store interface {
	GetDefinition(ctx context.Context, key string) (*Definition, error)
}

// Invalidator is implemented by stores and caches that can drop state
// for a flag after an administrative update.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}
