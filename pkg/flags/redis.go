package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a read-through cache over another Store, sharing flag
// definitions across instances. It caches definitions, never evaluation
// results: evaluations stay process-local and tenant-scoped.
//
// A not-found answer is cached too (as a tombstone) so a missing flag
// does not hammer the database on every render.
type RedisStore struct {
	inner Store
	rdb   *redis.Client
	ttl   time.Duration
}

const defTombstone = "__absent__"

// NewRedisStore wraps inner with a Redis definition cache.
func NewRedisStore(inner Store, rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisStore{inner: inner, rdb: rdb, ttl: ttl}
}

func defKey(key string) string {
	return "authcore:flag:def:" + key
}

// GetDefinition serves from Redis when possible, falling through to the
// inner store. Redis failures are ignored on the read path; the inner
// store is authoritative.
func (s *RedisStore) GetDefinition(ctx context.Context, key string) (*Definition, error) {
	cached, err := s.rdb.Get(ctx, defKey(key)).Result()
	if err == nil {
		if cached == defTombstone {
			return nil, ErrFlagNotFound
		}
		var def Definition
		if err := json.Unmarshal([]byte(cached), &def); err == nil {
			return &def, nil
		}
		// Corrupt entry: drop it and fall through.
		s.rdb.Del(ctx, defKey(key))
	}

	def, err := s.inner.GetDefinition(ctx, key)
	if errors.Is(err, ErrFlagNotFound) {
		s.rdb.Set(ctx, defKey(key), defTombstone, s.ttl)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(def); err == nil {
		s.rdb.Set(ctx, defKey(key), data, s.ttl)
	}
	return def, nil
}

// Invalidate drops the shared cache entry for a flag and forwards to
// the inner store when it supports invalidation.
func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, defKey(key)).Err(); err != nil {
		return fmt.Errorf("flags: redis invalidate: %w", err)
	}
	if inv, ok := s.inner.(Invalidator); ok {
		return inv.Invalidate(ctx, key)
	}
	return nil
}
