package flags

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, inner Store) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(inner, rdb, time.Minute), mr
}

func TestRedisReadThrough(t *testing.T) {
	inner := &fakeStore{defs: map[string]*Definition{
		"new-dashboard": {Key: "new-dashboard", Enabled: true},
	}}
	store, _ := newRedisStore(t, inner)

	def, err := store.GetDefinition(context.Background(), "new-dashboard")
	require.NoError(t, err)
	assert.True(t, def.Enabled)
	assert.Equal(t, 1, inner.callCount())

	// Second read served from Redis.
	def, err = store.GetDefinition(context.Background(), "new-dashboard")
	require.NoError(t, err)
	assert.True(t, def.Enabled)
	assert.Equal(t, 1, inner.callCount())
}

func TestRedisCachesNotFound(t *testing.T) {
	inner := &fakeStore{defs: map[string]*Definition{}}
	store, _ := newRedisStore(t, inner)

	_, err := store.GetDefinition(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrFlagNotFound)
	_, err = store.GetDefinition(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrFlagNotFound)
	assert.Equal(t, 1, inner.callCount(), "tombstone should absorb repeat misses")
}

func TestRedisCorruptEntryFallsThrough(t *testing.T) {
	inner := &fakeStore{defs: map[string]*Definition{
		"new-dashboard": {Key: "new-dashboard", Enabled: true},
	}}
	store, mr := newRedisStore(t, inner)

	require.NoError(t, mr.Set(defKey("new-dashboard"), "{not json"))

	def, err := store.GetDefinition(context.Background(), "new-dashboard")
	require.NoError(t, err)
	assert.True(t, def.Enabled)
	assert.Equal(t, 1, inner.callCount())
}

func TestRedisInvalidate(t *testing.T) {
	inner := &fakeStore{defs: map[string]*Definition{
		"new-dashboard": {Key: "new-dashboard", Enabled: true},
	}}
	store, mr := newRedisStore(t, inner)

	_, err := store.GetDefinition(context.Background(), "new-dashboard")
	require.NoError(t, err)
	assert.True(t, mr.Exists(defKey("new-dashboard")))

	require.NoError(t, store.Invalidate(context.Background(), "new-dashboard"))
	assert.False(t, mr.Exists(defKey("new-dashboard")))
	assert.Equal(t, []string{"new-dashboard"}, inner.invalidated)
}
