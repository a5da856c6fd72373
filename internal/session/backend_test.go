package session

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to DEPOT_TEST_REDIS_HOST (default localhost:6379)
// and skips when no server answers.
func newTestRedis(t *testing.T) *RedisBackend {
	t.Helper()

	host := os.Getenv("DEPOT_TEST_REDIS_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 6379
	if p := os.Getenv("DEPOT_TEST_REDIS_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		require.NoError(t, err)
		port = n
	}

	backend, err := NewRedisBackend(RedisConfig{
		Host:      host,
		Port:      port,
		DB:        15,
		KeyPrefix: "depot:test:" + uuid.NewString() + ":",
		TTL:       time.Minute,
	})
	if err != nil {
		t.Skipf("redis not reachable at %s:%d: %v", host, port, err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		for _, key := range allKeys {
			backend.Delete(ctx, key)
		}
		backend.Close()
	})
	return backend
}

func TestRedisBackendSlots(t *testing.T) {
	backend := newTestRedis(t)
	ctx := context.Background()

	_, ok, err := backend.Get(ctx, KeyActiveRoute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Set(ctx, KeyActiveRoute, `"R1"`))
	v, ok, err := backend.Get(ctx, KeyActiveRoute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"R1"`, v)

	ttl, err := backend.client.TTL(ctx, backend.key(KeyActiveRoute)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "slots expire")

	require.NoError(t, backend.Delete(ctx, KeyActiveRoute))
	_, ok, err = backend.Get(ctx, KeyActiveRoute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackendMailbox(t *testing.T) {
	backend := newTestRedis(t)
	store := NewStore(backend, quietLogger())
	ctx := context.Background()

	_, ok, err := store.PendingScan.Take(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PendingScan.Put(ctx, "/scan?type=warehouse&id=main"))
	v, ok, err := store.PendingScan.Take(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/scan?type=warehouse&id=main", v)

	_, ok, err = store.PendingScan.Take(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "take empties the box")

	require.NoError(t, store.FlowNotice.Put(ctx, "Stop closed"))
	require.NoError(t, store.FlowNotice.Discard(ctx))
	_, ok = store.FlowNotice.Peek(ctx)
	assert.False(t, ok)
}
