package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kiranshivaraju/threadpost/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedis starts an in-process Redis and returns a connected RedisCache.
func setupRedis(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	return rc, mr
}

// --- Ping ---

func TestPing(t *testing.T) {
	rc, _ := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

func TestPing_ServerDown(t *testing.T) {
	rc, mr := setupRedis(t)
	mr.Close()
	assert.Error(t, rc.Ping(context.Background()))
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := cache.NewRedisCache("not-a-url")
	assert.Error(t, err)
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	rc, _ := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "test:key", "hello", 10*time.Second))

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", val)
}

func TestGet_NotFound(t *testing.T) {
	rc, _ := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, val)
}

func TestSet_Expires(t *testing.T) {
	rc, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "ttl:key", "v", time.Second))
	mr.FastForward(2 * time.Second)

	_, found, err := rc.Get(ctx, "ttl:key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	rc, _ := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "del:key", "v", time.Minute))
	require.NoError(t, rc.Delete(ctx, "del:key"))

	_, found, err := rc.Get(ctx, "del:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- SetNX ---

func TestSetNX_OnlyFirstWins(t *testing.T) {
	rc, _ := setupRedis(t)
	ctx := context.Background()

	ok, err := rc.SetNX(ctx, "nx:key", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.SetNX(ctx, "nx:key", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	val, _, err := rc.Get(ctx, "nx:key")
	require.NoError(t, err)
	assert.Equal(t, "first", val)
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	rc, mr := setupRedis(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := rc.IncrWithExpiry(ctx, "rl:key", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Greater(t, mr.TTL("rl:key"), time.Duration(0))

	mr.FastForward(2 * time.Minute)
	n, err := rc.IncrWithExpiry(ctx, "rl:key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter resets after the window")
}

// --- Keys ---

func TestKeys(t *testing.T) {
	assert.Equal(t, "threadpost:ratelimit:tp_abcde", cache.RateLimitKey("tp_abcde"))
	assert.Equal(t, "threadpost:idempotency:tp_abcde:req-1", cache.IdempotencyKey("tp_abcde", "req-1"))
}
