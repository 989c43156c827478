package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archimap/pkg/utils"
)

// exercise runs the behaviour every backend must share.
func exercise(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k1", []byte(`{"total":3}`), time.Minute))
	v, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"total":3}`, string(v))

	require.NoError(t, c.Purge(ctx))
	_, ok, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	m := NewMemory(time.Minute)
	exercise(t, m)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", []byte("x"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	_, ok, err := m.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("ARCHIMAP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ARCHIMAP_TEST_REDIS_ADDR not set")
	}
	r := NewRedis(addr, "", 0, "archimap:test:")
	defer r.Close()
	exercise(t, r)
}

func TestMemcache(t *testing.T) {
	addr := os.Getenv("ARCHIMAP_TEST_MEMCACHED_ADDR")
	if addr == "" {
		t.Skip("ARCHIMAP_TEST_MEMCACHED_ADDR not set")
	}
	m := NewMemcache(addr, "archimap:test:")
	defer m.Close()
	exercise(t, m)
}

func TestKey(t *testing.T) {
	a := Key("search", "search=%E4%B8%B9%E4%B8%8B")
	assert.Equal(t, a, Key("search", "search=%E4%B8%B9%E4%B8%8B"))
	assert.NotEqual(t, a, Key("search", "search=%E4%B8%B9%E4%B8%8B&page=2"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"), "parts are separated")
	assert.LessOrEqual(t, len(a), 16)
}

func TestNew(t *testing.T) {
	c, err := New(utils.CacheConfig{Backend: "memory", TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "memory", c.Name())

	c, err = New(utils.CacheConfig{Backend: "redis", RedisAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Equal(t, "redis", c.Name())
	require.NoError(t, c.Close())

	c, err = New(utils.CacheConfig{Backend: "memcache", MemcachedAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Equal(t, "memcache", c.Name())

	_, err = New(utils.CacheConfig{Backend: "disk"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
