// Package cache stores encoded query results in memory, redis or memcached.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"archimap/pkg/utils"
)

// Cache is a byte cache with per-entry expiry.
type Cache interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Purge drops every entry written through this cache.
	Purge(ctx context.Context) error
	Close() error
}

// Key hashes parts into a short fixed-length key.
func Key(parts ...string) string {
	h := xxh3.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// New builds the backend selected in cfg.
func New(cfg utils.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, DefaultPrefix), nil
	case "memcache":
		return NewMemcache(cfg.MemcachedAddr, DefaultPrefix), nil
	default:
		return nil, errors.Wrap(ErrUnknownBackend, fmt.Sprintf("backend %q", cfg.Backend))
	}
}

// DefaultPrefix namespaces keys in shared backends.
const DefaultPrefix = "archimap:search:"

var ErrUnknownBackend = errors.New("cache: unknown backend")
