package cache

import (
	"context"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
)

type Memcache struct {
	mc     *memcache.Client
	prefix string
}

func NewMemcache(server, prefix string) *Memcache {
	return &Memcache{mc: memcache.New(server), prefix: prefix}
}

func (m *Memcache) Name() string { return "memcache" }

func (m *Memcache) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, err := m.mc.Get(m.prefix + key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "memcache get")
	}
	return it.Value, true, nil
}

func (m *Memcache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Wrap(m.mc.Set(&memcache.Item{
		Key:        m.prefix + key,
		Value:      value,
		Expiration: int32(ttl / time.Second),
	}), "memcache set")
}

// Purge flushes the whole memcached instance, which is expected to be
// dedicated to this cache.
func (m *Memcache) Purge(context.Context) error {
	return errors.Wrap(m.mc.DeleteAll(), "memcache flush")
}

func (m *Memcache) Close() error { return m.mc.Close() }
