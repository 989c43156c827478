package cache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

type Memory struct {
	c *cache.Cache
}

// NewMemory returns an in-process cache whose entries default to ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Memory{c: cache.New(ttl, 2*ttl)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *Memory) Purge(context.Context) error {
	m.c.Flush()
	return nil
}

// Len counts live entries.
func (m *Memory) Len() int { return m.c.ItemCount() }

func (m *Memory) Close() error { return nil }
