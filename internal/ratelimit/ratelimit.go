// Package ratelimit keeps one token bucket per client and drops idle
// buckets after a while.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type Limiter struct {
	rps     rate.Limit
	burst   int
	mu      sync.Mutex
	clients *cache.Cache
}

// New allows rps requests per second per client with the given burst.
// Buckets idle for ten minutes are forgotten.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: cache.New(10*time.Minute, 5*time.Minute),
	}
}

// Allow reports whether key may make a request now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	var lim *rate.Limiter
	if v, ok := l.clients.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(l.rps, l.burst)
	}
	l.clients.SetDefault(key, lim)
	l.mu.Unlock()
	return lim.Allow()
}

// Middleware rejects requests over the limit by calling deny, keyed on the
// client IP.
func (l *Limiter) Middleware(deny func(c *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			deny(c)
			return
		}
		c.Next()
	}
}
