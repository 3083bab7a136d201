package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dental-backoffice/internal/domain/ports/repository"
)

var _ repository.RateLimiter = (*MemoryRateLimiter)(nil)

// MemoryRateLimiter is the in-process RateLimiter used when Redis is not
// configured. Each key gets a token bucket refilling limit tokens per window.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	lastSwept time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

func (m *MemoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evict(now, window)

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1), nil
}

// evict drops buckets idle for two windows; a full bucket is indistinguishable
// from a fresh one by then.
func (m *MemoryRateLimiter) evict(now time.Time, window time.Duration) {
	if now.Sub(m.lastSwept) < window {
		return
	}
	m.lastSwept = now
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) > 2*window {
			delete(m.buckets, k)
		}
	}
}
