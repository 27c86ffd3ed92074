package ratelimit

import (
	"context"
	"sync"
	"time"
)

const staleAfter = 10 * time.Minute

// Limiter is a per-key token bucket held in memory.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	interval time.Duration
	burst    int
	now      func() time.Time
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

// New refills one token every interval up to burst tokens.
func New(interval time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		interval: interval,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	if l.interval > 0 {
		if refill := int(now.Sub(b.lastFill) / l.interval); refill > 0 {
			b.tokens += refill
			if b.tokens > l.burst {
				b.tokens = l.burst
			}
			b.lastFill = b.lastFill.Add(time.Duration(refill) * l.interval)
		}
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// RunCleanup drops idle buckets every interval until ctx ends.
func (l *Limiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanupStale()
		}
	}
}

func (l *Limiter) cleanupStale() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := l.now().Add(-staleAfter)
	removed := 0
	for key, b := range l.buckets {
		if b.lastFill.Before(threshold) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
