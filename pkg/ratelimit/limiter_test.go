package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l := New(time.Second, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("rider"))
	assert.True(t, l.Allow("rider"))
	assert.False(t, l.Allow("rider"))
	assert.True(t, l.Allow("other"), "buckets are per key")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, l.Allow("rider"))
	assert.False(t, l.Allow("rider"))

	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("rider"), "partial interval carries over")
}

func TestLimiter_CleanupStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l := New(time.Second, 1)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(staleAfter + time.Minute)
	l.Allow("fresh")

	assert.Equal(t, 1, l.cleanupStale())
	assert.Len(t, l.buckets, 1)
}
