package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	require.True(t, rl.Allow("u1"))
	require.True(t, rl.Allow("u1"))
	require.False(t, rl.Allow("u1"))
	require.True(t, rl.Allow("u2"), "keys are throttled independently")

	clock = clock.Add(61 * time.Second)
	require.True(t, rl.Allow("u1"))
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	defer rl.Close()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	rl.Allow("u1")
	clock = clock.Add(2 * time.Minute)
	rl.Allow("u2")
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	require.NotContains(t, rl.requests, "u1")
	require.Contains(t, rl.requests, "u2")
}
