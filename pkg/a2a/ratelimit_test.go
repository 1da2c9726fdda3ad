package a2a

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 61 requests inside one minute: 1 through 60 succeed, the 61st is
// rejected with a retry hint, and the counter resets at the window
// boundary.
func TestCallerLimiter_SixtyFirstRequestRejected(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := NewCallerLimiter(60, 10)
	l.now = func() time.Time { return clock }

	for i := 0; i < 60; i++ {
		clock = clock.Add(500 * time.Millisecond) // 60 requests over 30s
		allowed, _ := l.Allow("caller-1")
		require.Truef(t, allowed, "request %d must pass", i+1)
	}

	allowed, retryAfter := l.Allow("caller-1")
	require.False(t, allowed, "the 61st request inside the window must be rejected")
	require.Greater(t, retryAfter, time.Duration(0))
	require.LessOrEqual(t, retryAfter, time.Minute)

	// Advance past the window boundary: the counter resets.
	clock = clock.Add(retryAfter)
	allowed, _ = l.Allow("caller-1")
	require.True(t, allowed, "counter resets at the window boundary")
}

func TestCallerLimiter_CallersAreIndependent(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := NewCallerLimiter(1, 1)
	l.now = func() time.Time { return clock }

	allowed, _ := l.Allow("a")
	require.True(t, allowed)
	allowed, _ = l.Allow("a")
	require.False(t, allowed, "a exhausted its window")
	allowed, _ = l.Allow("b")
	require.True(t, allowed, "b has its own window")
}

func TestCallerLimiter_BurstFloorsTheLimit(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := NewCallerLimiter(1, 5)
	l.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		allowed, _ := l.Allow("a")
		require.Truef(t, allowed, "burst floor admits request %d despite rpm=1", i+1)
	}
	allowed, _ := l.Allow("a")
	require.False(t, allowed)
}
