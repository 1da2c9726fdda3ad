package a2a

import (
	"sync"
	"time"
)

// DefaultRPM and DefaultBurst are the RATE_LIMIT_RPM / RATE_LIMIT_BURST
// fallbacks.
const (
	DefaultRPM   = 60
	DefaultBurst = 10
)

// rateWindow is one caller's current request window.
type rateWindow struct {
	start time.Time
	count int
}

// CallerLimiter admits up to limit requests per caller per window and
// rejects the rest until the window boundary, where the counter resets.
// The window is anchored at the caller's first request after a reset, so
// requests 1 through limit succeed back to back and request limit+1 is
// rejected with the time remaining until the boundary as its retry hint.
type CallerLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	callers map[string]*rateWindow

	now func() time.Time
}

// NewCallerLimiter builds a limiter admitting rpm requests per caller per
// minute. burst guards against a pathological rpm misconfiguration: the
// limiter never admits fewer than burst requests per window.
func NewCallerLimiter(rpm, burst int) *CallerLimiter {
	if rpm <= 0 {
		rpm = DefaultRPM
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	limit := rpm
	if limit < burst {
		limit = burst
	}
	return &CallerLimiter{
		limit:   limit,
		window:  time.Minute,
		callers: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow reports whether callerID may proceed now, and if not, how long
// until its window resets.
func (c *CallerLimiter) Allow(callerID string) (allowed bool, retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.callers[callerID]
	if !ok || now.Sub(w.start) >= c.window {
		w = &rateWindow{start: now}
		c.callers[callerID] = w
	}
	if w.count < c.limit {
		w.count++
		return true, 0
	}
	return false, w.start.Add(c.window).Sub(now)
}
