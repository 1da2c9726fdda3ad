// Package llmsem provides the single global LLM-concurrency semaphore
// shared by the NPC Decision Engine and the Autonomous Coordinator.
package llmsem

import "context"

// Semaphore is a context-aware counting semaphore.
type Semaphore struct {
	ch chan struct{}
}

// New creates a semaphore with the given capacity (MAX_CONCURRENT_LLM).
func New(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 8
	}
	return &Semaphore{ch: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire acquires a slot without blocking; it reports whether it
// succeeded. Backpressure callers use this
// instead of Acquire.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot to the pool.
func (s *Semaphore) Release() {
	<-s.ch
}
