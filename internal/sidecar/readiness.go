// Package sidecar spawns and supervises the qkd-backend sidecar process.
package sidecar

import (
	"context"
	"sync"
)

// Readiness is a shared, monotonic NotReady->Ready flag. Both the output
// monitor and the health prober write it; once set it never reverts.
// All access goes through the mutex so check-then-set stays atomic.
type Readiness struct {
	mu     sync.Mutex
	ready  bool
	forced bool
	ch     chan struct{}
}

// NewReadiness creates a readiness flag in the NotReady state.
func NewReadiness() *Readiness {
	return &Readiness{ch: make(chan struct{})}
}

// Set transitions the flag to Ready. Idempotent: the first caller wins,
// later calls are no-ops. Returns true if this call made the transition.
func (r *Readiness) Set() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return false
	}
	r.ready = true
	close(r.ch)
	return true
}

// Force transitions the flag to Ready and marks it as forced (set by
// probe-budget exhaustion rather than a confirmed signal). Idempotent.
func (r *Readiness) Force() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return false
	}
	r.ready = true
	r.forced = true
	close(r.ch)
	return true
}

// Ready reports whether the flag has been set.
func (r *Readiness) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Forced reports whether readiness was forced rather than confirmed.
func (r *Readiness) Forced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forced
}

// Wait blocks until the flag is set or the context is cancelled.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the flag is set.
func (r *Readiness) Done() <-chan struct{} {
	return r.ch
}
