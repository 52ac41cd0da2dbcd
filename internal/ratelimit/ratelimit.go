// Package ratelimit adapts the teacher's ResourceGuard rate-limiting
// mechanism (static configuration, token-bucket limiters, a goroutine
// semaphore) from bounding inbound WebSocket/NATS fan-out to two RPC-side
// concerns: pacing issue rate, so a burst of due parameters on one poll
// tick or a burst of queued events on one dispatcher drain doesn't flood
// the socket pool past what the upstream terminal can answer (Limiter),
// and bounding how many calls may be in flight against one endpoint at
// once (GoroutineLimiter, wired into sockpool.Pool.Call).
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces a bursty producer against a steady consumer capacity,
// the same token-bucket shape as the teacher's natsLimiter/
// broadcastLimiter pair, generalized to one named limiter per caller.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a limiter allowing ratePerSec sustained events with a
// burst capacity of burst. A non-positive ratePerSec disables limiting
// (Wait always returns immediately), matching the teacher's convention
// of treating a zero configured rate as "unbounded".
func New(ratePerSec float64, burst int) *Limiter {
	if ratePerSec <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, burst)}
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until the limiter admits one more unit of work, or ctx
// is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// GoroutineLimiter bounds concurrently in-flight units of work with a
// semaphore, unchanged in shape from the teacher's GoroutineLimiter.
type GoroutineLimiter struct {
	sem chan struct{}
}

// NewGoroutineLimiter creates a limiter admitting at most max
// concurrent holders.
func NewGoroutineLimiter(max int) *GoroutineLimiter {
	if max <= 0 {
		max = 1
	}
	return &GoroutineLimiter{sem: make(chan struct{}, max)}
}

// Acquire attempts to take a slot without blocking.
func (gl *GoroutineLimiter) Acquire() bool {
	select {
	case gl.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot.
func (gl *GoroutineLimiter) Release() { <-gl.sem }

// Current reports the number of slots currently held.
func (gl *GoroutineLimiter) Current() int { return len(gl.sem) }

// Chan exposes the underlying semaphore channel so a caller can fold
// acquisition into its own select alongside context cancellation or a
// shutdown signal, the way sockpool.Pool.Call bounds its concurrent
// in-flight calls to the slot count.
func (gl *GoroutineLimiter) Chan() chan struct{} { return gl.sem }
