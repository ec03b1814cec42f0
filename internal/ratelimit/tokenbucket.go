// Package ratelimit implements the per-connection ingress token bucket
// from spec.md §4.2, grounded on original_source/rust_gateway's RateLimiter
// and on the teacher's own token-bucket (ws/internal/single/limits) —
// except here the bucket math is delegated to golang.org/x/time/rate,
// already a teacher dependency (the "ws"/"src" variants both import
// golang.org/x/time), rather than hand-rolled.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates one connection's inbound message rate. Not intended to be
// shared across goroutines concurrently for the same connection — each
// owner (one per session) holds its own Limiter, matching spec.md's
// "not goroutine-safe externally" note; rate.Limiter happens to be
// internally synchronized, which is a safe superset of that requirement.
type Limiter struct {
	inner *rate.Limiter
}

// New builds a Limiter. ratePerSec <= 0 means unbounded: every Allow()
// call succeeds and no tokens are ever consumed.
func New(ratePerSec float64, burst float64) *Limiter {
	b := int(burst)
	if b < 1 {
		b = 1
	}
	if ratePerSec <= 0 {
		return &Limiter{inner: rate.NewLimiter(rate.Inf, b)}
	}
	return &Limiter{inner: rate.NewLimiter(rate.Limit(ratePerSec), b)}
}

// Allow refills tokens for elapsed time (capped at burst) and, if at least
// one token is available, consumes exactly one and returns true.
func (l *Limiter) Allow() bool {
	return l.inner.AllowN(time.Now(), 1)
}
