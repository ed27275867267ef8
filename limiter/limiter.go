// Package limiter provides an exact sliding window counter and a registry of
// per-key limiters built on it.
package limiter

import (
	"time"

	"go.uber.org/atomic"
)

// RateLimiter binds a SlidingWindowCounter to an identity key and remembers
// when the key was last touched. Instances are owned by a Registry.
type RateLimiter struct {
	key          string
	counter      *SlidingWindowCounter
	lastAccessed *atomic.Time
	now          func() time.Time
}

func newRateLimiter(key string, capacity int, window time.Duration, o options) *RateLimiter {
	return &RateLimiter{
		key:          key,
		counter:      NewSlidingWindowCounter(capacity, window, WithClock(o.now)),
		lastAccessed: atomic.NewTime(o.now()),
		now:          o.now,
	}
}

// Key returns the identity the limiter is bound to.
func (rl *RateLimiter) Key() string {
	return rl.key
}

// LastAccessed returns the last time the limiter was touched.
func (rl *RateLimiter) LastAccessed() time.Time {
	return rl.lastAccessed.Load()
}

// TryAdmit tries to take one slot from the window. A denied attempt still
// counts as activity.
func (rl *RateLimiter) TryAdmit() bool {
	rl.lastAccessed.Store(rl.now())
	return rl.counter.TryIncrement()
}

// Rollback returns a slot taken by TryAdmit. It does not count as activity.
func (rl *RateLimiter) Rollback() {
	rl.counter.Decrement()
}

// Stats reports the counter occupancy and marks the limiter as accessed.
func (rl *RateLimiter) Stats() Stats {
	rl.lastAccessed.Store(rl.now())
	return rl.counter.Stats()
}

// IsInactive reports whether the limiter has been idle for longer than threshold.
func (rl *RateLimiter) IsInactive(threshold time.Duration) bool {
	return rl.now().Sub(rl.lastAccessed.Load()) > threshold
}
