package limiter

import (
	"sync"
	"time"
)

// DefaultActiveThreshold is used by ActiveLimiters when no threshold is given.
const DefaultActiveThreshold = time.Hour

// Registry is a concurrent key -> RateLimiter store. It is the only place
// limiters are created; they are created on first use and removed by
// EvictInactive.
type Registry struct {
	limiters sync.Map // map[string]*RateLimiter
	opts     options
}

// NewRegistry returns an empty registry. Options are passed to every limiter
// the registry creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{opts: buildOptions(opts)}
}

// GetOrCreate returns the limiter for key, creating it with the given limits
// if absent. An existing limiter keeps the limits it was created with.
func (r *Registry) GetOrCreate(key string, capacity int, window time.Duration) *RateLimiter {
	if val, ok := r.limiters.Load(key); ok {
		return val.(*RateLimiter)
	}

	val, _ := r.limiters.LoadOrStore(key, newRateLimiter(key, capacity, window, r.opts))
	return val.(*RateLimiter)
}

// Lookup returns the limiter for key without creating one.
func (r *Registry) Lookup(key string) (*RateLimiter, bool) {
	val, ok := r.limiters.Load(key)
	if !ok {
		return nil, false
	}
	return val.(*RateLimiter), true
}

// ActiveLimiters returns every limiter touched within threshold.
// A non-positive threshold means DefaultActiveThreshold.
func (r *Registry) ActiveLimiters(threshold time.Duration) []*RateLimiter {
	if threshold <= 0 {
		threshold = DefaultActiveThreshold
	}

	var active []*RateLimiter
	r.limiters.Range(func(_, val any) bool {
		rl := val.(*RateLimiter)
		if !rl.IsInactive(threshold) {
			active = append(active, rl)
		}
		return true
	})

	return active
}

// EvictInactive removes every limiter idle for longer than threshold and
// returns how many were removed.
//
// A limiter can still be dropped right after a concurrent check fetched it;
// that check completes against the orphaned limiter.
func (r *Registry) EvictInactive(threshold time.Duration) int {
	evicted := 0
	r.limiters.Range(func(key, val any) bool {
		rl := val.(*RateLimiter)
		if rl.IsInactive(threshold) && r.limiters.CompareAndDelete(key, rl) {
			evicted++
		}
		return true
	})
	return evicted
}

// Len returns the number of limiters currently held.
func (r *Registry) Len() int {
	n := 0
	r.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
