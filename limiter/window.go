package limiter

import (
	"container/heap"
	"sync"
	"time"
)

// entry is one admitted event.
type entry struct {
	at  time.Time
	pos int
}

// timeline orders entries so the earliest admission sits at index 0.
type timeline []*entry

func (tl timeline) Len() int { return len(tl) }

func (tl timeline) Less(i, j int) bool { return tl[i].at.Before(tl[j].at) }

func (tl timeline) Swap(i, j int) {
	tl[i], tl[j] = tl[j], tl[i]
	tl[i].pos, tl[j].pos = i, j
}

func (tl *timeline) Push(x any) {
	e := x.(*entry)
	e.pos = len(*tl)
	*tl = append(*tl, e)
}

func (tl *timeline) Pop() any {
	n := len(*tl) - 1
	e := (*tl)[n]
	(*tl)[n] = nil
	e.pos = -1
	*tl = (*tl)[:n]
	return e
}

// Stats is a point-in-time view of a counter.
type Stats struct {
	CurrentCount      int           `json:"currentCount"`
	RemainingCapacity int           `json:"remainingCapacity"`
	Capacity          int           `json:"maximumRequests"`
	Window            time.Duration `json:"windowDuration"`
}

// Utilization returns CurrentCount/Capacity, or 0 for a zero capacity.
func (s Stats) Utilization() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return float64(s.CurrentCount) / float64(s.Capacity)
}

// Option configures counters and limiters created by this package.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SlidingWindowCounter admits at most capacity events in any trailing window.
// Every admitted event is kept as a timestamp in a min-heap and pruned lazily
// on each read or write. It is safe for concurrent use.
type SlidingWindowCounter struct {
	events   timeline
	window   time.Duration
	capacity int
	now      func() time.Time
	mutex    sync.Mutex
}

// NewSlidingWindowCounter returns an empty counter.
func NewSlidingWindowCounter(capacity int, window time.Duration, opts ...Option) *SlidingWindowCounter {
	o := buildOptions(opts)

	size := capacity
	if size < 0 {
		size = 0
	}
	events := make(timeline, 0, size)

	return &SlidingWindowCounter{
		events:   events,
		window:   window,
		capacity: capacity,
		now:      o.now,
	}
}

// TryIncrement admits one event if the window has room for it.
func (c *SlidingWindowCounter) TryIncrement() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	c.prune(now)

	if c.events.Len() >= c.capacity {
		return false
	}

	heap.Push(&c.events, &entry{at: now})
	return true
}

// Decrement removes the oldest retained event. It is a no-op on an empty counter.
//
// The removed event is not necessarily the one added by the caller's own
// TryIncrement; under concurrent traffic an earlier admission is undone instead.
func (c *SlidingWindowCounter) Decrement() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.events.Len() > 0 {
		heap.Pop(&c.events)
	}
}

// Stats prunes expired events and reports the current occupancy.
func (c *SlidingWindowCounter) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.prune(c.now())

	count := c.events.Len()
	return Stats{
		CurrentCount:      count,
		RemainingCapacity: c.capacity - count,
		Capacity:          c.capacity,
		Window:            c.window,
	}
}

// LimitDetails returns the capacity and window of the counter.
func (c *SlidingWindowCounter) LimitDetails() (int, time.Duration) {
	return c.capacity, c.window
}

// prune drops every timestamp t with t <= now-window, oldest first.
func (c *SlidingWindowCounter) prune(now time.Time) {
	cutoff := now.Add(-c.window)
	for c.events.Len() > 0 && !c.events[0].at.After(cutoff) {
		heap.Pop(&c.events)
	}
}
