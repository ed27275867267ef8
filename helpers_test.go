package smsratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parkerroan/smsratelimit/broker"
	"github.com/parkerroan/smsratelimit/history"
	"github.com/parkerroan/smsratelimit/limiter"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *fakeClock
	registry *limiter.Registry
	store    *history.Store
	ctrl     *Controller
}

func newFixture(t *testing.T, opts ...func(*Controller)) *fixture {
	t.Helper()

	clock := newFakeClock()
	registry := limiter.NewRegistry(limiter.WithClock(clock.Now))
	store := history.NewStore()

	opts = append([]func(*Controller){WithClock(clock.Now), WithIdentityCacheTTL(0)}, opts...)
	ctrl, err := NewController(registry, store, opts...)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	return &fixture{clock: clock, registry: registry, store: store, ctrl: ctrl}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []broker.Event
	panics bool
}

func (p *recordingPublisher) Publish(_ context.Context, ev broker.Event) error {
	if p.panics {
		panic("publisher exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []broker.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broker.Event(nil), p.events...)
}

type countingMetrics struct {
	mu          sync.Mutex
	outcomes    map[Outcome]int
	rollbacks   int
	limiters    int
	buckets     int
	swept       map[string]int
	sweepErrors map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		outcomes:    map[Outcome]int{},
		swept:       map[string]int{},
		sweepErrors: map[string]int{},
	}
}

func (m *countingMetrics) IncOutcome(o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o]++
}

func (m *countingMetrics) IncRollbacks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks++
}

func (m *countingMetrics) SetLimiters(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters = n
}

func (m *countingMetrics) SetHistoryBuckets(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets = n
}

func (m *countingMetrics) AddSwept(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swept[name] += n
}

func (m *countingMetrics) IncSweepErrors(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepErrors[name]++
}
