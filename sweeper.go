package smsratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/parkerroan/smsratelimit/history"
	"github.com/parkerroan/smsratelimit/limiter"
	"golang.org/x/exp/slog"
)

const defaultSweepErrorDelay = time.Minute

// Sweeper runs one cleanup function on a fixed interval until its context is
// cancelled. Sweeps are idempotent; a failed sweep is logged and followed by
// an extra error delay.
type Sweeper struct {
	name     string
	interval time.Duration
	sweep    func(ctx context.Context) (int, error)

	errorBackoff *backoff.Backoff
	metrics      MetricsCollector
	logger       *slog.Logger
	now          func() time.Time
}

// NewSweeper returns a sweeper calling sweep every interval. sweep returns the
// number of entries it removed.
func NewSweeper(name string, interval time.Duration, sweep func(ctx context.Context) (int, error), opts ...func(*Sweeper)) *Sweeper {
	s := &Sweeper{
		name:     name,
		interval: interval,
		sweep:    sweep,
		errorBackoff: &backoff.Backoff{
			Min: defaultSweepErrorDelay,
			Max: defaultSweepErrorDelay,
		},
		metrics: disabledMetricsCollector,
		logger:  slog.Default(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewLimiterSweeper evicts limiters idle for longer than threshold.
func NewLimiterSweeper(registry *limiter.Registry, threshold, interval time.Duration, opts ...func(*Sweeper)) *Sweeper {
	s := NewSweeper("limiters", interval, nil, opts...)
	s.sweep = func(context.Context) (int, error) {
		n := registry.EvictInactive(threshold)
		s.metrics.SetLimiters(registry.Len())
		return n, nil
	}
	return s
}

// NewHistorySweeper purges history buckets older than retention.
func NewHistorySweeper(store *history.Store, retention, interval time.Duration, opts ...func(*Sweeper)) *Sweeper {
	s := NewSweeper("history", interval, nil, opts...)
	s.sweep = func(context.Context) (int, error) {
		n := store.Purge(s.now().Add(-retention))
		s.metrics.SetHistoryBuckets(store.Len())
		return n, nil
	}
	return s
}

// WithSweepErrorBackoff sets the delay added after a failed sweep. The delay
// grows from minDelay to maxDelay over consecutive failures.
// default: 1m fixed
func WithSweepErrorBackoff(minDelay, maxDelay time.Duration) func(*Sweeper) {
	return func(s *Sweeper) {
		s.errorBackoff = &backoff.Backoff{Min: minDelay, Max: maxDelay, Factor: 2}
	}
}

// WithSweepMetrics sets the metrics collector.
func WithSweepMetrics(m MetricsCollector) func(*Sweeper) {
	return func(s *Sweeper) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSweepLogger sets the logger.
func WithSweepLogger(logger *slog.Logger) func(*Sweeper) {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweepClock replaces time.Now for retention cutoffs.
func WithSweepClock(now func() time.Time) func(*Sweeper) {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Name returns the sweeper name used in logs and metrics.
func (s *Sweeper) Name() string {
	return s.name
}

// Run waits one interval, sweeps, and repeats until ctx is done. It returns nil
// on cancellation; a sweep in progress is not interrupted.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started", slog.String("sweeper", s.name), slog.Duration("interval", s.interval))
	defer s.logger.Info("sweeper stopped", slog.String("sweeper", s.name))

	for {
		if !sleep(ctx, s.interval) {
			return nil
		}

		n, err := s.SweepOnce(ctx)
		if err != nil {
			delay := s.errorBackoff.Duration()
			s.logger.Error("sweep failed",
				slog.String("sweeper", s.name), slog.Duration("retry_in", delay), slog.Any("error", err))
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		s.errorBackoff.Reset()

		if n > 0 {
			s.logger.Info("sweep finished", slog.String("sweeper", s.name), slog.Int("removed", n))
		}
	}
}

// SweepOnce performs a single sweep. A panic in the sweep function is
// returned as an error.
func (s *Sweeper) SweepOnce(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
		if err != nil {
			s.metrics.IncSweepErrors(s.name)
			return
		}
		s.metrics.AddSwept(s.name, n)
	}()

	return s.sweep(ctx)
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
