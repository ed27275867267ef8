package smsratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/parkerroan/smsratelimit/broker"
	"github.com/parkerroan/smsratelimit/history"
	"github.com/parkerroan/smsratelimit/limiter"
	"golang.org/x/exp/slog"
)

const processingFailureReason = "An error occurred while processing the request"

// Controller runs the two-tier admission check and serves the monitoring reads.
type Controller struct {
	registry *limiter.Registry
	store    *history.Store

	senderCapacity   int
	globalCapacity   int
	activeThreshold  time.Duration
	identityLookback time.Duration
	identityCacheTTL time.Duration
	identityCache    *ristretto.Cache

	publisher broker.Publisher
	metrics   MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewController creates a Controller over registry and store. Both are shared
// with the sweepers and must not be nil.
func NewController(registry *limiter.Registry, store *history.Store, opts ...func(*Controller)) (*Controller, error) {
	if registry == nil || store == nil {
		return nil, errors.New("registry and history store are required")
	}

	c := &Controller{
		registry:         registry,
		store:            store,
		senderCapacity:   5,
		globalCapacity:   100,
		activeThreshold:  limiter.DefaultActiveThreshold,
		identityLookback: 24 * time.Hour,
		identityCacheTTL: 5 * time.Second,
		metrics:          disabledMetricsCollector,
		logger:           slog.Default(),
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.senderCapacity <= 0 || c.globalCapacity <= 0 {
		return nil, fmt.Errorf("capacities must be positive (sender=%d, global=%d)", c.senderCapacity, c.globalCapacity)
	}

	if c.identityCacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 100,
			MaxCost:     1 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("creating identity cache: %w", err)
		}
		c.identityCache = cache
	}

	return c, nil
}

// WithSettings applies the limits and thresholds from s.
func WithSettings(s Settings) func(*Controller) {
	return func(c *Controller) {
		c.senderCapacity = s.SenderMaxPerSecond
		c.globalCapacity = s.AccountMaxPerSecond
		c.activeThreshold = s.ActiveThreshold
		c.identityLookback = s.IdentityLookback
		c.identityCacheTTL = s.IdentityCacheTTL
	}
}

// WithSenderCapacity sets how many messages one sender may send per second.
// default: 5
func WithSenderCapacity(n int) func(*Controller) {
	return func(c *Controller) {
		c.senderCapacity = n
	}
}

// WithGlobalCapacity sets how many messages the account may send per second.
// default: 100
func WithGlobalCapacity(n int) func(*Controller) {
	return func(c *Controller) {
		c.globalCapacity = n
	}
}

// WithActiveThreshold sets how recently a limiter must have been touched to
// appear in GetLiveStatus.
// default: 1h
func WithActiveThreshold(d time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.activeThreshold = d
	}
}

// WithIdentityLookback sets how far back GetKnownIdentities looks.
// default: 24h
func WithIdentityLookback(d time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.identityLookback = d
	}
}

// WithIdentityCacheTTL sets how long GetKnownIdentities results are reused.
// A non-positive TTL disables the cache.
// default: 5s
func WithIdentityCacheTTL(d time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.identityCacheTTL = d
	}
}

// WithPublisher sets where admission events are sent. Without one, nothing is published.
func WithPublisher(p broker.Publisher) func(*Controller) {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) func(*Controller) {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock replaces time.Now for history timestamps and monitoring defaults.
// The registry keeps its own clock; see limiter.WithClock.
func WithClock(now func() time.Time) func(*Controller) {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Close releases the identity cache.
func (c *Controller) Close() {
	if c.identityCache != nil {
		c.identityCache.Close()
	}
}

// CheckAdmission decides whether sender may send one message now.
//
// The sender ceiling is checked first, then the account ceiling. When the
// account denies, the slot taken from the sender is returned. Limiter state is
// always changed before the matching history record is written. A cancelled
// context is honoured only before the first limiter is touched.
//
// CheckAdmission never panics and always returns a verdict.
func (c *Controller) CheckAdmission(ctx context.Context, sender string) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during admission check",
				slog.String("sender", sender), slog.Any("panic", r))
			v = processingFailure(fmt.Errorf("%w: %v", ErrProcessing, r))
		}
		c.metrics.IncOutcome(v.Outcome)
	}()

	if err := ValidateIdentity(sender); err != nil {
		return Verdict{Outcome: DeniedValidation, Reason: err.Error(), Err: err}
	}

	if err := ctx.Err(); err != nil {
		c.logger.Warn("admission check cancelled", slog.String("sender", sender), slog.Any("error", err))
		return processingFailure(fmt.Errorf("%w: %w", ErrProcessing, err))
	}

	senderLimiter := c.registry.GetOrCreate(sender, c.senderCapacity, RateWindow)
	if !senderLimiter.TryAdmit() {
		stats := senderLimiter.Stats()
		c.record(ctx, sender, false, broker.EventDeniedSender)
		return Verdict{
			Outcome:  DeniedSender,
			Reason:   fmt.Sprintf("Phone number rate limit exceeded (%d/%d messages per second)", stats.CurrentCount, stats.Capacity),
			Err:      fmt.Errorf("%w: %s", ErrSenderCapacity, sender),
			Snapshot: &stats,
		}
	}

	globalLimiter := c.registry.GetOrCreate(GlobalAccountKey, c.globalCapacity, RateWindow)
	if !globalLimiter.TryAdmit() {
		senderLimiter.Rollback()
		c.metrics.IncRollbacks()

		stats := globalLimiter.Stats()
		c.record(ctx, GlobalAccountKey, false, broker.EventDeniedGlobal)
		return Verdict{
			Outcome:  DeniedGlobal,
			Reason:   fmt.Sprintf("Global account rate limit exceeded (%d/%d messages per second)", stats.CurrentCount, stats.Capacity),
			Err:      ErrGlobalCapacity,
			Snapshot: &stats,
		}
	}

	c.record(ctx, sender, true, broker.EventAdmitted)
	return Verdict{Admitted: true, Outcome: Admitted}
}

// record writes the outcome to history and then hands it to the publisher.
func (c *Controller) record(ctx context.Context, key string, admitted bool, event string) {
	now := c.now()
	c.store.Record(key, now, admitted)

	if c.publisher == nil {
		return
	}
	err := c.publisher.Publish(ctx, broker.Event{Event: event, Timestamp: now, Key: key})
	if err != nil {
		c.logger.Warn("failed to publish admission event",
			slog.String("key", key), slog.String("event", event), slog.Any("error", err))
	}
}

func processingFailure(err error) Verdict {
	return Verdict{Outcome: DeniedProcessing, Reason: processingFailureReason, Err: err}
}
