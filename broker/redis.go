package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"
)

// ErrChannelFull is returned by Publish when the publish buffer has no room.
var ErrChannelFull = errors.New("publish operation could not proceed; channel full")

const (
	defaultStream     = "smsratelimit"
	defaultBufferSize = 1000
	defaultMaxThreads = 100
	defaultBatchSize  = 100
	maxPublishTries   = 3
	publishTimeout    = 500 * time.Millisecond
)

// streamClient is the subset of *redis.Client used by RedisPublisher.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisPublisher batches events and appends them to a Redis stream.
type RedisPublisher struct {
	stream       string
	client       streamClient
	maxStreamLen int64
	instanceID   string

	minBackoff     time.Duration
	maxBackoff     time.Duration
	publishChannel chan Event

	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewRedisPublisher returns a publisher writing to rdb. Start must be called
// for buffered events to reach Redis.
func NewRedisPublisher(rdb *redis.Client, opts ...func(*RedisPublisher)) *RedisPublisher {
	return newRedisPublisher(rdb, opts...)
}

func newRedisPublisher(client streamClient, opts ...func(*RedisPublisher)) *RedisPublisher {
	rp := &RedisPublisher{
		client:         client,
		stream:         defaultStream,
		instanceID:     uuid.NewString(),
		minBackoff:     100 * time.Millisecond,
		maxBackoff:     2 * time.Second,
		publishChannel: make(chan Event, defaultBufferSize),
		sem:            semaphore.NewWeighted(int64(defaultMaxThreads)),
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(rp)
	}

	return rp
}

// WithStream sets the Redis stream name.
// default: "smsratelimit"
func WithStream(stream string) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.stream = stream
	}
}

// WithCappedStream sets the approximate max length of the stream.
func WithCappedStream(maxLen int64) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.maxStreamLen = maxLen
	}
}

// WithMaxThreads bounds the number of batches written concurrently.
func WithMaxThreads(maxThreads int) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.sem = semaphore.NewWeighted(int64(maxThreads))
	}
}

// WithBufferSize sets how many events may wait for publishing.
func WithBufferSize(size int) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.publishChannel = make(chan Event, size)
	}
}

// WithBackoff sets the retry delays used when a write fails.
func WithBackoff(minDelay, maxDelay time.Duration) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.minBackoff = minDelay
		rp.maxBackoff = maxDelay
	}
}

// WithInstanceID overrides the generated instance ID stamped on events.
func WithInstanceID(id string) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.instanceID = id
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.logger = logger
	}
}

// InstanceID returns the ID stamped on every published event.
func (r *RedisPublisher) InstanceID() string {
	return r.instanceID
}

// Start runs the publisher loop in the background until ctx is done.
func (r *RedisPublisher) Start(ctx context.Context) {
	go func() {
		if err := r.StartPublisher(ctx); err != nil {
			r.logger.Error("error publishing messages in publisher", slog.Any("error", err.Error()))
		}
	}()
}

// Publish queues an event without blocking.
func (r *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.InstanceID == "" {
		ev.InstanceID = r.instanceID
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case r.publishChannel <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrChannelFull
	}
}

// StartPublisher drains the publish buffer into the stream in batches.
func (r *RedisPublisher) StartPublisher(ctx context.Context) error {
	for {
		events := make([]Event, 0, defaultBatchSize)

		// Block until we receive the first event
		select {
		case ev := <-r.publishChannel:
			events = append(events, ev)
		case <-ctx.Done():
			return nil
		}

		events = r.gather(events)

		if err := r.sem.Acquire(ctx, 1); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		go func(events []Event) {
			defer r.sem.Release(1)
			if err := r.publishWithRetry(ctx, events); err != nil {
				r.logger.Error("error publishing events to redis",
					slog.Int("events", len(events)), slog.Any("error", err.Error()))
			}
		}(events)
	}
}

// gather adds every event already waiting, up to a full batch.
func (r *RedisPublisher) gather(events []Event) []Event {
	for len(events) < defaultBatchSize {
		select {
		case ev := <-r.publishChannel:
			events = append(events, ev)
		default:
			return events
		}
	}
	return events
}

func (r *RedisPublisher) publishWithRetry(ctx context.Context, events []Event) error {
	b := &backoff.Backoff{
		Min:    r.minBackoff,
		Max:    r.maxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < maxPublishTries; attempt++ {
		publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = r.publish(publishCtx, events)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == maxPublishTries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(b.Duration()):
		}
	}
	return err
}

func (r *RedisPublisher) publish(ctx context.Context, events []Event) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return err
	}

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{"events": payload},
		MaxLen: r.maxStreamLen,
		Approx: r.maxStreamLen > 0,
	}).Err()
}
