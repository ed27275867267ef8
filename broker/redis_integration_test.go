//go:build integration

package broker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/parkerroan/smsratelimit/broker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisher(t *testing.T) {
	// Requires a local Redis, e.g. docker run -p 6379:6379 redis
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := rdb.Ping(ctx).Result()
	require.NoError(t, err)

	stream := "smsratelimit-test-" + time.Now().Format("150405.000")
	defer rdb.Del(context.Background(), stream)

	publisher := broker.NewRedisPublisher(rdb, broker.WithStream(stream), broker.WithCappedStream(100))
	publisher.Start(ctx)

	original := broker.Event{
		Event:     broker.EventDeniedGlobal,
		Key:       "GLOBAL_ACCOUNT",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, publisher.Publish(ctx, original))

	var received []broker.Event
	assert.Eventually(t, func() bool {
		msgs, err := rdb.XRange(ctx, stream, "-", "+").Result()
		if err != nil || len(msgs) == 0 {
			return false
		}
		payload, _ := msgs[0].Values["events"].(string)
		return json.Unmarshal([]byte(payload), &received) == nil
	}, 5*time.Second, 50*time.Millisecond)

	require.Len(t, received, 1)
	assert.Equal(t, publisher.InstanceID(), received[0].InstanceID)
	assert.Equal(t, original.Key, received[0].Key)
	assert.True(t, original.Timestamp.Equal(received[0].Timestamp))
}
