package smsratelimit

import (
	"context"
	"sort"
	"time"

	"github.com/parkerroan/smsratelimit/history"
	"github.com/parkerroan/smsratelimit/limiter"
)

const (
	StatusNormal  = "Normal"
	StatusWarning = "Warning"
	StatusBlocked = "Blocked"

	warningUtilization = 80.0

	identitiesCacheKey = "known-identities"
)

// TimePoint is the traffic of one second.
type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"requestCount"`
	Rejected  int       `json:"blockedCount"`
}

// TimeRange is a closed interval of time.
type TimeRange struct {
	Start time.Time `json:"startTime"`
	End   time.Time `json:"endTime"`
}

// Statistics is the monitoring view of one sender, or of the whole account
// when Identity is empty.
type Statistics struct {
	Identity          string          `json:"businessPhoneNumber,omitempty"`
	Range             TimeRange       `json:"timeRange"`
	TimeSeries        []TimePoint     `json:"messagesPerSecond"`
	CurrentSnapshot   limiter.Stats   `json:"currentStats"`
	HistoricalSummary history.Summary `json:"historicalStats"`
}

// LiveStatus describes a limiter that is currently in use.
type LiveStatus struct {
	Identity          string        `json:"businessPhoneNumber"`
	CurrentCount      int           `json:"currentCount"`
	RemainingCapacity int           `json:"remainingCapacity"`
	Capacity          int           `json:"maximumRequests"`
	Window            time.Duration `json:"windowDuration"`
	LastAccessed      time.Time     `json:"lastAccessed"`
	Utilization       float64       `json:"utilizationPercentage"`
	Status            string        `json:"status"`
}

// GetStatistics returns the per-second traffic, the live counter and a summary
// for sender over [start, end]. An empty sender selects every key.
func (c *Controller) GetStatistics(ctx context.Context, start, end time.Time, sender string) (*Statistics, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	if sender != "" {
		if err := ValidateIdentity(sender); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rates := c.store.QueryRates(sender, start, end, history.BucketSize)
	series := make([]TimePoint, 0, len(rates))
	for _, r := range rates {
		n := len(series)
		if n > 0 && series[n-1].Timestamp.Equal(r.Timestamp) {
			series[n-1].Count += r.Total
			series[n-1].Rejected += r.Rejected
			continue
		}
		series = append(series, TimePoint{Timestamp: r.Timestamp, Count: r.Total, Rejected: r.Rejected})
	}

	key, capacity := GlobalAccountKey, c.globalCapacity
	if sender != "" {
		key, capacity = sender, c.senderCapacity
	}

	return &Statistics{
		Identity:          sender,
		Range:             TimeRange{Start: start, End: end},
		TimeSeries:        series,
		CurrentSnapshot:   c.registry.GetOrCreate(key, capacity, RateWindow).Stats(),
		HistoricalSummary: c.store.Summarize(sender, start, end),
	}, nil
}

// GetKnownIdentities returns, sorted, every sender seen in history within the
// lookback window. The account key is never included.
func (c *Controller) GetKnownIdentities(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.identityCache != nil {
		if val, ok := c.identityCache.Get(identitiesCacheKey); ok {
			return append([]string(nil), val.([]string)...), nil
		}
	}

	now := c.now()
	rates := c.store.QueryRates("", now.Add(-c.identityLookback), now, c.identityLookback)

	seen := make(map[string]struct{}, len(rates))
	identities := make([]string, 0, len(rates))
	for _, r := range rates {
		if r.Key == GlobalAccountKey {
			continue
		}
		if _, ok := seen[r.Key]; ok {
			continue
		}
		seen[r.Key] = struct{}{}
		identities = append(identities, r.Key)
	}
	sort.Strings(identities)

	if c.identityCache != nil {
		c.identityCache.SetWithTTL(identitiesCacheKey, identities, 1, c.identityCacheTTL)
		c.identityCache.Wait()
	}

	return append([]string(nil), identities...), nil
}

// GetLiveStatus lists the limiters touched within the active threshold, most
// utilized first. Reading a limiter counts as touching it.
func (c *Controller) GetLiveStatus() []LiveStatus {
	active := c.registry.ActiveLimiters(c.activeThreshold)

	statuses := make([]LiveStatus, 0, len(active))
	for _, rl := range active {
		lastAccessed := rl.LastAccessed()
		stats := rl.Stats()
		utilization := stats.Utilization() * 100

		statuses = append(statuses, LiveStatus{
			Identity:          rl.Key(),
			CurrentCount:      stats.CurrentCount,
			RemainingCapacity: stats.RemainingCapacity,
			Capacity:          stats.Capacity,
			Window:            stats.Window,
			LastAccessed:      lastAccessed,
			Utilization:       utilization,
			Status:            statusFor(stats, utilization),
		})
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].Utilization != statuses[j].Utilization {
			return statuses[i].Utilization > statuses[j].Utilization
		}
		return statuses[i].Identity < statuses[j].Identity
	})

	return statuses
}

func statusFor(stats limiter.Stats, utilization float64) string {
	switch {
	case stats.RemainingCapacity <= 0:
		return StatusBlocked
	case utilization >= warningUtilization:
		return StatusWarning
	default:
		return StatusNormal
	}
}

