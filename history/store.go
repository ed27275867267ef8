// Package history aggregates admit/deny events into per-second buckets and
// answers range queries over them.
package history

import (
	"sort"
	"sync"
	"time"
)

// BucketSize is the granularity events are recorded at.
const BucketSize = time.Second

// Bucket holds the aggregated counts of one key over one time slice.
type Bucket struct {
	Key       string        `json:"key"`
	Timestamp time.Time     `json:"timestamp"`
	Window    time.Duration `json:"window"`
	Total     int           `json:"totalRequests"`
	Rejected  int           `json:"rejectedRequests"`
}

// Summary describes a key over a time range.
type Summary struct {
	TotalRequests int        `json:"totalRequests"`
	TotalRejected int        `json:"totalBlocked"`
	AvgPerSec     float64    `json:"averageRequestsPerSecond"`
	PeakPerSec    float64    `json:"peakRequestsPerSecond"`
	PeakTime      *time.Time `json:"peakTime"`
}

type bucketKey struct {
	key string
	ts  int64 // unix nanoseconds of the second-aligned bucket start
}

type counts struct {
	total    int
	rejected int
}

// Store is an in-memory, concurrency-safe history of admission outcomes.
type Store struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*counts
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{buckets: make(map[bucketKey]*counts)}
}

// Record merges one event into the bucket of (key, timestamp floored to the second).
func (s *Store) Record(key string, timestamp time.Time, admitted bool) {
	bk := bucketKey{key: key, ts: timestamp.Truncate(BucketSize).UnixNano()}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.buckets[bk]
	if !ok {
		c = &counts{}
		s.buckets[bk] = c
	}
	c.total++
	if !admitted {
		c.rejected++
	}
}

// QueryRates returns the buckets of key whose second lies in [start, end],
// regrouped into slices of window length and ordered by time. An empty key
// selects every key; buckets of different keys are never merged.
func (s *Store) QueryRates(key string, start, end time.Time, window time.Duration) []Bucket {
	if window <= 0 {
		window = BucketSize
	}

	grouped := make(map[bucketKey]*counts)

	s.mu.RLock()
	for bk, c := range s.buckets {
		if key != "" && bk.key != key {
			continue
		}
		ts := time.Unix(0, bk.ts).UTC()
		if ts.Before(start) || ts.After(end) {
			continue
		}

		gk := bucketKey{key: bk.key, ts: ts.Truncate(window).UnixNano()}
		g, ok := grouped[gk]
		if !ok {
			g = &counts{}
			grouped[gk] = g
		}
		g.total += c.total
		g.rejected += c.rejected
	}
	s.mu.RUnlock()

	rates := make([]Bucket, 0, len(grouped))
	for gk, g := range grouped {
		rates = append(rates, Bucket{
			Key:       gk.key,
			Timestamp: time.Unix(0, gk.ts).UTC(),
			Window:    window,
			Total:     g.total,
			Rejected:  g.rejected,
		})
	}

	sort.Slice(rates, func(i, j int) bool {
		if !rates[i].Timestamp.Equal(rates[j].Timestamp) {
			return rates[i].Timestamp.Before(rates[j].Timestamp)
		}
		return rates[i].Key < rates[j].Key
	})

	return rates
}

// Summarize computes totals, average and peak rate for key over [start, end].
// The peak is the largest one-second bucket of a single key, even when key is
// empty and every key is selected.
func (s *Store) Summarize(key string, start, end time.Time) Summary {
	rates := s.QueryRates(key, start, end, BucketSize)
	if len(rates) == 0 {
		return Summary{}
	}

	var summary Summary
	var peak Bucket
	for i, r := range rates {
		summary.TotalRequests += r.Total
		summary.TotalRejected += r.Rejected
		// rates is ordered by time, so the first maximum is the earliest
		if i == 0 || r.Total > peak.Total {
			peak = r
		}
	}

	if seconds := end.Sub(start).Seconds(); seconds > 0 {
		summary.AvgPerSec = float64(summary.TotalRequests) / seconds
	}
	summary.PeakPerSec = float64(peak.Total)
	peakTime := peak.Timestamp
	summary.PeakTime = &peakTime

	return summary
}

// Purge deletes every bucket older than cutoff and returns how many were removed.
func (s *Store) Purge(cutoff time.Time) int {
	c := cutoff.UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for bk := range s.buckets {
		if bk.ts < c {
			delete(s.buckets, bk)
			removed++
		}
	}
	return removed
}

// Len returns the number of one-second buckets held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

