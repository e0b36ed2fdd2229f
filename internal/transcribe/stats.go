package transcribe

import (
	"slices"
	"sync"
	"time"
)

// StatsSnapshot is a point-in-time aggregate of recognition latencies.
type StatsSnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

type sample struct {
	at time.Time
	ms int64
}

// Stats tracks recent recognition call latencies within a rolling window.
type Stats struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
}

func NewStats(window time.Duration) *Stats {
	if window <= 0 {
		window = time.Hour
	}
	return &Stats{window: window}
}

func (s *Stats) Record(ms int64) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpired(now)
	s.samples = append(s.samples, sample{at: now, ms: max(ms, 0)})
}

func (s *Stats) Snapshot() StatsSnapshot {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpired(now)

	n := len(s.samples)
	if n == 0 {
		return StatsSnapshot{}
	}
	values := make([]int64, n)
	var sum int64
	for i, sm := range s.samples {
		values[i] = sm.ms
		sum += sm.ms
	}
	slices.Sort(values)

	return StatsSnapshot{
		Count: n,
		MinMs: values[0],
		MaxMs: values[n-1],
		AvgMs: float64(sum) / float64(n),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

// dropExpired trims the expired prefix; samples are appended in time
// order, so everything past the first fresh one is fresh too.
func (s *Stats) dropExpired(now time.Time) {
	cutoff := now.Add(-s.window)
	keep := 0
	for keep < len(s.samples) && s.samples[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		s.samples = append(s.samples[:0], s.samples[keep:]...)
	}
}

// percentile interpolates linearly between the two nearest ranks of an
// already sorted slice.
func percentile(sorted []int64, pct float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := pct / 100 * float64(n-1)
	if rank <= 0 {
		return float64(sorted[0])
	}
	if rank >= float64(n-1) {
		return float64(sorted[n-1])
	}
	lo := int(rank)
	frac := rank - float64(lo)
	return float64(sorted[lo]) + frac*float64(sorted[lo+1]-sorted[lo])
}
