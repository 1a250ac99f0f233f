package llm

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// maxSamples bounds memory per upstream when traffic is heavy.
const maxSamples = 4096

type sample struct {
	at         time.Time
	durationMs int64
}

// StatsSnapshot aggregates the latency samples currently in the window.
type StatsSnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// LLMStats keeps upstream call latencies for a rolling window.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	window  time.Duration
}

func NewLLMStats(window time.Duration) *LLMStats {
	if window <= 0 {
		window = time.Hour
	}
	return &LLMStats{window: window}
}

// Record adds one call duration. Negative values count as zero.
func (s *LLMStats) Record(durationMs int64) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(now)
	if len(s.samples) == maxSamples {
		s.samples = slices.Delete(s.samples, 0, 1)
	}
	s.samples = append(s.samples, sample{at: now, durationMs: max(durationMs, 0)})
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	s.expireLocked(time.Now())
	values := make([]int64, len(s.samples))
	for i, sm := range s.samples {
		values[i] = sm.durationMs
	}
	s.mu.Unlock()

	if len(values) == 0 {
		return StatsSnapshot{}
	}
	slices.Sort(values)
	var sum int64
	for _, v := range values {
		sum += v
	}
	return StatsSnapshot{
		Count: len(values),
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

// expireLocked drops samples older than the window. Samples are appended
// in time order, so the expired ones form a prefix.
func (s *LLMStats) expireLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := sort.Search(len(s.samples), func(i int) bool {
		return !s.samples[i].at.Before(cutoff)
	})
	if i > 0 {
		s.samples = slices.Delete(s.samples, 0, i)
	}
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	rank := float64(len(sorted)-1) * pct / 100
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := rank - float64(lo)
	return float64(sorted[lo]) + (float64(sorted[lo+1])-float64(sorted[lo]))*frac
}

// Registry names the latency trackers of each upstream service.
type Registry struct {
	mu     sync.Mutex
	window time.Duration
	byName map[string]*LLMStats
}

func NewRegistry(window time.Duration) *Registry {
	return &Registry{window: window, byName: make(map[string]*LLMStats)}
}

// For returns the tracker for name, creating it on first use.
func (r *Registry) For(name string) *LLMStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[name]
	if !ok {
		s = NewLLMStats(r.window)
		r.byName[name] = s
	}
	return s
}

// Snapshot returns a snapshot per upstream.
func (r *Registry) Snapshot() map[string]StatsSnapshot {
	r.mu.Lock()
	names := make(map[string]*LLMStats, len(r.byName))
	for k, v := range r.byName {
		names[k] = v
	}
	r.mu.Unlock()

	out := make(map[string]StatsSnapshot, len(names))
	for k, v := range names {
		out[k] = v.Snapshot()
	}
	return out
}
