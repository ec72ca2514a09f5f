// Package metrics provides process-wide counters and latency summaries
// for the diagnostics surface.
//
// The Collector is a leaf package with no internal dependencies. It feeds
// the read-only diagnostics snapshot consumed by operational tooling; it is
// never used for control decisions.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// maxSamplesPerSeries bounds memory per latency series. Oldest samples are
// discarded first; percentile summaries then describe recent behavior.
const maxSamplesPerSeries = 1024

// TimingSummary describes one latency series.
type TimingSummary struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
}

// Snapshot is an immutable point-in-time view of all metrics.
// Safe to read concurrently after creation.
type Snapshot struct {
	Counters map[string]int64         `json:"counters"`
	Timings  map[string]TimingSummary `json:"timings"`
}

// Collector accumulates named counters and latency observations.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu       sync.Mutex
	counters map[string]int64
	timings  map[string]*series
}

type series struct {
	count   int64
	samples []float64 // milliseconds, bounded ring
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		counters: make(map[string]int64),
		timings:  make(map[string]*series),
	}
}

// Inc increments a named counter.
func (c *Collector) Inc(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// Add increments a named counter by n.
func (c *Collector) Add(name string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name] += n
	c.mu.Unlock()
}

// Observe records a latency observation for a named series.
func (c *Collector) Observe(name string, d time.Duration) {
	if c == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000.0

	c.mu.Lock()
	s := c.timings[name]
	if s == nil {
		s = &series{}
		c.timings[name] = s
	}
	s.count++
	if len(s.samples) >= maxSamplesPerSeries {
		s.samples = s.samples[1:]
	}
	s.samples = append(s.samples, ms)
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all metrics.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Counters: map[string]int64{}, Timings: map[string]TimingSummary{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}

	timings := make(map[string]TimingSummary, len(c.timings))
	for k, s := range c.timings {
		timings[k] = summarize(s)
	}

	return Snapshot{Counters: counters, Timings: timings}
}

func summarize(s *series) TimingSummary {
	if len(s.samples) == 0 {
		return TimingSummary{Count: s.count}
	}

	min, max, sum := s.samples[0], s.samples[0], 0.0
	for _, v := range s.samples {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	return TimingSummary{
		Count: s.count,
		Min:   min,
		Max:   max,
		Avg:   sum / float64(len(s.samples)),
		P50:   percentile(s.samples, 50),
		P95:   percentile(s.samples, 95),
	}
}

// percentile returns the given percentile using linear interpolation
// between the two nearest ranks.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	position := float64(len(sorted)-1) * (p / 100)
	lower := int(position)
	upper := lower + 1
	if upper > len(sorted)-1 {
		upper = len(sorted) - 1
	}
	weight := position - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
