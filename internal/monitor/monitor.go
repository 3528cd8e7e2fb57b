// Package monitor implements the performance monitor (§4.8): per-symbol,
// per-operation latency recording with percentile aggregation over a
// rolling one-hour window, plus Prometheus collectors for the /metrics
// scrape endpoint.
package monitor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// window is how long latency samples are retained for percentile queries.
const window = time.Hour

// OpStats is one operation's aggregated latency statistics (§4.8).
type OpStats struct {
	Count int64
	Min   float64
	Max   float64
	Avg   float64
	P95   float64
	P99   float64
}

type sample struct {
	at     time.Time
	millis float64
}

// Monitor aggregates per-(symbol,operation) latency samples. Safe for
// concurrent use by every symbol's processor plus the HTTP ingress.
type Monitor struct {
	mu      sync.Mutex
	samples map[string][]sample // key: symbol + "|" + op
	totals  map[string]int64    // all-time counter, never evicted

	latency    *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
	restingQty *prometheus.GaugeVec
}

// New constructs a Monitor and registers its Prometheus collectors on reg.
// Pass prometheus.DefaultRegisterer in production; tests should pass a
// fresh prometheus.NewRegistry() to avoid collisions across cases.
func New(reg prometheus.Registerer) *Monitor {
	factory := promauto.With(reg)
	return &Monitor{
		samples: make(map[string][]sample),
		totals:  make(map[string]int64),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exchange_operation_latency_seconds",
			Help:    "Latency of processor operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs..~0.82s
		}, []string{"symbol", "operation"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_pending_queue_length",
			Help: "Number of payloads currently queued on a symbol's pending list.",
		}, []string{"symbol"}),
		restingQty: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_resting_orders",
			Help: "Number of resting orders per symbol and side.",
		}, []string{"symbol", "side"}),
	}
}

// Record logs one operation's latency (§4.8 record).
func (m *Monitor) Record(operation string, d time.Duration, symbol string) {
	millis := float64(d) / float64(time.Millisecond)
	m.latency.WithLabelValues(symbol, operation).Observe(d.Seconds())

	key := sampleKey(symbol, operation)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[key]++
	m.samples[key] = evict(append(m.samples[key], sample{at: now, millis: millis}), now)
}

// SetQueueLength publishes the current pending-list depth for symbol.
func (m *Monitor) SetQueueLength(symbol string, n int64) {
	m.queueDepth.WithLabelValues(symbol).Set(float64(n))
}

// SetRestingCounts publishes the current per-side resting-order counts
// for symbol.
func (m *Monitor) SetRestingCounts(symbol string, bidCount, askCount int64) {
	m.restingQty.WithLabelValues(symbol, "buy").Set(float64(bidCount))
	m.restingQty.WithLabelValues(symbol, "sell").Set(float64(askCount))
}

// Stats returns the aggregated statistics for (symbol, operation) over
// the last hour's samples. If no samples remain in the window, only Count
// (the all-time total) is set.
func (m *Monitor) Stats(symbol, operation string) OpStats {
	key := sampleKey(symbol, operation)
	now := time.Now()

	m.mu.Lock()
	samples := evict(m.samples[key], now)
	m.samples[key] = samples
	total := m.totals[key]
	m.mu.Unlock()

	return aggregate(samples, total)
}

// Percentile returns the p-th percentile (0 < p <= 100) latency in
// milliseconds for (symbol, operation) by nearest-rank interpolation
// over the last hour's samples (§4.8 percentile).
func (m *Monitor) Percentile(operation string, p float64, symbol string) float64 {
	key := sampleKey(symbol, operation)
	now := time.Now()

	m.mu.Lock()
	samples := evict(m.samples[key], now)
	m.samples[key] = samples
	m.mu.Unlock()

	return percentile(samples, p)
}

// Snapshot returns a copy of every operation's stats for symbol, keyed by
// operation name.
func (m *Monitor) Snapshot(symbol string) map[string]OpStats {
	now := time.Now()
	prefix := symbol + "|"

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]OpStats)
	for key, samples := range m.samples {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		samples = evict(samples, now)
		m.samples[key] = samples
		op := strings.TrimPrefix(key, prefix)
		out[op] = aggregate(samples, m.totals[key])
	}
	return out
}

func sampleKey(symbol, operation string) string {
	return fmt.Sprintf("%s|%s", symbol, operation)
}

func evict(samples []sample, now time.Time) []sample {
	cutoff := now.Add(-window)
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return samples
	}
	return append([]sample(nil), samples[i:]...)
}

func aggregate(samples []sample, total int64) OpStats {
	if len(samples) == 0 {
		return OpStats{Count: total}
	}
	stats := OpStats{Count: total, Min: math.MaxFloat64}
	var sum float64
	for _, s := range samples {
		if s.millis < stats.Min {
			stats.Min = s.millis
		}
		if s.millis > stats.Max {
			stats.Max = s.millis
		}
		sum += s.millis
	}
	stats.Avg = sum / float64(len(samples))
	stats.P95 = percentile(samples, 95)
	stats.P99 = percentile(samples, 99)
	return stats
}

// percentile computes the p-th percentile by nearest-rank interpolation.
func percentile(samples []sample, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.millis
	}
	sort.Float64s(values)

	if p <= 0 {
		return values[0]
	}
	if p >= 100 {
		return values[len(values)-1]
	}

	rank := p / 100 * float64(len(values)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return values[lo]
	}
	frac := rank - float64(lo)
	return values[lo] + frac*(values[hi]-values[lo])
}
