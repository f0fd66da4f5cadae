// Package monitor aggregates runtime metrics: order latency, event
// counters, rate limiter usage and Go runtime stats. It feeds the
// /api/v1/metrics endpoint.
package monitor

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"execution-core/internal/events"
	"execution-core/pkg/exchanges/common"
)

// SystemMetrics tracks overall engine performance.
type SystemMetrics struct {
	OrderLatency *LatencyHistogram

	ordersPlaced   uint64
	ordersRejected uint64
	ticksProcessed uint64
	jobsStarted    uint64
	jobsStopped    uint64
	jobsFailed     uint64

	throttle *common.Throttle
}

// NewSystemMetrics creates a metrics instance. throttle may be nil.
func NewSystemMetrics(throttle *common.Throttle) *SystemMetrics {
	return &SystemMetrics{
		OrderLatency: NewLatencyHistogram(1000),
		throttle:     throttle,
	}
}

// Collect subscribes to the event bus and counts until ctx ends.
func (m *SystemMetrics) Collect(ctx context.Context, bus *events.Bus) {
	type pair struct {
		event   events.Event
		counter *uint64
	}
	pairs := []pair{
		{events.EventOrderSubmitted, &m.ordersPlaced},
		{events.EventOrderRejected, &m.ordersRejected},
		{events.EventPriceTick, &m.ticksProcessed},
		{events.EventJobStarted, &m.jobsStarted},
		{events.EventJobStopped, &m.jobsStopped},
		{events.EventJobFailed, &m.jobsFailed},
	}
	for _, p := range pairs {
		ch, unsub := bus.Subscribe(p.event, 64)
		go func(ch <-chan any, counter *uint64, unsub func()) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					atomic.AddUint64(counter, 1)
				}
			}
		}(ch, p.counter, unsub)
	}
}

// LatencyHistogram tracks samples over a sliding window with lazily
// recomputed stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts a duration to ms and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns min, max, avg and percentiles, recomputing only when the
// window changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	OrderLatency    LatencyStats `json:"order_latency"`
	OrdersPlaced    uint64       `json:"orders_placed"`
	OrdersRejected  uint64       `json:"orders_rejected"`
	TicksProcessed  uint64       `json:"ticks_processed"`
	JobsStarted     uint64       `json:"jobs_started"`
	JobsStopped     uint64       `json:"jobs_stopped"`
	JobsFailed      uint64       `json:"jobs_failed"`
	ThrottleUsage   float64      `json:"throttle_usage"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var usage float64
	if m.throttle != nil {
		_, _, usage = m.throttle.Usage()
	}

	return MetricsSnapshot{
		OrderLatency:   m.OrderLatency.Stats(),
		OrdersPlaced:   atomic.LoadUint64(&m.ordersPlaced),
		OrdersRejected: atomic.LoadUint64(&m.ordersRejected),
		TicksProcessed: atomic.LoadUint64(&m.ticksProcessed),
		JobsStarted:    atomic.LoadUint64(&m.jobsStarted),
		JobsStopped:    atomic.LoadUint64(&m.jobsStopped),
		JobsFailed:     atomic.LoadUint64(&m.jobsFailed),
		ThrottleUsage:  usage,
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		HeapSys:        memStats.HeapSys,
		Timestamp:      time.Now(),
	}
}

// Timer measures one operation and records it on Stop.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer starts a timer recording into h.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records the elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
