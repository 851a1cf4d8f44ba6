package goose

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a thread-safe counter
type Counter struct {
	value int64
}

// Add adds a delta to the counter
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Inc increments the counter by 1
func (c *Counter) Inc() {
	c.Add(1)
}

// Value returns the current counter value
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to 0
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// Gauge is a thread-safe gauge that can go up and down
type Gauge struct {
	value int64
}

// Set sets the gauge value
func (g *Gauge) Set(value int64) {
	atomic.StoreInt64(&g.value, value)
}

// Add adds a delta to the gauge
func (g *Gauge) Add(delta int64) {
	atomic.AddInt64(&g.value, delta)
}

// Value returns the current gauge value
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// latencyBounds are the upper bounds of the histogram buckets; the last
// bucket is open-ended
var latencyBounds = []time.Duration{
	time.Microsecond,
	5 * time.Microsecond,
	10 * time.Microsecond,
	50 * time.Microsecond,
	100 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	5 * time.Millisecond,
}

// LatencyHistogram tracks codec latency. Encode and decode run in
// microseconds, so the buckets are finer than a network round trip would need.
type LatencyHistogram struct {
	mu      sync.RWMutex
	count   int64
	sum     int64 // nanoseconds
	min     int64
	max     int64
	buckets []int64
}

// NewLatencyHistogram creates a new latency histogram
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		min:     -1,
		buckets: make([]int64, len(latencyBounds)+1),
	}
}

// Record records a latency measurement
func (h *LatencyHistogram) Record(d time.Duration) {
	ns := d.Nanoseconds()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += ns

	if h.min < 0 || ns < h.min {
		h.min = ns
	}
	if ns > h.max {
		h.max = ns
	}

	i := 0
	for i < len(latencyBounds) && d >= latencyBounds[i] {
		i++
	}
	h.buckets[i]++
}

// Stats returns histogram statistics
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := LatencyStats{
		Count:   h.count,
		Buckets: make([]int64, len(h.buckets)),
	}
	copy(stats.Buckets, h.buckets)

	if h.count > 0 {
		stats.Min = time.Duration(h.min)
		stats.Max = time.Duration(h.max)
		stats.Avg = time.Duration(h.sum / h.count)
	}

	return stats
}

// Reset resets the histogram
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count = 0
	h.sum = 0
	h.min = -1
	h.max = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}

// LatencyStats contains latency statistics
type LatencyStats struct {
	Count   int64
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	Buckets []int64
}

// Metrics holds codec metrics
type Metrics struct {
	// Encode
	FramesEncoded  Counter
	EncodeFailures Counter
	BytesEncoded   Counter

	// Decode
	FramesDecoded   Counter
	DecodeFailures  Counter
	BytesDecoded    Counter
	LegacyHeaders   Counter
	NotGOOSE        Counter
	FramesFiltered  Counter

	// Publisher
	StateChanges    Counter
	Retransmissions Counter

	// Latency
	EncodeLatency *LatencyHistogram
	DecodeLatency *LatencyHistogram

	// Current state
	Subscriptions Gauge

	startTime    time.Time
	lastActivity atomic.Int64
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		EncodeLatency: NewLatencyHistogram(),
		DecodeLatency: NewLatencyHistogram(),
		startTime:     time.Now(),
	}
}

// RecordActivity records the last activity time
func (m *Metrics) RecordActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last activity time
func (m *Metrics) LastActivity() time.Time {
	ns := m.lastActivity.Load()
	if ns == 0 {
		return m.startTime
	}
	return time.Unix(0, ns)
}

// Uptime returns the time since metrics started
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Reset resets all metrics
func (m *Metrics) Reset() {
	m.FramesEncoded.Reset()
	m.EncodeFailures.Reset()
	m.BytesEncoded.Reset()
	m.FramesDecoded.Reset()
	m.DecodeFailures.Reset()
	m.BytesDecoded.Reset()
	m.LegacyHeaders.Reset()
	m.NotGOOSE.Reset()
	m.FramesFiltered.Reset()
	m.StateChanges.Reset()
	m.Retransmissions.Reset()
	m.EncodeLatency.Reset()
	m.DecodeLatency.Reset()
	m.startTime = time.Now()
	m.lastActivity.Store(0)
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uptime: m.Uptime(),

		FramesEncoded:  m.FramesEncoded.Value(),
		EncodeFailures: m.EncodeFailures.Value(),
		BytesEncoded:   m.BytesEncoded.Value(),

		FramesDecoded:  m.FramesDecoded.Value(),
		DecodeFailures: m.DecodeFailures.Value(),
		BytesDecoded:   m.BytesDecoded.Value(),
		LegacyHeaders:  m.LegacyHeaders.Value(),
		NotGOOSE:       m.NotGOOSE.Value(),
		FramesFiltered: m.FramesFiltered.Value(),

		StateChanges:    m.StateChanges.Value(),
		Retransmissions: m.Retransmissions.Value(),

		EncodeLatency: m.EncodeLatency.Stats(),
		DecodeLatency: m.DecodeLatency.Stats(),

		Subscriptions: m.Subscriptions.Value(),

		LastActivity: m.LastActivity(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Uptime time.Duration `json:"uptime" yaml:"uptime"`

	FramesEncoded  int64 `json:"frames_encoded" yaml:"frames_encoded"`
	EncodeFailures int64 `json:"encode_failures" yaml:"encode_failures"`
	BytesEncoded   int64 `json:"bytes_encoded" yaml:"bytes_encoded"`

	FramesDecoded  int64 `json:"frames_decoded" yaml:"frames_decoded"`
	DecodeFailures int64 `json:"decode_failures" yaml:"decode_failures"`
	BytesDecoded   int64 `json:"bytes_decoded" yaml:"bytes_decoded"`
	LegacyHeaders  int64 `json:"legacy_headers" yaml:"legacy_headers"`
	NotGOOSE       int64 `json:"not_goose" yaml:"not_goose"`
	FramesFiltered int64 `json:"frames_filtered" yaml:"frames_filtered"`

	StateChanges    int64 `json:"state_changes" yaml:"state_changes"`
	Retransmissions int64 `json:"retransmissions" yaml:"retransmissions"`

	EncodeLatency LatencyStats `json:"encode_latency" yaml:"encode_latency"`
	DecodeLatency LatencyStats `json:"decode_latency" yaml:"decode_latency"`

	Subscriptions int64 `json:"subscriptions" yaml:"subscriptions"`

	LastActivity time.Time `json:"last_activity" yaml:"last_activity"`
}
