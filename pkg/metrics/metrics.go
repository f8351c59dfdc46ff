// Package metrics provides observability primitives for the hybrid
// key-derivation daemon: counters and histograms for session lifecycle,
// per-source GetKey outcomes, fan-out latency, and peer connect wait time,
// plus a hand-rolled Prometheus text exporter.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics across the session engine, key sources, and
// peer manager.
type Collector struct {
	sessionsOpened atomic.Uint64
	sessionsActive atomic.Uint64
	sessionsClosed atomic.Uint64
	sessionsFailed atomic.Uint64

	getKeySuccessQKD atomic.Uint64
	getKeyFailureQKD atomic.Uint64
	getKeySuccessPQC atomic.Uint64
	getKeyFailurePQC atomic.Uint64
	sourcesDropped   atomic.Uint64
	auxSynthesized   atomic.Uint64

	connectPeerSucceeded atomic.Uint64
	connectPeerTimedOut  atomic.Uint64

	fanOutLatency       *Histogram
	connectPeerWaitTime *Histogram

	createdAt time.Time
	labels    Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	return &Collector{
		fanOutLatency:       NewHistogram(FanOutLatencyBuckets),
		connectPeerWaitTime: NewHistogram(ConnectPeerWaitBuckets),
		createdAt:           time.Now(),
		labels:              labels,
	}
}

// Default bucket configurations for histograms.
var (
	// FanOutLatencyBuckets bucket a GetKey fan-out round in milliseconds.
	FanOutLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

	// ConnectPeerWaitBuckets bucket how long a SERVER-role connect_peer call
	// waited for its matching CLIENT, in milliseconds.
	ConnectPeerWaitBuckets = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
)

// --- Session lifecycle ---

// SessionOpened records a successful OpenConnect.
func (c *Collector) SessionOpened() {
	c.sessionsOpened.Add(1)
	c.sessionsActive.Add(1)
}

// SessionClosed records a session reaching Close.
func (c *Collector) SessionClosed() {
	c.sessionsClosed.Add(1)
	for {
		current := c.sessionsActive.Load()
		if current == 0 {
			return
		}
		if c.sessionsActive.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// SessionFailed records an OpenConnect that failed for every source.
func (c *Collector) SessionFailed() {
	c.sessionsFailed.Add(1)
}

// ActiveSessions returns the current active session gauge.
func (c *Collector) ActiveSessions() uint64 {
	return c.sessionsActive.Load()
}

// RecordFanOutLatency records how long one GetKey fan-out round took.
func (c *Collector) RecordFanOutLatency(d time.Duration) {
	c.fanOutLatency.Observe(float64(d.Milliseconds()))
}

// --- Per-source GetKey outcomes ---

// RecordGetKeyResult records a source's GetKey outcome by key type.
func (c *Collector) RecordGetKeyResult(sourceIsQKD bool, success bool) {
	switch {
	case sourceIsQKD && success:
		c.getKeySuccessQKD.Add(1)
	case sourceIsQKD && !success:
		c.getKeyFailureQKD.Add(1)
	case !sourceIsQKD && success:
		c.getKeySuccessPQC.Add(1)
	default:
		c.getKeyFailurePQC.Add(1)
	}
}

// SourceDropped records a source being dropped from a session's working set.
func (c *Collector) SourceDropped() {
	c.sourcesDropped.Add(1)
}

// AuxSynthesized records a deterministic auxiliary key synthesis.
func (c *Collector) AuxSynthesized() {
	c.auxSynthesized.Add(1)
}

// --- Peer manager ---

// RecordConnectPeerWait records how long a SERVER-role connect_peer call
// waited, and whether it ultimately succeeded.
func (c *Collector) RecordConnectPeerWait(d time.Duration, succeeded bool) {
	c.connectPeerWaitTime.Observe(float64(d.Milliseconds()))
	if succeeded {
		c.connectPeerSucceeded.Add(1)
	} else {
		c.connectPeerTimedOut.Add(1)
	}
}

// --- Snapshot ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	SessionsOpened uint64
	SessionsActive uint64
	SessionsClosed uint64
	SessionsFailed uint64

	GetKeySuccessQKD uint64
	GetKeyFailureQKD uint64
	GetKeySuccessPQC uint64
	GetKeyFailurePQC uint64
	SourcesDropped   uint64
	AuxSynthesized   uint64

	ConnectPeerSucceeded uint64
	ConnectPeerTimedOut  uint64

	FanOutLatency       HistogramSummary
	ConnectPeerWaitTime HistogramSummary

	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:            time.Now(),
		Uptime:               time.Since(c.createdAt),
		SessionsOpened:       c.sessionsOpened.Load(),
		SessionsActive:       c.sessionsActive.Load(),
		SessionsClosed:       c.sessionsClosed.Load(),
		SessionsFailed:       c.sessionsFailed.Load(),
		GetKeySuccessQKD:     c.getKeySuccessQKD.Load(),
		GetKeyFailureQKD:     c.getKeyFailureQKD.Load(),
		GetKeySuccessPQC:     c.getKeySuccessPQC.Load(),
		GetKeyFailurePQC:     c.getKeyFailurePQC.Load(),
		SourcesDropped:       c.sourcesDropped.Load(),
		AuxSynthesized:       c.auxSynthesized.Load(),
		ConnectPeerSucceeded: c.connectPeerSucceeded.Load(),
		ConnectPeerTimedOut:  c.connectPeerTimedOut.Load(),
		FanOutLatency:        c.fanOutLatency.Summary(),
		ConnectPeerWaitTime:  c.connectPeerWaitTime.Summary(),
		Labels:               c.labels,
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	c.sessionsOpened.Store(0)
	c.sessionsActive.Store(0)
	c.sessionsClosed.Store(0)
	c.sessionsFailed.Store(0)
	c.getKeySuccessQKD.Store(0)
	c.getKeyFailureQKD.Store(0)
	c.getKeySuccessPQC.Store(0)
	c.getKeyFailurePQC.Store(0)
	c.sourcesDropped.Store(0)
	c.auxSynthesized.Store(0)
	c.connectPeerSucceeded.Store(0)
	c.connectPeerTimedOut.Store(0)
	c.fanOutLatency.Reset()
	c.connectPeerWaitTime.Reset()
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
)

// Global returns the global metrics collector, creating one on first use.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		globalCollector = NewCollector(Labels{"instance": "default"})
	})
	return globalCollector
}

// SetGlobal sets the global metrics collector. Call during initialization,
// before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollector = c
}
