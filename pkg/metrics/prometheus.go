package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter exports metrics in Prometheus text format.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates a new Prometheus exporter for the given collector.
// The namespace is prepended to all metric names (e.g., "quantum_vpn").
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	return &PrometheusExporter{
		collector: c,
		namespace: namespace,
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		e.WriteMetrics(w)
	})
}

// WriteMetrics writes all metrics in Prometheus text format to the writer.
func (e *PrometheusExporter) WriteMetrics(w io.Writer) {
	snap := e.collector.Snapshot()
	labels := e.formatLabels(snap.Labels)

	// --- Session Metrics ---
	e.writeHelp(w, "sessions_active", "Number of currently open hybrid key sessions")
	e.writeType(w, "sessions_active", "gauge")
	e.writeMetric(w, "sessions_active", labels, float64(snap.SessionsActive))

	e.writeHelp(w, "sessions_opened_total", "Total number of sessions opened via open_connect")
	e.writeType(w, "sessions_opened_total", "counter")
	e.writeMetric(w, "sessions_opened_total", labels, float64(snap.SessionsOpened))

	e.writeHelp(w, "sessions_closed_total", "Total number of sessions closed via close")
	e.writeType(w, "sessions_closed_total", "counter")
	e.writeMetric(w, "sessions_closed_total", labels, float64(snap.SessionsClosed))

	e.writeHelp(w, "sessions_failed_total", "Total number of open_connect attempts that failed on every key source")
	e.writeType(w, "sessions_failed_total", "counter")
	e.writeMetric(w, "sessions_failed_total", labels, float64(snap.SessionsFailed))

	// --- GetKey Metrics ---
	e.writeHelp(w, "get_key_qkd_success_total", "Total successful GetKey calls against the QKD source")
	e.writeType(w, "get_key_qkd_success_total", "counter")
	e.writeMetric(w, "get_key_qkd_success_total", labels, float64(snap.GetKeySuccessQKD))

	e.writeHelp(w, "get_key_qkd_failure_total", "Total failed GetKey calls against the QKD source")
	e.writeType(w, "get_key_qkd_failure_total", "counter")
	e.writeMetric(w, "get_key_qkd_failure_total", labels, float64(snap.GetKeyFailureQKD))

	e.writeHelp(w, "get_key_pqc_success_total", "Total successful GetKey calls against a PQC source")
	e.writeType(w, "get_key_pqc_success_total", "counter")
	e.writeMetric(w, "get_key_pqc_success_total", labels, float64(snap.GetKeySuccessPQC))

	e.writeHelp(w, "get_key_pqc_failure_total", "Total failed GetKey calls against a PQC source")
	e.writeType(w, "get_key_pqc_failure_total", "counter")
	e.writeMetric(w, "get_key_pqc_failure_total", labels, float64(snap.GetKeyFailurePQC))

	e.writeHelp(w, "sources_dropped_total", "Total key sources dropped from a session's working set after a failure")
	e.writeType(w, "sources_dropped_total", "counter")
	e.writeMetric(w, "sources_dropped_total", labels, float64(snap.SourcesDropped))

	e.writeHelp(w, "aux_keys_synthesized_total", "Total deterministic auxiliary keys synthesized for single-source sessions")
	e.writeType(w, "aux_keys_synthesized_total", "counter")
	e.writeMetric(w, "aux_keys_synthesized_total", labels, float64(snap.AuxSynthesized))

	// --- Peer Manager Metrics ---
	e.writeHelp(w, "connect_peer_succeeded_total", "Total connect_peer calls that found their matching peer")
	e.writeType(w, "connect_peer_succeeded_total", "counter")
	e.writeMetric(w, "connect_peer_succeeded_total", labels, float64(snap.ConnectPeerSucceeded))

	e.writeHelp(w, "connect_peer_timed_out_total", "Total connect_peer calls that timed out waiting for their peer")
	e.writeType(w, "connect_peer_timed_out_total", "counter")
	e.writeMetric(w, "connect_peer_timed_out_total", labels, float64(snap.ConnectPeerTimedOut))

	// --- Uptime ---
	e.writeHelp(w, "uptime_seconds", "Time since the collector was created")
	e.writeType(w, "uptime_seconds", "gauge")
	e.writeMetric(w, "uptime_seconds", labels, snap.Uptime.Seconds())

	// --- Histograms ---
	e.writeHistogram(w, "fan_out_latency_milliseconds", "GetKey fan-out round latency in milliseconds", labels, snap.FanOutLatency)
	e.writeHistogram(w, "connect_peer_wait_milliseconds", "connect_peer wait time in milliseconds", labels, snap.ConnectPeerWaitTime)
}

// writeHelp writes a HELP line.
func (e *PrometheusExporter) writeHelp(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s_%s %s\n", e.namespace, name, help)
}

// writeType writes a TYPE line.
func (e *PrometheusExporter) writeType(w io.Writer, name, typ string) {
	fmt.Fprintf(w, "# TYPE %s_%s %s\n", e.namespace, name, typ)
}

// writeMetric writes a single metric line.
func (e *PrometheusExporter) writeMetric(w io.Writer, name, labels string, value float64) {
	if labels != "" {
		fmt.Fprintf(w, "%s_%s{%s} %g\n", e.namespace, name, labels, value)
	} else {
		fmt.Fprintf(w, "%s_%s %g\n", e.namespace, name, value)
	}
}

// writeHistogram writes a histogram in Prometheus format.
func (e *PrometheusExporter) writeHistogram(w io.Writer, name, help, labels string, h HistogramSummary) {
	e.writeHelp(w, name, help)
	e.writeType(w, name, "histogram")

	fullName := e.namespace + "_" + name

	// Write bucket counts
	for _, b := range h.Buckets {
		le := fmt.Sprintf("%g", b.UpperBound)
		if math.IsInf(b.UpperBound, 1) {
			le = "+Inf"
		}
		if labels != "" {
			fmt.Fprintf(w, "%s_bucket{%s,le=\"%s\"} %d\n", fullName, labels, le, b.Count)
		} else {
			fmt.Fprintf(w, "%s_bucket{le=\"%s\"} %d\n", fullName, le, b.Count)
		}
	}

	// Write sum and count
	if labels != "" {
		fmt.Fprintf(w, "%s_sum{%s} %g\n", fullName, labels, h.Sum)
		fmt.Fprintf(w, "%s_count{%s} %d\n", fullName, labels, h.Count)
	} else {
		fmt.Fprintf(w, "%s_sum %g\n", fullName, h.Sum)
		fmt.Fprintf(w, "%s_count %d\n", fullName, h.Count)
	}
}

// formatLabels converts Labels to Prometheus label format.
func (e *PrometheusExporter) formatLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}

	// Sort keys for consistent output
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		// Escape label values
		v := escapePromValue(labels[k])
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", k, v))
	}

	return strings.Join(parts, ",")
}

// escapePromValue escapes a string for use as a Prometheus label value.
func escapePromValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// --- Convenience Functions ---

// ServePrometheus starts an HTTP server serving Prometheus metrics.
// This is a convenience function for simple use cases.
func ServePrometheus(addr string, c *Collector, namespace string) error {
	exp := NewPrometheusExporter(c, namespace)
	http.Handle("/metrics", exp.Handler())
	return http.ListenAndServe(addr, nil)
}
