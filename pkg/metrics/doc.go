// Package metrics provides observability primitives for the hybrid
// key-derivation daemon.
//
// # Overview
//
// The package offers:
//   - Metrics collection (counters, gauges, histograms) for session
//     lifecycle, per-source GetKey outcomes, fan-out latency, and peer
//     connect wait time
//   - A hand-rolled Prometheus text exporter (no client_golang dependency)
//
// Structured logging lives in pkg/logging, distributed tracing in
// pkg/telemetry, and the operator health endpoint in pkg/healthz — each
// split out so a caller can depend on only the concern it needs.
//
// # Quick Start
//
//	import "github.com/hybridkeyd/hybridkeyd/pkg/metrics"
//
//	metrics.Global().SessionOpened()
//	metrics.Global().RecordFanOutLatency(12 * time.Millisecond)
//	metrics.Global().RecordGetKeyResult(true, true) // QKD source succeeded
//
//	go metrics.ServePrometheus(":9090", metrics.Global(), "hybridkeyd")
//
// # Metrics Collection
//
//	collector := metrics.NewCollector(metrics.Labels{
//		"instance": "node-1",
//	})
//
//	collector.SessionOpened()
//	collector.RecordGetKeyResult(false, true) // a PQC source succeeded
//	collector.RecordConnectPeerWait(d, true)
//	collector.SessionClosed()
//
//	snap := collector.Snapshot()
//
// # Prometheus Export
//
//	exporter := metrics.NewPrometheusExporter(collector, "hybridkeyd")
//	http.Handle("/metrics", exporter.Handler())
package metrics
