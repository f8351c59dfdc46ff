package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPrometheusExporterWriteMetrics(t *testing.T) {
	c := NewCollector(Labels{"instance": "test"})

	c.SessionOpened()
	c.RecordGetKeyResult(true, true)
	c.RecordFanOutLatency(100 * time.Millisecond)

	exp := NewPrometheusExporter(c, "hybridkeyd")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	expectedMetrics := []string{
		"hybridkeyd_sessions_active",
		"hybridkeyd_sessions_opened_total",
		"hybridkeyd_get_key_qkd_success_total",
		"hybridkeyd_fan_out_latency_milliseconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(output, metric) {
			t.Errorf("expected metric %q in output", metric)
		}
	}

	if !strings.Contains(output, `instance="test"`) {
		t.Error("expected label instance=\"test\" in output")
	}

	if !strings.Contains(output, "# HELP hybridkeyd_sessions_active") {
		t.Error("expected HELP line for sessions_active")
	}
	if !strings.Contains(output, "# TYPE hybridkeyd_sessions_active gauge") {
		t.Error("expected TYPE line for sessions_active")
	}
}

func TestPrometheusExporterHandler(t *testing.T) {
	c := NewCollector(nil)
	c.SessionOpened()

	exp := NewPrometheusExporter(c, "test")
	handler := exp.Handler()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") {
		t.Errorf("expected text/plain content type, got %s", contentType)
	}

	body := w.Body.String()
	if !strings.Contains(body, "test_sessions_active") {
		t.Error("expected sessions_active metric in response")
	}
}

func TestPrometheusExporterHistogram(t *testing.T) {
	c := NewCollector(nil)
	c.RecordFanOutLatency(50 * time.Millisecond)
	c.RecordFanOutLatency(150 * time.Millisecond)

	exp := NewPrometheusExporter(c, "test")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	if !strings.Contains(output, "_bucket{le=") {
		t.Error("expected histogram bucket format")
	}
	if !strings.Contains(output, "_sum") {
		t.Error("expected histogram sum")
	}
	if !strings.Contains(output, "_count") {
		t.Error("expected histogram count")
	}
	if !strings.Contains(output, `le="+Inf"`) {
		t.Error("expected +Inf bucket")
	}
}

func TestPrometheusExporterLabelEscaping(t *testing.T) {
	c := NewCollector(Labels{
		"path":    "/api/v1",
		"message": "hello \"world\"",
		"newline": "line1\nline2",
	})

	exp := NewPrometheusExporter(c, "test")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	if strings.Contains(output, "\n\"") {
		t.Error("newline should be escaped in labels")
	}
	if strings.Contains(output, `"hello "world""`) {
		t.Error("quotes should be escaped in labels")
	}
}

func TestPrometheusExporterAllMetricTypes(t *testing.T) {
	c := NewCollector(nil)

	c.SessionOpened()
	c.SessionClosed()
	c.SessionFailed()
	c.RecordGetKeyResult(true, true)
	c.RecordGetKeyResult(true, false)
	c.RecordGetKeyResult(false, true)
	c.RecordGetKeyResult(false, false)
	c.SourceDropped()
	c.AuxSynthesized()
	c.RecordConnectPeerWait(10*time.Millisecond, true)
	c.RecordConnectPeerWait(10*time.Second, false)
	c.RecordFanOutLatency(100 * time.Millisecond)

	exp := NewPrometheusExporter(c, "quantum")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	expectedMetrics := []string{
		"sessions_active",
		"sessions_opened_total",
		"sessions_closed_total",
		"sessions_failed_total",
		"get_key_qkd_success_total",
		"get_key_qkd_failure_total",
		"get_key_pqc_success_total",
		"get_key_pqc_failure_total",
		"sources_dropped_total",
		"aux_keys_synthesized_total",
		"connect_peer_succeeded_total",
		"connect_peer_timed_out_total",
		"uptime_seconds",
		"fan_out_latency_milliseconds",
		"connect_peer_wait_milliseconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(output, "quantum_"+metric) {
			t.Errorf("missing metric: quantum_%s", metric)
		}
	}
}

func TestPrometheusExporterEmptyLabels(t *testing.T) {
	c := NewCollector(nil)
	c.SessionOpened()

	exp := NewPrometheusExporter(c, "test")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	lines := strings.Split(output, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "test_sessions_active") {
			if strings.Contains(line, "{") && !strings.Contains(line, "_bucket") {
				t.Errorf("gauge metric should not have labels: %s", line)
			}
		}
	}
}
