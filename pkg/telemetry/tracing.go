// Package telemetry provides optional distributed tracing for the session
// engine and peer manager. The Tracer interface is backend-agnostic; build
// with -tags otel to wire an OpenTelemetry exporter, otherwise spans are
// recorded in memory (SimpleTracer) or discarded (NoOpTracer, the default).
package telemetry

import (
	"context"
	"sync"
	"time"
)

// Tracer starts spans around daemon operations.
type Tracer interface {
	// StartSpan starts a new span with the given name.
	// Returns a context containing the span and a function to end the span.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder)
}

// SpanEnder ends a span. Call with nil error for success, or pass an error
// to mark the span as failed.
type SpanEnder func(err error)

// SpanOption configures span behavior.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       SpanKind
	attributes map[string]interface{}
}

// SpanKind identifies the type of span.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// WithAttributes sets span attributes.
func WithAttributes(attrs map[string]interface{}) SpanOption {
	return func(c *spanConfig) {
		c.attributes = attrs
	}
}

// --- NoOp Tracer ---

// NoOpTracer discards every span. The default when tracing isn't configured.
type NoOpTracer struct{}

// StartSpan returns the context unchanged and a no-op end function.
func (NoOpTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(err error) {}
}

// --- Simple Tracer ---

// SimpleTracer records spans in memory. Useful for tests and local debugging.
type SimpleTracer struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

// RecordedSpan is a completed span.
type RecordedSpan struct {
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Kind       SpanKind
	Attributes map[string]interface{}
	Error      error
	TraceID    string
	SpanID     string
	ParentID   string
}

// NewSimpleTracer creates a new SimpleTracer.
func NewSimpleTracer() *SimpleTracer {
	return &SimpleTracer{
		spans: make([]RecordedSpan, 0),
	}
}

// StartSpan starts a new span.
func (t *SimpleTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := &spanConfig{
		kind:       SpanKindInternal,
		attributes: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	span := &RecordedSpan{
		Name:       name,
		StartTime:  time.Now(),
		Kind:       cfg.kind,
		Attributes: cfg.attributes,
		TraceID:    generateID(),
		SpanID:     generateID(),
	}

	if parent := spanFromContext(ctx); parent != nil {
		span.ParentID = parent.SpanID
		span.TraceID = parent.TraceID
	}

	ctx = contextWithSpan(ctx, span)

	return ctx, func(err error) {
		span.EndTime = time.Now()
		span.Duration = span.EndTime.Sub(span.StartTime)
		span.Error = err

		t.mu.Lock()
		t.spans = append(t.spans, *span)
		t.mu.Unlock()
	}
}

// Spans returns all recorded spans.
func (t *SimpleTracer) Spans() []RecordedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]RecordedSpan, len(t.spans))
	copy(result, t.spans)
	return result
}

// Reset clears all recorded spans.
func (t *SimpleTracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// --- Context helpers ---

type spanContextKey struct{}

func contextWithSpan(ctx context.Context, span *RecordedSpan) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

func spanFromContext(ctx context.Context) *RecordedSpan {
	if span, ok := ctx.Value(spanContextKey{}).(*RecordedSpan); ok {
		return span
	}
	return nil
}

// generateID generates a simple span/trace ID for the in-memory tracer.
func generateID() string {
	return time.Now().Format("20060102150405.000000000")
}

// --- Global Tracer ---

var (
	globalTracer   Tracer = NoOpTracer{}
	globalTracerMu sync.RWMutex
)

// SetTracer sets the global tracer.
func SetTracer(t Tracer) {
	globalTracerMu.Lock()
	defer globalTracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer.
func GetTracer() Tracer {
	globalTracerMu.RLock()
	defer globalTracerMu.RUnlock()
	return globalTracer
}

// StartSpan starts a span using the global tracer.
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	return GetTracer().StartSpan(ctx, name, opts...)
}

// --- Span Names ---

// Standard span names for the daemon's agent and peer operations.
const (
	SpanOpenConnect  = "hybridkeyd.session.open_connect"
	SpanGetKey       = "hybridkeyd.session.get_key"
	SpanClose        = "hybridkeyd.session.close"
	SpanConnectPeer  = "hybridkeyd.peer.connect_peer"
	SpanQKDRoundTrip = "hybridkeyd.qkdsource.round_trip"
	SpanPQCHandshake = "hybridkeyd.pqcsource.handshake"
)

// SpanAttributes for the daemon's session and peer spans.
type SpanAttributes struct {
	HybridKSID string
	SourceID   string
	Role       string
	PeerNodeID string
	Error      string
}

// ToMap converts SpanAttributes to a generic map for use with tracers.
func (a SpanAttributes) ToMap() map[string]interface{} {
	m := make(map[string]interface{})
	if a.HybridKSID != "" {
		m["session.hybrid_ksid"] = a.HybridKSID
	}
	if a.SourceID != "" {
		m["source.id"] = a.SourceID
	}
	if a.Role != "" {
		m["peer.role"] = a.Role
	}
	if a.PeerNodeID != "" {
		m["peer.node_id"] = a.PeerNodeID
	}
	if a.Error != "" {
		m["error.message"] = a.Error
	}
	return m
}
