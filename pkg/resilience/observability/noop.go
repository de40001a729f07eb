package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordClassification does nothing.
func (NoopMetrics) RecordClassification(_ context.Context, _ string, _ float64) {}

// RecordRetryAttempt does nothing.
func (NoopMetrics) RecordRetryAttempt(_ context.Context, _ int, _ string) {}

// RecordRetryOutcome does nothing.
func (NoopMetrics) RecordRetryOutcome(_ context.Context, _ bool, _ int, _ time.Duration) {}

// RecordFallback does nothing.
func (NoopMetrics) RecordFallback(_ context.Context, _ string, _ bool, _ time.Duration) {}

// RecordRecovery does nothing.
func (NoopMetrics) RecordRecovery(_ context.Context, _ string, _ bool, _ time.Duration) {}

// RecordLogFlush does nothing.
func (NoopMetrics) RecordLogFlush(_ context.Context, _ string, _ int, _ error) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
// We use the OTel noop package for a proper no-op span implementation.
var noopSpan = noop.Span{}

// StartPipelineSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartPipelineSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartStageSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartStageSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
