package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records resilience pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordClassification records a classified failure with its confidence.
	RecordClassification(ctx context.Context, errorType string, confidence float64)

	// RecordRetryAttempt records a single failed attempt of a retried operation.
	RecordRetryAttempt(ctx context.Context, attempt int, errorType string)

	// RecordRetryOutcome records the final outcome of a retry sequence.
	RecordRetryOutcome(ctx context.Context, success bool, attempts int, totalDelay time.Duration)

	// RecordFallback records a fallback strategy execution.
	RecordFallback(ctx context.Context, strategy string, success bool, duration time.Duration)

	// RecordRecovery records a recovery workflow execution.
	RecordRecovery(ctx context.Context, workflowID string, success bool, duration time.Duration)

	// RecordLogFlush records a log-buffer flush to a destination.
	RecordLogFlush(ctx context.Context, destination string, batch int, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	classifications metric.Int64Counter
	confidence      metric.Float64Histogram
	retryAttempts   metric.Int64Counter
	retryOutcomes   metric.Int64Counter
	retryDelay      metric.Float64Histogram
	fallbacks       metric.Int64Counter
	fallbackLatency metric.Float64Histogram
	recoveries      metric.Int64Counter
	recoveryLatency metric.Float64Histogram
	logFlushes      metric.Int64Counter
	logFlushBatch   metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("resilience")

	classifications, err := meter.Int64Counter("resilience.classify.count",
		metric.WithDescription("Number of classified failures"),
	)
	if err != nil {
		return nil, err
	}

	confidence, err := meter.Float64Histogram("resilience.classify.confidence",
		metric.WithDescription("Classification confidence"),
	)
	if err != nil {
		return nil, err
	}

	retryAttempts, err := meter.Int64Counter("resilience.retry.attempts",
		metric.WithDescription("Number of failed attempts during retry"),
	)
	if err != nil {
		return nil, err
	}

	retryOutcomes, err := meter.Int64Counter("resilience.retry.outcomes",
		metric.WithDescription("Number of completed retry sequences"),
	)
	if err != nil {
		return nil, err
	}

	retryDelay, err := meter.Float64Histogram("resilience.retry.total_delay_ms",
		metric.WithDescription("Cumulative backoff delay per retry sequence"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	fallbacks, err := meter.Int64Counter("resilience.fallback.executions",
		metric.WithDescription("Number of fallback strategy executions"),
	)
	if err != nil {
		return nil, err
	}

	fallbackLatency, err := meter.Float64Histogram("resilience.fallback.latency_ms",
		metric.WithDescription("Fallback strategy latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	recoveries, err := meter.Int64Counter("resilience.recovery.executions",
		metric.WithDescription("Number of recovery workflow executions"),
	)
	if err != nil {
		return nil, err
	}

	recoveryLatency, err := meter.Float64Histogram("resilience.recovery.latency_ms",
		metric.WithDescription("Recovery workflow latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	logFlushes, err := meter.Int64Counter("resilience.log.flushes",
		metric.WithDescription("Number of log-buffer flush attempts"),
	)
	if err != nil {
		return nil, err
	}

	logFlushBatch, err := meter.Int64Histogram("resilience.log.flush_batch",
		metric.WithDescription("Entries per flush batch"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		classifications: classifications,
		confidence:      confidence,
		retryAttempts:   retryAttempts,
		retryOutcomes:   retryOutcomes,
		retryDelay:      retryDelay,
		fallbacks:       fallbacks,
		fallbackLatency: fallbackLatency,
		recoveries:      recoveries,
		recoveryLatency: recoveryLatency,
		logFlushes:      logFlushes,
		logFlushBatch:   logFlushBatch,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordClassification records a classified failure.
func (m *otelMetrics) RecordClassification(ctx context.Context, errorType string, conf float64) {
	attrs := []attribute.KeyValue{
		attribute.String("error_type", errorType),
	}
	m.classifications.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.confidence.Record(ctx, conf, metric.WithAttributes(attrs...))
}

// RecordRetryAttempt records a failed attempt.
func (m *otelMetrics) RecordRetryAttempt(ctx context.Context, attempt int, errorType string) {
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.String("error_type", errorType),
	))
}

// RecordRetryOutcome records a completed retry sequence.
func (m *otelMetrics) RecordRetryOutcome(ctx context.Context, success bool, attempts int, totalDelay time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.retryOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.retryDelay.Record(ctx, float64(totalDelay.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordFallback records a fallback strategy execution.
func (m *otelMetrics) RecordFallback(ctx context.Context, strategy string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("strategy", strategy),
		attribute.Bool("success", success),
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.fallbackLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordRecovery records a recovery workflow execution.
func (m *otelMetrics) RecordRecovery(ctx context.Context, workflowID string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("workflow_id", workflowID),
		attribute.Bool("success", success),
	}
	m.recoveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.recoveryLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordLogFlush records a flush attempt.
func (m *otelMetrics) RecordLogFlush(ctx context.Context, destination string, batch int, err error) {
	m.logFlushes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("destination", destination),
		attribute.Bool("success", err == nil),
	))
	m.logFlushBatch.Record(ctx, int64(batch), metric.WithAttributes(
		attribute.String("destination", destination),
	))
}
