package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider and returns
// the reader plus a cleanup function restoring the original provider.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}
	return reader, cleanup
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumInt64 totals all data points of an int64 sum metric.
func sumInt64(t *testing.T, m *metricdata.Metrics) int64 {
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum data for %s", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
}

func TestRecordClassification(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordClassification(ctx, "network", 0.95)
	m.RecordClassification(ctx, "timeout", 0.7)

	rm := collectMetrics(t, reader)
	count := findMetric(rm, "resilience.classify.count")
	require.NotNil(t, count)
	assert.Equal(t, int64(2), sumInt64(t, count))

	confidence := findMetric(rm, "resilience.classify.confidence")
	require.NotNil(t, confidence)
	hist, ok := confidence.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
}

func TestRecordRetry(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRetryAttempt(ctx, 1, "network")
	m.RecordRetryAttempt(ctx, 2, "network")
	m.RecordRetryOutcome(ctx, true, 2, 150*time.Millisecond)

	rm := collectMetrics(t, reader)
	attempts := findMetric(rm, "resilience.retry.attempts")
	require.NotNil(t, attempts)
	assert.Equal(t, int64(2), sumInt64(t, attempts))

	outcomes := findMetric(rm, "resilience.retry.outcomes")
	require.NotNil(t, outcomes)
	assert.Equal(t, int64(1), sumInt64(t, outcomes))
}

func TestRecordFallbackAndRecovery(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordFallback(ctx, "cache", true, 5*time.Millisecond)
	m.RecordRecovery(ctx, "reconnect", false, 2*time.Second)

	rm := collectMetrics(t, reader)
	fallbacks := findMetric(rm, "resilience.fallback.executions")
	require.NotNil(t, fallbacks)
	assert.Equal(t, int64(1), sumInt64(t, fallbacks))

	recoveries := findMetric(rm, "resilience.recovery.executions")
	require.NotNil(t, recoveries)
	assert.Equal(t, int64(1), sumInt64(t, recoveries))
}

func TestRecordLogFlush(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordLogFlush(ctx, "console", 10, nil)
	m.RecordLogFlush(ctx, "remote", 25, errors.New("sink unavailable"))

	rm := collectMetrics(t, reader)
	flushes := findMetric(rm, "resilience.log.flushes")
	require.NotNil(t, flushes)
	assert.Equal(t, int64(2), sumInt64(t, flushes))
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()

	// None of these may panic or record anything.
	m.RecordClassification(ctx, "network", 0.9)
	m.RecordRetryAttempt(ctx, 1, "network")
	m.RecordRetryOutcome(ctx, false, 3, time.Second)
	m.RecordFallback(ctx, "cache", true, time.Millisecond)
	m.RecordRecovery(ctx, "reconnect", true, time.Second)
	m.RecordLogFlush(ctx, "console", 5, nil)
}
