package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest installs an in-memory span recorder and returns it
// plus a cleanup function restoring the original provider.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("resilience")

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}
	return exporter, cleanup
}

func TestStartPipelineSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	m := NewSpanManager()
	ctx, span := m.StartPipelineSpan(context.Background(), "catalog", "corr-1")
	require.NotNil(t, span)
	require.NotNil(t, ctx)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "resilience.execute", s.Name)

	var adapter, correlationID string
	for _, attr := range s.Attributes {
		switch attr.Key {
		case "adapter":
			adapter = attr.Value.AsString()
		case "correlation_id":
			correlationID = attr.Value.AsString()
		}
	}
	assert.Equal(t, "catalog", adapter)
	assert.Equal(t, "corr-1", correlationID)
}

func TestStartStageSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	m := NewSpanManager()
	_, span := m.StartStageSpan(context.Background(), "fallback")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "resilience.fallback", spans[0].Name)
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	m := NewSpanManager()

	_, span := m.StartStageSpan(context.Background(), "retry")
	m.EndSpanWithError(span, errors.New("connection refused"))

	_, span = m.StartStageSpan(context.Background(), "retry")
	m.EndSpanWithError(span, nil)

	m.EndSpanWithError(nil, errors.New("ignored"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	m := NewSpanManager()
	ctx, span := m.StartPipelineSpan(context.Background(), "catalog", "corr-1")
	m.AddSpanEvent(ctx, "strategy.selected", attribute.String("strategy", "cache"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "strategy.selected", spans[0].Events[0].Name)

	// No recording span in context: must be a no-op.
	m.AddSpanEvent(context.Background(), "dropped")
}

func TestNoopSpanManager(t *testing.T) {
	m := NoopSpanManager{}

	ctx, span := m.StartPipelineSpan(context.Background(), "catalog", "corr-1")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	assert.False(t, span.IsRecording())

	_, span = m.StartStageSpan(ctx, "retry")
	assert.False(t, span.IsRecording())

	m.EndSpanWithError(span, errors.New("ignored"))
	m.AddSpanEvent(ctx, "ignored")
}
