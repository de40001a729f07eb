package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/searchkit/resilience/pkg/resilience/classify"
	"github.com/searchkit/resilience/pkg/resilience/fallback"
	"github.com/searchkit/resilience/pkg/resilience/logagg"
	"github.com/searchkit/resilience/pkg/resilience/observability"
	"github.com/searchkit/resilience/pkg/resilience/recovery"
	"github.com/searchkit/resilience/pkg/resilience/retry"
)

// SourcePrimary marks results produced by the primary operation.
const SourcePrimary = "primary"

// Result is the pipeline outcome. A degraded result carries the
// fallback details and the canonical error that forced them.
type Result struct {
	// Documents are the search results, primary or degraded.
	Documents []fallback.Document

	// Source is SourcePrimary or the winning fallback strategy name.
	Source string

	// Fallback holds the full fallback result when degraded.
	Fallback *fallback.Result

	// Err is the canonical error behind a degraded result. Nil for
	// primary results.
	Err *classify.Record
}

// Pipeline is the facade over the five resilience components. Zero
// or more stages can be replaced through options; the defaults wire
// everything with a shared notification bus.
type Pipeline struct {
	classifier   *classify.Classifier
	coordinator  *retry.Coordinator
	chain        *fallback.Chain
	orchestrator *recovery.Orchestrator
	aggregator   *logagg.Aggregator

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Execute runs op through retry, caches primary results for future
// fallback, and on exhaustion logs the canonical error, dispatches
// recovery for systemic failures, and walks the fallback chain.
//
// Execute returns an error only when every eligible fallback strategy
// has failed; that error is the canonical record of the original
// failure.
func (p *Pipeline) Execute(ctx context.Context, query string, ectx *classify.Context, op retry.Operation) (*Result, error) {
	adapter := ""
	if ectx != nil {
		adapter = ectx.Adapter
	}
	ctx, span := p.spans.StartPipelineSpan(ctx, adapter, "")

	value, err := p.coordinator.Retry(ctx, op, ectx)
	if err == nil {
		docs, _ := value.([]fallback.Document)
		if len(docs) > 0 {
			p.chain.CacheResults(ectx, query, docs, 1.0)
		}
		p.spans.EndSpanWithError(span, nil)
		return &Result{Documents: docs, Source: SourcePrimary}, nil
	}

	rec := p.canonical(ctx, err, ectx)
	p.aggregator.LogError(rec, ectx)
	if p.systemic(rec) {
		go p.dispatchRecovery(rec, ectx)
	}

	fbResult, fbErr := p.chain.Execute(ctx, rec, query, ectx)
	if fbErr != nil {
		p.spans.EndSpanWithError(span, rec)
		return nil, rec
	}
	p.spans.EndSpanWithError(span, nil)
	return &Result{
		Documents: fbResult.Data,
		Source:    fbResult.Source,
		Fallback:  fbResult,
		Err:       rec,
	}, nil
}

// canonical extracts the classified record from a retry failure, or
// classifies the raw error when none is attached.
func (p *Pipeline) canonical(ctx context.Context, err error, ectx *classify.Context) *classify.Record {
	var rec *classify.Record
	if errors.As(err, &rec) {
		return rec
	}
	return p.classifier.Classify(ctx, err, ectx)
}

// systemic reports whether a failure should trigger recovery: high or
// critical severity, or a type that points at the system rather than
// the request.
func (p *Pipeline) systemic(rec *classify.Record) bool {
	if rec.Severity.AtLeast(classify.SeverityHigh) {
		return true
	}
	switch rec.Type {
	case classify.TypeSystem, classify.TypeConfiguration, classify.TypeSecurity:
		return true
	default:
		return false
	}
}

// dispatchRecovery runs recovery off the caller's goroutine. Admission
// rejections are expected under load and logged at debug.
func (p *Pipeline) dispatchRecovery(rec *classify.Record, ectx *classify.Context) {
	_, err := p.orchestrator.ExecuteRecovery(context.Background(), rec, ectx)
	if err == nil || p.logger == nil {
		return
	}
	var admission *recovery.AdmissionError
	if errors.As(err, &admission) {
		p.logger.Debug("recovery not admitted",
			slog.String("reason", admission.Error()),
			slog.String("correlation_id", rec.CorrelationID),
		)
		return
	}
	p.logger.Warn("recovery failed",
		slog.String("error", err.Error()),
		slog.String("correlation_id", rec.CorrelationID),
	)
}

// LogError forwards a canonical error to the aggregator without
// running the pipeline. Hosts use it for failures observed outside
// Execute.
func (p *Pipeline) LogError(rec *classify.Record, ectx *classify.Context) {
	p.aggregator.LogError(rec, ectx)
}

// Classifier returns the pipeline's error classifier.
func (p *Pipeline) Classifier() *classify.Classifier { return p.classifier }

// Coordinator returns the pipeline's retry coordinator.
func (p *Pipeline) Coordinator() *retry.Coordinator { return p.coordinator }

// Chain returns the pipeline's fallback chain.
func (p *Pipeline) Chain() *fallback.Chain { return p.chain }

// Orchestrator returns the pipeline's recovery orchestrator.
func (p *Pipeline) Orchestrator() *recovery.Orchestrator { return p.orchestrator }

// Aggregator returns the pipeline's log aggregator.
func (p *Pipeline) Aggregator() *logagg.Aggregator { return p.aggregator }

// Close flushes and stops the log aggregator.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.aggregator.Close(ctx)
}
