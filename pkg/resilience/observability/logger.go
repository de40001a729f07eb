// Package observability provides structured logging, metrics, and
// tracing for the resilience pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pipeline context to a logger.
// Returns a new logger with correlation_id, adapter, and attempt fields.
func EnrichLogger(logger *slog.Logger, correlationID, adapter string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("correlation_id", correlationID),
		slog.String("adapter", adapter),
		slog.Int("attempt", attempt),
	)
}

// LogClassification logs the outcome of classifying a failure.
func LogClassification(logger *slog.Logger, correlationID, errorType, severity string, confidence float64) {
	if logger == nil {
		return
	}
	logger.Debug("failure classified",
		slog.String("correlation_id", correlationID),
		slog.String("error_type", errorType),
		slog.String("severity", severity),
		slog.Float64("confidence", confidence),
	)
}

// LogRetryAttempt logs a failed attempt that will be retried.
func LogRetryAttempt(logger *slog.Logger, correlationID string, attempt int, delay time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("attempt failed, retrying",
		slog.String("correlation_id", correlationID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
}

// LogRetryExhausted logs a retry sequence that ended in failure.
func LogRetryExhausted(logger *slog.Logger, correlationID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("retries exhausted",
		slog.String("correlation_id", correlationID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogRetrySuccess logs a retry sequence that eventually succeeded.
func LogRetrySuccess(logger *slog.Logger, correlationID string, attempts int, totalDelay time.Duration) {
	if logger == nil {
		return
	}
	logger.Info("operation recovered",
		slog.String("correlation_id", correlationID),
		slog.Int("attempts", attempts),
		slog.Duration("total_delay", totalDelay),
	)
}

// LogFallback logs a fallback strategy outcome.
func LogFallback(logger *slog.Logger, strategy string, success bool, durationMs float64) {
	if logger == nil {
		return
	}
	if success {
		logger.Info("fallback strategy succeeded",
			slog.String("strategy", strategy),
			slog.Float64("duration_ms", durationMs),
		)
		return
	}
	logger.Warn("fallback strategy failed",
		slog.String("strategy", strategy),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogRecoveryStart logs the start of a recovery workflow execution.
func LogRecoveryStart(logger *slog.Logger, workflowID, executionID string) {
	if logger == nil {
		return
	}
	logger.Info("recovery workflow starting",
		slog.String("workflow_id", workflowID),
		slog.String("execution_id", executionID),
	)
}

// LogRecoveryStep logs a recovery step outcome.
func LogRecoveryStep(logger *slog.Logger, executionID, stepID string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Error("recovery step failed",
			slog.String("execution_id", executionID),
			slog.String("step_id", stepID),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("recovery step completed",
		slog.String("execution_id", executionID),
		slog.String("step_id", stepID),
	)
}

// LogRecoveryEnd logs a completed recovery workflow execution.
func LogRecoveryEnd(logger *slog.Logger, workflowID, executionID, status string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("recovery workflow finished",
		slog.String("workflow_id", workflowID),
		slog.String("execution_id", executionID),
		slog.String("status", status),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogFlush logs a log-buffer flush attempt (non-fatal on failure).
func LogFlush(logger *slog.Logger, destination string, batch int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("log flush failed",
			slog.String("destination", destination),
			slog.Int("batch", batch),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("log flush completed",
		slog.String("destination", destination),
		slog.Int("batch", batch),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
