package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, &buf
}

// TestLogHelpers_NilLogger tests that every helper tolerates a nil
// logger.
func TestLogHelpers_NilLogger(t *testing.T) {
	assert.Nil(t, EnrichLogger(nil, "corr", "catalog", 1))
	LogClassification(nil, "corr", "network", "high", 0.9)
	LogRetryAttempt(nil, "corr", 1, time.Second, errors.New("x"))
	LogRetryExhausted(nil, "corr", 3, errors.New("x"))
	LogRetrySuccess(nil, "corr", 2, time.Second)
	LogFallback(nil, "cache", true, 1.0)
	LogRecoveryStart(nil, "wf", "exec")
	LogRecoveryStep(nil, "exec", "step", nil)
	LogRecoveryEnd(nil, "wf", "exec", "success", 1.0)
	LogFlush(nil, "console", 5, nil)
}

// TestEnrichLogger tests that pipeline fields are attached.
func TestEnrichLogger(t *testing.T) {
	logger, buf := testLogger()

	enriched := EnrichLogger(logger, "corr-1", "catalog", 2)
	require.NotNil(t, enriched)
	enriched.Info("probing")

	out := buf.String()
	assert.Contains(t, out, `"correlation_id":"corr-1"`)
	assert.Contains(t, out, `"adapter":"catalog"`)
	assert.Contains(t, out, `"attempt":2`)
}

// TestLogRetryAttempt tests field content and level.
func TestLogRetryAttempt(t *testing.T) {
	logger, buf := testLogger()

	LogRetryAttempt(logger, "corr-1", 2, 500*time.Millisecond, errors.New("connection refused"))

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, "attempt failed, retrying")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, `"attempt":2`)
}

// TestLogFallback tests the success/failure level split.
func TestLogFallback(t *testing.T) {
	logger, buf := testLogger()

	LogFallback(logger, "cache", true, 3.5)
	assert.Contains(t, buf.String(), `"level":"INFO"`)
	assert.Contains(t, buf.String(), "fallback strategy succeeded")

	buf.Reset()
	LogFallback(logger, "offline-mode", false, 9.0)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "fallback strategy failed")
}

// TestLogRecoveryStep tests the error/debug split.
func TestLogRecoveryStep(t *testing.T) {
	logger, buf := testLogger()

	LogRecoveryStep(logger, "exec-1", "probe", nil)
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)

	buf.Reset()
	LogRecoveryStep(logger, "exec-1", "probe", errors.New("still down"))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "still down")
}

// TestTimedOperation tests elapsed measurement.
func TestTimedOperation(t *testing.T) {
	elapsed := TimedOperation()
	time.Sleep(15 * time.Millisecond)

	ms := elapsed()
	assert.GreaterOrEqual(t, ms, 10.0)
	assert.Less(t, ms, 5000.0)
}
