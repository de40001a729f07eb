package classify

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClassify_ConnectionRefused tests that ECONNREFUSED maps to a
// transient network error.
func TestClassify_ConnectionRefused(t *testing.T) {
	c := New()

	rec := c.Classify(context.Background(), errors.New("connect ECONNREFUSED 10.0.0.4:443"), nil)

	require.NotNil(t, rec)
	assert.Equal(t, TypeNetwork, rec.Type)
	assert.Equal(t, RecoverabilityTransient, rec.Recoverability)
	assert.Equal(t, "ECONNREFUSED", rec.Code)
	assert.GreaterOrEqual(t, rec.Confidence, 0.9)
}

// TestClassify_Heuristics tests the structural fallback for failures
// no rule matches.
func TestClassify_Heuristics(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantType       Type
		wantRecover    Recoverability
		wantConfidence float64
	}{
		{
			name:        "timeout message",
			err:         errors.New("operation timed out"),
			wantType:    TypeTimeout,
			wantRecover: RecoverabilityTransient,
		},
		{
			name:        "status 401",
			err:         &StatusError{StatusCode: 401, Message: "bad session"},
			wantType:    TypeAuthentication,
			wantRecover: RecoverabilityRecoverable,
		},
		{
			name:        "status 403",
			err:         &StatusError{StatusCode: 403, Message: "nope"},
			wantType:    TypeAuthorization,
			wantRecover: RecoverabilityPermanent,
		},
		{
			name:        "status 429",
			err:         &StatusError{StatusCode: 429, Message: "slow down"},
			wantType:    TypeRateLimit,
			wantRecover: RecoverabilityTransient,
		},
		{
			name:        "status 422",
			err:         &StatusError{StatusCode: 422, Message: "bad field"},
			wantType:    TypeValidation,
			wantRecover: RecoverabilityPermanent,
		},
		{
			name:        "status 503",
			err:         &StatusError{StatusCode: 503, Message: "upstream down"},
			wantType:    TypeSystem,
			wantRecover: RecoverabilityTransient,
		},
		{
			name:        "connection reset text",
			err:         errors.New("read tcp: connection reset by peer"),
			wantType:    TypeNetwork,
			wantRecover: RecoverabilityTransient,
		},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := c.Classify(context.Background(), tt.err, nil)
			assert.Equal(t, tt.wantType, rec.Type)
			assert.Equal(t, tt.wantRecover, rec.Recoverability)
		})
	}
}

// TestClassify_UnknownDefaultsLowConfidence tests that unmatched
// failures classify as unknown with confidence below 0.5.
func TestClassify_UnknownDefaultsLowConfidence(t *testing.T) {
	c := New()

	rec := c.Classify(context.Background(), errors.New("something odd happened"), nil)

	assert.Equal(t, TypeUnknown, rec.Type)
	assert.Equal(t, RecoverabilityUnknown, rec.Recoverability)
	assert.Less(t, rec.Confidence, 0.5)
}

// TestClassify_RecordPassthrough tests that an already-classified
// record is returned unchanged.
func TestClassify_RecordPassthrough(t *testing.T) {
	c := New()
	original := c.Classify(context.Background(), errors.New("connect ECONNREFUSED"), nil)

	again := c.Classify(context.Background(), original, nil)

	assert.Same(t, original, again)
}

// TestClassify_NilError tests that a nil failure still yields a record.
func TestClassify_NilError(t *testing.T) {
	c := New()

	rec := c.Classify(context.Background(), nil, nil)

	require.NotNil(t, rec)
	assert.Equal(t, TypeUnknown, rec.Type)
}

// TestClassify_ContextCorrelationID tests that a caller-provided
// correlation ID is carried through.
func TestClassify_ContextCorrelationID(t *testing.T) {
	c := New()
	ectx := &Context{Metadata: map[string]any{"correlation_id": "corr-42"}}

	rec := c.Classify(context.Background(), errors.New("boom"), ectx)

	assert.Equal(t, "corr-42", rec.CorrelationID)
}

// TestClassifier_AddRule tests that a high-priority custom rule wins
// over the built-ins.
func TestClassifier_AddRule(t *testing.T) {
	c := New()
	c.AddRule(Rule{
		Name:           "adapter-circuit-open",
		Priority:       200,
		MessagePattern: regexp.MustCompile(`circuit open`),
		Type:           TypeSystem,
		Severity:       SeverityCritical,
		Recoverability: RecoverabilityTransient,
		Confidence:     0.99,
		Category:       "upstream",
	})

	rec := c.Classify(context.Background(), errors.New("adapter circuit open"), nil)

	assert.Equal(t, TypeSystem, rec.Type)
	assert.Equal(t, SeverityCritical, rec.Severity)
	assert.InDelta(t, 0.99, rec.Confidence, 1e-9)
}

// TestClassifier_RemoveRule tests rule removal by name.
func TestClassifier_RemoveRule(t *testing.T) {
	c := New()
	before := len(c.Rules())

	c.RemoveRule("connection-refused")

	assert.Len(t, c.Rules(), before-1)
	rec := c.Classify(context.Background(), errors.New("ECONNREFUSED"), nil)
	// The heuristic no longer sees "connection refused" text, so the
	// record falls through to unknown.
	assert.Equal(t, TypeUnknown, rec.Type)
}

// TestClassifier_Stats tests running stats accumulation.
func TestClassifier_Stats(t *testing.T) {
	c := New()
	c.Classify(context.Background(), errors.New("connect ECONNREFUSED"), nil)
	c.Classify(context.Background(), errors.New("operation timed out"), nil)

	stats := c.Stats()

	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByType[TypeNetwork])
	assert.Equal(t, int64(1), stats.ByType[TypeTimeout])
	assert.Greater(t, stats.AverageConfidence, 0.0)
}

// TestRecord_IsRetryable tests the default eligibility policy.
func TestRecord_IsRetryable(t *testing.T) {
	tests := []struct {
		name    string
		recover Recoverability
		attempt int
		want    bool
	}{
		{"permanent never", RecoverabilityPermanent, 1, false},
		{"recoverable always", RecoverabilityRecoverable, 5, true},
		{"transient always", RecoverabilityTransient, 5, true},
		{"unknown early", RecoverabilityUnknown, 2, true},
		{"unknown late", RecoverabilityUnknown, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{Recoverability: tt.recover}
			assert.Equal(t, tt.want, rec.IsRetryable(tt.attempt))
		})
	}
}

// TestExtractStatusCode tests status extraction from message text.
func TestExtractStatusCode(t *testing.T) {
	tests := []struct {
		msg  string
		want int
	}{
		{"HTTP 503 from upstream", 503},
		{"request failed with status: 429", 429},
		{"status code 404.", 404},
		{"no code here", 0},
		{"status 9999", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, extractStatusCode(tt.msg), tt.msg)
	}
}

// TestRecord_Error tests error formatting and unwrapping.
func TestRecord_Error(t *testing.T) {
	cause := errors.New("socket closed")
	rec := &Record{
		Name:    "AdapterError",
		Message: "socket closed",
		Type:    TypeNetwork,
		Code:    "ECONNRESET",
		Cause:   cause,
	}

	assert.Equal(t, "AdapterError [network/ECONNRESET]: socket closed", rec.Error())
	assert.ErrorIs(t, rec, cause)
}
