package classify

import (
	"fmt"
	"time"
)

// Type is the canonical error taxonomy. Every failure that enters the
// pipeline is mapped onto exactly one of these values.
type Type string

// Canonical error types.
const (
	TypeNetwork        Type = "network"
	TypeTimeout        Type = "timeout"
	TypeAuthentication Type = "authentication"
	TypeAuthorization  Type = "authorization"
	TypeValidation     Type = "validation"
	TypeRateLimit      Type = "rate_limit"
	TypeSystem         Type = "system"
	TypeConfiguration  Type = "configuration"
	TypeData           Type = "data"
	TypeSecurity       Type = "security"
	TypeUnknown        Type = "unknown"
)

// Severity grades how serious a failure is, independent of whether it
// can be recovered from.
type Severity string

// Severity levels, ordered from least to most serious.
const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 2
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// Recoverability is a coarse hint driving retry and fallback
// eligibility. It is distinct from severity: a critical failure may
// still be transient.
type Recoverability string

// Recoverability hints.
const (
	RecoverabilityPermanent   Recoverability = "permanent"
	RecoverabilityRecoverable Recoverability = "recoverable"
	RecoverabilityTransient   Recoverability = "transient"
	RecoverabilityUnknown     Recoverability = "unknown"
)

// Record is the canonical, immutable representation of a classified
// failure. It is the unit of exchange between every pipeline component:
// the retry coordinator reads Recoverability, the fallback chain reads
// Type, the workflow orchestrator matches Type and Severity, and the
// log aggregator fingerprints Type, Code and Message.
//
// A Record is never mutated after construction. Re-classifying builds a
// new Record.
type Record struct {
	// Name labels the failure class (e.g. "SearchAdapterError").
	Name string

	// Message is the human-readable failure description.
	Message string

	// Type is the canonical taxonomy bucket.
	Type Type

	// Code is an optional machine code (e.g. "ECONNREFUSED", "HTTP_503").
	Code string

	// Severity grades the failure.
	Severity Severity

	// Recoverability hints at retry/fallback eligibility.
	Recoverability Recoverability

	// Confidence is the classifier's confidence in this mapping, 0..1.
	Confidence float64

	// Category is a free-form grouping label from the matching rule.
	Category string

	// Cause is the original failure, retained for diagnostics only.
	// Downstream components must not re-inspect it for policy decisions.
	Cause error

	// Timestamp is when the failure was classified.
	Timestamp time.Time

	// CorrelationID groups all pipeline activity for one failing call.
	CorrelationID string
}

// Error implements the error interface so a Record can propagate as the
// final outcome of a failed pipeline call.
func (r *Record) Error() string {
	if r.Code != "" {
		return fmt.Sprintf("%s [%s/%s]: %s", r.Name, r.Type, r.Code, r.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", r.Name, r.Type, r.Message)
}

// Unwrap returns the original failure for errors.Is/As support.
func (r *Record) Unwrap() error {
	return r.Cause
}

// IsRetryable reports whether the default retry policy considers this
// record eligible for another attempt at the given attempt number.
// Permanent failures are never retried; recoverable and transient
// always are; unknown failures get at most two attempts.
func (r *Record) IsRetryable(attempt int) bool {
	switch r.Recoverability {
	case RecoverabilityPermanent:
		return false
	case RecoverabilityRecoverable, RecoverabilityTransient:
		return true
	case RecoverabilityUnknown:
		return attempt <= 2
	default:
		return false
	}
}

// Context is the optional sidecar describing where a failure happened.
// It is owned by the caller; the pipeline only reads it and sanitizes
// derived copies.
type Context struct {
	// Adapter names the data-source adapter that was executing.
	Adapter string

	// UserID and SessionID identify the caller. Both are treated as
	// sensitive by the log aggregator.
	UserID    string
	SessionID string

	// Environment describes the host system environment (e.g. "production").
	Environment string

	// Version is the host application version.
	Version string

	// Operation metadata for the in-flight call.
	Operation         string
	OperationDuration time.Duration
	RetryCount        int

	// Request metadata, if the failure came from an HTTP-like call.
	RequestMethod string
	RequestURL    string
	StatusCode    int

	// Metadata is a free-form map. Only allowlisted keys survive
	// sanitization.
	Metadata map[string]any
}
