// Package event provides an in-process notification bus for the
// resilience pipeline. Recovery notify steps and the log aggregator's
// duplicate-suppression notices publish typed Notice values; the host
// application subscribes to surface them (e.g. to a status bar or
// telemetry layer).
//
// Delivery is synchronous on the publisher's goroutine, matching the
// pipeline's cooperative concurrency model: handlers must be fast and
// must not publish recursively to the same type.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Notice types published by the pipeline.
const (
	// TypeRecoveryNotification is emitted by recovery notify steps.
	TypeRecoveryNotification = "recovery.notification"

	// TypeAggregationTriggered is emitted when the log aggregator
	// starts suppressing a duplicate fingerprint.
	TypeAggregationTriggered = "log.aggregation_triggered"

	// TypeOfflineModeChanged is emitted when the fallback chain's
	// offline flag flips.
	TypeOfflineModeChanged = "fallback.offline_changed"
)

// Notice is an immutable notification value.
type Notice struct {
	// ID uniquely identifies this notice.
	ID string

	// Type is one of the Type* constants (or a host-defined type).
	Type string

	// Source names the component that published the notice.
	Source string

	// Severity is the severity label carried by the notice, if any.
	Severity string

	// Message is the human-readable payload.
	Message string

	// CorrelationID links the notice to a pipeline call, if any.
	CorrelationID string

	// Fields carries structured payload data (e.g. fingerprint, count).
	Fields map[string]any

	// Timestamp is when the notice was published.
	Timestamp time.Time
}

// New creates a Notice with a fresh ID and timestamp.
func New(noticeType, source, message string) Notice {
	return Notice{
		ID:        uuid.NewString(),
		Type:      noticeType,
		Source:    source,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithSeverity returns a copy of the notice with the severity set.
func (n Notice) WithSeverity(severity string) Notice {
	n.Severity = severity
	return n
}

// WithCorrelationID returns a copy of the notice with the correlation ID set.
func (n Notice) WithCorrelationID(id string) Notice {
	n.CorrelationID = id
	return n
}

// WithFields returns a copy of the notice with the structured fields set.
func (n Notice) WithFields(fields map[string]any) Notice {
	n.Fields = fields
	return n
}
