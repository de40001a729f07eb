// Package logagg collects every canonical error the pipeline
// produces, sanitizes it, deduplicates recurring failures by
// fingerprint, and flushes batched entries to configured
// destinations.
package logagg

import (
	"time"

	"github.com/searchkit/resilience/pkg/resilience/classify"
)

// Level orders log entries for the reporting threshold.
type Level string

// Reporting levels, least to most severe.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// AtLeast reports whether l meets the minimum level.
func (l Level) AtLeast(min Level) bool {
	return l.rank() >= min.rank()
}

// levelFor maps canonical severity onto a reporting level.
func levelFor(severity classify.Severity) Level {
	switch severity {
	case classify.SeverityCritical, classify.SeverityHigh:
		return LevelError
	case classify.SeverityMedium:
		return LevelWarn
	case classify.SeverityLow:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// Entry is a sanitized, immutable snapshot of one logged error.
// Entries are built once at log time and never mutated afterward.
type Entry struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Level         Level     `json:"level"`

	// Sanitized error fields.
	Type     classify.Type     `json:"type"`
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message"`
	Severity classify.Severity `json:"severity"`
	Stack    []string          `json:"stack,omitempty"`
	Cause    string            `json:"cause,omitempty"`

	// Context holds the whitelisted, sanitized context fields.
	Context map[string]any `json:"context,omitempty"`

	Tags        []string `json:"tags,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	Environment string   `json:"environment,omitempty"`
	Version     string   `json:"version,omitempty"`
}
