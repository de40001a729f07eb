// Package classify turns raw, heterogeneous failures into canonical
// error records.
//
// Classification is a two-stage process:
//   - A prioritized, weighted rule set. Each rule carries matchers
//     (message/code patterns, an exact HTTP status, a custom predicate)
//     and an output classification with a confidence score. Rules are
//     evaluated in descending priority and the first match wins.
//   - A structural fallback that inspects message text, error codes and
//     status codes when no rule matches.
//
// Classification never fails: when nothing matches, the result is an
// unknown-type record with confidence below 0.5.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/searchkit/resilience/pkg/resilience/observability"
)

// StatusError represents an HTTP-shaped failure from a data-source
// adapter. Adapters that know their status code should return this so
// classification can skip message parsing.
type StatusError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Classifier maps failures onto the canonical taxonomy.
// Safe for concurrent use.
type Classifier struct {
	mu    sync.RWMutex
	rules []Rule // descending priority

	statsMu sync.Mutex
	stats   Stats

	logger   *slog.Logger
	recorder observability.MetricsRecorder
}

// Stats captures running classification metrics.
type Stats struct {
	// Total is the number of classifications performed.
	Total int64

	// ByType counts classifications per canonical type.
	ByType map[Type]int64

	// AverageConfidence is the running mean confidence.
	AverageConfidence float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the structured logger. Nil disables classifier logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) Option {
	return func(c *Classifier) { c.recorder = rec }
}

// WithRules replaces the default rule set.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) { c.rules = rules }
}

// New creates a Classifier with the built-in rule set.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		rules:    defaultRules(),
		recorder: observability.NoopMetrics{},
		stats:    Stats{ByType: make(map[Type]int64)},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sortRules()
	return c
}

// AddRule inserts a rule, keeping the set ordered by priority.
func (c *Classifier) AddRule(rule Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule)
	c.sortRules()
}

// RemoveRule deletes all rules with the given name.
func (c *Classifier) RemoveRule(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.rules[:0]
	for _, r := range c.rules {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	c.rules = kept
}

// Rules returns a copy of the active rule set in evaluation order.
func (c *Classifier) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Rule(nil), c.rules...)
}

func (c *Classifier) sortRules() {
	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].Priority > c.rules[j].Priority
	})
}

// Classify maps a raw failure and optional context into a canonical
// Record. It never returns nil and never panics outward; unmatchable
// failures classify as unknown with low confidence.
//
// If err is already a *Record it is returned unchanged, preserving the
// invariant that type, severity and recoverability are set exactly once.
func (c *Classifier) Classify(ctx context.Context, err error, ectx *Context) *Record {
	if rec, ok := asRecord(err); ok {
		return rec
	}

	rec := c.build(err, ectx)

	c.recordStats(rec)
	c.recorder.RecordClassification(ctx, string(rec.Type), rec.Confidence)
	observability.LogClassification(c.logger, rec.CorrelationID, string(rec.Type), string(rec.Severity), rec.Confidence)

	return rec
}

func asRecord(err error) (*Record, bool) {
	var rec *Record
	if errors.As(err, &rec) {
		return rec, true
	}
	return nil, false
}

func (c *Classifier) build(err error, ectx *Context) *Record {
	msg := "unknown failure"
	if err != nil {
		msg = err.Error()
	}
	code := extractCode(msg)
	status := statusOf(err, ectx, msg)

	rec := &Record{
		Name:          nameOf(err),
		Message:       msg,
		Code:          code,
		Cause:         err,
		Timestamp:     time.Now(),
		CorrelationID: correlationID(ectx),
	}

	// Stage one: the prioritized rule set. First match wins outright.
	c.mu.RLock()
	rules := c.rules
	for i := range rules {
		if rules[i].matches(err, msg, code, status, ectx) {
			r := rules[i]
			c.mu.RUnlock()
			rec.Type = r.Type
			rec.Severity = r.Severity
			rec.Recoverability = r.Recoverability
			rec.Confidence = r.Confidence
			rec.Category = r.Category
			if rec.Code == "" && status != 0 {
				rec.Code = fmt.Sprintf("HTTP_%d", status)
			}
			return rec
		}
	}
	c.mu.RUnlock()

	// Stage two: structural heuristics.
	applyHeuristics(rec, err, msg, status)
	return rec
}

// applyHeuristics fills in the classification from message and status
// structure when no rule matched.
func applyHeuristics(rec *Record, err error, msg string, status int) {
	lower := strings.ToLower(msg)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") || strings.Contains(lower, "deadline exceeded"):
		rec.Type = TypeTimeout
		rec.Severity = SeverityMedium
		rec.Recoverability = RecoverabilityTransient
		rec.Confidence = 0.7
		rec.Category = "latency"

	case status == 401:
		rec.Type = TypeAuthentication
		rec.Severity = SeverityHigh
		rec.Recoverability = RecoverabilityRecoverable
		rec.Confidence = 0.8
		rec.Category = "auth"

	case status == 403:
		rec.Type = TypeAuthorization
		rec.Severity = SeverityHigh
		rec.Recoverability = RecoverabilityPermanent
		rec.Confidence = 0.8
		rec.Category = "auth"

	case status == 408 || status == 429:
		rec.Type = TypeRateLimit
		rec.Severity = SeverityMedium
		rec.Recoverability = RecoverabilityTransient
		rec.Confidence = 0.75
		rec.Category = "throttling"

	case status >= 400 && status < 500:
		rec.Type = TypeValidation
		rec.Severity = SeverityLow
		rec.Recoverability = RecoverabilityPermanent
		rec.Confidence = 0.6
		rec.Category = "input"

	case status >= 500:
		rec.Type = TypeSystem
		rec.Severity = SeverityHigh
		rec.Recoverability = RecoverabilityTransient
		rec.Confidence = 0.7
		rec.Category = "upstream"

	case isNetworkMessage(lower):
		rec.Type = TypeNetwork
		rec.Severity = SeverityMedium
		rec.Recoverability = RecoverabilityTransient
		rec.Confidence = 0.65
		rec.Category = "connectivity"

	default:
		rec.Type = TypeUnknown
		rec.Severity = SeverityMedium
		rec.Recoverability = RecoverabilityUnknown
		rec.Confidence = 0.3
		rec.Category = "unclassified"
	}

	if rec.Code == "" && status != 0 {
		rec.Code = fmt.Sprintf("HTTP_%d", status)
	}
}

func isNetworkMessage(lower string) bool {
	return strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "tls handshake") ||
		strings.Contains(lower, "eof")
}

func statusOf(err error, ectx *Context, msg string) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	if ectx != nil && ectx.StatusCode != 0 {
		return ectx.StatusCode
	}
	return extractStatusCode(msg)
}

func nameOf(err error) string {
	if err == nil {
		return "UnknownError"
	}
	var se *StatusError
	if errors.As(err, &se) {
		return "StatusError"
	}
	return fmt.Sprintf("%T", err)
}

func correlationID(ectx *Context) string {
	if ectx != nil {
		if id, ok := ectx.Metadata["correlation_id"].(string); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func (c *Classifier) recordStats(rec *Record) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	prevTotal := float64(c.stats.Total)
	c.stats.Total++
	c.stats.ByType[rec.Type]++
	c.stats.AverageConfidence = (c.stats.AverageConfidence*prevTotal + rec.Confidence) / float64(c.stats.Total)
}

// Stats returns a snapshot of running classification metrics.
func (c *Classifier) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	byType := make(map[Type]int64, len(c.stats.ByType))
	for k, v := range c.stats.ByType {
		byType[k] = v
	}
	return Stats{
		Total:             c.stats.Total,
		ByType:            byType,
		AverageConfidence: c.stats.AverageConfidence,
	}
}
