package logagg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/searchkit/resilience/pkg/resilience/classify"
	"github.com/searchkit/resilience/pkg/resilience/event"
	"github.com/searchkit/resilience/pkg/resilience/observability"
)

// ErrAggregatorClosed is returned by Flush after Close.
var ErrAggregatorClosed = errors.New("resilience/logagg: aggregator closed")

// FlushError reports the destinations that rejected a flush.
type FlushError struct {
	Failures map[string]error
}

func (e *FlushError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	return fmt.Sprintf("flush rejected by: %s", strings.Join(names, ", "))
}

// Defaults for aggregator tuning.
const (
	DefaultMaxDuplicates     = 10
	DefaultAggregationWindow = 300 * time.Second
	DefaultFlushThreshold    = 50
	DefaultFlushInterval     = 30 * time.Second
	DefaultBufferSize        = 500
)

// Option configures the aggregator.
type Option func(*Aggregator)

// WithLogger sets the internal structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(a *Aggregator) { a.metrics = metrics }
}

// WithBus sets the bus for aggregation-triggered notices.
func WithBus(bus *event.Bus) Option {
	return func(a *Aggregator) { a.bus = bus }
}

// WithDestinations sets the flush destinations.
func WithDestinations(dests ...Destination) Option {
	return func(a *Aggregator) { a.destinations = dests }
}

// WithReportingLevel sets the minimum level that is logged at all.
func WithReportingLevel(level Level) Option {
	return func(a *Aggregator) { a.reportingLevel = level }
}

// WithMaxDuplicates sets the per-fingerprint count after which
// occurrences are suppressed within the aggregation window.
func WithMaxDuplicates(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxDuplicates = n
		}
	}
}

// WithAggregationWindow sets the rolling duplicate-tracking window.
func WithAggregationWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithFlushThreshold sets the buffer size that triggers an immediate
// background flush.
func WithFlushThreshold(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.flushThreshold = n
		}
	}
}

// WithFlushInterval sets the periodic flush cadence. Zero disables
// the timer.
func WithFlushInterval(d time.Duration) Option {
	return func(a *Aggregator) { a.flushInterval = d }
}

// WithBufferSize caps the number of entries held awaiting flush.
// When the cap is exceeded the oldest entries are evicted.
func WithBufferSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.bufferSize = n
		}
	}
}

// WithIncludeUserData keeps user and session identifiers in sanitized
// context and skips PII scrubbing.
func WithIncludeUserData(include bool) Option {
	return func(a *Aggregator) { a.sanitizer = NewSanitizer(include) }
}

// WithEnvironment stamps entries with the deployment environment and
// version.
func WithEnvironment(environment, version string) Option {
	return func(a *Aggregator) {
		a.environment = environment
		a.version = version
	}
}

// WithTags stamps every entry with static host tags.
func WithTags(tags ...string) Option {
	return func(a *Aggregator) { a.tags = tags }
}

// dupState tracks one fingerprint within the aggregation window.
type dupState struct {
	firstSeen time.Time
	count     int64
}

// Aggregator buffers sanitized log entries, suppresses duplicate
// floods, and flushes batches to its destinations. LogError never
// blocks on destination I/O and never fails; only Flush surfaces
// destination errors.
type Aggregator struct {
	mu sync.Mutex

	buffer []*Entry
	dup    map[string]*dupState
	stats  *stats

	sanitizer    *Sanitizer
	destinations []Destination

	reportingLevel Level
	maxDuplicates  int
	window         time.Duration
	flushThreshold int
	flushInterval  time.Duration
	bufferSize     int

	closed   bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	bus         *event.Bus
	environment string
	version     string
	tags        []string
}

// New creates an aggregator and starts its periodic flush timer.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		dup:            make(map[string]*dupState),
		stats:          newStats(),
		sanitizer:      NewSanitizer(false),
		reportingLevel: LevelDebug,
		maxDuplicates:  DefaultMaxDuplicates,
		window:         DefaultAggregationWindow,
		flushThreshold: DefaultFlushThreshold,
		flushInterval:  DefaultFlushInterval,
		bufferSize:     DefaultBufferSize,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		metrics:        observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.flushInterval > 0 {
		go a.flushLoop()
	} else {
		close(a.done)
	}
	return a
}

// flushLoop drives periodic flushes until Close.
func (a *Aggregator) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := a.Flush(context.Background()); err != nil && !errors.Is(err, ErrAggregatorClosed) {
				if a.logger != nil {
					a.logger.Warn("periodic flush failed", slog.String("error", err.Error()))
				}
			}
		case <-a.stop:
			return
		}
	}
}

// LogError sanitizes and enqueues a canonical error. It is
// fire-and-forget: the call never fails and never blocks on
// destination I/O. Suppressed duplicates publish an
// aggregation-triggered notice instead of an entry.
func (a *Aggregator) LogError(rec *classify.Record, ectx *classify.Context) {
	if rec == nil {
		return
	}
	level := levelFor(rec.Severity)
	if !level.AtLeast(a.reportingLevel) {
		return
	}

	adapter := ""
	if ectx != nil {
		adapter = ectx.Adapter
	}
	fingerprint := Fingerprint(rec, adapter)
	now := time.Now()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	state, ok := a.dup[fingerprint]
	if !ok || now.Sub(state.firstSeen) > a.window {
		state = &dupState{firstSeen: now}
		a.dup[fingerprint] = state
	}
	state.count++

	if state.count > int64(a.maxDuplicates) {
		a.stats.suppressed++
		count := state.count
		a.mu.Unlock()
		a.notifySuppression(rec, fingerprint, count)
		return
	}

	entry := a.buildEntry(rec, ectx, fingerprint, level, now)
	a.buffer = append(a.buffer, entry)
	a.evictLocked()
	a.stats.record(entry)
	shouldFlush := len(a.buffer) >= a.flushThreshold
	a.mu.Unlock()

	if shouldFlush {
		go func() {
			if err := a.Flush(context.Background()); err != nil && a.logger != nil {
				a.logger.Warn("threshold flush failed", slog.String("error", err.Error()))
			}
		}()
	}
}

// buildEntry snapshots the error into a sanitized immutable entry.
func (a *Aggregator) buildEntry(rec *classify.Record, ectx *classify.Context, fingerprint string, level Level, now time.Time) *Entry {
	entry := &Entry{
		ID:            uuid.NewString(),
		CorrelationID: rec.CorrelationID,
		Timestamp:     now,
		Level:         level,
		Type:          rec.Type,
		Code:          rec.Code,
		Message:       a.sanitizer.SanitizeMessage(rec.Message),
		Severity:      rec.Severity,
		Context:       a.sanitizer.SanitizeContext(ectx),
		Fingerprint:   fingerprint,
		Environment:   a.environment,
		Version:       a.version,
	}
	if len(a.tags) > 0 {
		entry.Tags = append([]string(nil), a.tags...)
	}
	if rec.Cause != nil {
		entry.Cause = a.sanitizer.SanitizeMessage(rec.Cause.Error())
	}
	if ectx != nil {
		if stack, ok := ectx.Metadata["stack_trace"].(string); ok {
			entry.Stack = a.sanitizer.SanitizeStack(stack)
		}
	}
	return entry
}

// notifySuppression publishes the aggregation-triggered notice for a
// suppressed duplicate.
func (a *Aggregator) notifySuppression(rec *classify.Record, fingerprint string, count int64) {
	if a.logger != nil {
		a.logger.Debug("duplicate error suppressed",
			slog.String("fingerprint", fingerprint),
			slog.Int64("count", count),
		)
	}
	if a.bus == nil {
		return
	}
	notice := event.New(event.TypeAggregationTriggered, "logagg",
		fmt.Sprintf("error recurring: %s", rec.Type)).
		WithSeverity(string(rec.Severity)).
		WithCorrelationID(rec.CorrelationID).
		WithFields(map[string]any{
			"fingerprint": fingerprint,
			"count":       count,
		})
	a.bus.Publish(notice)
}

// Flush drains the buffer and fans the batch out to every
// destination. If any destination rejects, the entries are pushed
// back to the front of the buffer, the buffer is trimmed to its
// capacity, and the failure is returned.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAggregatorClosed
	}
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	failures := make(map[string]error)
	for _, dest := range a.destinations {
		err := dest.Write(ctx, batch)
		a.metrics.RecordLogFlush(ctx, dest.Name(), len(batch), err)
		observability.LogFlush(a.logger, dest.Name(), len(batch), err)
		if err != nil {
			failures[dest.Name()] = err
		}
	}

	if len(failures) > 0 {
		a.mu.Lock()
		a.buffer = append(batch, a.buffer...)
		a.evictLocked()
		a.mu.Unlock()
		return &FlushError{Failures: failures}
	}
	return nil
}

// evictLocked trims the buffer to its capacity, dropping the oldest
// entries. The caller holds the lock.
func (a *Aggregator) evictLocked() {
	over := len(a.buffer) - a.bufferSize
	if over <= 0 {
		return
	}
	a.buffer = append([]*Entry(nil), a.buffer[over:]...)
	a.stats.dropped += int64(over)
}

// Stats returns a snapshot of running counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.snapshot()
}

// BufferLen returns the number of entries awaiting flush.
func (a *Aggregator) BufferLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

// Sanitizer exposes the sanitizer for host pattern registration.
func (a *Aggregator) Sanitizer() *Sanitizer {
	return a.sanitizer
}

// Close performs a final flush and stops the periodic timer. Log
// calls after Close are dropped.
func (a *Aggregator) Close(ctx context.Context) error {
	err := a.Flush(ctx)
	if errors.Is(err, ErrAggregatorClosed) {
		err = nil
	}

	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
	return err
}
