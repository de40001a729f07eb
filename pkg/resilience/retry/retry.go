// Package retry re-invokes failing operations with exponential backoff
// and jitter, driven by the canonical classification of each failure.
//
// The coordinator invokes the operation once (not counted as a retry),
// classifies any failure, and consults the retry policy: permanent
// failures never retry, recoverable and transient failures always
// retry, unknown failures retry at most twice. Between attempts it
// sleeps for a capped exponential delay perturbed by one of four jitter
// modes, and every invocation races a per-attempt timeout.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/searchkit/resilience/pkg/resilience/classify"
	"github.com/searchkit/resilience/pkg/resilience/observability"
)

// Operation is a single retriable unit of work.
type Operation func(ctx context.Context) (any, error)

// ErrAborted indicates the coordinator was manually aborted while a
// sleep or invocation was pending.
var ErrAborted = errors.New("retry aborted")

// TimeoutError indicates an attempt exceeded the per-attempt timeout.
// The underlying operation is not cancelled; its eventual result is
// discarded.
type TimeoutError struct {
	Attempt int
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d timed out after %s", e.Attempt, e.Timeout)
}

// Config configures a retry sequence.
type Config struct {
	// MaxAttempts is the total invocation ceiling, including the first
	// call. Default 3.
	MaxAttempts int

	// InitialDelay is the base delay before the first retry. Default 1s.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff delay. Default 30s.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay per attempt. Default 2.
	BackoffMultiplier float64

	// JitterType randomizes computed delays. Default JitterEqual.
	JitterType JitterType

	// JitterAmount is part of the configuration surface for hosts that
	// install custom jitter strategies; the built-in modes define their
	// own ranges and do not consult it. Default 0.1.
	JitterAmount float64

	// Timeout races each invocation; an attempt that exceeds it fails
	// with a TimeoutError. Default 60s.
	Timeout time.Duration

	// Predicate optionally overrides the default eligibility policy.
	// When set, it alone decides whether the attempt's failure retries.
	Predicate func(rec *classify.Record, attempt int) bool

	// OnAttemptFailure is called after each failed attempt.
	OnAttemptFailure func(attempt int, rec *classify.Record)

	// OnSuccess is called when an attempt succeeds.
	OnSuccess func(attempt int)
}

// DefaultConfig is the standard retry configuration.
var DefaultConfig = Config{
	MaxAttempts:       3,
	InitialDelay:      1 * time.Second,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2.0,
	JitterType:        JitterEqual,
	JitterAmount:      0.1,
	Timeout:           60 * time.Second,
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultConfig.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultConfig.MaxDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = DefaultConfig.BackoffMultiplier
	}
	if c.JitterType == "" {
		c.JitterType = DefaultConfig.JitterType
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig.Timeout
	}
	return c
}

// Coordinator runs retry sequences. At most one sequence is live per
// coordinator; a second Retry call before the first resolves is not a
// supported interleaving.
type Coordinator struct {
	cfg        Config
	classifier *classify.Classifier

	mu    sync.Mutex
	state *State
	abort chan struct{}

	metrics  *metrics
	logger   *slog.Logger
	recorder observability.MetricsRecorder
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) CoordinatorOption {
	return func(c *Coordinator) { c.recorder = rec }
}

// NewCoordinator creates a retry coordinator. The classifier normalizes
// raw failures into canonical records; it must not be nil.
func NewCoordinator(cfg Config, classifier *classify.Classifier, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		metrics:    newMetrics(),
		recorder:   observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Retry invokes op until it succeeds, the policy rules it ineligible,
// or attempts are exhausted. The returned error on failure is the last
// canonical error encountered; earlier failures remain in State for
// diagnostics.
func (c *Coordinator) Retry(ctx context.Context, op Operation, ectx *classify.Context) (any, error) {
	cfg := c.cfg

	c.mu.Lock()
	c.abort = make(chan struct{})
	c.state = &State{MaxAttempts: cfg.MaxAttempts, CanRetry: true}
	abort := c.abort
	state := c.state
	c.mu.Unlock()

	var lastRec *classify.Record

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		c.mu.Lock()
		state.Attempt = attempt
		c.mu.Unlock()

		result, err := c.invoke(ctx, op, attempt, abort)
		if err == nil {
			c.mu.Lock()
			state.IsRetrying = false
			totalDelay := state.TotalDelay
			c.mu.Unlock()

			if cfg.OnSuccess != nil {
				cfg.OnSuccess(attempt)
			}
			c.metrics.recordOutcome(true, attempt, totalDelay)
			c.recorder.RecordRetryOutcome(ctx, true, attempt, totalDelay)
			if attempt > 1 {
				observability.LogRetrySuccess(c.logger, correlationOf(lastRec), attempt, totalDelay)
			}
			return result, nil
		}

		if errors.Is(err, ErrAborted) {
			c.finishFailure(ctx, state, lastRec)
			return nil, err
		}

		rec := c.classifier.Classify(ctx, err, ectx)
		lastRec = rec

		c.mu.Lock()
		state.Errors = append(state.Errors, rec)
		c.mu.Unlock()

		if cfg.OnAttemptFailure != nil {
			cfg.OnAttemptFailure(attempt, rec)
		}
		c.metrics.recordFailure(rec.Type)
		c.recorder.RecordRetryAttempt(ctx, attempt, string(rec.Type))

		if attempt >= cfg.MaxAttempts || !c.eligible(rec, attempt) {
			c.finishFailure(ctx, state, rec)
			return nil, rec
		}

		delay := applyJitter(cfg, backoffDelay(cfg, attempt))

		c.mu.Lock()
		state.NextRetryDelay = delay
		state.IsRetrying = true
		c.mu.Unlock()

		observability.LogRetryAttempt(c.logger, rec.CorrelationID, attempt, delay, rec)

		if err := c.sleep(ctx, delay, abort); err != nil {
			c.finishFailure(ctx, state, rec)
			return nil, err
		}

		c.mu.Lock()
		state.TotalDelay += delay
		c.mu.Unlock()
	}

	// Unreachable: the loop exits via success or finishFailure above.
	c.finishFailure(ctx, state, lastRec)
	return nil, lastRec
}

// eligible consults the custom predicate when configured, otherwise the
// default recoverability policy.
func (c *Coordinator) eligible(rec *classify.Record, attempt int) bool {
	c.mu.Lock()
	canRetry := c.state.CanRetry
	c.mu.Unlock()
	if !canRetry {
		return false
	}
	if c.cfg.Predicate != nil {
		return c.cfg.Predicate(rec, attempt)
	}
	return rec.IsRetryable(attempt)
}

// invoke races one operation call against the per-attempt timeout and
// the abort signal. The loser's eventual completion is discarded: the
// operation runs in its own goroutine and delivers to a buffered
// channel, so it can never block or mutate coordinator state after
// losing the race.
func (c *Coordinator) invoke(ctx context.Context, op Operation, attempt int, abort <-chan struct{}) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := op(ctx)
		done <- outcome{result, err}
	}()

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		return nil, &TimeoutError{Attempt: attempt, Timeout: c.cfg.Timeout}
	case <-abort:
		return nil, ErrAborted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sleep waits for the backoff delay, rejecting immediately on abort or
// context cancellation.
func (c *Coordinator) sleep(ctx context.Context, delay time.Duration, abort <-chan struct{}) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-abort:
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) finishFailure(ctx context.Context, state *State, rec *classify.Record) {
	c.mu.Lock()
	state.IsRetrying = false
	state.CanRetry = false
	attempts := state.Attempt
	totalDelay := state.TotalDelay
	c.mu.Unlock()

	c.metrics.recordOutcome(false, attempts, totalDelay)
	c.recorder.RecordRetryOutcome(ctx, false, attempts, totalDelay)
	if rec != nil {
		observability.LogRetryExhausted(c.logger, rec.CorrelationID, attempts, rec)
	}
}

// Abort marks the live sequence non-retryable and interrupts any
// pending sleep or invocation race with ErrAborted. It does not stop
// the underlying operation.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		c.state.CanRetry = false
	}
	if c.abort != nil {
		select {
		case <-c.abort:
		default:
			close(c.abort)
		}
	}
}

// State returns a snapshot of the live (or most recent) retry state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return State{}
	}
	return c.state.clone()
}

// Metrics returns aggregate outcomes across all sequences.
func (c *Coordinator) Metrics() Metrics {
	return c.metrics.snapshot()
}

func correlationOf(rec *classify.Record) string {
	if rec == nil {
		return ""
	}
	return rec.CorrelationID
}

// Do runs a typed operation through the coordinator.
func Do[T any](ctx context.Context, c *Coordinator, ectx *classify.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := c.Retry(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, ectx)
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := result.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected result type %T", result)
	}
	return v, nil
}
