package retry

import (
	"sync"
	"time"

	"github.com/searchkit/resilience/pkg/resilience/classify"
)

// State tracks one in-flight retry sequence. It is created at the start
// of a Retry call and discarded at its end; a later call starts fresh.
// Exactly one state is live per coordinator at a time.
type State struct {
	// Attempt is the number of invocations performed so far.
	Attempt int

	// MaxAttempts is the configured ceiling; Attempt never exceeds it.
	MaxAttempts int

	// NextRetryDelay is the delay computed for the upcoming retry.
	NextRetryDelay time.Duration

	// TotalDelay is the cumulative time spent sleeping between attempts.
	TotalDelay time.Duration

	// Errors holds the canonical error from each failed attempt, in order.
	Errors []*classify.Record

	// IsRetrying is true while a sleep or re-invocation is pending.
	IsRetrying bool

	// CanRetry is false once the sequence is exhausted, ineligible, or aborted.
	CanRetry bool
}

// clone returns a snapshot safe to hand to callers.
func (s *State) clone() State {
	out := *s
	out.Errors = append([]*classify.Record(nil), s.Errors...)
	return out
}

// Metrics aggregates outcomes across all retry sequences run by one
// coordinator.
type Metrics struct {
	// Sequences is the number of completed Retry calls.
	Sequences int64

	// Successes is the number of sequences that produced a result.
	Successes int64

	// SuccessRate is Successes / Sequences.
	SuccessRate float64

	// AverageAttemptsToSuccess is the mean invocation count over
	// successful sequences.
	AverageAttemptsToSuccess float64

	// AverageSuccessDelay is the mean cumulative backoff delay over
	// successful sequences.
	AverageSuccessDelay time.Duration

	// FailuresByType counts failed attempts per canonical error type.
	FailuresByType map[classify.Type]int64
}

// metrics is the internal mutable accumulator behind Metrics.
type metrics struct {
	mu                  sync.Mutex
	sequences           int64
	successes           int64
	sumAttemptsOnOK     int64
	sumSuccessDelay     time.Duration
	failuresByType      map[classify.Type]int64
}

func newMetrics() *metrics {
	return &metrics{failuresByType: make(map[classify.Type]int64)}
}

func (m *metrics) recordFailure(t classify.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failuresByType[t]++
}

func (m *metrics) recordOutcome(success bool, attempts int, totalDelay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences++
	if success {
		m.successes++
		m.sumAttemptsOnOK += int64(attempts)
		m.sumSuccessDelay += totalDelay
	}
}

func (m *metrics) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Metrics{
		Sequences:      m.sequences,
		Successes:      m.successes,
		FailuresByType: make(map[classify.Type]int64, len(m.failuresByType)),
	}
	for k, v := range m.failuresByType {
		out.FailuresByType[k] = v
	}
	if m.sequences > 0 {
		out.SuccessRate = float64(m.successes) / float64(m.sequences)
	}
	if m.successes > 0 {
		out.AverageAttemptsToSuccess = float64(m.sumAttemptsOnOK) / float64(m.successes)
		out.AverageSuccessDelay = m.sumSuccessDelay / time.Duration(m.successes)
	}
	return out
}
