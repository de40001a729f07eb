package recovery

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/searchkit/resilience/pkg/resilience/classify"
)

// Trigger gates a workflow on a class of canonical errors. A workflow
// matches when at least one trigger's type and severity equal the
// error's, its predicate (if any) passes, and its threshold (if any) is
// satisfied by the recent observation window.
type Trigger struct {
	// ErrorType must equal the error's canonical type.
	ErrorType classify.Type

	// Severity must equal the error's severity.
	Severity classify.Severity

	// Predicate is an optional extra gate.
	Predicate func(rec *classify.Record, ectx *classify.Context) bool

	// Count and Window form a sliding-window threshold: the trigger is
	// satisfied only once Count matching errors have been observed
	// within Window. A zero Count matches immediately.
	Count  int
	Window time.Duration
}

// gate reports whether the trigger's type/severity/predicate pass for
// the error. Threshold counting is evaluated separately against the
// workflow's observation window.
func (t *Trigger) gate(rec *classify.Record, ectx *classify.Context) bool {
	if t.ErrorType != rec.Type || t.Severity != rec.Severity {
		return false
	}
	if t.Predicate != nil && !t.Predicate(rec, ectx) {
		return false
	}
	return true
}

// Workflow is a static multi-step recovery definition. It is registered
// once and read-only during execution; many executions may reference
// one definition.
type Workflow struct {
	// ID uniquely identifies the workflow.
	ID string

	// Name is the human-readable label.
	Name string

	// Triggers gate dispatch; any one matching suffices.
	Triggers []Trigger

	// Steps run strictly in order.
	Steps []Step

	// Timeout bounds the whole execution. Zero means the orchestrator
	// default.
	Timeout time.Duration

	// MaxExecutions caps runs within the trailing hour. Zero means
	// unlimited.
	MaxExecutions int

	// Cooldown is the minimum gap between execution starts. Zero means
	// the orchestrator default.
	Cooldown time.Duration

	// Enabled gates matching without unregistering.
	Enabled bool
}

// Validate checks the workflow definition for errors.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return errors.New("workflow ID is required")
	}
	if len(w.Triggers) == 0 {
		return fmt.Errorf("workflow %s: at least one trigger is required", w.ID)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", w.ID)
	}
	for i := range w.Steps {
		if err := w.Steps[i].validate(); err != nil {
			return fmt.Errorf("workflow %s: step %d: %w", w.ID, i, err)
		}
	}
	return nil
}

// thresholdWindow returns the widest sliding window among the
// workflow's threshold triggers, or zero when none use one.
func (w *Workflow) thresholdWindow() time.Duration {
	var widest time.Duration
	for i := range w.Triggers {
		t := &w.Triggers[i]
		if t.Count > 1 && t.Window > widest {
			widest = t.Window
		}
	}
	return widest
}

// Status represents the state of a recovery execution.
type Status string

// Execution states. running is the only non-terminal state.
const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// Execution is one run of a workflow. Its CompletedSteps list only
// grows until the execution is archived; archived executions are never
// mutated again.
type Execution struct {
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Status      Status    `json:"status"`

	// CompletedSteps lists the IDs of steps that finished successfully
	// (or were skipped past), in order.
	CompletedSteps []string `json:"completed_steps"`

	// Errors accumulates step failure messages.
	Errors []string `json:"errors,omitempty"`

	// CurrentStep is the step in flight (or the last attempted).
	CurrentStep string `json:"current_step,omitempty"`

	// Result carries step outputs keyed by step ID.
	Result map[string]any `json:"result,omitempty"`

	mu sync.Mutex
}

// Clone creates a copy of the execution without the mutex.
func (e *Execution) Clone() *Execution {
	e.mu.Lock()
	defer e.mu.Unlock()

	clone := &Execution{
		WorkflowID:     e.WorkflowID,
		ExecutionID:    e.ExecutionID,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		Status:         e.Status,
		CompletedSteps: append([]string(nil), e.CompletedSteps...),
		Errors:         append([]string(nil), e.Errors...),
		CurrentStep:    e.CurrentStep,
		Result:         make(map[string]any, len(e.Result)),
	}
	for k, v := range e.Result {
		clone.Result[k] = v
	}
	return clone
}

// status returns the current state under lock.
func (e *Execution) status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Status
}

// WorkflowStats tracks per-workflow execution performance.
type WorkflowStats struct {
	Executions      int64
	Successes       int64
	SuccessRate     float64
	AverageDuration time.Duration

	totalDuration time.Duration
}

func (s *WorkflowStats) record(success bool, duration time.Duration) {
	s.Executions++
	if success {
		s.Successes++
	}
	s.totalDuration += duration
	s.SuccessRate = float64(s.Successes) / float64(s.Executions)
	s.AverageDuration = s.totalDuration / time.Duration(s.Executions)
}
