// Package recovery executes multi-step recovery workflows in response
// to classified errors. Workflows are static definitions gated by
// triggers; the orchestrator admits at most a bounded number of
// concurrent executions and enforces per-workflow cooldown and hourly
// execution limits.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/searchkit/resilience/pkg/resilience/classify"
	"github.com/searchkit/resilience/pkg/resilience/event"
	"github.com/searchkit/resilience/pkg/resilience/observability"
	"github.com/searchkit/resilience/pkg/resilience/registry"
)

// Admission and execution errors.
var (
	// ErrConcurrencyLimit is returned when the orchestrator is already
	// running its maximum number of concurrent executions.
	ErrConcurrencyLimit = errors.New("resilience/recovery: concurrent execution limit reached")

	// ErrNoWorkflowMatched is returned when no enabled workflow's
	// triggers match the error.
	ErrNoWorkflowMatched = errors.New("resilience/recovery: no workflow matched")

	// ErrCooldownActive is returned when the matched workflow started
	// an execution too recently.
	ErrCooldownActive = errors.New("resilience/recovery: workflow cooldown active")

	// ErrExecutionLimit is returned when the matched workflow has
	// reached its hourly execution cap.
	ErrExecutionLimit = errors.New("resilience/recovery: hourly execution limit reached")

	// ErrWorkflowExists is returned when registering a duplicate ID.
	ErrWorkflowExists = errors.New("resilience/recovery: workflow already registered")

	// ErrWorkflowNotFound is returned for lookups of unknown workflows.
	ErrWorkflowNotFound = errors.New("resilience/recovery: workflow not found")

	// ErrExecutionNotFound is returned when cancelling an execution
	// that is not active.
	ErrExecutionNotFound = errors.New("resilience/recovery: execution not found")

	// ErrHealthCheckNotFound is returned for unknown health checks.
	ErrHealthCheckNotFound = errors.New("resilience/recovery: health check not found")

	// ErrWorkflowTimeout is returned when an execution exceeds the
	// workflow timeout.
	ErrWorkflowTimeout = errors.New("resilience/recovery: workflow timeout exceeded")

	// ErrExecutionCancelled is returned when an execution is cancelled
	// between steps.
	ErrExecutionCancelled = errors.New("resilience/recovery: execution cancelled")
)

// AdmissionError reports why an error was not dispatched to a
// workflow. WorkflowID is empty for pre-match rejections.
type AdmissionError struct {
	WorkflowID string
	Err        error
}

func (e *AdmissionError) Error() string {
	if e.WorkflowID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("workflow %s: %v", e.WorkflowID, e.Err)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

// StepError reports a step failure within an execution.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Defaults for orchestrator limits.
const (
	DefaultMaxConcurrent   = 5
	DefaultWorkflowTimeout = 300 * time.Second
	DefaultStepTimeout     = 30 * time.Second
	DefaultCooldown        = 60 * time.Second
	DefaultHistorySize     = 1000
)

// maxObservations caps the per-workflow observation log used for
// sliding-window thresholds.
const maxObservations = 1000

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// WithBus sets the notification bus used by notify steps.
func WithBus(bus *event.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithMaxConcurrent sets the concurrent execution ceiling.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithWorkflowTimeout sets the default whole-workflow timeout.
func WithWorkflowTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.workflowTimeout = d
		}
	}
}

// WithStepTimeout sets the default per-step timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// WithCooldown sets the default per-workflow cooldown.
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.cooldown = d
		}
	}
}

// WithHistorySize bounds the archived execution ring.
func WithHistorySize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historySize = n
		}
	}
}

// Orchestrator dispatches classified errors to registered workflows
// and runs their steps. All mutable state is guarded by mu;
// ExecuteRecovery runs synchronously on the caller's goroutine.
type Orchestrator struct {
	mu sync.Mutex

	workflows map[string]*Workflow
	active    map[string]*Execution

	// observations holds matching-error timestamps per workflow for
	// sliding-window trigger thresholds.
	observations map[string][]time.Time

	// starts holds execution start timestamps per workflow for the
	// trailing-hour limit.
	starts map[string][]time.Time

	lastStart map[string]time.Time
	history   []*Execution
	stats     map[string]*WorkflowStats

	// fallbackModes and resets record the side effects of fallback
	// and reset steps for the host to poll.
	fallbackModes map[string]bool
	resets        map[string]time.Time

	health *registry.Registry[string, HealthCheck]

	maxConcurrent   int
	workflowTimeout time.Duration
	stepTimeout     time.Duration
	cooldown        time.Duration
	historySize     int

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	bus     *event.Bus
}

// New creates an orchestrator with no registered workflows.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workflows:       make(map[string]*Workflow),
		active:          make(map[string]*Execution),
		observations:    make(map[string][]time.Time),
		starts:          make(map[string][]time.Time),
		lastStart:       make(map[string]time.Time),
		stats:           make(map[string]*WorkflowStats),
		fallbackModes:   make(map[string]bool),
		resets:          make(map[string]time.Time),
		health:          registry.New[string, HealthCheck](),
		maxConcurrent:   DefaultMaxConcurrent,
		workflowTimeout: DefaultWorkflowTimeout,
		stepTimeout:     DefaultStepTimeout,
		cooldown:        DefaultCooldown,
		historySize:     DefaultHistorySize,
		metrics:         observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register validates and registers a workflow definition.
func (o *Orchestrator) Register(wf *Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.workflows[wf.ID]; exists {
		return fmt.Errorf("%w: %s", ErrWorkflowExists, wf.ID)
	}
	o.workflows[wf.ID] = wf
	return nil
}

// Unregister removes a workflow. In-flight executions finish normally.
func (o *Orchestrator) Unregister(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.workflows[id]; !exists {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	delete(o.workflows, id)
	return nil
}

// Workflows returns the registered workflow IDs.
func (o *Orchestrator) Workflows() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.workflows))
	for id := range o.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetEnabled toggles a workflow without unregistering it.
func (o *Orchestrator) SetEnabled(id string, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	wf, exists := o.workflows[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	wf.Enabled = enabled
	return nil
}

// ExecuteRecovery matches the classified error against registered
// workflows and runs the best match synchronously. The returned
// execution is a snapshot; on admission rejection it is nil and the
// error is an *AdmissionError.
func (o *Orchestrator) ExecuteRecovery(ctx context.Context, rec *classify.Record, ectx *classify.Context) (*Execution, error) {
	wf, exec, err := o.admit(rec, ectx)
	if err != nil {
		return nil, err
	}

	observability.LogRecoveryStart(o.logger, wf.ID, exec.ExecutionID)
	start := time.Now()

	runErr := o.run(ctx, wf, exec)
	o.finalize(wf, exec, runErr, time.Since(start))

	snapshot := exec.Clone()
	if runErr != nil {
		return snapshot, runErr
	}
	return snapshot, nil
}

// admit performs the admission checks in order (concurrency, match,
// cooldown, hourly limit) and registers the new execution under lock.
func (o *Orchestrator) admit(rec *classify.Record, ectx *classify.Context) (*Workflow, *Execution, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.active) >= o.maxConcurrent {
		return nil, nil, &AdmissionError{Err: ErrConcurrencyLimit}
	}

	now := time.Now()
	wf := o.matchLocked(rec, ectx, now)
	if wf == nil {
		return nil, nil, &AdmissionError{Err: ErrNoWorkflowMatched}
	}

	cooldown := wf.Cooldown
	if cooldown == 0 {
		cooldown = o.cooldown
	}
	if last, ok := o.lastStart[wf.ID]; ok && now.Sub(last) < cooldown {
		return nil, nil, &AdmissionError{WorkflowID: wf.ID, Err: ErrCooldownActive}
	}

	if wf.MaxExecutions > 0 {
		starts := pruneBefore(o.starts[wf.ID], now.Add(-time.Hour))
		o.starts[wf.ID] = starts
		if len(starts) >= wf.MaxExecutions {
			return nil, nil, &AdmissionError{WorkflowID: wf.ID, Err: ErrExecutionLimit}
		}
	}

	exec := &Execution{
		WorkflowID:  wf.ID,
		ExecutionID: uuid.NewString(),
		StartTime:   now,
		Status:      StatusRunning,
		Result:      make(map[string]any),
	}
	o.active[exec.ExecutionID] = exec
	o.lastStart[wf.ID] = now
	o.starts[wf.ID] = append(o.starts[wf.ID], now)
	return wf, exec, nil
}

// matchLocked records the error against every threshold-using workflow
// whose triggers gate-pass, then returns the satisfied candidate with
// the most triggers. Threshold counting includes the current
// occurrence. Workflows without threshold triggers keep no
// observation log.
func (o *Orchestrator) matchLocked(rec *classify.Record, ectx *classify.Context, now time.Time) *Workflow {
	var candidates []*Workflow
	for _, wf := range o.workflows {
		if !wf.Enabled {
			continue
		}
		for i := range wf.Triggers {
			t := &wf.Triggers[i]
			if !t.gate(rec, ectx) {
				continue
			}
			if widest := wf.thresholdWindow(); widest > 0 {
				obs := append(o.observations[wf.ID], now)
				obs = pruneBefore(obs, now.Add(-widest))
				if len(obs) > maxObservations {
					obs = obs[len(obs)-maxObservations:]
				}
				o.observations[wf.ID] = obs
				if t.Count > 1 && len(pruneBefore(obs, now.Add(-t.Window))) < t.Count {
					break
				}
			}
			candidates = append(candidates, wf)
			break
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].Triggers) != len(candidates[j].Triggers) {
			return len(candidates[i].Triggers) > len(candidates[j].Triggers)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0]
}

// run executes the workflow's steps in order under the workflow
// timeout. Cancellation is checked between steps.
func (o *Orchestrator) run(ctx context.Context, wf *Workflow, exec *Execution) error {
	timeout := wf.Timeout
	if timeout == 0 {
		timeout = o.workflowTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for i := range wf.Steps {
		step := &wf.Steps[i]

		if exec.status() == StatusCancelled {
			return ErrExecutionCancelled
		}
		if ctx.Err() != nil {
			return ErrWorkflowTimeout
		}

		exec.mu.Lock()
		exec.CurrentStep = step.ID
		exec.mu.Unlock()

		err := o.runStep(ctx, step, exec)
		observability.LogRecoveryStep(o.logger, exec.ExecutionID, step.ID, err)

		if errors.Is(err, ErrWorkflowTimeout) {
			return ErrWorkflowTimeout
		}
		if err != nil {
			exec.mu.Lock()
			exec.Errors = append(exec.Errors, fmt.Sprintf("%s: %v", step.ID, err))
			exec.mu.Unlock()
			if step.OnFailure != nil {
				step.OnFailure(exec, err)
			}
			if step.SkipOnFailure {
				exec.mu.Lock()
				exec.CompletedSteps = append(exec.CompletedSteps, step.ID)
				exec.mu.Unlock()
				continue
			}
			return &StepError{StepID: step.ID, Err: err}
		}

		exec.mu.Lock()
		exec.CompletedSteps = append(exec.CompletedSteps, step.ID)
		exec.mu.Unlock()
		if step.OnSuccess != nil {
			step.OnSuccess(exec)
		}
	}
	return nil
}

// runStep races the step action against its timeout. The action runs
// in its own goroutine writing to a buffered channel so the loser of
// the race never blocks.
func (o *Orchestrator) runStep(ctx context.Context, step *Step, exec *Execution) error {
	timeout := step.Timeout
	if timeout == 0 {
		timeout = o.stepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- o.performStep(stepCtx, step, exec)
	}()

	select {
	case err := <-done:
		return err
	case <-stepCtx.Done():
		// The workflow deadline propagates through the step context;
		// check the parent first so it is not mistaken for a step
		// timeout.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrWorkflowTimeout
		}
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("step %s timed out after %s", step.ID, timeout)
		}
		return stepCtx.Err()
	}
}

// performStep dispatches on the closed set of step types.
func (o *Orchestrator) performStep(ctx context.Context, step *Step, exec *Execution) error {
	switch step.Type {
	case StepRetry:
		return o.performRetry(ctx, step)
	case StepFallback:
		o.mu.Lock()
		o.fallbackModes[step.Config.Mode] = true
		o.mu.Unlock()
		exec.mu.Lock()
		exec.Result[step.ID] = step.Config.Mode
		exec.mu.Unlock()
		return nil
	case StepReset:
		o.mu.Lock()
		o.resets[step.Config.Component] = time.Now()
		o.mu.Unlock()
		return nil
	case StepNotify:
		if o.bus != nil {
			notice := event.New(event.TypeRecoveryNotification, "recovery", step.Config.Message).
				WithFields(map[string]any{
					"workflow_id":  exec.WorkflowID,
					"execution_id": exec.ExecutionID,
					"step_id":      step.ID,
				})
			o.bus.Publish(notice)
		}
		return nil
	case StepCustom:
		if step.Config.Delay > 0 {
			if err := sleep(ctx, step.Config.Delay); err != nil {
				return err
			}
		}
		if step.Config.HealthCheck != "" {
			result, err := o.RunHealthCheck(ctx, step.Config.HealthCheck)
			if err != nil {
				return err
			}
			exec.mu.Lock()
			exec.Result[step.ID] = result
			exec.mu.Unlock()
			if !result.Success {
				return fmt.Errorf("health check %s unhealthy: %s", step.Config.HealthCheck, result.Status)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown step type %d", int(step.Type))
	}
}

// performRetry probes up to Attempts times, sleeping Delay between
// probes. Without a health check the step settles successfully after
// the final wait; with one, the first healthy probe succeeds.
func (o *Orchestrator) performRetry(ctx context.Context, step *Step) error {
	var lastErr error
	for attempt := 1; attempt <= step.Config.Attempts; attempt++ {
		if step.Config.Delay > 0 {
			if err := sleep(ctx, step.Config.Delay); err != nil {
				return err
			}
		}
		if step.Config.HealthCheck == "" {
			lastErr = nil
			continue
		}
		result, err := o.RunHealthCheck(ctx, step.Config.HealthCheck)
		if err != nil {
			return err
		}
		if result.Success {
			return nil
		}
		lastErr = fmt.Errorf("probe %d: %s", attempt, result.Status)
	}
	return lastErr
}

// finalize moves a settled execution from active to history and
// records stats and metrics. Cancelled executions were already
// archived by CancelRecovery.
func (o *Orchestrator) finalize(wf *Workflow, exec *Execution, runErr error, duration time.Duration) {
	exec.mu.Lock()
	if exec.Status == StatusRunning {
		exec.EndTime = time.Now()
		if runErr != nil {
			exec.Status = StatusFailure
		} else {
			exec.Status = StatusSuccess
		}
	}
	status := exec.Status
	exec.mu.Unlock()

	o.mu.Lock()
	if _, ok := o.active[exec.ExecutionID]; ok {
		delete(o.active, exec.ExecutionID)
		o.archiveLocked(exec)
	}
	stats, ok := o.stats[wf.ID]
	if !ok {
		stats = &WorkflowStats{}
		o.stats[wf.ID] = stats
	}
	stats.record(status == StatusSuccess, duration)
	o.mu.Unlock()

	o.metrics.RecordRecovery(context.Background(), wf.ID, status == StatusSuccess, duration)
	observability.LogRecoveryEnd(o.logger, wf.ID, exec.ExecutionID, string(status), float64(duration.Milliseconds()))
}

// archiveLocked appends to the bounded history ring; callers hold mu.
func (o *Orchestrator) archiveLocked(exec *Execution) {
	o.history = append(o.history, exec)
	if len(o.history) > o.historySize {
		o.history = o.history[len(o.history)-o.historySize:]
	}
}

// CancelRecovery marks an active execution cancelled. The running step
// is not interrupted; the step loop stops before the next step.
func (o *Orchestrator) CancelRecovery(executionID string) error {
	o.mu.Lock()
	exec, ok := o.active[executionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	delete(o.active, executionID)
	o.mu.Unlock()

	exec.mu.Lock()
	exec.Status = StatusCancelled
	exec.EndTime = time.Now()
	exec.mu.Unlock()

	o.mu.Lock()
	o.archiveLocked(exec)
	o.mu.Unlock()
	return nil
}

// ActiveExecutions returns snapshots of in-flight executions.
func (o *Orchestrator) ActiveExecutions() []*Execution {
	o.mu.Lock()
	active := make([]*Execution, 0, len(o.active))
	for _, exec := range o.active {
		active = append(active, exec)
	}
	o.mu.Unlock()

	snapshots := make([]*Execution, len(active))
	for i, exec := range active {
		snapshots[i] = exec.Clone()
	}
	return snapshots
}

// History returns snapshots of archived executions, oldest first.
func (o *Orchestrator) History() []*Execution {
	o.mu.Lock()
	archived := append([]*Execution(nil), o.history...)
	o.mu.Unlock()

	snapshots := make([]*Execution, len(archived))
	for i, exec := range archived {
		snapshots[i] = exec.Clone()
	}
	return snapshots
}

// Stats returns a copy of the per-workflow execution stats.
func (o *Orchestrator) Stats(workflowID string) (WorkflowStats, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stats, ok := o.stats[workflowID]
	if !ok {
		return WorkflowStats{}, false
	}
	return *stats, true
}

// FallbackModeActive reports whether a fallback step activated the
// named mode.
func (o *Orchestrator) FallbackModeActive(mode string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fallbackModes[mode]
}

// ClearFallbackMode deactivates a mode set by a fallback step.
func (o *Orchestrator) ClearFallbackMode(mode string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.fallbackModes, mode)
}

// LastReset returns when a reset step last marked the component.
func (o *Orchestrator) LastReset(component string) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.resets[component]
	return t, ok
}

// pruneBefore drops timestamps older than cutoff; the slice is
// chronological.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
