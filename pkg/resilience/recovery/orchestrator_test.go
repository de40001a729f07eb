package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchkit/resilience/pkg/resilience/classify"
	"github.com/searchkit/resilience/pkg/resilience/event"
)

func criticalSystemError() *classify.Record {
	return &classify.Record{
		Name:           "UpstreamError",
		Message:        "search backend unavailable",
		Type:           classify.TypeSystem,
		Severity:       classify.SeverityCritical,
		Recoverability: classify.RecoverabilityTransient,
	}
}

func simpleWorkflow(id string) *Workflow {
	return &Workflow{
		ID:      id,
		Name:    id,
		Enabled: true,
		Triggers: []Trigger{{
			ErrorType: classify.TypeSystem,
			Severity:  classify.SeverityCritical,
		}},
		Steps: []Step{{
			ID:     "mark-degraded",
			Type:   StepFallback,
			Config: StepConfig{Mode: "degraded"},
		}},
	}
}

// TestRegister_Validation tests workflow definition validation.
func TestRegister_Validation(t *testing.T) {
	o := New()

	tests := []struct {
		name string
		wf   *Workflow
	}{
		{"missing ID", &Workflow{Triggers: []Trigger{{}}, Steps: []Step{{ID: "s"}}}},
		{"no triggers", &Workflow{ID: "w", Steps: []Step{{ID: "s"}}}},
		{"no steps", &Workflow{ID: "w", Triggers: []Trigger{{}}}},
		{"retry without attempts", &Workflow{
			ID:       "w",
			Triggers: []Trigger{{}},
			Steps:    []Step{{ID: "s", Type: StepRetry}},
		}},
		{"notify without message", &Workflow{
			ID:       "w",
			Triggers: []Trigger{{}},
			Steps:    []Step{{ID: "s", Type: StepNotify}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, o.Register(tt.wf))
		})
	}

	require.NoError(t, o.Register(simpleWorkflow("dup")))
	assert.ErrorIs(t, o.Register(simpleWorkflow("dup")), ErrWorkflowExists)
}

// TestExecuteRecovery_Success tests a full run through every step
// type.
func TestExecuteRecovery_Success(t *testing.T) {
	bus := event.NewBus()
	var notices []event.Notice
	bus.Subscribe([]string{event.TypeRecoveryNotification}, func(n event.Notice) {
		notices = append(notices, n)
	})
	o := New(WithBus(bus), WithCooldown(0))
	o.RegisterHealthCheck("endpoint", func(ctx context.Context) error { return nil })

	require.NoError(t, o.Register(&Workflow{
		ID:      "full",
		Name:    "all step types",
		Enabled: true,
		Triggers: []Trigger{{
			ErrorType: classify.TypeSystem,
			Severity:  classify.SeverityCritical,
		}},
		Steps: []Step{
			{ID: "probe", Type: StepRetry, Config: StepConfig{Attempts: 2, Delay: time.Millisecond, HealthCheck: "endpoint"}},
			{ID: "degrade", Type: StepFallback, Config: StepConfig{Mode: "cached-only"}},
			{ID: "reinit", Type: StepReset, Config: StepConfig{Component: "search-widget"}},
			{ID: "announce", Type: StepNotify, Config: StepConfig{Message: "recovered"}},
			{ID: "settle", Type: StepCustom, Config: StepConfig{Delay: time.Millisecond}},
		},
	}))

	exec, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, exec.Status)
	assert.Equal(t, []string{"probe", "degrade", "reinit", "announce", "settle"}, exec.CompletedSteps)
	assert.False(t, exec.EndTime.IsZero())

	assert.True(t, o.FallbackModeActive("cached-only"))
	_, ok := o.LastReset("search-widget")
	assert.True(t, ok)
	require.Len(t, notices, 1)
	assert.Equal(t, "recovered", notices[0].Message)

	stats, ok := o.Stats("full")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Executions)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

// TestExecuteRecovery_NoMatch tests the no-workflow-matched rejection.
func TestExecuteRecovery_NoMatch(t *testing.T) {
	o := New()
	require.NoError(t, o.Register(simpleWorkflow("sys")))

	rec := &classify.Record{Type: classify.TypeValidation, Severity: classify.SeverityLow}
	exec, err := o.ExecuteRecovery(context.Background(), rec, nil)

	assert.Nil(t, exec)
	assert.ErrorIs(t, err, ErrNoWorkflowMatched)
	var admission *AdmissionError
	assert.ErrorAs(t, err, &admission)
}

// TestExecuteRecovery_DisabledWorkflowSkipped tests the enable gate.
func TestExecuteRecovery_DisabledWorkflowSkipped(t *testing.T) {
	o := New()
	wf := simpleWorkflow("sys")
	require.NoError(t, o.Register(wf))
	require.NoError(t, o.SetEnabled("sys", false))

	_, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)

	assert.ErrorIs(t, err, ErrNoWorkflowMatched)
}

// TestExecuteRecovery_Cooldown tests that an immediate second
// execution is rejected with a cooldown condition.
func TestExecuteRecovery_Cooldown(t *testing.T) {
	o := New(WithCooldown(5 * time.Second))
	require.NoError(t, o.Register(simpleWorkflow("sys")))

	_, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
	require.NoError(t, err)

	exec, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
	assert.Nil(t, exec)
	assert.ErrorIs(t, err, ErrCooldownActive)
}

// TestExecuteRecovery_HourlyLimit tests the trailing-hour execution
// cap.
func TestExecuteRecovery_HourlyLimit(t *testing.T) {
	o := New(WithCooldown(0))
	wf := simpleWorkflow("sys")
	wf.MaxExecutions = 1
	require.NoError(t, o.Register(wf))

	_, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
	require.NoError(t, err)

	exec, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
	assert.Nil(t, exec)
	assert.ErrorIs(t, err, ErrExecutionLimit)
}

// TestExecuteRecovery_ConcurrencyLimit tests the hard concurrent
// execution ceiling.
func TestExecuteRecovery_ConcurrencyLimit(t *testing.T) {
	o := New(WithMaxConcurrent(1), WithCooldown(0))
	o.RegisterHealthCheck("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	wf := simpleWorkflow("sys")
	wf.Steps = []Step{{ID: "wait", Type: StepCustom, Config: StepConfig{HealthCheck: "slow"}}}
	require.NoError(t, o.Register(wf))

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
		close(done)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	_, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
	assert.ErrorIs(t, err, ErrConcurrencyLimit)
	<-done
}

// TestExecuteRecovery_Threshold tests sliding-window trigger counting:
// the workflow only matches once enough errors were observed in the
// window.
func TestExecuteRecovery_Threshold(t *testing.T) {
	o := New(WithCooldown(0))
	wf := simpleWorkflow("sys")
	wf.Triggers[0].Count = 3
	wf.Triggers[0].Window = time.Minute
	require.NoError(t, o.Register(wf))

	for i := 0; i < 2; i++ {
		_, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
		assert.ErrorIs(t, err, ErrNoWorkflowMatched, "observation %d", i+1)
	}

	exec, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, exec.Status)
}

// TestObservations_Bounded tests that the per-workflow observation log
// stays empty for workflows without threshold triggers and capped for
// workflows with them.
func TestObservations_Bounded(t *testing.T) {
	o := New(WithCooldown(0))
	require.NoError(t, o.Register(simpleWorkflow("plain")))

	flood := simpleWorkflow("flood")
	flood.Triggers[0].Severity = classify.SeverityHigh
	flood.Triggers[0].Count = maxObservations + 100
	flood.Triggers[0].Window = time.Hour
	require.NoError(t, o.Register(flood))

	for i := 0; i < 25; i++ {
		_, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
		require.NoError(t, err)
	}

	highRec := criticalSystemError()
	highRec.Severity = classify.SeverityHigh
	for i := 0; i < maxObservations+50; i++ {
		_, err := o.ExecuteRecovery(context.Background(), highRec, nil)
		require.ErrorIs(t, err, ErrNoWorkflowMatched)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Empty(t, o.observations["plain"])
	assert.Len(t, o.observations["flood"], maxObservations)
}

// TestExecuteRecovery_StepFailureAborts tests that a failed step stops
// the execution and propagates the step error.
func TestExecuteRecovery_StepFailureAborts(t *testing.T) {
	o := New(WithCooldown(0))
	o.RegisterHealthCheck("down", func(ctx context.Context) error {
		return errors.New("still refusing connections")
	})
	wf := simpleWorkflow("sys")
	wf.Steps = []Step{
		{ID: "probe", Type: StepCustom, Config: StepConfig{HealthCheck: "down"}},
		{ID: "degrade", Type: StepFallback, Config: StepConfig{Mode: "degraded"}},
	}
	require.NoError(t, o.Register(wf))

	exec, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)

	require.Error(t, err)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "probe", stepErr.StepID)
	assert.Equal(t, StatusFailure, exec.Status)
	assert.NotContains(t, exec.CompletedSteps, "degrade")
	assert.False(t, o.FallbackModeActive("degraded"))
}

// TestExecuteRecovery_SkipOnFailure tests that a skippable step lets
// the execution continue.
func TestExecuteRecovery_SkipOnFailure(t *testing.T) {
	o := New(WithCooldown(0))
	o.RegisterHealthCheck("down", func(ctx context.Context) error {
		return errors.New("unhealthy")
	})
	wf := simpleWorkflow("sys")
	wf.Steps = []Step{
		{ID: "probe", Type: StepCustom, Config: StepConfig{HealthCheck: "down"}, SkipOnFailure: true},
		{ID: "degrade", Type: StepFallback, Config: StepConfig{Mode: "degraded"}},
	}
	require.NoError(t, o.Register(wf))

	exec, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, exec.Status)
	assert.Equal(t, []string{"probe", "degrade"}, exec.CompletedSteps)
	assert.NotEmpty(t, exec.Errors)
}

// TestExecuteRecovery_StepTimeout tests the per-step timeout race.
func TestExecuteRecovery_StepTimeout(t *testing.T) {
	o := New(WithCooldown(0), WithStepTimeout(20*time.Millisecond))
	o.RegisterHealthCheck("hang", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})
	wf := simpleWorkflow("sys")
	wf.Steps = []Step{{ID: "hang", Type: StepCustom, Config: StepConfig{HealthCheck: "hang"}}}
	require.NoError(t, o.Register(wf))

	start := time.Now()
	exec, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StatusFailure, exec.Status)
}

// TestExecuteRecovery_WorkflowTimeout tests that the workflow deadline
// expiring mid-step surfaces as ErrWorkflowTimeout rather than a step
// timeout.
func TestExecuteRecovery_WorkflowTimeout(t *testing.T) {
	o := New(WithCooldown(0), WithStepTimeout(time.Second))
	o.RegisterHealthCheck("hang", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	wf := simpleWorkflow("sys")
	wf.Timeout = 20 * time.Millisecond
	wf.Steps = []Step{{ID: "hang", Type: StepCustom, Config: StepConfig{HealthCheck: "hang"}}}
	require.NoError(t, o.Register(wf))

	exec, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)

	require.ErrorIs(t, err, ErrWorkflowTimeout)
	var stepErr *StepError
	assert.False(t, errors.As(err, &stepErr))
	assert.Equal(t, StatusFailure, exec.Status)
}

// TestCancelRecovery tests cancellation bookkeeping between steps.
func TestCancelRecovery(t *testing.T) {
	o := New(WithCooldown(0))
	release := make(chan struct{})
	o.RegisterHealthCheck("gate", func(ctx context.Context) error {
		<-release
		return nil
	})
	wf := simpleWorkflow("sys")
	wf.Steps = []Step{
		{ID: "gate", Type: StepCustom, Config: StepConfig{HealthCheck: "gate"}},
		{ID: "degrade", Type: StepFallback, Config: StepConfig{Mode: "degraded"}},
	}
	require.NoError(t, o.Register(wf))

	done := make(chan *Execution, 1)
	go func() {
		exec, _ := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
		done <- exec
	}()

	var executionID string
	require.Eventually(t, func() bool {
		active := o.ActiveExecutions()
		if len(active) == 0 {
			return false
		}
		executionID = active[0].ExecutionID
		return true
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, o.CancelRecovery(executionID))
	close(release)

	exec := <-done
	assert.Equal(t, StatusCancelled, exec.Status)
	assert.NotContains(t, exec.CompletedSteps, "degrade")
	assert.Empty(t, o.ActiveExecutions())

	assert.ErrorIs(t, o.CancelRecovery(executionID), ErrExecutionNotFound)
}

// TestHistory_Bounded tests the archived-execution ring.
func TestHistory_Bounded(t *testing.T) {
	o := New(WithCooldown(0), WithHistorySize(3))
	require.NoError(t, o.Register(simpleWorkflow("sys")))

	for i := 0; i < 5; i++ {
		_, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
		require.NoError(t, err)
	}

	history := o.History()
	assert.Len(t, history, 3)
	for _, exec := range history {
		assert.Equal(t, StatusSuccess, exec.Status)
	}
}

// TestRunHealthCheck tests health check results.
func TestRunHealthCheck(t *testing.T) {
	o := New()
	o.RegisterHealthCheck("ok", func(ctx context.Context) error { return nil })
	o.RegisterHealthCheck("bad", func(ctx context.Context) error { return errors.New("connection refused") })

	result, err := o.RunHealthCheck(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "healthy", result.Status)
	assert.False(t, result.Timestamp.IsZero())

	result, err = o.RunHealthCheck(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "connection refused", result.Status)

	_, err = o.RunHealthCheck(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrHealthCheckNotFound)
}

// TestTrigger_Predicate tests the optional predicate gate.
func TestTrigger_Predicate(t *testing.T) {
	o := New(WithCooldown(0))
	wf := simpleWorkflow("sys")
	wf.Triggers[0].Predicate = func(rec *classify.Record, ectx *classify.Context) bool {
		return ectx != nil && ectx.Adapter == "catalog"
	}
	require.NoError(t, o.Register(wf))

	_, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), nil)
	assert.ErrorIs(t, err, ErrNoWorkflowMatched)

	exec, err := o.ExecuteRecovery(context.Background(), criticalSystemError(), &classify.Context{Adapter: "catalog"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, exec.Status)
}
