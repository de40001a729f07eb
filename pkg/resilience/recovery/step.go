package recovery

import (
	"errors"
	"fmt"
	"time"
)

// StepType enumerates the closed set of recovery actions. Adding a
// type means extending the switch in runStep; there is no open
// dispatch table.
type StepType int

const (
	// StepRetry performs a bounded wait-and-probe loop.
	StepRetry StepType = iota

	// StepFallback activates a named degraded mode.
	StepFallback

	// StepReset marks a client-side component for reinitialization.
	StepReset

	// StepNotify publishes a recovery notification.
	StepNotify

	// StepCustom waits and/or runs a registered health check.
	StepCustom
)

// String returns the step type name.
func (t StepType) String() string {
	switch t {
	case StepRetry:
		return "retry"
	case StepFallback:
		return "fallback"
	case StepReset:
		return "reset"
	case StepNotify:
		return "notify"
	case StepCustom:
		return "custom"
	default:
		return fmt.Sprintf("steptype(%d)", int(t))
	}
}

// StepConfig carries the per-type parameters of a step. Only the
// fields for the step's type are consulted.
type StepConfig struct {
	// Attempts and Delay drive StepRetry: up to Attempts probe cycles
	// separated by Delay.
	Attempts int
	Delay    time.Duration

	// Mode names the degraded mode for StepFallback.
	Mode string

	// Component names the target of StepReset.
	Component string

	// Message is the notification text for StepNotify.
	Message string

	// HealthCheck names a registered check for StepRetry probes and
	// StepCustom.
	HealthCheck string
}

// Step is one action in a workflow. Steps run in declaration order;
// a failed step aborts the execution unless SkipOnFailure is set.
type Step struct {
	ID     string
	Type   StepType
	Config StepConfig

	// Timeout bounds this step. Zero means the orchestrator's
	// per-step default.
	Timeout time.Duration

	// SkipOnFailure lets the execution continue past a failure of
	// this step.
	SkipOnFailure bool

	// OnSuccess and OnFailure are optional per-step hooks, invoked
	// synchronously after the step settles.
	OnSuccess func(exec *Execution)
	OnFailure func(exec *Execution, err error)
}

func (s *Step) validate() error {
	if s.ID == "" {
		return errors.New("step ID is required")
	}
	switch s.Type {
	case StepRetry:
		if s.Config.Attempts <= 0 {
			return fmt.Errorf("step %s: retry requires attempts > 0", s.ID)
		}
	case StepFallback:
		if s.Config.Mode == "" {
			return fmt.Errorf("step %s: fallback requires a mode", s.ID)
		}
	case StepReset:
		if s.Config.Component == "" {
			return fmt.Errorf("step %s: reset requires a component", s.ID)
		}
	case StepNotify:
		if s.Config.Message == "" {
			return fmt.Errorf("step %s: notify requires a message", s.ID)
		}
	case StepCustom:
		// Both delay and health check are optional.
	default:
		return fmt.Errorf("step %s: unknown step type %d", s.ID, int(s.Type))
	}
	return nil
}
