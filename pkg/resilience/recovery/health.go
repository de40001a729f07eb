package recovery

import (
	"context"
	"fmt"
	"time"
)

// HealthCheck probes a dependency (endpoint, cache, adapter). A nil
// error means healthy.
type HealthCheck func(ctx context.Context) error

// HealthResult is the outcome of a single health check run.
type HealthResult struct {
	Success      bool          `json:"success"`
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	Timestamp    time.Time     `json:"timestamp"`
}

// RegisterHealthCheck registers a named check. Re-registering a name
// replaces the previous check.
func (o *Orchestrator) RegisterHealthCheck(name string, check HealthCheck) {
	o.health.Register(name, check)
}

// RunHealthCheck executes a registered check and reports its outcome.
func (o *Orchestrator) RunHealthCheck(ctx context.Context, name string) (HealthResult, error) {
	check, ok := o.health.Get(name)
	if !ok {
		return HealthResult{}, fmt.Errorf("%w: %s", ErrHealthCheckNotFound, name)
	}

	start := time.Now()
	err := check(ctx)
	result := HealthResult{
		Success:      err == nil,
		Status:       "healthy",
		ResponseTime: time.Since(start),
		Timestamp:    time.Now(),
	}
	if err != nil {
		result.Status = err.Error()
	}
	return result, nil
}
