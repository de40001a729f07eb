package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchkit/resilience/pkg/resilience/classify"
	"github.com/searchkit/resilience/pkg/resilience/config"
	"github.com/searchkit/resilience/pkg/resilience/fallback"
	"github.com/searchkit/resilience/pkg/resilience/logagg"
	"github.com/searchkit/resilience/pkg/resilience/recovery"
	"github.com/searchkit/resilience/pkg/resilience/retry"
)

func fastPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	base := []Option{
		WithRetryConfig(retry.Config{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			JitterType:   retry.JitterNone,
			Timeout:      time.Second,
		}),
	}
	p := New(append(base, opts...)...)
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func searchContext() *classify.Context {
	return &classify.Context{Adapter: "catalog", UserID: "user-1"}
}

var sampleDocs = []fallback.Document{
	{ID: "d1", Title: "Wireless Keyboard", Snippet: "Compact wireless keyboard with USB receiver"},
	{ID: "d2", Title: "USB Hub", Snippet: "Four-port powered USB hub"},
}

// TestExecute_PrimarySuccess tests the healthy path.
func TestExecute_PrimarySuccess(t *testing.T) {
	p := fastPipeline(t)

	calls := 0
	result, err := p.Execute(context.Background(), "keyboard", searchContext(), func(ctx context.Context) (any, error) {
		calls++
		return sampleDocs, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, SourcePrimary, result.Source)
	assert.Equal(t, sampleDocs, result.Documents)
	assert.Nil(t, result.Fallback)
	assert.Nil(t, result.Err)
}

// TestExecute_RetryThenSuccess tests recovery within the attempt
// ceiling.
func TestExecute_RetryThenSuccess(t *testing.T) {
	p := fastPipeline(t)

	calls := 0
	result, err := p.Execute(context.Background(), "keyboard", searchContext(), func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connect ECONNREFUSED 10.0.0.4:443")
		}
		return sampleDocs, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, SourcePrimary, result.Source)
}

// TestExecute_AttemptCeiling tests that the operation is invoked
// exactly MaxAttempts times before degrading.
func TestExecute_AttemptCeiling(t *testing.T) {
	p := fastPipeline(t)

	var calls int32
	result, err := p.Execute(context.Background(), "keyboard", searchContext(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connect ECONNREFUSED 10.0.0.4:443")
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.NotNil(t, result.Err)
	assert.Equal(t, classify.TypeNetwork, result.Err.Type)
	assert.Equal(t, classify.RecoverabilityTransient, result.Err.Recoverability)
}

// TestExecute_DegradesToCache tests that earlier primary results
// serve a later failure.
func TestExecute_DegradesToCache(t *testing.T) {
	p := fastPipeline(t)
	ectx := searchContext()

	_, err := p.Execute(context.Background(), "keyboard", ectx, func(ctx context.Context) (any, error) {
		return sampleDocs, nil
	})
	require.NoError(t, err)

	result, err := p.Execute(context.Background(), "keyboard", ectx, func(ctx context.Context) (any, error) {
		return nil, errors.New("connect ECONNREFUSED 10.0.0.4:443")
	})

	require.NoError(t, err)
	assert.Equal(t, "cache", result.Source)
	require.NotNil(t, result.Fallback)
	assert.True(t, result.Fallback.Success)
	assert.Equal(t, sampleDocs, result.Documents)
	require.NotNil(t, result.Err)
	assert.Equal(t, "ECONNREFUSED", result.Err.Code)
}

// TestExecute_EmptyResultsLastResort tests degradation with a cold
// cache.
func TestExecute_EmptyResultsLastResort(t *testing.T) {
	p := fastPipeline(t)

	result, err := p.Execute(context.Background(), "keyboard", searchContext(), func(ctx context.Context) (any, error) {
		return nil, errors.New("connect ECONNREFUSED 10.0.0.4:443")
	})

	require.NoError(t, err)
	assert.Equal(t, "empty-results", result.Source)
	assert.Empty(t, result.Documents)
	require.NotNil(t, result.Fallback)
	assert.False(t, result.Fallback.Success)
}

// TestExecute_PermanentErrorNotRetried tests single invocation for
// permanent failures.
func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	p := fastPipeline(t)

	calls := 0
	result, err := p.Execute(context.Background(), "keyboard", searchContext(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("access denied for index products")
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.NotNil(t, result.Err)
	assert.Equal(t, classify.RecoverabilityPermanent, result.Err.Recoverability)
}

// TestExecute_ErrorLogged tests that degraded calls reach the
// aggregator.
func TestExecute_ErrorLogged(t *testing.T) {
	p := fastPipeline(t)

	_, err := p.Execute(context.Background(), "keyboard", searchContext(), func(ctx context.Context) (any, error) {
		return nil, errors.New("connect ECONNREFUSED 10.0.0.4:443")
	})
	require.NoError(t, err)

	stats := p.Aggregator().Stats()
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByType[classify.TypeNetwork])
}

// TestExecute_SystemicTriggersRecovery tests recovery dispatch for
// critical failures.
func TestExecute_SystemicTriggersRecovery(t *testing.T) {
	p := fastPipeline(t, WithRecoveryOptions(recovery.WithCooldown(0)))

	require.NoError(t, p.Orchestrator().Register(&recovery.Workflow{
		ID:      "upstream-outage",
		Name:    "upstream outage",
		Enabled: true,
		Triggers: []recovery.Trigger{{
			ErrorType: classify.TypeSystem,
			Severity:  classify.SeverityHigh,
		}},
		Steps: []recovery.Step{{
			ID:     "degrade",
			Type:   recovery.StepFallback,
			Config: recovery.StepConfig{Mode: "cached-only"},
		}},
	}))

	_, err := p.Execute(context.Background(), "keyboard", searchContext(), func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream returned HTTP 503")
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return p.Orchestrator().FallbackModeActive("cached-only")
	}, time.Second, 5*time.Millisecond)
}

// TestExecute_AllStrategiesDisabled tests the exhausted-chain error.
func TestExecute_AllStrategiesDisabled(t *testing.T) {
	p := fastPipeline(t, WithFallbackOptions(fallback.Options{
		DisableCached:     true,
		DisableSimplified: true,
		DisableOffline:    true,
		DisableEmpty:      true,
	}))

	result, err := p.Execute(context.Background(), "keyboard", searchContext(), func(ctx context.Context) (any, error) {
		return nil, errors.New("connect ECONNREFUSED 10.0.0.4:443")
	})

	assert.Nil(t, result)
	var rec *classify.Record
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, classify.TypeNetwork, rec.Type)
}

// TestLogError_Passthrough tests out-of-band error reporting.
func TestLogError_Passthrough(t *testing.T) {
	p := fastPipeline(t)

	p.LogError(&classify.Record{
		Name:     "WidgetError",
		Message:  "render failed",
		Type:     classify.TypeSystem,
		Severity: classify.SeverityHigh,
	}, searchContext())

	assert.Equal(t, int64(1), p.Aggregator().Stats().Total)
}

// TestFromConfig tests building the pipeline from configuration.
func TestFromConfig(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
retry:
  max_attempts: 2
  initial_delay: 1
  max_delay: 5
  jitter_type: none
fallback:
  enable_offline_mode: false
logging:
  reporting_level: error
  destinations: []
`))
	require.NoError(t, err)

	p, err := FromConfig(cfg)
	require.NoError(t, err)
	defer p.Close(context.Background())

	calls := 0
	_, execErr := p.Execute(context.Background(), "keyboard", searchContext(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("connect ECONNREFUSED 10.0.0.4:443")
	})

	require.NoError(t, execErr)
	assert.Equal(t, 2, calls)
}

// TestBuildDestinations_RemoteToken tests that the configured bearer
// credential reaches the remote sink.
func TestBuildDestinations_RemoteToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	dests, err := buildDestinations(config.LoggingOptions{
		Destinations:    []string{"remote"},
		RemoteEndpoint:  srv.URL,
		RemoteToken:     "svc-errorlog-token",
		RemoteBatchSize: 10,
	})
	require.NoError(t, err)
	require.Len(t, dests, 1)

	entries := []*logagg.Entry{{ID: "e1", Message: "connection refused"}}
	require.NoError(t, dests[0].Write(context.Background(), entries))
	assert.Equal(t, "Bearer svc-errorlog-token", auth.Load())
}
