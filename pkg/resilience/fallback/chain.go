// Package fallback serves degraded data when the primary search path
// is exhausted. Registered strategies are tried strictly sequentially
// in ascending priority order; the first success wins, individual
// strategy failures and timeouts are swallowed and the next strategy is
// tried. Only when every eligible strategy has failed does the chain
// itself fail.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/searchkit/resilience/pkg/resilience/classify"
	"github.com/searchkit/resilience/pkg/resilience/event"
	"github.com/searchkit/resilience/pkg/resilience/observability"
	"github.com/searchkit/resilience/pkg/resilience/registry"
)

// Sentinel errors for chain execution.
var (
	// ErrAllStrategiesFailed indicates every eligible strategy failed.
	ErrAllStrategiesFailed = errors.New("all fallback strategies failed")

	// ErrNoEligibleStrategy indicates no registered strategy could serve
	// the request.
	ErrNoEligibleStrategy = errors.New("no eligible fallback strategy")

	// ErrNoCachedResults indicates the cache has no fresh bucket for the
	// query.
	ErrNoCachedResults = errors.New("no cached results for query")

	// ErrStrategyTimeout indicates a strategy exceeded its timeout.
	ErrStrategyTimeout = errors.New("fallback strategy timed out")
)

// ExhaustedError reports a chain execution where nothing succeeded.
type ExhaustedError struct {
	// Attempted lists the strategies that were tried, in order.
	Attempted []string
	// Err is ErrAllStrategiesFailed or ErrNoEligibleStrategy.
	Err error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if len(e.Attempted) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (tried: %v)", e.Err, e.Attempted)
}

// Unwrap returns the underlying sentinel for errors.Is support.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Options configures the chain.
type Options struct {
	// CacheMaxAge is how long cached buckets stay fresh. Default 5m.
	CacheMaxAge time.Duration

	// Timeout is the default per-strategy execution budget. Default 10s.
	Timeout time.Duration

	// DisableCached, DisableSimplified, DisableOffline and DisableEmpty
	// turn off the corresponding built-in strategy.
	DisableCached     bool
	DisableSimplified bool
	DisableOffline    bool
	DisableEmpty      bool
}

// DefaultOptions is the standard chain configuration.
var DefaultOptions = Options{
	CacheMaxAge: 5 * time.Minute,
	Timeout:     10 * time.Second,
}

func (o Options) withDefaults() Options {
	if o.CacheMaxAge <= 0 {
		o.CacheMaxAge = DefaultOptions.CacheMaxAge
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultOptions.Timeout
	}
	return o
}

// Chain executes fallback strategies. Safe for concurrent use; the
// query cache and the offline flag are owned exclusively by the chain
// and mutated only through its methods.
type Chain struct {
	mu         sync.Mutex
	strategies []*Strategy // ascending priority
	cache      map[string]*cacheEntry
	offline    bool

	executors *registry.Registry[string, Executor]

	opts     Options
	logger   *slog.Logger
	recorder observability.MetricsRecorder
	bus      *event.Bus
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) ChainOption {
	return func(c *Chain) { c.recorder = rec }
}

// WithBus sets the notification bus for offline-mode transitions.
func WithBus(bus *event.Bus) ChainOption {
	return func(c *Chain) { c.bus = bus }
}

// NewChain creates a chain with the built-in strategies registered in
// priority order: cached-results, simplified-mode, offline-mode,
// empty-results.
func NewChain(opts Options, chainOpts ...ChainOption) *Chain {
	c := &Chain{
		cache:     make(map[string]*cacheEntry),
		executors: registry.New[string, Executor](),
		opts:      opts.withDefaults(),
		recorder:  observability.NoopMetrics{},
	}
	for _, opt := range chainOpts {
		opt(c)
	}

	c.Register(&Strategy{
		Name:     StrategyCachedResults,
		Priority: 10,
		Enabled:  !c.opts.DisableCached,
		Executor: &cachedResultsExecutor{chain: c},
	})
	c.Register(&Strategy{
		Name:     StrategySimplifiedMode,
		Priority: 20,
		Enabled:  !c.opts.DisableSimplified,
		Executor: &simplifiedModeExecutor{chain: c},
	})
	c.Register(&Strategy{
		Name:     StrategyOfflineMode,
		Priority: 30,
		Enabled:  !c.opts.DisableOffline,
		Executor: &offlineModeExecutor{chain: c},
	})
	c.Register(&Strategy{
		Name:     StrategyEmptyResults,
		Priority: 100,
		Enabled:  !c.opts.DisableEmpty,
		Executor: emptyResultsExecutor{},
	})

	return c
}

// Register adds a strategy, keeping the list ordered by ascending
// priority, and indexes its executor by name.
func (c *Chain) Register(s *Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.strategies = append(c.strategies, s)
	sort.SliceStable(c.strategies, func(i, j int) bool {
		return c.strategies[i].Priority < c.strategies[j].Priority
	})
	c.executors.Register(s.Name, s.Executor)
}

// Unregister removes a strategy by name.
func (c *Chain) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.strategies[:0]
	for _, s := range c.strategies {
		if s.Name != name {
			kept = append(kept, s)
		}
	}
	c.strategies = kept
	c.executors.Delete(name)
}

// Executor returns the registered executor for a strategy name.
func (c *Chain) Executor(name string) (Executor, bool) {
	return c.executors.Get(name)
}

// Strategies returns the registered strategies in execution order.
func (c *Chain) Strategies() []*Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Strategy(nil), c.strategies...)
}

// Execute tries each eligible strategy in priority order and returns
// the first success. It fails only when every eligible strategy failed
// or none were eligible.
func (c *Chain) Execute(ctx context.Context, rec *classify.Record, query string, ectx *classify.Context) (*Result, error) {
	req := &Request{Err: rec, Query: query, Context: ectx}

	var attempted []string
	for _, s := range c.Strategies() {
		if !c.eligible(s, req) {
			continue
		}
		attempted = append(attempted, s.Name)

		done := observability.TimedOperation()
		result, err := c.runStrategy(ctx, s, req)
		durationMs := done()

		c.recorder.RecordFallback(ctx, s.Name, err == nil, time.Duration(durationMs)*time.Millisecond)
		observability.LogFallback(c.logger, s.Name, err == nil, durationMs)

		if err == nil {
			return result, nil
		}
	}

	sentinel := ErrAllStrategiesFailed
	if len(attempted) == 0 {
		sentinel = ErrNoEligibleStrategy
	}
	return nil, &ExhaustedError{Attempted: attempted, Err: sentinel}
}

func (c *Chain) eligible(s *Strategy, req *Request) bool {
	if !s.Enabled {
		return false
	}
	if s.Condition != nil && !s.Condition(req) {
		return false
	}
	return s.Executor.CanExecute(req)
}

// runStrategy races a strategy execution against its timeout. The
// loser's eventual completion is discarded; the executor delivers to a
// buffered channel so it can never block after losing.
func (c *Chain) runStrategy(ctx context.Context, s *Strategy, req *Request) (*Result, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := s.Executor.Execute(ctx, req)
		done <- outcome{result, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrStrategyTimeout, s.Name, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Offline reports whether the sticky offline flag is set.
func (c *Chain) Offline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline
}

// EnableOffline sets the sticky offline flag.
func (c *Chain) EnableOffline() {
	c.setOffline(true)
}

// DisableOffline clears the sticky offline flag.
func (c *Chain) DisableOffline() {
	c.setOffline(false)
}

func (c *Chain) setOffline(on bool) {
	c.mu.Lock()
	changed := c.offline != on
	c.offline = on
	c.mu.Unlock()

	if changed && c.bus != nil {
		c.bus.Publish(event.New(event.TypeOfflineModeChanged, "fallback", fmt.Sprintf("offline mode %v", on)).
			WithFields(map[string]any{"offline": on}))
	}
}
