package resilience

import (
	"log/slog"
	"os"

	"github.com/searchkit/resilience/pkg/resilience/classify"
	"github.com/searchkit/resilience/pkg/resilience/config"
	"github.com/searchkit/resilience/pkg/resilience/event"
	"github.com/searchkit/resilience/pkg/resilience/fallback"
	"github.com/searchkit/resilience/pkg/resilience/logagg"
	"github.com/searchkit/resilience/pkg/resilience/observability"
	"github.com/searchkit/resilience/pkg/resilience/recovery"
	"github.com/searchkit/resilience/pkg/resilience/retry"
	"github.com/searchkit/resilience/pkg/resilience/store"
)

// Option configures a Pipeline.
type Option func(*builder)

type builder struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	bus     *event.Bus
	tracing bool

	retryConfig  retry.Config
	fallbackOpts fallback.Options
	recoveryOpts []recovery.Option
	logaggOpts   []logagg.Option

	classifier   *classify.Classifier
	orchestrator *recovery.Orchestrator
	aggregator   *logagg.Aggregator
}

// WithLogger sets the structured logger shared by all stages.
func WithLogger(logger *slog.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

// WithMetrics sets the metrics recorder shared by all stages.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(b *builder) { b.metrics = metrics }
}

// WithTracing enables OpenTelemetry spans around pipeline calls. The
// global tracer provider must be configured by the host.
func WithTracing() Option {
	return func(b *builder) { b.tracing = true }
}

// WithBus replaces the shared notification bus.
func WithBus(bus *event.Bus) Option {
	return func(b *builder) { b.bus = bus }
}

// WithRetryConfig sets the retry coordinator configuration.
func WithRetryConfig(cfg retry.Config) Option {
	return func(b *builder) { b.retryConfig = cfg }
}

// WithFallbackOptions sets the fallback chain configuration.
func WithFallbackOptions(opts fallback.Options) Option {
	return func(b *builder) { b.fallbackOpts = opts }
}

// WithRecoveryOptions appends orchestrator options.
func WithRecoveryOptions(opts ...recovery.Option) Option {
	return func(b *builder) { b.recoveryOpts = append(b.recoveryOpts, opts...) }
}

// WithAggregatorOptions appends log aggregator options.
func WithAggregatorOptions(opts ...logagg.Option) Option {
	return func(b *builder) { b.logaggOpts = append(b.logaggOpts, opts...) }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(b *builder) { b.classifier = c }
}

// WithOrchestrator replaces the default orchestrator.
func WithOrchestrator(o *recovery.Orchestrator) Option {
	return func(b *builder) { b.orchestrator = o }
}

// WithAggregator replaces the default aggregator.
func WithAggregator(a *logagg.Aggregator) Option {
	return func(b *builder) { b.aggregator = a }
}

// New creates a pipeline with default stage configuration.
func New(opts ...Option) *Pipeline {
	b := &builder{
		metrics:      observability.NoopMetrics{},
		bus:          event.NewBus(),
		retryConfig:  retry.DefaultConfig,
		fallbackOpts: fallback.DefaultOptions,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.build()
}

func (b *builder) build() *Pipeline {
	p := &Pipeline{
		logger:  b.logger,
		metrics: b.metrics,
		spans:   observability.NoopSpanManager{},
	}
	if b.tracing {
		p.spans = observability.NewSpanManager()
	}

	p.classifier = b.classifier
	if p.classifier == nil {
		p.classifier = classify.New(
			classify.WithLogger(b.logger),
			classify.WithMetrics(b.metrics),
		)
	}

	p.coordinator = retry.NewCoordinator(b.retryConfig, p.classifier,
		retry.WithLogger(b.logger),
		retry.WithMetrics(b.metrics),
	)

	p.chain = fallback.NewChain(b.fallbackOpts,
		fallback.WithLogger(b.logger),
		fallback.WithMetrics(b.metrics),
		fallback.WithBus(b.bus),
	)

	p.orchestrator = b.orchestrator
	if p.orchestrator == nil {
		recoveryOpts := append([]recovery.Option{
			recovery.WithLogger(b.logger),
			recovery.WithMetrics(b.metrics),
			recovery.WithBus(b.bus),
		}, b.recoveryOpts...)
		p.orchestrator = recovery.New(recoveryOpts...)
	}

	p.aggregator = b.aggregator
	if p.aggregator == nil {
		logaggOpts := append([]logagg.Option{
			logagg.WithLogger(b.logger),
			logagg.WithMetrics(b.metrics),
			logagg.WithBus(b.bus),
		}, b.logaggOpts...)
		p.aggregator = logagg.New(logaggOpts...)
	}
	return p
}

// FromConfig creates a pipeline from a loaded configuration,
// translating the retry, fallback, recovery, and logging sections
// into stage options. Explicit options are applied afterwards and
// win over the configuration.
func FromConfig(cfg config.Config, opts ...Option) (*Pipeline, error) {
	r := cfg.RetrySection()
	f := cfg.FallbackSection()
	rec := cfg.RecoverySection()
	l := cfg.LoggingSection()

	logaggOpts := []logagg.Option{
		logagg.WithReportingLevel(logagg.Level(l.ReportingLevel)),
		logagg.WithAggregationWindow(l.AggregationWindow),
		logagg.WithMaxDuplicates(l.MaxDuplicates),
		logagg.WithFlushThreshold(l.FlushThreshold),
		logagg.WithFlushInterval(l.FlushInterval),
		logagg.WithBufferSize(l.BufferSize),
		logagg.WithIncludeUserData(l.IncludeUserData),
		logagg.WithTags(l.Tags...),
	}
	destinations, err := buildDestinations(l)
	if err != nil {
		return nil, err
	}
	if len(destinations) > 0 {
		logaggOpts = append(logaggOpts, logagg.WithDestinations(destinations...))
	}

	base := []Option{
		WithRetryConfig(retry.Config{
			MaxAttempts:       r.MaxAttempts,
			InitialDelay:      r.InitialDelay,
			MaxDelay:          r.MaxDelay,
			BackoffMultiplier: r.BackoffMultiplier,
			JitterType:        retry.JitterType(r.JitterType),
			JitterAmount:      r.JitterAmount,
			Timeout:           r.Timeout,
		}),
		WithFallbackOptions(fallback.Options{
			CacheMaxAge:       f.CacheMaxAge,
			Timeout:           f.Timeout,
			DisableCached:     !f.EnableCache,
			DisableSimplified: !f.EnableSimplified,
			DisableOffline:    !f.EnableOffline,
			DisableEmpty:      !f.EnableEmpty,
		}),
		WithRecoveryOptions(
			recovery.WithMaxConcurrent(rec.MaxConcurrentExecutions),
			recovery.WithWorkflowTimeout(rec.DefaultTimeout),
			recovery.WithHistorySize(rec.ExecutionHistorySize),
			recovery.WithCooldown(rec.CooldownPeriod),
		),
		WithAggregatorOptions(logaggOpts...),
	}
	return New(append(base, opts...)...), nil
}

// buildDestinations assembles the configured flush destinations.
func buildDestinations(l config.LoggingOptions) ([]logagg.Destination, error) {
	var dests []logagg.Destination
	for _, name := range l.Destinations {
		switch name {
		case "console":
			dests = append(dests, logagg.NewConsoleDestination(os.Stderr))
		case "store":
			if l.StorePath == "" {
				dests = append(dests, logagg.NewStoreDestination(store.NewMemoryStore(0)))
				continue
			}
			st, err := store.NewSQLiteStore(l.StorePath, 0)
			if err != nil {
				return nil, err
			}
			dests = append(dests, logagg.NewStoreDestination(st))
		case "remote":
			if l.RemoteEndpoint == "" {
				continue
			}
			remoteOpts := []logagg.RemoteOption{logagg.WithBatchSize(l.RemoteBatchSize)}
			if l.RemoteToken != "" {
				remoteOpts = append(remoteOpts, logagg.WithBearerToken(l.RemoteToken))
			}
			dests = append(dests, logagg.NewRemoteDestination(l.RemoteEndpoint, remoteOpts...))
		}
	}
	return dests, nil
}
