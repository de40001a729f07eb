package config

import "time"

// RetryOptions is the retry coordinator option bag.
type RetryOptions struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterType        string
	JitterAmount      float64
	Timeout           time.Duration
}

// RetrySection extracts the "retry" section with documented defaults:
// maxAttempts=3, initialDelay=1s, maxDelay=30s, backoffMultiplier=2,
// jitterType=equal, jitterAmount=0.1, timeout=60s.
func (c Config) RetrySection() RetryOptions {
	s := c.Sub("retry")
	return RetryOptions{
		MaxAttempts:       s.Int("max_attempts", 3),
		InitialDelay:      s.Duration("initial_delay", time.Second),
		MaxDelay:          s.Duration("max_delay", 30*time.Second),
		BackoffMultiplier: s.Float("backoff_multiplier", 2),
		JitterType:        s.String("jitter_type", "equal"),
		JitterAmount:      s.Float("jitter_amount", 0.1),
		Timeout:           s.Duration("timeout", 60*time.Second),
	}
}

// FallbackOptions is the fallback chain option bag.
type FallbackOptions struct {
	CacheMaxAge      time.Duration
	Timeout          time.Duration
	EnableCache      bool
	EnableSimplified bool
	EnableOffline    bool
	EnableEmpty      bool
}

// FallbackSection extracts the "fallback" section with documented
// defaults: cacheMaxAge=5m, fallbackTimeout=10s, all strategies
// enabled.
func (c Config) FallbackSection() FallbackOptions {
	s := c.Sub("fallback")
	return FallbackOptions{
		CacheMaxAge:      s.Duration("cache_max_age", 5*time.Minute),
		Timeout:          s.Duration("fallback_timeout", 10*time.Second),
		EnableCache:      s.Bool("enable_cached_results", true),
		EnableSimplified: s.Bool("enable_simplified_mode", true),
		EnableOffline:    s.Bool("enable_offline_mode", true),
		EnableEmpty:      s.Bool("enable_empty_results", true),
	}
}

// RecoveryOptions is the orchestrator option bag.
type RecoveryOptions struct {
	MaxConcurrentExecutions int
	DefaultTimeout          time.Duration
	ExecutionHistorySize    int
	CooldownPeriod          time.Duration
}

// RecoverySection extracts the "recovery" section with documented
// defaults: maxConcurrentExecutions=5, defaultTimeout=300s,
// executionHistorySize=1000, cooldownPeriod=60s.
func (c Config) RecoverySection() RecoveryOptions {
	s := c.Sub("recovery")
	return RecoveryOptions{
		MaxConcurrentExecutions: s.Int("max_concurrent_executions", 5),
		DefaultTimeout:          s.Duration("default_timeout", 300*time.Second),
		ExecutionHistorySize:    s.Int("execution_history_size", 1000),
		CooldownPeriod:          s.Duration("cooldown_period", 60*time.Second),
	}
}

// LoggingOptions is the log aggregator option bag.
type LoggingOptions struct {
	ReportingLevel    string
	AggregationWindow time.Duration
	MaxDuplicates     int
	FlushThreshold    int
	FlushInterval     time.Duration
	BufferSize        int
	IncludeUserData   bool
	Tags              []string
	Destinations      []string
	RemoteEndpoint    string
	RemoteToken       string
	RemoteBatchSize   int
	StorePath         string
}

// LoggingSection extracts the "logging" section with documented
// defaults: reportingLevel=error, aggregationWindow=5m,
// maxDuplicates=10, console destination only.
func (c Config) LoggingSection() LoggingOptions {
	s := c.Sub("logging")
	return LoggingOptions{
		ReportingLevel:    s.String("reporting_level", "error"),
		AggregationWindow: s.Duration("aggregation_window", 5*time.Minute),
		MaxDuplicates:     s.Int("max_duplicates", 10),
		FlushThreshold:    s.Int("flush_threshold", 50),
		FlushInterval:     s.Duration("flush_interval", 30*time.Second),
		BufferSize:        s.Int("buffer_size", 500),
		IncludeUserData:   s.Bool("include_user_data", false),
		Tags:              s.StringSlice("tags", nil),
		Destinations:      s.StringSlice("destinations", []string{"console"}),
		RemoteEndpoint:    s.String("remote_endpoint", ""),
		RemoteToken:       s.String("remote_token", ""),
		RemoteBatchSize:   s.Int("remote_batch_size", 25),
		StorePath:         s.String("store_path", ""),
	}
}
