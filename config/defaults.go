package config

import "time"

// DefaultConfig returns the full default configuration. It validates as-is:
// an in-memory shared tier, estimation-based token counting and no external
// services.
func DefaultConfig() *Config {
	return &Config{
		Cache:       DefaultCacheConfig(),
		Shared:      DefaultSharedConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		Eligibility: DefaultEligibilityConfig(),
		Context:     DefaultContextConfig(),
		Budget:      DefaultBudgetConfig(),
		Tokenizer:   DefaultTokenizerConfig(),
		Log:         DefaultLogConfig(),
		Metrics:     DefaultMetricsConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultCacheConfig returns the default session tier configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Capacity: 1000,
		TTL:      5 * time.Minute,
	}
}

// DefaultSharedConfig returns the default shared tier configuration.
func DefaultSharedConfig() SharedConfig {
	return SharedConfig{
		Backend:   BackendMemory,
		TTL:       time.Hour,
		Timeout:   250 * time.Millisecond,
		KeyPrefix: "cacheflow:shared:",
	}
}

// DefaultRedisConfig returns the default redis backend configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// DefaultDatabaseConfig returns the default relational backend configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:        "sqlite",
		DSN:           "cacheflow.db",
		PurgeInterval: 10 * time.Minute,
	}
}

// DefaultEligibilityConfig returns the default eligibility rules.
func DefaultEligibilityConfig() EligibilityConfig {
	return EligibilityConfig{
		Enabled:           true,
		MinResponseLength: 50,
	}
}

// DefaultContextConfig returns the default context optimization settings.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		RecencyWindow: 10,
	}
}

// DefaultBudgetConfig returns the default token budget.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		Total: 8000,
	}
}

// DefaultTokenizerConfig returns the default tokenizer selection.
func DefaultTokenizerConfig() TokenizerConfig {
	return TokenizerConfig{
		Name: "estimator",
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "cacheflow",
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "cacheflow",
		SampleRate:   0.1,
	}
}
