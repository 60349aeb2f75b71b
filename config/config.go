package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the complete cacheflow configuration.
type Config struct {
	// Cache is the per-session cache tier.
	Cache CacheConfig `yaml:"cache" json:"cache" env:"CACHE"`

	// Shared is the cross-session cache tier.
	Shared SharedConfig `yaml:"shared" json:"shared" env:"SHARED"`

	// Redis configures the redis shared backend.
	Redis RedisConfig `yaml:"redis" json:"redis" env:"REDIS"`

	// Database configures the relational shared backend.
	Database DatabaseConfig `yaml:"database" json:"database" env:"DATABASE"`

	// Eligibility decides which responses may be cached.
	Eligibility EligibilityConfig `yaml:"eligibility" json:"eligibility" env:"ELIGIBILITY"`

	// Context tunes conversation-history optimization.
	Context ContextConfig `yaml:"context" json:"context" env:"CONTEXT"`

	// Budget is the per-turn token ceiling.
	Budget BudgetConfig `yaml:"budget" json:"budget" env:"BUDGET"`

	// Tokenizer selects how tokens are counted.
	Tokenizer TokenizerConfig `yaml:"tokenizer" json:"tokenizer" env:"TOKENIZER"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" json:"log" env:"LOG"`

	// Metrics configures Prometheus collection.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" env:"METRICS"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`
}

// CacheConfig configures the in-process session cache tier.
type CacheConfig struct {
	// Capacity is the per-session entry limit.
	Capacity int `yaml:"capacity" json:"capacity" env:"CAPACITY"`
	// TTL is the default entry lifetime. Zero means entries never expire.
	TTL time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
}

// Shared backend names.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDatabase = "database"
)

// SharedConfig configures the cross-session cache tier.
type SharedConfig struct {
	// Backend selects the store: none, memory, redis or database.
	Backend string `yaml:"backend" json:"backend" env:"BACKEND"`
	// TTL is the default entry lifetime. Zero means entries never expire.
	TTL time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
	// Timeout bounds each shared-store operation.
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// KeyPrefix namespaces the backend keys.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig configures the redis shared backend.
type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr" env:"ADDR"`
	Password     string        `yaml:"password" json:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" json:"db" env:"DB"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// DatabaseConfig configures the relational shared backend.
type DatabaseConfig struct {
	// Driver selects the dialect: postgres, mysql or sqlite.
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" json:"dsn" env:"DSN"`
	// PurgeInterval is how often expired rows are swept.
	PurgeInterval time.Duration `yaml:"purge_interval" json:"purge_interval" env:"PURGE_INTERVAL"`
}

// EligibilityConfig decides which turns may be cached.
type EligibilityConfig struct {
	// Enabled turns caching off globally when false.
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// MinResponseLength is the minimum response size worth caching, in runes.
	MinResponseLength int `yaml:"min_response_length" json:"min_response_length" env:"MIN_RESPONSE_LENGTH"`
	// TimeSensitiveMarkers override the built-in marker list when non-nil.
	TimeSensitiveMarkers []string `yaml:"time_sensitive_markers" json:"time_sensitive_markers" env:"TIME_SENSITIVE_MARKERS"`
}

// ContextConfig tunes conversation-history optimization.
type ContextConfig struct {
	// RecencyWindow is how many recent turns stay verbatim.
	RecencyWindow int `yaml:"recency_window" json:"recency_window" env:"RECENCY_WINDOW"`
}

// BudgetConfig is the per-turn token ceiling.
type BudgetConfig struct {
	// Total is the hard target for the whole assembled context.
	Total int `yaml:"total" json:"total" env:"TOTAL"`
	// PerComponent optionally caps individual components.
	PerComponent map[string]int `yaml:"per_component" json:"per_component" env:"-"`
}

// TokenizerConfig selects how tokens are counted.
type TokenizerConfig struct {
	// Name is a tiktoken encoding or model name, or "estimator" for the
	// offline character-ratio estimator.
	Name string `yaml:"name" json:"name" env:"NAME"`
	// CharsPerToken overrides the estimator's non-CJK ratio when positive.
	CharsPerToken float64 `yaml:"chars_per_token" json:"chars_per_token" env:"CHARS_PER_TOKEN"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" json:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs.
	OutputPaths []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with file and line.
	EnableCaller bool `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stacktraces at error level.
	EnableStacktrace bool `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig configures Prometheus collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" json:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// ValidationError reports one config field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks the configuration and reports every problem at once.
// A default config always validates.
func (c *Config) Validate() error {
	var errs []error

	if c.Cache.Capacity <= 0 {
		errs = append(errs, invalid("cache.capacity", "must be positive"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, invalid("cache.ttl", "must not be negative"))
	}

	switch c.Shared.Backend {
	case BackendNone, BackendMemory, BackendRedis, BackendDatabase:
	default:
		errs = append(errs, invalid("shared.backend",
			fmt.Sprintf("unknown backend %q", c.Shared.Backend)))
	}
	if c.Shared.TTL < 0 {
		errs = append(errs, invalid("shared.ttl", "must not be negative"))
	}
	if c.Shared.Timeout < 0 {
		errs = append(errs, invalid("shared.timeout", "must not be negative"))
	}

	if c.Eligibility.MinResponseLength < 0 {
		errs = append(errs, invalid("eligibility.min_response_length", "must not be negative"))
	}

	if c.Context.RecencyWindow < 0 {
		errs = append(errs, invalid("context.recency_window", "must not be negative"))
	}

	if c.Budget.Total <= 0 {
		errs = append(errs, invalid("budget.total", "must be positive"))
	}
	for name, limit := range c.Budget.PerComponent {
		if limit < 0 {
			errs = append(errs, invalid("budget.per_component."+name, "must not be negative"))
		}
	}

	if c.Tokenizer.CharsPerToken < 0 {
		errs = append(errs, invalid("tokenizer.chars_per_token", "must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, invalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level)))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, invalid("log.format", fmt.Sprintf("unknown format %q", c.Log.Format)))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, invalid("telemetry.sample_rate", "must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

// Build constructs a zap logger from the log configuration.
func (c LogConfig) Build() (*zap.Logger, error) {
	var level zapcore.Level
	switch c.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if c.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := c.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	opts := make([]zap.Option, 0, 2)
	if c.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if c.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
