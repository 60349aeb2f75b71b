// Package cacheflow assembles the full pipeline with minimal boilerplate:
// config, tokenizer, eligibility policy, shared store, session registry and
// context processor, wired the way the individual packages expect.
//
// Usage:
//
//	p, err := cacheflow.New()
//	p, err := cacheflow.New(cacheflow.WithConfig(cfg), cacheflow.WithLogger(logger))
//
//	s := p.Session()
//	defer s.Close()
//
//	bundle = s.Optimize(ctx, bundle)
//	resp, err := s.Execute(ctx, req, callModel)
//
// Fine-grained control is always available by importing the subpackages
// directly; the facade only wires defaults, it hides nothing.
package cacheflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lumenfold/cacheflow/cache"
	"github.com/lumenfold/cacheflow/config"
	"github.com/lumenfold/cacheflow/contextopt"
	"github.com/lumenfold/cacheflow/internal/metrics"
	"github.com/lumenfold/cacheflow/internal/telemetry"
	"github.com/lumenfold/cacheflow/store"
	"github.com/lumenfold/cacheflow/tokenizer"
	"github.com/lumenfold/cacheflow/types"
)

// Option configures the pipeline created by New.
type Option func(*options)

type options struct {
	cfg        *config.Config
	logger     *zap.Logger
	summarizer contextopt.Summarizer
	store      store.Store
	collector  *metrics.Collector
	tracer     trace.Tracer
}

// WithConfig sets the full configuration. Defaults to config.DefaultConfig().
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger. Without it the logger is built from
// the config's log section.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSummarizer sets the summarizer used for turns beyond the recency
// window, typically model-backed. Defaults to the keyword extractor.
func WithSummarizer(s contextopt.Summarizer) Option {
	return func(o *options) { o.summarizer = s }
}

// WithStore sets a pre-built shared-tier store, overriding the backend
// selected by the config. The caller keeps ownership: Close will not close
// a store provided this way.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithCollector sets a pre-built Prometheus collector, useful when several
// pipelines in one process must not double-register metrics.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithTracer sets the tracer for per-turn spans. Defaults to the global
// tracer provider, which the config's telemetry section can point at an
// OTLP endpoint.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// Pipeline owns the wired components. Create sessions with Session; one
// pipeline serves any number of concurrent conversations.
type Pipeline struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	counter   tokenizer.Tokenizer
	processor *contextopt.Processor
	registry  *cache.SessionRegistry
	telemetry *cache.Telemetry
	tracer    trace.Tracer

	store     store.Store
	ownsStore bool
	providers *telemetry.Providers
}

// New wires a pipeline from the given options. Construction fails fast: an
// invalid config, an unreachable Redis backend or an unopenable database
// surface here, not on the first conversation turn.
func New(opts ...Option) (*Pipeline, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = cfg.Log.Build()
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	collector := o.collector
	if collector == nil && cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	counter := newCounter(cfg.Tokenizer)

	st := o.store
	ownsStore := false
	if st == nil {
		var err error
		st, err = openStore(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("open shared store: %w", err)
		}
		ownsStore = st != nil
	}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		if ownsStore {
			_ = st.Close()
		}
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var shared *cache.SharedCache
	if st != nil {
		shared = cache.NewSharedCache(st, cache.SharedCacheConfig{
			TTL:       cfg.Shared.TTL,
			Timeout:   cfg.Shared.Timeout,
			KeyPrefix: cfg.Shared.KeyPrefix,
		}, logger)
	}

	filter := cache.NewEligibilityFilter(cache.EligibilityConfig{
		Enabled:              cfg.Eligibility.Enabled,
		MinResponseLength:    cfg.Eligibility.MinResponseLength,
		TimeSensitiveMarkers: cfg.Eligibility.TimeSensitiveMarkers,
	})
	tel := cache.NewTelemetry(collector)

	registry := cache.NewSessionRegistry(cache.SessionConfig{
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.TTL,
	}, shared, filter, tel, counter, logger)

	processor := contextopt.NewProcessor(contextopt.ProcessorConfig{
		RecencyWindow: cfg.Context.RecencyWindow,
		Budget: contextopt.Budget{
			Total:        cfg.Budget.Total,
			PerComponent: cfg.Budget.PerComponent,
		},
	}, counter, o.summarizer, collector, logger)

	tracer := o.tracer
	if tracer == nil {
		tracer = otel.Tracer("cacheflow")
	}

	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		counter:   counter,
		processor: processor,
		registry:  registry,
		telemetry: tel,
		tracer:    tracer,
		store:     st,
		ownsStore: ownsStore,
		providers: providers,
	}, nil
}

// newCounter selects the token counter from config: the offline estimator by
// default, a tiktoken encoding when a model name is given.
func newCounter(cfg config.TokenizerConfig) tokenizer.Tokenizer {
	switch cfg.Name {
	case "", "estimator":
		est := tokenizer.NewEstimator()
		if cfg.CharsPerToken > 0 {
			est = est.WithCharsPerToken(cfg.CharsPerToken)
		}
		return est
	default:
		return tokenizer.ForModel(cfg.Name)
	}
}

// openStore opens the shared-tier backend named by the config. A "none"
// backend returns nil: sessions then cache privately with no shared tier.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Shared.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return store.NewMemoryStore(0, logger), nil
	case config.BackendRedis:
		return store.NewRedisStore(store.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxRetries:   cfg.Redis.MaxRetries,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
		}, logger)
	case config.BackendDatabase:
		return store.NewSQLStore(store.SQLConfig{
			Driver:        cfg.Database.Driver,
			DSN:           cfg.Database.DSN,
			PurgeInterval: cfg.Database.PurgeInterval,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown shared backend: %q", cfg.Shared.Backend)
	}
}

// Session opens a new conversation with a fresh private cache tier.
func (p *Pipeline) Session() *Session {
	return &Session{p: p, s: p.registry.Create()}
}

// Processor returns the context processor, for callers that optimize
// bundles outside a session.
func (p *Pipeline) Processor() *contextopt.Processor {
	return p.processor
}

// Registry returns the session registry.
func (p *Pipeline) Registry() *cache.SessionRegistry {
	return p.registry
}

// Snapshot returns the accumulated cache telemetry across all sessions.
func (p *Pipeline) Snapshot() cache.Report {
	return p.telemetry.Snapshot()
}

// Close releases every session, closes the shared store when the pipeline
// opened it, and flushes telemetry exporters.
func (p *Pipeline) Close() error {
	p.registry.CloseAll()

	var errs []error
	if p.ownsStore && p.store != nil {
		if err := p.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.providers.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}

// Session is one conversation's handle on the pipeline: context optimization
// plus a two-tier cache private to this conversation in front of the shared
// tier. Handles are safe for concurrent use but turns within one
// conversation are normally sequential.
type Session struct {
	p *Pipeline
	s *cache.Session
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID {
	return s.s.ID
}

// Optimize condenses and trims a context bundle for the next turn. The input
// is never modified.
func (s *Session) Optimize(ctx context.Context, b *contextopt.Bundle) *contextopt.Bundle {
	return s.p.processor.Optimize(ctx, b)
}

// Execute runs one turn through the cache: a hit returns the stored
// response, a miss calls fn and stores the result if it is eligible.
func (s *Session) Execute(ctx context.Context, req *types.Request, fn cache.ModelFunc) (*types.Response, error) {
	ctx, span := s.p.tracer.Start(ctx, "cacheflow.turn")
	defer span.End()
	if req != nil {
		span.SetAttributes(
			attribute.String("session.id", s.s.ID.String()),
			attribute.String("llm.model", req.Model),
		)
	}
	return s.s.Orchestrator().Execute(ctx, req, fn)
}

// Before checks the cache ahead of a model call the caller makes itself.
// Pair with After to store the outcome.
func (s *Session) Before(ctx context.Context, req *types.Request) *cache.Lookup {
	return s.s.Orchestrator().Before(ctx, req)
}

// After records the outcome of a turn started with Before.
func (s *Session) After(ctx context.Context, lk *cache.Lookup, req *types.Request, resp *types.Response) {
	s.s.Orchestrator().After(ctx, lk, req, resp)
}

// Orchestrator exposes the session's cache orchestrator, e.g. for
// middleware.Cache.
func (s *Session) Orchestrator() *cache.Orchestrator {
	return s.s.Orchestrator()
}

// Close drops the session's private tier. Entries it promoted to the shared
// tier remain visible to other sessions.
func (s *Session) Close() {
	s.p.registry.Close(s.s.ID)
}
