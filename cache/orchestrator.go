package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lumenfold/cacheflow/tokenizer"
	"github.com/lumenfold/cacheflow/types"
)

// ModelFunc is the downstream model call the cache sits in front of.
type ModelFunc func(ctx context.Context, req *types.Request) (*types.Response, error)

// Lookup pairs a Before call with its After call. It carries everything
// needed to finish the turn, so an abandoned lookup (client gone, turn
// cancelled) costs nothing and corrupts nothing: it is simply never passed
// to After.
type Lookup struct {
	// ID identifies the lookup in logs and traces.
	ID uuid.UUID
	// Key is the cache key, empty when the request could not be keyed.
	Key string
	// Hit reports whether Response was served from cache.
	Hit bool
	// Response is the cached response on a hit, nil otherwise.
	Response *types.Response

	start  time.Time
	tier   string
	bypass bool
}

// Orchestrator coordinates the cache around a model call: a lookup before,
// a store decision after. Every internal failure degrades to a miss or a
// no-op; nothing here can fail a conversational turn.
type Orchestrator struct {
	tiers     *TieredCache
	filter    *EligibilityFilter
	keys      *KeyBuilder
	telemetry *Telemetry
	counter   tokenizer.Tokenizer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewOrchestrator wires the cache components together. tiers may be nil to
// disable caching entirely; filter, telemetry and logger fall back to
// defaults when nil; counter is used to size responses whose usage data is
// missing and may be nil.
func NewOrchestrator(tiers *TieredCache, filter *EligibilityFilter, tel *Telemetry, counter tokenizer.Tokenizer, logger *zap.Logger) *Orchestrator {
	if filter == nil {
		filter = NewEligibilityFilter(DefaultEligibilityConfig())
	}
	if tel == nil {
		tel = NewTelemetry(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		tiers:     tiers,
		filter:    filter,
		keys:      NewKeyBuilder(),
		telemetry: tel,
		counter:   counter,
		logger:    logger.With(zap.String("component", "cache_orchestrator")),
		tracer:    otel.Tracer("cacheflow/cache"),
	}
	if tiers != nil && tiers.session != nil {
		tiers.session.OnEvict(func(string) {
			tel.RecordEviction(TierSession)
		})
	}
	return o
}

// Before looks up the request. It never fails: a disabled cache, an
// ineligible or unkeyable request all turn into a bypass, a broken backend
// turns into a miss, and the returned Lookup says what happened. Pass the
// Lookup to After once the turn has a response.
func (o *Orchestrator) Before(ctx context.Context, req *types.Request) *Lookup {
	lk := &Lookup{
		ID:    uuid.New(),
		start: time.Now(),
	}

	ctx, span := o.tracer.Start(ctx, "cacheflow.lookup")
	defer span.End()

	if o.tiers == nil {
		lk.bypass = true
		return lk
	}

	if !o.filter.CacheableRequest(req) {
		o.logger.Debug("request not cacheable, bypassing cache",
			zap.String("lookup_id", lk.ID.String()))
		lk.bypass = true
		return lk
	}

	key, err := o.keys.Build(req)
	if err != nil {
		o.logger.Debug("request not keyable, bypassing cache",
			zap.String("lookup_id", lk.ID.String()), zap.Error(err))
		lk.bypass = true
		return lk
	}
	lk.Key = key
	span.SetAttributes(attribute.String("cache.key", key))

	entry, tier, err := o.tiers.Get(ctx, key)
	switch {
	case err == nil:
		lk.Hit = true
		lk.Response = entry.Response
		lk.tier = tier
		o.telemetry.RecordHit(key, tier, time.Since(lk.start), entry.SizeTokens)
		o.logger.Debug("cache hit",
			zap.String("lookup_id", lk.ID.String()),
			zap.String("key", key),
			zap.String("tier", tier),
			zap.Int("tokens_saved", entry.SizeTokens))
	case errors.Is(err, ErrCacheMiss):
		// Plain miss, nothing to note.
	default:
		o.telemetry.RecordStoreError("get")
		o.logger.Warn("cache lookup degraded to miss",
			zap.String("lookup_id", lk.ID.String()),
			zap.String("key", key),
			zap.Error(err))
	}
	span.SetAttributes(
		attribute.Bool("cache.hit", lk.Hit),
		attribute.String("cache.tier", lk.tier),
	)
	return lk
}

// After completes the lookup with the turn's response. A bypassed lookup is
// a no-op; a hit was already accounted for in Before. For a miss it records
// the full turnaround latency and, when the response passes the storage
// policy, stores the entry. The request was vetted in Before, so only the
// response side is checked here. Safe to call with a nil lookup or a nil
// response, and storage failures are logged, counted and swallowed.
func (o *Orchestrator) After(ctx context.Context, lk *Lookup, req *types.Request, resp *types.Response) {
	if lk == nil || lk.Hit || lk.bypass {
		return
	}

	o.telemetry.RecordMiss(time.Since(lk.start))

	if o.tiers == nil || resp == nil {
		return
	}
	if !o.filter.CacheableResponse(resp) {
		o.logger.Debug("response not eligible for caching",
			zap.String("lookup_id", lk.ID.String()),
			zap.String("key", lk.Key))
		return
	}

	ctx, span := o.tracer.Start(ctx, "cacheflow.store")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", lk.Key))

	entry := &Entry{
		Key:        lk.Key,
		Response:   resp,
		CreatedAt:  time.Now(),
		SizeTokens: o.sizeTokens(resp),
	}
	if err := o.tiers.Put(ctx, lk.Key, entry); err != nil {
		o.telemetry.RecordStoreError("set")
		o.logger.Warn("cache store failed",
			zap.String("lookup_id", lk.ID.String()),
			zap.String("key", lk.Key),
			zap.Error(err))
		return
	}
	o.telemetry.RecordStore()
	o.logger.Debug("response cached",
		zap.String("lookup_id", lk.ID.String()),
		zap.String("key", lk.Key),
		zap.Int("size_tokens", entry.SizeTokens))
}

// Execute runs the full cached-call flow: lookup, model call on a miss,
// store decision. Model errors pass through unchanged with nothing stored.
func (o *Orchestrator) Execute(ctx context.Context, req *types.Request, fn ModelFunc) (*types.Response, error) {
	lk := o.Before(ctx, req)
	if lk.Hit {
		return lk.Response, nil
	}

	resp, err := fn(ctx, req)
	if err != nil {
		o.After(ctx, lk, req, nil)
		return nil, err
	}
	o.After(ctx, lk, req, resp)
	return resp, nil
}

// Invalidate removes the cached response for a request from all tiers.
func (o *Orchestrator) Invalidate(ctx context.Context, req *types.Request) error {
	if o.tiers == nil {
		return nil
	}
	key, err := o.keys.Build(req)
	if err != nil {
		return err
	}
	return o.tiers.Delete(ctx, key)
}

// Telemetry exposes the accumulator for snapshots.
func (o *Orchestrator) Telemetry() *Telemetry {
	return o.telemetry
}

// sizeTokens estimates how many generation tokens a cached response avoids.
// Provider-reported usage wins; otherwise the response text is counted with
// the configured tokenizer or estimated.
func (o *Orchestrator) sizeTokens(resp *types.Response) int {
	if resp.Usage.CompletionTokens > 0 {
		return resp.Usage.CompletionTokens
	}
	return tokenizer.CountValue(o.counter, resp.Text)
}
