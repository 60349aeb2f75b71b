package contextopt

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lumenfold/cacheflow/internal/metrics"
	"github.com/lumenfold/cacheflow/tokenizer"
	"github.com/lumenfold/cacheflow/types"
)

// ProcessorConfig tunes the optimization pipeline.
type ProcessorConfig struct {
	// RecencyWindow is how many recent turns stay verbatim; older turns
	// are summarized. Zero or negative disables summarization.
	RecencyWindow int `json:"recency_window" yaml:"recency_window"`
	// Budget is the per-turn token ceiling enforced as the final stage.
	Budget Budget `json:"budget" yaml:"budget"`
}

// DefaultProcessorConfig keeps the last 10 turns verbatim under an 8000
// token ceiling.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		RecencyWindow: 10,
		Budget:        Budget{Total: 8000},
	}
}

// Processor is the single entry point run before every model call. Optimize
// pipelines three stages, each producing a new bundle: strip nested
// transcripts, summarize turns older than the recency window, then trim to
// the token budget. The pipeline is a pure transform aside from logging and
// metrics, and it never fails: a failing summarizer degrades to the keyword
// fallback and the budget stage is best-effort by contract.
type Processor struct {
	cfg        ProcessorConfig
	budget     *BudgetManager
	summarizer Summarizer
	fallback   *KeywordSummarizer
	collector  *metrics.Collector
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewProcessor creates a processor. counter may be nil (estimation),
// summarizer may be nil (keyword fallback only), collector and logger may
// be nil.
func NewProcessor(cfg ProcessorConfig, counter tokenizer.Tokenizer, summarizer Summarizer, collector *metrics.Collector, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cfg:        cfg,
		budget:     NewBudgetManager(counter, collector, logger),
		summarizer: summarizer,
		fallback:   NewKeywordSummarizer(),
		collector:  collector,
		logger:     logger.With(zap.String("component", "context_processor")),
		tracer:     otel.Tracer("cacheflow/contextopt"),
	}
}

// Budget exposes the processor's budget manager.
func (p *Processor) Budget() *BudgetManager {
	return p.budget
}

// Optimize runs the full pipeline on b and returns the optimized bundle.
// The input is never modified.
func (p *Processor) Optimize(ctx context.Context, b *Bundle) *Bundle {
	if b == nil {
		return nil
	}
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "cacheflow.optimize")
	defer span.End()

	before := p.budget.TotalTokens(b)

	out := p.dedupe(b)
	out = p.summarizeOld(ctx, out)
	out = p.budget.Allocate(out, p.cfg.Budget)

	after := p.budget.TotalTokens(out)
	p.collector.ObserveOptimizeDuration(time.Since(start))
	span.SetAttributes(
		attribute.Int("context.tokens_before", before),
		attribute.Int("context.tokens_after", after),
	)
	p.logger.Debug("context optimized",
		zap.Int("tokens_before", before),
		zap.Int("tokens_after", after),
		zap.Int("turns", len(out.RecentTurns)),
		zap.Int("memories", len(out.Memories)))
	return out
}

// dedupe strips nested transcripts from the query and the historical turns.
// Summary turns are generated text and skipped.
func (p *Processor) dedupe(b *Bundle) *Bundle {
	out := b.Clone()
	out.CurrentQuery = StripNestedTranscript(out.CurrentQuery)
	for i, turn := range out.RecentTurns {
		if IsSummaryTurn(turn) {
			continue
		}
		out.RecentTurns[i].Content = StripNestedTranscript(turn.Content)
	}
	return out
}

// summarizeOld collapses turns older than the recency window into a single
// marked summary turn. A bundle whose history is already condensed is a
// fixed point: re-running the stage changes nothing.
func (p *Processor) summarizeOld(ctx context.Context, b *Bundle) *Bundle {
	window := p.cfg.RecencyWindow
	if window <= 0 || len(b.RecentTurns) <= window {
		return b
	}

	cut := len(b.RecentTurns) - window
	older := b.RecentTurns[:cut]
	if cut == 1 && IsSummaryTurn(older[0]) {
		return b
	}

	summary := p.summarize(ctx, older)
	out := b.Clone()
	out.RecentTurns = append([]types.Message{NewSummaryTurn(summary)}, b.RecentTurns[cut:]...)

	p.logger.Debug("summarized older turns",
		zap.Int("condensed", cut),
		zap.Int("kept", window))
	return out
}

// summarize runs the configured summarizer, falling back to keywords when it
// is missing or fails. The fallback cannot fail.
func (p *Processor) summarize(ctx context.Context, turns []types.Message) string {
	if p.summarizer != nil {
		text, err := p.summarizer.Summarize(ctx, turns)
		if err == nil {
			return text
		}
		p.logger.Warn("summarizer failed, using keyword fallback", zap.Error(err))
	}
	text, _ := p.fallback.Summarize(ctx, turns)
	return text
}
