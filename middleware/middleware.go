// Package middleware composes cross-cutting behavior around model calls.
// A Handler has the same shape as cache.ModelFunc, so a finished chain can
// be handed to an orchestrator and an orchestrated call can sit inside a
// chain.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lumenfold/cacheflow/cache"
	"github.com/lumenfold/cacheflow/types"
)

// Handler processes a request and returns a response.
type Handler func(ctx context.Context, req *types.Request) (*types.Response, error)

// Middleware wraps a handler with additional functionality.
type Middleware func(next Handler) Handler

// Chain holds an ordered middleware list. The first middleware added is the
// outermost wrapper.
type Chain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewChain creates a chain from the given middleware.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use appends middleware to the chain.
func (c *Chain) Use(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
	return c
}

// Then wraps h with every middleware in the chain.
func (c *Chain) Then(h Handler) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Len returns the number of middleware in the chain.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middlewares)
}

// Cache serves requests from orch before they reach the handler and stores
// eligible responses after. A nil orchestrator leaves the chain unchanged.
func Cache(orch *cache.Orchestrator) Middleware {
	return func(next Handler) Handler {
		if orch == nil {
			return next
		}
		return func(ctx context.Context, req *types.Request) (*types.Response, error) {
			return orch.Execute(ctx, req, cache.ModelFunc(next))
		}
	}
}

// Logging logs each request and its outcome.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "middleware"))
	return func(next Handler) Handler {
		return func(ctx context.Context, req *types.Request) (*types.Response, error) {
			start := time.Now()
			logger.Debug("model request",
				zap.String("model", req.Model),
				zap.Int("messages", len(req.Messages)))

			resp, err := next(ctx, req)

			duration := time.Since(start)
			if err != nil {
				logger.Warn("model request failed",
					zap.String("model", req.Model),
					zap.Duration("duration", duration),
					zap.Error(err))
				return resp, err
			}
			logger.Debug("model response",
				zap.String("model", req.Model),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
				zap.Duration("duration", duration))
			return resp, nil
		}
	}
}

// Timeout bounds each call. Non-positive timeouts leave the chain unchanged.
func Timeout(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, req *types.Request) (*types.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// RateLimit blocks until limiter grants the call or ctx is done. A nil
// limiter leaves the chain unchanged.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(next Handler) Handler {
		if limiter == nil {
			return next
		}
		return func(ctx context.Context, req *types.Request) (*types.Response, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
			return next(ctx, req)
		}
	}
}

// Recovery converts a panicking handler into a PanicError.
func Recovery(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *types.Request) (resp *types.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						zap.String("model", req.Model),
						zap.Any("panic", r))
					resp = nil
					err = &PanicError{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}

// PanicError reports a panic recovered from a handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// MetricsCollector receives per-call measurements from Metrics.
type MetricsCollector interface {
	RecordRequest(model string, duration time.Duration, success bool)
	RecordTokens(model string, tokens int)
}

// Metrics reports each call's duration, outcome and token usage.
func Metrics(collector MetricsCollector) Middleware {
	return func(next Handler) Handler {
		if collector == nil {
			return next
		}
		return func(ctx context.Context, req *types.Request) (*types.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			collector.RecordRequest(req.Model, duration, err == nil)
			if resp != nil {
				collector.RecordTokens(req.Model, resp.Usage.TotalTokens)
			}
			return resp, err
		}
	}
}
