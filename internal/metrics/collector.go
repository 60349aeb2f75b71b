package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultNamespace prefixes every metric this package registers.
const DefaultNamespace = "cacheflow"

// Collector registers and records the pipeline's Prometheus metrics. A nil
// *Collector is valid and records nothing, so callers hold one pointer and
// never branch on whether metrics are enabled.
type Collector struct {
	// Cache metrics.
	cacheHits    *prometheus.CounterVec
	cacheMisses  prometheus.Counter
	cacheLatency *prometheus.HistogramVec
	tokensSaved  prometheus.Counter
	evictions    *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec

	// Context optimization metrics.
	tokensTrimmed    *prometheus.CounterVec
	budgetUnachieved prometheus.Counter
	optimizeDuration prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a collector registered on the default Prometheus
// registry. Creating two collectors with the same namespace in one process
// panics on duplicate registration; share one instead.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith registers on reg instead of the default registry.
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Cache metrics.
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of prompt cache hits",
		},
		[]string{"tier"},
	)

	c.cacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of prompt cache misses",
		},
	)

	c.cacheLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_lookup_duration_seconds",
			Help:      "Cache lookup duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"outcome"},
	)

	c.tokensSaved = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_saved_total",
			Help:      "Total completion tokens served from cache instead of the model",
		},
	)

	c.evictions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache entries evicted",
		},
		[]string{"tier"},
	)

	c.storeErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of cache backend failures",
		},
		[]string{"operation"},
	)

	// Context optimization metrics.
	c.tokensTrimmed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_trimmed_total",
			Help:      "Total tokens removed by context budget trimming",
		},
		[]string{"component"},
	)

	c.budgetUnachieved = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_unachievable_total",
			Help:      "Times the token budget could not be met within trim limits",
		},
	)

	c.optimizeDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimize_duration_seconds",
			Help:      "Context optimization pass duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordCacheHit records a hit on the given tier.
func (c *Collector) RecordCacheHit(tier string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a lookup that reached the model.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// ObserveCacheLatency records how long a lookup took, labeled hit or miss.
func (c *Collector) ObserveCacheLatency(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.cacheLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddTokensSaved adds completion tokens a cache hit avoided generating.
func (c *Collector) AddTokensSaved(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.tokensSaved.Add(float64(n))
}

// RecordEviction records a cache entry eviction on the given tier.
func (c *Collector) RecordEviction(tier string) {
	if c == nil {
		return
	}
	c.evictions.WithLabelValues(tier).Inc()
}

// RecordStoreError records a backend failure for the given operation.
func (c *Collector) RecordStoreError(op string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(op).Inc()
}

// AddTokensTrimmed adds tokens removed from one context component.
func (c *Collector) AddTokensTrimmed(component string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.tokensTrimmed.WithLabelValues(component).Add(float64(n))
}

// RecordBudgetUnachievable records a trim pass that ended above budget.
func (c *Collector) RecordBudgetUnachievable() {
	if c == nil {
		return
	}
	c.budgetUnachieved.Inc()
}

// ObserveOptimizeDuration records one context optimization pass.
func (c *Collector) ObserveOptimizeDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.optimizeDuration.Observe(d.Seconds())
}
