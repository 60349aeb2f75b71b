package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

// nextTestNamespace keeps concurrently created collectors from colliding on
// the default registry.
func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("cacheflow_test_%d", seq)
}

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	c := NewCollectorWith(registry, nextTestNamespace(), zap.NewNop())
	require.NotNil(t, c)
	return c, registry
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.cacheHits)
	assert.NotNil(t, collector.cacheMisses)
	assert.NotNil(t, collector.cacheLatency)
	assert.NotNil(t, collector.tokensSaved)
	assert.NotNil(t, collector.evictions)
	assert.NotNil(t, collector.storeErrors)
	assert.NotNil(t, collector.tokensTrimmed)
	assert.NotNil(t, collector.budgetUnachieved)
	assert.NotNil(t, collector.optimizeDuration)
}

func TestCollector_CacheMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordCacheHit("session")
	collector.RecordCacheHit("session")
	collector.RecordCacheHit("shared")
	collector.RecordCacheMiss()
	collector.ObserveCacheLatency("hit", 2*time.Millisecond)
	collector.ObserveCacheLatency("miss", 800*time.Millisecond)
	collector.AddTokensSaved(120)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.cacheHits.WithLabelValues("session")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.cacheHits.WithLabelValues("shared")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.cacheMisses))
	assert.Equal(t, float64(120), testutil.ToFloat64(collector.tokensSaved))
	assert.Greater(t, testutil.CollectAndCount(collector.cacheLatency), 0)
}

func TestCollector_StoreAndEvictionMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordEviction("session")
	collector.RecordStoreError("get")
	collector.RecordStoreError("set")
	collector.RecordStoreError("set")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.evictions.WithLabelValues("session")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.storeErrors.WithLabelValues("get")))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.storeErrors.WithLabelValues("set")))
}

func TestCollector_OptimizationMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.AddTokensTrimmed("relevant_memories", 300)
	collector.AddTokensTrimmed("recent_conversation", 150)
	collector.RecordBudgetUnachievable()
	collector.ObserveOptimizeDuration(5 * time.Millisecond)

	assert.Equal(t, float64(300), testutil.ToFloat64(collector.tokensTrimmed.WithLabelValues("relevant_memories")))
	assert.Equal(t, float64(150), testutil.ToFloat64(collector.tokensTrimmed.WithLabelValues("recent_conversation")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.budgetUnachieved))
	assert.Greater(t, testutil.CollectAndCount(collector.optimizeDuration), 0)
}

func TestCollector_NonPositiveAdds(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.AddTokensSaved(0)
	collector.AddTokensSaved(-5)
	collector.AddTokensTrimmed("current_query", 0)

	assert.Equal(t, float64(0), testutil.ToFloat64(collector.tokensSaved))
	assert.Equal(t, 0, testutil.CollectAndCount(collector.tokensTrimmed))
}

func TestCollector_NilReceiver(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordCacheHit("session")
		collector.RecordCacheMiss()
		collector.ObserveCacheLatency("hit", time.Millisecond)
		collector.AddTokensSaved(10)
		collector.RecordEviction("shared")
		collector.RecordStoreError("get")
		collector.AddTokensTrimmed("relevant_memories", 10)
		collector.RecordBudgetUnachievable()
		collector.ObserveOptimizeDuration(time.Millisecond)
	})
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				collector.RecordCacheHit("session")
				collector.RecordCacheMiss()
				collector.AddTokensSaved(3)
				collector.ObserveCacheLatency("hit", time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(500), testutil.ToFloat64(collector.cacheHits.WithLabelValues("session")))
	assert.Equal(t, float64(500), testutil.ToFloat64(collector.cacheMisses))
	assert.Equal(t, float64(1500), testutil.ToFloat64(collector.tokensSaved))
}

func TestCollector_CustomRegistry(t *testing.T) {
	collector, registry := newTestCollector(t)

	collector.RecordCacheHit("session")
	collector.RecordCacheMiss()

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
