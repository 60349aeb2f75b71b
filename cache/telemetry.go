package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenfold/cacheflow/internal/metrics"
)

// NoData marks a ratio that cannot be computed yet, before any lookups for
// HitRate or before both outcomes have been observed for LatencyReduction.
// Callers must check for it instead of treating the value as a percentage.
const NoData = -1.0

// Cache tiers as reported in telemetry and metrics labels.
const (
	TierSession = "session"
	TierShared  = "shared"
)

const (
	// maxTrackedKeys bounds the per-key hit table so an unbounded key
	// stream cannot grow memory.
	maxTrackedKeys = 1024
	// topKeyCount is how many keys a Report ranks.
	topKeyCount = 10
)

// KeyCount pairs a cache key with its hit count.
type KeyCount struct {
	Key  string `json:"key"`
	Hits int64  `json:"hits"`
}

// Report is a point-in-time snapshot of cache effectiveness.
type Report struct {
	Uptime         time.Duration `json:"uptime"`
	Hits           int64         `json:"hits"`
	Misses         int64         `json:"misses"`
	HitRate        float64       `json:"hit_rate"`
	TokensSaved    int64         `json:"tokens_saved"`
	AvgHitLatency  time.Duration `json:"avg_hit_latency"`
	AvgMissLatency time.Duration `json:"avg_miss_latency"`
	// LatencyReduction is 1 minus the ratio of average hit latency to
	// average miss latency. It can go negative when hits are slower than
	// the model itself, which usually points at a struggling shared tier.
	LatencyReduction float64    `json:"latency_reduction"`
	Stores           int64      `json:"stores"`
	StoreErrors      int64      `json:"store_errors"`
	Evictions        int64      `json:"evictions"`
	TopKeys          []KeyCount `json:"top_keys"`
}

// Telemetry accumulates cache counters. The hot-path record methods are
// lock-free except for the per-key table, which takes a small mutex. All
// methods are safe for concurrent use.
type Telemetry struct {
	startedAt time.Time
	collector *metrics.Collector

	hits          atomic.Int64
	misses        atomic.Int64
	hitLatencyNS  atomic.Int64
	missLatencyNS atomic.Int64
	tokensSaved   atomic.Int64
	stores        atomic.Int64
	storeErrors   atomic.Int64
	evictions     atomic.Int64

	mu      sync.Mutex
	keyHits map[string]int64
}

// NewTelemetry creates a telemetry accumulator. collector may be nil when
// Prometheus mirroring is not wanted.
func NewTelemetry(collector *metrics.Collector) *Telemetry {
	return &Telemetry{
		startedAt: time.Now(),
		collector: collector,
		keyHits:   make(map[string]int64),
	}
}

// RecordHit records a cache hit served from tier, with the lookup latency and
// the number of generation tokens the hit avoided.
func (t *Telemetry) RecordHit(key, tier string, latency time.Duration, tokensSaved int) {
	t.hits.Add(1)
	t.hitLatencyNS.Add(int64(latency))
	t.tokensSaved.Add(int64(tokensSaved))
	t.trackKey(key)

	t.collector.RecordCacheHit(tier)
	t.collector.ObserveCacheLatency("hit", latency)
	t.collector.AddTokensSaved(tokensSaved)
}

// RecordMiss records a lookup that went to the model, with the full
// turnaround latency of the model call.
func (t *Telemetry) RecordMiss(latency time.Duration) {
	t.misses.Add(1)
	t.missLatencyNS.Add(int64(latency))

	t.collector.RecordCacheMiss()
	t.collector.ObserveCacheLatency("miss", latency)
}

// RecordStore records a successful cache write.
func (t *Telemetry) RecordStore() {
	t.stores.Add(1)
}

// RecordStoreError records a failed cache backend operation.
func (t *Telemetry) RecordStoreError(op string) {
	t.storeErrors.Add(1)
	t.collector.RecordStoreError(op)
}

// RecordEviction records a capacity eviction in tier.
func (t *Telemetry) RecordEviction(tier string) {
	t.evictions.Add(1)
	t.collector.RecordEviction(tier)
}

// trackKey bumps the hit count for key. At capacity, the coldest tracked key
// makes room, so long-tail keys rotate out while frequent ones persist.
func (t *Telemetry) trackKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.keyHits[key]; !ok && len(t.keyHits) >= maxTrackedKeys {
		t.evictColdestLocked()
	}
	t.keyHits[key]++
}

// evictColdestLocked removes the tracked key with the fewest hits, ties
// broken by dropping the lexicographically larger key so the choice is
// deterministic.
func (t *Telemetry) evictColdestLocked() {
	var victim string
	var victimHits int64
	first := true
	for k, n := range t.keyHits {
		if first || n < victimHits || (n == victimHits && k > victim) {
			victim, victimHits = k, n
			first = false
		}
	}
	if !first {
		delete(t.keyHits, victim)
	}
}

// Snapshot returns a consistent view of the counters. Ratios that cannot be
// computed yet are NoData, never zero, so "no traffic" is distinguishable
// from "cache never hits".
func (t *Telemetry) Snapshot() Report {
	hits := t.hits.Load()
	misses := t.misses.Load()
	hitNS := t.hitLatencyNS.Load()
	missNS := t.missLatencyNS.Load()

	t.mu.Lock()
	started := t.startedAt
	t.mu.Unlock()

	rep := Report{
		Uptime:           time.Since(started),
		Hits:             hits,
		Misses:           misses,
		HitRate:          NoData,
		TokensSaved:      t.tokensSaved.Load(),
		LatencyReduction: NoData,
		Stores:           t.stores.Load(),
		StoreErrors:      t.storeErrors.Load(),
		Evictions:        t.evictions.Load(),
		TopKeys:          t.topKeys(topKeyCount),
	}

	if total := hits + misses; total > 0 {
		rep.HitRate = float64(hits) / float64(total)
	}
	if hits > 0 {
		rep.AvgHitLatency = time.Duration(hitNS / hits)
	}
	if misses > 0 {
		rep.AvgMissLatency = time.Duration(missNS / misses)
	}
	if hits > 0 && misses > 0 && rep.AvgMissLatency > 0 {
		rep.LatencyReduction = 1 - float64(rep.AvgHitLatency)/float64(rep.AvgMissLatency)
	}
	return rep
}

// topKeys returns up to n tracked keys ordered by hits descending, then key
// ascending.
func (t *Telemetry) topKeys(n int) []KeyCount {
	t.mu.Lock()
	ranked := make([]KeyCount, 0, len(t.keyHits))
	for k, c := range t.keyHits {
		ranked = append(ranked, KeyCount{Key: k, Hits: c})
	}
	t.mu.Unlock()

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Hits != ranked[j].Hits {
			return ranked[i].Hits > ranked[j].Hits
		}
		return ranked[i].Key < ranked[j].Key
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Reset zeroes all counters and forgets tracked keys. Uptime restarts.
func (t *Telemetry) Reset() {
	t.mu.Lock()
	t.keyHits = make(map[string]int64)
	t.startedAt = time.Now()
	t.mu.Unlock()

	t.hits.Store(0)
	t.misses.Store(0)
	t.hitLatencyNS.Store(0)
	t.missLatencyNS.Store(0)
	t.tokensSaved.Store(0)
	t.stores.Store(0)
	t.storeErrors.Store(0)
	t.evictions.Store(0)
}
