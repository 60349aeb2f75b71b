package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lumenfold/cacheflow/store"
)

// SharedCacheConfig configures the cross-session tier.
type SharedCacheConfig struct {
	// TTL is the lifetime assigned to entries written without an expiry
	// of their own. Zero means entries never expire.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
	// Timeout bounds every backend round trip. A slow backend turns into
	// a miss rather than a slow conversation.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// KeyPrefix namespaces this cache's keys in a shared backend.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultSharedCacheConfig returns the stock shared tier settings.
func DefaultSharedCacheConfig() SharedCacheConfig {
	return SharedCacheConfig{
		TTL:       time.Hour,
		Timeout:   250 * time.Millisecond,
		KeyPrefix: "cacheflow:shared:",
	}
}

// SharedCache is the cross-session tier backed by a store.Store (Redis, SQL,
// or in-memory). All operations are bounded by the configured timeout, and
// concurrent lookups of the same key collapse into a single backend fetch.
type SharedCache struct {
	store  store.Store
	cfg    SharedCacheConfig
	group  singleflight.Group
	logger *zap.Logger
}

// NewSharedCache wraps st as a shared cache tier. Zero config fields fall
// back to defaults.
func NewSharedCache(st store.Store, cfg SharedCacheConfig, logger *zap.Logger) *SharedCache {
	def := DefaultSharedCacheConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SharedCache{
		store:  st,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "shared_cache")),
	}
}

// Get fetches the entry for key. It returns ErrCacheMiss for absent or
// expired entries and a wrapped backend error otherwise; callers decide
// whether to surface the difference. Expired entries are purged lazily in
// the background.
func (c *SharedCache) Get(ctx context.Context, key string) (*Entry, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Detached from the caller so one cancelled request cannot fail
		// the flight for everyone sharing it; the timeout still bounds it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()

		data, err := c.store.Get(fctx, c.cfg.KeyPrefix+key)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, ErrCacheMiss
			}
			return nil, fmt.Errorf("shared cache get: %w", err)
		}
		entry, err := decodeEntry(data)
		if err != nil {
			// A corrupt record is unusable; drop it so it stops
			// costing a decode on every lookup.
			c.logger.Warn("dropping undecodable cache entry",
				zap.String("key", key), zap.Error(err))
			c.purgeAsync(key)
			return nil, ErrCacheMiss
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	entry := v.(*Entry)
	if entry.Expired(time.Now()) {
		c.purgeAsync(key)
		return nil, ErrCacheMiss
	}
	return entry, nil
}

// Put writes entry under key. An entry without its own expiry gets the
// configured TTL from now; an already expired entry is skipped. The stored
// ExpiresAt makes the deadline portable across tiers and backends that have
// no native TTL.
func (c *SharedCache) Put(ctx context.Context, key string, entry *Entry) error {
	stored := *entry
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	var ttl time.Duration
	switch {
	case stored.ExpiresAt.IsZero():
		if c.cfg.TTL > 0 {
			stored.ExpiresAt = now.Add(c.cfg.TTL)
			ttl = c.cfg.TTL
		}
	default:
		ttl = time.Until(stored.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}

	data, err := encodeEntry(&stored)
	if err != nil {
		return fmt.Errorf("shared cache encode: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.store.Set(sctx, c.cfg.KeyPrefix+key, data, ttl); err != nil {
		return fmt.Errorf("shared cache set: %w", err)
	}
	return nil
}

// Delete removes key from the backend.
func (c *SharedCache) Delete(ctx context.Context, key string) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.store.Delete(dctx, c.cfg.KeyPrefix+key); err != nil {
		return fmt.Errorf("shared cache delete: %w", err)
	}
	return nil
}

// Ping reports backend health.
func (c *SharedCache) Ping(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.store.Ping(pctx)
}

// purgeAsync deletes key without blocking the caller. Failures only cost a
// future lazy purge, so they are logged and dropped.
func (c *SharedCache) purgeAsync(key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		defer cancel()
		if err := c.store.Delete(ctx, c.cfg.KeyPrefix+key); err != nil {
			c.logger.Debug("lazy purge failed", zap.String("key", key), zap.Error(err))
		}
	}()
}
