package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// TieredCache layers the in-process session cache over the shared backend.
// Lookups try the session tier first and promote shared hits into it; writes
// go through to both. Either tier may be nil, leaving a single-tier cache.
type TieredCache struct {
	session *PromptCache
	shared  *SharedCache
	logger  *zap.Logger
}

// NewTieredCache combines the two tiers. Pass nil for a tier to disable it.
func NewTieredCache(session *PromptCache, shared *SharedCache, logger *zap.Logger) *TieredCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredCache{
		session: session,
		shared:  shared,
		logger:  logger.With(zap.String("component", "tiered_cache")),
	}
}

// Get returns the entry for key and the tier that served it. A shared hit is
// promoted into the session tier keeping its original expiry, so promotion
// never extends an entry's lifetime. Returns ErrCacheMiss when neither tier
// has a live entry; any other error is a backend fault the caller should
// treat as a miss after noting it.
func (c *TieredCache) Get(ctx context.Context, key string) (*Entry, string, error) {
	if c.session != nil {
		if entry, ok := c.session.Get(key); ok {
			c.logger.Debug("session cache hit", zap.String("key", key))
			return entry, TierSession, nil
		}
	}

	if c.shared != nil {
		entry, err := c.shared.Get(ctx, key)
		if err == nil {
			if c.session != nil {
				c.session.Put(key, entry)
			}
			c.logger.Debug("shared cache hit", zap.String("key", key))
			return entry, TierShared, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			return nil, "", err
		}
	}

	return nil, "", ErrCacheMiss
}

// Put writes entry to both tiers. The session write cannot fail; a shared
// write failure is returned after the session tier has already accepted the
// entry, so the current session keeps its copy either way.
func (c *TieredCache) Put(ctx context.Context, key string, entry *Entry) error {
	if c.session != nil {
		c.session.Put(key, entry)
	}
	if c.shared != nil {
		if err := c.shared.Put(ctx, key, entry); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes key from both tiers, reporting the shared tier's error.
func (c *TieredCache) Delete(ctx context.Context, key string) error {
	if c.session != nil {
		c.session.Delete(key)
	}
	if c.shared != nil {
		return c.shared.Delete(ctx, key)
	}
	return nil
}

// Clear empties the session tier. Shared entries are left to age out by TTL,
// since the backend is shared with other processes.
func (c *TieredCache) Clear() {
	if c.session != nil {
		c.session.Clear()
	}
}

// Ping reports shared backend health; a session-only cache is always healthy.
func (c *TieredCache) Ping(ctx context.Context) error {
	if c.shared != nil {
		return c.shared.Ping(ctx)
	}
	return nil
}
