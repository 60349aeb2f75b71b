package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfold/cacheflow/store"
	"github.com/lumenfold/cacheflow/types"
)

// brokenStore fails every operation, standing in for an unreachable backend.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("backend unreachable")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend unreachable")
}
func (brokenStore) Delete(context.Context, string) error { return errors.New("backend unreachable") }
func (brokenStore) Ping(context.Context) error           { return errors.New("backend unreachable") }
func (brokenStore) Close() error                         { return nil }

func newMemShared(t *testing.T, cfg SharedCacheConfig) *SharedCache {
	t.Helper()
	st := store.NewMemoryStoreWithCleanup(0, 0, nil)
	t.Cleanup(func() { _ = st.Close() })
	return NewSharedCache(st, cfg, nil)
}

func TestSharedCacheRoundTrip(t *testing.T) {
	t.Parallel()
	c := newMemShared(t, SharedCacheConfig{TTL: time.Minute})
	ctx := context.Background()

	put := &Entry{
		Key:        "prompt:abc",
		Response:   &types.Response{Text: "cached answer", Model: "gpt-4o"},
		SizeTokens: 12,
	}
	require.NoError(t, c.Put(ctx, "prompt:abc", put))

	got, err := c.Get(ctx, "prompt:abc")
	require.NoError(t, err)
	assert.Equal(t, "cached answer", got.Response.Text)
	assert.Equal(t, 12, got.SizeTokens)
	assert.False(t, got.ExpiresAt.IsZero(), "TTL materialized as an absolute deadline")
	assert.False(t, got.CreatedAt.IsZero())
	assert.True(t, put.ExpiresAt.IsZero(), "caller's entry not mutated")
}

func TestSharedCacheMiss(t *testing.T) {
	t.Parallel()
	c := newMemShared(t, SharedCacheConfig{TTL: time.Minute})

	_, err := c.Get(context.Background(), "prompt:nope")
	assert.True(t, IsCacheMiss(err))
}

func TestSharedCacheEntryExpiry(t *testing.T) {
	t.Parallel()
	c := newMemShared(t, SharedCacheConfig{TTL: 20 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", &Entry{Response: &types.Response{Text: "x"}}))
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(35 * time.Millisecond)
	_, err = c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err), "expired entry reads as a miss")
}

func TestSharedCachePreservesExistingDeadline(t *testing.T) {
	t.Parallel()
	c := newMemShared(t, SharedCacheConfig{TTL: time.Hour})
	ctx := context.Background()

	deadline := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	entry := &Entry{Response: &types.Response{Text: "x"}, ExpiresAt: deadline}
	require.NoError(t, c.Put(ctx, "k", entry))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(deadline), "existing deadline survives the write")
}

func TestSharedCacheSkipsDeadEntry(t *testing.T) {
	t.Parallel()
	c := newMemShared(t, SharedCacheConfig{TTL: time.Hour})
	ctx := context.Background()

	entry := &Entry{Response: &types.Response{Text: "x"}, ExpiresAt: time.Now().Add(-time.Second)}
	require.NoError(t, c.Put(ctx, "k", entry), "writing an expired entry is a no-op, not an error")

	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestSharedCacheBackendErrorIsNotAMiss(t *testing.T) {
	t.Parallel()
	c := NewSharedCache(brokenStore{}, SharedCacheConfig{}, nil)

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, IsCacheMiss(err), "backend faults stay distinguishable from misses")

	err = c.Put(context.Background(), "k", &Entry{Response: &types.Response{Text: "x"}})
	assert.Error(t, err)
}

func TestSharedCacheDelete(t *testing.T) {
	t.Parallel()
	c := newMemShared(t, SharedCacheConfig{TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", &Entry{Response: &types.Response{Text: "x"}}))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestSharedCacheOverRedis(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewSharedCache(store.NewRedisStoreFromClient(client, nil), SharedCacheConfig{TTL: time.Minute}, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "prompt:r1", &Entry{Response: &types.Response{Text: "redis cached"}}))

	got, err := c.Get(ctx, "prompt:r1")
	require.NoError(t, err)
	assert.Equal(t, "redis cached", got.Response.Text)

	// Keys are namespaced so unrelated consumers of the same server
	// cannot collide.
	assert.True(t, mr.Exists("cacheflow:shared:prompt:r1"))

	// Redis-side TTL expiry also reads as a miss.
	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "prompt:r1")
	assert.True(t, IsCacheMiss(err))
}
