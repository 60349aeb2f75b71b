package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/lumenfold/cacheflow/types"
)

func testEntry(text string) *Entry {
	return &Entry{
		Response:  &types.Response{Text: text},
		CreatedAt: time.Now(),
	}
}

func TestPromptCachePutGet(t *testing.T) {
	t.Parallel()
	c := NewPromptCache(PromptCacheConfig{Capacity: 10})

	c.Put("a", testEntry("alpha"))
	entry, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", entry.Response.Text)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestPromptCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	c := NewPromptCache(PromptCacheConfig{Capacity: 2})

	c.Put("a", testEntry("alpha"))
	c.Put("b", testEntry("beta"))

	// Touch a so b becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", testEntry("gamma"))

	_, ok = c.Get("a")
	assert.True(t, ok, "recently used entry survives")
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestPromptCacheReplaceDoesNotEvict(t *testing.T) {
	t.Parallel()
	c := NewPromptCache(PromptCacheConfig{Capacity: 2})

	c.Put("a", testEntry("alpha"))
	c.Put("b", testEntry("beta"))
	c.Put("a", testEntry("alpha2"))

	assert.Equal(t, 2, c.Len())
	entry, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha2", entry.Response.Text)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestPromptCacheTTLExpiry(t *testing.T) {
	t.Parallel()
	c := NewPromptCache(PromptCacheConfig{Capacity: 10, TTL: 20 * time.Millisecond})

	c.Put("a", testEntry("alpha"))
	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(35 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry past TTL reads as a miss")
	assert.Equal(t, 0, c.Len(), "expired entry removed on access")
}

func TestPromptCacheHonorsEntryExpiry(t *testing.T) {
	t.Parallel()
	// Cache TTL is generous but the entry carries an earlier deadline,
	// as promoted shared entries do.
	c := NewPromptCache(PromptCacheConfig{Capacity: 10, TTL: time.Hour})

	entry := testEntry("alpha")
	entry.ExpiresAt = time.Now().Add(20 * time.Millisecond)
	c.Put("a", entry)

	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(35 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry deadline overrides cache TTL")
}

func TestPromptCacheNoTTLNeverExpires(t *testing.T) {
	t.Parallel()
	c := NewPromptCache(PromptCacheConfig{Capacity: 10})

	c.Put("a", testEntry("alpha"))
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestPromptCacheOnEvict(t *testing.T) {
	t.Parallel()
	c := NewPromptCache(PromptCacheConfig{Capacity: 1})

	var evicted []string
	c.OnEvict(func(key string) { evicted = append(evicted, key) })

	c.Put("a", testEntry("alpha"))
	c.Put("b", testEntry("beta"))
	c.Put("b", testEntry("beta2"))

	assert.Equal(t, []string{"a"}, evicted, "only capacity evictions fire the hook")
}

func TestPromptCacheDeleteAndClear(t *testing.T) {
	t.Parallel()
	c := NewPromptCache(PromptCacheConfig{Capacity: 10})

	c.Put("a", testEntry("alpha"))
	c.Put("b", testEntry("beta"))

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestPromptCacheCapacityClamped(t *testing.T) {
	t.Parallel()
	c := NewPromptCache(PromptCacheConfig{Capacity: -3})
	_, capacity := c.Stats()
	assert.Equal(t, 1, capacity)
}

func TestPromptCacheCapacityInvariant(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(t, "capacity")
		c := NewPromptCache(PromptCacheConfig{Capacity: capacity})

		ops := rapid.IntRange(1, 60).Draw(t, "ops")
		var lastPut string
		for i := 0; i < ops; i++ {
			key := fmt.Sprintf("k%d", rapid.IntRange(0, 15).Draw(t, "key"))
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0, 1:
				c.Put(key, testEntry(key))
				lastPut = key
			case 2:
				c.Get(key)
			}

			if c.Len() > capacity {
				t.Fatalf("size %d exceeds capacity %d", c.Len(), capacity)
			}
		}
		if lastPut != "" {
			if _, ok := c.Get(lastPut); !ok {
				t.Fatalf("most recently written key %q missing", lastPut)
			}
		}
	})
}
