package cache

import (
	"sync"
	"time"
)

// PromptCacheConfig configures the in-process session tier.
type PromptCacheConfig struct {
	// Capacity is the maximum number of entries. Values below 1 are
	// clamped to 1.
	Capacity int `json:"capacity" yaml:"capacity"`
	// TTL applies to entries that carry no expiry of their own.
	// Zero means such entries never expire.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultPromptCacheConfig returns the stock session tier settings.
func DefaultPromptCacheConfig() PromptCacheConfig {
	return PromptCacheConfig{
		Capacity: 1000,
		TTL:      5 * time.Minute,
	}
}

// PromptCache is a fixed-capacity LRU cache for prompt responses, the
// per-session tier. A doubly linked list keeps all operations O(1): the head
// holds the most recently used entry, the tail the least, and the tail is
// evicted when capacity is exceeded. Expired entries are removed lazily on
// access. Safe for concurrent use.
type PromptCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode // most recently used
	tail     *lruNode // least recently used

	// onEvict fires after a capacity eviction, outside any user-visible
	// operation but under the cache lock. Keep it cheap.
	onEvict func(key string)
}

type lruNode struct {
	key       string
	entry     *Entry
	expiresAt time.Time // zero means never
	prev      *lruNode
	next      *lruNode
}

// NewPromptCache creates a session cache with the given config.
func NewPromptCache(cfg PromptCacheConfig) *PromptCache {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	return &PromptCache{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		items:    make(map[string]*lruNode),
	}
}

// OnEvict registers a callback invoked with the key of each entry removed to
// make room. Must be set before the cache is shared across goroutines.
func (c *PromptCache) OnEvict(fn func(key string)) {
	c.onEvict = fn
}

// Get returns the live entry for key and marks it most recently used.
// An expired entry is removed and reported as a miss.
func (c *PromptCache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}

	if !node.expiresAt.IsZero() && time.Now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return nil, false
	}

	c.moveToHead(node)
	return node.entry, true
}

// Put stores entry under key, replacing any existing entry. When the entry
// carries its own ExpiresAt it is honored as an absolute deadline; otherwise
// the cache TTL applies from now. Inserting into a full cache evicts the
// least recently used entry.
func (c *PromptCache) Put(key string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := entry.ExpiresAt
	if deadline.IsZero() && c.ttl > 0 {
		deadline = time.Now().Add(c.ttl)
	}

	if node, ok := c.items[key]; ok {
		node.entry = entry
		node.expiresAt = deadline
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{
		key:       key,
		entry:     entry,
		expiresAt: deadline,
	}
	c.items[key] = node
	c.addToHead(node)
}

// Delete removes key if present.
func (c *PromptCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		c.removeNode(node)
		delete(c.items, key)
	}
}

// Clear drops every entry.
func (c *PromptCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode)
	c.head = nil
	c.tail = nil
}

// Len returns the current number of entries, expired ones included until
// their lazy removal.
func (c *PromptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns current size and capacity.
func (c *PromptCache) Stats() (size, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items), c.capacity
}

// addToHead links node at the head, O(1).
func (c *PromptCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

// removeNode unlinks node, O(1).
func (c *PromptCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

// moveToHead marks node most recently used, O(1).
func (c *PromptCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

// evictTail drops the least recently used entry, O(1).
func (c *PromptCache) evictTail() {
	if c.tail == nil {
		return
	}
	evicted := c.tail.key
	delete(c.items, evicted)
	c.removeNode(c.tail)
	if c.onEvict != nil {
		c.onEvict(evicted)
	}
}
