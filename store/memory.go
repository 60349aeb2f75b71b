package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore is an in-process Store. It backs the shared tier in tests and
// in single-process deployments that want shared-tier semantics (TTL, cross-
// session reuse) without an external service.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	order   []string // insertion order, for deterministic eviction

	maxEntries      int
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
	logger          *zap.Logger
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero = never expires
}

// NewMemoryStore creates a memory store. maxEntries bounds the store
// (0 = unbounded); when full, the oldest inserted entry is evicted first.
func NewMemoryStore(maxEntries int, logger *zap.Logger) *MemoryStore {
	return NewMemoryStoreWithCleanup(maxEntries, 5*time.Minute, logger)
}

// NewMemoryStoreWithCleanup creates a memory store with a custom janitor
// interval. interval <= 0 disables the background janitor; expired entries
// are then only purged lazily on access.
func NewMemoryStoreWithCleanup(maxEntries int, interval time.Duration, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		entries:         make(map[string]memEntry),
		maxEntries:      maxEntries,
		cleanupInterval: interval,
		stopCh:          make(chan struct{}),
		logger:          logger.With(zap.String("component", "memory_store")),
	}
	if interval > 0 {
		go s.cleanupLoop()
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	// Copy out so callers can never mutate stored bytes.
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
		s.order = append(s.order, key)
	}
	s.entries[key] = memEntry{value: stored, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close stops the janitor goroutine. Stored entries stay readable; Close
// exists to satisfy Store and to stop background work.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictOldestLocked removes the oldest still-present entry. The order slice
// may hold keys that were deleted or overwritten; skip those.
func (s *MemoryStore) evictOldestLocked() {
	for len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		if _, ok := s.entries[oldest]; ok {
			delete(s.entries, oldest)
			return
		}
	}
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	expired := 0
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.entries, key)
			expired++
		}
	}
	if expired > 0 {
		s.logger.Debug("purged expired entries",
			zap.Int("expired", expired),
			zap.Int("remaining", len(s.entries)))
	}
}
