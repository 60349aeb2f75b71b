package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenfold/cacheflow/tokenizer"
)

// SessionConfig sizes the per-session cache tier.
type SessionConfig struct {
	// Capacity is the per-session LRU capacity.
	Capacity int `json:"capacity" yaml:"capacity"`
	// TTL is the per-session entry lifetime for entries without their own.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultSessionConfig returns the stock per-session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Capacity: 1000,
		TTL:      5 * time.Minute,
	}
}

// Session is one conversation's view of the cache: a private LRU tier in
// front of the registry's shared tier, with its own orchestrator. Entries
// cached by one session become visible to others only through the shared
// tier.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	cache *PromptCache
	orch  *Orchestrator
}

// Orchestrator returns the session's cache orchestrator.
func (s *Session) Orchestrator() *Orchestrator {
	return s.orch
}

// Len returns the number of entries in the session tier.
func (s *Session) Len() int {
	return s.cache.Len()
}

// SessionRegistry creates and tracks sessions. All sessions share the same
// shared tier, eligibility policy, tokenizer and telemetry accumulator.
type SessionRegistry struct {
	cfg       SessionConfig
	shared    *SharedCache
	filter    *EligibilityFilter
	telemetry *Telemetry
	counter   tokenizer.Tokenizer
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewSessionRegistry creates a registry. shared may be nil for session-only
// caching; filter, tel and logger fall back to defaults when nil.
func NewSessionRegistry(cfg SessionConfig, shared *SharedCache, filter *EligibilityFilter, tel *Telemetry, counter tokenizer.Tokenizer, logger *zap.Logger) *SessionRegistry {
	def := DefaultSessionConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if tel == nil {
		tel = NewTelemetry(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRegistry{
		cfg:       cfg,
		shared:    shared,
		filter:    filter,
		telemetry: tel,
		counter:   counter,
		logger:    logger,
		sessions:  make(map[uuid.UUID]*Session),
	}
}

// Create opens a new session with a fresh private tier.
func (r *SessionRegistry) Create() *Session {
	id := uuid.New()
	logger := r.logger.With(zap.String("session_id", id.String()))

	private := NewPromptCache(PromptCacheConfig{Capacity: r.cfg.Capacity, TTL: r.cfg.TTL})
	tiers := NewTieredCache(private, r.shared, logger)
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		cache:     private,
		orch:      NewOrchestrator(tiers, r.filter, r.telemetry, r.counter, logger),
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	logger.Debug("session created")
	return s
}

// Get returns the session with the given ID.
func (r *SessionRegistry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close drops the session and its private tier. Entries it pushed to the
// shared tier stay there for other sessions.
func (r *SessionRegistry) Close(id uuid.UUID) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.cache.Clear()
		r.logger.Debug("session closed", zap.String("session_id", id.String()))
	}
}

// CloseAll drops every session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uuid.UUID]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.cache.Clear()
	}
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
