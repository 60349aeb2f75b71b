// Package cache implements the two-tier prompt/response cache: a session-local
// LRU tier, a TTL-bounded shared tier over a pluggable store, deterministic
// cache keys, eligibility policy, hit/miss telemetry and the orchestrator that
// brackets the model call. Nothing in this package can fail a conversational
// turn; every internal error degrades to a cache miss or a skipped write.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumenfold/cacheflow/types"
)

// Entry is one cached response. Entries are replace-on-write: once stored
// they are never mutated, a Put with the same key installs a fresh Entry.
type Entry struct {
	Key        string          `json:"key"`
	Response   *types.Response `json:"response"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at,omitempty"` // zero = no expiry
	SizeTokens int             `json:"size_tokens,omitempty"`
}

// Expired reports whether the entry's expiry has passed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// encodeEntry serializes an entry for the shared tier. The round-trip must
// preserve the response text exactly; JSON does.
func encodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &e, nil
}
