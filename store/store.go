// Package store provides the pluggable backends for the shared cache tier.
// A backend is a flat key -> bytes space with per-entry TTL; everything above
// it (entry encoding, promotion, eligibility) lives in the cache package.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the shared-tier backend contract.
//
// Implementations enforce the TTL themselves: a Get after the entry's TTL has
// elapsed returns ErrNotFound even if the stale bytes still exist physically.
// ttl <= 0 on Set means the entry does not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
