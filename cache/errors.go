package cache

import "errors"

// ErrCacheMiss marks a lookup that found nothing. The orchestrator never
// surfaces it to callers; it exists for components that use the tiers
// directly.
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss reports whether err is a cache miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
