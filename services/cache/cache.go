package cache

import (
	"time"
)

// CacheService is the key/value store behind job cooldown markers. Markers
// are small and expire on their own, so implementations need no eviction
// policy beyond the per-key expiration.
type CacheService interface {
	// Get returns the marker stored under key, or ErrMiss
	Get(key string) ([]byte, error)

	// Set stores a marker that disappears after expiration
	Set(key string, value []byte, expiration time.Duration) error

	// Delete drops the marker for key; a missing key is not an error
	Delete(key string) error
}
