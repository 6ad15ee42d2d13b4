package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"sjsage522/marketcrawler/helpers"
	"sjsage522/marketcrawler/logger"
)

// memcache rejects keys longer than this
const maxKeyLength = 250

// CooldownKey names the marker of one job: category plus its applied filters.
// Characters memcache does not accept are replaced; long keys are hashed.
func CooldownKey(category string, filters [][2]string) string {
	var b strings.Builder
	b.WriteString(category)
	for _, f := range filters {
		b.WriteString("_" + f[0] + "_" + f[1])
	}
	key := helpers.SanitizeFileName(b.String()) + "_cooldown"
	if len(key) <= maxKeyLength {
		return key
	}
	sum := sha1.Sum([]byte(b.String()))
	return helpers.SanitizeFileName(category) + "_" + hex.EncodeToString(sum[:]) + "_cooldown"
}

// Cooldown keeps jobs that failed with a retryable error from running again
// until the marker expires. A Cooldown without a cache never blocks.
type Cooldown struct {
	cache CacheService
	ttl   time.Duration
	log   *logger.Logger
}

// NewCooldown creates a cooldown over cache; cache may be nil
func NewCooldown(cache CacheService, ttl time.Duration, log *logger.Logger) *Cooldown {
	return &Cooldown{cache: cache, ttl: ttl, log: log}
}

// Active reports whether a marker for key is present. Cache errors other
// than a miss are logged and treated as no marker.
func (c *Cooldown) Active(key string) bool {
	if c == nil || c.cache == nil {
		return false
	}
	_, err := c.cache.Get(key)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrMiss) {
		c.log.Warn().Err(err).Str("key", key).Msg("Cooldown lookup failed")
	}
	return false
}

// Start sets the marker for key
func (c *Cooldown) Start(key string) error {
	if c == nil || c.cache == nil || c.ttl <= 0 {
		return nil
	}
	return c.cache.Set(key, []byte(time.Now().UTC().Format(time.RFC3339)), c.ttl)
}

// Clear removes the marker for key
func (c *Cooldown) Clear(key string) error {
	if c == nil || c.cache == nil {
		return nil
	}
	return c.cache.Delete(key)
}
