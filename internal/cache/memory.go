package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache implements in-memory caching with expiry
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a new memory cache. A defaultTTL of zero or less
// keeps entries until they are deleted.
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(key string) ([]float64, bool) {
	if val, found := c.cache.Get(key); found {
		return val.([]float64), true
	}
	return nil, false
}

// Set stores a value in the cache with the given TTL (0 = default)
func (c *MemoryCache) Set(key string, value []float64, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) error {
	c.cache.Delete(key)
	return nil
}

// Clear removes all values from the cache
func (c *MemoryCache) Clear() error {
	c.cache.Flush()
	return nil
}

// Len returns the number of cached entries, including expired ones not yet cleaned up.
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}
