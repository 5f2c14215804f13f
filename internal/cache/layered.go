package cache

import "time"

// LayeredCache serves vectors from memory first and falls back to a
// read-only source, promoting hits into memory.
type LayeredCache struct {
	memory Cache
	source Source
	ttl    time.Duration
}

// NewLayeredCache creates a new layered cache over source.
func NewLayeredCache(memoryTTL time.Duration, source Source) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		source: source,
		ttl:    memoryTTL,
	}
}

// Get retrieves a value (checks memory first, then the source)
func (c *LayeredCache) Get(key string) ([]float64, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}

	if val, found := c.source.Lookup(key); found {
		// Promote to memory cache
		_ = c.memory.Set(key, val, 0)
		return val, true
	}

	return nil, false
}

// Set stores a value in memory; the source is read-only.
func (c *LayeredCache) Set(key string, value []float64, ttl time.Duration) error {
	return c.memory.Set(key, value, ttl)
}

// Delete evicts a value from memory
func (c *LayeredCache) Delete(key string) error {
	return c.memory.Delete(key)
}

// Clear empties the memory layer
func (c *LayeredCache) Clear() error {
	return c.memory.Clear()
}
