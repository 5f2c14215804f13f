// Package cache keeps decoded word vectors hot in memory in front of a
// slower read-only source such as a memory-mapped embedding matrix.
package cache

import "time"

// Cache defines the interface for caching vectors by key
type Cache interface {
	Get(key string) ([]float64, bool)
	Set(key string, value []float64, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Source is a read-only backing layer consulted on a cache miss.
type Source interface {
	Lookup(key string) ([]float64, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(key string) ([]float64, bool)

// Lookup calls f.
func (f SourceFunc) Lookup(key string) ([]float64, bool) { return f(key) }
