// Stores keep recently decoded values in memory so that repeated hits skip the SQLite read and the codec.
// This module provides an interface on those in-memory layers, making the single shard CLOCK cache,
// the sharded cache and the disabled cache have the same API.

package cache

import "time"

// Layer defines the interface for an in-memory key-value cache sitting in front of a persistent store.
type Layer[K comparable, V any] interface {
	// Get returns value from cache for given key and a boolean indicating whether key was found.
	Get(key K) (V, bool)
	// Add inserts a key-value pair into the cache with the given TTL; a non-positive TTL never expires.
	// It returns true if an item was evicted to make room.
	Add(key K, value V, ttl time.Duration) bool
	// Remove drops the key from the cache and reports whether it was present.
	Remove(key K) bool
	Len() int  // Returns the number of entries currently held.
	Keys() []K // Returns a slice of all keys currently in the cache.
	Purge()    // Removes all items from the cache.
}

// NoOp is a cache layer that doesn't store any items.
// It is used when the entry cache is disabled.
type NoOp[K comparable, V any] struct { // Implements Layer.
}

var _ Layer[string, any] = (*NoOp[string, any])(nil)

// NewNoOp returns a no-operation cache layer that does not store any items.
func NewNoOp[K comparable, V any]() *NoOp[K, V] {
	return &NoOp[K, V]{}
}

func (n *NoOp[K, V]) Get(key K) (V, bool) {
	var zero V
	return zero, false
}

func (n *NoOp[K, V]) Add(key K, value V, ttl time.Duration) bool { return false }
func (n *NoOp[K, V]) Remove(key K) bool                          { return false }
func (n *NoOp[K, V]) Len() int                                   { return 0 }
func (n *NoOp[K, V]) Keys() []K                                  { return nil }
func (n *NoOp[K, V]) Purge()                                     {}
