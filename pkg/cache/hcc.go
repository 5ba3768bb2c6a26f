// This module implements an expirable CLOCK cache used as the in-memory entry layer of a store.
// Eviction Policy (CLOCK Algorithm):
// The cache uses a circular list of entries and a "hand" that sweeps over them. When the cache is full and a new item
// needs to be added, the hand checks the entry it's pointing to:
//   - If the entry's reference bit is 'true', it sets it to 'false' and moves to the next entry.
//     This gives the entry a "second chance".
//   - If the entry's reference bit is 'false', it evicts that entry and replaces it with the new one.
//
// Expiration Policy (TTL with Reaper):
// Entries with a positive TTL are distributed to time-based 'buckets'. A background goroutine, the "reaper",
// periodically wakes up and clears one bucket of all its entries. Entries without a TTL only leave through
// eviction, Remove or Purge.

package cache

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nobletooth/kissml/pkg/types"
	"github.com/nobletooth/kissml/pkg/utils"
)

type clockEntry[K comparable, V any] struct {
	key   K
	value V
	// ref is the reference bit for the CLOCK algorithm. It's atomic since Get only holds the read lock.
	ref       atomic.Bool
	expiresAt time.Time // Zero when the entry never expires.
}

func (e *clockEntry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type clockNode[K comparable, V any] = types.LinkedListNode[*clockEntry[K, V]]

// getTimeBucket rounds down the timestamp to the last timestamp that the reaper cleared given the tickInterval.
func getTimeBucket(timestamp time.Time, tickInterval time.Duration) time.Time {
	return time.Unix(0, (timestamp.UnixNano()/int64(tickInterval))*int64(tickInterval))
}

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// HyperClock is a thread-safe, fixed-capacity, in-memory cache that combines the CLOCK (Second-Chance)
// eviction algorithm with a time-based expiration mechanism.
type HyperClock[K comparable, V any] struct {
	capacity int
	// hand points to the next candidate for eviction; nil iff the buffer is empty.
	hand           *clockNode[K, V]
	index          map[K]*clockNode[K, V]
	circularBuffer *types.LinkedList[*clockEntry[K, V]]
	expiryBuckets  map[time.Time]map[K]*clockNode[K, V]
	tickInterval   time.Duration
	reaperHand     time.Time // Next bucket to be cleared by the reaper goroutine.
	// evictionCallback runs under the cache lock on CLOCK evictions, so it must not call back into the cache.
	evictionCallback func(K, V)
	mux              sync.RWMutex
}

var _ Layer[string, any] = (*HyperClock[string, any])(nil)

// NewHyperClock initializes the cache with the given capacity, tick interval and optional eviction callback,
// then starts the reaper which lives until ctx is done.
// NOTE: eviction callback function must not call any of the cache methods or else we'll be having a deadlock.
func NewHyperClock[K comparable, V any](ctx context.Context, capacity int, tickInterval time.Duration,
	evictionCallback func(K, V)) *HyperClock[K, V] {
	if capacity <= 0 {
		utils.RaiseInvariant("hcc", "negative_cache_capacity",
			"Invalid capacity has been given to clock cache.", "capacity", capacity)
		capacity = 1
	}
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	clockCache := &HyperClock[K, V]{
		capacity:         capacity,
		index:            make(map[K]*clockNode[K, V], capacity),
		circularBuffer:   new(types.LinkedList[*clockEntry[K, V]]),
		expiryBuckets:    make(map[time.Time]map[K]*clockNode[K, V]),
		tickInterval:     tickInterval,
		reaperHand:       getTimeBucket(time.Now(), tickInterval),
		evictionCallback: evictionCallback,
	}
	go clockCache.reaper(ctx)
	return clockCache
}

// Get returns the value for key if present and not expired, marking it as recently referenced.
func (c *HyperClock[K, V]) Get(key K) (V, bool /*found*/) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	node, keyExists := c.index[key]
	if !keyExists || node.Value.expired(time.Now()) {
		return *new(V), false
	}
	node.Value.ref.Store(true)
	return node.Value.value, true
}

func (c *HyperClock[K, V]) addToExpiryBucket(node *clockNode[K, V]) {
	if node.Value.expiresAt.IsZero() {
		return
	}
	bucket := getTimeBucket(node.Value.expiresAt, c.tickInterval)
	if _, bucketExists := c.expiryBuckets[bucket]; !bucketExists {
		c.expiryBuckets[bucket] = make(map[K]*clockNode[K, V])
	}
	c.expiryBuckets[bucket][node.Value.key] = node
}

func (c *HyperClock[K, V]) removeFromExpiryBucket(entry *clockEntry[K, V]) {
	if entry.expiresAt.IsZero() {
		return
	}
	bucket := getTimeBucket(entry.expiresAt, c.tickInterval)
	delete(c.expiryBuckets[bucket], entry.key)
	if len(c.expiryBuckets[bucket]) == 0 {
		delete(c.expiryBuckets, bucket)
	}
}

// advanceHand moves the clock hand one step forward, wrapping around at the end of the buffer.
func (c *HyperClock[K, V]) advanceHand() {
	next := c.hand.Next()
	if next == nil {
		next = c.circularBuffer.Front()
	}
	c.hand = next
}

// unlink drops the node from the buffer and the index. The caller handles expiry buckets.
func (c *HyperClock[K, V]) unlink(node *clockNode[K, V]) {
	if c.hand == node {
		c.advanceHand()
		if c.hand == node { // It was the only node.
			c.hand = nil
		}
	}
	delete(c.index, node.Value.key)
	c.circularBuffer.Remove(node)
}

// Add inserts or updates a key-value pair. When the cache is full, an entry is evicted with the CLOCK algorithm
// and true is returned.
func (c *HyperClock[K, V]) Add(key K, value V, ttl time.Duration) /*evictionOccurred*/ bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	if node, keyExists := c.index[key]; keyExists {
		entry := node.Value
		c.removeFromExpiryBucket(entry)
		entry.value = value
		entry.ref.Store(false)
		entry.expiresAt = expiryFor(ttl)
		c.addToExpiryBucket(node)
		return false
	}

	if c.circularBuffer.Len() < c.capacity {
		node := c.circularBuffer.PushBack(&clockEntry[K, V]{key: key, value: value, expiresAt: expiryFor(ttl)})
		c.addToExpiryBucket(node)
		c.index[key] = node
		if c.hand == nil {
			c.hand = node
		}
		return false
	}

	now := time.Now()
	for {
		node := c.hand
		entry := node.Value
		if !entry.ref.Load() || entry.expired(now) {
			delete(c.index, entry.key)
			c.removeFromExpiryBucket(entry)
			evictedKey, evictedValue := entry.key, entry.value
			// Reuse the victim's node for the new entry.
			entry.key = key
			entry.value = value
			entry.ref.Store(false)
			entry.expiresAt = expiryFor(ttl)
			c.addToExpiryBucket(node)
			c.index[key] = node
			c.advanceHand()
			if c.evictionCallback != nil {
				c.evictionCallback(evictedKey, evictedValue)
			}
			return true
		}
		entry.ref.Store(false) // Second chance.
		c.advanceHand()
	}
}

// Remove drops the key from the cache; it reports whether the key was present.
func (c *HyperClock[K, V]) Remove(key K) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	node, keyExists := c.index[key]
	if !keyExists {
		return false
	}
	c.removeFromExpiryBucket(node.Value)
	c.unlink(node)
	return true
}

func (c *HyperClock[K, V]) Len() int {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.circularBuffer.Len()
}

func (c *HyperClock[K, V]) Keys() []K {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return slices.Collect(maps.Keys(c.index))
}

// Purge empties the cache without running the eviction callback.
func (c *HyperClock[K, V]) Purge() {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.index = make(map[K]*clockNode[K, V], c.capacity)
	c.circularBuffer = new(types.LinkedList[*clockEntry[K, V]])
	c.expiryBuckets = make(map[time.Time]map[K]*clockNode[K, V])
	c.hand = nil
}

// reaper clears expired buckets at every tick until ctx is done.
func (c *HyperClock[K, V]) reaper(ctx context.Context) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reapExpired(time.Now())
		}
	}
}

func (c *HyperClock[K, V]) reapExpired(now time.Time) {
	c.mux.Lock()
	defer c.mux.Unlock()

	// There can be more than one expired bucket in case of high CPU usage.
	for c.reaperHand.Before(now) {
		if bucket, bucketExists := c.expiryBuckets[c.reaperHand]; bucketExists {
			for _, node := range bucket {
				c.unlink(node)
			}
			delete(c.expiryBuckets, c.reaperHand)
		}
		c.reaperHand = c.reaperHand.Add(c.tickInterval)
	}
}
