// This module implements cache sharding which distributes keys uniformly across cache shards. Each shard has its own
// mutex, so goroutines looking up different cache keys rarely contend on the same lock.

package cache

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/kissml/pkg/utils"
)

// Sharded distributes string keys (encoded cache keys) across multiple underlying layers.
type Sharded[V any] struct {
	shards []Layer[string, V]
}

var _ Layer[string, any] = (*Sharded[any])(nil)

// NewSharded creates `shardCount` shards using the given generator.
func NewSharded[V any](generator func() Layer[string, V], shardCount int) *Sharded[V] {
	if shardCount <= 0 {
		utils.RaiseInvariant("shard", "negative_shard_count",
			"Invalid shard count has been given to sharded cache.", "shardCount", shardCount)
		shardCount = 1
	}
	sharded := &Sharded[V]{shards: make([]Layer[string, V], shardCount)}
	for i := range shardCount {
		sharded.shards[i] = generator()
	}
	return sharded
}

func (c *Sharded[V]) getShard(key string) Layer[string, V] {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

func (c *Sharded[V]) Get(key string) (V, bool /*found*/) {
	return c.getShard(key).Get(key)
}

func (c *Sharded[V]) Add(key string, value V, ttl time.Duration) /*evictionOccurred*/ bool {
	return c.getShard(key).Add(key, value, ttl)
}

func (c *Sharded[V]) Remove(key string) bool {
	return c.getShard(key).Remove(key)
}

func (c *Sharded[V]) Len() int {
	total := 0
	for _, shard := range c.shards {
		total += shard.Len()
	}
	return total
}

// Keys aggregates the keys from all shards into a single slice.
func (c *Sharded[V]) Keys() []string {
	keys := make([]string, 0)
	for _, shard := range c.shards {
		keys = append(keys, shard.Keys()...)
	}
	return keys
}

func (c *Sharded[V]) Purge() {
	for _, shard := range c.shards {
		shard.Purge()
	}
}
