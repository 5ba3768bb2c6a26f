package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHyperClock_AddAndGet(t *testing.T) {
	clockCache := NewHyperClock[string, any](t.Context(), 5, time.Second /*tickInterval*/, nil /*evictionCallback*/)

	wasEvicted := clockCache.Add("1:sha256:aa", []any{1, "a"}, time.Minute)
	assert.False(t, wasEvicted, "Should not evict when cache is not full")

	val, found := clockCache.Get("1:sha256:aa")
	assert.True(t, found)
	assert.Equal(t, []any{1, "a"}, val)

	_, found = clockCache.Get("nonexistent")
	assert.False(t, found, "Should not find a non-existent key")
	assert.Equal(t, 1, clockCache.Len())
}

func TestHyperClock_UpdateKey(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 2, time.Second /*tickInterval*/, nil /*evictionCallback*/)

	clockCache.Add("key1", 100, time.Minute)
	clockCache.Add("key2", 200, time.Minute)

	wasEvicted := clockCache.Add("key1", 999, 0 /*never expires*/)
	assert.False(t, wasEvicted, "Should not evict on update")
	val, found := clockCache.Get("key1")
	assert.True(t, found)
	assert.Equal(t, 999, val)

	_, found = clockCache.Get("key2")
	assert.True(t, found, "Other key should not be affected by an update")
}

func TestHyperClock_EvictionPolicy(t *testing.T) {
	clockCache := NewHyperClock[int, string](t.Context(), 2, time.Second /*tickInterval*/, nil /*evictionCallback*/)

	clockCache.Add(1, "one", time.Minute)
	clockCache.Add(2, "two", time.Minute)

	wasEvicted := clockCache.Add(3, "three", time.Minute)
	assert.True(t, wasEvicted, "Should evict when adding to a full cache")
	_, found := clockCache.Get(1)
	assert.False(t, found, "Item 1 should have been evicted")
	_, found = clockCache.Get(2)
	assert.True(t, found)
	val, found := clockCache.Get(3)
	assert.True(t, found)
	assert.Equal(t, "three", val)

	// Both remaining entries are referenced; the hand clears them and comes back to 2.
	wasEvicted = clockCache.Add(4, "four", time.Minute)
	assert.True(t, wasEvicted)
	_, found = clockCache.Get(2)
	assert.False(t, found, "Item 2 should have been evicted")
	_, found = clockCache.Get(3)
	assert.True(t, found)
	val, found = clockCache.Get(4)
	assert.True(t, found)
	assert.Equal(t, "four", val)
}

func TestHyperClock_EvictionCallback(t *testing.T) {
	var evicted []int
	clockCache := NewHyperClock[int, string](t.Context(), 1, time.Second, /*tickInterval*/
		func(k int, _ string) { evicted = append(evicted, k) })

	clockCache.Add(10, "ten", time.Minute)
	clockCache.Add(20, "twenty", time.Minute)
	clockCache.Remove(20) // Removals aren't evictions.

	assert.Equal(t, []int{10}, evicted)
}

func TestHyperClock_Remove(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 3, time.Second /*tickInterval*/, nil /*evictionCallback*/)
	clockCache.Add("a", 1, time.Minute)
	clockCache.Add("b", 2, 0)

	assert.True(t, clockCache.Remove("a"))
	assert.False(t, clockCache.Remove("a"))
	assert.True(t, clockCache.Remove("b"))
	assert.Equal(t, 0, clockCache.Len())
	assert.Nil(t, clockCache.hand, "Hand must not dangle once the cache is empty")

	// The cache is still usable after being emptied through Remove.
	for i := range 5 {
		clockCache.Add(fmt.Sprintf("k%d", i), i, time.Minute)
	}
	assert.Equal(t, 3, clockCache.Len())
}

func TestHyperClock_GetExpired(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 5, time.Hour /*tickInterval*/, nil /*evictionCallback*/)

	clockCache.Add("key1", 1, 20*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, found := clockCache.Get("key1")
	assert.False(t, found, "Should not find an expired item")
}

func TestHyperClock_Reaper(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 10, time.Millisecond /*tickInterval*/, nil /*evictionCallback*/)

	clockCache.Add("key1", 1, 5*time.Millisecond)
	clockCache.Add("key2", 2, 0 /*never expires*/)

	assert.Eventually(t, func() bool { return clockCache.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, found := clockCache.Get("key2")
	assert.True(t, found, "Entries without TTL survive the reaper")
	clockCache.Add("key3", 3, time.Minute)
	assert.Equal(t, 2, clockCache.Len())
}

func TestHyperClock_ReapExpiredResetsHand(t *testing.T) {
	clockCache := NewHyperClock[string, int](context.Background(), 2, time.Hour, nil)
	clockCache.Add("only", 1, time.Millisecond)
	clockCache.reapExpired(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 0, clockCache.Len())
	assert.Nil(t, clockCache.hand)
}

func TestHyperClock_Purge(t *testing.T) {
	clockCache := NewHyperClock[string, int](t.Context(), 4, time.Second, nil)
	clockCache.Add("a", 1, time.Minute)
	clockCache.Add("b", 2, 0)
	clockCache.Purge()
	assert.Empty(t, clockCache.Keys())
	clockCache.Add("c", 3, 0)
	val, found := clockCache.Get("c")
	assert.True(t, found)
	assert.Equal(t, 3, val)
}

func TestHyperClock_Concurrency(t *testing.T) {
	numGoroutines := 50
	itemsPerGoroutine := 50

	clockCache := NewHyperClock[string, int](t.Context(), 1000, time.Second /*tickInterval*/, nil /*evictionCallback*/)
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < itemsPerGoroutine; j++ {
				key := fmt.Sprintf("key-%d-%d", goroutineID, j)
				clockCache.Add(key, goroutineID*100+j, time.Minute)
				if j%7 == 0 {
					clockCache.Remove(key)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < itemsPerGoroutine; j++ {
				// Presence isn't guaranteed due to evictions, but a found value must be correct.
				if val, found := clockCache.Get(fmt.Sprintf("key-%d-%d", goroutineID, j)); found {
					assert.Equal(t, goroutineID*100+j, val)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, clockCache.Len(), 1000)
}
