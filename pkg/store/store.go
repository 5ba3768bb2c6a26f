// A Store is one cache namespace: it routes values through the type registry into framed entries, persists them in
// a key-value holder, and enforces the namespace's eviction policy once it holds more entries than its capacity.
//
// Reads go through three layers: an in-memory entry cache holding recently used framed entries, a bloom filter
// answering definite misses, and finally the persistent holder.

package store

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nobletooth/kissml/pkg/cache"
	"github.com/nobletooth/kissml/pkg/eviction"
	"github.com/nobletooth/kissml/pkg/keys"
	"github.com/nobletooth/kissml/pkg/registry"
	"github.com/nobletooth/kissml/pkg/storage"
	"golang.org/x/sync/singleflight"
)

var ErrClosed = errors.New("store is closed")

var (
	entryCacheEnabled  = flag.Bool("enable_entry_cache", true, "Keep recently used entries of every store in memory.")
	entryCacheCapacity = flag.Int("entry_cache_capacity", 1024,
		"The maximum number of entries each store keeps in memory; 0 or negative disables the entry cache.")
	entryCacheShardCount = flag.Int("entry_cache_shard_count", runtime.NumCPU(),
		"The number of shards of each store's entry cache; 0 or negative disables the entry cache.")
	entryCacheTtl = flag.Duration("entry_cache_ttl", 10*time.Minute,
		"How long an entry stays in memory after being cached; 0 keeps it until evicted.")
	entryCacheTickInterval = flag.Duration("entry_cache_tick_interval", time.Second,
		"The clock tick interval of the entry cache reaper.")
)

// bloomFalsePositiveRate is the target false positive rate of the negative lookup filter.
const bloomFalsePositiveRate = 0.01

// Options configures a Store.
type Options struct {
	Name     string          // Computation identity the store belongs to; used in logs.
	Policy   eviction.Policy // Eviction policy applied once Capacity is exceeded.
	Capacity int             // Maximum number of entries; <= 0 disables eviction.
	Registry *registry.Registry
}

// Store is safe for concurrent use.
type Store struct {
	name     string
	policy   eviction.Policy
	capacity int
	registry *registry.Registry
	holder   storage.KeyValueHolder
	entries  cache.Layer[string, []byte]
	cancel   context.CancelFunc // Stops the entry cache reaper.
	flight   singleflight.Group

	mux     sync.Mutex // Guards the fields below.
	tracker eviction.Tracker
	filter  *bloom.BloomFilter
	closed  bool
}

// New opens a store over `holder`, which it owns from now on. Persisted entries seed the eviction tracker and
// the bloom filter.
func New(holder storage.KeyValueHolder, options Options) (*Store, error) {
	if !options.Policy.Valid() {
		return nil, fmt.Errorf("unknown eviction policy %q", options.Policy)
	}
	if options.Registry == nil {
		return nil, errors.New("store needs a type registry")
	}
	metas, err := holder.Entries()
	if err != nil {
		return nil, fmt.Errorf("failed to load entries of %s: %w", options.Name, err)
	}

	tracker := eviction.NewTracker(options.Policy)
	tracker.Load(metas)
	filter := bloom.NewWithEstimates(uint(max(2*options.Capacity, 2*len(metas), 4096)), bloomFalsePositiveRate)
	for _, meta := range metas {
		filter.AddString(meta.Key)
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := &Store{
		name:     options.Name,
		policy:   options.Policy,
		capacity: options.Capacity,
		registry: options.Registry,
		holder:   holder,
		entries:  newEntryCache(ctx),
		cancel:   cancel,
		tracker:  tracker,
		filter:   filter,
	}
	slog.Debug("Store opened.", "name", store.name, "policy", store.policy, "entries", len(metas))
	return store, nil
}

// newEntryCache builds the in-memory entry layer according to configured flags.
func newEntryCache(ctx context.Context) cache.Layer[string, []byte] {
	if !*entryCacheEnabled || *entryCacheCapacity <= 0 || *entryCacheShardCount <= 0 {
		return cache.NewNoOp[string, []byte]()
	}
	shardCount := min(*entryCacheShardCount, *entryCacheCapacity)
	newShard := func() cache.Layer[string, []byte] {
		return cache.NewHyperClock[string, []byte](ctx, max(*entryCacheCapacity/shardCount, 1),
			*entryCacheTickInterval, nil /*evictionCallback*/)
	}
	if shardCount == 1 {
		return newShard()
	}
	return cache.NewSharded(newShard, shardCount)
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Policy() eviction.Policy {
	return s.policy
}

func (s *Store) isClosed() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.closed
}

// Fetch returns the value stored under key. A missing key is reported through found, never as an error.
// Entries that can't be decoded yield an error wrapping registry.ErrDeserialization and are left in place.
func (s *Store) Fetch(key keys.CacheKey) (value any, found bool, err error) {
	if s.isClosed() {
		return nil, false, ErrClosed
	}
	textKey := key.String()

	entry, found, err := s.readEntry(textKey)
	if err != nil || !found {
		if err == nil {
			lookupsMetric.WithLabelValues("miss").Inc()
		}
		return nil, false, err
	}

	tag, payload, err := decodeEntry(entry)
	if err == nil {
		value, err = s.registry.Decode(tag, payload)
	}
	if err != nil {
		corruptionsMetric.Inc()
		s.entries.Remove(textKey)
		slog.Error("Failed to decode cached entry.", "store", s.name, "policy", s.policy, "key", textKey,
			"tag", tag, "error", err)
		return nil, false, fmt.Errorf("failed to fetch %s from %s: %w", textKey, s.name, err)
	}

	lookupsMetric.WithLabelValues("hit").Inc()
	if err := s.recordAccess(textKey); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// readEntry looks the framed entry up in memory, then disk unless the bloom filter rules the key out.
func (s *Store) readEntry(textKey string) ([]byte, bool, error) {
	if entry, found := s.entries.Get(textKey); found {
		entryCacheLookupsMetric.WithLabelValues("hit").Inc()
		return entry, true, nil
	}
	entryCacheLookupsMetric.WithLabelValues("miss").Inc()

	// Evictions and Clear hold the lock too, so a filled entry always has its row on disk.
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	if !s.filter.TestString(textKey) {
		bloomSkipsMetric.Inc()
		return nil, false, nil
	}
	entry, err := s.holder.Get(textKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s from %s: %w", textKey, s.name, err)
	}
	s.entries.Add(textKey, entry, *entryCacheTtl)
	return entry, true, nil
}

// recordAccess updates recency and frequency bookkeeping for policies that care about reads.
func (s *Store) recordAccess(textKey string) error {
	if s.policy != eviction.LeastRecentlyUsed && s.policy != eviction.LeastFrequentlyUsed {
		return nil
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.holder.Touch(textKey); err != nil {
		return fmt.Errorf("failed to record access of %s in %s: %w", textKey, s.name, err)
	}
	s.tracker.Accessed(textKey)
	return nil
}

// Store persists value under key, then evicts entries while the store holds more than its capacity. The entry
// just written is never evicted by its own write.
func (s *Store) Store(key keys.CacheKey, value any) error {
	tag, payload, err := s.registry.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", s.name, err)
	}
	entry, err := encodeEntry(tag, payload)
	if err != nil {
		return err
	}
	textKey := key.String()

	s.mux.Lock()
	defer s.mux.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.holder.Set(textKey, entry); err != nil {
		return fmt.Errorf("failed to store %s in %s: %w", textKey, s.name, err)
	}
	writesMetric.Inc()
	s.filter.AddString(textKey)
	s.entries.Add(textKey, entry, *entryCacheTtl)
	s.tracker.Stored(textKey)
	return s.evictLocked(textKey)
}

func (s *Store) evictLocked(justStored string) error {
	if s.capacity <= 0 {
		return nil
	}
	for s.tracker.Len() > s.capacity {
		victim, found := s.tracker.Evict(justStored)
		if !found {
			return nil
		}
		s.entries.Remove(victim)
		if _, err := s.holder.Delete(victim); err != nil {
			return fmt.Errorf("failed to evict %s from %s: %w", victim, s.name, err)
		}
		evictionsMetric.WithLabelValues(string(s.policy)).Inc()
		slog.Debug("Evicted cache entry.", "store", s.name, "policy", s.policy, "key", victim)
	}
	return nil
}

// GetOrCompute returns the cached value for key, or runs compute and stores its result. Concurrent callers
// missing on the same key share a single computation. A failing computation is returned as-is and never stored,
// so the next call computes again. cached reports whether the value came from the store.
func (s *Store) GetOrCompute(key keys.CacheKey, compute func() (any, error)) (value any, cached bool, err error) {
	value, found, err := s.Fetch(key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return value, true, nil
	}

	value, err, _ = s.flight.Do(key.String(), func() (any, error) {
		computed, err := compute()
		if err != nil {
			return nil, err
		}
		if err := s.Store(key, computed); err != nil {
			return nil, err
		}
		return computed, nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, false, nil
}

// Delete removes the entry stored under key and reports whether it existed.
func (s *Store) Delete(key keys.CacheKey) (bool, error) {
	textKey := key.String()
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	s.entries.Remove(textKey)
	s.tracker.Removed(textKey)
	deleted, err := s.holder.Delete(textKey)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s from %s: %w", textKey, s.name, err)
	}
	return deleted, nil
}

// Len returns the number of persisted entries.
func (s *Store) Len() (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	return s.holder.Len()
}

// Clear removes every entry of the store.
func (s *Store) Clear() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.holder.Clear(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.name, err)
	}
	s.entries.Purge()
	s.filter.ClearAll()
	s.tracker = eviction.NewTracker(s.policy)
	return nil
}

// Close releases the store; closing twice is a no-op.
func (s *Store) Close() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.entries.Purge()
	if err := s.holder.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.name, err)
	}
	return nil
}
