// Cache entries live in key-value holders: one holder per cache namespace (computation identity + eviction policy).
// Besides the raw entry bytes, holders persist the bookkeeping eviction policies need to survive restarts.

package storage

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

var ErrKeyNotFound = errors.New("key was not found")

// EntryMeta is the eviction bookkeeping kept next to every entry.
type EntryMeta struct {
	Key        string
	Seq        int64     // Monotonic insertion sequence; ties on timestamps are broken by it.
	StoredAt   time.Time // Last time the entry was written.
	AccessedAt time.Time // Last time the entry was written or read.
	Accesses   int64     // Number of reads since the entry was written.
}

// KeyValueHolder persists opaque entry bytes under string keys. Every single call is atomic on its own;
// there are no cross-key transactions.
type KeyValueHolder interface {
	// Get returns the stored bytes or an error wrapping ErrKeyNotFound.
	Get(key string) ([]byte, error)
	// Set inserts or replaces the entry, resetting its access bookkeeping.
	Set(key string, value []byte) error
	// Touch records a read of the entry. Touching a missing key is not an error.
	Touch(key string) error
	// Delete removes the entry and reports whether it existed.
	Delete(key string) (bool, error)
	// Entries lists the bookkeeping of every stored entry, ordered by Seq.
	Entries() ([]EntryMeta, error)
	Len() (int, error)
	Clear() error
	Close() error
}

var _ KeyValueHolder = (*InMemoryKeyValueHolder)(nil)

type inMemoryEntry struct {
	value []byte
	meta  EntryMeta
}

// InMemoryKeyValueHolder keeps entries in a map; nothing survives the process. Mostly useful in tests.
type InMemoryKeyValueHolder struct { // Implements KeyValueHolder.
	mux  sync.RWMutex
	data map[string]*inMemoryEntry
	seq  int64
	now  func() time.Time
}

func NewInMemoryKeyValueHolder() *InMemoryKeyValueHolder {
	return &InMemoryKeyValueHolder{data: make(map[string]*inMemoryEntry), now: time.Now}
}

func (i *InMemoryKeyValueHolder) Get(key string) ([]byte, error) {
	i.mux.RLock()
	defer i.mux.RUnlock()

	if entry, exists := i.data[key]; exists {
		return slices.Clone(entry.value), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

func (i *InMemoryKeyValueHolder) Set(key string, value []byte) error {
	i.mux.Lock()
	defer i.mux.Unlock()

	if i.data == nil {
		return errors.New("in-memory holder is closed")
	}
	now := i.now()
	entry, exists := i.data[key]
	if !exists {
		i.seq++
		entry = &inMemoryEntry{meta: EntryMeta{Key: key, Seq: i.seq}}
		i.data[key] = entry
	}
	entry.value = slices.Clone(value)
	entry.meta.StoredAt = now
	entry.meta.AccessedAt = now
	entry.meta.Accesses = 0
	return nil
}

func (i *InMemoryKeyValueHolder) Touch(key string) error {
	i.mux.Lock()
	defer i.mux.Unlock()

	if entry, exists := i.data[key]; exists {
		entry.meta.AccessedAt = i.now()
		entry.meta.Accesses++
	}
	return nil
}

func (i *InMemoryKeyValueHolder) Delete(key string) (bool, error) {
	i.mux.Lock()
	defer i.mux.Unlock()

	_, exists := i.data[key]
	delete(i.data, key)
	return exists, nil
}

func (i *InMemoryKeyValueHolder) Entries() ([]EntryMeta, error) {
	i.mux.RLock()
	defer i.mux.RUnlock()

	metas := make([]EntryMeta, 0, len(i.data))
	for entry := range maps.Values(i.data) {
		metas = append(metas, entry.meta)
	}
	slices.SortFunc(metas, func(a, b EntryMeta) int { return cmp.Compare(a.Seq, b.Seq) })
	return metas, nil
}

func (i *InMemoryKeyValueHolder) Len() (int, error) {
	i.mux.RLock()
	defer i.mux.RUnlock()
	return len(i.data), nil
}

func (i *InMemoryKeyValueHolder) Clear() error {
	i.mux.Lock()
	defer i.mux.Unlock()
	clear(i.data)
	return nil
}

func (i *InMemoryKeyValueHolder) Close() error {
	i.mux.Lock()
	defer i.mux.Unlock()
	i.data = nil
	return nil
}
