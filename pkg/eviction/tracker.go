package eviction

import (
	"cmp"
	"slices"

	"github.com/nobletooth/kissml/pkg/storage"
	"github.com/nobletooth/kissml/pkg/types"
	"github.com/nobletooth/kissml/pkg/utils"
)

// Tracker mirrors the keys of one cache instance and picks eviction victims according to its policy.
// Trackers aren't thread-safe; the owning store serializes calls.
type Tracker interface {
	// Load seeds the tracker with entries persisted by an earlier process, in any order.
	Load(entries []storage.EntryMeta)
	// Stored records a successful write of key.
	Stored(key string)
	// Accessed records a successful read of key.
	Accessed(key string)
	// Removed forgets key; unknown keys are ignored.
	Removed(key string)
	// Evict picks the next victim other than `exclude` and forgets it. It returns false when there's none.
	Evict(exclude string) (string, bool)
	Len() int
}

// NewTracker returns the tracker implementing the given policy.
func NewTracker(policy Policy) Tracker {
	switch policy {
	case None:
		return &noneTracker{}
	case LeastRecentlyStored:
		return newOrderTracker(false /*promoteOnAccess*/)
	case LeastRecentlyUsed:
		return newOrderTracker(true /*promoteOnAccess*/)
	case LeastFrequentlyUsed:
		return newFrequencyTracker()
	default:
		utils.RaiseInvariant("eviction", "unknown_policy", "Got a tracker request for an unknown policy.",
			"policy", policy)
		return &noneTracker{}
	}
}

// noneTracker never evicts; it doesn't even keep the keys around.
type noneTracker struct{}

func (n *noneTracker) Load([]storage.EntryMeta)    {}
func (n *noneTracker) Stored(string)               {}
func (n *noneTracker) Accessed(string)             {}
func (n *noneTracker) Removed(string)              {}
func (n *noneTracker) Evict(string) (string, bool) { return "", false }
func (n *noneTracker) Len() int                    { return 0 }

// orderTracker keeps keys in a list, oldest at the front. With promoteOnAccess it is an LRU, otherwise a FIFO.
type orderTracker struct {
	promoteOnAccess bool
	order           types.LinkedList[string]
	index           map[string]*types.LinkedListNode[string]
}

func newOrderTracker(promoteOnAccess bool) *orderTracker {
	return &orderTracker{promoteOnAccess: promoteOnAccess, index: make(map[string]*types.LinkedListNode[string])}
}

func (o *orderTracker) Load(entries []storage.EntryMeta) {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b storage.EntryMeta) int {
		at, bt := a.StoredAt, b.StoredAt
		if o.promoteOnAccess {
			at, bt = a.AccessedAt, b.AccessedAt
		}
		return cmp.Or(at.Compare(bt), cmp.Compare(a.Seq, b.Seq))
	})
	for _, entry := range sorted {
		if _, exists := o.index[entry.Key]; !exists {
			o.index[entry.Key] = o.order.PushBack(entry.Key)
		}
	}
}

func (o *orderTracker) Stored(key string) {
	if node, exists := o.index[key]; exists {
		o.order.MoveToBack(node) // A rewrite is the most recent store either way.
		return
	}
	o.index[key] = o.order.PushBack(key)
}

func (o *orderTracker) Accessed(key string) {
	if !o.promoteOnAccess {
		return
	}
	if node, exists := o.index[key]; exists {
		o.order.MoveToBack(node)
	}
}

func (o *orderTracker) Removed(key string) {
	if node, exists := o.index[key]; exists {
		o.order.Remove(node)
		delete(o.index, key)
	}
}

func (o *orderTracker) Evict(exclude string) (string, bool) {
	for node := o.order.Front(); node != nil; node = node.Next() {
		if node.Value == exclude {
			continue
		}
		o.order.Remove(node)
		delete(o.index, node.Value)
		return node.Value, true
	}
	return "", false
}

func (o *orderTracker) Len() int {
	return len(o.index)
}
