package eviction

import (
	"cmp"
	"slices"

	"github.com/nobletooth/kissml/pkg/storage"
	"github.com/nobletooth/kissml/pkg/types"
)

// frequencyBucket groups the keys sharing an access count, oldest first.
type frequencyBucket struct {
	accesses int64
	keys     types.LinkedList[string]
}

type frequencyPosition struct {
	bucket *types.LinkedListNode[*frequencyBucket]
	node   *types.LinkedListNode[string]
}

// frequencyTracker is an O(1) LFU: buckets are kept in ascending access count order, so the victim is always the
// oldest key of the first bucket.
type frequencyTracker struct {
	buckets types.LinkedList[*frequencyBucket]
	index   map[string]frequencyPosition
}

func newFrequencyTracker() *frequencyTracker {
	return &frequencyTracker{index: make(map[string]frequencyPosition)}
}

// bucketAfter returns the bucket for `accesses` right after `mark` (nil means the front), creating it when missing.
func (f *frequencyTracker) bucketAfter(mark *types.LinkedListNode[*frequencyBucket],
	accesses int64) *types.LinkedListNode[*frequencyBucket] {
	next := f.buckets.Front()
	if mark != nil {
		next = mark.Next()
	}
	if next != nil && next.Value.accesses == accesses {
		return next
	}
	if mark == nil {
		return f.buckets.PushFront(&frequencyBucket{accesses: accesses})
	}
	return f.buckets.InsertAfter(&frequencyBucket{accesses: accesses}, mark)
}

// detach removes the key from its bucket, dropping the bucket once it's empty. It returns the node preceding the
// old bucket position, so callers can reinsert relative to it.
func (f *frequencyTracker) detach(key string) (prev *types.LinkedListNode[*frequencyBucket], accesses int64, ok bool) {
	position, exists := f.index[key]
	if !exists {
		return nil, 0, false
	}
	delete(f.index, key)
	bucket := position.bucket.Value
	bucket.keys.Remove(position.node)
	prev, accesses = position.bucket.Prev(), bucket.accesses
	if bucket.keys.Len() == 0 {
		f.buckets.Remove(position.bucket)
		return prev, accesses, true
	}
	return position.bucket, accesses, true
}

func (f *frequencyTracker) attach(key string, bucket *types.LinkedListNode[*frequencyBucket]) {
	f.index[key] = frequencyPosition{bucket: bucket, node: bucket.Value.keys.PushBack(key)}
}

func (f *frequencyTracker) Load(entries []storage.EntryMeta) {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b storage.EntryMeta) int {
		return cmp.Or(cmp.Compare(a.Accesses, b.Accesses), a.AccessedAt.Compare(b.AccessedAt),
			cmp.Compare(a.Seq, b.Seq))
	})
	for _, entry := range sorted {
		if _, exists := f.index[entry.Key]; exists {
			continue
		}
		accesses := max(entry.Accesses, 0)
		// Sorted input makes this walk stop right at the back.
		mark := f.buckets.Back()
		for mark != nil && mark.Value.accesses >= accesses {
			mark = mark.Prev()
		}
		f.attach(entry.Key, f.bucketAfter(mark, accesses))
	}
}

func (f *frequencyTracker) Stored(key string) {
	// Writes reset the access count, matching the persisted bookkeeping.
	f.detach(key)
	f.attach(key, f.bucketAfter(nil, 0))
}

func (f *frequencyTracker) Accessed(key string) {
	prev, accesses, ok := f.detach(key)
	if !ok {
		return
	}
	f.attach(key, f.bucketAfter(prev, accesses+1))
}

func (f *frequencyTracker) Removed(key string) {
	f.detach(key)
}

func (f *frequencyTracker) Evict(exclude string) (string, bool) {
	for bucket := f.buckets.Front(); bucket != nil; bucket = bucket.Next() {
		for node := bucket.Value.keys.Front(); node != nil; node = node.Next() {
			if node.Value == exclude {
				continue
			}
			victim := node.Value
			f.detach(victim)
			return victim, true
		}
	}
	return "", false
}

func (f *frequencyTracker) Len() int {
	return len(f.index)
}
