// Generic doubly linked list shared by the eviction trackers and the in-memory CLOCK cache.
// Nodes are handed out to callers so that removals and moves are O(1) given the node.

package types

// LinkedListNode represents a node in the doubly linked list.
type LinkedListNode[V any] struct {
	next  *LinkedListNode[V]
	prev  *LinkedListNode[V]
	list  *LinkedList[V] // The list that currently owns the node; nil once removed.
	Value V
}

// Next returns the next node in the list.
func (n *LinkedListNode[V]) Next() *LinkedListNode[V] {
	return n.next
}

// Prev returns the previous node in the list.
func (n *LinkedListNode[V]) Prev() *LinkedListNode[V] {
	return n.prev
}

// LinkedList represents a doubly linked list. The zero value is an empty list ready to use.
type LinkedList[V any] struct {
	head *LinkedListNode[V]
	tail *LinkedListNode[V]
	size int
}

// Len returns the number of elements in the list.
func (l *LinkedList[V]) Len() int {
	return l.size
}

// Front returns the first node of the list or nil if the list is empty.
func (l *LinkedList[V]) Front() *LinkedListNode[V] {
	return l.head
}

// Back returns the last node of the list or nil if the list is empty.
func (l *LinkedList[V]) Back() *LinkedListNode[V] {
	return l.tail
}

// Contains reports whether the node is currently linked into this list.
func (l *LinkedList[V]) Contains(n *LinkedListNode[V]) bool {
	return n != nil && n.list == l
}

// Remove removes a node from the list. Removing a node that isn't part of the list is a no-op.
func (l *LinkedList[V]) Remove(n *LinkedListNode[V]) {
	if !l.Contains(n) {
		return
	}
	l.unlink(n)
	l.size--
}

// unlink detaches the node from its neighbours without touching the size.
func (l *LinkedList[V]) unlink(n *LinkedListNode[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else { // Node is the head.
		l.head = n.next
	}

	if n.next != nil {
		n.next.prev = n.prev
	} else { // Node is the tail.
		l.tail = n.prev
	}

	// Clean up the removed node's pointers.
	n.next = nil
	n.prev = nil
	n.list = nil
}

// PushFront adds a new value to the front of the list.
func (l *LinkedList[V]) PushFront(v V) *LinkedListNode[V] {
	n := &LinkedListNode[V]{Value: v, next: l.head, list: l}
	if l.head != nil {
		l.head.prev = n
	} else { // List was empty.
		l.tail = n
	}
	l.head = n
	l.size++
	return n
}

// PushBack adds a new value to the back of the list.
func (l *LinkedList[V]) PushBack(v V) *LinkedListNode[V] {
	n := &LinkedListNode[V]{Value: v, prev: l.tail, list: l}
	if l.tail != nil {
		l.tail.next = n
	} else { // List was empty.
		l.head = n
	}
	l.tail = n
	l.size++
	return n
}

// InsertAfter inserts a new value right after `mark` and returns its node.
// If `mark` isn't part of the list, the value is pushed to the back.
func (l *LinkedList[V]) InsertAfter(v V, mark *LinkedListNode[V]) *LinkedListNode[V] {
	if !l.Contains(mark) || mark == l.tail {
		return l.PushBack(v)
	}
	n := &LinkedListNode[V]{Value: v, prev: mark, next: mark.next, list: l}
	mark.next.prev = n
	mark.next = n
	l.size++
	return n
}

// InsertBefore inserts a new value right before `mark` and returns its node.
// If `mark` isn't part of the list, the value is pushed to the front.
func (l *LinkedList[V]) InsertBefore(v V, mark *LinkedListNode[V]) *LinkedListNode[V] {
	if !l.Contains(mark) || mark == l.head {
		return l.PushFront(v)
	}
	return l.InsertAfter(v, mark.prev)
}

// MoveToBack moves the node to the back of the list, keeping the same node pointer.
func (l *LinkedList[V]) MoveToBack(n *LinkedListNode[V]) {
	if !l.Contains(n) || l.tail == n {
		return
	}
	l.unlink(n)
	n.list = l
	n.prev = l.tail
	l.tail.next = n // Tail can't be nil as the list had at least two nodes.
	l.tail = n
}
