package model

import "sync/atomic"

// IDAllocator hands out link identities.
// Next must never return the same value twice for one graph.
type IDAllocator interface {
	Next() LinkID
}

// SequentialAllocator returns 0, 1, 2, ... in order.
// The zero value is ready to use and safe for concurrent use.
type SequentialAllocator struct {
	next atomic.Uint64
}

// NewSequentialAllocator returns an allocator whose first ID is start.
func NewSequentialAllocator(start LinkID) *SequentialAllocator {
	a := &SequentialAllocator{}
	a.next.Store(uint64(start))
	return a
}

// Next returns the next unused ID.
func (a *SequentialAllocator) Next() LinkID {
	return LinkID(a.next.Add(1) - 1)
}
