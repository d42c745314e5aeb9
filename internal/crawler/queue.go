package crawler

import "sync"

// LinkPath is one unit of crawl work: a page to visit and the page that
// linked to it. Parent is empty for the seed.
type LinkPath struct {
	Parent string
	Child  string
}

// Queue is the crawl frontier. Items are popped last-in first-out.
//
// Besides the items themselves, Queue remembers which child URLs have been
// handed to a worker, so that a URL queued several times is only ever
// handed out once, and counts the items currently being processed, so an
// empty queue can be told apart from an exhausted crawl.
//
// Design decision: We pop last-in first-out rather than first-in
// first-out because:
//  1. A crawl that stops at the link bound goes deep along fresh links
//     instead of spending the budget on the seed's immediate neighbours
//  2. The stack is a plain slice, so push and pop never shift memory
//
// Design decision: We keep a claimed set next to the stack rather than
// relying on the graph's Visited check because:
//  1. A page enters the graph only after its fetch completes, so two
//     workers could otherwise pop and fetch the same URL meanwhile
//  2. The check and the hand-out happen under one lock, so a URL is
//     fetched at most once even when it was queued from many parents
type Queue struct {
	mu sync.Mutex

	// items is the LIFO stack of pending work.
	items []LinkPath

	// pending counts queued items per child URL.
	pending map[string]int

	// claimed holds every child URL already handed to a worker.
	claimed map[string]struct{}

	// inFlight counts items popped but not yet released.
	inFlight int
}

// NewQueue creates a queue holding the given items.
func NewQueue(items ...LinkPath) *Queue {
	q := &Queue{
		items:   make([]LinkPath, 0, len(items)),
		pending: make(map[string]int),
		claimed: make(map[string]struct{}),
	}
	for _, item := range items {
		q.push(item)
	}
	return q
}

// Push adds item unconditionally.
func (q *Queue) Push(item LinkPath) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(item)
}

// PushIfNew adds item unless its child URL is already queued or was
// already handed out. It reports whether the item was added.
func (q *Queue) PushIfNew(item LinkPath) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending[item.Child] > 0 {
		return false
	}
	if _, ok := q.claimed[item.Child]; ok {
		return false
	}
	q.push(item)
	return true
}

func (q *Queue) push(item LinkPath) {
	q.items = append(q.items, item)
	q.pending[item.Child]++
}

// Pop removes and returns the most recently pushed item whose child URL
// has not been handed out yet. Items for already claimed URLs are
// discarded on the way. Every successful Pop must be paired with Release.
func (q *Queue) Pop() (LinkPath, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 {
		last := len(q.items) - 1
		item := q.items[last]
		q.items[last] = LinkPath{}
		q.items = q.items[:last]

		q.pending[item.Child]--
		if q.pending[item.Child] <= 0 {
			delete(q.pending, item.Child)
		}

		if _, ok := q.claimed[item.Child]; ok {
			continue
		}
		q.claimed[item.Child] = struct{}{}
		q.inFlight++
		return item, true
	}

	return LinkPath{}, false
}

// Release marks a popped item as fully processed.
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Exhausted reports whether nothing is queued and no popped item is still
// being processed, meaning no more work can appear.
func (q *Queue) Exhausted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.inFlight == 0
}
