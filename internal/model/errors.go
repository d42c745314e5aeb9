package model

import "errors"

// ErrDuplicateIdentity is returned by LinkGraph.Merge when the graph's
// allocator produces an ID that already belongs to a different URL.
// It signals a broken IDAllocator, not a crawl-time condition.
var ErrDuplicateIdentity = errors.New("duplicate link identity")
