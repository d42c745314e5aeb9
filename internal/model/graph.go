package model

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
)

// LinkGraph maps URLs to Link nodes and records the edges between them.
//
// LinkGraph is a plain data structure and is not safe for concurrent use.
// The crawl coordinator guards it with a sync.RWMutex: Merge under the
// write lock, everything else under the read lock.
type LinkGraph struct {
	// links holds every node by identity.
	links map[LinkID]*Link

	// ids is the url -> identity index.
	ids map[string]LinkID

	// alloc assigns identities to unseen URLs.
	alloc IDAllocator
}

// GraphOption configures a LinkGraph.
type GraphOption func(*LinkGraph)

// WithAllocator sets the identity allocator.
// The default is a SequentialAllocator starting at 0.
func WithAllocator(alloc IDAllocator) GraphOption {
	return func(g *LinkGraph) {
		g.alloc = alloc
	}
}

// NewLinkGraph creates an empty graph.
func NewLinkGraph(opts ...GraphOption) *LinkGraph {
	g := &LinkGraph{
		links: make(map[LinkID]*Link),
		ids:   make(map[string]LinkID),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.alloc == nil {
		g.alloc = &SequentialAllocator{}
	}

	return g
}

// Merge folds one page's scrape results into the graph.
//
// The node for url is created if needed. If parentURL is already known,
// the edge parent -> url is recorded on both nodes. childURLs that are
// already known become children of url right away; unknown ones are not
// recorded here and are linked later, when they are merged with url as
// their parent. Images and titles are appended as given.
//
// Parent and children are resolved before url is created, so a page
// linking to itself on its first merge does not gain a self edge.
func (g *LinkGraph) Merge(url, parentURL string, childURLs []string, images []Image, titles []string) error {
	parentID, hasParent := g.lookup(parentURL)

	knownChildren := make([]LinkID, 0, len(childURLs))
	for _, child := range childURLs {
		if id, ok := g.lookup(child); ok {
			knownChildren = append(knownChildren, id)
		}
	}

	link, err := g.getOrCreate(url)
	if err != nil {
		return err
	}

	if hasParent {
		link.Parents = append(link.Parents, parentID)
	}
	link.Children = append(link.Children, knownChildren...)
	link.Images = append(link.Images, images...)
	link.Titles = append(link.Titles, titles...)

	if hasParent {
		parent, ok := g.links[parentID]
		if !ok {
			return fmt.Errorf("parent %d of %s missing from graph", parentID, url)
		}
		parent.Children = append(parent.Children, link.ID)
	}

	return nil
}

// GetOrCreate returns the identity of url, allocating one if url has
// not been seen before. Repeated calls return the same ID.
func (g *LinkGraph) GetOrCreate(url string) (LinkID, error) {
	link, err := g.getOrCreate(url)
	if err != nil {
		return 0, err
	}
	return link.ID, nil
}

func (g *LinkGraph) getOrCreate(url string) (*Link, error) {
	if id, ok := g.ids[url]; ok {
		return g.links[id], nil
	}

	id := g.alloc.Next()
	if existing, ok := g.links[id]; ok {
		return nil, fmt.Errorf("%w: id %d already assigned to %s, refusing %s",
			ErrDuplicateIdentity, id, existing.URL, url)
	}

	link := newLink(id, url)
	g.links[id] = link
	g.ids[url] = id
	return link, nil
}

func (g *LinkGraph) lookup(url string) (LinkID, bool) {
	if url == "" {
		return 0, false
	}
	id, ok := g.ids[url]
	return id, ok
}

// Size returns the number of distinct URLs in the graph.
func (g *LinkGraph) Size() int {
	return len(g.links)
}

// Visited reports whether url already has an identity.
func (g *LinkGraph) Visited(url string) bool {
	_, ok := g.ids[url]
	return ok
}

// ID returns the identity of url.
func (g *LinkGraph) ID(url string) (LinkID, bool) {
	id, ok := g.ids[url]
	return id, ok
}

// Link returns a copy of the node with the given identity.
func (g *LinkGraph) Link(id LinkID) (Link, bool) {
	link, ok := g.links[id]
	if !ok {
		return Link{}, false
	}
	return link.clone(), true
}

// All yields a copy of every node in ascending ID order.
// Callers must hold read access for the duration of the iteration.
func (g *LinkGraph) All() iter.Seq2[LinkID, Link] {
	return func(yield func(LinkID, Link) bool) {
		for _, id := range slices.Sorted(maps.Keys(g.links)) {
			if !yield(id, g.links[id].clone()) {
				return
			}
		}
	}
}

// graphJSON is the persisted form of a LinkGraph.
type graphJSON struct {
	Links map[LinkID]*Link `json:"links"`
}

// MarshalJSON encodes the node map keyed by ID.
func (g *LinkGraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphJSON{Links: g.links})
}

// UnmarshalJSON restores a graph written by MarshalJSON.
// The allocator is reset to continue after the highest stored ID.
func (g *LinkGraph) UnmarshalJSON(data []byte) error {
	var raw graphJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	links := make(map[LinkID]*Link, len(raw.Links))
	ids := make(map[string]LinkID, len(raw.Links))
	var next LinkID

	for key, link := range raw.Links {
		if link == nil {
			return fmt.Errorf("link %d is null", key)
		}
		if link.ID != key {
			return fmt.Errorf("link keyed %d carries id %d", key, link.ID)
		}
		if other, dup := ids[link.URL]; dup {
			return fmt.Errorf("%w: %s stored as both %d and %d", ErrDuplicateIdentity, link.URL, other, key)
		}
		normalized := newLink(link.ID, link.URL)
		normalized.Children = append(normalized.Children, link.Children...)
		normalized.Parents = append(normalized.Parents, link.Parents...)
		normalized.Images = append(normalized.Images, link.Images...)
		normalized.Titles = append(normalized.Titles, link.Titles...)

		links[key] = normalized
		ids[link.URL] = key
		if key >= next {
			next = key + 1
		}
	}

	g.links = links
	g.ids = ids
	g.alloc = NewSequentialAllocator(next)
	return nil
}
