package crawler

import (
	"sync"

	"github.com/nao1215/murkmaw/internal/model"
)

// CrawlerState is the state shared by all crawl workers: the frontier
// queue, the link graph and the bound on discovered pages.
//
// The queue and the graph have independent locks. No method holds both,
// and none holds either across network I/O.
type CrawlerState struct {
	// queue has its own internal lock.
	queue *Queue

	// graphMu guards graph. Merge takes the write lock; everything else reads.
	graphMu sync.RWMutex
	graph   *model.LinkGraph

	// maxLinks is the soft bound on graph size that ends the crawl.
	maxLinks int
}

// StateOption configures a CrawlerState.
type StateOption func(*CrawlerState)

// WithGraph sets the graph the crawl merges into.
// The default is an empty graph with a sequential allocator.
func WithGraph(graph *model.LinkGraph) StateOption {
	return func(s *CrawlerState) {
		s.graph = graph
	}
}

// NewCrawlerState creates crawl state whose queue holds the seed.
// The seed is normalized the way scraped links are, so a seed with a
// fragment is not crawled a second time when a page links to it.
func NewCrawlerState(seedURL string, maxLinks int, opts ...StateOption) *CrawlerState {
	s := &CrawlerState{
		queue:    NewQueue(LinkPath{Child: NormalizeURL(seedURL)}),
		maxLinks: maxLinks,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.graph == nil {
		s.graph = model.NewLinkGraph()
	}

	return s
}

// Queue returns the frontier queue.
func (s *CrawlerState) Queue() *Queue {
	return s.queue
}

// MaxLinks returns the configured bound.
func (s *CrawlerState) MaxLinks() int {
	return s.maxLinks
}

// Size returns the number of nodes in the graph.
func (s *CrawlerState) Size() int {
	s.graphMu.RLock()
	defer s.graphMu.RUnlock()
	return s.graph.Size()
}

// Visited reports whether url is already in the graph.
func (s *CrawlerState) Visited(url string) bool {
	s.graphMu.RLock()
	defer s.graphMu.RUnlock()
	return s.graph.Visited(url)
}

// BoundReached reports whether the graph has reached maxLinks nodes.
func (s *CrawlerState) BoundReached() bool {
	return s.Size() >= s.maxLinks
}

// merge folds a scraped page into the graph under the write lock and
// reports whether it did.
//
// Design decision: We check Visited again under the write lock, even
// though the queue already hands each URL out once, because:
//  1. The unlocked check in the worker and the merge are separate
//     critical sections, and Push bypasses the queue's claimed set
//  2. A page merged twice would append its titles and images twice
//
// Only the first merge is kept. Later ones are discarded.
func (s *CrawlerState) merge(path LinkPath, result ScrapeResult) (bool, error) {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	if s.graph.Visited(path.Child) {
		return false, nil
	}
	if err := s.graph.Merge(path.Child, path.Parent, result.Links, result.Images, result.Titles); err != nil {
		return false, err
	}
	return true, nil
}

// unvisited returns the links not yet in the graph, under the read lock.
func (s *CrawlerState) unvisited(links []string) []string {
	s.graphMu.RLock()
	defer s.graphMu.RUnlock()

	fresh := make([]string, 0, len(links))
	for _, link := range links {
		if !s.graph.Visited(link) {
			fresh = append(fresh, link)
		}
	}
	return fresh
}

// Graph returns the graph for read-out once every worker has stopped.
// It must not be used while a crawl is running.
func (s *CrawlerState) Graph() *model.LinkGraph {
	return s.graph
}
