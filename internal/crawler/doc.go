// Package crawler discovers pages reachable from a seed URL and records
// them in a model.LinkGraph.
//
// # Components
//
//   - Scraper: fetches one page and extracts links, images and titles
//   - Queue: the LIFO frontier of (parent, child) work items
//   - CrawlerState: queue + lock-guarded graph + the maxLinks bound
//   - Coordinator: a fixed pool of workers draining the queue
//   - StatusReporter: read-only progress polling
//
// # Worker loop
//
// Each worker pops an item, skips it if the child URL is already in the
// graph, fetches the page with no lock held, merges the result under the
// graph write lock, and pushes every unvisited, unqueued link. Workers stop
// once the graph holds maxLinks nodes or the frontier is exhausted.
//
// The queue and the graph are guarded separately and never locked together.
// A URL is handed to at most one worker, so each page is fetched and
// merged once.
//
// # Usage
//
//	state := crawler.NewCrawlerState("https://example.com/", 100)
//	scraper := crawler.NewScraper(httpClient)
//	err := crawler.NewCoordinator(state, scraper, crawler.WithWorkers(4)).Run(ctx)
//	graph := state.Graph()
package crawler
