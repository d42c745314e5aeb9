package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Default coordinator settings.
const (
	// DefaultWorkers is the number of concurrent crawl workers.
	DefaultWorkers = 4

	// DefaultIdleInterval is how long a worker sleeps on an empty queue.
	DefaultIdleInterval = 500 * time.Millisecond
)

// Fetcher scrapes a single page. *Scraper implements it.
// Implementations must absorb per-page failures into an empty result.
type Fetcher interface {
	Scrape(ctx context.Context, pageURL string, opts ScrapeOption) ScrapeResult
}

// Coordinator runs a fixed pool of crawl workers over one CrawlerState.
// There is no dispatcher: every worker pops, fetches, merges and pushes on
// its own, and stops when the bound is reached or the frontier is exhausted.
type Coordinator struct {
	state   *CrawlerState
	fetcher Fetcher

	// workers is the pool size.
	workers int

	// idleInterval is the sleep between polls of an empty queue.
	idleInterval time.Duration

	logger *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithWorkers sets the number of workers. Values below 1 are ignored.
func WithWorkers(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithIdleInterval sets the empty-queue sleep.
func WithIdleInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.idleInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a Coordinator crawling state with fetcher.
func NewCoordinator(state *CrawlerState, fetcher Fetcher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		state:        state,
		fetcher:      fetcher,
		workers:      DefaultWorkers,
		idleInterval: DefaultIdleInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

// State returns the shared crawl state.
func (c *Coordinator) State() *CrawlerState {
	return c.state
}

// Run starts the workers and blocks until all of them have stopped.
//
// It returns an error only for structural failures (a graph identity
// violation) or when ctx is cancelled. The bound is soft: workers finish
// their in-flight page before checking it, so the graph may end up
// slightly larger than maxLinks.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("starting crawl",
		"workers", c.workers,
		"maxLinks", c.state.MaxLinks(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range c.workers {
		g.Go(func() error {
			return c.work(gctx, i)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl interrupted: %w", err)
	}

	c.logger.Info("crawl finished", "pages", c.state.Size())
	return nil
}

// work is the loop run by each worker.
//
// Design decision: A worker that finds the queue empty exits only when
// the queue is also exhausted, that is when no other worker holds a page
// in flight. We do not exit on the first empty Pop because:
//  1. A page still being fetched may push new links once it is merged
//  2. Exiting early would leave those links to fewer workers, or to none
//
// Otherwise the worker idles and tries again, so a site whose links are
// all known ends the crawl without waiting for the bound.
func (c *Coordinator) work(ctx context.Context, worker int) error {
	queue := c.state.Queue()

	for {
		if ctx.Err() != nil {
			return nil
		}

		path, ok := queue.Pop()
		if !ok {
			if queue.Exhausted() {
				c.logger.Debug("frontier exhausted", "worker", worker)
				return nil
			}
			if !c.idle(ctx) {
				return nil
			}
			if c.state.BoundReached() {
				return nil
			}
			continue
		}

		err := c.visit(ctx, path)
		queue.Release()
		if err != nil {
			return err
		}

		if c.state.BoundReached() {
			c.logger.Debug("bound reached", "worker", worker, "size", c.state.Size())
			return nil
		}
	}
}

// visit fetches one page, merges it and pushes its new links.
func (c *Coordinator) visit(ctx context.Context, path LinkPath) error {
	if c.state.Visited(path.Child) {
		return nil
	}

	result := c.fetcher.Scrape(ctx, path.Child, ScrapeAll)

	merged, err := c.state.merge(path, result)
	if err != nil {
		return fmt.Errorf("failed to update link graph with %s: %w", path.Child, err)
	}
	if !merged {
		c.logger.Debug("page merged by another worker", "url", path.Child)
		return nil
	}
	if result.Empty() {
		c.logger.Debug("page contributed nothing", "url", path.Child)
		return nil
	}

	pushed := 0
	for _, link := range c.state.unvisited(result.Links) {
		if c.state.Queue().PushIfNew(LinkPath{Parent: path.Child, Child: link}) {
			pushed++
		}
	}

	c.logger.Debug("merged page",
		"url", path.Child,
		"links", len(result.Links),
		"queued", pushed,
	)
	return nil
}

// idle sleeps for the idle interval. It returns false if ctx ends first.
func (c *Coordinator) idle(ctx context.Context) bool {
	timer := time.NewTimer(c.idleInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
