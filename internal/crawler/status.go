package crawler

import (
	"context"
	"time"
)

// DefaultStatusInterval is how often a StatusReporter polls.
const DefaultStatusInterval = 500 * time.Millisecond

// Status is a point-in-time view of crawl progress.
type Status struct {
	// Discovered is the number of nodes in the graph.
	Discovered int

	// MaxLinks is the configured bound.
	MaxLinks int

	// Queued is the number of pending frontier items.
	Queued int
}

// StatusReporter polls crawl progress for display. It only reads state.
type StatusReporter struct {
	state    *CrawlerState
	interval time.Duration
	report   func(Status)
}

// NewStatusReporter creates a reporter that calls report every interval.
// A non-positive interval falls back to DefaultStatusInterval.
func NewStatusReporter(state *CrawlerState, interval time.Duration, report func(Status)) *StatusReporter {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	return &StatusReporter{
		state:    state,
		interval: interval,
		report:   report,
	}
}

// Snapshot returns the current status.
func (r *StatusReporter) Snapshot() Status {
	return Status{
		Discovered: r.state.Size(),
		MaxLinks:   r.state.MaxLinks(),
		Queued:     r.state.Queue().Len(),
	}
}

// Run reports until ctx is done or the bound is reached, then reports once
// more so the final state is always shown.
func (r *StatusReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer func() { r.report(r.Snapshot()) }()

	for {
		if r.state.BoundReached() {
			return
		}
		r.report(r.Snapshot())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
