package model

import (
	"testing"
	"time"
)

// TestNewCrawlReport tests the CrawlReport constructor.
func TestNewCrawlReport(t *testing.T) {
	t.Parallel()

	seed := "https://a.test/"
	report := NewCrawlReport(seed)

	t.Run("sets seed", func(t *testing.T) {
		t.Parallel()
		if report.Seed != seed {
			t.Errorf("got %q, expected %q", report.Seed, seed)
		}
	})

	t.Run("initializes collections", func(t *testing.T) {
		t.Parallel()
		if report.Catalog == nil {
			t.Error("Catalog should be initialized")
		}
		if report.Downloads == nil {
			t.Error("Downloads should be initialized")
		}
		if report.PerformedSteps == nil {
			t.Error("PerformedSteps should be initialized")
		}
	})

	t.Run("has no pages without a graph", func(t *testing.T) {
		t.Parallel()
		if report.Pages() != 0 {
			t.Errorf("got %d pages, expected 0", report.Pages())
		}
	})
}

// TestCrawlReportPages tests that Pages follows the graph size.
func TestCrawlReportPages(t *testing.T) {
	t.Parallel()

	graph := NewLinkGraph()
	if err := graph.Merge("https://a.test/", "", nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := graph.Merge("https://a.test/b", "https://a.test/", nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report := NewCrawlReport("https://a.test/")
	report.Graph = graph

	if report.Pages() != 2 {
		t.Errorf("got %d pages, expected 2", report.Pages())
	}
}

// TestCrawlReportDownloads tests the download counters.
func TestCrawlReportDownloads(t *testing.T) {
	t.Parallel()

	report := NewCrawlReport("https://a.test/")
	report.Downloads = []ImageDownload{
		{ID: "1", Path: "images/1.png", Extension: "png"},
		{ID: "2", Path: "images/2.png", Extension: "png"},
		{ID: "3", Path: "images/3.jpg", Extension: "jpg"},
		{ID: "4", Error: "unsupported content type text/html"},
	}

	t.Run("counts only succeeded downloads", func(t *testing.T) {
		t.Parallel()
		if got := report.DownloadedCount(); got != 3 {
			t.Errorf("got %d, expected 3", got)
		}
	})

	t.Run("groups by extension", func(t *testing.T) {
		t.Parallel()
		counts := report.ExtensionCounts()
		if counts["png"] != 2 {
			t.Errorf("got %d png, expected 2", counts["png"])
		}
		if counts["jpg"] != 1 {
			t.Errorf("got %d jpg, expected 1", counts["jpg"])
		}
		if len(counts) != 2 {
			t.Errorf("got %d extensions, expected 2", len(counts))
		}
	})
}

// TestImageDownloadSucceeded tests the success predicate.
func TestImageDownloadSucceeded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		download ImageDownload
		expected bool
	}{
		{"written file", ImageDownload{Path: "images/a.png"}, true},
		{"error", ImageDownload{Path: "images/a.png", Error: "boom"}, false},
		{"no path", ImageDownload{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.download.Succeeded(); got != tt.expected {
				t.Errorf("got %v, expected %v", got, tt.expected)
			}
		})
	}
}

// TestCrawlReportDuration tests the crawl duration.
func TestCrawlReportDuration(t *testing.T) {
	t.Parallel()

	report := NewCrawlReport("https://a.test/")
	if report.Duration() != 0 {
		t.Errorf("expected zero duration before the crawl, got %v", report.Duration())
	}

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	report.StartedAt = start
	report.FinishedAt = start.Add(3 * time.Second)
	if report.Duration() != 3*time.Second {
		t.Errorf("got %v, expected 3s", report.Duration())
	}
}
