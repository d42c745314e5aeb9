package model

import (
	"time"
)

// Catalog maps a generated image ID to the image it was generated for.
// Every occurrence of an image gets its own entry, so the same image URL
// found on two pages appears twice under different IDs.
type Catalog map[string]Image

// ImageDownload is the outcome of downloading one catalog entry.
type ImageDownload struct {
	// ID is the catalog ID; the file on disk is named after it.
	ID string `json:"id"`

	// Image is the catalog entry that was fetched.
	Image Image `json:"image"`

	// Path is where the image was written. Empty if it was skipped.
	Path string `json:"path,omitempty"`

	// ContentType is the media type the server reported.
	ContentType string `json:"content_type,omitempty"`

	// Extension is the file extension derived from ContentType.
	Extension string `json:"extension,omitempty"`

	// Bytes is the number of bytes written.
	Bytes int64 `json:"bytes"`

	// SHA3 is the hex SHA3-256 digest of the written file.
	SHA3 string `json:"sha3,omitempty"`

	// EXIF holds selected EXIF tags for jpg/tif files when extraction is enabled.
	EXIF map[string]string `json:"exif,omitempty"`

	// Error describes why the download was skipped. Empty on success.
	Error string `json:"error,omitempty"`
}

// Succeeded reports whether the image was written to disk.
func (d ImageDownload) Succeeded() bool {
	return d.Error == "" && d.Path != ""
}

// CrawlReport collects everything produced by one crawl run.
// It is filled in by the crawl command and then by the post-crawl pipeline.
type CrawlReport struct {
	// Seed is the URL the crawl started from.
	Seed string `json:"seed"`

	// MaxLinks and MaxImages are the bounds the run was configured with.
	MaxLinks  int `json:"max_links"`
	MaxImages int `json:"max_images"`

	// StartedAt and FinishedAt bracket the crawl phase.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Graph is the completed link graph.
	Graph *LinkGraph `json:"-"`

	// Catalog is the generated image catalog.
	Catalog Catalog `json:"-"`

	// Downloads lists one entry per attempted download, in attempt order.
	Downloads []ImageDownload `json:"downloads,omitempty"`

	// ImageDir, LinksJSON and CatalogJSON are the output locations.
	ImageDir    string `json:"image_dir"`
	LinksJSON   string `json:"links_json"`
	CatalogJSON string `json:"catalog_json"`

	// PerformedSteps records the post-crawl steps that ran.
	PerformedSteps []string `json:"performed_steps,omitempty"`

	// Error is the last step error, if any.
	Error        error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// NewCrawlReport creates a report for a crawl starting at seed.
func NewCrawlReport(seed string) *CrawlReport {
	return &CrawlReport{
		Seed:           seed,
		Catalog:        make(Catalog),
		Downloads:      make([]ImageDownload, 0),
		PerformedSteps: make([]string, 0),
	}
}

// Pages returns the number of nodes in the graph.
func (r *CrawlReport) Pages() int {
	if r.Graph == nil {
		return 0
	}
	return r.Graph.Size()
}

// DownloadedCount returns the number of images written to disk.
func (r *CrawlReport) DownloadedCount() int {
	n := 0
	for _, d := range r.Downloads {
		if d.Succeeded() {
			n++
		}
	}
	return n
}

// ExtensionCounts returns how many downloaded files have each extension.
func (r *CrawlReport) ExtensionCounts() map[string]int {
	counts := make(map[string]int)
	for _, d := range r.Downloads {
		if d.Succeeded() {
			counts[d.Extension]++
		}
	}
	return counts
}

// Duration returns the wall time of the crawl phase.
func (r *CrawlReport) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
