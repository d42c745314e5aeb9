package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nao1215/murkmaw/internal/config"
	"github.com/nao1215/murkmaw/internal/crawler"
	"github.com/nao1215/murkmaw/internal/images"
	"github.com/nao1215/murkmaw/internal/model"
	"github.com/nao1215/murkmaw/internal/report"
)

// ErrNoGraph is returned by steps that need a link graph when the crawl
// step has not produced one.
var ErrNoGraph = errors.New("no link graph in report")

// CrawlStep crawls from the report's seed and stores the link graph.
type CrawlStep struct {
	client *http.Client

	maxLinks       int
	workers        int
	requestTimeout time.Duration
	userAgent      string
	maxBodySize    int64
	idleInterval   time.Duration

	// status receives progress snapshots while crawling. May be nil.
	status         func(crawler.Status)
	statusInterval time.Duration

	logger *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithCrawlMaxLinks sets the bound on discovered pages.
func WithCrawlMaxLinks(n int) CrawlStepOption {
	return func(s *CrawlStep) {
		s.maxLinks = n
	}
}

// WithCrawlWorkers sets the number of crawl workers.
func WithCrawlWorkers(n int) CrawlStepOption {
	return func(s *CrawlStep) {
		s.workers = n
	}
}

// WithCrawlRequestTimeout sets the per-page timeout.
func WithCrawlRequestTimeout(d time.Duration) CrawlStepOption {
	return func(s *CrawlStep) {
		s.requestTimeout = d
	}
}

// WithCrawlUserAgent sets the User-Agent header for page requests.
func WithCrawlUserAgent(userAgent string) CrawlStepOption {
	return func(s *CrawlStep) {
		s.userAgent = userAgent
	}
}

// WithCrawlMaxBodySize sets the maximum page size parsed.
func WithCrawlMaxBodySize(size int64) CrawlStepOption {
	return func(s *CrawlStep) {
		s.maxBodySize = size
	}
}

// WithCrawlIdleInterval sets how long idle workers wait for new links.
func WithCrawlIdleInterval(d time.Duration) CrawlStepOption {
	return func(s *CrawlStep) {
		s.idleInterval = d
	}
}

// WithCrawlStatus reports progress to fn every interval while crawling.
func WithCrawlStatus(interval time.Duration, fn func(crawler.Status)) CrawlStepOption {
	return func(s *CrawlStep) {
		s.statusInterval = interval
		s.status = fn
	}
}

// WithCrawlLogger sets the logger.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		s.logger = logger
	}
}

// NewCrawlStep creates a crawl step fetching pages with client.
func NewCrawlStep(client *http.Client, opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		client:         client,
		maxLinks:       config.DefaultMaxLinks,
		workers:        config.DefaultWorkers,
		requestTimeout: config.DefaultTimeout,
		userAgent:      config.DefaultUserAgent,
		maxBodySize:    config.DefaultMaxBodySize,
		idleInterval:   crawler.DefaultIdleInterval,
		statusInterval: config.DefaultStatusInterval,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do runs the crawl. A partial graph is stored on the report even if the
// crawl fails, and is then written to LinksJSON right away: the pipeline
// stops at the failed step, so save_links would never run for it.
func (s *CrawlStep) Do(ctx context.Context, crawlReport *model.CrawlReport) error {
	scraper := crawler.NewScraper(s.client,
		crawler.WithRequestTimeout(s.requestTimeout),
		crawler.WithUserAgent(s.userAgent),
		crawler.WithMaxBodySize(s.maxBodySize),
		crawler.WithScraperLogger(s.logger),
	)

	state := crawler.NewCrawlerState(crawlReport.Seed, s.maxLinks)
	coordinator := crawler.NewCoordinator(state, scraper,
		crawler.WithWorkers(s.workers),
		crawler.WithIdleInterval(s.idleInterval),
		crawler.WithLogger(s.logger),
	)

	crawlReport.MaxLinks = s.maxLinks
	crawlReport.StartedAt = time.Now()

	var wg sync.WaitGroup
	statusCtx, stopStatus := context.WithCancel(ctx)
	if s.status != nil {
		reporter := crawler.NewStatusReporter(state, s.statusInterval, s.status)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reporter.Run(statusCtx)
		}()
	}

	err := coordinator.Run(ctx)

	stopStatus()
	wg.Wait()

	crawlReport.FinishedAt = time.Now()
	crawlReport.Graph = state.Graph()

	s.logger.Info("crawl completed",
		"pages", state.Size(),
		"duration", crawlReport.Duration(),
	)

	if err != nil {
		// ctx may already be cancelled; the graph is written regardless.
		if saveErr := NewSaveLinksStep(s.logger).Do(context.WithoutCancel(ctx), crawlReport); saveErr != nil {
			s.logger.Error("failed to save partial link graph", "error", saveErr)
		}
		return fmt.Errorf("crawl failed: %w", err)
	}
	return nil
}

// SaveLinksStep writes the link graph to the report's LinksJSON path.
type SaveLinksStep struct {
	logger *slog.Logger
}

// NewSaveLinksStep creates a SaveLinksStep.
func NewSaveLinksStep(logger *slog.Logger) *SaveLinksStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaveLinksStep{logger: logger}
}

// Name returns the step name.
func (s *SaveLinksStep) Name() string {
	return "save_links"
}

// Do writes the graph. An empty LinksJSON skips the step.
func (s *SaveLinksStep) Do(_ context.Context, crawlReport *model.CrawlReport) error {
	if crawlReport.LinksJSON == "" {
		s.logger.Debug("skipping link graph output, no path set")
		return nil
	}
	if crawlReport.Graph == nil {
		return ErrNoGraph
	}

	if err := report.SaveJSON(crawlReport.LinksJSON, crawlReport.Graph); err != nil {
		return fmt.Errorf("failed to save link graph: %w", err)
	}

	s.logger.Info("link graph saved", "path", crawlReport.LinksJSON, "pages", crawlReport.Graph.Size())
	return nil
}

// CatalogStep builds the image catalog from the link graph.
type CatalogStep struct {
	logger *slog.Logger
}

// NewCatalogStep creates a CatalogStep.
func NewCatalogStep(logger *slog.Logger) *CatalogStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogStep{logger: logger}
}

// Name returns the step name.
func (s *CatalogStep) Name() string {
	return "catalog"
}

// Do replaces the report's catalog with one generated from its graph.
func (s *CatalogStep) Do(_ context.Context, crawlReport *model.CrawlReport) error {
	if crawlReport.Graph == nil {
		return ErrNoGraph
	}

	crawlReport.Catalog = images.BuildCatalog(crawlReport.Graph)

	s.logger.Info("image catalog built", "images", len(crawlReport.Catalog))
	return nil
}

// DownloadStep downloads catalog images into the report's ImageDir.
type DownloadStep struct {
	downloader *images.Downloader
	logger     *slog.Logger
}

// NewDownloadStep creates a DownloadStep using downloader.
func NewDownloadStep(downloader *images.Downloader, logger *slog.Logger) *DownloadStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadStep{
		downloader: downloader,
		logger:     logger,
	}
}

// Name returns the step name.
func (s *DownloadStep) Name() string {
	return "download_images"
}

// Do downloads up to the report's MaxImages entries. Only a directory
// failure or cancellation fails the step.
func (s *DownloadStep) Do(ctx context.Context, crawlReport *model.CrawlReport) error {
	results, err := s.downloader.DownloadAll(ctx, crawlReport.Catalog, crawlReport.ImageDir, crawlReport.MaxImages)
	crawlReport.Downloads = append(crawlReport.Downloads, results...)
	if err != nil {
		return fmt.Errorf("image download failed: %w", err)
	}

	s.logger.Info("images downloaded",
		"saved", crawlReport.DownloadedCount(),
		"attempted", len(results),
	)
	return nil
}

// SaveCatalogStep writes the image catalog to the report's CatalogJSON path.
//
// Every catalog entry is written, including entries that were never
// downloaded or were skipped.
type SaveCatalogStep struct {
	logger *slog.Logger
}

// NewSaveCatalogStep creates a SaveCatalogStep.
func NewSaveCatalogStep(logger *slog.Logger) *SaveCatalogStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaveCatalogStep{logger: logger}
}

// Name returns the step name.
func (s *SaveCatalogStep) Name() string {
	return "save_catalog"
}

// Do writes the catalog. An empty CatalogJSON skips the step.
func (s *SaveCatalogStep) Do(_ context.Context, crawlReport *model.CrawlReport) error {
	if crawlReport.CatalogJSON == "" {
		s.logger.Debug("skipping catalog output, no path set")
		return nil
	}

	catalog := crawlReport.Catalog
	if catalog == nil {
		catalog = make(model.Catalog)
	}
	if err := report.SaveJSON(crawlReport.CatalogJSON, catalog); err != nil {
		return fmt.Errorf("failed to save image catalog: %w", err)
	}

	s.logger.Info("image catalog saved", "path", crawlReport.CatalogJSON, "images", len(catalog))
	return nil
}

// DefaultPipelineConfig holds the settings of the default pipeline.
type DefaultPipelineConfig struct {
	MaxLinks       int
	Workers        int
	RequestTimeout time.Duration
	UserAgent      string
	MaxBodySize    int64

	// DownloadConcurrency is the number of images fetched at once.
	DownloadConcurrency int

	// ExtractEXIF enables EXIF extraction for downloaded jpg and tif files.
	ExtractEXIF bool

	// Status receives crawl progress every StatusInterval. May be nil.
	Status         func(crawler.Status)
	StatusInterval time.Duration
}

// DefaultPipelineOption configures a DefaultPipelineConfig.
type DefaultPipelineOption func(*DefaultPipelineConfig)

// WithPipelineMaxLinks sets the bound on discovered pages.
func WithPipelineMaxLinks(n int) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.MaxLinks = n
	}
}

// WithPipelineWorkers sets the number of crawl workers.
func WithPipelineWorkers(n int) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Workers = n
	}
}

// WithPipelineRequestTimeout sets the per-request timeout.
func WithPipelineRequestTimeout(d time.Duration) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.RequestTimeout = d
	}
}

// WithPipelineUserAgent sets the User-Agent header.
func WithPipelineUserAgent(userAgent string) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.UserAgent = userAgent
	}
}

// WithPipelineMaxBodySize sets the maximum page size parsed.
func WithPipelineMaxBodySize(size int64) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.MaxBodySize = size
	}
}

// WithPipelineDownloadConcurrency sets how many images are fetched at once.
func WithPipelineDownloadConcurrency(n int) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.DownloadConcurrency = n
	}
}

// WithPipelineEXIF enables EXIF extraction.
func WithPipelineEXIF(enabled bool) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.ExtractEXIF = enabled
	}
}

// WithPipelineStatus reports crawl progress to fn every interval.
func WithPipelineStatus(interval time.Duration, fn func(crawler.Status)) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.StatusInterval = interval
		c.Status = fn
	}
}

// DefaultPipeline creates the standard crawl pipeline:
// crawl, save_links, catalog, download_images, save_catalog.
//
// The catalog is saved last so that the image directory it usually lives
// in already exists.
func DefaultPipeline(client *http.Client, logger *slog.Logger, pipelineOpts []Option, configOpts ...DefaultPipelineOption) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &DefaultPipelineConfig{
		MaxLinks:            config.DefaultMaxLinks,
		Workers:             config.DefaultWorkers,
		RequestTimeout:      config.DefaultTimeout,
		UserAgent:           config.DefaultUserAgent,
		MaxBodySize:         config.DefaultMaxBodySize,
		DownloadConcurrency: config.DefaultDownloadConcurrency,
		StatusInterval:      config.DefaultStatusInterval,
	}
	for _, opt := range configOpts {
		opt(cfg)
	}

	p := New(append([]Option{WithLogger(logger)}, pipelineOpts...)...)

	crawlOpts := []CrawlStepOption{
		WithCrawlMaxLinks(cfg.MaxLinks),
		WithCrawlWorkers(cfg.Workers),
		WithCrawlRequestTimeout(cfg.RequestTimeout),
		WithCrawlUserAgent(cfg.UserAgent),
		WithCrawlMaxBodySize(cfg.MaxBodySize),
		WithCrawlLogger(logger),
	}
	if cfg.Status != nil {
		crawlOpts = append(crawlOpts, WithCrawlStatus(cfg.StatusInterval, cfg.Status))
	}

	downloader := images.NewDownloader(client,
		images.WithConcurrency(cfg.DownloadConcurrency),
		images.WithEXIF(cfg.ExtractEXIF),
		images.WithLogger(logger),
	)

	p.AddSteps(
		NewCrawlStep(client, crawlOpts...),
		NewSaveLinksStep(logger),
		NewCatalogStep(logger),
		NewDownloadStep(downloader, logger),
		NewSaveCatalogStep(logger),
	)

	return p
}
