package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/murkmaw/internal/config"
	"github.com/nao1215/murkmaw/internal/crawler"
	"github.com/nao1215/murkmaw/internal/database"
	mlog "github.com/nao1215/murkmaw/internal/log"
	"github.com/nao1215/murkmaw/internal/model"
	"github.com/nao1215/murkmaw/internal/pipeline"
	"github.com/nao1215/murkmaw/internal/report"
	"github.com/nao1215/murkmaw/internal/transport"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Crawl a site and harvest its images",
		Long: `Crawl discovers the pages reachable from the seed URL and stops once
--max-links pages are known or no unvisited page is left.

After the crawl it:
- writes the link graph to --links-json
- catalogs every image occurrence under a generated ID
- downloads up to --max-images catalog entries into --img-dir
- writes the catalog to --catalog-json (default <img-dir>/database.json)
- records the run in the history database (disable with --no-db)

Examples:
  # Crawl up to 100 pages with 4 workers
  murkmaw crawl https://example.com/

  # Bigger crawl with progress output
  murkmaw crawl -n 16 --max-links 2000 -l https://example.com/

  # Route requests through a running Tor daemon
  murkmaw crawl --proxy 127.0.0.1:9050 http://exampleonion.onion/

  # Start an embedded Tor daemon for the crawl
  murkmaw crawl --tor http://exampleonion.onion/

  # Also write a Markdown summary
  murkmaw crawl --markdown report.md https://example.com/

Configuration file (.murkmaw) example:
  defaults:
    maxLinks: 500
    userAgent: "murkmaw/1.0"
  sites:
    example.com:
      cookie: "session_id=abc123"`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCmd,
	}

	// Bounds and concurrency
	cmd.Flags().Int("max-links", config.DefaultMaxLinks,
		"Stop once this many pages have been discovered")
	cmd.Flags().Int("max-images", config.DefaultMaxImages,
		"Maximum number of images to download")
	cmd.Flags().IntP("workers", "n", config.DefaultWorkers,
		"Number of concurrent crawl workers")
	cmd.Flags().Int("download-concurrency", config.DefaultDownloadConcurrency,
		"Number of images downloaded at once")
	cmd.Flags().BoolP("log-status", "l", false,
		"Print crawl progress while running")

	// Outputs
	cmd.Flags().StringP("img-dir", "i", config.DefaultImageDir,
		"Directory downloaded images are written to")
	cmd.Flags().String("links-json", config.DefaultLinksJSON,
		"Link graph output file")
	cmd.Flags().String("catalog-json", "",
		"Image catalog output file (default <img-dir>/database.json)")
	cmd.Flags().String("log-file", config.DefaultLogFile,
		"Structured log file (empty to disable)")
	cmd.Flags().String("markdown", "",
		"Write a Markdown crawl summary to this file")
	cmd.Flags().Bool("exif", false,
		"Extract EXIF tags from downloaded jpg and tif images")

	// Requests
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each page request")
	cmd.Flags().Int64("max-body-size", config.DefaultMaxBodySize,
		"Maximum number of page bytes parsed")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().StringArrayP("header", "H", nil,
		`Extra request header as "Name: value" (repeatable)`)
	cmd.Flags().Bool("insecure", false,
		"Skip TLS certificate verification")

	// Transport
	cmd.Flags().String("proxy", "",
		"Route requests through the SOCKS5 proxy at host:port")
	cmd.Flags().Bool("tor", false,
		"Start an embedded Tor daemon and route requests through it")
	cmd.Flags().Duration("tor-timeout", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// History and configuration
	cmd.Flags().Bool("no-db", false,
		"Do not record the run in the history database")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .murkmaw in current or home directory)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closeLog, err := setupLogger(cmd.ErrOrStderr(), cfg.LogFile, cfg.Verbose)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout())
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from the command flags and the config file.
// Config file defaults only apply to flags the user did not set.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	if len(args) > 0 {
		cfg.Seed = crawler.NormalizeURL(args[0])
	}
	cfg.Verbose = getVerboseFlag(cmd)

	if cfg.MaxLinks, err = flags.GetInt("max-links"); err != nil {
		return nil, err
	}
	if cfg.MaxImages, err = flags.GetInt("max-images"); err != nil {
		return nil, err
	}
	if cfg.Workers, err = flags.GetInt("workers"); err != nil {
		return nil, err
	}
	if cfg.DownloadConcurrency, err = flags.GetInt("download-concurrency"); err != nil {
		return nil, err
	}
	if cfg.LogStatus, err = flags.GetBool("log-status"); err != nil {
		return nil, err
	}
	if cfg.ImageDir, err = flags.GetString("img-dir"); err != nil {
		return nil, err
	}
	if cfg.LinksJSON, err = flags.GetString("links-json"); err != nil {
		return nil, err
	}
	if cfg.CatalogJSON, err = flags.GetString("catalog-json"); err != nil {
		return nil, err
	}
	if cfg.LogFile, err = flags.GetString("log-file"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetString("markdown"); err != nil {
		return nil, err
	}
	if cfg.ExtractEXIF, err = flags.GetBool("exif"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.MaxBodySize, err = flags.GetInt64("max-body-size"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.InsecureSkipVerify, err = flags.GetBool("insecure"); err != nil {
		return nil, err
	}
	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.UseEmbeddedTor, err = flags.GetBool("tor"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}
	noDB, err := flags.GetBool("no-db")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noDB
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return nil, err
	}
	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}

	// An explicitly given config file must exist; the default locations
	// are optional.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cfg.SiteConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		applyFileDefaults(cmd, cfg, cfg.SiteConfigs.Defaults)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	headers, err := flags.GetStringArray("header")
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		name, value, err := parseHeader(h)
		if err != nil {
			return nil, err
		}
		cfg.Headers[name] = value
	}

	return cfg, nil
}

// applyFileDefaults copies config file defaults into cfg for every flag
// that was left at its default value.
func applyFileDefaults(cmd *cobra.Command, cfg *config.Config, d config.Defaults) {
	unset := func(name string) bool {
		return !cmd.Flags().Changed(name)
	}

	if d.MaxLinks > 0 && unset("max-links") {
		cfg.MaxLinks = d.MaxLinks
	}
	if d.MaxImages > 0 && unset("max-images") {
		cfg.MaxImages = d.MaxImages
	}
	if d.Workers > 0 && unset("workers") {
		cfg.Workers = d.Workers
	}
	if d.Timeout > 0 && unset("timeout") {
		cfg.Timeout = d.Timeout
	}
	if d.ImageDir != "" && unset("img-dir") {
		cfg.ImageDir = d.ImageDir
	}
	if d.UserAgent != "" && unset("user-agent") {
		cfg.UserAgent = d.UserAgent
	}
	if d.Proxy != "" && unset("proxy") && !cfg.UseEmbeddedTor {
		cfg.ProxyAddress = d.Proxy
	}
}

// parseHeader splits a "Name: value" header flag.
func parseHeader(h string) (string, string, error) {
	name, value, ok := strings.Cut(h, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid header %q: expected \"Name: value\"", h)
	}
	return name, strings.TrimSpace(value), nil
}

// setupLogger returns a logger writing warnings (or everything when
// verbose) to w and, if logFile is set, Info and above to the log file.
func setupLogger(w io.Writer, logFile string, verbose bool) (*slog.Logger, func(), error) {
	console := mlog.NewSecureLogger(w, verbose)
	if logFile == "" {
		return console, func() {}, nil
	}

	file, closeFile, err := mlog.NewFileLogger(logFile, verbose)
	if err != nil {
		return nil, nil, err
	}
	return mlog.Fanout(console, file), func() { _ = closeFile() }, nil
}

// runCrawl executes the crawl and everything after it.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	printArguments(out, cfg)

	var db *database.CrawlDB
	if cfg.SaveToDB {
		var err error
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		printLastRun(ctx, out, db, cfg.Seed, logger)
	}

	client, cleanup, err := newHTTPClient(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer cleanup()

	crawlReport := model.NewCrawlReport(cfg.Seed)
	crawlReport.MaxImages = cfg.MaxImages
	crawlReport.ImageDir = cfg.ImageDir
	crawlReport.LinksJSON = cfg.LinksJSON
	crawlReport.CatalogJSON = cfg.CatalogPath()

	p := createPipeline(client, logger, cfg, out)
	runErr := p.Execute(ctx, crawlReport)

	writer := report.NewSimpleWriter(out, report.WithVerbose(cfg.Verbose))
	if _, err := writer.Write(crawlReport); err != nil {
		logger.Error("failed to print summary", "error", err)
	}

	if cfg.MarkdownReport != "" {
		if err := writeMarkdown(cfg.MarkdownReport, crawlReport); err != nil {
			logger.Error("failed to write markdown report", "path", cfg.MarkdownReport, "error", err)
		} else {
			fmt.Fprintf(out, "Markdown report: %s\n", cfg.MarkdownReport)
		}
	}

	if db != nil {
		// A cancelled run is still recorded, so the write must not
		// depend on ctx.
		id, err := db.SaveCrawlReport(context.WithoutCancel(ctx), crawlReport)
		if err != nil {
			logger.Error("failed to save crawl run", "error", err)
		} else {
			fmt.Fprintf(out, "Saved as run #%d (see 'murkmaw history --run %d')\n", id, id)
		}
	}

	if runErr != nil {
		return fmt.Errorf("crawl of %s failed: %w", cfg.Seed, runErr)
	}
	return nil
}

// printArguments prints the settings a crawl runs with.
func printArguments(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "Starting crawl with:")
	fmt.Fprintf(out, "  seed:          %s\n", cfg.Seed)
	fmt.Fprintf(out, "  max links:     %d\n", cfg.MaxLinks)
	fmt.Fprintf(out, "  max images:    %d\n", cfg.MaxImages)
	fmt.Fprintf(out, "  workers:       %d\n", cfg.Workers)
	fmt.Fprintf(out, "  timeout:       %s\n", cfg.Timeout)
	fmt.Fprintf(out, "  image dir:     %s\n", cfg.ImageDir)
	fmt.Fprintf(out, "  links json:    %s\n", cfg.LinksJSON)
	fmt.Fprintf(out, "  catalog json:  %s\n", cfg.CatalogPath())
	if cfg.LogFile != "" {
		fmt.Fprintf(out, "  log file:      %s\n", cfg.LogFile)
	}
	switch {
	case cfg.UseEmbeddedTor:
		fmt.Fprintln(out, "  transport:     embedded Tor")
	case cfg.ProxyAddress != "":
		fmt.Fprintf(out, "  transport:     SOCKS5 %s\n", cfg.ProxyAddress)
	default:
		fmt.Fprintln(out, "  transport:     direct")
	}
	fmt.Fprintln(out)
}

// printLastRun mentions the previous run of the same seed, if any.
func printLastRun(ctx context.Context, out io.Writer, db *database.CrawlDB, seed string, logger *slog.Logger) {
	last, err := db.LastRunForSeed(ctx, seed)
	if err != nil {
		logger.Warn("failed to look up previous runs", "error", err)
		return
	}
	if last == nil {
		return
	}
	fmt.Fprintf(out, "Previously crawled as run #%d on %s (%d pages)\n\n",
		last.ID, last.CreatedAt.Format(time.DateTime), last.Pages)
}

// newHTTPClient builds the crawl client for the configured transport.
// cleanup stops an embedded Tor daemon and is never nil.
func newHTTPClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*http.Client, func(), error) {
	opts := []transport.Option{
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithHeaders(cfg.Headers),
		transport.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
	}
	if cfg.SiteConfigs != nil {
		opts = append(opts, transport.WithHeaderSource(cfg.SiteConfigs))
	}

	noop := func() {}

	switch {
	case cfg.UseEmbeddedTor:
		fmt.Fprintln(out, "Starting embedded Tor daemon...")
		fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps.\n\n")

		embedded := transport.NewEmbeddedTor(transport.WithStartupTimeout(cfg.TorStartupTimeout))
		if err := embedded.Start(ctx); err != nil {
			return nil, noop, fmt.Errorf("failed to start embedded Tor: %w", err)
		}
		stopTor := func() {
			logger.Info("stopping embedded Tor daemon")
			if err := embedded.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}

		if status := transport.CheckProxy(ctx, embedded.SocksAddr()); status != transport.ProxyStatusOK {
			stopTor()
			return nil, noop, fmt.Errorf("embedded Tor proxy check failed: %w", status.Err())
		}
		logger.Info("embedded Tor daemon started",
			"socksAddr", embedded.SocksAddr(),
			"controlAddr", embedded.ControlAddr(),
		)
		fmt.Fprintf(out, "SOCKS proxy: %s\n\n", embedded.SocksAddr())

		client, err := embedded.HTTPClient(opts...)
		if err != nil {
			stopTor()
			return nil, noop, err
		}
		return client, stopTor, nil

	case cfg.ProxyAddress != "":
		if status := transport.CheckProxy(ctx, cfg.ProxyAddress); status != transport.ProxyStatusOK {
			return nil, noop, fmt.Errorf("proxy check failed for %s: %w", cfg.ProxyAddress, status.Err())
		}
		logger.Info("proxy connection verified", "address", cfg.ProxyAddress)

		client, err := transport.NewHTTPClient(append(opts, transport.WithProxy(cfg.ProxyAddress))...)
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil

	default:
		client, err := transport.NewHTTPClient(opts...)
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	}
}

// createPipeline creates the crawl pipeline for cfg. Step progress is
// printed to out as "[n/N] Step".
func createPipeline(client *http.Client, logger *slog.Logger, cfg *config.Config, out io.Writer) *pipeline.Pipeline {
	pipelineOpts := []pipeline.Option{
		pipeline.WithProgress(func(index, total int, step string) {
			fmt.Fprintf(out, "[%d/%d] %s\n", index, total, stepTitle(step))
		}),
	}

	configOpts := []pipeline.DefaultPipelineOption{
		pipeline.WithPipelineMaxLinks(cfg.MaxLinks),
		pipeline.WithPipelineWorkers(cfg.Workers),
		pipeline.WithPipelineRequestTimeout(cfg.Timeout),
		pipeline.WithPipelineUserAgent(cfg.UserAgent),
		pipeline.WithPipelineMaxBodySize(cfg.MaxBodySize),
		pipeline.WithPipelineDownloadConcurrency(cfg.DownloadConcurrency),
		pipeline.WithPipelineEXIF(cfg.ExtractEXIF),
	}
	if cfg.LogStatus {
		configOpts = append(configOpts, pipeline.WithPipelineStatus(config.DefaultStatusInterval,
			func(s crawler.Status) {
				fmt.Fprintf(out, "      discovered %d/%d pages, %d queued\n", s.Discovered, s.MaxLinks, s.Queued)
			}))
	}

	return pipeline.DefaultPipeline(client, logger, pipelineOpts, configOpts...)
}

// stepTitle turns a step name such as "download_images" into "Download images".
func stepTitle(step string) string {
	s := strings.ReplaceAll(step, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// writeMarkdown writes the Markdown summary to path.
func writeMarkdown(path string, crawlReport *model.CrawlReport) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // User-provided report path is intentional
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}

	_, writeErr := report.NewMarkdownWriter(f).Write(crawlReport)
	return errors.Join(writeErr, f.Close())
}
