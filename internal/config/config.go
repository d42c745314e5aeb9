package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// DefaultMaxLinks is the bound on discovered pages.
	DefaultMaxLinks = 100

	// DefaultMaxImages is the bound on downloaded images.
	DefaultMaxImages = 100

	// DefaultWorkers is the number of concurrent crawl workers.
	DefaultWorkers = 4

	// DefaultTimeout bounds each page request.
	DefaultTimeout = 2 * time.Second

	// DefaultMaxBodySize limits how much of a page is parsed.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultUserAgent identifies murkmaw in HTTP requests.
	DefaultUserAgent = "murkmaw/1.0 (+https://github.com/nao1215/murkmaw)"

	// DefaultImageDir is where downloaded images are written.
	DefaultImageDir = "images/"

	// DefaultLinksJSON is the link graph output file.
	DefaultLinksJSON = "links.json"

	// DefaultCatalogName is the catalog file name inside the image directory.
	DefaultCatalogName = "database.json"

	// DefaultLogFile receives the structured log.
	DefaultLogFile = "log.txt"

	// DefaultStatusInterval is how often crawl progress is printed.
	DefaultStatusInterval = 500 * time.Millisecond

	// DefaultDownloadConcurrency is the number of images fetched at once.
	DefaultDownloadConcurrency = 4

	// DefaultTorStartupTimeout is how long the embedded Tor daemon may take
	// to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// AppName is the application name used for XDG directory paths.
	AppName = "murkmaw"
)

// Config holds every option of a crawl run. It is filled from CLI flags
// and the optional config file, then passed down explicitly.
type Config struct {
	// Seed is the URL the crawl starts from.
	Seed string

	// MaxLinks is the soft bound on the number of discovered pages.
	MaxLinks int

	// MaxImages is the number of catalog entries downloaded at most.
	MaxImages int

	// Workers is the number of concurrent crawl workers.
	Workers int

	// LogStatus prints crawl progress while running.
	LogStatus bool

	// ImageDir is the directory images are saved to.
	ImageDir string

	// LinksJSON is the link graph output path.
	LinksJSON string

	// CatalogJSON is the catalog output path. Empty means
	// DefaultCatalogName inside ImageDir.
	CatalogJSON string

	// LogFile receives the structured log. Empty disables file logging.
	LogFile string

	// Timeout bounds each page request.
	Timeout time.Duration

	// MaxBodySize is the maximum number of page bytes parsed.
	MaxBodySize int64

	// UserAgent is sent with every request.
	UserAgent string

	// Headers are extra headers sent with every request.
	Headers map[string]string

	// ProxyAddress is a SOCKS5 proxy in host:port form. Empty means direct.
	ProxyAddress string

	// UseEmbeddedTor starts a Tor daemon and routes requests through it.
	UseEmbeddedTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration

	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool

	// MarkdownReport is the path of the Markdown summary. Empty disables it.
	MarkdownReport string

	// ExtractEXIF reads EXIF tags from downloaded jpg and tif files.
	ExtractEXIF bool

	// DownloadConcurrency is the number of images fetched at once.
	DownloadConcurrency int

	// SaveToDB records the run in the history database.
	SaveToDB bool

	// DBDir is the directory of the history database.
	DBDir string

	// ConfigFilePath is the config file given with --config.
	ConfigFilePath string

	// SiteConfigs is the loaded config file, if any.
	SiteConfigs *File

	// Verbose enables debug logging.
	Verbose bool
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxLinks:            DefaultMaxLinks,
		MaxImages:           DefaultMaxImages,
		Workers:             DefaultWorkers,
		ImageDir:            DefaultImageDir,
		LinksJSON:           DefaultLinksJSON,
		LogFile:             DefaultLogFile,
		Timeout:             DefaultTimeout,
		MaxBodySize:         DefaultMaxBodySize,
		UserAgent:           DefaultUserAgent,
		Headers:             make(map[string]string),
		TorStartupTimeout:   DefaultTorStartupTimeout,
		DownloadConcurrency: DefaultDownloadConcurrency,
		SaveToDB:            true,
		DBDir:               XDGDataDir(),
	}
}

// CatalogPath returns where the image catalog is written.
func (c *Config) CatalogPath() string {
	if c.CatalogJSON != "" {
		return c.CatalogJSON
	}
	return filepath.Join(c.ImageDir, DefaultCatalogName)
}

// XDGDataDir returns the XDG data directory for murkmaw.
// On Linux: ~/.local/share/murkmaw
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for murkmaw.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Seed == "" {
		return ErrNoSeed
	}
	if err := ValidateSeed(c.Seed); err != nil {
		return err
	}

	if c.MaxLinks <= 0 {
		return ErrInvalidMaxLinks
	}
	if c.MaxImages < 0 {
		return ErrInvalidMaxImages
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxBodySize <= 0 {
		return ErrInvalidMaxBodySize
	}
	if c.ProxyAddress != "" && c.UseEmbeddedTor {
		return ErrConflictingTransport
	}

	return nil
}

// ValidateSeed checks that seed is an absolute http or https URL.
func ValidateSeed(seed string) error {
	u, err := url.Parse(seed)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidSeed, seed)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidSeed, seed)
	}
	return nil
}
