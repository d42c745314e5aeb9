package main

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/murkmaw/internal/config"
	"github.com/nao1215/murkmaw/internal/database"
	"github.com/nao1215/murkmaw/internal/report"
)

// pngHeader is enough of a PNG for the downloader, which only checks the
// Content-Type.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// newSiteServer serves a two page site with one image.
func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Home</title></head><body>
<a href="/about">About</a>
<img src="/logo.png" alt="logo">
</body></html>`))
	})
	mux.HandleFunc("GET /about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>About</title></head><body>
<a href="/">Home</a>
</body></html>`))
	})
	mux.HandleFunc("GET /logo.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// TestNewCrawlCmd tests the crawl command creation.
func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "crawl <seed-url>" {
			t.Errorf("expected use 'crawl <seed-url>', got %q", cmd.Use)
		}
	})

	t.Run("has long description", func(t *testing.T) {
		t.Parallel()
		if cmd.Long == "" {
			t.Error("expected non-empty long description")
		}
	})

	t.Run("requires exactly one argument", func(t *testing.T) {
		t.Parallel()
		if err := cmd.Args(cmd, nil); err == nil {
			t.Error("expected error without arguments")
		}
		if err := cmd.Args(cmd, []string{"a", "b"}); err == nil {
			t.Error("expected error with two arguments")
		}
		if err := cmd.Args(cmd, []string{"https://example.com/"}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	flags := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{name: "max-links", defValue: "100"},
		{name: "max-images", defValue: "100"},
		{name: "workers", shorthand: "n", defValue: "4"},
		{name: "log-status", shorthand: "l", defValue: "false"},
		{name: "img-dir", shorthand: "i", defValue: config.DefaultImageDir},
		{name: "links-json", defValue: config.DefaultLinksJSON},
		{name: "catalog-json", defValue: ""},
		{name: "log-file", defValue: config.DefaultLogFile},
		{name: "timeout", shorthand: "t", defValue: "2s"},
		{name: "header", shorthand: "H", defValue: "[]"},
		{name: "proxy", defValue: ""},
		{name: "tor", defValue: "false"},
		{name: "insecure", defValue: "false"},
		{name: "no-db", defValue: "false"},
		{name: "config", shorthand: "c", defValue: ""},
	}

	for _, tt := range flags {
		t.Run("has "+tt.name+" flag", func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("expected shorthand %q, got %q", tt.shorthand, flag.Shorthand)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("expected default %q, got %q", tt.defValue, flag.DefValue)
			}
		})
	}
}

// TestBuildConfig tests building a Config from flags.
func TestBuildConfig(t *testing.T) {
	// HOME is redirected so that no real ~/.murkmaw is picked up.
	t.Setenv("HOME", t.TempDir())

	t.Run("defaults", func(t *testing.T) {
		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags(nil); err != nil {
			t.Fatal(err)
		}

		cfg, err := buildConfig(cmd, []string{"https://example.com/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Seed != "https://example.com/" {
			t.Errorf("expected seed to be set, got %q", cfg.Seed)
		}
		if cfg.MaxLinks != config.DefaultMaxLinks {
			t.Errorf("expected MaxLinks %d, got %d", config.DefaultMaxLinks, cfg.MaxLinks)
		}
		if cfg.Workers != config.DefaultWorkers {
			t.Errorf("expected Workers %d, got %d", config.DefaultWorkers, cfg.Workers)
		}
		if !cfg.SaveToDB {
			t.Error("expected SaveToDB to be true by default")
		}
		if cfg.SiteConfigs != nil {
			t.Error("expected no config file to be loaded")
		}
		if cfg.Verbose {
			t.Error("expected verbose to be false")
		}
	})

	t.Run("seed fragment is stripped", func(t *testing.T) {
		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags(nil); err != nil {
			t.Fatal(err)
		}

		cfg, err := buildConfig(cmd, []string{"https://example.com/#top"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Seed != "https://example.com/" {
			t.Errorf("expected seed without fragment, got %q", cfg.Seed)
		}
	})

	t.Run("flags override defaults", func(t *testing.T) {
		cmd := NewCrawlCmd()
		err := cmd.ParseFlags([]string{
			"--max-links", "10",
			"--max-images", "0",
			"-n", "8",
			"-t", "5s",
			"-i", "out/",
			"--links-json", "graph.json",
			"--catalog-json", "cat.json",
			"--log-file", "",
			"--no-db",
			"--insecure",
			"--proxy", "127.0.0.1:9050",
			"-H", "X-Test: one",
			"-H", "Accept-Language:  en ",
		})
		if err != nil {
			t.Fatal(err)
		}

		cfg, err := buildConfig(cmd, []string{"https://example.com/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.MaxLinks != 10 || cfg.MaxImages != 0 || cfg.Workers != 8 {
			t.Errorf("unexpected bounds: links=%d images=%d workers=%d", cfg.MaxLinks, cfg.MaxImages, cfg.Workers)
		}
		if cfg.Timeout != 5*time.Second {
			t.Errorf("expected timeout 5s, got %s", cfg.Timeout)
		}
		if cfg.ImageDir != "out/" || cfg.LinksJSON != "graph.json" || cfg.CatalogPath() != "cat.json" {
			t.Errorf("unexpected output paths: %q %q %q", cfg.ImageDir, cfg.LinksJSON, cfg.CatalogPath())
		}
		if cfg.LogFile != "" {
			t.Errorf("expected log file to be disabled, got %q", cfg.LogFile)
		}
		if cfg.SaveToDB {
			t.Error("expected SaveToDB to be false with --no-db")
		}
		if !cfg.InsecureSkipVerify {
			t.Error("expected InsecureSkipVerify with --insecure")
		}
		if cfg.ProxyAddress != "127.0.0.1:9050" {
			t.Errorf("unexpected proxy %q", cfg.ProxyAddress)
		}
		if cfg.Headers["X-Test"] != "one" || cfg.Headers["Accept-Language"] != "en" {
			t.Errorf("unexpected headers: %v", cfg.Headers)
		}
	})

	t.Run("config file defaults apply to unset flags", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "murkmaw.yaml")
		content := `defaults:
  maxLinks: 7
  workers: 3
  userAgent: file-agent
  proxy: 127.0.0.1:9150
sites:
  Example.com:
    cookie: "session=abc"
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"-c", path, "-n", "9"}); err != nil {
			t.Fatal(err)
		}

		cfg, err := buildConfig(cmd, []string{"https://example.com/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.MaxLinks != 7 {
			t.Errorf("expected MaxLinks from file, got %d", cfg.MaxLinks)
		}
		if cfg.Workers != 9 {
			t.Errorf("expected flag to win over file, got %d workers", cfg.Workers)
		}
		if cfg.UserAgent != "file-agent" {
			t.Errorf("expected user agent from file, got %q", cfg.UserAgent)
		}
		if cfg.ProxyAddress != "127.0.0.1:9150" {
			t.Errorf("expected proxy from file, got %q", cfg.ProxyAddress)
		}
		if cfg.SiteConfigs == nil {
			t.Fatal("expected config file to be loaded")
		}
		if got := cfg.SiteConfigs.HeadersFor("example.com")["Cookie"]; got != "session=abc" {
			t.Errorf("expected site cookie, got %q", got)
		}
	})

	t.Run("file proxy is ignored with --tor", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "murkmaw.yaml")
		if err := os.WriteFile(path, []byte("defaults:\n  proxy: 127.0.0.1:9150\n"), 0o600); err != nil {
			t.Fatal(err)
		}

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"-c", path, "--tor"}); err != nil {
			t.Fatal(err)
		}

		cfg, err := buildConfig(cmd, []string{"https://example.com/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.ProxyAddress != "" {
			t.Errorf("expected no proxy with --tor, got %q", cfg.ProxyAddress)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected validation error: %v", err)
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		cmd := NewCrawlCmd()
		missing := filepath.Join(t.TempDir(), "missing.yaml")
		if err := cmd.ParseFlags([]string{"-c", missing}); err != nil {
			t.Fatal(err)
		}

		_, err := buildConfig(cmd, []string{"https://example.com/"})
		if !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("invalid header", func(t *testing.T) {
		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"-H", "no-colon"}); err != nil {
			t.Fatal(err)
		}

		if _, err := buildConfig(cmd, []string{"https://example.com/"}); err == nil {
			t.Error("expected error for header without colon")
		}
	})
}

// TestParseHeader tests header flag parsing.
func TestParseHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantName  string
		wantValue string
		wantErr   bool
	}{
		{name: "simple", input: "X-Test: value", wantName: "X-Test", wantValue: "value"},
		{name: "no space", input: "X-Test:value", wantName: "X-Test", wantValue: "value"},
		{name: "colon in value", input: "Referer: https://a.test/", wantName: "Referer", wantValue: "https://a.test/"},
		{name: "empty value", input: "X-Empty:", wantName: "X-Empty", wantValue: ""},
		{name: "missing colon", input: "X-Test value", wantErr: true},
		{name: "missing name", input: ": value", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			name, value, err := parseHeader(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.wantName || value != tt.wantValue {
				t.Errorf("got (%q, %q), want (%q, %q)", name, value, tt.wantName, tt.wantValue)
			}
		})
	}
}

// TestStepTitle tests progress labels.
func TestStepTitle(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"crawl":           "Crawl",
		"download_images": "Download images",
		"save_catalog":    "Save catalog",
		"":                "",
	}
	for in, want := range tests {
		if got := stepTitle(in); got != want {
			t.Errorf("stepTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestSetupLogger tests logger construction.
func TestSetupLogger(t *testing.T) {
	t.Parallel()

	t.Run("console only", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger, closeLog, err := setupLogger(&buf, "", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer closeLog()

		logger.Info("hidden")
		logger.Warn("shown")
		if strings.Contains(buf.String(), "hidden") {
			t.Error("expected info to be filtered on the console")
		}
		if !strings.Contains(buf.String(), "shown") {
			t.Error("expected warning on the console")
		}
	})

	t.Run("with log file", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		path := filepath.Join(t.TempDir(), "logs", "log.txt")
		logger, closeLog, err := setupLogger(&buf, path, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		logger.Info("to file only")
		closeLog()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), "to file only") {
			t.Errorf("expected info in log file, got %q", data)
		}
		if strings.Contains(buf.String(), "to file only") {
			t.Error("expected info to stay off the console")
		}
	})
}

// TestRunCrawl runs a full crawl against a local site.
func TestRunCrawl(t *testing.T) {
	t.Parallel()

	server := newSiteServer(t)
	dir := t.TempDir()

	cfg := config.NewConfig()
	cfg.Seed = server.URL + "/"
	cfg.MaxLinks = 10
	cfg.Workers = 2
	cfg.ImageDir = filepath.Join(dir, "images")
	cfg.LinksJSON = filepath.Join(dir, "links.json")
	cfg.LogFile = ""
	cfg.MarkdownReport = filepath.Join(dir, "report.md")
	cfg.DBDir = filepath.Join(dir, "db")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	logger := slog.New(slog.DiscardHandler)
	if err := runCrawl(t.Context(), cfg, logger, &out); err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out.String())
	}

	output := out.String()
	for _, want := range []string{
		"Starting crawl with:",
		"[1/5] Crawl",
		"[5/5] Save catalog",
		"CRAWL SUMMARY",
		"Saved as run #1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q\n%s", want, output)
		}
	}

	graph, err := report.LoadGraph(cfg.LinksJSON)
	if err != nil {
		t.Fatalf("failed to load links: %v", err)
	}
	if graph.Size() != 2 {
		t.Errorf("expected 2 pages, got %d", graph.Size())
	}

	catalog, err := report.LoadCatalog(cfg.CatalogPath())
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	if len(catalog) != 1 {
		t.Fatalf("expected 1 catalog entry, got %d", len(catalog))
	}
	for id, img := range catalog {
		if img.Link != server.URL+"/logo.png" {
			t.Errorf("unexpected image link %q", img.Link)
		}
		data, err := os.ReadFile(filepath.Join(cfg.ImageDir, id+".png"))
		if err != nil {
			t.Fatalf("expected downloaded image: %v", err)
		}
		if !bytes.Equal(data, pngHeader) {
			t.Error("downloaded image content mismatch")
		}
	}

	md, err := os.ReadFile(cfg.MarkdownReport)
	if err != nil {
		t.Fatalf("expected markdown report: %v", err)
	}
	if !strings.Contains(string(md), "Pages") {
		t.Error("expected markdown report to list pages")
	}

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	last, err := db.LastRunForSeed(t.Context(), cfg.Seed)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.Pages != 2 || last.Downloaded != 1 {
		t.Errorf("unexpected stored run: %+v", last)
	}
}

// TestRunCrawlWithoutDB tests that --no-db leaves no database behind.
func TestRunCrawlWithoutDB(t *testing.T) {
	t.Parallel()

	server := newSiteServer(t)
	dir := t.TempDir()

	cfg := config.NewConfig()
	cfg.Seed = server.URL + "/"
	cfg.MaxImages = 0
	cfg.ImageDir = filepath.Join(dir, "images")
	cfg.LinksJSON = filepath.Join(dir, "links.json")
	cfg.LogFile = ""
	cfg.SaveToDB = false
	cfg.DBDir = filepath.Join(dir, "db")

	var out bytes.Buffer
	if err := runCrawl(t.Context(), cfg, slog.New(slog.DiscardHandler), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.DBDir, database.FileName)); !os.IsNotExist(err) {
		t.Errorf("expected no database file, got err=%v", err)
	}
	if strings.Contains(out.String(), "Saved as run") {
		t.Error("expected no run to be saved")
	}

	entries, err := os.ReadDir(cfg.ImageDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != config.DefaultCatalogName {
			t.Errorf("expected no downloaded images with --max-images 0, found %s", e.Name())
		}
	}
}

// TestRunCrawlUnreachableProxy tests that a dead proxy fails before crawling.
func TestRunCrawlUnreachableProxy(t *testing.T) {
	t.Parallel()

	// Reserve a port and close it so nothing listens there.
	listener := httptest.NewServer(http.NotFoundHandler())
	addr := listener.Listener.Addr().String()
	listener.Close()

	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Seed = "http://example.com/"
	cfg.ProxyAddress = addr
	cfg.LogFile = ""
	cfg.SaveToDB = false
	cfg.ImageDir = filepath.Join(dir, "images")
	cfg.LinksJSON = filepath.Join(dir, "links.json")

	var out bytes.Buffer
	err := runCrawl(t.Context(), cfg, slog.New(slog.DiscardHandler), &out)
	if err == nil {
		t.Fatal("expected error for unreachable proxy")
	}
	if !strings.Contains(err.Error(), "proxy check failed") {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := os.Stat(cfg.LinksJSON); !os.IsNotExist(err) {
		t.Error("expected no crawl output")
	}
}
