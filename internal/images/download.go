package images

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/murkmaw/internal/model"
)

// Default downloader settings.
const (
	// DefaultConcurrency is the number of images fetched at once.
	DefaultConcurrency = 4

	// DefaultDownloadTimeout bounds each image request.
	DefaultDownloadTimeout = 30 * time.Second
)

// Downloader saves catalog images to a directory.
type Downloader struct {
	client      *http.Client
	concurrency int
	timeout     time.Duration

	// extractEXIF enables EXIF extraction for jpg and tif files.
	extractEXIF bool

	logger *slog.Logger
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithConcurrency sets how many images are fetched at once.
func WithConcurrency(n int) DownloaderOption {
	return func(d *Downloader) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithDownloadTimeout sets the per-image request timeout.
// Zero disables it.
func WithDownloadTimeout(timeout time.Duration) DownloaderOption {
	return func(d *Downloader) {
		d.timeout = timeout
	}
}

// WithEXIF enables EXIF extraction.
func WithEXIF(enabled bool) DownloaderOption {
	return func(d *Downloader) {
		d.extractEXIF = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DownloaderOption {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// NewDownloader creates a Downloader fetching with client.
// A nil client is replaced with a plain http.Client.
func NewDownloader(client *http.Client, opts ...DownloaderOption) *Downloader {
	if client == nil {
		client = &http.Client{}
	}

	d := &Downloader{
		client:      client,
		concurrency: DefaultConcurrency,
		timeout:     DefaultDownloadTimeout,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = slog.Default()
	}

	return d
}

// DownloadAll fetches at most maxImages catalog entries into dir.
//
// Entries are taken in ID order. The result has one entry per selected
// catalog entry, in the same order, with Error set for skipped ones and
// for those cancelled before they started. The only error returned is a
// *DirectoryError when dir cannot be created, or the context error if
// ctx ends first.
func (d *Downloader) DownloadAll(ctx context.Context, catalog model.Catalog, dir string, maxImages int) ([]model.ImageDownload, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &DirectoryError{Dir: dir, Err: err}
	}

	ids := selectIDs(catalog, maxImages)
	results := make([]model.ImageDownload, len(ids))

	d.logger.Info("downloading images",
		"count", len(ids),
		"catalog", len(catalog),
		"dir", dir,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			// Entries not started before cancellation still get a result
			// carrying their ID, so every slot names its catalog entry.
			if err := gctx.Err(); err != nil {
				results[i] = model.ImageDownload{ID: id, Image: catalog[id], Error: err.Error()}
				return err
			}
			results[i] = d.download(gctx, id, catalog[id], dir)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	return results, nil
}

// selectIDs returns up to maxImages catalog IDs in sorted order.
//
// Design decision: We sort the IDs rather than ranging over the catalog
// map because:
//  1. Map iteration order is random, so the maxImages cut would pick a
//     different subset on every run over the same catalog
//  2. Results come back in a fixed order, which keeps the history rows
//     and the Markdown report stable between runs
func selectIDs(catalog model.Catalog, maxImages int) []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	if maxImages < 0 {
		maxImages = 0
	}
	if len(ids) > maxImages {
		ids = ids[:maxImages]
	}
	return ids
}

// download fetches one image. Failures are recorded on the result.
func (d *Downloader) download(ctx context.Context, id string, img model.Image, dir string) model.ImageDownload {
	result := model.ImageDownload{
		ID:    id,
		Image: img,
	}

	if err := d.fetch(ctx, &result, dir); err != nil {
		result.Path = ""
		result.Error = err.Error()

		var unsupported *UnsupportedContentTypeError
		if errors.As(err, &unsupported) {
			d.logger.Warn("skipping image", "id", id, "url", img.Link, "error", err)
		} else {
			d.logger.Warn("could not download image", "id", id, "url", img.Link, "error", err)
		}
		return result
	}

	if d.extractEXIF && exifExtensions[result.Extension] {
		tags, err := readEXIF(result.Path)
		if err != nil {
			d.logger.Debug("could not read EXIF", "path", result.Path, "error", err)
		}
		result.EXIF = tags
	}

	d.logger.Debug("downloaded image",
		"id", id,
		"url", img.Link,
		"path", result.Path,
		"bytes", result.Bytes,
	)
	return result
}

// fetch performs the request and streams the body to disk.
func (d *Downloader) fetch(ctx context.Context, result *model.ImageDownload, dir string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.Image.Link, nil)
	if err != nil {
		return fmt.Errorf("invalid image URL: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	result.ContentType = resp.Header.Get("Content-Type")
	ext, err := ExtensionForContentType(result.ContentType)
	if err != nil {
		return err
	}
	result.Extension = ext
	result.Path = filepath.Join(dir, result.ID+"."+ext)

	n, digest, err := writeFile(result.Path, resp.Body)
	if err != nil {
		return err
	}
	result.Bytes = n
	result.SHA3 = digest
	return nil
}

// writeFile streams r into path and returns the byte count and the hex
// SHA3-256 digest. The file is removed if the copy fails.
func writeFile(path string, r io.Reader) (int64, string, error) {
	f, err := os.Create(path) //nolint:gosec // path is built from a generated ID
	if err != nil {
		return 0, "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	hasher := sha3.New256()
	n, copyErr := io.Copy(io.MultiWriter(f, hasher), r)
	closeErr := f.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path) //nolint:errcheck // best effort
		return 0, "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}
