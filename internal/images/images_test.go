package images

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/sha3"

	"github.com/nao1215/murkmaw/internal/model"
)

// pngBytes is a 1x1 transparent PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func quietDownloader(client *http.Client, opts ...DownloaderOption) *Downloader {
	opts = append([]DownloaderOption{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return NewDownloader(client, opts...)
}

// imageServer serves a fixed body with the content type given in the
// "ct" query parameter.
func imageServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/img", func(w http.ResponseWriter, r *http.Request) {
		if ct := r.URL.Query().Get("ct"); ct != "" {
			w.Header().Set("Content-Type", ct)
		} else {
			w.Header()["Content-Type"] = nil
		}
		_, _ = w.Write(pngBytes) //nolint:errcheck
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// TestExtensionForContentType tests the content type table.
func TestExtensionForContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		expected    string
		wantErr     bool
	}{
		{"image/gif", "gif", false},
		{"image/jpeg", "jpg", false},
		{"image/png", "png", false},
		{"image/svg+xml", "svg", false},
		{"image/webp", "webp", false},
		{"image/tiff", "tif", false},
		{"image/png; charset=binary", "png", false},
		{"IMAGE/JPEG", "jpg", false},
		{"text/html", "", true},
		{"image/bmp", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			t.Parallel()

			got, err := ExtensionForContentType(tt.contentType)
			if tt.wantErr {
				var unsupported *UnsupportedContentTypeError
				if !errors.As(err, &unsupported) {
					t.Errorf("expected UnsupportedContentTypeError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %q, expected %q", got, tt.expected)
			}
		})
	}
}

// TestBuildCatalog tests catalog generation.
func TestBuildCatalog(t *testing.T) {
	t.Parallel()

	t.Run("one entry per occurrence", func(t *testing.T) {
		t.Parallel()

		shared := model.Image{Link: "https://a.test/logo.png", Alt: "logo"}
		graph := model.NewLinkGraph()
		if err := graph.Merge("https://a.test/", "", nil, []model.Image{shared, shared}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := graph.Merge("https://a.test/b", "https://a.test/", nil, []model.Image{shared, {Link: "https://a.test/x.gif"}}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		catalog := BuildCatalog(graph)
		if len(catalog) != 4 {
			t.Fatalf("expected 4 entries, got %d", len(catalog))
		}

		logos := 0
		for id, img := range catalog {
			if len(id) != 36 {
				t.Errorf("unexpected id format %q", id)
			}
			if img == shared {
				logos++
			}
		}
		if logos != 3 {
			t.Errorf("expected 3 logo entries, got %d", logos)
		}
	})

	t.Run("nil graph", func(t *testing.T) {
		t.Parallel()
		if len(BuildCatalog(nil)) != 0 {
			t.Error("expected empty catalog")
		}
	})
}

// TestDownloadAll tests image downloading.
func TestDownloadAll(t *testing.T) {
	t.Parallel()

	t.Run("saves each supported type with its extension", func(t *testing.T) {
		t.Parallel()

		server := imageServer(t)
		types := map[string]string{
			"image/gif":     "gif",
			"image/jpeg":    "jpg",
			"image/png":     "png",
			"image/svg+xml": "svg",
			"image/webp":    "webp",
			"image/tiff":    "tif",
		}

		catalog := make(model.Catalog)
		expected := make(map[string]string)
		i := 0
		for ct, ext := range types {
			id := string(rune('a' + i))
			catalog[id] = model.Image{Link: server.URL + "/img?ct=" + url.QueryEscape(ct)}
			expected[id] = ext
			i++
		}

		dir := t.TempDir()
		results, err := quietDownloader(server.Client()).DownloadAll(context.Background(), catalog, dir, 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != len(types) {
			t.Fatalf("expected %d results, got %d", len(types), len(results))
		}

		for _, result := range results {
			if !result.Succeeded() {
				t.Errorf("%s failed: %s", result.ID, result.Error)
				continue
			}
			path := filepath.Join(dir, result.ID+"."+expected[result.ID])
			if result.Path != path {
				t.Errorf("got path %s, expected %s", result.Path, path)
			}
			if _, err := os.Stat(path); err != nil {
				t.Errorf("file missing: %v", err)
			}
		}
	})

	t.Run("png bytes are preserved", func(t *testing.T) {
		t.Parallel()

		server := imageServer(t)
		catalog := model.Catalog{"x": {Link: server.URL + "/img?ct=image/png", Alt: "logo"}}

		dir := t.TempDir()
		results, err := quietDownloader(server.Client()).DownloadAll(context.Background(), catalog, dir, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		data, err := os.ReadFile(filepath.Join(dir, "x.png"))
		if err != nil {
			t.Fatalf("failed to read image: %v", err)
		}
		if !bytes.Equal(data, pngBytes) {
			t.Error("saved bytes differ from served bytes")
		}

		digest := sha3.Sum256(pngBytes)
		if results[0].SHA3 != hex.EncodeToString(digest[:]) {
			t.Errorf("unexpected digest %s", results[0].SHA3)
		}
		if results[0].Bytes != int64(len(pngBytes)) {
			t.Errorf("got %d bytes, expected %d", results[0].Bytes, len(pngBytes))
		}
		if results[0].Image.Alt != "logo" {
			t.Errorf("catalog entry not carried over: %+v", results[0].Image)
		}
	})

	t.Run("unsupported and missing types write no file", func(t *testing.T) {
		t.Parallel()

		server := imageServer(t)
		catalog := model.Catalog{
			"html": {Link: server.URL + "/img?ct=text/html"},
			"none": {Link: server.URL + "/img"},
		}

		dir := t.TempDir()
		results, err := quietDownloader(server.Client()).DownloadAll(context.Background(), catalog, dir, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, result := range results {
			if result.Succeeded() {
				t.Errorf("%s should have been skipped", result.ID)
			}
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("failed to read dir: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected no files, got %d", len(entries))
		}
	})

	t.Run("non-2xx and unreachable are skipped", func(t *testing.T) {
		t.Parallel()

		server := imageServer(t)
		catalog := model.Catalog{
			"a": {Link: server.URL + "/missing"},
			"b": {Link: "http://127.0.0.1:1/unreachable.png"},
			"c": {Link: server.URL + "/img?ct=image/png"},
		}

		results, err := quietDownloader(server.Client()).DownloadAll(context.Background(), catalog, t.TempDir(), 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		succeeded := 0
		for _, result := range results {
			if result.Succeeded() {
				succeeded++
			}
		}
		if succeeded != 1 {
			t.Errorf("expected 1 download, got %d", succeeded)
		}
	})

	t.Run("stops at max images", func(t *testing.T) {
		t.Parallel()

		server := imageServer(t)
		catalog := make(model.Catalog)
		for _, id := range []string{"1", "2", "3", "4", "5"} {
			catalog[id] = model.Image{Link: server.URL + "/img?ct=image/png"}
		}

		dir := t.TempDir()
		results, err := quietDownloader(server.Client(), WithConcurrency(2)).DownloadAll(context.Background(), catalog, dir, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 3 {
			t.Errorf("expected 3 results, got %d", len(results))
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("failed to read dir: %v", err)
		}
		if len(entries) != 3 {
			t.Errorf("expected 3 files, got %d", len(entries))
		}
	})

	t.Run("directory failure is fatal", func(t *testing.T) {
		t.Parallel()

		blocker := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}

		_, err := quietDownloader(nil).DownloadAll(context.Background(), model.Catalog{}, filepath.Join(blocker, "images"), 10)

		var dirErr *DirectoryError
		if !errors.As(err, &dirErr) {
			t.Fatalf("expected DirectoryError, got %v", err)
		}
		if dirErr.Dir != filepath.Join(blocker, "images") {
			t.Errorf("unexpected dir %s", dirErr.Dir)
		}
	})

	t.Run("creates missing directories", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "a", "b")
		results, err := quietDownloader(nil).DownloadAll(context.Background(), model.Catalog{}, dir, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("expected no results, got %d", len(results))
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory not created: %v", err)
		}
	})

	t.Run("jpeg without exif is downloaded", func(t *testing.T) {
		t.Parallel()

		server := imageServer(t)
		catalog := model.Catalog{"j": {Link: server.URL + "/img?ct=image/jpeg"}}

		results, err := quietDownloader(server.Client(), WithEXIF(true)).DownloadAll(context.Background(), catalog, t.TempDir(), 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !results[0].Succeeded() {
			t.Fatalf("download failed: %s", results[0].Error)
		}
		if results[0].EXIF != nil {
			t.Errorf("expected no EXIF tags, got %v", results[0].EXIF)
		}
	})

	t.Run("cancelled entries keep their ID", func(t *testing.T) {
		t.Parallel()

		server := imageServer(t)
		catalog := model.Catalog{
			"a": {Link: server.URL + "/img?ct=image/png"},
			"b": {Link: server.URL + "/img?ct=image/png"},
			"c": {Link: server.URL + "/img?ct=image/png"},
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		dir := t.TempDir()
		results, err := quietDownloader(server.Client(), WithConcurrency(1)).DownloadAll(ctx, catalog, dir, 10)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(results))
		}

		for i, want := range []string{"a", "b", "c"} {
			got := results[i]
			if got.ID != want {
				t.Errorf("result %d: got ID %q, expected %q", i, got.ID, want)
			}
			if got.Image != catalog[want] {
				t.Errorf("result %d: image not recorded", i)
			}
			if got.Succeeded() || got.Error == "" {
				t.Errorf("result %d: expected a cancellation error, got %+v", i, got)
			}
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("expected no files, found %d", len(entries))
		}
	})
}

// TestSelectIDs tests the max images cutoff.
func TestSelectIDs(t *testing.T) {
	t.Parallel()

	catalog := model.Catalog{"c": {}, "a": {}, "b": {}}

	tests := []struct {
		name     string
		max      int
		expected int
	}{
		{"all", 10, 3},
		{"some", 2, 2},
		{"none", 0, 0},
		{"negative", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ids := selectIDs(catalog, tt.max)
			if len(ids) != tt.expected {
				t.Errorf("got %d ids, expected %d", len(ids), tt.expected)
			}
			if len(ids) > 0 && ids[0] != "a" {
				t.Errorf("ids not sorted: %v", ids)
			}
		})
	}
}
