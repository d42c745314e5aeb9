package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nao1215/murkmaw/internal/model"
)

// JSONWriter outputs values as JSON.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed output.
	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// JSONReport wraps a crawl report with derived counts.
type JSONReport struct {
	// Version is the murkmaw version that produced the report.
	Version string `json:"version,omitempty"`

	Report *model.CrawlReport `json:"report"`

	Pages      int `json:"pages"`
	Images     int `json:"images"`
	Downloaded int `json:"downloaded"`
}

// Write outputs the report wrapped in a JSONReport.
func (w *JSONWriter) Write(report *model.CrawlReport) (int, error) {
	return w.WriteValue(NewJSONReport(report, ""))
}

// NewJSONReport builds the JSON wrapper for report.
func NewJSONReport(report *model.CrawlReport, version string) *JSONReport {
	return &JSONReport{
		Version:    version,
		Report:     report,
		Pages:      report.Pages(),
		Images:     len(report.Catalog),
		Downloaded: report.DownloadedCount(),
	}
}

// WriteValue marshals v and writes it followed by a newline.
func (w *JSONWriter) WriteValue(v any) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}

// SaveJSON writes v as pretty-printed JSON to path, creating parent
// directories and replacing any existing file.
func SaveJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // output is meant to be shared
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if _, err := NewJSONWriter(f, WithPrettyPrint()).WriteValue(v); err != nil {
		_ = f.Close() //nolint:errcheck // write error takes precedence
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// LoadGraph reads a link graph previously written with SaveJSON.
func LoadGraph(path string) (*model.LinkGraph, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied path is intended
	if err != nil {
		return nil, err
	}

	graph := model.NewLinkGraph()
	if err := json.Unmarshal(data, graph); err != nil {
		return nil, fmt.Errorf("failed to parse link graph %s: %w", path, err)
	}
	return graph, nil
}

// LoadCatalog reads an image catalog previously written with SaveJSON.
func LoadCatalog(path string) (model.Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied path is intended
	if err != nil {
		return nil, err
	}

	catalog := make(model.Catalog)
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return catalog, nil
}
