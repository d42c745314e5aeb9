package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/murkmaw/internal/model"
)

// SimpleWriter outputs a plain text summary for terminal display.
type SimpleWriter struct {
	baseWriter

	// verbose lists every download, not just the totals.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose lists individual downloads.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the summary.
func (w *SimpleWriter) Write(report *model.CrawlReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeOutputs(&sb, report)
	w.writeDownloads(&sb, report)
	w.writeSteps(&sb, report)

	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.CrawlReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                          CRAWL SUMMARY\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Seed:              %s\n", report.Seed)
	fmt.Fprintf(sb, "Duration:          %s\n", report.Duration().Round(time.Millisecond))
	fmt.Fprintf(sb, "Pages discovered:  %d (bound %d)\n", report.Pages(), report.MaxLinks)
	fmt.Fprintf(sb, "Images found:      %d\n", len(report.Catalog))
	fmt.Fprintf(sb, "Images downloaded: %d (bound %d)\n", report.DownloadedCount(), report.MaxImages)
	fmt.Fprintf(sb, "Status:            %s\n", statusText(report))
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeOutputs(sb *strings.Builder, report *model.CrawlReport) {
	if report.LinksJSON == "" && report.CatalogJSON == "" && report.ImageDir == "" {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\nOUTPUT\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if report.LinksJSON != "" {
		fmt.Fprintf(sb, "  Link graph: %s\n", report.LinksJSON)
	}
	if report.CatalogJSON != "" {
		fmt.Fprintf(sb, "  Catalog:    %s\n", report.CatalogJSON)
	}
	if report.ImageDir != "" {
		fmt.Fprintf(sb, "  Images:     %s\n", report.ImageDir)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeDownloads(sb *strings.Builder, report *model.CrawlReport) {
	if !w.verbose || len(report.Downloads) == 0 {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\nDOWNLOADS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	for _, d := range report.Downloads {
		if d.Succeeded() {
			fmt.Fprintf(sb, "  [+] %s (%d bytes)\n", d.Path, d.Bytes)
			continue
		}
		fmt.Fprintf(sb, "  [-] %s: %s\n", d.Image.Link, d.Error)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSteps(sb *strings.Builder, report *model.CrawlReport) {
	if len(report.PerformedSteps) == 0 {
		return
	}

	labels := make([]string, len(report.PerformedSteps))
	for i, step := range report.PerformedSteps {
		labels[i] = stepLabel(step)
	}
	fmt.Fprintf(sb, "Steps: %s\n", strings.Join(labels, ", "))
}
