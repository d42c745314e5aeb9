package report

import (
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/murkmaw/internal/model"
)

// defaultMaxPageRows caps the pages table.
const defaultMaxPageRows = 50

// MarkdownWriter outputs a crawl summary in Markdown format.
type MarkdownWriter struct {
	baseWriter

	// maxPageRows limits how many pages are listed.
	maxPageRows int
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithMaxPageRows sets how many pages the pages table lists.
func WithMaxPageRows(n int) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		if n > 0 {
			w.maxPageRows = n
		}
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{
		baseWriter:  newBaseWriter(output),
		maxPageRows: defaultMaxPageRows,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the crawl summary.
func (w *MarkdownWriter) Write(report *model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writePages(md, report)
	w.writeImages(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.CrawlReport) {
	md.H1("Crawl Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", "`" + report.Seed + "`"},
			{"Started", formatTime(report.StartedAt)},
			{"Duration", report.Duration().Round(time.Millisecond).String()},
			{"Pages Discovered", strconv.Itoa(report.Pages())},
			{"Max Links", strconv.Itoa(report.MaxLinks)},
			{"Images Found", strconv.Itoa(len(report.Catalog))},
			{"Images Downloaded", strconv.Itoa(report.DownloadedCount())},
			{"Status", statusText(report)},
		},
	})
	md.PlainText("")

	switch {
	case report.ErrorMessage != "":
		md.Warningf("The crawl did not finish cleanly: %s", report.ErrorMessage)
	case report.Pages() == 0:
		md.Note("No pages were discovered.")
	default:
		md.Tip("Crawl completed.")
	}
	md.PlainText("")
}

// writePages lists the discovered pages in ID order.
func (w *MarkdownWriter) writePages(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Pages")
	md.PlainText("")

	if report.Pages() == 0 {
		md.PlainText("No pages discovered.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, min(report.Pages(), w.maxPageRows))
	for id, link := range report.Graph.All() {
		if len(rows) == w.maxPageRows {
			break
		}
		title := "-"
		if len(link.Titles) > 0 && link.Titles[0] != "" {
			title = truncateString(link.Titles[0], 40)
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(id), 10),
			truncateString(link.URL, 60),
			title,
			strconv.Itoa(len(link.Children)),
			strconv.Itoa(len(link.Parents)),
			strconv.Itoa(len(link.Images)),
		})
	}

	md.Table(markdown.TableSet{
		Header: []string{"ID", "URL", "Title", "Children", "Parents", "Images"},
		Rows:   rows,
	})
	md.PlainText("")

	if report.Pages() > len(rows) {
		md.PlainTextf("%d more pages not shown.", report.Pages()-len(rows))
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeImages(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Images")
	md.PlainText("")

	if len(report.Downloads) == 0 {
		md.PlainText("No images downloaded.")
		md.PlainText("")
		return
	}

	if counts := report.ExtensionCounts(); len(counts) > 0 {
		w.writePieChart(md, counts)
	}

	rows := make([][]string, 0, len(report.Downloads))
	for _, d := range report.Downloads {
		status := "saved"
		if !d.Succeeded() {
			status = "skipped: " + truncateString(d.Error, 40)
		}
		ext := d.Extension
		if ext == "" {
			ext = "-"
		}
		rows = append(rows, []string{
			d.ID,
			truncateString(d.Image.Link, 50),
			ext,
			strconv.FormatInt(d.Bytes, 10),
			status,
		})
	}

	md.Table(markdown.TableSet{
		Header: []string{"ID", "URL", "Type", "Bytes", "Status"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writePieChart writes a mermaid pie chart of downloaded file types.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, counts map[string]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Downloaded Image Types"),
		piechart.WithShowData(true),
	)

	upper := cases.Upper(language.English)
	exts := make([]string, 0, len(counts))
	for ext := range counts {
		exts = append(exts, ext)
	}
	slices.Sort(exts)

	for _, ext := range exts {
		chart.LabelAndIntValue(upper.String(ext), uint64(counts[ext])) //nolint:gosec // counts are non-negative
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [murkmaw](https://github.com/nao1215/murkmaw)*")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}

// stepLabel turns a step name such as "save_links" into "Save Links".
func stepLabel(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}
