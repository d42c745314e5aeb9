// Package report writes crawl results.
//
// Writers for a finished model.CrawlReport:
//   - SimpleWriter: plain text summary for the terminal
//   - MarkdownWriter: Markdown summary with tables and a mermaid chart
//   - JSONWriter: the report as JSON
//
// SaveJSON persists the link graph and the image catalog in the formats
// other tools read back.
package report
