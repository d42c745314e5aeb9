package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/murkmaw/internal/config"
	"github.com/nao1215/murkmaw/internal/database"
	"github.com/nao1215/murkmaw/internal/model"
	"github.com/nao1215/murkmaw/internal/report"
)

// defaultHistoryLimit is how many runs are listed without --limit.
const defaultHistoryLimit = 20

// runDetail is the JSON shape of a single run.
type runDetail struct {
	Run    *database.RunSummary  `json:"run"`
	Pages  []database.PageRecord `json:"pages"`
	Images []model.ImageDownload `json:"images"`
}

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show previous crawl runs",
		Long: `History reads the runs recorded by 'murkmaw crawl'.

Without flags it lists the most recent runs. With --run it shows the pages
and images of one run.

Examples:
  # List the last 20 runs
  murkmaw history

  # Show the pages and images of run 3
  murkmaw history --run 3

  # Same, as JSON
  murkmaw history --run 3 --json

  # Regenerate the Markdown summary of run 3
  murkmaw history --run 3 --markdown

  # Delete run 3
  murkmaw history --delete 3`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().Int64P("run", "r", 0,
		"Show the details of the run with this ID")
	cmd.Flags().IntP("limit", "n", defaultHistoryLimit,
		"Maximum number of runs to list")
	cmd.Flags().Int64("delete", 0,
		"Delete the run with this ID")
	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output the run summary in Markdown format (requires --run)")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	runID, err := flags.GetInt64("run")
	if err != nil {
		return err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	deleteID, err := flags.GetInt64("delete")
	if err != nil {
		return err
	}
	jsonOutput, err := flags.GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := flags.GetBool("markdown")
	if err != nil {
		return err
	}
	dbDir, err := flags.GetString("db-dir")
	if err != nil {
		return err
	}

	// Validate before opening the database.
	if jsonOutput && markdownOutput {
		return errors.New("--json and --markdown cannot be used together")
	}
	if markdownOutput && runID == 0 {
		return errors.New("--markdown requires --run")
	}
	if limit <= 0 {
		return fmt.Errorf("invalid limit %d: must be positive", limit)
	}

	db, err := database.Open(dbDir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	switch {
	case deleteID != 0:
		if err := db.DeleteRun(ctx, deleteID); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted run #%d\n", deleteID)
		return nil
	case runID != 0 && markdownOutput:
		return showRunMarkdown(ctx, out, db, runID)
	case runID != 0:
		return showRun(ctx, out, db, runID, jsonOutput)
	default:
		return listRuns(ctx, out, db, limit, jsonOutput)
	}
}

// listRuns prints the most recent runs.
func listRuns(ctx context.Context, out io.Writer, db *database.CrawlDB, limit int, jsonOutput bool) error {
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		if runs == nil {
			runs = []database.RunSummary{}
		}
		_, err := report.NewJSONWriter(out, report.WithPrettyPrint()).WriteValue(runs)
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No crawl runs recorded yet.")
		fmt.Fprintln(out, "\nUse 'murkmaw crawl <seed-url>' to start one.")
		return nil
	}

	fmt.Fprintf(out, "Crawl history (%d runs):\n\n", len(runs))
	fmt.Fprintf(out, "  %-6s  %-19s  %6s  %6s  %-6s  %s\n", "ID", "Date", "Pages", "Images", "Status", "Seed")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 72))

	for _, run := range runs {
		fmt.Fprintf(out, "  %-6d  %-19s  %6d  %6s  %-6s  %s\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.Pages,
			fmt.Sprintf("%d/%d", run.Downloaded, run.Catalogued),
			runStatus(run),
			run.Seed,
		)
	}

	fmt.Fprintln(out, "\nUse 'murkmaw history --run <id>' to show the pages and images of a run.")
	return nil
}

// showRun prints the pages and images of one run.
func showRun(ctx context.Context, out io.Writer, db *database.CrawlDB, id int64, jsonOutput bool) error {
	run, err := db.GetRun(ctx, id)
	if err != nil {
		return err
	}
	pages, err := db.GetRunPages(ctx, id)
	if err != nil {
		return err
	}
	images, err := db.GetRunImages(ctx, id)
	if err != nil {
		return err
	}

	if jsonOutput {
		detail := runDetail{Run: run, Pages: pages, Images: images}
		if detail.Pages == nil {
			detail.Pages = []database.PageRecord{}
		}
		if detail.Images == nil {
			detail.Images = []model.ImageDownload{}
		}
		_, err := report.NewJSONWriter(out, report.WithPrettyPrint()).WriteValue(detail)
		return err
	}

	fmt.Fprintf(out, "Run #%d: %s\n", run.ID, run.Seed)
	fmt.Fprintf(out, "  Started:    %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "  Finished:   %s\n", run.FinishedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "  Bounds:     %d links, %d images\n", run.MaxLinks, run.MaxImages)
	fmt.Fprintf(out, "  Downloaded: %d of %d catalogued images\n", run.Downloaded, run.Catalogued)
	if run.Error != "" {
		fmt.Fprintf(out, "  Error:      %s\n", run.Error)
	}

	fmt.Fprintf(out, "\nPages (%d):\n", len(pages))
	for _, p := range pages {
		title := "-"
		if len(p.Titles) > 0 {
			title = p.Titles[0]
		}
		fmt.Fprintf(out, "  %4d  %s  [%s] children=%d parents=%d images=%d\n",
			p.LinkID, p.URL, title, p.Children, p.Parents, p.Images)
	}

	fmt.Fprintf(out, "\nImages (%d):\n", len(images))
	for _, img := range images {
		if img.Succeeded() {
			fmt.Fprintf(out, "  %s  %s  %d bytes\n", img.ID, img.Path, img.Bytes)
			continue
		}
		fmt.Fprintf(out, "  %s  %s  (%s)\n", img.ID, img.Image.Link, img.Error)
	}

	return nil
}

// showRunMarkdown rebuilds the Markdown summary of a stored run. The page
// table is only filled when the run's links file is still readable.
func showRunMarkdown(ctx context.Context, out io.Writer, db *database.CrawlDB, id int64) error {
	crawlReport, err := db.GetRunReport(ctx, id)
	if err != nil {
		return err
	}
	// The graph and catalog are kept in the run's JSON outputs, not in the
	// stored report. Outputs moved or deleted since the run are skipped.
	if crawlReport.LinksJSON != "" {
		if graph, err := report.LoadGraph(crawlReport.LinksJSON); err == nil {
			crawlReport.Graph = graph
		}
	}
	if crawlReport.CatalogJSON != "" {
		if catalog, err := report.LoadCatalog(crawlReport.CatalogJSON); err == nil {
			crawlReport.Catalog = catalog
		}
	}
	_, err = report.NewMarkdownWriter(out).Write(crawlReport)
	return err
}

// runStatus is the one-word state of a run.
func runStatus(run database.RunSummary) string {
	if run.Error != "" {
		return "failed"
	}
	return "ok"
}
