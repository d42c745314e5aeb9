package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/murkmaw/internal/model"
)

// FileName is the database file name inside the database directory.
const FileName = "murkmaw.db"

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("crawl run not found")

// CrawlDB provides SQLite-based storage for crawl runs.
type CrawlDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the CrawlDB in dbDir.
// With CreateIfNotExists unset, a missing database is an error.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	var dsn string
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?mode=rwc"
	} else {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (run a crawl first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
		dsn = dbPath + "?mode=rw"
	}

	// Pages and images are deleted with their run.
	dsn += "&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{db: db, dbPath: dbPath}

	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

func (cdb *CrawlDB) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seed TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		max_links INTEGER NOT NULL,
		max_images INTEGER NOT NULL,
		pages INTEGER NOT NULL,
		catalogued INTEGER NOT NULL,
		downloaded INTEGER NOT NULL,
		error TEXT,
		report_json TEXT NOT NULL,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_seed ON crawl_runs(seed);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON crawl_runs(created_at);

	CREATE TABLE IF NOT EXISTS pages (
		run_id INTEGER NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
		link_id INTEGER NOT NULL,
		url TEXT NOT NULL,
		titles TEXT NOT NULL,
		children INTEGER NOT NULL,
		parents INTEGER NOT NULL,
		images INTEGER NOT NULL,
		PRIMARY KEY (run_id, link_id)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_url ON pages(url);

	CREATE TABLE IF NOT EXISTS images (
		run_id INTEGER NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
		catalog_id TEXT NOT NULL,
		link TEXT NOT NULL,
		alt TEXT,
		path TEXT,
		extension TEXT,
		bytes INTEGER,
		sha3 TEXT,
		error TEXT,
		PRIMARY KEY (run_id, catalog_id)
	);

	CREATE INDEX IF NOT EXISTS idx_images_sha3 ON images(sha3);
	`

	_, err := cdb.db.ExecContext(ctx, schema)
	return err
}

// RunSummary is one row of crawl_runs without the report body.
type RunSummary struct {
	ID         int64     `json:"id"`
	Seed       string    `json:"seed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	MaxLinks   int       `json:"max_links"`
	MaxImages  int       `json:"max_images"`
	Pages      int       `json:"pages"`
	Catalogued int       `json:"catalogued"`
	Downloaded int       `json:"downloaded"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PageRecord is one stored page of a run.
type PageRecord struct {
	LinkID   model.LinkID `json:"id"`
	URL      string       `json:"url"`
	Titles   []string     `json:"titles"`
	Children int          `json:"children"`
	Parents  int          `json:"parents"`
	Images   int          `json:"images"`
}

// SaveCrawlReport stores report with its pages and download attempts in a
// single transaction and returns the new run ID.
func (cdb *CrawlDB) SaveCrawlReport(ctx context.Context, report *model.CrawlReport) (int64, error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize report: %w", err)
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // No-op after Commit

	result, err := tx.ExecContext(ctx, `
	INSERT INTO crawl_runs (seed, started_at, finished_at, max_links, max_images,
		pages, catalogued, downloaded, error, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.Seed,
		formatTimestamp(report.StartedAt),
		formatTimestamp(report.FinishedAt),
		report.MaxLinks,
		report.MaxImages,
		report.Pages(),
		len(report.Catalog),
		report.DownloadedCount(),
		report.ErrorMessage,
		string(reportJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert crawl run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}

	if report.Graph != nil {
		if err := insertPages(ctx, tx, runID, report.Graph); err != nil {
			return 0, err
		}
	}
	if err := insertImages(ctx, tx, runID, report); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit crawl run: %w", err)
	}
	return runID, nil
}

func insertPages(ctx context.Context, tx *sql.Tx, runID int64, graph *model.LinkGraph) error {
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO pages (run_id, link_id, url, titles, children, parents, images)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare page insert: %w", err)
	}
	defer stmt.Close()

	for id, link := range graph.All() {
		titles, err := json.Marshal(link.Titles)
		if err != nil {
			return fmt.Errorf("failed to serialize titles: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, runID, int64(id), link.URL, string(titles), //nolint:gosec // IDs stay far below MaxInt64
			len(link.Children), len(link.Parents), len(link.Images)); err != nil {
			return fmt.Errorf("failed to insert page %s: %w", link.URL, err)
		}
	}
	return nil
}

func insertImages(ctx context.Context, tx *sql.Tx, runID int64, report *model.CrawlReport) error {
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO images (run_id, catalog_id, link, alt, path, extension, bytes, sha3, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare image insert: %w", err)
	}
	defer stmt.Close()

	attempted := make(map[string]bool, len(report.Downloads))
	for _, d := range report.Downloads {
		attempted[d.ID] = true
		if _, err := stmt.ExecContext(ctx, runID, d.ID, d.Image.Link, d.Image.Alt,
			d.Path, d.Extension, d.Bytes, d.SHA3, d.Error); err != nil {
			return fmt.Errorf("failed to insert image %s: %w", d.ID, err)
		}
	}
	// Catalog entries past the download bound are stored without a file.
	for id, img := range report.Catalog {
		if attempted[id] {
			continue
		}
		if _, err := stmt.ExecContext(ctx, runID, id, img.Link, img.Alt,
			"", "", 0, "", "not downloaded"); err != nil {
			return fmt.Errorf("failed to insert image %s: %w", id, err)
		}
	}
	return nil
}

const runColumns = `id, seed, started_at, finished_at, max_links, max_images,
	pages, catalogued, downloaded, error, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunSummary, error) {
	var (
		run                        RunSummary
		started, finished, created string
		runErr                     sql.NullString
	)
	err := row.Scan(&run.ID, &run.Seed, &started, &finished, &run.MaxLinks, &run.MaxImages,
		&run.Pages, &run.Catalogued, &run.Downloaded, &runErr, &created)
	if err != nil {
		return RunSummary{}, err
	}
	run.StartedAt = parseTimestamp(started)
	run.FinishedAt = parseTimestamp(finished)
	run.CreatedAt = parseTimestamp(created)
	run.Error = runErr.String
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (cdb *CrawlDB) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs ORDER BY id DESC`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run. A missing ID yields ErrRunNotFound.
func (cdb *CrawlDB) GetRun(ctx context.Context, id int64) (*RunSummary, error) {
	row := cdb.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// GetRunReport decodes the stored crawl report of a run. The graph and
// catalog are not part of the stored report.
func (cdb *CrawlDB) GetRunReport(ctx context.Context, id int64) (*model.CrawlReport, error) {
	var reportJSON string
	err := cdb.db.QueryRowContext(ctx, `SELECT report_json FROM crawl_runs WHERE id = ?`, id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run report: %w", err)
	}

	var report model.CrawlReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}

// GetRunPages returns the pages of a run in link ID order.
func (cdb *CrawlDB) GetRunPages(ctx context.Context, runID int64) ([]PageRecord, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT link_id, url, titles, children, parents, images
	FROM pages
	WHERE run_id = ?
	ORDER BY link_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run pages: %w", err)
	}
	defer rows.Close()

	var pages []PageRecord
	for rows.Next() {
		var (
			page   PageRecord
			linkID int64
			titles string
		)
		if err := rows.Scan(&linkID, &page.URL, &titles, &page.Children, &page.Parents, &page.Images); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		page.LinkID = model.LinkID(linkID) //nolint:gosec // Stored from a LinkID
		if err := json.Unmarshal([]byte(titles), &page.Titles); err != nil {
			return nil, fmt.Errorf("failed to parse titles: %w", err)
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

// GetRunImages returns the catalog entries of a run, downloaded ones
// first, each group in catalog ID order.
func (cdb *CrawlDB) GetRunImages(ctx context.Context, runID int64) ([]model.ImageDownload, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT catalog_id, link, alt, path, extension, bytes, sha3, error
	FROM images
	WHERE run_id = ?
	ORDER BY path = '', catalog_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run images: %w", err)
	}
	defer rows.Close()

	var images []model.ImageDownload
	for rows.Next() {
		var (
			d                                model.ImageDownload
			alt, path, ext, digest, imageErr sql.NullString
			size                             sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.Image.Link, &alt, &path, &ext, &size, &digest, &imageErr); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		d.Image.Alt = alt.String
		d.Path = path.String
		d.Extension = ext.String
		d.Bytes = size.Int64
		d.SHA3 = digest.String
		d.Error = imageErr.String
		images = append(images, d)
	}
	return images, rows.Err()
}

// LastRunForSeed returns the most recent run of seed, or nil if the seed
// was never crawled.
func (cdb *CrawlDB) LastRunForSeed(ctx context.Context, seed string) (*RunSummary, error) {
	row := cdb.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM crawl_runs WHERE seed = ? ORDER BY id DESC LIMIT 1`, seed)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}
	return &run, nil
}

// DeleteRun removes a run together with its pages and images.
func (cdb *CrawlDB) DeleteRun(ctx context.Context, id int64) error {
	result, err := cdb.db.ExecContext(ctx, `DELETE FROM crawl_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return nil
}

// timestampLayout is how run times are stored; it sorts lexically.
const timestampLayout = "2006-01-02T15:04:05.000Z"

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

// timestampFormats are tried in order when reading times back.
var timestampFormats = []string{
	timestampLayout,
	"2006-01-02 15:04:05", // SQLite CURRENT_TIMESTAMP
	"2006-01-02T15:04:05Z",
	time.RFC3339Nano,
}

// parseTimestamp returns the zero time for empty or unknown formats.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
