// Package database stores the history of crawl runs in SQLite.
//
// Each run gets one row in crawl_runs with its seed, bounds, counters and
// the JSON crawl report. The pages and images of the run are stored in
// their own tables so that `murkmaw history --run <id>` can list them
// without decoding the report.
//
// The driver is modernc.org/sqlite, which is CGO-free; the database is a
// single file in the XDG data directory.
package database
