// Package images turns the images found during a crawl into files on disk.
//
// The pipeline has two stages. BuildCatalog walks a finished link graph
// and gives every image occurrence a fresh random ID. A Downloader then
// fetches up to a fixed number of catalog entries, names each file after
// its ID and an extension derived from the response Content-Type, and
// records a SHA3-256 digest of what was written.
//
// Only a failure to create the output directory aborts a download run.
// Everything else (unreachable hosts, non-2xx responses, unsupported
// content types) skips the single entry and is logged.
package images
