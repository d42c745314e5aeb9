// Package main provides the entry point for the murkmaw CLI.
//
// murkmaw crawls a web site from a seed URL with a bounded pool of
// workers, writes the link graph and an image catalog as JSON, and
// downloads the catalogued images.
//
// Usage:
//
//	murkmaw crawl https://example.com/
//	murkmaw history
//
// See --help for all available options.
package main

func main() {
	Execute()
}
