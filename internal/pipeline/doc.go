// Package pipeline runs a crawl and its post-processing as a sequence of
// steps over one model.CrawlReport.
//
// The default pipeline crawls from the seed, saves the link graph, builds
// the image catalog, downloads images and saves the catalog. Each step is
// a Step that reads what earlier steps left in the report and adds its own
// results.
package pipeline
