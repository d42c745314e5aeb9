// Package model defines the data structures shared by the crawler, the
// image pipeline and the report writers.
//
// The main types are:
//   - Link: one node of the link graph (a distinct URL)
//   - LinkGraph: the identity-assigning graph of Links
//   - Image and Catalog: image references and the generated-ID catalog
//   - CrawlReport: everything produced by one crawl run
//
// LinkGraph is not synchronized; the crawler package owns its locking.
package model
