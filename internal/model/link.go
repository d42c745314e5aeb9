package model

import "slices"

// LinkID identifies a node in a LinkGraph.
// IDs are assigned once, at first sight of a URL, and never reused.
type LinkID uint64

// Image is an image reference found on a crawled page.
type Image struct {
	// Link is the absolute URL of the image.
	Link string `json:"link"`

	// Alt is the alt text of the <img> element, or empty.
	Alt string `json:"alt"`
}

// Link is one node of the link graph: a distinct URL plus everything
// merged into it while crawling.
//
// Children, Parents, Images and Titles are only ever appended to.
// The graph does not deduplicate them; callers that want exactly-once
// semantics must not merge the same URL twice.
type Link struct {
	// ID is the node identity.
	ID LinkID `json:"id"`

	// URL is the absolute URL used as the dedup key.
	URL string `json:"url"`

	// Children are the IDs of pages this page links to, among the pages
	// already known when the link was merged.
	Children []LinkID `json:"children"`

	// Parents are the IDs of pages that link to this page.
	Parents []LinkID `json:"parents"`

	// Images are the images found on this page, in document order.
	Images []Image `json:"images"`

	// Titles holds one entry per h1, h2 and title element.
	Titles []string `json:"titles"`
}

// newLink returns an empty node with non-nil slices so that the JSON form
// always carries arrays.
func newLink(id LinkID, url string) *Link {
	return &Link{
		ID:       id,
		URL:      url,
		Children: make([]LinkID, 0),
		Parents:  make([]LinkID, 0),
		Images:   make([]Image, 0),
		Titles:   make([]string, 0),
	}
}

// clone returns a deep copy, so callers outside the graph never share
// backing arrays with graph-owned nodes.
func (l *Link) clone() Link {
	return Link{
		ID:       l.ID,
		URL:      l.URL,
		Children: slices.Clone(l.Children),
		Parents:  slices.Clone(l.Parents),
		Images:   slices.Clone(l.Images),
		Titles:   slices.Clone(l.Titles),
	}
}
