package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/nao1215/murkmaw/internal/model"
)

// Default scraper settings.
const (
	// DefaultRequestTimeout bounds every page fetch.
	DefaultRequestTimeout = 2 * time.Second

	// DefaultMaxBodySize limits how much of a page body is parsed.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultUserAgent is sent with every page request.
	DefaultUserAgent = "murkmaw/1.0 (+https://github.com/nao1215/murkmaw)"
)

// titleTags are the elements collected as titles, in collection order.
var titleTags = []string{"h1", "h2", "title"}

// ScrapeOption selects what Scrape extracts from a page.
// Links are always extracted; images and titles are opt-in.
type ScrapeOption uint8

const (
	// ScrapeLinks extracts anchor hrefs. It is implied by every option set.
	ScrapeLinks ScrapeOption = 1 << iota

	// ScrapeImages extracts img[src] elements.
	ScrapeImages

	// ScrapeTitles extracts h1, h2 and title text.
	ScrapeTitles

	// ScrapeAll extracts everything.
	ScrapeAll = ScrapeLinks | ScrapeImages | ScrapeTitles
)

// Has reports whether flag is set.
func (o ScrapeOption) Has(flag ScrapeOption) bool {
	return o&flag != 0
}

// ScrapeResult holds what one page contributed.
// A failed fetch yields the zero ScrapeResult.
type ScrapeResult struct {
	// Links are absolute URLs of the page's anchors, fragments removed.
	Links []string

	// Images are the page's images with absolute links.
	Images []model.Image

	// Titles holds one entry per h1, h2 and title element.
	Titles []string
}

// Empty reports whether the page contributed nothing.
func (r ScrapeResult) Empty() bool {
	return len(r.Links) == 0 && len(r.Images) == 0 && len(r.Titles) == 0
}

// Scraper fetches a page and extracts links, images and titles from it.
// Per-element problems are logged and skipped; only a failed fetch empties
// the result. A Scraper is safe for concurrent use.
type Scraper struct {
	// client performs the requests. Its own Timeout still applies.
	client *http.Client

	// timeout bounds each request independently of the client.
	timeout time.Duration

	// userAgent is the User-Agent header value.
	userAgent string

	// maxBodySize limits the bytes handed to the HTML parser.
	maxBodySize int64

	logger *slog.Logger
}

// ScraperOption configures a Scraper.
type ScraperOption func(*Scraper)

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) ScraperOption {
	return func(s *Scraper) {
		s.timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ScraperOption {
	return func(s *Scraper) {
		s.userAgent = ua
	}
}

// WithMaxBodySize sets the maximum number of body bytes parsed.
func WithMaxBodySize(size int64) ScraperOption {
	return func(s *Scraper) {
		s.maxBodySize = size
	}
}

// WithScraperLogger sets the logger.
func WithScraperLogger(logger *slog.Logger) ScraperOption {
	return func(s *Scraper) {
		s.logger = logger
	}
}

// NewScraper creates a Scraper that fetches pages with client.
// A nil client is replaced with a plain http.Client.
func NewScraper(client *http.Client, opts ...ScraperOption) *Scraper {
	if client == nil {
		client = &http.Client{}
	}

	s := &Scraper{
		client:      client,
		timeout:     DefaultRequestTimeout,
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Scrape fetches pageURL and extracts the data selected by opts.
// It never fails: a fetch error is logged and produces an empty result.
func (s *Scraper) Scrape(ctx context.Context, pageURL string, opts ScrapeOption) ScrapeResult {
	doc, base, err := s.fetch(ctx, pageURL)
	if err != nil {
		s.logger.Warn("could not scrape page", "url", pageURL, "error", err)
		return ScrapeResult{}
	}

	result := ScrapeResult{
		Links: s.extractLinks(doc, base),
	}
	if opts.Has(ScrapeImages) {
		result.Images = s.extractImages(doc, base)
	}
	if opts.Has(ScrapeTitles) {
		result.Titles = extractTitles(doc)
	}

	s.logger.Debug("scraped page",
		"url", pageURL,
		"links", len(result.Links),
		"images", len(result.Images),
		"titles", len(result.Titles),
	)

	return result
}

// errNotHTML marks a response that is not worth parsing.
var errNotHTML = errors.New("response is not HTML")

// fetch performs the GET and parses the body.
func (s *Scraper) fetch(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid page URL: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !isHTML(ct) {
		return nil, nil, fmt.Errorf("%w: %s", errNotHTML, ct)
	}

	root, err := html.Parse(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	// Relative references resolve against the final URL after redirects.
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}

	return goquery.NewDocumentFromNode(root), base, nil
}

// isHTML reports whether a Content-Type header value denotes an HTML document.
func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// extractLinks returns the absolute http(s) URL of every anchor.
func (s *Scraper) extractLinks(doc *goquery.Document, base *url.URL) []string {
	links := make([]string, 0)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, err := resolveURL(base, href)
		if err != nil {
			s.logger.Debug("dropping link", "href", href, "page", base.String(), "error", err)
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		links = append(links, stripFragment(resolved).String())
	})

	return links
}

// extractImages returns every img[src] with its absolute link and alt text.
func (s *Scraper) extractImages(doc *goquery.Document, base *url.URL) []model.Image {
	images := make([]model.Image, 0)

	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		resolved, err := resolveURL(base, src)
		if err != nil {
			s.logger.Debug("dropping image", "src", src, "page", base.String(), "error", err)
			return
		}
		alt, _ := sel.Attr("alt")
		images = append(images, model.Image{
			Link: resolved.String(),
			Alt:  alt,
		})
	})

	return images
}

// extractTitles returns the text of every h1, then h2, then title element.
// Each element contributes one entry; elements are never merged.
func extractTitles(doc *goquery.Document) []string {
	titles := make([]string, 0)

	for _, tag := range titleTags {
		doc.Find(tag).Each(func(_ int, sel *goquery.Selection) {
			titles = append(titles, strings.TrimSpace(sel.Text()))
		})
	}

	return titles
}

// NormalizeURL returns rawURL without its fragment, the form in which
// links are queued and stored. Unparsable input is returned unchanged so
// that the fetch reports the error.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	return stripFragment(u).String()
}

// stripFragment clears the fragment of u in place and returns it.
func stripFragment(u *url.URL) *url.URL {
	u.Fragment = ""
	u.RawFragment = ""
	return u
}

// resolveURL turns an href or src into an absolute URL.
// Absolute references are returned as-is; relative ones are resolved
// against the page URL.
func resolveURL(base *url.URL, ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)

	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() {
		return u, nil
	}
	if base == nil || !base.IsAbs() {
		return nil, errors.New("cannot resolve relative reference without an absolute base")
	}

	return base.ResolveReference(u), nil
}
