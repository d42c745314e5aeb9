package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// maxRedirects is the number of redirects followed before the last
// response is returned as is.
const maxRedirects = 10

// HeaderSource supplies extra request headers for a host.
type HeaderSource interface {
	HeadersFor(host string) map[string]string
}

type options struct {
	proxyAddress string
	userAgent    string
	headers      map[string]string
	source       HeaderSource
	insecure     bool
}

// Option configures NewHTTPClient.
type Option func(*options)

// WithProxy routes all connections through the SOCKS5 proxy at address
// ("host:port"). An empty address means direct connections.
func WithProxy(address string) Option {
	return func(o *options) {
		o.proxyAddress = address
	}
}

// WithUserAgent sets the User-Agent used when a request has none.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithHeaders adds headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		o.headers = headers
	}
}

// WithHeaderSource adds per-host headers. They override WithHeaders.
func WithHeaderSource(src HeaderSource) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Onion services commonly present self-signed certificates.
func WithInsecureSkipVerify(insecure bool) Option {
	return func(o *options) {
		o.insecure = insecure
	}
}

// NewHTTPClient returns an HTTP client with a cookie jar, a redirect limit
// and header injection. With WithProxy every connection goes through the
// SOCKS5 proxy; the proxy is not contacted until the first request.
func NewHTTPClient(opts ...Option) (*http.Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	transport := &http.Transport{
		Proxy:               nil,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if o.insecure {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // Explicitly requested with --insecure
		}
	}

	if o.proxyAddress != "" {
		dial, err := socksDialContext(o.proxyAddress)
		if err != nil {
			return nil, err
		}
		transport.DialContext = dial
		// Each connection is a circuit through the proxy; keep the pool small.
		transport.MaxIdleConns = 10
		transport.MaxIdleConnsPerHost = 2
		// Compressed sizes leak content over anonymizing transports.
		transport.DisableCompression = true
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	return &http.Client{
		Transport: &headerInjectingTransport{
			base:      transport,
			userAgent: o.userAgent,
			headers:   o.headers,
			source:    o.source,
		},
		Jar: jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func socksDialContext(address string) (dialFunc, error) {
	if !isValidProxyAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProxyAddress, address)
	}

	// Tor's SOCKS port does not require authentication.
	dialer, err := proxy.SOCKS5("tcp", address, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}

// isValidProxyAddress reports whether address is host:port with a port in 1..65535.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// headerInjectingTransport adds the configured headers to every request,
// redirects included.
type headerInjectingTransport struct {
	base      http.RoundTripper
	userAgent string
	headers   map[string]string
	source    HeaderSource
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if t.userAgent != "" && clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}
	for key, value := range t.headers {
		clone.Header.Set(key, value)
	}
	if t.source != nil {
		for key, value := range t.source.HeadersFor(clone.URL.Hostname()) {
			if http.CanonicalHeaderKey(key) == "Cookie" {
				appendCookie(clone.Header, value)
				continue
			}
			clone.Header.Set(key, value)
		}
	}

	return t.base.RoundTrip(clone)
}

// appendCookie keeps cookies set by the jar next to the configured ones.
func appendCookie(h http.Header, cookie string) {
	if existing := h.Get("Cookie"); existing != "" {
		h.Set("Cookie", existing+"; "+cookie)
		return
	}
	h.Set("Cookie", cookie)
}
