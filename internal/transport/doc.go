// Package transport builds the HTTP clients murkmaw crawls with.
//
// A client either dials directly or routes every connection through a
// SOCKS5 proxy, such as a Tor daemon's SOCKS port. EmbeddedTor starts
// such a daemon in-process through tornago when no external proxy is
// available.
//
// Every client injects the configured extra headers into each request.
// Per-host headers and cookies come from a HeaderSource, normally the
// loaded config file, so a session cookie is only sent to its own site.
package transport
