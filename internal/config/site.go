package config

import (
	"maps"
	"strings"
	"time"
)

// Defaults are config file values used when the matching flag is not set.
// Zero values mean "not set".
type Defaults struct {
	MaxLinks  int           `yaml:"maxLinks,omitempty"`
	MaxImages int           `yaml:"maxImages,omitempty"`
	Workers   int           `yaml:"workers,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	ImageDir  string        `yaml:"imgDir,omitempty"`
	UserAgent string        `yaml:"userAgent,omitempty"`
	Proxy     string        `yaml:"proxy,omitempty"`

	// Headers are sent with every request.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// SiteConfig holds request settings for one host.
type SiteConfig struct {
	// Cookie is sent as the Cookie header to this host.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are sent to this host in addition to the default headers.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// File is the structure of the .murkmaw configuration file.
type File struct {
	// Defaults apply to the whole run.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Sites maps a host (without scheme or port) to its request settings.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`
}

// HeadersFor returns the extra headers for requests to host: the default
// headers overlaid with the site's headers and cookie.
func (cf *File) HeadersFor(host string) map[string]string {
	headers := make(map[string]string, len(cf.Defaults.Headers))
	maps.Copy(headers, cf.Defaults.Headers)

	site, ok := cf.Sites[strings.ToLower(host)]
	if !ok {
		return headers
	}

	maps.Copy(headers, site.Headers)
	if site.Cookie != "" {
		headers["Cookie"] = site.Cookie
	}
	return headers
}
