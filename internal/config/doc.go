// Package config holds the crawl configuration and the optional .murkmaw
// YAML file that supplies defaults and per-host request settings.
package config
