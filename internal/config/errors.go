package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoSeed is returned when no seed URL is given.
	ErrNoSeed = errors.New("no seed URL specified")

	// ErrInvalidSeed is returned when the seed is not an absolute http(s) URL.
	ErrInvalidSeed = errors.New("invalid seed URL")

	// ErrInvalidMaxLinks is returned when the page bound is not positive.
	ErrInvalidMaxLinks = errors.New("invalid max links: must be positive")

	// ErrInvalidMaxImages is returned when the image bound is negative.
	ErrInvalidMaxImages = errors.New("invalid max images: must be non-negative")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxBodySize is returned when the body size limit is not positive.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be positive")

	// ErrConflictingTransport is returned when both --proxy and --tor are set.
	ErrConflictingTransport = errors.New("conflicting transports: --proxy and --tor cannot be used together")
)
