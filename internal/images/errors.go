package images

import "fmt"

// DirectoryError is returned when the output directory cannot be created.
// It is the only error that fails a whole download run.
type DirectoryError struct {
	Dir string
	Err error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("could not create image directory %s: %v", e.Dir, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// UnsupportedContentTypeError reports a response whose Content-Type has no
// known image extension. The entry is skipped and no file is written.
type UnsupportedContentTypeError struct {
	ContentType string
}

func (e *UnsupportedContentTypeError) Error() string {
	if e.ContentType == "" {
		return "missing content type"
	}
	return "unsupported content type " + e.ContentType
}
