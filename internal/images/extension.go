package images

import (
	"mime"
	"strings"
)

// extensions maps image media types to the extension files are saved with.
var extensions = map[string]string{
	"image/gif":     "gif",
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/svg+xml": "svg",
	"image/webp":    "webp",
	"image/tiff":    "tif",
}

// ExtensionForContentType returns the file extension for a Content-Type
// header value. Parameters such as charset are ignored.
func ExtensionForContentType(contentType string) (string, error) {
	mediaType := strings.TrimSpace(contentType)
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	ext, ok := extensions[strings.ToLower(mediaType)]
	if !ok {
		return "", &UnsupportedContentTypeError{ContentType: contentType}
	}
	return ext, nil
}
