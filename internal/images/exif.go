package images

import (
	"io"
	"os"

	exif "github.com/dsoprea/go-exif/v3"
)

// maxEXIFScan bounds how much of a file is searched for EXIF data.
const maxEXIFScan = 5 * 1024 * 1024

// exifExtensions are the formats that carry EXIF blocks.
var exifExtensions = map[string]bool{
	"jpg": true,
	"tif": true,
}

// readEXIF returns the flattened EXIF tags of the file at path.
// A file without EXIF data yields nil and no error.
func readEXIF(path string) (map[string]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from a generated ID
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxEXIFScan))
	if err != nil {
		return nil, err
	}

	raw, err := exif.SearchAndExtractExif(data)
	if err != nil || raw == nil {
		return nil, nil //nolint:nilerr // no EXIF block is not an error
	}

	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil, err
	}

	tags := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.TagName == "" || entry.Formatted == "" {
			continue
		}
		tags[entry.TagName] = entry.Formatted
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}
