// Package takeout enumerates photo metadata from Google Takeout ZIP
// archives without extracting them to disk.
package takeout

import "time"

// Item is one normalized metadata blob for an image found inside a
// Takeout archive.
type Item struct {
	// Filename is the base name of the image inside the archive.
	Filename string
	// SourceURI is the stable identifier "zip://<archive>::<member>".
	SourceURI string
	FileSize  int64
	MimeType  string
	// TakenAt is resolved from the Google sidecar's photoTakenTime
	// first, then from EXIF DateTimeOriginal; nil when neither parses.
	TakenAt *time.Time
	// Exif holds the normalized EXIF fields (make, model, datetime_original).
	Exif map[string]any
	// Sidecar holds the decoded Google JSON sidecar, when present.
	Sidecar map[string]any
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".heic": "image/heic",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}
