package service

import (
	"net/url"
	"path"
	"strings"
)

// UnknownFormat is reported when no format can be inferred.
const UnknownFormat = "unknown"

var geoFormats = map[string]bool{
	"csv": true, "json": true, "geojson": true, "zip": true,
	"shp": true, "kml": true, "kmz": true, "xml": true,
}

// Extension returns the lowercased file extension of the URL path, without the dot.
func Extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
}

// DetectFormat prefers an explicit item type and otherwise recognizes common
// geospatial and tabular extensions.
func DetectFormat(rawURL, itemType string) string {
	if itemType != "" {
		return itemType
	}
	if ext := Extension(rawURL); geoFormats[ext] {
		return strings.ToUpper(ext)
	}
	return UnknownFormat
}

// FormatFromFilename upper-cases the extension of a filename, or returns fallback.
func FormatFromFilename(name, fallback string) string {
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return strings.ToUpper(name[i+1:])
	}
	return fallback
}
