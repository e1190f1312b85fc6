package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MirrorDecision is the outcome of inspecting a resource URL.
type MirrorDecision int

const (
	// MirrorSkip keeps the original URL.
	MirrorSkip MirrorDecision = iota
	// MirrorRequired copies the file into the blob store.
	MirrorRequired
	// MirrorProbe means the extension was inconclusive and a HEAD request decides.
	MirrorProbe
)

func (d MirrorDecision) String() string {
	switch d {
	case MirrorRequired:
		return "required"
	case MirrorProbe:
		return "probe"
	default:
		return "skip"
	}
}

var mirrorableExtensions = map[string]bool{
	"csv": true, "xlsx": true, "xls": true, "pdf": true, "zip": true,
	"json": true, "geojson": true, "xml": true,
}

var mirrorableContentTypes = map[string]bool{
	"text/csv":                     true,
	"application/csv":              true,
	"application/vnd.ms-excel":     true,
	"application/pdf":              true,
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/json":             true,
	"application/geo+json":         true,
	"application/vnd.geo+json":     true,
	"application/xml":              true,
	"text/xml":                     true,

	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// knownPageExtensions are extensions that identify a web page or service
// endpoint rather than a downloadable file.
var knownPageExtensions = map[string]bool{
	"html": true, "htm": true, "php": true, "aspx": true, "jsp": true,
}

// DecideMirror classifies a resource URL. Resources served from sourceHost or
// with a known downloadable extension are mirrored; page-like URLs are skipped;
// anything else needs a content-type probe.
func DecideMirror(rawURL, sourceHost string) MirrorDecision {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return MirrorSkip
	}
	if sourceHost != "" && strings.EqualFold(u.Hostname(), hostOnly(sourceHost)) {
		return MirrorRequired
	}
	ext := Extension(rawURL)
	switch {
	case mirrorableExtensions[ext]:
		return MirrorRequired
	case knownPageExtensions[ext]:
		return MirrorSkip
	default:
		return MirrorProbe
	}
}

// IsMirrorableContentType reports whether a Content-Type header names a downloadable file type.
func IsMirrorableContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mirrorableContentTypes[strings.ToLower(mediaType)]
}

// HostOf returns the hostname of a URL, or "" if it cannot be parsed.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func hostOnly(h string) string {
	if strings.Contains(h, "://") {
		return HostOf(h)
	}
	if i := strings.LastIndex(h, ":"); i >= 0 {
		return h[:i]
	}
	return h
}

const (
	keyPrefix        = "resources"
	disambiguatorLen = 6
	alphanumerics    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ObjectKey is the storage key of a mirrored resource, split into its parts.
type ObjectKey struct {
	ResourceID    string
	Stem          string
	Disambiguator string
	Extension     string
}

// String renders resources/<id>/<stem>-<disambiguator>.<ext>.
func (k ObjectKey) String() string {
	return fmt.Sprintf("%s/%s/%s-%s.%s", keyPrefix, k.ResourceID, k.Stem, k.Disambiguator, k.Extension)
}

// NewObjectKey builds a fresh key for rawURL with a random resource id and disambiguator.
func NewObjectKey(rawURL string) (ObjectKey, error) {
	suffix, err := randomAlphanumeric(disambiguatorLen)
	if err != nil {
		return ObjectKey{}, err
	}
	stem, ext := splitFilename(rawURL)
	return ObjectKey{
		ResourceID:    uuid.NewString(),
		Stem:          stem,
		Disambiguator: suffix,
		Extension:     ext,
	}, nil
}

// DeterministicObjectKey derives every random part of the key from rawURL so
// dry runs print the same would-be location on every run.
func DeterministicObjectKey(rawURL string) ObjectKey {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL))
	stem, ext := splitFilename(rawURL)
	hex := strings.ReplaceAll(id.String(), "-", "")
	suffix := make([]byte, disambiguatorLen)
	for i := range suffix {
		suffix[i] = alphanumerics[int(hex[i])%len(alphanumerics)]
	}
	return ObjectKey{
		ResourceID:    id.String(),
		Stem:          stem,
		Disambiguator: string(suffix),
		Extension:     ext,
	}
}

// splitFilename returns the base name stem and extension of the URL path,
// defaulting to "unnamed" and "bin".
func splitFilename(rawURL string) (stem, ext string) {
	stem, ext = "unnamed", "bin"
	u, err := url.Parse(rawURL)
	if err != nil {
		return stem, ext
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return stem, ext
	}
	if e := path.Ext(base); e != "" && len(e) > 1 {
		ext = Slugify(e[1:])
		base = strings.TrimSuffix(base, e)
	}
	if s := Slugify(base); s != "" {
		stem = s
	}
	if ext == "" {
		ext = "bin"
	}
	return stem, ext
}

func randomAlphanumeric(n int) (string, error) {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(alphanumerics)))
	for i := range out {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = alphanumerics[v.Int64()]
	}
	return string(out), nil
}
