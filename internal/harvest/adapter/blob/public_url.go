package blob

import (
	"net/url"
	"strings"
)

// publicURLs maps object keys to the public base URL a bucket is served from.
type publicURLs struct {
	base string
}

func newPublicURLs(base string) publicURLs {
	return publicURLs{base: strings.TrimRight(base, "/") + "/"}
}

// PublicURL returns base/key with every key segment path-escaped.
func (p publicURLs) PublicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return p.base + strings.Join(segments, "/")
}

// KeyFromURL reverses PublicURL for URLs under the base.
func (p publicURLs) KeyFromURL(rawURL string) (string, bool) {
	rest, ok := strings.CutPrefix(rawURL, p.base)
	if !ok || rest == "" {
		return "", false
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	key, err := url.PathUnescape(rest)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}
