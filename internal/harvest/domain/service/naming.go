package service

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

// maxNameLength is the CKAN limit for dataset, organization and group names.
const maxNameLength = 100

// nameHashLength is the number of hex digits appended to truncated names.
const nameHashLength = 8

// NameSeparator joins the owning organization and the source identity.
const NameSeparator = "--"

var nonSlugChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9_-] into a single dash, trimming leading and trailing dashes.
func Slugify(s string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(slug, "-")
}

// DatasetName builds the stable target name <ownerOrg>--<slug(sourceID)>.
// It returns "" when the source id has no usable characters, which the
// reconciler rejects as a validation error.
func DatasetName(ownerOrg, sourceID string) string {
	return namespaced(ownerOrg, sourceID)
}

// EntityName builds the name of an organization or group harvested from the
// source, namespaced under the main organization.
func EntityName(mainOrg, sourceID string) string {
	return namespaced(mainOrg, sourceID)
}

func namespaced(prefix, id string) string {
	slug := Slugify(id)
	if slug == "" || prefix == "" {
		return ""
	}
	name := prefix + NameSeparator + slug
	if len(name) <= maxNameLength {
		return name
	}
	// Truncated names keep a digest of the full slug so ids sharing a long
	// prefix still map to distinct names.
	sum := sha1.Sum([]byte(slug))
	head := strings.TrimRight(name[:maxNameLength-nameHashLength-1], "-")
	return head + "-" + hex.EncodeToString(sum[:])[:nameHashLength]
}
