package model

import "strings"

// Language is one of the languages the target catalog accepts.
type Language string

const (
	LanguageEN Language = "EN"
	LanguageFR Language = "FR"
	LanguageES Language = "ES"
	LanguageDE Language = "DE"
	LanguageIT Language = "IT"

	// DefaultLanguage is used when a source language is missing or unsupported.
	DefaultLanguage = LanguageEN
)

// DefaultNotes replaces an empty source description.
const DefaultNotes = "no description"

// Tag is a free-form keyword attached to a dataset.
type Tag struct {
	Name string `json:"name" bson:"name"`
}

// GroupRef references a group or parent group by name.
type GroupRef struct {
	Name string `json:"name" bson:"name"`
}

// Extra is a provenance key/value pair (source URL, harvest timestamp, ...).
type Extra struct {
	Key   string `json:"key" bson:"key"`
	Value string `json:"value" bson:"value"`
}

// CanonicalResource is one downloadable file or link of a dataset.
// Name is the idempotency key used by the resource mirror within a dataset.
type CanonicalResource struct {
	ID                    string `json:"id,omitempty" bson:"id,omitempty"`
	Name                  string `json:"name" bson:"name"`
	URL                   string `json:"url" bson:"url"`
	Format                string `json:"format,omitempty" bson:"format,omitempty"`
	Description           string `json:"description,omitempty" bson:"description,omitempty"`
	Position              *int   `json:"position,omitempty" bson:"position,omitempty"`
	HarvestedLastModified string `json:"harvested_last_modified,omitempty" bson:"harvested_last_modified,omitempty"`
	// HarvestSourceURL is the source URL a mirrored copy was made from.
	HarvestSourceURL string `json:"harvest_source_url,omitempty" bson:"harvest_source_url,omitempty"`
}

// CanonicalDataset is the target-catalog representation produced by a mapper.
type CanonicalDataset struct {
	ID              string              `json:"id,omitempty" bson:"id,omitempty"`
	Name            string              `json:"name" bson:"name"`
	Title           string              `json:"title,omitempty" bson:"title,omitempty"`
	Notes           string              `json:"notes,omitempty" bson:"notes,omitempty"`
	OwnerOrg        string              `json:"owner_org,omitempty" bson:"owner_org,omitempty"`
	Language        Language            `json:"language" bson:"language"`
	Author          string              `json:"author,omitempty" bson:"author,omitempty"`
	AuthorEmail     string              `json:"author_email,omitempty" bson:"author_email,omitempty"`
	Maintainer      string              `json:"maintainer,omitempty" bson:"maintainer,omitempty"`
	MaintainerEmail string              `json:"maintainer_email,omitempty" bson:"maintainer_email,omitempty"`
	LicenseID       string              `json:"license_id,omitempty" bson:"license_id,omitempty"`
	Version         string              `json:"version,omitempty" bson:"version,omitempty"`
	Rights          string              `json:"rights,omitempty" bson:"rights,omitempty"`
	Source          []string            `json:"source,omitempty" bson:"source,omitempty"`
	Resources       []CanonicalResource `json:"resources,omitempty" bson:"resources,omitempty"`
	Tags            []Tag               `json:"tags,omitempty" bson:"tags,omitempty"`
	Groups          []GroupRef          `json:"groups,omitempty" bson:"groups,omitempty"`
	Extras          []Extra             `json:"extras,omitempty" bson:"extras,omitempty"`
}

// Extra returns the value of the extra with key k.
func (d *CanonicalDataset) Extra(k string) (string, bool) {
	for _, e := range d.Extras {
		if e.Key == k {
			return e.Value, true
		}
	}
	return "", false
}

// SetExtra adds or replaces an extra. Empty values are dropped.
func (d *CanonicalDataset) SetExtra(k, v string) {
	if v == "" {
		return
	}
	for i := range d.Extras {
		if d.Extras[i].Key == k {
			d.Extras[i].Value = v
			return
		}
	}
	d.Extras = append(d.Extras, Extra{Key: k, Value: v})
}

// Clone returns a deep copy safe to mutate independently.
func (d *CanonicalDataset) Clone() *CanonicalDataset {
	if d == nil {
		return nil
	}
	c := *d
	c.Source = append([]string(nil), d.Source...)
	c.Tags = append([]Tag(nil), d.Tags...)
	c.Groups = append([]GroupRef(nil), d.Groups...)
	c.Extras = append([]Extra(nil), d.Extras...)
	if d.Resources != nil {
		c.Resources = make([]CanonicalResource, len(d.Resources))
		for i, r := range d.Resources {
			if r.Position != nil {
				p := *r.Position
				r.Position = &p
			}
			c.Resources[i] = r
		}
	}
	return &c
}

// TagsFromStrings builds tags from names, dropping blanks and duplicates.
func TagsFromStrings(names []string) []Tag {
	seen := make(map[string]struct{}, len(names))
	var tags []Tag
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		tags = append(tags, Tag{Name: n})
	}
	return tags
}
