package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"catalog-harvester/internal/harvest/adapter/httpjson"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/harvest/domain/service"
)

const arcgisPageSize = 100

type arcgisLink struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	URL   string `json:"url"`
	Link  string `json:"link"`
	Title string `json:"title"`
	Name  string `json:"name"`
}

func (l arcgisLink) target() string {
	return firstNonEmpty(l.Href, l.URL, l.Link)
}

// arcgisProperties lists the fields items carry under varying names.
type arcgisProperties struct {
	ID           string       `json:"id"`
	GUID         string       `json:"guid"`
	Name         string       `json:"name"`
	Title        string       `json:"title"`
	Label        string       `json:"label"`
	Description  string       `json:"description"`
	Snippet      string       `json:"snippet"`
	Summary      string       `json:"summary"`
	Tags         []string     `json:"tags"`
	Type         string       `json:"type"`
	ResourceType string       `json:"resourceType"`
	ItemType     string       `json:"itemType"`
	URL          string       `json:"url"`
	LandingPage  string       `json:"landingPage"`
	ServiceURL   string       `json:"serviceUrl"`
	Homepage     string       `json:"homepage"`
	Links        []arcgisLink `json:"links"`
	Distribution []arcgisLink `json:"distribution"`
	Resources    []arcgisLink `json:"resources"`
	Assets       []arcgisLink `json:"assets"`
}

type arcgisFeature struct {
	ID         flexibleID       `json:"id"`
	Properties arcgisProperties `json:"properties"`
}

// flexibleID accepts both numeric and string feature ids.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return nil
	}
	*f = flexibleID(n.String())
	return nil
}

func (f *arcgisFeature) id() string {
	p := f.Properties
	return firstNonEmpty(string(f.ID), p.ID, p.GUID, p.Name, p.Title)
}

func (f *arcgisFeature) title() string {
	p := f.Properties
	return firstNonEmpty(p.Title, p.Name, p.Label)
}

// ArcgisHarvester harvests an ArcGIS Hub site through the OGC search API.
type ArcgisHarvester struct {
	base
}

var _ repository.Harvester = (*ArcgisHarvester)(nil)

// NewArcgisHarvester creates an ArcGIS Hub source adapter.
func NewArcgisHarvester(opts Options) (repository.Harvester, error) {
	return &ArcgisHarvester{base: newBase("arcgis", opts)}, nil
}

// FetchAll follows rel=next links from the first items page.
func (h *ArcgisHarvester) FetchAll(ctx context.Context) ([]model.SourceRecord, error) {
	var records []model.SourceRecord
	next := h.baseURL + "/api/search/v1/collections/dataset/items?limit=" + strconv.Itoa(arcgisPageSize)
	seen := map[string]bool{}
	for next != "" {
		if seen[next] {
			return nil, fmt.Errorf("ArcGIS pagination loops at %s", next)
		}
		seen[next] = true

		var page struct {
			Features []json.RawMessage `json:"features"`
			Links    []arcgisLink      `json:"links"`
		}
		if err := h.http.Get(ctx, next, httpjson.WithResult(&page)); err != nil {
			return nil, fmt.Errorf("failed to fetch ArcGIS datasets: %w", err)
		}
		for _, raw := range page.Features {
			var f arcgisFeature
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, fmt.Errorf("failed to decode ArcGIS feature: %w", err)
			}
			p := f.Properties
			records = append(records, model.SourceRecord{
				ID:        f.id(),
				Title:     f.title(),
				SourceURL: firstNonEmpty(p.LandingPage, p.URL),
				Raw:       raw,
			})
		}
		next = ""
		for _, l := range page.Links {
			if l.Rel == "next" {
				next = l.Href
				break
			}
		}
	}
	return records, nil
}

// Map implements repository.Harvester.
func (h *ArcgisHarvester) Map(_ context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	var f arcgisFeature
	if err := record.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode arcgis feature %s: %w", record.Label(), err)
	}
	p := f.Properties
	id := f.id()
	title := firstNonEmpty(f.title(), id)

	d := h.newDataset(firstNonEmpty(p.Name, id), title, firstNonEmpty(p.Description, p.Snippet, p.Summary))
	d.Tags = tagsOf(p.Tags)
	if record.SourceURL != "" {
		d.Source = []string{record.SourceURL}
	}

	seen := map[string]bool{}
	if link := firstNonEmpty(p.URL, p.LandingPage, p.ServiceURL, p.Homepage); link != "" {
		seen[link] = true
		d.Resources = append(d.Resources, model.CanonicalResource{
			Name:   title,
			URL:    link,
			Format: service.DetectFormat(link, firstNonEmpty(p.Type, p.ResourceType, p.ItemType)),
		})
	}

	extra := p.Links
	for _, candidates := range [][]arcgisLink{p.Distribution, p.Resources, p.Assets} {
		if len(extra) > 0 {
			break
		}
		extra = candidates
	}
	for _, l := range extra {
		link := l.target()
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		d.Resources = append(d.Resources, model.CanonicalResource{
			Name:   firstNonEmpty(l.Title, l.Name, title),
			URL:    link,
			Format: service.DetectFormat(link, ""),
		})
	}
	return d, nil
}
