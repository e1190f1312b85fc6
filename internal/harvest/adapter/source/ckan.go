package source

import (
	"context"
	"encoding/json"
	"fmt"

	"catalog-harvester/internal/harvest/adapter/ckan"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/harvest/domain/service"
)

// ckanPageSize is the package_search page size used against source instances.
const ckanPageSize = 10

type ckanRef struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

func (r ckanRef) label() string {
	return firstNonEmpty(r.Title, r.DisplayName)
}

type ckanTag struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type ckanResource struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Format       string `json:"format"`
	Description  string `json:"description"`
	LastModified string `json:"last_modified"`
	Position     *int   `json:"position"`
}

type ckanPackage struct {
	Name             string         `json:"name"`
	Title            string         `json:"title"`
	Notes            string         `json:"notes"`
	Language         ckan.Strings   `json:"language"`
	LicenseID        string         `json:"license_id"`
	Version          string         `json:"version"`
	Author           string         `json:"author"`
	AuthorEmail      string         `json:"author_email"`
	Maintainer       string         `json:"maintainer"`
	MaintainerEmail  string         `json:"maintainer_email"`
	MetadataCreated  string         `json:"metadata_created"`
	MetadataModified string         `json:"metadata_modified"`
	Tags             []ckanTag      `json:"tags"`
	Groups           []ckanRef      `json:"groups"`
	Organization     *ckanRef       `json:"organization"`
	Resources        []ckanResource `json:"resources"`
}

func (p *ckanPackage) language() model.Language {
	if len(p.Language) == 0 {
		return model.DefaultLanguage
	}
	return service.MapLanguage(p.Language[0])
}

// CkanHarvester harvests another CKAN instance.
type CkanHarvester struct {
	base
	client *ckan.Client
}

var (
	_ repository.Harvester  = (*CkanHarvester)(nil)
	_ repository.SourceHost = (*CkanHarvester)(nil)
)

// NewCkanHarvester creates a CKAN source adapter.
func NewCkanHarvester(opts Options) (repository.Harvester, error) {
	return newCkanHarvester("ckan", opts), nil
}

func newCkanHarvester(name string, opts Options) *CkanHarvester {
	b := newBase(name, opts)
	return &CkanHarvester{
		base:   b,
		client: ckan.NewClient(b.baseURL, b.apiKey, opts.HTTPClient, b.log),
	}
}

// FetchAll pages through package_search until an empty page.
func (h *CkanHarvester) FetchAll(ctx context.Context) ([]model.SourceRecord, error) {
	var records []model.SourceRecord
	for page := 0; ; page++ {
		h.log.WithContext(ctx).Debugf("Fetching datasets from page %d", page+1)
		result, err := h.client.Search(ctx, ckan.SearchQuery{Rows: ckanPageSize, Start: page * ckanPageSize})
		if err != nil {
			return nil, fmt.Errorf("ckan package_search page %d: %w", page+1, err)
		}
		if len(result.Results) == 0 {
			return records, nil
		}
		for _, raw := range result.Results {
			var head struct {
				Name  string `json:"name"`
				Title string `json:"title"`
			}
			if err := json.Unmarshal(raw, &head); err != nil {
				return nil, fmt.Errorf("ckan package_search page %d: %w", page+1, err)
			}
			records = append(records, model.SourceRecord{
				ID:        head.Name,
				Title:     head.Title,
				SourceURL: h.datasetURL(head.Name),
				Raw:       append(json.RawMessage(nil), raw...),
			})
		}
	}
}

func (h *CkanHarvester) datasetURL(name string) string {
	if name == "" {
		return ""
	}
	return h.baseURL + "/dataset/" + name
}

func (h *CkanHarvester) decode(record model.SourceRecord) (*ckanPackage, error) {
	var pkg ckanPackage
	if err := record.Decode(&pkg); err != nil {
		return nil, fmt.Errorf("decode ckan package %s: %w", record.Label(), err)
	}
	return &pkg, nil
}

// Map implements repository.Harvester.
func (h *CkanHarvester) Map(_ context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	pkg, err := h.decode(record)
	if err != nil {
		return nil, err
	}
	d := h.newDataset(pkg.Name, pkg.Title, pkg.Notes)
	d.Language = pkg.language()
	if record.SourceURL != "" {
		d.Source = []string{record.SourceURL}
	}
	for _, r := range pkg.Resources {
		d.Resources = append(d.Resources, model.CanonicalResource{
			Name:   r.Name,
			URL:    r.URL,
			Format: r.Format,
		})
	}
	return d, nil
}
