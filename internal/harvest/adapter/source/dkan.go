package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"catalog-harvester/internal/harvest/adapter/httpjson"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
)

const dkanPageSize = 100

type dkanDistribution struct {
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Format      string `json:"format"`
	MediaType   string `json:"mediaType"`
	DownloadURL string `json:"downloadURL"`
	AccessURL   string `json:"accessURL"`
	Description string `json:"description"`
}

type dkanDataset struct {
	Identifier   string             `json:"identifier"`
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Keyword      []string           `json:"keyword"`
	Distribution []dkanDistribution `json:"distribution"`
	LandingPage  string             `json:"landingPage"`
}

// DkanHarvester harvests a DKAN 2 site through its search API.
type DkanHarvester struct {
	base
}

var _ repository.Harvester = (*DkanHarvester)(nil)

// NewDkanHarvester creates a DKAN source adapter.
func NewDkanHarvester(opts Options) (repository.Harvester, error) {
	return &DkanHarvester{base: newBase("dkan", opts)}, nil
}

// FetchAll pages from page 1 until the reported total is reached. Results
// arrive as a map; keys are sorted to keep the order stable.
func (h *DkanHarvester) FetchAll(ctx context.Context) ([]model.SourceRecord, error) {
	var records []model.SourceRecord
	for page := 1; ; page++ {
		var resp struct {
			Total   json.Number                `json:"total"`
			Results map[string]json.RawMessage `json:"results"`
		}
		err := h.http.Get(ctx, h.baseURL+"/api/1/search",
			httpjson.WithQuery("page-size", strconv.Itoa(dkanPageSize)),
			httpjson.WithQuery("page", strconv.Itoa(page)),
			httpjson.WithResult(&resp),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch DKAN datasets page %d: %w", page, err)
		}
		total := 0
		if resp.Total != "" {
			if total, err = strconv.Atoi(resp.Total.String()); err != nil {
				return nil, fmt.Errorf("DKAN search returned invalid total %q", resp.Total)
			}
		}

		keys := make([]string, 0, len(resp.Results))
		for k := range resp.Results {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			raw := resp.Results[k]
			var ds dkanDataset
			if err := json.Unmarshal(raw, &ds); err != nil {
				return nil, fmt.Errorf("failed to decode DKAN dataset: %w", err)
			}
			records = append(records, model.SourceRecord{
				ID:        ds.Identifier,
				Title:     ds.Title,
				SourceURL: ds.LandingPage,
				Raw:       raw,
			})
		}
		if len(resp.Results) == 0 || len(records) >= total {
			return records, nil
		}
	}
}

// Map implements repository.Harvester.
func (h *DkanHarvester) Map(_ context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	var ds dkanDataset
	if err := record.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dkan dataset %s: %w", record.Label(), err)
	}
	d := h.newDataset(ds.Identifier, ds.Title, ds.Description)
	d.Tags = tagsOf(ds.Keyword)
	if ds.LandingPage != "" {
		d.Source = []string{ds.LandingPage}
	}
	for _, dist := range ds.Distribution {
		d.Resources = append(d.Resources, model.CanonicalResource{
			ID:          dist.Identifier,
			Name:        dist.Title,
			URL:         firstNonEmpty(dist.DownloadURL, dist.AccessURL),
			Format:      firstNonEmpty(dist.Format, dist.MediaType, "unknown"),
			Description: dist.Description,
		})
	}
	return d, nil
}
