package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"catalog-harvester/internal/harvest/adapter/httpjson"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
)

const socrataPageSize = 100

type socrataAttachment struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	AssetID  string `json:"assetId"`
	BlobID   string `json:"blobId"`
}

type socrataView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	ViewType    string   `json:"viewType"`
	Tags        []string `json:"tags"`
	Owner       *struct {
		DisplayName string `json:"displayName"`
	} `json:"owner"`
	Metadata struct {
		Attachments []socrataAttachment `json:"attachments"`
	} `json:"metadata"`
}

// SocrataHarvester harvests a Socrata open data portal through /api/views.
type SocrataHarvester struct {
	base
}

var _ repository.Harvester = (*SocrataHarvester)(nil)

// NewSocrataHarvester creates a Socrata source adapter. The API key is sent
// as the X-App-Token header.
func NewSocrataHarvester(opts Options) (repository.Harvester, error) {
	return &SocrataHarvester{base: newBase("socrata", opts)}, nil
}

// FetchAll pages through /api/views until an empty page.
func (h *SocrataHarvester) FetchAll(ctx context.Context) ([]model.SourceRecord, error) {
	var records []model.SourceRecord
	for page := 1; ; page++ {
		h.log.WithContext(ctx).Debugf("Fetching datasets from page %d", page)
		var views []json.RawMessage
		err := h.http.Get(ctx, h.baseURL+"/api/views",
			httpjson.WithQuery("page", strconv.Itoa(page)),
			httpjson.WithQuery("limit", strconv.Itoa(socrataPageSize)),
			httpjson.WithHeader("X-App-Token", h.apiKey),
			httpjson.WithResult(&views),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch Socrata datasets page %d: %w", page, err)
		}
		if len(views) == 0 {
			return records, nil
		}
		for _, raw := range views {
			var head struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			if err := json.Unmarshal(raw, &head); err != nil {
				return nil, fmt.Errorf("failed to decode Socrata view: %w", err)
			}
			records = append(records, model.SourceRecord{
				ID:        head.ID,
				Title:     head.Name,
				SourceURL: h.landingURL(head.ID),
				Raw:       raw,
			})
		}
	}
}

func (h *SocrataHarvester) landingURL(id string) string {
	if id == "" {
		return ""
	}
	return h.baseURL + "/d/" + id
}

// Map implements repository.Harvester.
func (h *SocrataHarvester) Map(_ context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	var view socrataView
	if err := record.Decode(&view); err != nil {
		return nil, fmt.Errorf("decode socrata view %s: %w", record.Label(), err)
	}

	d := h.newDataset(view.ID, view.Name, view.Description)
	if view.Owner != nil {
		d.Author = view.Owner.DisplayName
	}
	d.Tags = tagsOf(view.Tags)

	for _, att := range view.Metadata.Attachments {
		var link string
		if att.AssetID != "" {
			link = fmt.Sprintf("%s/api/views/%s/files/%s?filename=%s", h.baseURL, view.ID, att.AssetID, url.QueryEscape(att.Filename))
		} else {
			link = fmt.Sprintf("%s/api/assets/%s?download=true", h.baseURL, att.BlobID)
		}
		d.Resources = append(d.Resources, model.CanonicalResource{
			Name: firstNonEmpty(att.Name, att.Filename),
			URL:  link,
		})
	}
	if view.ViewType == "tabular" {
		d.Resources = append(d.Resources, model.CanonicalResource{
			Name:   view.Name,
			URL:    fmt.Sprintf("%s/api/views/%s/rows.csv", h.baseURL, view.ID),
			Format: "CSV",
		})
	}

	if landing := h.landingURL(view.ID); landing != "" {
		d.Source = []string{landing}
		d.SetExtra(extraSourceURL, landing)
	}
	d.SetExtra(extraLastHarvestedAt, h.harvestedAt())
	d.SetExtra("Category", view.Category)
	return d, nil
}
