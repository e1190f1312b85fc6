package source

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"catalog-harvester/internal/harvest/adapter/httpjson"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/harvest/domain/service"
)

const odsPageSize = 100

// odsExportFormats are the export endpoints linked for every dataset.
var odsExportFormats = []string{"csv", "json", "xlsx"}

var themeSeparator = regexp.MustCompile(`\s*,\s*`)

type odsAttachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

type odsDataset struct {
	Dataset struct {
		DatasetID   string          `json:"dataset_id"`
		Attachments []odsAttachment `json:"attachments"`
		Metas       struct {
			Default struct {
				Title       string   `json:"title"`
				Description string   `json:"description"`
				Publisher   string   `json:"publisher"`
				Language    string   `json:"language"`
				Theme       []string `json:"theme"`
				Keyword     []string `json:"keyword"`
				License     string   `json:"license"`
				Modified    string   `json:"modified"`
			} `json:"default"`
		} `json:"metas"`
	} `json:"dataset"`
}

// OpenDataSoftHarvester harvests an OpenDataSoft portal through the v2 catalog API.
type OpenDataSoftHarvester struct {
	base
}

var _ repository.Harvester = (*OpenDataSoftHarvester)(nil)

// NewOpenDataSoftHarvester creates an OpenDataSoft source adapter. The API
// key is sent as a bearer token.
func NewOpenDataSoftHarvester(opts Options) (repository.Harvester, error) {
	return &OpenDataSoftHarvester{base: newBase("opendatasoft", opts)}, nil
}

// FetchAll pages with limit/offset until an empty page.
func (h *OpenDataSoftHarvester) FetchAll(ctx context.Context) ([]model.SourceRecord, error) {
	var records []model.SourceRecord
	auth := ""
	if h.apiKey != "" {
		auth = "Bearer " + h.apiKey
	}
	for offset := 0; ; offset += odsPageSize {
		var page struct {
			TotalCount int               `json:"total_count"`
			Datasets   []json.RawMessage `json:"datasets"`
		}
		err := h.http.Get(ctx, h.baseURL+"/api/v2/catalog/datasets",
			httpjson.WithQuery("limit", strconv.Itoa(odsPageSize)),
			httpjson.WithQuery("offset", strconv.Itoa(offset)),
			httpjson.WithHeader("Authorization", auth),
			httpjson.WithResult(&page),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ODS datasets at offset %d: %w", offset, err)
		}
		if len(page.Datasets) == 0 {
			return records, nil
		}
		for _, raw := range page.Datasets {
			var ds odsDataset
			if err := json.Unmarshal(raw, &ds); err != nil {
				return nil, fmt.Errorf("failed to decode ODS dataset: %w", err)
			}
			id := ds.Dataset.DatasetID
			records = append(records, model.SourceRecord{
				ID:        id,
				Title:     ds.Dataset.Metas.Default.Title,
				SourceURL: h.exploreURL(id),
				Raw:       raw,
			})
		}
	}
}

func (h *OpenDataSoftHarvester) exploreURL(id string) string {
	if id == "" {
		return ""
	}
	return h.baseURL + "/explore/dataset/" + id
}

// Map implements repository.Harvester.
func (h *OpenDataSoftHarvester) Map(_ context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	var ds odsDataset
	if err := record.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode ods dataset %s: %w", record.Label(), err)
	}
	meta := ds.Dataset.Metas.Default
	id := ds.Dataset.DatasetID

	d := h.newDataset(id, meta.Title, meta.Description)
	d.Author = meta.Publisher
	d.Language = service.MapLanguage(meta.Language)

	var tags []string
	for _, theme := range meta.Theme {
		for _, t := range themeSeparator.Split(theme, -1) {
			tags = append(tags, strings.TrimSpace(t))
		}
	}
	d.Tags = tagsOf(tags)

	for _, format := range odsExportFormats {
		upper := strings.ToUpper(format)
		d.Resources = append(d.Resources, model.CanonicalResource{
			Name:   fmt.Sprintf("%s: %s", meta.Title, upper),
			URL:    fmt.Sprintf("%s/api/v2/catalog/datasets/%s/exports/%s", h.baseURL, id, format),
			Format: upper,
		})
	}
	for i, att := range ds.Dataset.Attachments {
		d.Resources = append(d.Resources, model.CanonicalResource{
			Name:   firstNonEmpty(att.Filename, fmt.Sprintf("attachment-%d", i+1)),
			URL:    att.URL,
			Format: service.FormatFromFilename(att.Filename, "FILE"),
		})
	}

	if explore := h.exploreURL(id); explore != "" {
		d.Source = []string{explore}
		d.SetExtra(extraSourceURL, explore)
	}
	d.SetExtra(extraLastHarvestedAt, h.harvestedAt())
	return d, nil
}
