package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"catalog-harvester/internal/harvest/adapter/httpjson"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/harvest/domain/service"

	"golang.org/x/sync/errgroup"
)

const (
	dataversePageSize           = 100
	defaultDetailConcurrency    = 4
	dataverseDefaultNotes       = "No description"
	dataverseFallbackFileFormat = "FILE"
)

type dataverseSearchItem struct {
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	GlobalID     string   `json:"global_id"`
	Description  string   `json:"description"`
	Author       string   `json:"author"`
	Keywords     []string `json:"keywords"`
	MajorVersion int      `json:"majorVersion"`
	MinorVersion int      `json:"minorVersion"`
	VersionState string   `json:"versionState"`
	PublishedAt  string   `json:"published_at"`
}

type dataverseDetails struct {
	Publisher     string `json:"publisher"`
	LatestVersion struct {
		VersionState string `json:"versionState"`
		Files        []struct {
			Label    string `json:"label"`
			DataFile struct {
				ID          int64  `json:"id"`
				ContentType string `json:"contentType"`
				Filename    string `json:"filename"`
				Filesize    int64  `json:"filesize"`
			} `json:"dataFile"`
		} `json:"files"`
		License *struct {
			Name string `json:"name"`
			URI  string `json:"uri"`
		} `json:"license"`
	} `json:"latestVersion"`
}

// dataverseRecord is a search hit joined with its dataset details.
type dataverseRecord struct {
	dataverseSearchItem
	Details dataverseDetails `json:"__details"`
}

// DataverseHarvester harvests a Dataverse installation. Listing uses the
// search API; each hit's files come from the datasets API.
type DataverseHarvester struct {
	base
	detailConcurrency int
}

var _ repository.Harvester = (*DataverseHarvester)(nil)

// NewDataverseHarvester creates a Dataverse source adapter.
func NewDataverseHarvester(opts Options) (repository.Harvester, error) {
	n := opts.DetailConcurrency
	if n < 1 {
		n = defaultDetailConcurrency
	}
	return &DataverseHarvester{base: newBase("dataverse", opts), detailConcurrency: n}, nil
}

// FetchAll lists every dataset then fetches details with bounded
// concurrency. Any failed detail request fails the fetch.
func (h *DataverseHarvester) FetchAll(ctx context.Context) ([]model.SourceRecord, error) {
	items, err := h.list(ctx)
	if err != nil {
		return nil, err
	}

	details := make([]dataverseDetails, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.detailConcurrency)
	for i := range items {
		i := i
		g.Go(func() error {
			return h.http.Get(gctx, h.baseURL+"/api/datasets/:persistentId",
				httpjson.WithQuery("persistentId", items[i].GlobalID),
				httpjson.WithResult(&dataverseEnvelope{Data: &details[i]}),
			)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch dataset metadata: %w", err)
	}

	records := make([]model.SourceRecord, 0, len(items))
	for i, item := range items {
		rec, err := model.NewSourceRecord(item.GlobalID, item.Name, item.URL, dataverseRecord{
			dataverseSearchItem: item,
			Details:             details[i],
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

type dataverseEnvelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

func (h *DataverseHarvester) list(ctx context.Context) ([]dataverseSearchItem, error) {
	var items []dataverseSearchItem
	for start := 0; ; start += dataversePageSize {
		h.log.WithContext(ctx).Debugf("Fetching datasets from page %d", start/dataversePageSize+1)
		var page struct {
			Items []dataverseSearchItem `json:"items"`
		}
		err := h.http.Get(ctx, h.baseURL+"/api/search",
			httpjson.WithQuery("q", "*"),
			httpjson.WithQuery("type", "dataset"),
			httpjson.WithQuery("per_page", strconv.Itoa(dataversePageSize)),
			httpjson.WithQuery("start", strconv.Itoa(start)),
			httpjson.WithResult(&dataverseEnvelope{Data: &page}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch datasets: %w", err)
		}
		if len(page.Items) == 0 {
			return items, nil
		}
		items = append(items, page.Items...)
	}
}

// Map implements repository.Harvester.
func (h *DataverseHarvester) Map(_ context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	var ds dataverseRecord
	if err := record.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dataverse dataset %s: %w", record.Label(), err)
	}

	notes := ds.Description
	if notes == "" {
		notes = dataverseDefaultNotes
	}
	d := h.newDataset(ds.GlobalID, ds.Name, notes)
	d.Author = ds.Author
	d.Tags = tagsOf(ds.Keywords)
	if ds.URL != "" {
		d.Source = []string{ds.URL}
	}
	if lic := ds.Details.LatestVersion.License; lic != nil {
		d.LicenseID = lic.Name
	}

	for _, f := range ds.Details.LatestVersion.Files {
		df := f.DataFile
		d.Resources = append(d.Resources, model.CanonicalResource{
			Name:   df.Filename,
			URL:    fmt.Sprintf("%s/api/access/datafile/%d", h.baseURL, df.ID),
			Format: service.FormatFromFilename(df.Filename, dataverseFallbackFileFormat),
		})
	}

	d.SetExtra(extraSourceURL, ds.URL)
	d.SetExtra("Global ID", ds.GlobalID)
	d.SetExtra(extraLastHarvestedAt, h.harvestedAt())
	d.SetExtra("Version", fmt.Sprintf("%d.%d", ds.MajorVersion, ds.MinorVersion))
	d.SetExtra("Version State", ds.VersionState)
	d.SetExtra("Version History URL", fmt.Sprintf("%s/dataset.xhtml?persistentId=%s", h.baseURL, url.QueryEscape(ds.GlobalID)))
	d.SetExtra("Publisher", ds.Details.Publisher)
	d.SetExtra("DOI", ds.GlobalID)
	return d, nil
}
