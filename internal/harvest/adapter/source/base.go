package source

import (
	"net/url"
	"strings"
	"time"

	"catalog-harvester/internal/harvest/adapter/httpjson"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/service"
	"catalog-harvester/internal/shared/logger"
)

const (
	userAgent = "catalog-harvester"

	// harvestedAtLayout matches JavaScript's Date.toISOString.
	harvestedAtLayout = "2006-01-02T15:04:05.000Z"

	extraSourceURL       = "Source URL"
	extraLastHarvestedAt = "Last Harvested At"
)

// base carries what every platform adapter needs.
type base struct {
	name    string
	baseURL string
	apiKey  string
	mainOrg string
	http    *httpjson.Client
	log     logger.Logger
	now     func() time.Time
}

func newBase(name string, opts Options) base {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return base{
		name:    name,
		baseURL: strings.TrimRight(opts.SourceURL, "/"),
		apiKey:  opts.APIKey,
		mainOrg: opts.MainOrg,
		http:    httpjson.New(opts.HTTPClient, userAgent),
		log:     log.WithComponent(name + "-harvester"),
		now:     now,
	}
}

// Name implements repository.Harvester.
func (b *base) Name() string { return b.name }

// SourceHost implements repository.SourceHost.
func (b *base) SourceHost() string {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (b *base) harvestedAt() string {
	return b.now().UTC().Format(harvestedAtLayout)
}

// newDataset fills the fields every mapper sets the same way.
func (b *base) newDataset(sourceID, title, notes string) *model.CanonicalDataset {
	if notes == "" {
		notes = model.DefaultNotes
	}
	return &model.CanonicalDataset{
		Name:     service.DatasetName(b.mainOrg, sourceID),
		Title:    title,
		Notes:    notes,
		OwnerOrg: b.mainOrg,
		Language: model.DefaultLanguage,
	}
}

func tagsOf(names []string) []model.Tag {
	return model.TagsFromStrings(names)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
