package source

import (
	"context"
	"encoding/json"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/harvest/domain/service"
)

// OGLv3 is the rights statement every Lincolnshire dataset is published under.
const OGLv3 = "https://www.nationalarchives.gov.uk/doc/open-government-licence/version/3/"

// LincolnshireHarvester is a CKAN source with richer metadata. Source
// organizations become child organizations of the main organization and
// source groups become groups, both hanging from the main group.
type LincolnshireHarvester struct {
	ckan      *CkanHarvester
	mainGroup string
}

var (
	_ repository.Harvester       = (*LincolnshireHarvester)(nil)
	_ repository.EntityExtractor = (*LincolnshireHarvester)(nil)
	_ repository.SourceHost      = (*LincolnshireHarvester)(nil)
)

// NewLincolnshireHarvester creates the Lincolnshire County Council adapter.
func NewLincolnshireHarvester(opts Options) (repository.Harvester, error) {
	return &LincolnshireHarvester{
		ckan:      newCkanHarvester("lincolnshire", opts),
		mainGroup: opts.MainGroup,
	}, nil
}

// Name implements repository.Harvester.
func (h *LincolnshireHarvester) Name() string { return h.ckan.Name() }

// SourceHost implements repository.SourceHost.
func (h *LincolnshireHarvester) SourceHost() string { return h.ckan.SourceHost() }

// FetchAll implements repository.Harvester.
func (h *LincolnshireHarvester) FetchAll(ctx context.Context) ([]model.SourceRecord, error) {
	return h.ckan.FetchAll(ctx)
}

func (h *LincolnshireHarvester) parents() []model.GroupRef {
	if h.mainGroup == "" {
		return nil
	}
	return []model.GroupRef{{Name: h.mainGroup}}
}

// ExtractEntities implements repository.EntityExtractor.
func (h *LincolnshireHarvester) ExtractEntities(record model.SourceRecord) (model.EntityMetadata, error) {
	pkg, err := h.ckan.decode(record)
	if err != nil {
		return model.EntityMetadata{}, err
	}
	var meta model.EntityMetadata
	if org := pkg.Organization; org != nil {
		if name := service.EntityName(h.ckan.mainOrg, org.Name); name != "" {
			meta.Organizations = append(meta.Organizations, model.Organization{
				Name:        name,
				Title:       firstNonEmpty(org.label(), org.Name),
				Description: org.Description,
				Groups:      h.parents(),
			})
		}
	}
	for _, g := range pkg.Groups {
		name := service.EntityName(h.ckan.mainOrg, g.Name)
		if name == "" {
			continue
		}
		meta.Groups = append(meta.Groups, model.Group{
			Name:        name,
			Title:       firstNonEmpty(g.label(), g.Name),
			Description: g.Description,
			Groups:      h.parents(),
		})
	}
	return meta, nil
}

// Map implements repository.Harvester.
func (h *LincolnshireHarvester) Map(_ context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	pkg, err := h.ckan.decode(record)
	if err != nil {
		return nil, err
	}
	d := h.ckan.newDataset(pkg.Name, pkg.Title, pkg.Notes)
	d.Language = pkg.language()
	d.LicenseID = pkg.LicenseID
	d.Rights = OGLv3
	d.Version = pkg.Version
	d.Author = pkg.Author
	d.AuthorEmail = pkg.AuthorEmail
	d.Maintainer = pkg.Maintainer
	d.MaintainerEmail = pkg.MaintainerEmail
	if record.SourceURL != "" {
		d.Source = []string{record.SourceURL}
	}

	if pkg.Organization != nil {
		if org := service.EntityName(h.ckan.mainOrg, pkg.Organization.Name); org != "" {
			d.OwnerOrg = org
		}
	}

	tags := make([]string, 0, len(pkg.Tags))
	for _, t := range pkg.Tags {
		tags = append(tags, firstNonEmpty(t.DisplayName, t.Name))
	}
	d.Tags = tagsOf(tags)

	for _, g := range pkg.Groups {
		if name := service.EntityName(h.ckan.mainOrg, g.Name); name != "" {
			d.Groups = append(d.Groups, model.GroupRef{Name: name})
		}
	}

	for _, r := range pkg.Resources {
		d.Resources = append(d.Resources, model.CanonicalResource{
			Name:                  r.Name,
			URL:                   r.URL,
			Format:                r.Format,
			Description:           r.Description,
			HarvestedLastModified: r.LastModified,
			Position:              r.Position,
		})
	}

	d.SetExtra("harvested_pkg_created", pkg.MetadataCreated)
	d.SetExtra("harvested_pkg_modified", pkg.MetadataModified)
	if len(pkg.Groups) > 0 {
		groups := make([]refSummary, 0, len(pkg.Groups))
		for _, g := range pkg.Groups {
			groups = append(groups, refSummary{Name: g.Name, Title: g.label()})
		}
		d.SetExtra("harvested_pkg_groups", compactJSON(groups))
	}
	if org := pkg.Organization; org != nil {
		d.SetExtra("harvested_pkg_org", compactJSON(refSummary{Name: org.Name, Title: org.label()}))
	}
	return d, nil
}

type refSummary struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

func compactJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
