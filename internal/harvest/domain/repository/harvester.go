package repository

import (
	"context"

	"catalog-harvester/internal/harvest/domain/model"
)

// Harvester adapts one source platform. FetchAll pages through the whole
// catalog eagerly; Map turns one record into its target representation.
type Harvester interface {
	Name() string
	FetchAll(ctx context.Context) ([]model.SourceRecord, error)
	Map(ctx context.Context, record model.SourceRecord) (*model.CanonicalDataset, error)
}

// EntityExtractor is implemented by harvesters whose records depend on
// organizations or groups that must exist before the dataset is upserted.
type EntityExtractor interface {
	ExtractEntities(record model.SourceRecord) (model.EntityMetadata, error)
}

// SourceHost is implemented by harvesters that know the host their files
// are served from; resources on that host are always mirrored.
type SourceHost interface {
	SourceHost() string
}
