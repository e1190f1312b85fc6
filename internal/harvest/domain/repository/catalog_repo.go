package repository

import (
	"context"

	"catalog-harvester/internal/harvest/domain/model"
)

// CatalogRepository is the target catalog (a CKAN-compatible action API).
// Lookups return a NOT_FOUND AppError when the entity does not exist and
// creates return a CONFLICT AppError when the name or URL is already in use.
type CatalogRepository interface {
	// Dataset methods
	GetDataset(ctx context.Context, name string) (*model.CanonicalDataset, error)
	CreateDataset(ctx context.Context, dataset *model.CanonicalDataset) (*model.CanonicalDataset, error)
	UpdateDataset(ctx context.Context, dataset *model.CanonicalDataset) (*model.CanonicalDataset, error)
	PatchDataset(ctx context.Context, id string, fields map[string]interface{}) (*model.CanonicalDataset, error)
	ListDatasetsByOrganization(ctx context.Context, org string) ([]string, error)

	// Entity methods
	GetOrganization(ctx context.Context, name string) (*model.Organization, error)
	CreateOrganization(ctx context.Context, org *model.Organization) error
	GetGroup(ctx context.Context, name string) (*model.Group, error)
	CreateGroup(ctx context.Context, group *model.Group) error
}
