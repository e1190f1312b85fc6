package usecase

import (
	"context"
	"encoding/json"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/logger"
)

// Reconciler upserts canonical datasets into the target catalog.
//
// It always tries create first and falls back to update when the target
// reports the name as already in use. Updates of existing datasets therefore
// cost one failed create; the target is never read before writing.
type Reconciler struct {
	catalog repository.CatalogRepository
	retry   *RetryPolicy
	log     logger.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(catalog repository.CatalogRepository, retry *RetryPolicy, log logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		catalog: catalog,
		retry:   retry,
		log:     log.WithComponent("reconciler"),
	}
}

// Upsert creates or updates dataset. In dry-run mode the payload is only
// logged and returned unchanged.
func (r *Reconciler) Upsert(ctx context.Context, dataset *model.CanonicalDataset, dryRun bool) (*model.CanonicalDataset, error) {
	if dataset == nil || dataset.Name == "" {
		return nil, sharedErrors.NewValidationError("Dataset must have a 'name' field.").
			WithCause(sharedErrors.ErrMissingDatasetName).
			WithComponent("reconciler")
	}

	log := r.log.WithContext(ctx).WithFields(map[string]interface{}{"dataset": dataset.Name})

	if dryRun {
		payload, err := json.MarshalIndent(dataset, "", "    ")
		if err != nil {
			return nil, sharedErrors.NewValidationError("dataset is not serializable").WithCause(err)
		}
		log.Infof("[dry run]: upsert %s", payload)
		return dataset, nil
	}

	return Retry(ctx, r.retry, "upsert "+dataset.Name, func(ctx context.Context) (*model.CanonicalDataset, error) {
		return r.createOrUpdate(ctx, log, dataset)
	})
}

func (r *Reconciler) createOrUpdate(ctx context.Context, log logger.Logger, dataset *model.CanonicalDataset) (*model.CanonicalDataset, error) {
	created, err := r.catalog.CreateDataset(ctx, dataset)
	if err == nil {
		log.Infof("created dataset")
		return created, nil
	}
	if !sharedErrors.IsConflict(err) {
		log.Errorf("create dataset failed: %v", err)
		return nil, err
	}

	log.Infof("dataset exists, updating")
	updated, err := r.catalog.UpdateDataset(ctx, dataset)
	if err != nil {
		log.Errorf("update dataset failed: %v", err)
		return nil, err
	}
	return updated, nil
}
