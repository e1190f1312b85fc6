package usecase

import (
	"context"
	"sync/atomic"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/shared/contextkeys"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/logger"
)

// PatchResult counts the outcome of a source-link backfill.
type PatchResult struct {
	Updated int64
	Skipped int64
	Failed  int64
}

// PatchUsecase backfills the source link of datasets that were harvested
// before the link was recorded.
type PatchUsecase interface {
	PatchSources(ctx context.Context) (PatchResult, error)
}

// PatchOptions configures a backfill.
type PatchOptions struct {
	DryRun      bool
	Concurrency int
	RPS         int
	Retry       RetryOptions
}

type patchUsecaseImpl struct {
	harvester repository.Harvester
	catalog   repository.CatalogRepository
	retry     *RetryPolicy
	log       logger.Logger
	opts      PatchOptions
}

// NewPatchUsecase creates a new instance of PatchUsecase.
func NewPatchUsecase(harvester repository.Harvester, catalog repository.CatalogRepository, log logger.Logger, opts PatchOptions) PatchUsecase {
	if log == nil {
		log = logger.Nop()
	}
	return &patchUsecaseImpl{
		harvester: harvester,
		catalog:   catalog,
		retry:     NewRetryPolicy(opts.Retry, log),
		log:       log.WithComponent("source-patch"),
		opts:      opts,
	}
}

// PatchSources sets source to [record source url] on every target dataset
// the harvester maps a record to. Records without a source URL or without a
// target dataset are skipped.
func (uc *patchUsecaseImpl) PatchSources(ctx context.Context) (PatchResult, error) {
	ctx = context.WithValue(ctx, contextkeys.HarvesterKey, uc.harvester.Name())

	records, err := Retry(ctx, uc.retry, "fetch source "+uc.harvester.Name(), uc.harvester.FetchAll)
	if err != nil {
		return PatchResult{}, err
	}

	var updated, skipped, failed atomic.Int64
	jobs := make([]Job, 0, len(records))
	for _, record := range records {
		record := record
		jobs = append(jobs, func(ctx context.Context) {
			switch uc.patchOne(ctx, record) {
			case patchUpdated:
				updated.Add(1)
			case patchSkipped:
				skipped.Add(1)
			default:
				failed.Add(1)
			}
		})
	}
	NewScheduler(uc.opts.Concurrency, uc.opts.RPS).Run(ctx, jobs)

	result := PatchResult{Updated: updated.Load(), Skipped: skipped.Load(), Failed: failed.Load()}
	uc.log.WithContext(ctx).Infof("Done. Updated=%d, Skipped=%d", result.Updated, result.Skipped)
	if result.Failed > 0 {
		uc.log.WithContext(ctx).Warnf("%d datasets could not be patched", result.Failed)
	}
	return result, nil
}

type patchOutcome int

const (
	patchUpdated patchOutcome = iota
	patchSkipped
	patchFailed
)

func (uc *patchUsecaseImpl) patchOne(ctx context.Context, record model.SourceRecord) (outcome patchOutcome) {
	ctx = context.WithValue(ctx, contextkeys.RecordIDKey, record.Label())
	log := uc.log.WithContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Errorf("panic while patching record: %v", p)
			outcome = patchFailed
		}
	}()

	if record.SourceURL == "" {
		log.Debug("record has no source url, skipping")
		return patchSkipped
	}
	dataset, err := uc.harvester.Map(ctx, record)
	if err != nil {
		log.Errorf("failed to map record: %v", err)
		return patchFailed
	}
	if dataset == nil || dataset.Name == "" {
		return patchSkipped
	}

	dest, err := Retry(ctx, uc.retry, "get dataset "+dataset.Name, func(ctx context.Context) (*model.CanonicalDataset, error) {
		return uc.catalog.GetDataset(ctx, dataset.Name)
	})
	if sharedErrors.IsNotFound(err) {
		log.Debugf("dataset %s is not in the target, skipping", dataset.Name)
		return patchSkipped
	}
	if err != nil {
		log.Errorf("failed to load dataset %s: %v", dataset.Name, err)
		return patchFailed
	}

	id := dest.ID
	if id == "" {
		id = dataset.Name
	}
	fields := map[string]interface{}{"source": []string{record.SourceURL}}

	if uc.opts.DryRun {
		log.Infof("[dry run]: patch %s source=%s", id, record.SourceURL)
		return patchUpdated
	}
	if _, err := Retry(ctx, uc.retry, "patch "+dataset.Name, func(ctx context.Context) (*model.CanonicalDataset, error) {
		return uc.catalog.PatchDataset(ctx, id, fields)
	}); err != nil {
		log.Errorf("failed to patch %s: %v", dataset.Name, err)
		return patchFailed
	}
	log.Infof("patched %s", dataset.Name)
	return patchUpdated
}
