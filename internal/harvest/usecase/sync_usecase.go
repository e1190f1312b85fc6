package usecase

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/harvest/domain/service"
	"catalog-harvester/internal/shared/contextkeys"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/eventbus"
	"catalog-harvester/internal/shared/logger"
	"catalog-harvester/internal/shared/metrics"

	"github.com/google/uuid"
)

// SyncUsecase runs one harvest: fetch every source record and reconcile it into the target.
type SyncUsecase interface {
	Run(ctx context.Context) (*model.RunReport, error)
}

// SyncDependencies are the collaborators of a run. Blob is optional; without
// it resources keep their source URLs. Bus is optional.
type SyncDependencies struct {
	Harvester  repository.Harvester
	Catalog    repository.CatalogRepository
	Blob       repository.BlobStore
	Bus        eventbus.EventBusInterface
	HTTPClient *http.Client
	Logger     logger.Logger
}

// SyncOptions holds the run configuration.
type SyncOptions struct {
	MainOrg       string
	MainGroup     string
	MainUser      string
	DryRun        bool
	Concurrency   int
	RPS           int
	Retry         RetryOptions
	Mirror        MirrorOptions
	Filter        *service.RecordFilter
	ReportOrphans bool
}

type syncUsecaseImpl struct {
	deps  SyncDependencies
	opts  SyncOptions
	log   logger.Logger
	retry *RetryPolicy
	now   func() time.Time
}

// NewSyncUsecase creates a new instance of SyncUsecase.
func NewSyncUsecase(deps SyncDependencies, opts SyncOptions) SyncUsecase {
	return newSyncUsecase(deps, opts)
}

func newSyncUsecase(deps SyncDependencies, opts SyncOptions) *syncUsecaseImpl {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	opts.Mirror.DryRun = opts.DryRun
	if opts.Mirror.SourceHost == "" {
		if sh, ok := deps.Harvester.(repository.SourceHost); ok {
			opts.Mirror.SourceHost = sh.SourceHost()
		}
	}
	return &syncUsecaseImpl{
		deps:  deps,
		opts:  opts,
		log:   deps.Logger.WithComponent("orchestrator"),
		retry: NewRetryPolicy(opts.Retry, deps.Logger),
		now:   time.Now,
	}
}

// runState is everything owned by a single run.
type runState struct {
	report   *model.RunReport
	stats    *model.RunStats
	items    model.ItemLog
	resolver *EntityResolver
	mirror   *ResourceMirror
	recon    *Reconciler
	produced sync.Map
	owners   sync.Map
}

// Run executes INIT, ENSURE_MAIN_GROUP, FETCH_SOURCE, the per-item pipeline
// and SUMMARIZE. Item failures are counted, never returned; only failures up
// to and including FETCH_SOURCE abort the run.
func (uc *syncUsecaseImpl) Run(ctx context.Context) (*model.RunReport, error) {
	harvesterName := uc.deps.Harvester.Name()
	start := uc.now()
	run := &runState{
		report: &model.RunReport{
			RunID:     uuid.NewString(),
			Harvester: harvesterName,
			DryRun:    uc.opts.DryRun,
			Status:    model.RunStatusRunning,
			StartedAt: start,
		},
		stats:    model.NewRunStats(start),
		resolver: NewEntityResolver(uc.deps.Catalog, uc.retry, uc.deps.Logger, uc.opts.DryRun, uc.opts.MainGroup, uc.opts.MainUser),
		recon:    NewReconciler(uc.deps.Catalog, uc.retry, uc.deps.Logger),
	}
	if uc.deps.Blob != nil {
		run.mirror = NewResourceMirror(uc.deps.Blob, uc.deps.HTTPClient, uc.retry, uc.deps.Logger, uc.opts.Mirror)
	}

	ctx = context.WithValue(ctx, contextkeys.RunIDKey, run.report.RunID)
	ctx = context.WithValue(ctx, contextkeys.HarvesterKey, harvesterName)
	log := uc.log.WithContext(ctx)
	log.Infof("starting harvest run (dry_run=%t)", uc.opts.DryRun)
	uc.publish(ctx, eventbus.EventTypeRunStarted, run.report, false)

	if !uc.opts.DryRun {
		log.Info("Ensuring main group exists...")
		if err := run.resolver.EnsureMainGroup(stageContext(ctx, model.StageEnsureMainGroup)); err != nil {
			return uc.abort(ctx, run, model.StageEnsureMainGroup, err)
		}
	}

	records, err := Retry(ctx, uc.retry, "fetch source "+harvesterName, func(ctx context.Context) ([]model.SourceRecord, error) {
		return uc.deps.Harvester.FetchAll(stageContext(ctx, model.StageFetchSource))
	})
	if err != nil {
		return uc.abort(ctx, run, model.StageFetchSource, err)
	}
	log.Infof("fetched %d source records", len(records))

	jobs := make([]Job, 0, len(records))
	for _, record := range records {
		record := record
		jobs = append(jobs, func(ctx context.Context) {
			uc.processItem(ctx, run, record)
		})
	}
	NewScheduler(uc.opts.Concurrency, uc.opts.RPS).Run(ctx, jobs)

	if uc.opts.ReportOrphans && !uc.opts.DryRun {
		run.report.Orphans = uc.findOrphans(ctx, run)
	}

	return uc.summarize(ctx, run), nil
}

func (uc *syncUsecaseImpl) abort(ctx context.Context, run *runState, stage model.Stage, err error) (*model.RunReport, error) {
	uc.log.WithContext(ctx).Errorf("run aborted at %s: %v", stage, err)
	run.report.Status = model.RunStatusFailed
	run.report.Error = err.Error()
	run.report.FinishedAt = uc.now()
	run.report.Stats = run.stats.Snapshot(run.report.FinishedAt)
	uc.publish(ctx, eventbus.EventTypeRunCompleted, run.report, true)
	return run.report, fmt.Errorf("%s: %w", stage, err)
}

func (uc *syncUsecaseImpl) summarize(ctx context.Context, run *runState) *model.RunReport {
	if uc.deps.Bus != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := uc.deps.Bus.Drain(drainCtx); err != nil {
			uc.log.WithContext(ctx).Warnf("item events not fully delivered: %v", err)
		}
		cancel()
	}

	finished := uc.now()
	snap := run.stats.Snapshot(finished)
	run.report.Status = model.RunStatusCompleted
	run.report.FinishedAt = finished
	run.report.Stats = snap
	run.report.Items = run.items.Items()

	metrics.LastRunTimestamp.Set(float64(finished.Unix()))
	uc.log.WithContext(ctx).Infof("Done. %s", snap.Summary())
	uc.publish(ctx, eventbus.EventTypeRunCompleted, run.report, true)
	return run.report
}

// processItem runs FILTER, RESOLVE_ENTITIES, MAP, MIRROR_RESOURCES and
// RECONCILE for one record. Every failure ends here.
func (uc *syncUsecaseImpl) processItem(ctx context.Context, run *runState, record model.SourceRecord) {
	started := uc.now()
	run.stats.IncTotal()
	ctx = context.WithValue(ctx, contextkeys.RecordIDKey, record.Label())

	result := model.ItemResult{RecordID: record.Label()}
	stage := model.StageFilter

	defer func() {
		if p := recover(); p != nil {
			result.Status = model.ItemStatusFailed
			result.Stage = stage
			result.Error = fmt.Sprintf("panic: %v", p)
			run.stats.IncFailures()
		}
		result.Duration = uc.now().Sub(started)
		uc.recordItem(ctx, run, result)
	}()

	fail := func(err error) {
		run.stats.IncFailures()
		result.Status = model.ItemStatusFailed
		result.Stage = stage
		result.Error = err.Error()
		result.ErrorType = string(sharedErrors.TypeOf(err))
		uc.log.WithContext(stageContext(ctx, stage)).Errorf("✖ Failed %s: %v", record.Label(), err)
	}
	cancelled := func() bool {
		if err := ctx.Err(); err != nil {
			fail(err)
			return true
		}
		return false
	}

	// FILTER
	if cancelled() {
		return
	}
	ok, err := uc.opts.Filter.Accept(record)
	if err != nil {
		fail(sharedErrors.NewValidationError("source filter failed").WithCause(err))
		return
	}
	if !ok {
		run.stats.IncFiltered()
		result.Status = model.ItemStatusFiltered
		uc.log.WithContext(ctx).Debugf("record excluded by filter %q", uc.opts.Filter.Expression())
		return
	}

	// RESOLVE_ENTITIES
	stage = model.StageResolveEntities
	if cancelled() {
		return
	}
	if extractor, ok := uc.deps.Harvester.(repository.EntityExtractor); ok {
		meta, err := extractor.ExtractEntities(record)
		if err != nil {
			fail(err)
			return
		}
		if err := run.resolver.EnsureAll(stageContext(ctx, stage), meta); err != nil {
			fail(err)
			return
		}
	}

	// MAP
	stage = model.StageMap
	if cancelled() {
		return
	}
	dataset, err := uc.deps.Harvester.Map(stageContext(ctx, stage), record)
	if err != nil {
		fail(err)
		return
	}
	result.DatasetName = dataset.Name
	if dataset.Name != "" {
		run.produced.Store(dataset.Name, struct{}{})
		if dataset.OwnerOrg != "" {
			run.owners.Store(dataset.OwnerOrg, struct{}{})
		}
		ctx = context.WithValue(ctx, contextkeys.DatasetNameKey, dataset.Name)
	}

	// MIRROR_RESOURCES
	stage = model.StageMirrorResources
	if cancelled() {
		return
	}
	if run.mirror != nil && dataset.Name != "" && len(dataset.Resources) > 0 {
		result.Degradations = uc.mirrorResources(stageContext(ctx, stage), run, dataset)
	}

	// RECONCILE
	stage = model.StageReconcile
	if cancelled() {
		return
	}
	if _, err := run.recon.Upsert(stageContext(ctx, stage), dataset, uc.opts.DryRun); err != nil {
		fail(err)
		return
	}
	run.stats.IncUpserts()
	result.Status = model.ItemStatusUpserted
	uc.log.WithContext(ctx).Infof("✓ Upserted %s", dataset.Name)
}

// mirrorResources rewrites dataset resources in place and returns the names of
// resources that kept their source URL because mirroring failed.
func (uc *syncUsecaseImpl) mirrorResources(ctx context.Context, run *runState, dataset *model.CanonicalDataset) []string {
	log := uc.log.WithContext(ctx)

	var existing *model.CanonicalDataset
	if !uc.opts.DryRun {
		current, err := Retry(ctx, uc.retry, "get dataset "+dataset.Name, func(ctx context.Context) (*model.CanonicalDataset, error) {
			return uc.deps.Catalog.GetDataset(ctx, dataset.Name)
		})
		switch {
		case err == nil:
			existing = current
		case sharedErrors.IsNotFound(err):
		default:
			log.Warnf("could not load existing dataset, stale copies will not be cleaned: %v", err)
		}
	}

	var (
		degraded []string
		stale    []string
	)
	previous := matchPrevious(existing, dataset.Resources)
	for i, resource := range dataset.Resources {
		out, outcome, oldKey, err := run.mirror.process(ctx, resource, previous[i])
		if err != nil {
			run.stats.IncMirrorDegraded()
			degraded = append(degraded, resource.Name)
			log.Warnf("resource %q kept its source url: %v", resource.Name, err)
		}
		if outcome != MirrorOutcomeKept {
			run.stats.IncMirrored()
		}
		if oldKey != "" {
			stale = append(stale, oldKey)
		}
		dataset.Resources[i] = out
	}
	run.mirror.deleteStale(ctx, stale, dataset.Resources)
	return degraded
}

// findOrphans lists target datasets of the main organization, and of every
// organization this run provisioned or published into, that the run did not produce.
func (uc *syncUsecaseImpl) findOrphans(ctx context.Context, run *runState) []string {
	orgs := map[string]struct{}{uc.opts.MainOrg: {}}
	for _, org := range run.resolver.Organizations() {
		orgs[org] = struct{}{}
	}
	run.owners.Range(func(key, _ interface{}) bool {
		orgs[key.(string)] = struct{}{}
		return true
	})

	var orphans []string
	for org := range orgs {
		org := org
		names, err := Retry(ctx, uc.retry, "list datasets "+org, func(ctx context.Context) ([]string, error) {
			return uc.deps.Catalog.ListDatasetsByOrganization(ctx, org)
		})
		if err != nil {
			uc.log.WithContext(ctx).Warnf("orphan report skipped for %s: %v", org, err)
			continue
		}
		for _, name := range names {
			if _, ok := run.produced.Load(name); !ok {
				orphans = append(orphans, name)
			}
		}
	}
	sort.Strings(orphans)
	if len(orphans) > 0 {
		uc.log.WithContext(ctx).Warnf("%d target datasets were not produced by this run: %v", len(orphans), orphans)
	}
	return orphans
}

func (uc *syncUsecaseImpl) recordItem(ctx context.Context, run *runState, result model.ItemResult) {
	run.items.Add(result)
	harvester := run.report.Harvester
	metrics.ItemsTotal.WithLabelValues(harvester, string(result.Status)).Inc()
	metrics.ItemDuration.WithLabelValues(harvester).Observe(result.Duration.Seconds())
	if uc.deps.Bus != nil {
		uc.deps.Bus.PublishAndForget(context.WithoutCancel(ctx), eventbus.NewBasicEventWithSource(
			eventbus.EventTypeItemProcessed, ItemEvent{RunID: run.report.RunID, Item: result}, "orchestrator"))
	}
}

func (uc *syncUsecaseImpl) publish(ctx context.Context, eventType string, report *model.RunReport, wait bool) {
	if uc.deps.Bus == nil {
		return
	}
	snapshot := *report
	event := eventbus.NewBasicEventWithSource(eventType, &snapshot, "orchestrator")
	if !wait {
		uc.deps.Bus.PublishAndForget(context.WithoutCancel(ctx), event)
		return
	}
	if err := uc.deps.Bus.Publish(context.WithoutCancel(ctx), event); err != nil {
		uc.log.WithContext(ctx).Errorf("failed to deliver run report: %v", err)
	}
}

// ItemEvent is the payload of harvest.item.processed events.
type ItemEvent struct {
	RunID string           `json:"run_id"`
	Item  model.ItemResult `json:"item"`
}

func stageContext(ctx context.Context, stage model.Stage) context.Context {
	return context.WithValue(ctx, contextkeys.StageKey, string(stage))
}
