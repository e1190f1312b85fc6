package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"catalog-harvester/internal/harvest/adapter/blob"
	"catalog-harvester/internal/harvest/adapter/ckan"
	httpadapter "catalog-harvester/internal/harvest/adapter/http"
	"catalog-harvester/internal/harvest/adapter/persistence"
	"catalog-harvester/internal/harvest/adapter/source"
	"catalog-harvester/internal/harvest/config"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/harvest/domain/service"
	"catalog-harvester/internal/harvest/usecase"
	"catalog-harvester/internal/shared/eventbus"
	"catalog-harvester/internal/shared/logger"

	"github.com/redis/go-redis/v9"
)

// HarvestModule holds every component of one configured harvest.
type HarvestModule struct {
	Config    *config.HarvestConfig
	Logger    logger.Logger
	EventBus  *eventbus.EventBus
	Registry  *source.Registry
	Harvester repository.Harvester
	Catalog   repository.CatalogRepository
	Blob      repository.BlobStore // nil when BLOB_PROVIDER=none
	Filter    *service.RecordFilter
	Sinks     []repository.ReportSink

	Tracker      *httpadapter.StatusTracker
	Stream       *httpadapter.EventStream
	StatusServer *httpadapter.StatusServer // nil when STATUS_ADDR is empty
	serving      bool

	SyncUsecase  usecase.SyncUsecase
	PatchUsecase usecase.PatchUsecase

	// Report sink connections owned by the module
	RedisClient *redis.Client
	mongoSink   *persistence.MongoReportSink
}

// Components overrides collaborators that would otherwise be built from
// configuration. Extra sinks are added to the configured ones.
type Components struct {
	Registry   *source.Registry
	Harvester  repository.Harvester
	Catalog    repository.CatalogRepository
	Blob       repository.BlobStore
	Sinks      []repository.ReportSink
	HTTPClient *http.Client
}

// NewHarvestModule creates and initializes a harvest module from cfg.
func NewHarvestModule(ctx context.Context, cfg *config.HarvestConfig, log logger.Logger) (*HarvestModule, error) {
	return NewHarvestModuleWithComponents(ctx, cfg, log, Components{})
}

// NewHarvestModuleWithComponents creates a harvest module, preferring the
// collaborators set in comps over configured ones.
func NewHarvestModuleWithComponents(ctx context.Context, cfg *config.HarvestConfig, log logger.Logger, comps Components) (*HarvestModule, error) {
	if cfg == nil {
		cfg = config.DefaultHarvestConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	log.Infof("Initializing Harvest Module (harvester=%s, dry_run=%t)...", cfg.HarvesterName, cfg.DryRun)

	m := &HarvestModule{
		Config:   cfg,
		Logger:   log,
		EventBus: eventbus.NewEventBus(log),
		Registry: comps.Registry,
	}
	if m.Registry == nil {
		m.Registry = source.DefaultRegistry()
	}

	apiClient := comps.HTTPClient
	if apiClient == nil {
		apiClient = &http.Client{Timeout: cfg.Target.HTTPTimeout}
	}

	m.Catalog = comps.Catalog
	if m.Catalog == nil {
		m.Catalog = ckan.NewClient(cfg.Target.APIURL, cfg.Target.APIKey, apiClient, log)
		log.Info("Target catalog client initialized successfully.")
	}

	m.Harvester = comps.Harvester
	if m.Harvester == nil {
		harvester, err := m.Registry.New(cfg.HarvesterName, source.Options{
			SourceURL:  cfg.Source.APIURL,
			APIKey:     cfg.Source.APIKey,
			MainOrg:    cfg.Target.MainOrg,
			MainGroup:  cfg.Target.MainGroup,
			HTTPClient: apiClient,
			Logger:     log,
		})
		if err != nil {
			return nil, err
		}
		m.Harvester = harvester
	}
	log.Infof("Harvester %s initialized successfully.", m.Harvester.Name())

	m.Blob = comps.Blob
	if m.Blob == nil && cfg.Blob.Enabled() {
		store, err := blob.NewBlobStore(ctx, cfg.Blob)
		if err != nil {
			return nil, err
		}
		m.Blob = store
		log.Infof("Blob store (%s) initialized successfully.", cfg.Blob.Provider)
	}
	if m.Blob == nil {
		log.Warn("No blob store configured, resources keep their source URLs.")
	}

	filter, err := service.NewRecordFilter(cfg.SourceFilter)
	if err != nil {
		return nil, fmt.Errorf("SOURCE_FILTER: %w", err)
	}
	m.Filter = filter

	if err := m.initSinks(ctx); err != nil {
		m.closeSinks(ctx)
		return nil, err
	}
	m.Sinks = append(m.Sinks, comps.Sinks...)
	m.subscribeSinks()

	m.Tracker = httpadapter.NewStatusTracker()
	m.Tracker.Subscribe(m.EventBus)
	if cfg.StatusAddr != "" {
		m.Stream = httpadapter.NewEventStream(log)
		m.Stream.Subscribe(m.EventBus)
		m.StatusServer = httpadapter.NewStatusServer(m.Tracker, m.Stream, log)
		log.Info("StatusServer initialized successfully.")
	}

	retry := usecase.RetryOptions{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay(),
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	mirrorClient := comps.HTTPClient
	if mirrorClient == nil {
		// Downloads are bounded per request by the mirror timeouts.
		mirrorClient = &http.Client{}
	}
	m.SyncUsecase = usecase.NewSyncUsecase(usecase.SyncDependencies{
		Harvester: m.Harvester,
		Catalog:   m.Catalog,
		Blob:      m.Blob,
		Bus:       m.EventBus,
		HTTPClient: mirrorClient,
		Logger:     log,
	}, usecase.SyncOptions{
		MainOrg:     cfg.Target.MainOrg,
		MainGroup:   cfg.Target.MainGroup,
		MainUser:    cfg.Target.MainUser,
		DryRun:      cfg.DryRun,
		Concurrency: cfg.Scheduler.Concurrency,
		RPS:         cfg.Scheduler.RateLimitRPS,
		Retry:       retry,
		Mirror: usecase.MirrorOptions{
			ProbeTimeout:    cfg.Mirror.ProbeTimeout,
			DownloadTimeout: cfg.Mirror.DownloadTimeout,
		},
		Filter:        filter,
		ReportOrphans: cfg.Report.Orphans,
	})
	m.PatchUsecase = usecase.NewPatchUsecase(m.Harvester, m.Catalog, log, usecase.PatchOptions{
		DryRun:      cfg.DryRun,
		Concurrency: cfg.Scheduler.Concurrency,
		RPS:         cfg.Scheduler.RateLimitRPS,
		Retry:       retry,
	})
	log.Info("Harvest usecases initialized successfully.")

	return m, nil
}

func (m *HarvestModule) initSinks(ctx context.Context) error {
	report := m.Config.Report
	if report.File != "" {
		m.Sinks = append(m.Sinks, persistence.NewFileReportSink(report.File))
		m.Logger.Infof("File report sink initialized successfully (%s).", report.File)
	}
	if report.RedisAddr != "" {
		m.RedisClient = config.NewRedisClient(report)
		m.Sinks = append(m.Sinks, persistence.NewRedisReportSink(m.RedisClient, report.RedisStream, report.RedisStreamMaxLen, m.Logger))
		m.Logger.Infof("Redis report sink initialized successfully (stream %s).", report.RedisStream)
	}
	if report.MongoURI != "" {
		sink, err := persistence.NewMongoReportSink(ctx, report.MongoURI, report.MongoDatabase, report.MongoCollection, m.Logger)
		if err != nil {
			return err
		}
		m.mongoSink = sink
		m.Sinks = append(m.Sinks, sink)
		m.Logger.Infof("MongoDB report sink initialized successfully (%s.%s).", report.MongoDatabase, report.MongoCollection)
	}
	return nil
}

// subscribeSinks registers one handler per sink so a failing sink is retried
// on its own and never blocks the others.
func (m *HarvestModule) subscribeSinks() {
	for _, sink := range m.Sinks {
		sink := sink
		m.EventBus.Subscribe(eventbus.EventTypeRunCompleted, func(ctx context.Context, event eventbus.Event) error {
			report, ok := event.Data().(*model.RunReport)
			if !ok {
				return nil
			}
			if err := sink.WriteReport(ctx, report); err != nil {
				return fmt.Errorf("report sink %s: %w", sink.Name(), err)
			}
			return nil
		})

		itemSink, ok := sink.(repository.ItemSink)
		if !ok {
			continue
		}
		m.EventBus.Subscribe(eventbus.EventTypeItemProcessed, func(ctx context.Context, event eventbus.Event) error {
			ev, ok := event.Data().(usecase.ItemEvent)
			if !ok {
				return nil
			}
			if err := itemSink.WriteItem(ctx, ev.RunID, ev.Item); err != nil {
				return fmt.Errorf("item sink %s: %w", sink.Name(), err)
			}
			return nil
		})
	}
}

// Start brings up the status server when one is configured.
func (m *HarvestModule) Start() error {
	if m.StatusServer == nil {
		return nil
	}
	if err := m.StatusServer.Start(m.Config.StatusAddr); err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	m.serving = true
	return nil
}

// Run executes one harvest run.
func (m *HarvestModule) Run(ctx context.Context) (*model.RunReport, error) {
	return m.SyncUsecase.Run(ctx)
}

// PatchSources backfills source links on already harvested datasets.
func (m *HarvestModule) PatchSources(ctx context.Context) (usecase.PatchResult, error) {
	return m.PatchUsecase.PatchSources(ctx)
}

// Close stops the status server and releases sink connections.
func (m *HarvestModule) Close(ctx context.Context) error {
	var errs []error
	if m.serving {
		if err := m.StatusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status server: %w", err))
		}
		m.serving = false
	}
	errs = append(errs, m.closeSinks(ctx)...)
	return errors.Join(errs...)
}

func (m *HarvestModule) closeSinks(ctx context.Context) []error {
	var errs []error
	if m.mongoSink != nil {
		if err := m.mongoSink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb: %w", err))
		}
		m.mongoSink = nil
	}
	if m.RedisClient != nil {
		if err := m.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
		m.RedisClient = nil
	}
	return errs
}
