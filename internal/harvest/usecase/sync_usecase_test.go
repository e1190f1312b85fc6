package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/harvest/domain/service"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testMainOrg = "main"

type SyncUsecaseTestSuite struct {
	suite.Suite
	catalog *fakeCatalog
	blob    *fakeBlobStore
	files   *httptest.Server
	ctx     context.Context
}

func (s *SyncUsecaseTestSuite) SetupTest() {
	s.catalog = newFakeCatalog()
	s.blob = newFakeBlobStore()
	s.ctx = context.Background()
	s.files = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("id\n1\n"))
	}))
}

func (s *SyncUsecaseTestSuite) TearDownTest() {
	s.files.Close()
}

func (s *SyncUsecaseTestSuite) options() SyncOptions {
	return SyncOptions{
		MainOrg:     testMainOrg,
		MainGroup:   "main-group",
		MainUser:    "admin",
		Concurrency: 4,
		RPS:         1000,
		Retry:       RetryOptions{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}
}

func (s *SyncUsecaseTestSuite) run(h repository.Harvester, blob repository.BlobStore, bus eventbus.EventBusInterface, opts SyncOptions) (*model.RunReport, error) {
	uc := newSyncUsecase(SyncDependencies{
		Harvester:  h,
		Catalog:    s.catalog,
		Blob:       blob,
		Bus:        bus,
		HTTPClient: s.files.Client(),
	}, opts)
	uc.retry = instantRetry(opts.Retry, &delayLog{})
	return uc.Run(s.ctx)
}

func (s *SyncUsecaseTestSuite) TestAllRecordsUpserted() {
	h := newFakeHarvester(testMainOrg, makeRecords(10)...)

	report, err := s.run(h, nil, nil, s.options())

	s.Require().NoError(err)
	s.Equal(model.RunStatusCompleted, report.Status)
	s.Equal(int64(10), report.Stats.Total)
	s.Equal(int64(10), report.Stats.Upserts)
	s.Equal(int64(0), report.Stats.Failures)
	s.Len(report.Items, 10)
	s.NotEmpty(report.RunID)
	s.True(strings.HasPrefix(report.Stats.Summary(), "total=10, upserts=10, failures=0 ("))

	s.Equal(1, s.catalog.Calls("CreateGroup"))
	s.NotNil(s.catalog.Dataset("main--ds-3"))
}

func (s *SyncUsecaseTestSuite) TestRerunUpdatesInsteadOfCreating() {
	h := newFakeHarvester(testMainOrg, makeRecords(3)...)

	_, err := s.run(h, nil, nil, s.options())
	s.Require().NoError(err)
	report, err := s.run(h, nil, nil, s.options())
	s.Require().NoError(err)

	s.Equal(int64(3), report.Stats.Upserts)
	s.Equal(6, s.catalog.Calls("CreateDataset"))
	s.Equal(3, s.catalog.Calls("UpdateDataset"))
	s.Equal("id-main--ds-0", s.catalog.Dataset("main--ds-0").ID)
}

func (s *SyncUsecaseTestSuite) TestRecordWithoutIdentityFailsAlone() {
	h := newFakeHarvester(testMainOrg,
		newRecord("a", fakePayload{}),
		newRecord("", fakePayload{}),
		newRecord("c", fakePayload{}),
	)

	report, err := s.run(h, nil, nil, s.options())

	s.Require().NoError(err)
	s.Equal(int64(3), report.Stats.Total)
	s.Equal(int64(2), report.Stats.Upserts)
	s.Equal(int64(1), report.Stats.Failures)

	var failed []model.ItemResult
	for _, item := range report.Items {
		if item.Status == model.ItemStatusFailed {
			failed = append(failed, item)
		}
	}
	s.Require().Len(failed, 1)
	s.Equal(model.StageReconcile, failed[0].Stage)
	s.Equal(string(sharedErrors.ErrorTypeValidation), failed[0].ErrorType)
	s.Equal("Title ", failed[0].RecordID)
}

func (s *SyncUsecaseTestSuite) TestMapFailureAndPanicAreIsolated() {
	h := newFakeHarvester(testMainOrg, makeRecords(4)...)
	h.mapErr["ds-1"] = errBoom
	panicking := &panickingHarvester{fakeHarvester: h, panicOn: "ds-2"}

	report, err := s.run(panicking, nil, nil, s.options())

	s.Require().NoError(err)
	s.Equal(int64(4), report.Stats.Total)
	s.Equal(int64(2), report.Stats.Upserts)
	s.Equal(int64(2), report.Stats.Failures)
	for _, item := range report.Items {
		if item.Status == model.ItemStatusFailed {
			s.Equal(model.StageMap, item.Stage)
		}
	}
}

func (s *SyncUsecaseTestSuite) TestDryRunMakesNoCallsButCountsUpserts() {
	resource := model.CanonicalResource{Name: "data", URL: s.files.URL + "/data.csv"}
	h := newFakeHarvester(testMainOrg,
		newRecord("a", fakePayload{Resources: []model.CanonicalResource{resource}}),
		newRecord("b", fakePayload{Group: "roads"}),
	)
	entities := entityHarvester{fakeHarvester: h}
	opts := s.options()
	opts.DryRun = true

	dry, err := s.run(entities, s.blob, nil, opts)
	s.Require().NoError(err)
	s.Zero(s.catalog.TotalCalls())
	s.Empty(s.blob.Puts())
	s.Empty(s.blob.Deletes())

	live, err := s.run(entities, s.blob, nil, s.options())
	s.Require().NoError(err)
	s.Equal(live.Stats.Upserts, dry.Stats.Upserts)
	s.Equal(int64(2), dry.Stats.Upserts)
}

func (s *SyncUsecaseTestSuite) TestConcurrencyBoundHoldsAtTheCatalog() {
	s.catalog.delay = 3 * time.Millisecond
	h := newFakeHarvester(testMainOrg, makeRecords(12)...)
	opts := s.options()
	opts.Concurrency = 2

	report, err := s.run(h, nil, nil, opts)

	s.Require().NoError(err)
	s.Equal(int64(12), report.Stats.Upserts)
	s.LessOrEqual(s.catalog.maxInflight.Load(), int32(2))
}

func (s *SyncUsecaseTestSuite) TestFetchFailureAbortsRun() {
	h := newFakeHarvester(testMainOrg)
	h.fetchErr = sharedErrors.NewInfrastructureError("source unreachable")

	report, err := s.run(h, nil, nil, s.options())

	s.Require().Error(err)
	s.True(sharedErrors.IsInfrastructure(err))
	s.Contains(err.Error(), string(model.StageFetchSource))
	s.Equal(model.RunStatusFailed, report.Status)
	s.Equal(int32(2), h.fetchCalls.Load())
	s.Zero(s.catalog.Calls("CreateDataset"))
}

func (s *SyncUsecaseTestSuite) TestMainGroupFailureAbortsBeforeFetch() {
	s.catalog.failures["GetGroup"] = 10
	h := newFakeHarvester(testMainOrg, makeRecords(2)...)

	report, err := s.run(h, nil, nil, s.options())

	s.Require().Error(err)
	s.True(sharedErrors.IsEntityProvision(err))
	s.Equal(model.RunStatusFailed, report.Status)
	s.Zero(h.fetchCalls.Load())
}

func (s *SyncUsecaseTestSuite) TestEntityFailureSkipsDatasetUpsert() {
	s.catalog.failFor["main--publisher"] = sharedErrors.NewInfrastructureError("org service down")
	h := entityHarvester{fakeHarvester: newFakeHarvester(testMainOrg, makeRecords(3)...)}

	report, err := s.run(h, nil, nil, s.options())

	s.Require().NoError(err)
	s.Equal(int64(3), report.Stats.Failures)
	s.Zero(s.catalog.Calls("CreateDataset"))
	for _, item := range report.Items {
		s.Equal(model.StageResolveEntities, item.Stage)
		s.Equal(string(sharedErrors.ErrorTypeEntityProvision), item.ErrorType)
	}
}

func (s *SyncUsecaseTestSuite) TestEntitiesEnsuredOncePerRun() {
	h := entityHarvester{fakeHarvester: newFakeHarvester(testMainOrg,
		newRecord("a", fakePayload{Group: "roads"}),
		newRecord("b", fakePayload{Group: "roads"}),
		newRecord("c", fakePayload{Group: "water"}),
	)}

	report, err := s.run(h, nil, nil, s.options())

	s.Require().NoError(err)
	s.Equal(int64(3), report.Stats.Upserts)
	s.Equal(1, s.catalog.Calls("CreateOrganization"))
	s.Equal(3, s.catalog.Calls("CreateGroup")) // main group, roads, water
	s.Equal([]model.GroupRef{{Name: "main--roads"}}, s.catalog.Dataset("main--a").Groups)
}

func (s *SyncUsecaseTestSuite) TestFilterExcludesRecords() {
	filter, err := service.NewRecordFilter(`record.id != "ds-1"`)
	s.Require().NoError(err)
	opts := s.options()
	opts.Filter = filter
	h := newFakeHarvester(testMainOrg, makeRecords(3)...)

	report, err := s.run(h, nil, nil, opts)

	s.Require().NoError(err)
	s.Equal(int64(3), report.Stats.Total)
	s.Equal(int64(2), report.Stats.Upserts)
	s.Equal(int64(1), report.Stats.Filtered)
	s.Nil(s.catalog.Dataset("main--ds-1"))
}

func (s *SyncUsecaseTestSuite) TestMirrorsResourcesAndCleansStaleCopies() {
	sourceURL := s.files.URL + "/files/data.csv"
	h := newFakeHarvester(testMainOrg, newRecord("a", fakePayload{
		Resources: []model.CanonicalResource{{Name: "data", URL: sourceURL}},
	}))
	s.catalog.Seed(&model.CanonicalDataset{
		ID:       "id-main--a",
		Name:     "main--a",
		OwnerOrg: testMainOrg,
		Resources: []model.CanonicalResource{{
			Name:             "data",
			URL:              fakeBlobBase + "resources/old/data-AbC123.csv",
			HarvestSourceURL: s.files.URL + "/files/old.csv",
		}},
	})

	report, err := s.run(h, s.blob, nil, s.options())
	s.Require().NoError(err)
	s.Equal(int64(1), report.Stats.Mirrored)

	stored := s.catalog.Dataset("main--a")
	s.Require().Len(stored.Resources, 1)
	s.True(strings.HasPrefix(stored.Resources[0].URL, fakeBlobBase+"resources/"))
	s.Equal(sourceURL, stored.Resources[0].HarvestSourceURL)
	s.Equal([]string{"resources/old/data-AbC123.csv"}, s.blob.Deletes())
	s.Len(s.blob.Puts(), 1)

	// an unchanged resource is neither uploaded nor deleted again
	_, err = s.run(h, s.blob, nil, s.options())
	s.Require().NoError(err)
	s.Len(s.blob.Puts(), 1)
	s.Len(s.blob.Deletes(), 1)
	s.Equal(stored.Resources[0].URL, s.catalog.Dataset("main--a").Resources[0].URL)
}

func (s *SyncUsecaseTestSuite) TestResourcesSharingANameKeepTheirOwnCopies() {
	a := s.files.URL + "/files/a.csv"
	b := s.files.URL + "/files/b.csv"
	record := func(urls ...string) *fakeHarvester {
		var resources []model.CanonicalResource
		for _, u := range urls {
			resources = append(resources, model.CanonicalResource{URL: u})
		}
		return newFakeHarvester(testMainOrg, newRecord("a", fakePayload{Resources: resources}))
	}

	_, err := s.run(record(a, b), s.blob, nil, s.options())
	s.Require().NoError(err)
	s.Len(s.blob.Puts(), 2)
	first := s.catalog.Dataset("main--a").Resources
	s.Require().Len(first, 2)
	s.NotEqual(first[0].URL, first[1].URL)

	// rerun, also in reverse order: nothing moves
	for _, h := range []*fakeHarvester{record(a, b), record(b, a)} {
		report, err := s.run(h, s.blob, nil, s.options())
		s.Require().NoError(err)
		s.Equal(int64(0), report.Stats.MirrorDegraded)
	}
	s.Len(s.blob.Puts(), 2)
	s.Empty(s.blob.Deletes())

	stored := s.catalog.Dataset("main--a").Resources
	s.Require().Len(stored, 2)
	for _, r := range stored {
		key, ok := s.blob.KeyFromURL(r.URL)
		s.Require().True(ok)
		s.Contains(s.blob.objects, key, "resource %s points at a deleted object", r.HarvestSourceURL)
	}
}

func (s *SyncUsecaseTestSuite) TestChangedResourceOnlyReplacesItsOwnCopy() {
	a := s.files.URL + "/files/a.csv"
	b := s.files.URL + "/files/b.csv"
	s.catalog.Seed(&model.CanonicalDataset{
		ID:       "id-main--a",
		Name:     "main--a",
		OwnerOrg: testMainOrg,
		Resources: []model.CanonicalResource{
			{URL: fakeBlobBase + "resources/1/a-aaaaaa.csv", HarvestSourceURL: a},
			{URL: fakeBlobBase + "resources/2/b-bbbbbb.csv", HarvestSourceURL: s.files.URL + "/files/b-old.csv"},
		},
	})
	h := newFakeHarvester(testMainOrg, newRecord("a", fakePayload{
		Resources: []model.CanonicalResource{{URL: b}, {URL: a}},
	}))

	_, err := s.run(h, s.blob, nil, s.options())
	s.Require().NoError(err)

	s.Len(s.blob.Puts(), 1)
	s.Equal([]string{"resources/2/b-bbbbbb.csv"}, s.blob.Deletes())
	stored := s.catalog.Dataset("main--a").Resources
	s.Equal(fakeBlobBase+"resources/1/a-aaaaaa.csv", stored[1].URL)
}

func (s *SyncUsecaseTestSuite) TestMirrorFailureDegradesGracefully() {
	s.blob.putErr = errors.New("bucket gone")
	sourceURL := s.files.URL + "/files/data.csv"
	h := newFakeHarvester(testMainOrg, newRecord("a", fakePayload{
		Resources: []model.CanonicalResource{{Name: "data", URL: sourceURL}},
	}))

	report, err := s.run(h, s.blob, nil, s.options())

	s.Require().NoError(err)
	s.Equal(int64(1), report.Stats.Upserts)
	s.Equal(int64(1), report.Stats.MirrorDegraded)
	s.Equal([]string{"data"}, report.Items[0].Degradations)
	s.Equal(sourceURL, s.catalog.Dataset("main--a").Resources[0].URL)
}

func (s *SyncUsecaseTestSuite) TestReportsOrphans() {
	s.catalog.Seed(&model.CanonicalDataset{Name: "main--stale", OwnerOrg: testMainOrg})
	s.catalog.Seed(&model.CanonicalDataset{Name: "other--x", OwnerOrg: "other"})
	opts := s.options()
	opts.ReportOrphans = true
	h := newFakeHarvester(testMainOrg, makeRecords(2)...)

	report, err := s.run(h, nil, nil, opts)

	s.Require().NoError(err)
	s.Equal([]string{"main--stale"}, report.Orphans)
}

func (s *SyncUsecaseTestSuite) TestReportsOrphansOfProvisionedOrganizations() {
	s.catalog.Seed(&model.CanonicalDataset{Name: "main--publisher--stale", OwnerOrg: "main--publisher"})
	s.catalog.Seed(&model.CanonicalDataset{Name: "unrelated--x", OwnerOrg: "unrelated"})
	opts := s.options()
	opts.ReportOrphans = true
	h := entityHarvester{fakeHarvester: newFakeHarvester(testMainOrg, newRecord("a", fakePayload{}))}

	report, err := s.run(h, nil, nil, opts)

	s.Require().NoError(err)
	s.Equal([]string{"main--publisher--stale"}, report.Orphans)
	s.Equal(2, s.catalog.Calls("ListDatasetsByOrganization"))
}

func (s *SyncUsecaseTestSuite) TestPublishesRunAndItemEvents() {
	bus := eventbus.NewEventBus(nil)
	var mu sync.Mutex
	var items int
	var completed []*model.RunReport
	bus.Subscribe(eventbus.EventTypeItemProcessed, func(_ context.Context, e eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		items++
		return nil
	})
	bus.Subscribe(eventbus.EventTypeRunCompleted, func(_ context.Context, e eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		completed = append(completed, e.Data().(*model.RunReport))
		return nil
	})

	report, err := s.run(newFakeHarvester(testMainOrg, makeRecords(5)...), nil, bus, s.options())

	s.Require().NoError(err)
	mu.Lock()
	defer mu.Unlock()
	s.Equal(5, items)
	s.Require().Len(completed, 1)
	s.Equal(report.RunID, completed[0].RunID)
	s.Equal(int64(5), completed[0].Stats.Upserts)
}

func TestSyncUsecaseTestSuite(t *testing.T) {
	suite.Run(t, new(SyncUsecaseTestSuite))
}

// panickingHarvester panics while mapping one record.
type panickingHarvester struct {
	*fakeHarvester
	panicOn string
}

func (h *panickingHarvester) Map(ctx context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	if record.ID == h.panicOn {
		panic("unexpected payload")
	}
	return h.fakeHarvester.Map(ctx, record)
}

func TestSyncUsecase_CancelledContextFailsRemainingItems(t *testing.T) {
	catalog := newFakeCatalog()
	h := newFakeHarvester(testMainOrg, makeRecords(3)...)
	uc := newSyncUsecase(SyncDependencies{Harvester: h, Catalog: catalog}, SyncOptions{
		MainOrg: testMainOrg, MainGroup: "g", MainUser: "u", Concurrency: 1, RPS: 1000,
		Retry: RetryOptions{MaxAttempts: 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	uc.deps.Harvester = cancellingHarvester{fakeHarvester: h, cancel: func() { once.Do(cancel) }}

	report, err := uc.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Stats.Total)
	assert.Equal(t, int64(3), report.Stats.Failures)
	assert.Zero(t, catalog.Calls("CreateDataset"))
}

// cancellingHarvester cancels the run while the first record is mapped.
type cancellingHarvester struct {
	*fakeHarvester
	cancel func()
}

func (h cancellingHarvester) Map(ctx context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	h.cancel()
	return h.fakeHarvester.Map(ctx, record)
}
