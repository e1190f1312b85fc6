package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/service"
	sharedErrors "catalog-harvester/internal/shared/errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"
)

// fakeCatalog is an in-memory target catalog with CKAN conflict semantics.
type fakeCatalog struct {
	mu       sync.Mutex
	datasets map[string]*model.CanonicalDataset
	orgs     map[string]*model.Organization
	groups   map[string]*model.Group
	calls    map[string]int

	// failures makes the next n calls of a method fail with an infrastructure error.
	failures map[string]int
	// failFor makes every call touching the named dataset fail.
	failFor map[string]error

	delay       time.Duration
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		datasets: make(map[string]*model.CanonicalDataset),
		orgs:     make(map[string]*model.Organization),
		groups:   make(map[string]*model.Group),
		calls:    make(map[string]int),
		failures: make(map[string]int),
		failFor:  make(map[string]error),
	}
}

func (c *fakeCatalog) enter(method, name string) error {
	n := c.inflight.Add(1)
	for {
		m := c.maxInflight.Load()
		if n <= m || c.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	c.calls[method]++
	if err, ok := c.failFor[name]; ok {
		return err
	}
	if c.failures[method] > 0 {
		c.failures[method]--
		return sharedErrors.NewInfrastructureError(method + " unavailable")
	}
	return nil
}

func (c *fakeCatalog) leave() {
	c.mu.Unlock()
	c.inflight.Add(-1)
}

func (c *fakeCatalog) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *fakeCatalog) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *fakeCatalog) Dataset(name string) *model.CanonicalDataset {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ds, ok := c.datasets[name]; ok {
		return ds.Clone()
	}
	return nil
}

func (c *fakeCatalog) Seed(ds *model.CanonicalDataset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datasets[ds.Name] = ds.Clone()
}

func (c *fakeCatalog) GetDataset(_ context.Context, name string) (*model.CanonicalDataset, error) {
	defer c.leave()
	if err := c.enter("GetDataset", name); err != nil {
		return nil, err
	}
	ds, ok := c.datasets[name]
	if !ok {
		return nil, sharedErrors.NewNotFoundError("dataset " + name)
	}
	return ds.Clone(), nil
}

func (c *fakeCatalog) CreateDataset(_ context.Context, ds *model.CanonicalDataset) (*model.CanonicalDataset, error) {
	defer c.leave()
	if err := c.enter("CreateDataset", ds.Name); err != nil {
		return nil, err
	}
	if _, ok := c.datasets[ds.Name]; ok {
		return nil, sharedErrors.NewConflictError("That URL is already in use.")
	}
	stored := ds.Clone()
	stored.ID = "id-" + ds.Name
	c.datasets[ds.Name] = stored
	return stored.Clone(), nil
}

func (c *fakeCatalog) UpdateDataset(_ context.Context, ds *model.CanonicalDataset) (*model.CanonicalDataset, error) {
	defer c.leave()
	if err := c.enter("UpdateDataset", ds.Name); err != nil {
		return nil, err
	}
	current, ok := c.datasets[ds.Name]
	if !ok {
		return nil, sharedErrors.NewNotFoundError("dataset " + ds.Name)
	}
	stored := ds.Clone()
	stored.ID = current.ID
	c.datasets[ds.Name] = stored
	return stored.Clone(), nil
}

func (c *fakeCatalog) PatchDataset(_ context.Context, id string, fields map[string]interface{}) (*model.CanonicalDataset, error) {
	defer c.leave()
	if err := c.enter("PatchDataset", id); err != nil {
		return nil, err
	}
	for _, ds := range c.datasets {
		if ds.ID != id && ds.Name != id {
			continue
		}
		if source, ok := fields["source"].([]string); ok {
			ds.Source = append([]string(nil), source...)
		}
		return ds.Clone(), nil
	}
	return nil, sharedErrors.NewNotFoundError("dataset " + id)
}

func (c *fakeCatalog) ListDatasetsByOrganization(_ context.Context, org string) ([]string, error) {
	defer c.leave()
	if err := c.enter("ListDatasetsByOrganization", org); err != nil {
		return nil, err
	}
	var names []string
	for name, ds := range c.datasets {
		if ds.OwnerOrg == org {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *fakeCatalog) GetOrganization(_ context.Context, name string) (*model.Organization, error) {
	defer c.leave()
	if err := c.enter("GetOrganization", name); err != nil {
		return nil, err
	}
	org, ok := c.orgs[name]
	if !ok {
		return nil, sharedErrors.NewNotFoundError("organization " + name)
	}
	return org, nil
}

func (c *fakeCatalog) CreateOrganization(_ context.Context, org *model.Organization) error {
	defer c.leave()
	if err := c.enter("CreateOrganization", org.Name); err != nil {
		return err
	}
	if _, ok := c.orgs[org.Name]; ok {
		return sharedErrors.NewConflictError("Group name already exists in database")
	}
	cp := *org
	c.orgs[org.Name] = &cp
	return nil
}

func (c *fakeCatalog) GetGroup(_ context.Context, name string) (*model.Group, error) {
	defer c.leave()
	if err := c.enter("GetGroup", name); err != nil {
		return nil, err
	}
	group, ok := c.groups[name]
	if !ok {
		return nil, sharedErrors.NewNotFoundError("group " + name)
	}
	return group, nil
}

func (c *fakeCatalog) CreateGroup(_ context.Context, group *model.Group) error {
	defer c.leave()
	if err := c.enter("CreateGroup", group.Name); err != nil {
		return err
	}
	if _, ok := c.groups[group.Name]; ok {
		return sharedErrors.NewConflictError("Group name already exists in database")
	}
	cp := *group
	c.groups[group.Name] = &cp
	return nil
}

// mockCatalog is a testify mock for call-level expectations.
type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetDataset(ctx context.Context, name string) (*model.CanonicalDataset, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanonicalDataset), args.Error(1)
}

func (m *mockCatalog) CreateDataset(ctx context.Context, ds *model.CanonicalDataset) (*model.CanonicalDataset, error) {
	args := m.Called(ctx, ds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanonicalDataset), args.Error(1)
}

func (m *mockCatalog) UpdateDataset(ctx context.Context, ds *model.CanonicalDataset) (*model.CanonicalDataset, error) {
	args := m.Called(ctx, ds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanonicalDataset), args.Error(1)
}

func (m *mockCatalog) PatchDataset(ctx context.Context, id string, fields map[string]interface{}) (*model.CanonicalDataset, error) {
	args := m.Called(ctx, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanonicalDataset), args.Error(1)
}

func (m *mockCatalog) ListDatasetsByOrganization(ctx context.Context, org string) ([]string, error) {
	args := m.Called(ctx, org)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockCatalog) GetOrganization(ctx context.Context, name string) (*model.Organization, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Organization), args.Error(1)
}

func (m *mockCatalog) CreateOrganization(ctx context.Context, org *model.Organization) error {
	return m.Called(ctx, org).Error(0)
}

func (m *mockCatalog) GetGroup(ctx context.Context, name string) (*model.Group, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Group), args.Error(1)
}

func (m *mockCatalog) CreateGroup(ctx context.Context, group *model.Group) error {
	return m.Called(ctx, group).Error(0)
}

// fakeBlobStore keeps objects in memory under https://blob.test/.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	puts    []string
	deletes []string
	putErr  error
}

const fakeBlobBase = "https://blob.test/"

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (s *fakeBlobStore) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, key)
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

func (s *fakeBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	delete(s.objects, key)
	return nil
}

func (s *fakeBlobStore) PublicURL(key string) string { return fakeBlobBase + key }

func (s *fakeBlobStore) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, fakeBlobBase)
	return key, ok && key != ""
}

func (s *fakeBlobStore) Provider() string { return "fake" }

func (s *fakeBlobStore) Puts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.puts...)
}

func (s *fakeBlobStore) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

// fakePayload is the raw shape of records produced by fakeHarvester.
type fakePayload struct {
	Tags      []string                  `json:"tags,omitempty"`
	Resources []model.CanonicalResource `json:"resources,omitempty"`
	Group     string                    `json:"group,omitempty"`
}

// fakeHarvester serves fixed records and maps them under mainOrg.
type fakeHarvester struct {
	name     string
	mainOrg  string
	host     string
	records  []model.SourceRecord
	fetchErr error
	mapErr   map[string]error
	entities bool

	fetchCalls atomic.Int32
}

func newFakeHarvester(mainOrg string, records ...model.SourceRecord) *fakeHarvester {
	return &fakeHarvester{name: "fake", mainOrg: mainOrg, records: records, mapErr: map[string]error{}}
}

func (h *fakeHarvester) Name() string { return h.name }

func (h *fakeHarvester) SourceHost() string { return h.host }

func (h *fakeHarvester) FetchAll(context.Context) ([]model.SourceRecord, error) {
	h.fetchCalls.Add(1)
	if h.fetchErr != nil {
		return nil, h.fetchErr
	}
	return h.records, nil
}

func (h *fakeHarvester) Map(_ context.Context, record model.SourceRecord) (*model.CanonicalDataset, error) {
	if err := h.mapErr[record.ID]; err != nil {
		return nil, err
	}
	var payload fakePayload
	if len(record.Raw) > 0 {
		if err := record.Decode(&payload); err != nil {
			return nil, err
		}
	}
	ds := &model.CanonicalDataset{
		Name:      service.DatasetName(h.mainOrg, record.ID),
		Title:     record.Title,
		Notes:     model.DefaultNotes,
		OwnerOrg:  h.mainOrg,
		Language:  model.DefaultLanguage,
		Tags:      model.TagsFromStrings(payload.Tags),
		Resources: payload.Resources,
	}
	if record.SourceURL != "" {
		ds.Source = []string{record.SourceURL}
	}
	if payload.Group != "" {
		ds.Groups = []model.GroupRef{{Name: service.EntityName(h.mainOrg, payload.Group)}}
	}
	return ds, nil
}

// entityHarvester also declares one organization and the record's group.
type entityHarvester struct {
	*fakeHarvester
}

func (h entityHarvester) ExtractEntities(record model.SourceRecord) (model.EntityMetadata, error) {
	var payload fakePayload
	if err := record.Decode(&payload); err != nil {
		return model.EntityMetadata{}, err
	}
	meta := model.EntityMetadata{
		Organizations: []model.Organization{{Name: service.EntityName(h.mainOrg, "publisher")}},
	}
	if payload.Group != "" {
		meta.Groups = []model.Group{{Name: service.EntityName(h.mainOrg, payload.Group)}}
	}
	return meta, nil
}

func newRecord(id string, payload fakePayload) model.SourceRecord {
	r, err := model.NewSourceRecord(id, "Title "+id, "https://source.test/dataset/"+id, payload)
	if err != nil {
		panic(err)
	}
	return r
}

func makeRecords(n int) []model.SourceRecord {
	out := make([]model.SourceRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, newRecord(fmt.Sprintf("ds-%d", i), fakePayload{}))
	}
	return out
}

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	delays *delayLog
	c      chan time.Time
}

type delayLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *delayLog) Add(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delays = append(l.delays, d)
}

func (l *delayLog) All() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.delays...)
}

func (t *recordingTimer) Start(d time.Duration) {
	t.delays.Add(d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func instantRetry(opts RetryOptions, log *delayLog) *RetryPolicy {
	return NewRetryPolicy(opts, nil).WithTimer(func() backoff.Timer {
		return &recordingTimer{delays: log}
	})
}

var errBoom = errors.New("boom")
