package usecase

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	"catalog-harvester/internal/harvest/domain/service"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/logger"
	"catalog-harvester/internal/shared/metrics"

	"github.com/gabriel-vasile/mimetype"
)

const (
	defaultContentType = "application/octet-stream"
	sniffLen           = 3072
)

// MirrorOptions configures a ResourceMirror.
type MirrorOptions struct {
	// SourceHost is the host of the harvested platform; its files are always mirrored.
	SourceHost      string
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration
	DryRun          bool
}

// MirrorOutcome describes what Process did to a resource.
type MirrorOutcome int

const (
	MirrorOutcomeKept MirrorOutcome = iota
	MirrorOutcomeUploaded
	MirrorOutcomeReused
)

// ResourceMirror copies source-hosted files into the blob store and removes
// the copies they supersede.
type ResourceMirror struct {
	store  repository.BlobStore
	client *http.Client
	retry  *RetryPolicy
	log    logger.Logger
	opts   MirrorOptions
	newKey func(rawURL string) (service.ObjectKey, error)
}

// NewResourceMirror creates a mirror writing into store.
func NewResourceMirror(store repository.BlobStore, client *http.Client, retry *RetryPolicy, log logger.Logger, opts MirrorOptions) *ResourceMirror {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 60 * time.Second
	}
	return &ResourceMirror{
		store:  store,
		client: client,
		retry:  retry,
		log:    log.WithComponent("resource-mirror"),
		opts:   opts,
		newKey: service.NewObjectKey,
	}
}

// Process mirrors resource when required and returns it with its URL
// rewritten to the durable copy. existing is the resource of the same name
// currently stored in the target, if any. On upload failure the original
// resource is returned together with a RESOURCE_MIRROR_ERROR.
func (m *ResourceMirror) Process(ctx context.Context, resource model.CanonicalResource, existing *model.CanonicalResource) (model.CanonicalResource, error) {
	out, _, stale, err := m.process(ctx, resource, existing)
	m.deleteStale(ctx, []string{stale}, nil)
	return out, err
}

// process mirrors one resource. The key of the object it supersedes is
// returned instead of deleted so callers can check it is no longer referenced.
func (m *ResourceMirror) process(ctx context.Context, resource model.CanonicalResource, existing *model.CanonicalResource) (model.CanonicalResource, MirrorOutcome, string, error) {
	log := m.log.WithContext(ctx).WithFields(map[string]interface{}{"resource": resource.Name, "url": resource.URL})

	if _, owned := m.store.KeyFromURL(resource.URL); owned {
		return resource, MirrorOutcomeKept, "", nil
	}
	if m.unchanged(resource, existing) {
		log.Debugf("resource unchanged since last mirror, reusing %s", existing.URL)
		resource.HarvestSourceURL = resource.URL
		resource.URL = existing.URL
		return resource, MirrorOutcomeReused, "", nil
	}

	switch service.DecideMirror(resource.URL, m.opts.SourceHost) {
	case service.MirrorSkip:
		return resource, MirrorOutcomeKept, "", nil
	case service.MirrorProbe:
		if m.opts.DryRun {
			log.Infof("[dry run]: would probe content type of %s", resource.URL)
			return resource, MirrorOutcomeKept, "", nil
		}
		if !m.probe(ctx, resource.URL) {
			return resource, MirrorOutcomeKept, "", nil
		}
	}

	if m.opts.DryRun {
		key := service.DeterministicObjectKey(resource.URL).String()
		publicURL := m.store.PublicURL(key)
		log.Infof("[dry run]: would upload %s to %s", resource.URL, key)
		if oldKey, ok := m.staleKey(existing, publicURL); ok {
			log.Infof("[dry run]: would delete stale object %s", oldKey)
		}
		resource.HarvestSourceURL = resource.URL
		resource.URL = publicURL
		return resource, MirrorOutcomeUploaded, "", nil
	}

	objectKey, err := m.newKey(resource.URL)
	if err != nil {
		return resource, MirrorOutcomeKept, "", sharedErrors.NewMirrorError(resource.Name, resource.URL).WithCause(err)
	}
	key := objectKey.String()

	if err := m.retry.Do(ctx, "upload "+resource.URL, func(ctx context.Context) error {
		return m.transfer(ctx, resource.URL, key)
	}); err != nil {
		log.Warnf("upload failed, keeping source url: %v", err)
		return resource, MirrorOutcomeKept, "", sharedErrors.NewMirrorError(resource.Name, resource.URL).WithCause(err)
	}

	publicURL := m.store.PublicURL(key)
	log.Infof("upload complete: %s", publicURL)

	oldKey, _ := m.staleKey(existing, publicURL)
	resource.HarvestSourceURL = resource.URL
	resource.URL = publicURL
	return resource, MirrorOutcomeUploaded, oldKey, nil
}

// unchanged reports whether existing is a mirrored copy made from the same
// source URL, so nothing needs to be transferred.
func (m *ResourceMirror) unchanged(resource model.CanonicalResource, existing *model.CanonicalResource) bool {
	if existing == nil || existing.Name != resource.Name || existing.HarvestSourceURL == "" {
		return false
	}
	if existing.HarvestSourceURL != resource.URL {
		return false
	}
	if resource.HarvestedLastModified != "" && resource.HarvestedLastModified != existing.HarvestedLastModified {
		return false
	}
	_, owned := m.store.KeyFromURL(existing.URL)
	return owned
}

// staleKey returns the key of the previously mirrored object when it is owned
// by the store and differs from the new location.
func (m *ResourceMirror) staleKey(existing *model.CanonicalResource, newURL string) (string, bool) {
	if existing == nil || existing.URL == "" || existing.URL == newURL {
		return "", false
	}
	return m.store.KeyFromURL(existing.URL)
}

// deleteStale removes superseded objects, skipping any key still referenced
// by one of the resources about to be stored.
func (m *ResourceMirror) deleteStale(ctx context.Context, keys []string, keep []model.CanonicalResource) {
	referenced := make(map[string]struct{}, len(keep))
	for _, r := range keep {
		if key, ok := m.store.KeyFromURL(r.URL); ok {
			referenced[key] = struct{}{}
		}
	}
	log := m.log.WithContext(ctx)
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := referenced[key]; ok {
			log.Debugf("object %s is still referenced, not deleting", key)
			continue
		}
		referenced[key] = struct{}{}
		if err := m.store.Delete(ctx, key); err != nil {
			log.Warnf("failed to delete stale object %s: %v", key, err)
			continue
		}
		log.Infof("deleted stale object %s", key)
	}
}

// matchPrevious pairs each resource with at most one stored resource of the
// same name. Stored resources mirrored from the same source URL are matched
// first so that reordering or repeated names never steal another's copy.
func matchPrevious(existing *model.CanonicalDataset, resources []model.CanonicalResource) []*model.CanonicalResource {
	matches := make([]*model.CanonicalResource, len(resources))
	if existing == nil || len(existing.Resources) == 0 {
		return matches
	}
	used := make([]bool, len(existing.Resources))
	take := func(i int, accept func(p model.CanonicalResource) bool) {
		for j, p := range existing.Resources {
			if used[j] || p.Name != resources[i].Name || !accept(p) {
				continue
			}
			used[j] = true
			matches[i] = &existing.Resources[j]
			return
		}
	}
	for i := range resources {
		take(i, func(p model.CanonicalResource) bool {
			return p.HarvestSourceURL != "" && p.HarvestSourceURL == resources[i].URL
		})
	}
	for i := range resources {
		if matches[i] == nil {
			take(i, func(model.CanonicalResource) bool { return true })
		}
	}
	return matches
}

// probe issues a HEAD request and reports whether the content type is downloadable.
func (m *ResourceMirror) probe(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.log.WithContext(ctx).Debugf("content type probe failed for %s: %v", rawURL, err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return false
	}
	return service.IsMirrorableContentType(resp.Header.Get("Content-Type"))
}

// transfer streams rawURL into the blob store under key.
func (m *ResourceMirror) transfer(ctx context.Context, rawURL, key string) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return sharedErrors.NewValidationError("invalid resource url").WithCause(err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return sharedErrors.NewInfrastructureError("download failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		appErr := sharedErrors.NewInfrastructureError(fmt.Sprintf("download returned HTTP %d", resp.StatusCode))
		if resp.StatusCode == http.StatusNotFound {
			appErr = sharedErrors.NewNotFoundError("resource " + rawURL)
		}
		return appErr.WithDetail("status", resp.StatusCode)
	}

	body := bufio.NewReaderSize(resp.Body, sniffLen)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = sniffContentType(body)
	}

	counter := &countingReader{r: body}
	if err := m.store.Put(ctx, key, counter, resp.ContentLength, contentType); err != nil {
		return sharedErrors.NewInfrastructureError("upload failed").WithCause(err)
	}
	metrics.MirrorBytesTotal.WithLabelValues(m.store.Provider()).Add(float64(counter.n.Load()))
	return nil
}

// sniffContentType detects the MIME type from the first bytes without consuming them.
func sniffContentType(r *bufio.Reader) string {
	head, err := r.Peek(sniffLen)
	if len(head) == 0 && err != nil {
		return defaultContentType
	}
	if mt := mimetype.Detect(head); mt != nil {
		return mt.String()
	}
	return defaultContentType
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
