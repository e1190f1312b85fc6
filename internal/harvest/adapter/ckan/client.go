// Package ckan talks to a CKAN action API. It is the target catalog client
// and also the fetcher behind the CKAN-based source adapters.
package ckan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"catalog-harvester/internal/harvest/adapter/httpjson"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/logger"
)

const (
	userAgent = "catalog-harvester"

	// listPageSize is the page size used when listing a whole organization.
	listPageSize = 25
)

// Client is a CKAN action API client.
type Client struct {
	baseURL string
	apiKey  string
	http    *httpjson.Client
	log     logger.Logger
}

var _ repository.CatalogRepository = (*Client)(nil)

// NewClient creates a client for the CKAN instance at baseURL. apiKey may be
// empty for anonymous read access.
func NewClient(baseURL, apiKey string, httpClient *http.Client, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpjson.New(httpClient, userAgent),
		log:     log.WithComponent("ckan-client"),
	}
}

// BaseURL returns the instance root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// envelope is the response wrapper every action returns.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *actionError    `json:"error,omitempty"`
}

type actionError struct {
	Type    string
	Message string
	Fields  map[string][]string
}

func (e *actionError) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Fields = make(map[string][]string)
	for key, value := range raw {
		switch key {
		case "__type":
			_ = json.Unmarshal(value, &e.Type)
		case "message":
			_ = json.Unmarshal(value, &e.Message)
		default:
			var msgs []string
			if json.Unmarshal(value, &msgs) == nil {
				e.Fields[key] = msgs
			} else {
				var msg string
				if json.Unmarshal(value, &msg) == nil {
					e.Fields[key] = []string{msg}
				}
			}
		}
	}
	return nil
}

// String flattens the error for logs: "Validation Error: name: That URL is already in use."
func (e *actionError) String() string {
	parts := make([]string, 0, len(e.Fields)+1)
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], " ")))
	}
	msg := strings.Join(parts, "; ")
	if e.Type != "" {
		return e.Type + ": " + msg
	}
	return msg
}

// classify maps a failed action onto the AppError taxonomy.
func classify(action string, status int, ae *actionError, cause error) *sharedErrors.AppError {
	msg := action + " failed"
	detail := ""
	if ae != nil {
		detail = ae.String()
		msg = fmt.Sprintf("%s failed: %s", action, detail)
	}
	lower := strings.ToLower(detail)

	var appErr *sharedErrors.AppError
	switch {
	case status == http.StatusNotFound || (ae != nil && ae.Type == "Not Found Error"):
		appErr = sharedErrors.NewNotFoundError(action)
	case strings.Contains(lower, "already in use") || strings.Contains(lower, "already exists") || status == http.StatusConflict:
		appErr = sharedErrors.NewConflictError(msg)
	case status == http.StatusTooManyRequests || status >= 500:
		appErr = sharedErrors.NewInfrastructureError(msg)
	default:
		appErr = sharedErrors.NewValidationError(msg)
	}
	if cause != nil {
		appErr = appErr.WithCause(cause)
	}
	return appErr.WithComponent("ckan-client").WithDetail("action", action).WithDetail("status", status)
}

func (c *Client) actionURL(action string) string {
	return c.baseURL + "/api/3/action/" + action
}

// Action calls one action. payload is posted as JSON when non-nil, otherwise
// the call is a GET with query. result receives the envelope's result.
func (c *Client) Action(ctx context.Context, action string, payload interface{}, query map[string]string, result interface{}) error {
	var env envelope
	opts := []httpjson.CallOptionFn{
		httpjson.WithResult(&env),
		httpjson.WithHeader("Authorization", c.apiKey),
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, httpjson.WithQuery(k, query[k]))
	}

	method := http.MethodGet
	if payload != nil {
		method = http.MethodPost
		opts = append(opts, httpjson.WithPayload(payload))
	}

	c.log.WithContext(ctx).Debugf("%s %s", method, action)
	if err := c.http.Do(ctx, method, c.actionURL(action), opts...); err != nil {
		se, ok := httpjson.AsStatusError(err)
		if !ok {
			return err
		}
		var failed envelope
		if json.Unmarshal(se.Body, &failed) == nil && failed.Error != nil {
			return classify(action, se.StatusCode, failed.Error, se)
		}
		return classify(action, se.StatusCode, nil, se)
	}
	if !env.Success {
		return classify(action, http.StatusOK, env.Error, nil)
	}
	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return sharedErrors.NewInfrastructureError(fmt.Sprintf("failed to decode %s result", action)).WithCause(err)
	}
	return nil
}

// SearchQuery is a package_search request.
type SearchQuery struct {
	Q     string
	FQ    string
	Rows  int
	Start int
	// Fields limits returned fields (CKAN "fl"); empty returns whole packages.
	Fields []string
}

// SearchPage is one page of package_search results.
type SearchPage struct {
	Count   int               `json:"count"`
	Results []json.RawMessage `json:"results"`
}

// Search runs package_search.
func (c *Client) Search(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	query := map[string]string{
		"rows":  strconv.Itoa(q.Rows),
		"start": strconv.Itoa(q.Start),
	}
	if q.Q != "" {
		query["q"] = q.Q
	}
	if q.FQ != "" {
		query["fq"] = q.FQ
	}
	if len(q.Fields) > 0 {
		query["fl"] = strings.Join(q.Fields, ",")
	}
	var page SearchPage
	if err := c.Action(ctx, "package_search", nil, query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetDataset implements repository.CatalogRepository.
func (c *Client) GetDataset(ctx context.Context, name string) (*model.CanonicalDataset, error) {
	var pkg packageWire
	if err := c.Action(ctx, "package_show", nil, map[string]string{"id": name}, &pkg); err != nil {
		return nil, err
	}
	return pkg.canonical(), nil
}

// CreateDataset implements repository.CatalogRepository.
func (c *Client) CreateDataset(ctx context.Context, dataset *model.CanonicalDataset) (*model.CanonicalDataset, error) {
	var pkg packageWire
	if err := c.Action(ctx, "package_create", dataset, nil, &pkg); err != nil {
		return nil, err
	}
	return pkg.canonical(), nil
}

// UpdateDataset implements repository.CatalogRepository. The dataset is
// addressed by id when known, otherwise by name.
func (c *Client) UpdateDataset(ctx context.Context, dataset *model.CanonicalDataset) (*model.CanonicalDataset, error) {
	payload := updatePayload{CanonicalDataset: *dataset, ID: dataset.ID}
	if payload.ID == "" {
		payload.ID = dataset.Name
	}
	var pkg packageWire
	if err := c.Action(ctx, "package_update", payload, nil, &pkg); err != nil {
		return nil, err
	}
	return pkg.canonical(), nil
}

// PatchDataset implements repository.CatalogRepository.
func (c *Client) PatchDataset(ctx context.Context, id string, fields map[string]interface{}) (*model.CanonicalDataset, error) {
	payload := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["id"] = id
	var pkg packageWire
	if err := c.Action(ctx, "package_patch", payload, nil, &pkg); err != nil {
		return nil, err
	}
	return pkg.canonical(), nil
}

// ListDatasetsByOrganization implements repository.CatalogRepository.
func (c *Client) ListDatasetsByOrganization(ctx context.Context, org string) ([]string, error) {
	var names []string
	for start := 0; ; start += listPageSize {
		page, err := c.Search(ctx, SearchQuery{
			FQ:     fmt.Sprintf("owner_org:(%s)", org),
			Rows:   listPageSize,
			Start:  start,
			Fields: []string{"name"},
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Results {
			var pkg struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(raw, &pkg); err != nil {
				return nil, sharedErrors.NewInfrastructureError("failed to decode package_search result").WithCause(err)
			}
			names = append(names, pkg.Name)
		}
		if len(page.Results) == 0 || start+len(page.Results) >= page.Count {
			return names, nil
		}
	}
}

// GetOrganization implements repository.CatalogRepository.
func (c *Client) GetOrganization(ctx context.Context, name string) (*model.Organization, error) {
	var org model.Organization
	if err := c.Action(ctx, "organization_show", nil, map[string]string{"id": name}, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// CreateOrganization implements repository.CatalogRepository.
func (c *Client) CreateOrganization(ctx context.Context, org *model.Organization) error {
	return c.Action(ctx, "organization_create", org, nil, nil)
}

// GetGroup implements repository.CatalogRepository.
func (c *Client) GetGroup(ctx context.Context, name string) (*model.Group, error) {
	var group model.Group
	if err := c.Action(ctx, "group_show", nil, map[string]string{"id": name}, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// CreateGroup implements repository.CatalogRepository.
func (c *Client) CreateGroup(ctx context.Context, group *model.Group) error {
	return c.Action(ctx, "group_create", group, nil, nil)
}
