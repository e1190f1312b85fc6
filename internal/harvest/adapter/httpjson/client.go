// Package httpjson is the small JSON-over-HTTP client shared by the target
// catalog client and the source adapters.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	sharedErrors "catalog-harvester/internal/shared/errors"
)

const maxErrorBody = 64 * 1024

// KV is a header or query parameter.
type KV struct {
	Key   string
	Value string
}

// CallOptions contains options for one request.
type CallOptions struct {
	Payload interface{}
	Result  interface{}
	Headers []KV
	Query   []KV
}

// CallOptionFn sets parameters for Do.
type CallOptionFn func(opt *CallOptions)

// WithPayload sends payload as the JSON request body.
func WithPayload(payload interface{}) CallOptionFn {
	return func(opt *CallOptions) {
		opt.Payload = payload
	}
}

// WithResult decodes a successful response body into result.
func WithResult(result interface{}) CallOptionFn {
	return func(opt *CallOptions) {
		opt.Result = result
	}
}

// WithHeader adds a request header. Empty values are skipped.
func WithHeader(key, value string) CallOptionFn {
	return func(opt *CallOptions) {
		if value != "" {
			opt.Headers = append(opt.Headers, KV{Key: key, Value: value})
		}
	}
}

// WithQuery adds a URL query parameter.
func WithQuery(key, value string) CallOptionFn {
	return func(opt *CallOptions) {
		opt.Query = append(opt.Query, KV{Key: key, Value: value})
	}
}

// StatusError is a non-2xx response. Body holds at most the first 64 KiB.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("%s %s returned status code %d: %s", e.Method, e.URL, e.StatusCode, truncate(e.Body, 512))
	}
	return fmt.Sprintf("%s %s returned status code %d", e.Method, e.URL, e.StatusCode)
}

// Client issues JSON requests.
type Client struct {
	http      *http.Client
	userAgent string
}

// New wraps client; a nil client means http.DefaultClient.
func New(client *http.Client, userAgent string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{http: client, userAgent: userAgent}
}

// Get is Do with GET.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...CallOptionFn) error {
	return c.Do(ctx, http.MethodGet, rawURL, opts...)
}

// Post is Do with POST.
func (c *Client) Post(ctx context.Context, rawURL string, opts ...CallOptionFn) error {
	return c.Do(ctx, http.MethodPost, rawURL, opts...)
}

// Do sends one request. Errors are AppErrors: transport failures, 429 and 5xx
// are infrastructure errors, 404 is not-found, 409 is a conflict and other
// 4xx are validation errors. The *StatusError is kept as the cause.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts ...CallOptionFn) (err error) {
	options := &CallOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var body io.Reader
	if options.Payload != nil {
		content, err := json.Marshal(options.Payload)
		if err != nil {
			return sharedErrors.NewValidationError("failed to marshal payload").WithCause(err)
		}
		body = bytes.NewReader(content)
	}

	request, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return sharedErrors.NewValidationError("failed to create request").WithCause(err)
	}
	if len(options.Query) > 0 {
		query := request.URL.Query()
		for _, kv := range options.Query {
			query.Add(kv.Key, kv.Value)
		}
		request.URL.RawQuery = query.Encode()
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		request.Header.Set("User-Agent", c.userAgent)
	}
	for _, kv := range options.Headers {
		request.Header.Set(kv.Key, kv.Value)
	}

	resp, err := c.http.Do(request)
	if err != nil {
		return sharedErrors.NewInfrastructureError(fmt.Sprintf("%s %s failed", method, redact(request.URL))).WithCause(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = sharedErrors.NewInfrastructureError("failed to close response body").WithCause(cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Classify(&StatusError{
			Method:     method,
			URL:        redact(request.URL),
			StatusCode: resp.StatusCode,
			Body:       data,
		})
	}

	if options.Result == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(options.Result); err != nil {
		return sharedErrors.NewInfrastructureError(fmt.Sprintf("failed to decode response from %s", redact(request.URL))).WithCause(err)
	}
	return nil
}

// Classify maps a status error onto the AppError taxonomy.
func Classify(se *StatusError) *sharedErrors.AppError {
	var appErr *sharedErrors.AppError
	switch {
	case se.StatusCode == http.StatusNotFound:
		appErr = sharedErrors.NewNotFoundError("remote resource")
	case se.StatusCode == http.StatusConflict:
		appErr = sharedErrors.NewConflictError("request conflicted")
	case se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500:
		appErr = sharedErrors.NewInfrastructureError("request failed")
	default:
		appErr = sharedErrors.NewValidationError("request rejected")
	}
	return appErr.WithCause(se).WithDetail("status", se.StatusCode)
}

// AsStatusError extracts the status error behind err.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// redact drops query values that look like credentials from logged URLs.
func redact(u *url.URL) string {
	cp := *u
	q := cp.Query()
	for key := range q {
		switch key {
		case "api_key", "apikey", "token", "$$app_token":
			q.Set(key, "REDACTED")
		}
	}
	cp.RawQuery = q.Encode()
	return cp.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
