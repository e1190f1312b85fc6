package repository

import (
	"context"
	"io"
)

// BlobStore is the durable object storage resources are mirrored into.
type BlobStore interface {
	// Put streams body under key. size is -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	// PublicURL returns the public address of key.
	PublicURL(key string) string
	// KeyFromURL reverses PublicURL; ok is false for URLs the store does not own.
	KeyFromURL(url string) (key string, ok bool)
	// Provider names the backend for logs and metrics.
	Provider() string
}
