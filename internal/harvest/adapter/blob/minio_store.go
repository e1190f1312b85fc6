package blob

import (
	"context"
	"io"
	"net/http"
	"strings"

	sharedErrors "catalog-harvester/internal/shared/errors"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioAPI is the part of minio.Client used by MinioStore.
type minioAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioOptions configures a MinIO store.
type MinioOptions struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	PublicURL       string
}

// MinioStore writes objects to a MinIO (or any S3-compatible) server with minio-go.
type MinioStore struct {
	publicURLs
	bucket string
	client minioAPI
}

// NewMinioStore creates a store. When PublicURL is empty objects are
// addressed at <endpoint>/<bucket>/<key>.
func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	endpoint := opts.Endpoint
	secure := opts.UseSSL
	if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
		endpoint, secure = rest, true
	} else if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
		endpoint, secure = rest, false
	}
	endpoint = strings.TrimRight(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, sharedErrors.NewValidationError("invalid minio configuration").WithCause(err)
	}

	if opts.PublicURL == "" {
		scheme := "http://"
		if secure {
			scheme = "https://"
		}
		opts.PublicURL = scheme + endpoint + "/" + opts.Bucket
	}
	return newMinioStore(opts, client), nil
}

func newMinioStore(opts MinioOptions, client minioAPI) *MinioStore {
	return &MinioStore{
		publicURLs: newPublicURLs(opts.PublicURL),
		bucket:     opts.Bucket,
		client:     client,
	}
}

func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return s.translate("upload", key, err)
	}
	return nil
}

// Delete removes key; minio reports success for missing keys.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return s.translate("delete", key, err)
	}
	return nil
}

func (s *MinioStore) Provider() string { return "minio" }

func (s *MinioStore) translate(op, key string, err error) error {
	appErr := sharedErrors.NewInfrastructureError("minio " + op + " failed").WithCause(err)
	resp := minio.ToErrorResponse(err)
	if resp.Code != "" {
		appErr.WithCode(resp.Code)
	}
	if resp.StatusCode == http.StatusForbidden || resp.Code == "NoSuchBucket" {
		appErr.Type = sharedErrors.ErrorTypeValidation
	}
	return appErr.WithDetail("bucket", s.bucket).WithDetail("key", key).WithComponent("blob-store")
}
