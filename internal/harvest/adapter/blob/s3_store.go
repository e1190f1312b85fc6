package blob

import (
	"context"
	"errors"
	"io"

	sharedErrors "catalog-harvester/internal/shared/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const (
	defaultPartSize    = 8 * 1024 * 1024
	defaultConcurrency = 4
)

// s3Uploader is the part of manager.Uploader used by S3Store.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// s3Deleter is the part of s3.Client used by S3Store.
type s3Deleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an S3-compatible store. R2 is S3 with a custom
// endpoint and region "auto".
type S3Options struct {
	Provider        string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
	ForcePathStyle  bool
}

// S3Store streams objects into an S3-compatible bucket with multipart uploads.
type S3Store struct {
	publicURLs
	provider string
	bucket   string
	uploader s3Uploader
	deleter  s3Deleter
}

// NewS3Store builds the AWS client from static credentials when given and the
// default credential chain otherwise.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	loaders := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, sharedErrors.NewInfrastructureError("failed to load object storage configuration").WithCause(err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = defaultPartSize
		u.Concurrency = defaultConcurrency
	})
	return newS3Store(opts, uploader, client), nil
}

func newS3Store(opts S3Options, uploader s3Uploader, deleter s3Deleter) *S3Store {
	provider := opts.Provider
	if provider == "" {
		provider = "s3"
	}
	return &S3Store{
		publicURLs: newPublicURLs(opts.PublicURL),
		provider:   provider,
		bucket:     opts.Bucket,
		uploader:   uploader,
		deleter:    deleter,
	}
}

// Put uploads body under key. The upload manager switches to multipart for
// bodies larger than one part, so size may be unknown.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return s.translate("upload", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key succeeds.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.deleter.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil
		}
		return s.translate("delete", key, err)
	}
	return nil
}

func (s *S3Store) Provider() string { return s.provider }

func (s *S3Store) translate(op, key string, err error) error {
	appErr := sharedErrors.NewInfrastructureError(s.provider + " " + op + " failed").WithCause(err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		appErr.WithCode(apiErr.ErrorCode())
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
			appErr.Type = sharedErrors.ErrorTypeValidation
		}
	}
	return appErr.WithDetail("bucket", s.bucket).WithDetail("key", key).WithComponent("blob-store")
}
