package blob

import (
	"context"

	"catalog-harvester/internal/harvest/config"
	"catalog-harvester/internal/harvest/domain/repository"
	sharedErrors "catalog-harvester/internal/shared/errors"
)

// NewBlobStore builds the store selected by BLOB_PROVIDER. It returns a nil
// store and no error when mirroring is disabled.
func NewBlobStore(ctx context.Context, cfg config.BlobConfig) (repository.BlobStore, error) {
	switch cfg.Provider {
	case config.BlobProviderNone, "":
		return nil, nil
	case config.BlobProviderR2, config.BlobProviderS3:
		store, err := NewS3Store(ctx, s3OptionsFor(cfg))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BlobProviderMinIO:
		store, err := NewMinioStore(MinioOptions{
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			PublicURL:       cfg.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, sharedErrors.NewValidationError("unsupported blob provider: " + cfg.Provider)
	}
}

func s3OptionsFor(cfg config.BlobConfig) S3Options {
	if cfg.Provider == config.BlobProviderR2 {
		return S3Options{
			Provider:        config.BlobProviderR2,
			Bucket:          cfg.Bucket,
			Region:          "auto",
			Endpoint:        cfg.R2Endpoint(),
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			PublicURL:       cfg.PublicURL,
		}
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = "https://" + cfg.Bucket + ".s3." + region + ".amazonaws.com"
	}
	return S3Options{
		Provider:        config.BlobProviderS3,
		Bucket:          cfg.Bucket,
		Region:          region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		PublicURL:       publicURL,
		ForcePathStyle:  cfg.Endpoint != "",
	}
}
