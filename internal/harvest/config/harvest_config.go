package config

import (
	"fmt"
	"strings"
	"time"

	sharedErrors "catalog-harvester/internal/shared/errors"

	"github.com/caarlos0/env/v6"
)

// Blob providers accepted by BLOB_PROVIDER
const (
	BlobProviderR2    = "r2"
	BlobProviderS3    = "s3"
	BlobProviderMinIO = "minio"
	BlobProviderNone  = "none"
)

// SourceConfig points at the catalog being harvested.
type SourceConfig struct {
	APIURL string `env:"SOURCE_API_URL" json:"api_url"`
	APIKey string `env:"SOURCE_API_KEY" json:"-"`
}

// TargetConfig points at the PortalJS Cloud (CKAN action API) instance.
type TargetConfig struct {
	APIURL    string `env:"PORTALJS_CLOUD_API_URL" envDefault:"https://api.cloud.portaljs.com" json:"api_url"`
	APIKey    string `env:"PORTALJS_CLOUD_API_KEY" json:"-"`
	MainOrg   string `env:"PORTALJS_CLOUD_MAIN_ORG" json:"main_org"`
	MainGroup string `env:"PORTALJS_CLOUD_MAIN_GROUP" json:"main_group"`
	MainUser  string `env:"PORTALJS_CLOUD_MAIN_USER" json:"main_user"`
	// HTTPTimeout bounds a single action API call.
	HTTPTimeout time.Duration `env:"PORTALJS_CLOUD_HTTP_TIMEOUT" envDefault:"30s" json:"http_timeout"`
}

// SchedulerConfig bounds per-item concurrency and pacing.
type SchedulerConfig struct {
	Concurrency  int `env:"CONCURRENCY" envDefault:"4" json:"concurrency"`
	RateLimitRPS int `env:"RATE_LIMIT_RPS" envDefault:"2" json:"rate_limit_rps"`
}

// RetryConfig configures the exponential backoff around network steps.
type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"2" json:"max_attempts"`
	BaseMS      int           `env:"RETRY_BASE_MS" envDefault:"500" json:"base_ms"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"0s" json:"max_delay"`
}

// BaseDelay returns RETRY_BASE_MS as a duration
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseMS) * time.Millisecond
}

// BlobConfig selects and configures the durable store resources are mirrored into.
// The R2_* names are kept for every provider; S3 and MinIO add endpoint overrides.
type BlobConfig struct {
	Provider        string `env:"BLOB_PROVIDER" envDefault:"r2" json:"provider"`
	AccountID       string `env:"R2_ACCOUNT_ID" json:"account_id"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID" json:"-"`
	SecretAccessKey string `env:"R2_SECRET_KEY_ID" json:"-"`
	Bucket          string `env:"R2_BUCKET_NAME" json:"bucket"`
	PublicURL       string `env:"NEXT_PUBLIC_R2_PUBLIC_URL" json:"public_url"`
	Endpoint        string `env:"BLOB_ENDPOINT" json:"endpoint"`
	Region          string `env:"BLOB_REGION" json:"region"`
	UseSSL          bool   `env:"BLOB_USE_SSL" envDefault:"true" json:"use_ssl"`
}

// Enabled reports whether a blob provider is configured at all
func (b BlobConfig) Enabled() bool {
	return b.Provider != "" && b.Provider != BlobProviderNone
}

// R2Endpoint returns the S3-compatible endpoint for the configured Cloudflare account
func (b BlobConfig) R2Endpoint() string {
	if b.Endpoint != "" {
		return b.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", b.AccountID)
}

// MirrorConfig bounds the network calls made by the resource mirror.
type MirrorConfig struct {
	ProbeTimeout    time.Duration `env:"MIRROR_PROBE_TIMEOUT" envDefault:"10s" json:"probe_timeout"`
	DownloadTimeout time.Duration `env:"MIRROR_DOWNLOAD_TIMEOUT" envDefault:"60s" json:"download_timeout"`
}

// ReportConfig configures the write-only run report sinks.
type ReportConfig struct {
	File              string `env:"REPORT_FILE" json:"file"`
	RedisAddr         string `env:"REPORT_REDIS_ADDR" json:"redis_addr"`
	RedisPassword     string `env:"REPORT_REDIS_PASSWORD" json:"-"`
	RedisDB           int    `env:"REPORT_REDIS_DB" envDefault:"0" json:"redis_db"`
	RedisStream       string `env:"REPORT_REDIS_STREAM" envDefault:"harvest:runs" json:"redis_stream"`
	RedisStreamMaxLen int64  `env:"REPORT_REDIS_STREAM_MAX_LEN" envDefault:"1000" json:"redis_stream_max_len"`
	RedisTLS          bool   `env:"REPORT_REDIS_TLS" envDefault:"false" json:"redis_tls"`
	MongoURI          string `env:"REPORT_MONGODB_URI" json:"-"`
	MongoDatabase     string `env:"REPORT_MONGODB_DATABASE" envDefault:"catalog_harvester" json:"mongodb_database"`
	MongoCollection   string `env:"REPORT_MONGODB_COLLECTION" envDefault:"harvest_runs" json:"mongodb_collection"`
	Orphans           bool   `env:"REPORT_ORPHANS" envDefault:"false" json:"orphans"`
}

// LogConfig selects the logging backend and format.
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info" json:"level"`
	Format      string `env:"LOG_FORMAT" envDefault:"text" json:"format"`
	Backend     string `env:"LOG_BACKEND" envDefault:"logrus" json:"backend"`
	Environment string `env:"ENVIRONMENT" json:"environment"`
}

// HarvestConfig holds all configuration for one harvest run.
type HarvestConfig struct {
	HarvesterName string          `env:"HARVESTER_NAME" json:"harvester_name"`
	DryRun        bool            `env:"DRY_RUN" envDefault:"false" json:"dry_run"`
	SourceFilter  string          `env:"SOURCE_FILTER" json:"source_filter"`
	StatusAddr    string          `env:"STATUS_ADDR" json:"status_addr"`
	RunTimeout    time.Duration   `env:"RUN_TIMEOUT" envDefault:"0s" json:"run_timeout"`
	Source        SourceConfig    `json:"source"`
	Target        TargetConfig    `json:"target"`
	Scheduler     SchedulerConfig `json:"scheduler"`
	Retry         RetryConfig     `json:"retry"`
	Blob          BlobConfig      `json:"blob"`
	Mirror        MirrorConfig    `json:"mirror"`
	Report        ReportConfig    `json:"report"`
	Log           LogConfig       `json:"log"`
}

// LoadConfig loads configuration from environment variables and applies defaults.
// Validation is left to Validate so CLI flags can override values first.
func LoadConfig() (*HarvestConfig, error) {
	return load(env.Options{})
}

// LoadConfigFromMap parses configuration from an explicit variable map instead of the process environment.
func LoadConfigFromMap(vars map[string]string) (*HarvestConfig, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*HarvestConfig, error) {
	cfg := &HarvestConfig{}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, sharedErrors.NewValidationError("failed to load harvest configuration from environment").WithCause(err)
	}
	cfg.Blob.Provider = strings.ToLower(strings.TrimSpace(cfg.Blob.Provider))
	cfg.Target.APIURL = strings.TrimRight(cfg.Target.APIURL, "/")
	cfg.Source.APIURL = strings.TrimRight(cfg.Source.APIURL, "/")
	return cfg, nil
}

// Validate checks required values and returns a ValidationErrors aggregate when any are missing.
func (c *HarvestConfig) Validate() error {
	ve := sharedErrors.NewValidationErrors()

	required := []struct{ name, value string }{
		{"HARVESTER_NAME", c.HarvesterName},
		{"SOURCE_API_URL", c.Source.APIURL},
		{"PORTALJS_CLOUD_API_KEY", c.Target.APIKey},
		{"PORTALJS_CLOUD_MAIN_ORG", c.Target.MainOrg},
		{"PORTALJS_CLOUD_MAIN_GROUP", c.Target.MainGroup},
		{"PORTALJS_CLOUD_MAIN_USER", c.Target.MainUser},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			ve.Add(r.name, r.name+" is required", r.value)
		}
	}

	switch c.Blob.Provider {
	case BlobProviderR2:
		for _, r := range []struct{ name, value string }{
			{"R2_ACCOUNT_ID", c.Blob.AccountID},
			{"R2_ACCESS_KEY_ID", c.Blob.AccessKeyID},
			{"R2_SECRET_KEY_ID", c.Blob.SecretAccessKey},
			{"R2_BUCKET_NAME", c.Blob.Bucket},
			{"NEXT_PUBLIC_R2_PUBLIC_URL", c.Blob.PublicURL},
		} {
			if r.value == "" {
				ve.Add(r.name, r.name+" is required when BLOB_PROVIDER=r2", "")
			}
		}
	case BlobProviderS3, BlobProviderMinIO:
		if c.Blob.Bucket == "" {
			ve.Add("R2_BUCKET_NAME", "a bucket is required when BLOB_PROVIDER="+c.Blob.Provider, "")
		}
		if c.Blob.Provider == BlobProviderMinIO && c.Blob.Endpoint == "" {
			ve.Add("BLOB_ENDPOINT", "BLOB_ENDPOINT is required when BLOB_PROVIDER=minio", "")
		}
	case BlobProviderNone, "":
	default:
		ve.Add("BLOB_PROVIDER", "unsupported blob provider", c.Blob.Provider)
	}

	if c.Retry.MaxAttempts < 1 {
		ve.Add("RETRY_MAX_ATTEMPTS", "RETRY_MAX_ATTEMPTS must be at least 1", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseMS < 0 {
		ve.Add("RETRY_BASE_MS", "RETRY_BASE_MS must not be negative", c.Retry.BaseMS)
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

// DefaultHarvestConfig returns a HarvestConfig with default values.
func DefaultHarvestConfig() *HarvestConfig {
	return &HarvestConfig{
		Target: TargetConfig{
			APIURL:      "https://api.cloud.portaljs.com",
			HTTPTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{Concurrency: 4, RateLimitRPS: 2},
		Retry:     RetryConfig{MaxAttempts: 2, BaseMS: 500},
		Blob:      BlobConfig{Provider: BlobProviderNone, UseSSL: true},
		Mirror: MirrorConfig{
			ProbeTimeout:    10 * time.Second,
			DownloadTimeout: 60 * time.Second,
		},
		Report: ReportConfig{
			RedisStream:       "harvest:runs",
			RedisStreamMaxLen: 1000,
			MongoDatabase:     "catalog_harvester",
			MongoCollection:   "harvest_runs",
		},
		Log: LogConfig{Level: "info", Format: "text", Backend: "logrus"},
	}
}
