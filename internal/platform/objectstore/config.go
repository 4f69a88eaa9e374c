package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/biovalidate/internal/platform/env"
)

// Config points at the object store backing the two buckets biovalidate
// touches: raw dataset objects fetched by reference (§ dataset_ref) and
// the validation reports optionally archived alongside them.
type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketDatasets string
	BucketReports  string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("BIOVALIDATE_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       env.String("BIOVALIDATE_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("BIOVALIDATE_MINIO_ACCESS_KEY", "biovalidate"),
		SecretKey:      env.String("BIOVALIDATE_MINIO_SECRET_KEY", "biovalidatesecret"),
		Region:         env.String("BIOVALIDATE_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketDatasets: env.String("BIOVALIDATE_MINIO_BUCKET_DATASETS", "biovalidate-datasets"),
		BucketReports:  env.String("BIOVALIDATE_MINIO_BUCKET_REPORTS", "biovalidate-reports"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketDatasets) == "" {
		return errors.New("datasets bucket is required")
	}
	if strings.TrimSpace(c.BucketReports) == "" {
		return errors.New("reports bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
