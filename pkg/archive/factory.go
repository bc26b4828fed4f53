package archive

import (
	"context"
	"fmt"
	"os"
)

// StoreType selects the archive backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates an archive store from environment variables.
//
//   - EDON_ARCHIVE_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//   - EDON_ARCHIVE_DIR: base directory for the fs store (default "data/archive")
//
// For S3:
//   - EDON_ARCHIVE_S3_BUCKET (required)
//   - EDON_ARCHIVE_S3_REGION or AWS_REGION (default "us-east-1")
//   - EDON_ARCHIVE_S3_ENDPOINT (optional, MinIO/LocalStack)
//   - EDON_ARCHIVE_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - EDON_ARCHIVE_GCS_BUCKET (required)
//   - EDON_ARCHIVE_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("EDON_ARCHIVE_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported archive storage type: %s", storeType)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dir := os.Getenv("EDON_ARCHIVE_DIR")
	if dir == "" {
		dir = "data/archive"
	}
	return NewFileStore(dir)
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("EDON_ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("EDON_ARCHIVE_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("EDON_ARCHIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("EDON_ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("EDON_ARCHIVE_S3_PREFIX"),
	})
}
