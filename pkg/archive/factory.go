package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects the archive backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv builds the bundle store selected by ANCHOR_ARCHIVE_TYPE:
// "fs" (default), "s3", or "gcs".
//
// fs:  ANCHOR_ARCHIVE_DIR (default "data/bundles")
// s3:  ANCHOR_ARCHIVE_S3_BUCKET (required), ANCHOR_ARCHIVE_S3_REGION or
//      AWS_REGION, ANCHOR_ARCHIVE_S3_ENDPOINT, ANCHOR_ARCHIVE_S3_PREFIX
// gcs: ANCHOR_ARCHIVE_GCS_BUCKET (required), ANCHOR_ARCHIVE_GCS_PREFIX;
//      needs a binary built with -tags gcp
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	t := StoreType(os.Getenv("ANCHOR_ARCHIVE_TYPE"))
	if t == "" {
		t = StoreTypeFS
	}
	switch t {
	case StoreTypeFS:
		dir := os.Getenv("ANCHOR_ARCHIVE_DIR")
		if dir == "" {
			dir = filepath.Join("data", "bundles")
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", t)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ANCHOR_ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ANCHOR_ARCHIVE_S3_BUCKET is required for the s3 archive")
	}
	region := os.Getenv("ANCHOR_ARCHIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ANCHOR_ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("ANCHOR_ARCHIVE_S3_PREFIX"),
	})
}
