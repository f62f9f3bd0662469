//go:build gcp

package archive

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ANCHOR_ARCHIVE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ANCHOR_ARCHIVE_GCS_BUCKET is required for the gcs archive")
	}
	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("ANCHOR_ARCHIVE_GCS_PREFIX"),
	})
}
