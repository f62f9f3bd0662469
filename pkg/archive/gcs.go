//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSConfig selects the bucket bundles are archived to. Credentials come
// from Application Default Credentials.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSStore archives bundles as <prefix><hash>.json objects.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	raw, err := rawHash(addr)
	if err != nil {
		return "", err
	}
	obj := s.client.Bucket(s.bucket).Object(s.prefix + raw + ".json")
	if _, err := obj.Attrs(ctx); err == nil {
		return addr, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write bundle: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs commit bundle: %w", err)
	}
	return addr, nil
}

func (s *GCSStore) Get(ctx context.Context, address string) ([]byte, error) {
	raw, err := rawHash(address)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(s.prefix + raw + ".json").NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get bundle %s: %w", address, err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read bundle %s: %w", address, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, address string) (bool, error) {
	raw, err := rawHash(address)
	if err != nil {
		return false, err
	}
	_, err = s.client.Bucket(s.bucket).Object(s.prefix + raw + ".json").Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs stat bundle: %w", err)
	}
	return true, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
