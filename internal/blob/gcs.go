package blob

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSStore deletes objects from Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a GCSStore using application default credentials.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Delete removes the object at path in bucket.
func (s *GCSStore) Delete(ctx context.Context, bucket, path string) error {
	err := s.client.Bucket(bucket).Object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("deleting gs://%s/%s: %w", bucket, path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting gs://%s/%s: %w", bucket, path, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
