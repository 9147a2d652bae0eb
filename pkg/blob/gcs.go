package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GCSStore stores objects in Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	logger zerolog.Logger
}

// NewGCSStore creates a GCS store using application default credentials
// unless opts override them.
func NewGCSStore(ctx context.Context, logger zerolog.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, logger: logger}, nil
}

// Put implements Store.
func (s *GCSStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	err := s.put(ctx, bucket, key, data, contentType)
	observe("gcs", "put", len(data), err)
	return err
}

func (s *GCSStore) put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", s.URI(bucket, key), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", s.URI(bucket, key), err)
	}
	return nil
}

// Get implements Store.
func (s *GCSStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := s.get(ctx, bucket, key)
	observe("gcs", "get", len(data), err)
	return data, err
}

func (s *GCSStore) get(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.URI(bucket, key))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.URI(bucket, key), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URI(bucket, key), err)
	}
	return data, nil
}

// URI implements Store. The gs:// form is what warehouse load jobs expect.
func (s *GCSStore) URI(bucket, key string) string {
	return "gs://" + bucket + "/" + key
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
