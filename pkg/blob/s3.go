package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// S3Config configures an S3-compatible endpoint such as MinIO or the GCS
// interoperability API.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3Store stores objects in an S3-compatible service.
type S3Store struct {
	client *minio.Client
	logger zerolog.Logger
}

// NewS3Store creates an S3 store.
func NewS3Store(cfg S3Config, logger zerolog.Logger) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Store{client: client, logger: logger}, nil
}

// EnsureBucket creates bucket if it does not exist.
func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	s.logger.Info().Str("bucket", bucket).Msg("Created bucket")
	return nil
}

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		err = fmt.Errorf("put %s: %w", s.URI(bucket, key), err)
	}
	observe("s3", "put", len(data), err)
	return err
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := s.get(ctx, bucket, key)
	observe("s3", "get", len(data), err)
	return data, err
}

func (s *S3Store) get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapGetError(bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrapGetError(bucket, key, err)
	}
	return data, nil
}

func (s *S3Store) wrapGetError(bucket, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, s.URI(bucket, key))
	}
	return fmt.Errorf("get %s: %w", s.URI(bucket, key), err)
}

// URI implements Store.
func (s *S3Store) URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
