package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore maps buckets to directories under Root. Used for local runs and
// tests.
type FileStore struct {
	Root string
}

// NewFileStore creates a file store rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

// Put implements Store. The object is written to a temporary file and renamed
// into place so readers never observe a partial upload.
func (s *FileStore) Put(ctx context.Context, bucket, key string, data []byte, _ string) error {
	err := s.put(ctx, bucket, key, data)
	observe("file", "put", len(data), err)
	return err
}

func (s *FileStore) put(ctx context.Context, bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := s.get(ctx, bucket, key)
	observe("file", "get", len(data), err)
	return data, err
}

func (s *FileStore) get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.URI(bucket, key))
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// URI implements Store.
func (s *FileStore) URI(bucket, key string) string {
	return filepath.Join(s.Root, bucket, filepath.FromSlash(key))
}

func (s *FileStore) path(bucket, key string) (string, error) {
	k := filepath.FromSlash(key)
	if !filepath.IsLocal(bucket) || !filepath.IsLocal(k) {
		return "", fmt.Errorf("invalid object address %q/%q", bucket, key)
	}
	return filepath.Join(s.Root, bucket, k), nil
}
