package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps buckets as directories under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at root.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Delete removes root/bucket/path.
func (s *LocalStore) Delete(ctx context.Context, bucket, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(bucket, path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("deleting %s/%s: %w", bucket, path, ErrNotFound)
		}
		return fmt.Errorf("deleting %s/%s: %w", bucket, path, err)
	}
	return nil
}

// Put writes data to root/bucket/path, creating directories as needed.
func (s *LocalStore) Put(bucket, path string, data []byte) error {
	full, err := s.resolve(bucket, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("creating bucket directory: %w", err)
	}
	return os.WriteFile(full, data, 0o600)
}

func (s *LocalStore) resolve(bucket, path string) (string, error) {
	if bucket == "" || path == "" {
		return "", fmt.Errorf("bucket and path are required")
	}
	if strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	base := filepath.Join(s.root, bucket)
	full := filepath.Join(base, filepath.FromSlash(path))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes bucket %q", path, bucket)
	}
	return full, nil
}
