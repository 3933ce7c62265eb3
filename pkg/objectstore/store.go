// Package objectstore provides the bucket+key addressed object store client
// used as the upload destination. The MinIO implementation talks to any
// S3-compatible gateway; a filesystem implementation backs tests and local
// runs.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Store is the object store contract consumed by the upload scheduler.
type Store interface {
	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error

	// EnsureBucket creates the bucket if needed. A bucket that already
	// exists and is owned by the caller is success.
	EnsureBucket(ctx context.Context, bucket string) error

	// Put uploads the file at localPath and returns the number of bytes
	// the store reports written. Re-putting the same key is idempotent.
	Put(ctx context.Context, bucket, key, localPath string) (int64, error)

	// Get downloads an object to localPath.
	Get(ctx context.Context, bucket, key, localPath string) error

	// ListBucketsMatching returns the bucket names accepted by keep, sorted.
	ListBucketsMatching(ctx context.Context, keep func(string) bool) ([]string, error)
}

// FS persists objects on local disk, mimicking bucket/key layout. Used by
// tests and file:// destinations.
type FS struct {
	root string
}

// NewFS creates a filesystem store rooted at dir.
func NewFS(root string) *FS {
	_ = os.MkdirAll(root, 0o755)
	return &FS{root: root}
}

func (s *FS) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(s.root, 0o755)
}

func (s *FS) EnsureBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return fmt.Errorf("bucket name is required")
	}
	return os.MkdirAll(filepath.Join(s.root, bucket), 0o755)
}

func (s *FS) Put(ctx context.Context, bucket, key, localPath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer src.Close()

	dstPath := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating object directory: %w", err)
	}
	dst, err := os.Create(dstPath)
	if err != nil {
		return 0, fmt.Errorf("creating object %s/%s: %w", bucket, key, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, fmt.Errorf("writing object %s/%s: %w", bucket, key, err)
	}
	return n, nil
}

func (s *FS) Get(ctx context.Context, bucket, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(filepath.Join(s.root, bucket, filepath.FromSlash(key)))
	if err != nil {
		return fmt.Errorf("opening object %s/%s: %w", bucket, key, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func (s *FS) ListBucketsMatching(ctx context.Context, keep func(string) bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && (keep == nil || keep(e.Name())) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
