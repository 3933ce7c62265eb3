package uploader

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7/pkg/s3utils"

	"github.com/radioarchive/trawler/pkg/config"
	"github.com/radioarchive/trawler/pkg/errors"
	"github.com/radioarchive/trawler/pkg/objectstore"
)

// fakeStore is a Store that can be told to short-write or reject specific
// keys.
type fakeStore struct {
	mu         sync.Mutex
	buckets    map[string]bool
	puts       int
	shortWrite map[string]bool  // basename -> report one byte short
	failWith   map[string]error // basename -> error to return
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		buckets:    make(map[string]bool),
		shortWrite: make(map[string]bool),
		failWith:   make(map[string]error),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) EnsureBucket(ctx context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket] = true
	return nil
}

func (f *fakeStore) Put(ctx context.Context, bucket, key, localPath string) (int64, error) {
	f.mu.Lock()
	f.puts++
	f.mu.Unlock()

	base := filepath.Base(localPath)
	if err, ok := f.failWith[base]; ok {
		return 0, err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, err
	}
	if f.shortWrite[base] {
		return info.Size() - 1, nil
	}
	return info.Size(), nil
}

func (f *fakeStore) Get(ctx context.Context, bucket, key, localPath string) error {
	return fmt.Errorf("not implemented")
}

func (f *fakeStore) ListBucketsMatching(ctx context.Context, keep func(string) bool) ([]string, error) {
	return nil, nil
}

func stageFiles(t *testing.T, root, bucket string, names ...string) []string {
	t.Helper()
	dir := filepath.Join(root, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var files []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("payload-"+name), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, path)
	}
	return files
}

func newScheduler(root string, store objectstore.Store) *Scheduler {
	return New(config.TrawlConfig{RootDir: root, WorkerMultiplier: 2}, store, nil)
}

func TestUploadConfirmsAndDeletes(t *testing.T) {
	root := t.TempDir()
	files := stageFiles(t, root, "1606356963_sdp_l0", "a.npy", "b.npy", "c.npy")

	store := newFakeStore()
	res, err := newScheduler(root, store).Upload(context.Background(), files)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.URLs) != 3 {
		t.Fatalf("got %d urls, want 3", len(res.URLs))
	}
	if res.URLs[0] != "s3://1606356963-sdp-l0/a.npy" {
		t.Errorf("unexpected url %q", res.URLs[0])
	}
	if len(res.Remaining) != 0 {
		t.Errorf("remaining should be empty, got %v", res.Remaining)
	}
	for _, f := range files {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Errorf("%s should have been deleted", f)
		}
	}
	if !store.buckets["1606356963-sdp-l0"] {
		t.Error("destination bucket was never ensured")
	}
	if res.Bytes == 0 {
		t.Error("byte count missing")
	}
}

func TestUploadKeepsFileOnSizeMismatch(t *testing.T) {
	root := t.TempDir()
	files := stageFiles(t, root, "1606356963_sdp_l0", "a.npy", "b.npy", "c.npy")

	store := newFakeStore()
	store.shortWrite["b.npy"] = true

	res, err := newScheduler(root, store).Upload(context.Background(), files)
	if err != nil {
		t.Fatalf("transient mismatch must not fail the batch: %v", err)
	}
	if len(res.URLs) != 2 {
		t.Errorf("got %d urls, want 2", len(res.URLs))
	}
	if len(res.Remaining) != 1 || filepath.Base(res.Remaining[0]) != "b.npy" {
		t.Fatalf("remaining = %v", res.Remaining)
	}
	if _, err := os.Stat(res.Remaining[0]); err != nil {
		t.Error("mismatched file must stay on disk for the next pass")
	}
}

func TestUploadAbortsOnAccessDenied(t *testing.T) {
	root := t.TempDir()
	files := stageFiles(t, root, "1606356963_sdp_l0", "a.npy")

	store := newFakeStore()
	store.failWith["a.npy"] = fmt.Errorf("%w: invalid access key", errors.ErrAccessDenied)

	_, err := newScheduler(root, store).Upload(context.Background(), files)
	if err == nil {
		t.Fatal("expected a fatal error")
	}
	if !errors.IsFatalUpload(err) {
		t.Errorf("error should be fatal, got %v", err)
	}
	if !stderrors.Is(err, errors.ErrAccessDenied) {
		t.Errorf("sentinel lost from chain: %v", err)
	}
	if _, statErr := os.Stat(files[0]); statErr != nil {
		t.Error("file must not be deleted on a failed upload")
	}
}

func TestUploadTransientStoreErrorIsRetried(t *testing.T) {
	root := t.TempDir()
	files := stageFiles(t, root, "1606356963_sdp_l0", "a.npy", "b.npy")

	store := newFakeStore()
	store.failWith["a.npy"] = fmt.Errorf("read timeout on body")

	res, err := newScheduler(root, store).Upload(context.Background(), files)
	if err != nil {
		t.Fatalf("transient error must not fail the batch: %v", err)
	}
	if len(res.Remaining) != 1 || filepath.Base(res.Remaining[0]) != "a.npy" {
		t.Fatalf("remaining = %v", res.Remaining)
	}
	if len(res.URLs) != 1 {
		t.Errorf("got %d urls, want 1", len(res.URLs))
	}
}

func TestUploadRejectsFileOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "elsewhere.npy")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := newScheduler(root, newFakeStore()).Upload(context.Background(), []string{outside})
	if err == nil || !errors.IsFatalUpload(err) {
		t.Fatalf("file outside the trawl root must be fatal, got %v", err)
	}
}

func TestDestinationBucketNamesAreS3Safe(t *testing.T) {
	root := t.TempDir()
	s := newScheduler(root, newFakeStore())

	// Trawl directory names carry underscores, which strict S3 bucket
	// naming rejects; the destination mapping must translate them.
	for _, dir := range []string{
		"1606356963",
		"1606356963_sdp_l0",
		"1606356963_sdp_l1_flags_continuum",
	} {
		bucket, key, err := s.destinationFor(filepath.Join(root, dir, "a.npy"))
		if err != nil {
			t.Fatalf("%s: %v", dir, err)
		}
		if key != "a.npy" {
			t.Errorf("%s: key %q", dir, key)
		}
		if err := s3utils.CheckValidBucketNameStrict(bucket); err != nil {
			t.Errorf("bucket %q for %s rejected: %v", bucket, dir, err)
		}
	}
}

func TestUploadEmptyBatch(t *testing.T) {
	res, err := newScheduler(t.TempDir(), newFakeStore()).Upload(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.URLs) != 0 || res.Bytes != 0 {
		t.Errorf("empty batch should do nothing, got %+v", res)
	}
}

func TestUploadWithFilesystemStore(t *testing.T) {
	root := t.TempDir()
	files := stageFiles(t, root, "1606356963_sdp_l0", "deep.npy")
	// nested key
	nestedDir := filepath.Join(root, "1606356963_sdp_l0", "sub")
	if err := os.MkdirAll(nestedDir, 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(nestedDir, "n.npy")
	if err := os.WriteFile(nested, []byte("nested"), 0o644); err != nil {
		t.Fatal(err)
	}
	files = append(files, nested)

	storeRoot := t.TempDir()
	store := objectstore.NewFS(storeRoot)
	res, err := newScheduler(root, store).Upload(context.Background(), files)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.URLs) != 2 {
		t.Fatalf("got %d urls", len(res.URLs))
	}
	data, err := os.ReadFile(filepath.Join(storeRoot, "1606356963-sdp-l0", "sub", "n.npy"))
	if err != nil {
		t.Fatalf("nested object missing: %v", err)
	}
	if !strings.Contains(string(data), "nested") {
		t.Error("object content corrupted")
	}
}
