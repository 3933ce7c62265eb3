package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/catalog"
	"github.com/radioarchive/trawler/pkg/config"
)

func testConfig(root string) config.TrawlConfig {
	return config.TrawlConfig{
		RootDir:     root,
		WalkTimeout: 10 * time.Second,
	}
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func touch(t *testing.T, path string, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newStreamDir creates a complete capture stream directory with the given
// payload files.
func newStreamDir(t *testing.T, root, name string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	mkdir(t, dir)
	touch(t, filepath.Join(dir, product.CompleteMarker), "")
	for _, f := range files {
		touch(t, filepath.Join(dir, f), "payload")
	}
	return dir
}

func scan(t *testing.T, root string) []Candidate {
	t.Helper()
	return scanWith(t, root, nil)
}

func scanWith(t *testing.T, root string, cat catalog.Client) []Candidate {
	t.Helper()
	candidates, err := New(testConfig(root), cat, nil).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return candidates
}

func TestScanReadyStream(t *testing.T) {
	root := t.TempDir()
	newStreamDir(t, root, "1606356963_sdp_l0", "data0.npy", "data1.npy")

	candidates := scan(t, root)
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	c := candidates[0]
	if c.ProductID != "1606356963_sdp_l0" {
		t.Errorf("product id %q", c.ProductID)
	}
	if c.Kind != product.KindCaptureStream {
		t.Errorf("kind %q", c.Kind)
	}
	if c.BlockID != "1606356963" {
		t.Errorf("block id %q", c.BlockID)
	}
	if len(c.Files) != 2 {
		t.Errorf("got %d files, want 2", len(c.Files))
	}
}

func TestScanSkipsIncompleteStream(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "1606356963_sdp_l0")
	mkdir(t, dir)
	touch(t, filepath.Join(dir, "data0.npy"), "payload")
	// no complete marker

	if candidates := scan(t, root); len(candidates) != 0 {
		t.Fatalf("incomplete stream must not be a candidate, got %d", len(candidates))
	}
}

func TestScanSkipsWritingFiles(t *testing.T) {
	root := t.TempDir()
	dir := newStreamDir(t, root, "1606356963_sdp_l0", "data0.npy")
	touch(t, filepath.Join(dir, "data1.writing.npy"), "partial")

	candidates := scan(t, root)
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates", len(candidates))
	}
	for _, f := range candidates[0].Files {
		if filepath.Base(f) == "data1.writing.npy" {
			t.Error("in-progress file must be skipped")
		}
	}
}

func TestScanRelocatesFailed(t *testing.T) {
	root := t.TempDir()
	dir := newStreamDir(t, root, "1606356963_sdp_l0", "data0.npy")
	touch(t, filepath.Join(dir, product.FailedMarker), "extraction error")

	if candidates := scan(t, root); len(candidates) != 0 {
		t.Fatalf("failed stream must not be a candidate, got %d", len(candidates))
	}
	relocated := filepath.Join(root, product.FailedDirName, "1606356963_sdp_l0")
	if _, err := os.Stat(relocated); err != nil {
		t.Errorf("directory not relocated: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("original directory should be gone")
	}

	// Relocation is idempotent across passes.
	if candidates := scan(t, root); len(candidates) != 0 {
		t.Fatalf("relocated directory must stay excluded, got %d", len(candidates))
	}
}

func TestScanCleansUpTransferredStream(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "1606356963_sdp_l0")
	mkdir(t, dir)
	touch(t, filepath.Join(dir, product.CompleteMarker), "")

	if candidates := scan(t, root); len(candidates) != 0 {
		t.Fatalf("got %d candidates", len(candidates))
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("fully transferred directory should be deleted")
	}
}

func TestScanExcludesBlockWithLiveStreams(t *testing.T) {
	root := t.TempDir()
	blockDir := filepath.Join(root, "1606356963")
	mkdir(t, blockDir)
	touch(t, filepath.Join(blockDir, product.CompleteMarker), "")
	touch(t, filepath.Join(blockDir, "1606356963_sdp_l0.rdb"), "REDIS0009")
	touch(t, filepath.Join(blockDir, "1606356963_sdp_l0.full.rdb"), "REDIS0009")
	newStreamDir(t, root, "1606356963_sdp_l0", "data0.npy")

	candidates := scan(t, root)
	for _, c := range candidates {
		if c.Kind == product.KindCaptureBlock {
			t.Error("capture block must wait for its streams to consolidate")
		}
	}

	// Once the stream is gone the block becomes eligible.
	if err := os.RemoveAll(filepath.Join(root, "1606356963_sdp_l0")); err != nil {
		t.Fatal(err)
	}
	candidates = scan(t, root)
	if len(candidates) != 1 || candidates[0].Kind != product.KindCaptureBlock {
		t.Fatalf("expected one block candidate, got %+v", candidates)
	}
}

func TestScanGroupsBlockFilesByStream(t *testing.T) {
	root := t.TempDir()
	blockDir := filepath.Join(root, "1606356963")
	mkdir(t, blockDir)
	touch(t, filepath.Join(blockDir, product.CompleteMarker), "")
	touch(t, filepath.Join(blockDir, "1606356963_sdp_l0.rdb"), "x")
	touch(t, filepath.Join(blockDir, "1606356963_sdp_l0.full.rdb"), "x")
	touch(t, filepath.Join(blockDir, "1606356963_sdp_l1_flags.rdb"), "x")
	touch(t, filepath.Join(blockDir, "1606356963_sdp_l1_flags.full.rdb"), "x")

	candidates := scan(t, root)
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want one per stream", len(candidates))
	}
	if candidates[0].ProductID != "1606356963_sdp_l0" {
		t.Errorf("first candidate %q", candidates[0].ProductID)
	}
	if candidates[1].ProductID != "1606356963_sdp_l1_flags" {
		t.Errorf("second candidate %q", candidates[1].ProductID)
	}
	for _, c := range candidates {
		if len(c.Files) != 2 {
			t.Errorf("%s: got %d files, want the descriptor pair", c.ProductID, len(c.Files))
		}
		if c.Bucket != "1606356963" {
			t.Errorf("%s: bucket %q", c.ProductID, c.Bucket)
		}
	}
}

func TestScanDefersIncompleteDescriptorPair(t *testing.T) {
	root := t.TempDir()
	blockDir := filepath.Join(root, "1606356963")
	mkdir(t, blockDir)
	touch(t, filepath.Join(blockDir, product.CompleteMarker), "")
	// Light dump only; the full dump has not landed yet.
	touch(t, filepath.Join(blockDir, "1606356963_sdp_l0.rdb"), "x")

	if candidates := scan(t, root); len(candidates) != 0 {
		t.Fatalf("half a descriptor pair must not be offered, got %d", len(candidates))
	}
}

func TestScanFiltersNonPayloadFiles(t *testing.T) {
	root := t.TempDir()
	dir := newStreamDir(t, root, "1606356963_sdp_l0", "data0.npy")
	touch(t, filepath.Join(dir, "checksums.txt"), "deadbeef")
	touch(t, filepath.Join(dir, "thumbnail.png"), "png")

	candidates := scan(t, root)
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates", len(candidates))
	}
	if len(candidates[0].Files) != 1 || filepath.Base(candidates[0].Files[0]) != "data0.npy" {
		t.Errorf("stray files staged for upload: %v", candidates[0].Files)
	}
}

func TestScanOffersHalfPairOfResumedTransfer(t *testing.T) {
	root := t.TempDir()
	blockDir := filepath.Join(root, "1606356963")
	mkdir(t, blockDir)
	touch(t, filepath.Join(blockDir, product.CompleteMarker), "")
	// The light dump confirmed on an earlier pass and was deleted locally;
	// only the full dump survived a transient failure.
	touch(t, filepath.Join(blockDir, "1606356963_sdp_l0.full.rdb"), "x")

	cat := catalog.NewMemory()
	created, err := cat.Create(context.Background(), product.NewRecord("1606356963_sdp_l0", ""))
	if err != nil {
		t.Fatal(err)
	}

	// While the record is only CREATED the pair rule still holds.
	if candidates := scanWith(t, root, cat); len(candidates) != 0 {
		t.Fatalf("unstarted half pair must stay deferred, got %d", len(candidates))
	}

	mid := created.Clone()
	mid.TransferStatus = product.StatusTransferring
	if _, err := cat.Update(context.Background(), mid, created.Version); err != nil {
		t.Fatal(err)
	}

	candidates := scanWith(t, root, cat)
	if len(candidates) != 1 {
		t.Fatalf("surviving file of a resumed transfer must be offered, got %d", len(candidates))
	}
	c := candidates[0]
	if c.ProductID != "1606356963_sdp_l0" {
		t.Errorf("product id %q", c.ProductID)
	}
	if len(c.Files) != 1 || filepath.Base(c.Files[0]) != "1606356963_sdp_l0.full.rdb" {
		t.Errorf("files = %v", c.Files)
	}
}

func TestScanIgnoresUnrelatedDirectories(t *testing.T) {
	root := t.TempDir()
	mkdir(t, filepath.Join(root, "lost+found"))
	mkdir(t, filepath.Join(root, product.FailedDirName))
	touch(t, filepath.Join(root, "stray-file"), "")

	if candidates := scan(t, root); len(candidates) != 0 {
		t.Fatalf("got %d candidates", len(candidates))
	}
}
