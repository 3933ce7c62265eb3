package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	pkgerrors "github.com/radioarchive/trawler/pkg/errors"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func rdbPayload() []byte {
	return []byte("REDIS0009\x00some-telstate-payload")
}

func TestDetectVisibilityStream(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"1606356963_sdp_l0.rdb",
		"1606356963_sdp_l0.full.rdb",
		"1606356963_sdp_l0_continuum.rdb",
	} {
		path := writeFile(t, dir, name, rdbPayload())
		ext, err := DefaultRegistry().Detect(path)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if ext.ProductType() != "VisibilityStreamProduct" {
			t.Errorf("%s: got product type %q", name, ext.ProductType())
		}
	}
}

func TestDetectFlagStream(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "1606356963_sdp_l1_flags.rdb", rdbPayload())
	ext, err := DefaultRegistry().Detect(path)
	if err != nil {
		t.Fatal(err)
	}
	if ext.ProductType() != "FlagStreamProduct" {
		t.Errorf("got product type %q", ext.ProductType())
	}
}

func TestDetectGenericFallback(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", []byte("hello"))
	ext, err := DefaultRegistry().Detect(path)
	if err != nil {
		t.Fatal(err)
	}
	if ext.ProductType() != "GenericFileProduct" {
		t.Errorf("got product type %q", ext.ProductType())
	}
}

func TestDetectMissingFile(t *testing.T) {
	_, err := DefaultRegistry().Detect(filepath.Join(t.TempDir(), "absent.rdb"))
	if !errors.Is(err, pkgerrors.ErrUnsupportedProduct) {
		t.Fatalf("got %v, want ErrUnsupportedProduct", err)
	}
}

func TestExtractStreamMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "1606356963_sdp_l0.rdb", rdbPayload())
	ext, err := DefaultRegistry().Detect(path)
	if err != nil {
		t.Fatal(err)
	}
	md, err := ext.Extract(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := md.First("CaptureBlockId"); got != "1606356963" {
		t.Errorf("CaptureBlockId = %q", got)
	}
	if got := md.First("StreamId"); got != "sdp_l0" {
		t.Errorf("StreamId = %q", got)
	}
	if got := md.First("ProductName"); got != "1606356963_sdp_l0" {
		t.Errorf("ProductName = %q", got)
	}
	if md.First("FileSize") == "" {
		t.Error("FileSize missing")
	}
}

func TestExtractCorruptHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "1606356963_sdp_l0.rdb", []byte("not a dump"))
	ext, err := DefaultRegistry().Detect(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ext.Extract(context.Background()); !errors.Is(err, pkgerrors.ErrExtraction) {
		t.Fatalf("got %v, want ErrExtraction", err)
	}
}

func TestExtractTruncatedDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "1606356963_sdp_l0.rdb", []byte("RE"))
	ext, err := DefaultRegistry().Detect(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ext.Extract(context.Background()); !errors.Is(err, pkgerrors.ErrExtraction) {
		t.Fatalf("got %v, want ErrExtraction", err)
	}
}
