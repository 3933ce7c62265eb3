package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/errors"
)

// Stream descriptors are Redis dump files; a readable descriptor starts with
// this magic. Anything else is a truncated or corrupt capture.
const rdbMagic = "REDIS"

var (
	visibilityNameRe = regexp.MustCompile(`^[0-9]{10}[-_]sdp[-_](l0$|l0[-_]continuum$)`)
	flagNameRe       = regexp.MustCompile(`^[0-9]{10}[-_]sdp[-_](l1[-_]flags$|l1[-_]flags[-_]continuum$)`)
)

// VisibilityVariant detects correlator visibility stream descriptors
// (<block>_sdp_l0*.rdb).
func VisibilityVariant() Variant {
	return Variant{
		Name:        "visibility-stream",
		ProductType: "VisibilityStreamProduct",
		Detect:      func(path string) bool { return matchesStreamName(path, visibilityNameRe) },
		New: func(path string) Extractor {
			return &streamExtractor{path: path, productType: "VisibilityStreamProduct"}
		},
	}
}

// FlagVariant detects flag stream descriptors (<block>_sdp_l1_flags*.rdb).
func FlagVariant() Variant {
	return Variant{
		Name:        "flag-stream",
		ProductType: "FlagStreamProduct",
		Detect:      func(path string) bool { return matchesStreamName(path, flagNameRe) },
		New: func(path string) Extractor {
			return &streamExtractor{path: path, productType: "FlagStreamProduct"}
		},
	}
}

// matchesStreamName applies re to the descriptor basename with the .rdb
// suffixes stripped. Only .rdb descriptors qualify; the paired .full.rdb dump
// carries the same name and matches the same variant.
func matchesStreamName(path string, re *regexp.Regexp) bool {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".rdb") {
		return false
	}
	base = strings.TrimSuffix(base, ".rdb")
	base = strings.TrimSuffix(base, ".full")
	return re.MatchString(base)
}

// streamExtractor reads a stream descriptor and emits the catalog metadata
// for one capture stream.
type streamExtractor struct {
	path        string
	productType string
}

func (e *streamExtractor) ProductType() string {
	return e.productType
}

func (e *streamExtractor) Extract(ctx context.Context) (product.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(e.path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", errors.ErrExtraction, e.path, err)
	}
	if err := checkRDBHeader(e.path); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(e.path), ".rdb")
	base = strings.TrimSuffix(base, ".full")
	id := product.IDFromDirName(base)
	blockID, streamID := splitStreamID(id)

	md := make(product.Metadata)
	_ = md.Set("ProductTypeName", e.productType)
	_ = md.Set("ProductName", id)
	_ = md.Set("CaptureBlockId", blockID)
	if streamID != "" {
		_ = md.Set("StreamId", streamID)
	}
	_ = md.Set("FileSize", strconv.FormatInt(info.Size(), 10))
	_ = md.Set("FileModTime", info.ModTime().UTC().Format("2006-01-02 15:04:05"))
	return md, nil
}

// checkRDBHeader rejects descriptors that are not Redis dump files. Captures
// interrupted mid-write leave a zero-length or garbage .rdb behind and must
// fail the product rather than register bogus metadata.
func checkRDBHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", errors.ErrExtraction, path, err)
	}
	defer f.Close()

	magic := make([]byte, len(rdbMagic))
	if _, err := f.Read(magic); err != nil {
		return fmt.Errorf("%w: %s: short read on header: %v", errors.ErrExtraction, path, err)
	}
	if string(magic) != rdbMagic {
		return fmt.Errorf("%w: %s is not a redis dump file", errors.ErrExtraction, path)
	}
	return nil
}

// splitStreamID splits a normalised product id into its capture block id and
// stream suffix, e.g. "1556112345_sdp_l0" -> ("1556112345", "sdp_l0").
func splitStreamID(id string) (blockID, streamID string) {
	if len(id) <= 10 {
		return id, ""
	}
	return id[:10], strings.TrimLeft(id[10:], "_")
}
