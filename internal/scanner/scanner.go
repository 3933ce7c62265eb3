// Package scanner discovers ingest candidates under the trawl root. It
// classifies top-level directories into capture blocks and capture streams,
// applies the marker-file protocol (complete / failed / .writing.) and
// returns one candidate per product, not per directory.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/catalog"
	"github.com/radioarchive/trawler/pkg/config"
	"github.com/radioarchive/trawler/pkg/metrics"
)

// Candidate is a transient view of one product ready for ingest. It is never
// persisted; the catalog record is rebuilt from it on every pass.
type Candidate struct {
	// ProductID is the stable catalog id, derived from the directory or
	// file-prefix name with separators normalised.
	ProductID string

	// BlockID is the ten-digit capture block id this product belongs to.
	BlockID string

	// Kind says whether the candidate came from a capture-block or a
	// capture-stream directory.
	Kind product.Kind

	// Dir is the absolute path of the candidate's directory.
	Dir string

	// Bucket is the top-level directory name under the trawl root, used as
	// the destination bucket and as the failure-marker anchor.
	Bucket string

	// Files are the absolute paths staged for this product, sorted.
	Files []string
}

// Scanner walks the trawl root and produces ready candidates.
type Scanner struct {
	root        string
	walkTimeout time.Duration
	catalog     catalog.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Scanner for the configured trawl root. The catalog is
// consulted to recognise resumed transfers whose files are partially gone;
// it and the metrics argument may be nil.
func New(cfg config.TrawlConfig, cat catalog.Client, m *metrics.Metrics) *Scanner {
	return &Scanner{
		root:        cfg.RootDir,
		walkTimeout: cfg.WalkTimeout,
		catalog:     cat,
		metrics:     m,
		logger:      slog.Default().With("component", "scanner"),
	}
}

// Scan lists the trawl root and returns the candidates that are complete and
// unfailed this pass. Directories carrying a failed marker are relocated to
// the sibling failed/ directory as a side effect; fully transferred
// directories are deleted.
func (s *Scanner) Scan(ctx context.Context) ([]Candidate, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ScanDuration.Observe(time.Since(start).Seconds())
		}
	}()

	blocks, streams, err := s.classify()
	if err != nil {
		return nil, err
	}

	// A capture block stays out of the pass while any of its stream
	// directories still exists: per-stream ingest must finish before the
	// block-level descriptors move.
	eligible := blocks[:0]
	for _, block := range blocks {
		if hasStreamFor(block, streams) {
			s.logger.Debug("capture block deferred, streams unconsolidated", "block", block)
			continue
		}
		eligible = append(eligible, block)
	}

	var candidates []Candidate
	for _, name := range streams {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cs, err := s.inspect(ctx, name, product.KindCaptureStream)
		if err != nil {
			s.logger.Warn("skipping stream directory", "dir", name, "error", err)
			continue
		}
		candidates = append(candidates, cs...)
	}
	for _, name := range eligible {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cs, err := s.inspect(ctx, name, product.KindCaptureBlock)
		if err != nil {
			s.logger.Warn("skipping block directory", "dir", name, "error", err)
			continue
		}
		candidates = append(candidates, cs...)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ProductID < candidates[j].ProductID
	})
	if s.metrics != nil {
		s.metrics.CandidatesReady.Set(float64(len(candidates)))
	}
	return candidates, nil
}

// classify splits the root's immediate subdirectories into capture blocks and
// capture streams, both sorted. The failed/ relocation directory never
// matches either pattern.
func (s *Scanner) classify() (blocks, streams []string, err error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, nil, fmt.Errorf("listing trawl root %s: %w", s.root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		switch {
		case product.IsCaptureBlock(e.Name()):
			blocks = append(blocks, e.Name())
		case product.IsCaptureStream(e.Name()):
			streams = append(streams, e.Name())
		}
	}
	sort.Strings(blocks)
	sort.Strings(streams)
	return blocks, streams, nil
}

func hasStreamFor(block string, streams []string) bool {
	for _, s := range streams {
		if strings.HasPrefix(s, block) {
			return true
		}
	}
	return false
}

// inspect walks one candidate directory and returns its ready products.
// Stream directories yield at most one candidate; block directories may hold
// descriptor files for several streams and yield one candidate per file
// prefix.
func (s *Scanner) inspect(ctx context.Context, name string, kind product.Kind) ([]Candidate, error) {
	dir := filepath.Join(s.root, name)

	if fileExists(filepath.Join(dir, product.FailedMarker)) {
		if err := s.relocateFailed(dir); err != nil {
			return nil, err
		}
		return nil, nil
	}

	files, complete, err := s.walk(dir)
	if err != nil {
		return nil, err
	}
	if complete && len(files) == 0 {
		// Everything already uploaded and deleted; the directory has
		// served its purpose.
		s.logger.Info("transfer complete, removing directory", "dir", dir)
		return nil, os.RemoveAll(dir)
	}
	if !complete || len(files) == 0 {
		return nil, nil
	}

	if kind == product.KindCaptureStream {
		id := product.IDFromDirName(name)
		return []Candidate{{
			ProductID: id,
			BlockID:   blockIDOf(name),
			Kind:      kind,
			Dir:       dir,
			Bucket:    name,
			Files:     files,
		}}, nil
	}
	return s.groupBlockFiles(ctx, name, dir, files), nil
}

// walk collects the candidate's payload files, skipping marker files and
// anything still carrying the writing infix. The walk is bounded by the
// configured wall-clock budget so one pathological directory cannot stall
// the whole pass; a truncated listing only means those files wait for the
// next pass.
func (s *Scanner) walk(dir string) (files []string, complete bool, err error) {
	deadline := time.Now().Add(s.walkTimeout)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() {
			if time.Now().After(deadline) {
				s.logger.Warn("walk budget exhausted, truncating listing", "dir", dir)
				return filepath.SkipAll
			}
			return nil
		}
		switch {
		case d.Name() == product.CompleteMarker:
			complete = true
		case d.Name() == product.FailedMarker:
			// handled before the walk; ignore here
		case strings.Contains(d.Name(), product.WritingInfix):
			// still being produced
		case !product.IsPayloadFile(d.Name()):
			// stray non-product file; never staged for upload
		default:
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, complete, nil
}

// groupBlockFiles splits a capture block's files into per-stream products by
// their filename prefix. A stream's descriptor pair must be complete (both
// the light and the full dump) before it is offered for ingest.
func (s *Scanner) groupBlockFiles(ctx context.Context, name, dir string, files []string) []Candidate {
	groups := make(map[string][]string)
	for _, f := range files {
		prefix, ok := product.StreamPrefix(f)
		if !ok {
			s.logger.Debug("file matches no stream prefix, leaving in place", "file", f)
			continue
		}
		groups[prefix] = append(groups[prefix], f)
	}

	prefixes := make([]string, 0, len(groups))
	for p := range groups {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	var out []Candidate
	for _, prefix := range prefixes {
		group := groups[prefix]
		id := product.IDFromDirName(filepath.Base(prefix))
		if !hasDescriptorPair(prefix, group) && !s.transferStarted(ctx, id) {
			s.logger.Debug("descriptor pair incomplete, deferring", "prefix", prefix)
			continue
		}
		out = append(out, Candidate{
			ProductID: id,
			BlockID:   name,
			Kind:      product.KindCaptureBlock,
			Dir:       dir,
			Bucket:    name,
			Files:     group,
		})
	}
	return out
}

// transferStarted reports whether the catalog already holds this product in
// TRANSFERRING. A half-present descriptor pair is then a resumed transfer
// whose confirmed sibling was already deleted locally, not an unconsolidated
// product, and the survivors must be offered again.
func (s *Scanner) transferStarted(ctx context.Context, id string) bool {
	if s.catalog == nil {
		return false
	}
	rec, err := s.catalog.Get(ctx, id)
	return err == nil && rec.TransferStatus == product.StatusTransferring
}

// hasDescriptorPair reports whether both <prefix>.rdb and <prefix>.full.rdb
// are present. The producer writes the light dump first; transferring it
// without its full counterpart would register a half product.
func hasDescriptorPair(prefix string, files []string) bool {
	var lite, full bool
	for _, f := range files {
		switch f {
		case prefix + ".rdb":
			lite = true
		case prefix + ".full.rdb":
			full = true
		}
	}
	return lite && full
}

// relocateFailed moves a failed candidate under <root>/failed/ so later
// passes skip it. Clearing the marker and moving the directory back is an
// operator action.
func (s *Scanner) relocateFailed(dir string) error {
	failedRoot := filepath.Join(s.root, product.FailedDirName)
	if err := os.MkdirAll(failedRoot, 0o755); err != nil {
		return fmt.Errorf("creating failed directory: %w", err)
	}
	dest := filepath.Join(failedRoot, filepath.Base(dir))
	s.logger.Warn("failed marker present, relocating", "dir", dir, "dest", dest)
	if err := os.Rename(dir, dest); err != nil {
		return fmt.Errorf("relocating failed product %s: %w", dir, err)
	}
	return nil
}

func blockIDOf(name string) string {
	if len(name) >= 10 {
		return name[:10]
	}
	return name
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
