// Package uploader moves staged product files into the object store with a
// bounded worker pool. Each file is uploaded exactly once per pass and
// deleted locally only after the store confirms a byte-identical transfer.
package uploader

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/config"
	"github.com/radioarchive/trawler/pkg/errors"
	"github.com/radioarchive/trawler/pkg/metrics"
	"github.com/radioarchive/trawler/pkg/objectstore"
)

// Result aggregates one upload batch. URLs lists the destination of every
// confirmed file; Remaining lists files still on disk after transient
// failures, to be retried on a later pass.
type Result struct {
	URLs      []string
	Bytes     int64
	Remaining []string
}

// Scheduler partitions file batches across upload workers.
type Scheduler struct {
	store      objectstore.Store
	root       string
	multiplier int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a Scheduler uploading out of the configured trawl root. The
// metrics argument may be nil.
func New(cfg config.TrawlConfig, store objectstore.Store, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		store:      store,
		root:       cfg.RootDir,
		multiplier: cfg.WorkerMultiplier,
		metrics:    m,
		logger:     slog.Default().With("component", "uploader"),
	}
}

// Upload transfers files and returns the batch result. A fatal error (bad
// credentials, unreachable store) aborts the batch and is returned alongside
// the partial result; transient per-file failures only land in
// Result.Remaining. Destination bucket and key derive from each file's path
// relative to the trawl root.
func (s *Scheduler) Upload(ctx context.Context, files []string) (*Result, error) {
	if len(files) == 0 {
		return &Result{}, nil
	}

	workers := s.multiplier * runtime.NumCPU()
	if len(files) < workers {
		workers = len(files)
	}
	s.logger.Debug("starting upload batch", "files", len(files), "workers", workers)

	// Round-robin partitioning; files are sorted so each worker walks one
	// bucket's keys mostly in order and re-ensures buckets rarely.
	partitions := make([][]string, workers)
	for i, f := range files {
		partitions[i%workers] = append(partitions[i%workers], f)
	}

	start := time.Now()
	results := make([]Result, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := range partitions {
		w := w
		g.Go(func() error {
			return s.runWorker(gctx, partitions[w], &results[w])
		})
	}
	err := g.Wait()

	out := &Result{}
	for _, r := range results {
		out.URLs = append(out.URLs, r.URLs...)
		out.Remaining = append(out.Remaining, r.Remaining...)
		out.Bytes += r.Bytes
	}
	sort.Strings(out.URLs)
	sort.Strings(out.Remaining)

	elapsed := time.Since(start)
	mb := float64(out.Bytes) / 1e6
	s.logger.Info("upload batch finished",
		"files_confirmed", len(out.URLs),
		"files_remaining", len(out.Remaining),
		"megabytes", fmt.Sprintf("%.1f", mb),
		"mb_per_second", fmt.Sprintf("%.1f", mb/elapsed.Seconds()),
	)
	return out, err
}

// runWorker uploads its partition sequentially. Transient failures are
// recorded and skipped; fatal failures abort the whole group.
func (s *Scheduler) runWorker(ctx context.Context, files []string, result *Result) error {
	currentBucket := ""
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			result.Remaining = append(result.Remaining, file)
			continue
		}
		bucket, key, err := s.destinationFor(file)
		if err != nil {
			return &errors.UploadError{Path: file, Fatal: true, Err: err}
		}
		if bucket != currentBucket {
			if err := s.store.EnsureBucket(ctx, bucket); err != nil {
				return &errors.UploadError{Path: file, Fatal: true, Err: err}
			}
			currentBucket = bucket
		}

		if err := s.transferOne(ctx, bucket, key, file, result); err != nil {
			return err
		}
	}
	return nil
}

// transferOne uploads a single file, verifies the reported size against the
// local file, and deletes the local copy on a confirmed match. A size
// mismatch leaves the file in place for the next pass.
func (s *Scheduler) transferOne(ctx context.Context, bucket, key, file string, result *Result) error {
	info, err := os.Stat(file)
	if err != nil {
		// Another pass may have confirmed and deleted it already.
		s.logger.Warn("staged file vanished", "file", file, "error", err)
		return nil
	}

	written, err := s.store.Put(ctx, bucket, key, file)
	if err != nil {
		if stderrors.Is(err, errors.ErrAccessDenied) || errors.IsConnectivity(err) {
			s.countFailure("fatal")
			return &errors.UploadError{Path: file, Fatal: true, Err: err}
		}
		s.countFailure("transient")
		s.logger.Warn("upload failed, will retry next pass", "file", file, "error", err)
		result.Remaining = append(result.Remaining, file)
		return nil
	}
	if written != info.Size() {
		s.countFailure("transient")
		s.logger.Error("size mismatch, local copy kept",
			"file", file,
			"uploaded_bytes", written,
			"local_bytes", info.Size(),
		)
		result.Remaining = append(result.Remaining, file)
		return nil
	}

	if err := os.Remove(file); err != nil {
		return &errors.UploadError{Path: file, Fatal: true,
			Err: fmt.Errorf("deleting confirmed local copy: %w", err)}
	}
	result.URLs = append(result.URLs, product.DatastoreURL(bucket, key))
	result.Bytes += written
	if s.metrics != nil {
		s.metrics.FilesUploadedTotal.Inc()
		s.metrics.BytesUploadedTotal.Add(float64(written))
	}
	return nil
}

// destinationFor maps a staged file to its bucket and key: the first path
// element under the trawl root, translated to an S3-safe name, is the
// bucket; the rest is the key.
func (s *Scheduler) destinationFor(file string) (bucket, key string, err error) {
	rel, err := filepath.Rel(s.root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", fmt.Errorf("file %s is outside the trawl root %s", file, s.root)
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("file %s sits directly in the trawl root", file)
	}
	return product.BucketName(parts[0]), parts[1], nil
}

func (s *Scheduler) countFailure(kind string) {
	if s.metrics != nil {
		s.metrics.UploadFailuresTotal.WithLabelValues(kind).Inc()
	}
}
