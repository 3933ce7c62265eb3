// Package ingest drives one product through its transfer lifecycle:
// catalog registration, metadata extraction, parallel upload, and the final
// RECEIVED stamp. All state lives in the catalog; the coordinator itself is
// stateless and safe to restart at any step.
package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/radioarchive/trawler/internal/extractor"
	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/internal/scanner"
	"github.com/radioarchive/trawler/internal/uploader"
	"github.com/radioarchive/trawler/pkg/catalog"
	"github.com/radioarchive/trawler/pkg/config"
	"github.com/radioarchive/trawler/pkg/errors"
	"github.com/radioarchive/trawler/pkg/logger"
	"github.com/radioarchive/trawler/pkg/metrics"
)

// Outcome classifies one ingest attempt.
type Outcome string

const (
	// OutcomeReceived: the product reached RECEIVED this attempt.
	OutcomeReceived Outcome = "received"
	// OutcomeFailed: the product reached FAILED; operator action required.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped: the product was already RECEIVED; nothing uploaded.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDeferred: another instance holds the record, or files remain
	// after transient upload errors; retried on a later pass.
	OutcomeDeferred Outcome = "deferred"
)

// Result reports the terminal state of one ingest attempt.
type Result struct {
	Outcome Outcome
	Record  *product.Record
	Bytes   int64
	Reason  string
}

// Uploader is the slice of the upload scheduler the coordinator needs.
type Uploader interface {
	Upload(ctx context.Context, files []string) (*uploader.Result, error)
}

// Coordinator is the per-product ingest state machine.
type Coordinator struct {
	catalog  catalog.Client
	uploader Uploader
	registry *extractor.Registry
	events   EventPublisher
	root     string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Coordinator. events and m may be nil.
func New(
	cfg config.TrawlConfig,
	cat catalog.Client,
	up Uploader,
	reg *extractor.Registry,
	events EventPublisher,
	m *metrics.Metrics,
) *Coordinator {
	return &Coordinator{
		catalog:  cat,
		uploader: up,
		registry: reg,
		events:   events,
		root:     cfg.RootDir,
		metrics:  m,
		logger:   slog.Default().With("component", "ingest"),
	}
}

// Ingest runs the lifecycle for one candidate. A non-nil error means the
// catalog or object store is unreachable and the caller should suspend;
// every product-level failure is absorbed into the Result and the catalog.
func (c *Coordinator) Ingest(ctx context.Context, cand scanner.Candidate) (*Result, error) {
	ctx = logger.WithProduct(ctx, cand.ProductID)
	log := c.logger.With("product_id", cand.ProductID, "bucket", cand.Bucket)

	if c.metrics != nil {
		c.metrics.ProductsInFlight.Inc()
		defer c.metrics.ProductsInFlight.Dec()
	}

	result, err := c.ingest(ctx, log, cand)
	if err != nil {
		if errors.IsConnectivity(err) {
			return nil, errors.Tag(err, cand.Bucket, cand.Dir)
		}
		// Anything non-connectivity is terminal for the product only.
		result = c.fail(ctx, log, cand, err)
	}
	if c.metrics != nil {
		c.metrics.IngestsTotal.WithLabelValues(string(result.Outcome)).Inc()
	}
	return result, nil
}

func (c *Coordinator) ingest(ctx context.Context, log *slog.Logger, cand scanner.Candidate) (*Result, error) {
	rec, err := c.loadOrCreate(ctx, log, cand)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// Lost the creation race; the winner carries this product.
		return &Result{Outcome: OutcomeDeferred, Reason: "record created concurrently"}, nil
	}

	switch rec.TransferStatus {
	case product.StatusReceived:
		// Duplicate trawl hit on a finished product.
		log.Debug("already received, skipping")
		return &Result{Outcome: OutcomeSkipped, Record: rec}, nil
	case product.StatusFailed:
		// The catalog still says FAILED; the marker below keeps the
		// directory out of subsequent scans until an operator clears both.
		c.writeFailedToken(cand, rec.FailureReason)
		return &Result{Outcome: OutcomeFailed, Record: rec, Reason: rec.FailureReason}, nil
	case product.StatusTransferring:
		// Prior crash mid-upload. Destination puts are idempotent per key,
		// so the whole surviving file set is simply re-attempted.
		log.Info("resuming interrupted transfer", "version", rec.Version)
	}

	md, productType, err := c.extract(ctx, cand)
	if err != nil {
		return nil, err
	}

	rec, deferred, err := c.markTransferring(ctx, log, cand, rec, md, productType)
	if err != nil {
		return nil, err
	}
	if deferred != nil {
		return deferred, nil
	}

	up, err := c.uploader.Upload(ctx, cand.Files)
	if err != nil {
		if up != nil && len(up.URLs) > 0 {
			log.Warn("batch aborted with partial uploads", "confirmed", len(up.URLs))
		}
		return nil, err
	}
	if len(up.Remaining) > 0 {
		// Transient failures: stay TRANSFERRING, keep the survivors on
		// disk and let the next pass retry just those. The confirmed
		// destinations are persisted now; their local copies are gone.
		log.Warn("transient upload failures, deferring",
			"remaining", len(up.Remaining),
			"confirmed", len(up.URLs),
		)
		if len(up.URLs) > 0 {
			_, conflicted, err := c.saveUploads(ctx, log, rec, up, false)
			if err != nil {
				return nil, err
			}
			if conflicted != nil {
				conflicted.Bytes = up.Bytes
				return conflicted, nil
			}
		}
		return &Result{
			Outcome: OutcomeDeferred,
			Record:  rec,
			Bytes:   up.Bytes,
			Reason:  fmt.Sprintf("%d files pending retry", len(up.Remaining)),
		}, nil
	}

	rec, conflicted, err := c.saveUploads(ctx, log, rec, up, true)
	if err != nil {
		return nil, err
	}
	if conflicted != nil {
		return conflicted, nil
	}

	log.Info("product received", "files", len(up.URLs), "bytes", up.Bytes)
	c.publishTransition(ctx, rec.ID, product.StatusTransferring, product.StatusReceived, "", up.Bytes)
	return &Result{Outcome: OutcomeReceived, Record: rec, Bytes: up.Bytes}, nil
}

// loadOrCreate reads the catalog record, creating it when the product is new.
// A nil record with nil error means another instance won the creation race.
func (c *Coordinator) loadOrCreate(ctx context.Context, log *slog.Logger, cand scanner.Candidate) (*product.Record, error) {
	rec, err := c.catalog.Get(ctx, cand.ProductID)
	if err == nil {
		return rec, nil
	}
	if !stderrors.Is(err, errors.ErrProductNotFound) {
		return nil, fmt.Errorf("reading catalog record: %w", err)
	}

	created, err := c.catalog.Create(ctx, product.NewRecord(cand.ProductID, ""))
	if err != nil {
		if stderrors.Is(err, errors.ErrProductExists) {
			c.countWrite("create", "conflict")
			return nil, nil
		}
		c.countWrite("create", "error")
		return nil, fmt.Errorf("creating catalog record: %w", err)
	}
	c.countWrite("create", "ok")
	log.Info("product registered", "version", created.Version)
	c.publishTransition(ctx, created.ID, product.StatusUnknown, product.StatusCreated, "", 0)
	return created, nil
}

// extract runs metadata extraction on the candidate's descriptor. No catalog
// lease is held here; extraction may read gigabyte-scale headers.
func (c *Coordinator) extract(ctx context.Context, cand scanner.Candidate) (product.Metadata, string, error) {
	descriptor := descriptorOf(cand.Files)
	ext, err := c.registry.Detect(descriptor)
	if err != nil {
		return nil, "", err
	}
	md, err := ext.Extract(ctx)
	if err != nil {
		return nil, "", err
	}
	return md, ext.ProductType(), nil
}

// markTransferring writes the TRANSFERRING transition together with the
// extracted metadata and the original file references in one version-checked
// update. A conflict means another coordinator holds the product.
func (c *Coordinator) markTransferring(
	ctx context.Context,
	log *slog.Logger,
	cand scanner.Candidate,
	rec *product.Record,
	md product.Metadata,
	productType string,
) (*product.Record, *Result, error) {
	next := rec.Clone()
	next.TransferStatus = product.StatusTransferring
	next.ProductType = productType
	next.FailureReason = ""
	next.Metadata.Merge(md)

	// Union this pass's files with refs recorded by earlier passes: a file
	// confirmed and deleted back then must survive in the record. Stored
	// sizes and mime types are reused for files no longer on disk.
	type refInfo struct {
		size int64
		mime string
	}
	known := make(map[string]refInfo, len(cand.Files)+len(rec.RefOriginal))
	for i, ref := range rec.RefOriginal {
		if i == 0 && len(rec.RefMimeTypes) > 0 && rec.RefMimeTypes[0] == "inode/directory" {
			// prior anchor entry, re-derived below
			continue
		}
		info := refInfo{}
		if i < len(rec.RefSizes) {
			info.size = rec.RefSizes[i]
		}
		if i < len(rec.RefMimeTypes) {
			info.mime = rec.RefMimeTypes[i]
		}
		known[strings.TrimPrefix(ref, "file://")] = info
	}
	for _, f := range cand.Files {
		known[f] = refInfo{size: sizeOf(f), mime: mimeOf(f)}
	}
	paths := make([]string, 0, len(known))
	for p := range known {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	refs := make([]string, 0, len(paths)+1)
	sizes := make([]int64, 0, len(paths)+1)
	mimes := make([]string, 0, len(paths)+1)
	if anchor := product.CommonPathAnchor(paths); anchor != "" {
		refs = append(refs, product.FileURL(anchor))
		sizes = append(sizes, 0)
		mimes = append(mimes, "inode/directory")
	}
	for _, p := range paths {
		refs = append(refs, product.FileURL(p))
		sizes = append(sizes, known[p].size)
		mimes = append(mimes, known[p].mime)
	}
	next.RefOriginal = refs
	next.RefSizes = sizes
	next.RefMimeTypes = mimes
	next.Structure = product.StructureFor(paths)

	updated, err := c.catalog.Update(ctx, next, rec.Version)
	if err != nil {
		if stderrors.Is(err, errors.ErrVersionConflict) {
			c.countWrite("update", "conflict")
			log.Info("version conflict on transferring write, backing off")
			return nil, &Result{Outcome: OutcomeDeferred, Reason: "catalog version conflict"}, nil
		}
		c.countWrite("update", "error")
		return nil, nil, fmt.Errorf("writing transferring state: %w", err)
	}
	c.countWrite("update", "ok")
	c.publishTransition(ctx, rec.ID, rec.TransferStatus, product.StatusTransferring, "", 0)
	return updated, nil, nil
}

// saveUploads records the destination URLs confirmed this pass, merged with
// those of earlier passes, and stamps the terminal RECEIVED state once the
// batch left nothing behind.
func (c *Coordinator) saveUploads(ctx context.Context, log *slog.Logger, rec *product.Record, up *uploader.Result, final bool) (*product.Record, *Result, error) {
	next := rec.Clone()
	next.RefDatastore = product.UnionRefs(rec.RefDatastore, up.URLs)
	if final {
		next.TransferStatus = product.StatusReceived
		next.ReceivedTime = time.Now().UTC()
	}

	updated, err := c.catalog.Update(ctx, next, rec.Version)
	if err != nil {
		if stderrors.Is(err, errors.ErrVersionConflict) {
			c.countWrite("update", "conflict")
			log.Warn("version conflict on upload write; uploads confirmed, record retried next pass")
			return nil, &Result{Outcome: OutcomeDeferred, Reason: "catalog version conflict"}, nil
		}
		c.countWrite("update", "error")
		return nil, nil, fmt.Errorf("writing destination refs: %w", err)
	}
	c.countWrite("update", "ok")
	return updated, nil, nil
}

// fail converts a product-level error into the FAILED terminal state: the
// catalog record carries the reason and a failed token lands in the source
// directory so the next scan relocates it.
func (c *Coordinator) fail(ctx context.Context, log *slog.Logger, cand scanner.Candidate, cause error) *Result {
	cause = errors.Tag(cause, cand.Bucket, cand.Dir)
	reason := cause.Error()
	log.Error("ingest failed", "error", cause)

	rec, err := c.catalog.Get(ctx, cand.ProductID)
	if err == nil && rec.TransferStatus.CanTransitionTo(product.StatusFailed) {
		next := rec.Clone()
		next.TransferStatus = product.StatusFailed
		next.FailureReason = reason
		if _, uerr := c.catalog.Update(ctx, next, rec.Version); uerr != nil {
			c.countWrite("update", "error")
			log.Warn("could not record failure in catalog", "error", uerr)
		} else {
			c.countWrite("update", "ok")
			c.publishTransition(ctx, rec.ID, rec.TransferStatus, product.StatusFailed, reason, 0)
		}
	}

	c.writeFailedToken(cand, reason)
	return &Result{Outcome: OutcomeFailed, Reason: reason}
}

// writeFailedToken drops the failed marker with the error text into the
// product's source bucket. An existing token is preserved; the first failure
// is the one worth reading.
func (c *Coordinator) writeFailedToken(cand scanner.Candidate, reason string) {
	path := filepath.Join(c.root, cand.Bucket, product.FailedMarker)
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := os.WriteFile(path, []byte(reason), 0o644); err != nil {
		c.logger.Error("could not write failed token", "path", path, "error", err)
	}
}

func (c *Coordinator) countWrite(op, status string) {
	if c.metrics != nil {
		c.metrics.CatalogWritesTotal.WithLabelValues(op, status).Inc()
	}
}

// descriptorOf picks the primary descriptor from the staged files: the light
// stream dump when present, otherwise the first file.
func descriptorOf(files []string) string {
	if len(files) == 0 {
		return ""
	}
	for _, f := range files {
		if strings.HasSuffix(f, ".rdb") && !strings.HasSuffix(f, ".full.rdb") {
			return f
		}
	}
	return files[0]
}

func sizeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func mimeOf(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
