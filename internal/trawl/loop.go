// Package trawl runs the outer control loop: scan, ingest every ready
// candidate, sleep when idle, suspend while backends are unreachable. The
// loop never exits on recoverable errors; only context cancellation stops it.
package trawl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/radioarchive/trawler/internal/ingest"
	"github.com/radioarchive/trawler/internal/scanner"
	"github.com/radioarchive/trawler/pkg/catalog"
	"github.com/radioarchive/trawler/pkg/config"
	"github.com/radioarchive/trawler/pkg/errors"
	"github.com/radioarchive/trawler/pkg/metrics"
	"github.com/radioarchive/trawler/pkg/objectstore"
	"github.com/radioarchive/trawler/pkg/resilience"
)

// Scanner is the slice of the directory scanner the loop needs.
type Scanner interface {
	Scan(ctx context.Context) ([]scanner.Candidate, error)
}

// Coordinator is the slice of the ingest coordinator the loop needs.
type Coordinator interface {
	Ingest(ctx context.Context, cand scanner.Candidate) (*ingest.Result, error)
}

// Loop is the restartable trawl control loop.
type Loop struct {
	cfg         config.TrawlConfig
	scanner     Scanner
	coordinator Coordinator
	catalog     catalog.Client
	store       objectstore.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger

	idle    resilience.Backoff
	suspend resilience.Backoff

	// sleep is injected so tests drive the loop without wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates the trawl loop. The metrics argument may be nil.
func New(
	cfg config.TrawlConfig,
	sc Scanner,
	co Coordinator,
	cat catalog.Client,
	store objectstore.Store,
	m *metrics.Metrics,
) *Loop {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	return &Loop{
		cfg:         cfg,
		scanner:     sc,
		coordinator: co,
		catalog:     cat,
		store:       store,
		metrics:     m,
		logger:      slog.Default().With("component", "trawl-loop"),
		idle: resilience.Backoff{
			Initial:    cfg.IdleSleep,
			Max:        cfg.IdleSleepMax,
			Multiplier: 1.5,
			Jitter:     0.2,
		},
		suspend: resilience.Backoff{
			Initial:    cfg.RetrySleep,
			Max:        cfg.IdleSleepMax,
			Multiplier: 1.5,
			Jitter:     0.2,
		},
		sleep: sleepWithContext,
	}
}

// Run executes trawl passes until ctx is cancelled. Each pass scans the root
// and ingests ready candidates with bounded concurrency; a connectivity
// failure suspends all ingest until both backends answer again.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("trawl loop starting",
		"root", l.cfg.RootDir,
		"max_in_flight", l.cfg.MaxInFlight,
		"max_transfers", l.cfg.MaxTransfers,
	)
	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("trawl loop stopping")
			return nil
		}

		bytes, err := l.pass(ctx)
		switch {
		case ctx.Err() != nil:
			continue
		case err != nil && errors.IsConnectivity(err):
			if serr := l.waitForConnectivity(ctx, err); serr != nil {
				continue
			}
		case err != nil:
			l.logger.Error("trawl pass failed", "error", err)
			if l.sleep(ctx, l.cfg.RetrySleep) != nil {
				continue
			}
		case bytes == 0:
			delay := l.idle.Next()
			l.logger.Debug("nothing to transfer, idling", "sleep", delay)
			if l.sleep(ctx, delay) != nil {
				continue
			}
		default:
			l.idle.Reset()
		}
	}
}

// pass performs one scan-and-ingest iteration and returns the bytes uploaded.
func (l *Loop) pass(ctx context.Context) (int64, error) {
	candidates, err := l.scanner.Scan(ctx)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	candidates = l.stage(candidates)

	var (
		mu           sync.Mutex
		totalBytes   int64
		failedBlocks = map[string]bool{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MaxInFlight)
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			mu.Lock()
			skip := failedBlocks[cand.BlockID]
			mu.Unlock()
			if skip {
				// A sibling stream of this block already failed; let the
				// next scan see the marker before touching the rest.
				l.logger.Info("skipping candidate, capture block failed this pass",
					"product_id", cand.ProductID, "block", cand.BlockID)
				return nil
			}

			res, err := l.coordinator.Ingest(gctx, cand)
			if err != nil {
				return err
			}
			mu.Lock()
			totalBytes += res.Bytes
			if res.Outcome == ingest.OutcomeFailed {
				failedBlocks[cand.BlockID] = true
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return totalBytes, err
	}
	return totalBytes, nil
}

// stage trims the candidate list so at most MaxTransfers files enter one
// pass. Later candidates get whatever budget is left; a starved candidate
// simply waits for the next pass.
func (l *Loop) stage(candidates []scanner.Candidate) []scanner.Candidate {
	budget := l.cfg.MaxTransfers
	staged := candidates[:0]
	for _, cand := range candidates {
		if budget <= 0 {
			break
		}
		if len(cand.Files) > budget {
			cand.Files = cand.Files[:budget]
		}
		budget -= len(cand.Files)
		staged = append(staged, cand)
	}
	return staged
}

// waitForConnectivity holds the loop while the catalog or object store is
// down, probing both on a jittered interval. Products stay wherever the
// crash left them; the catalog state machine makes resumption safe.
func (l *Loop) waitForConnectivity(ctx context.Context, cause error) error {
	l.logger.Error("backend unreachable, suspending ingest", "error", cause)
	if l.metrics != nil {
		l.metrics.LoopSuspended.Set(1)
		defer l.metrics.LoopSuspended.Set(0)
	}
	defer l.suspend.Reset()

	for {
		if err := l.sleep(ctx, l.suspend.Next()); err != nil {
			return err
		}
		catErr := l.catalog.Ping(ctx)
		storeErr := l.store.Ping(ctx)
		if catErr == nil && storeErr == nil {
			l.logger.Info("connectivity restored, resuming")
			return nil
		}
		l.logger.Warn("still unreachable",
			"catalog_error", catErr,
			"objectstore_error", storeErr,
		)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
