package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radioarchive/trawler/internal/extractor"
	"github.com/radioarchive/trawler/internal/ingest"
	"github.com/radioarchive/trawler/internal/scanner"
	"github.com/radioarchive/trawler/internal/trawl"
	"github.com/radioarchive/trawler/internal/uploader"
	"github.com/radioarchive/trawler/pkg/catalog"
	"github.com/radioarchive/trawler/pkg/config"
	"github.com/radioarchive/trawler/pkg/health"
	"github.com/radioarchive/trawler/pkg/kafka"
	"github.com/radioarchive/trawler/pkg/logger"
	"github.com/radioarchive/trawler/pkg/metrics"
	"github.com/radioarchive/trawler/pkg/objectstore"
	"github.com/radioarchive/trawler/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting trawler", "root", cfg.Trawl.RootDir)

	m := metrics.New()

	pg, err := postgres.New(cfg.Catalog)
	if err != nil {
		slog.Error("failed to connect to catalog database", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	var cat catalog.Client
	cat, err = catalog.NewPostgres(pg)
	if err != nil {
		slog.Error("failed to initialise catalog", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.Enabled {
		cached, err := catalog.NewCached(cat, cfg.Redis, m)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer cached.Close()
		cat = cached
	}

	store, err := objectstore.NewMinio(cfg.ObjectStore)
	if err != nil {
		slog.Error("failed to create object store client", "error", err)
		os.Exit(1)
	}

	var events ingest.EventPublisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TransferEvents)
		defer producer.Close()
		events = producer
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownWith(shutdown)
	}
	if cfg.Health.Enabled {
		checker := health.NewChecker()
		checker.Register("catalog", health.PingCheck(cat.Ping))
		checker.Register("objectstore", health.PingCheck(store.Ping))
		shutdown := checker.StartServer(cfg.Health.Port)
		defer shutdownWith(shutdown)
	}

	sc := scanner.New(cfg.Trawl, cat, m)
	up := uploader.New(cfg.Trawl, store, m)
	co := ingest.New(cfg.Trawl, cat, up, extractor.DefaultRegistry(), events, m)
	loop := trawl.New(cfg.Trawl, sc, co, cat, store, m)

	slog.Info("trawler ready",
		"object_store", cfg.ObjectStore.Endpoint,
		"catalog", fmt.Sprintf("%s:%d/%s", cfg.Catalog.Host, cfg.Catalog.Port, cfg.Catalog.Database),
	)
	if err := loop.Run(ctx); err != nil {
		slog.Error("trawl loop error", "error", err)
	}
	slog.Info("trawler stopped")
}

func shutdownWith(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("server shutdown error", "error", err)
	}
}
