package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/config"
	"github.com/radioarchive/trawler/pkg/metrics"
)

// Cached fronts a catalog Client with a Redis read-through cache for
// terminal records. Duplicate trawl hits on an already-RECEIVED product are
// the common case on a busy trawl root; serving them from Redis spares the
// catalog a query per pass. Non-terminal records are never cached, since
// their version token changes with every write.
type Cached struct {
	inner   Client
	rdb     *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCached creates the cache layer and verifies the Redis connection with a
// PING. The metrics argument may be nil.
func NewCached(inner Client, cfg config.RedisConfig, m *metrics.Metrics) (*Cached, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Cached{
		inner:   inner,
		rdb:     rdb,
		ttl:     cfg.CacheTTL,
		metrics: m,
		logger:  slog.Default().With("component", "catalog-cache"),
	}, nil
}

func cacheKey(id string) string {
	return "catalog:" + id
}

func (c *Cached) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

func (c *Cached) Get(ctx context.Context, id string) (*product.Record, error) {
	if data, err := c.rdb.Get(ctx, cacheKey(id)).Bytes(); err == nil {
		var rec product.Record
		if err := json.Unmarshal(data, &rec); err == nil {
			if c.metrics != nil {
				c.metrics.CacheHitsTotal.Inc()
			}
			return &rec, nil
		}
		// Corrupt entry; drop it and fall through to the catalog.
		c.rdb.Del(ctx, cacheKey(id))
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}

	rec, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.maybeCache(ctx, rec)
	return rec, nil
}

func (c *Cached) Create(ctx context.Context, rec *product.Record) (*product.Record, error) {
	out, err := c.inner.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	c.rdb.Del(ctx, cacheKey(rec.ID))
	return out, nil
}

func (c *Cached) Update(ctx context.Context, rec *product.Record, expectedVersion int64) (*product.Record, error) {
	out, err := c.inner.Update(ctx, rec, expectedVersion)
	if err != nil {
		return nil, err
	}
	c.rdb.Del(ctx, cacheKey(rec.ID))
	c.maybeCache(ctx, out)
	return out, nil
}

func (c *Cached) maybeCache(ctx context.Context, rec *product.Record) {
	if !rec.TransferStatus.Terminal() {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(rec.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache terminal record", "product_id", rec.ID, "error", err)
	}
}

// Close releases the Redis connection.
func (c *Cached) Close() error {
	return c.rdb.Close()
}
