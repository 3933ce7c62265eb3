package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/errors"
	"github.com/radioarchive/trawler/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	product_type    TEXT NOT NULL,
	transfer_status TEXT NOT NULL,
	received_time   TIMESTAMPTZ,
	structure       TEXT NOT NULL DEFAULT '',
	ref_original    JSONB NOT NULL DEFAULT '[]',
	ref_sizes       JSONB NOT NULL DEFAULT '[]',
	ref_mime_types  JSONB NOT NULL DEFAULT '[]',
	ref_datastore   JSONB NOT NULL DEFAULT '[]',
	failure_reason  TEXT NOT NULL DEFAULT '',
	metadata        JSONB NOT NULL DEFAULT '{}',
	version         BIGINT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_products_status ON products (transfer_status);
`

// Postgres is the system-of-record catalog implementation. The version
// column enforces optimistic concurrency: updates only apply when the caller
// presents the current version, and every successful write bumps it.
type Postgres struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewPostgres connects to the catalog database and ensures the schema.
func NewPostgres(client *postgres.Client) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensuring catalog schema: %w", classify(err))
	}
	return &Postgres{
		client: client,
		logger: slog.Default().With("component", "catalog"),
	}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.client.DB.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*product.Record, error) {
	row := p.client.DB.QueryRowContext(ctx, `
		SELECT id, name, product_type, transfer_status, received_time, structure,
		       ref_original, ref_sizes, ref_mime_types, ref_datastore,
		       failure_reason, metadata, version
		FROM products WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %s: %w", id, errors.ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading product %s: %w", id, classify(err))
	}
	return rec, nil
}

func (p *Postgres) Create(ctx context.Context, rec *product.Record) (*product.Record, error) {
	refOriginal, refSizes, refMimeTypes, refDatastore, metadata, err := marshalFields(rec)
	if err != nil {
		return nil, err
	}
	_, err = p.client.DB.ExecContext(ctx, `
		INSERT INTO products
			(id, name, product_type, transfer_status, received_time, structure,
			 ref_original, ref_sizes, ref_mime_types, ref_datastore,
			 failure_reason, metadata, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)`,
		rec.ID, rec.Name, rec.ProductType, string(rec.TransferStatus),
		nullTime(rec.ReceivedTime), string(rec.Structure),
		refOriginal, refSizes, refMimeTypes, refDatastore,
		rec.FailureReason, metadata,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, fmt.Errorf("product %s: %w", rec.ID, errors.ErrProductExists)
		}
		return nil, fmt.Errorf("creating product %s: %w", rec.ID, classify(err))
	}
	out := rec.Clone()
	out.Version = 1
	p.logger.Debug("product created", "product_id", rec.ID, "status", rec.TransferStatus)
	return out, nil
}

func (p *Postgres) Update(ctx context.Context, rec *product.Record, expectedVersion int64) (*product.Record, error) {
	refOriginal, refSizes, refMimeTypes, refDatastore, metadata, err := marshalFields(rec)
	if err != nil {
		return nil, err
	}
	var newVersion int64
	err = p.client.DB.QueryRowContext(ctx, `
		UPDATE products SET
			name = $3, product_type = $4, transfer_status = $5,
			received_time = $6, structure = $7,
			ref_original = $8, ref_sizes = $9, ref_mime_types = $10,
			ref_datastore = $11, failure_reason = $12, metadata = $13,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version`,
		rec.ID, expectedVersion,
		rec.Name, rec.ProductType, string(rec.TransferStatus),
		nullTime(rec.ReceivedTime), string(rec.Structure),
		refOriginal, refSizes, refMimeTypes, refDatastore,
		rec.FailureReason, metadata,
	).Scan(&newVersion)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %s at version %d: %w",
			rec.ID, expectedVersion, errors.ErrVersionConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("updating product %s: %w", rec.ID, classify(err))
	}
	out := rec.Clone()
	out.Version = newVersion
	p.logger.Debug("product updated",
		"product_id", rec.ID,
		"status", rec.TransferStatus,
		"version", newVersion,
	)
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*product.Record, error) {
	var (
		rec          product.Record
		status       string
		structure    string
		receivedTime sql.NullTime
		refOriginal  []byte
		refSizes     []byte
		refMimeTypes []byte
		refDatastore []byte
		metadata     []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.ProductType, &status, &receivedTime, &structure,
		&refOriginal, &refSizes, &refMimeTypes, &refDatastore,
		&rec.FailureReason, &metadata, &rec.Version,
	)
	if err != nil {
		return nil, err
	}
	rec.TransferStatus = product.TransferStatus(status)
	rec.Structure = product.Structure(structure)
	if receivedTime.Valid {
		rec.ReceivedTime = receivedTime.Time
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{refOriginal, &rec.RefOriginal},
		{refSizes, &rec.RefSizes},
		{refMimeTypes, &rec.RefMimeTypes},
		{refDatastore, &rec.RefDatastore},
		{metadata, &rec.Metadata},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decoding catalog field: %w", err)
		}
	}
	if rec.Metadata == nil {
		rec.Metadata = make(product.Metadata)
	}
	return &rec, nil
}

func marshalFields(rec *product.Record) (refOriginal, refSizes, refMimeTypes, refDatastore, metadata []byte, err error) {
	if refOriginal, err = json.Marshal(emptySlice(rec.RefOriginal)); err != nil {
		return
	}
	if refSizes, err = json.Marshal(emptyInt64Slice(rec.RefSizes)); err != nil {
		return
	}
	if refMimeTypes, err = json.Marshal(emptySlice(rec.RefMimeTypes)); err != nil {
		return
	}
	if refDatastore, err = json.Marshal(emptySlice(rec.RefDatastore)); err != nil {
		return
	}
	md := rec.Metadata
	if md == nil {
		md = make(product.Metadata)
	}
	metadata, err = json.Marshal(md)
	return
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyInt64Slice(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// classify maps driver-level connection failures onto ErrConnectivity so the
// trawl loop can tell an unreachable catalog from a per-product problem.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"bad connection",
		"i/o timeout",
	} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %s", errors.ErrConnectivity, err.Error())
		}
	}
	return err
}
