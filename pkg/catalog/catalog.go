// Package catalog provides the product catalog client: CRUD over the
// searchable metadata store keyed by product id, with optimistic concurrency
// via a version token returned on every read and write. The PostgreSQL
// implementation is the durable system of record; an in-memory implementation
// backs tests and a Redis read-through cache fronts terminal records.
package catalog

import (
	"context"

	"github.com/radioarchive/trawler/internal/product"
)

// Client is the catalog contract consumed by the ingest coordinator.
//
// Every mutation must present the version obtained from the immediately
// preceding read or write; a stale version is rejected with
// errors.ErrVersionConflict and leaves the stored record untouched.
type Client interface {
	// Get returns the record for id, or errors.ErrProductNotFound.
	Get(ctx context.Context, id string) (*product.Record, error)

	// Create inserts a new record and returns it with its initial version,
	// or errors.ErrProductExists if the id is already registered.
	Create(ctx context.Context, rec *product.Record) (*product.Record, error)

	// Update overwrites the record if expectedVersion matches the stored
	// version, returning the record with its new version.
	Update(ctx context.Context, rec *product.Record, expectedVersion int64) (*product.Record, error)

	// Ping verifies the catalog is reachable.
	Ping(ctx context.Context) error
}
