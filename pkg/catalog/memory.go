package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/errors"
)

// Memory is an in-process catalog with the same optimistic-concurrency
// semantics as the PostgreSQL implementation. It backs tests and local runs
// without a database.
type Memory struct {
	mu      sync.Mutex
	records map[string]*product.Record
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*product.Record)}
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Get(ctx context.Context, id string) (*product.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, errors.ErrProductNotFound)
	}
	return rec.Clone(), nil
}

func (m *Memory) Create(ctx context.Context, rec *product.Record) (*product.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return nil, fmt.Errorf("product %s: %w", rec.ID, errors.ErrProductExists)
	}
	stored := rec.Clone()
	stored.Version = 1
	m.records[rec.ID] = stored
	return stored.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, rec *product.Record, expectedVersion int64) (*product.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[rec.ID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", rec.ID, errors.ErrProductNotFound)
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("product %s at version %d (stored %d): %w",
			rec.ID, expectedVersion, current.Version, errors.ErrVersionConflict)
	}
	stored := rec.Clone()
	stored.Version = current.Version + 1
	m.records[rec.ID] = stored
	return stored.Clone(), nil
}
