// Package extractor turns a product's primary descriptor file into catalog
// metadata. Variants register a detection predicate and are selected once at
// Detect time; no inheritance chain, just a registry lookup.
//
// Extraction may read large file headers, so callers must not hold catalog
// leases while Extract runs.
package extractor

import (
	"context"
	"fmt"
	"os"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/errors"
)

// Extractor produces metadata from one descriptor file.
type Extractor interface {
	// ProductType returns the catalog product-type tag for this variant.
	ProductType() string

	// Extract reads the descriptor and returns the metadata mapping.
	// Failures are reported as errors.ErrExtraction and must be converted
	// by the coordinator into a FAILED transition, never a crash.
	Extract(ctx context.Context) (product.Metadata, error)
}

// Variant couples a detection predicate with an extractor constructor.
type Variant struct {
	Name        string
	ProductType string
	Detect      func(path string) bool
	New         func(path string) Extractor
}

// Registry holds the known variants in priority order.
type Registry struct {
	variants []Variant
}

// NewRegistry creates a registry with the given variants. Detection runs in
// registration order; the first match wins.
func NewRegistry(variants ...Variant) *Registry {
	return &Registry{variants: variants}
}

// DefaultRegistry returns the built-in variants: visibility streams, flag
// streams, and a generic file fallback.
func DefaultRegistry() *Registry {
	return NewRegistry(
		VisibilityVariant(),
		FlagVariant(),
		GenericVariant(),
	)
}

// Detect selects the extractor variant for the descriptor at path, failing
// with errors.ErrUnsupportedProduct when no predicate matches.
func (r *Registry) Detect(path string) (Extractor, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("descriptor %s: %w: %v", path, errors.ErrUnsupportedProduct, err)
	}
	for _, v := range r.variants {
		if v.Detect(path) {
			return v.New(path), nil
		}
	}
	return nil, fmt.Errorf("descriptor %s: %w", path, errors.ErrUnsupportedProduct)
}
