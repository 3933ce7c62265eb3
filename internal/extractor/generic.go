package extractor

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/errors"
)

// GenericVariant accepts any regular file and records stat-level metadata.
// Registered last so the stream variants get first refusal.
func GenericVariant() Variant {
	return Variant{
		Name:        "generic-file",
		ProductType: "GenericFileProduct",
		Detect: func(path string) bool {
			info, err := os.Stat(path)
			return err == nil && info.Mode().IsRegular()
		},
		New: func(path string) Extractor {
			return &genericExtractor{path: path}
		},
	}
}

type genericExtractor struct {
	path string
}

func (e *genericExtractor) ProductType() string {
	return "GenericFileProduct"
}

func (e *genericExtractor) Extract(ctx context.Context) (product.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(e.path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", errors.ErrExtraction, e.path, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(e.path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	md := make(product.Metadata)
	_ = md.Set("ProductTypeName", "GenericFileProduct")
	_ = md.Set("ProductName", filepath.Base(e.path))
	_ = md.Set("FileSize", strconv.FormatInt(info.Size(), 10))
	_ = md.Set("FileModTime", info.ModTime().UTC().Format("2006-01-02 15:04:05"))
	_ = md.Set("MimeType", mimeType)
	return md, nil
}
