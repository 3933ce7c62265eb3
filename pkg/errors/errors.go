// Package errors defines the sentinel errors and tagged error types shared
// across the trawl pipeline, plus helpers to classify failures as transient,
// terminal-for-the-product, or fatal connectivity problems.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductExists      = errors.New("product already exists")
	ErrVersionConflict    = errors.New("catalog version conflict")
	ErrProductFailed      = errors.New("product marked as failed")
	ErrUnsupportedProduct = errors.New("unsupported product type")
	ErrExtraction         = errors.New("metadata extraction failed")
	ErrConnectivity       = errors.New("backend unreachable")
	ErrAccessDenied       = errors.New("access denied")
)

// IngestError tags an underlying error with the source bucket (the product's
// top-level directory under the trawl root) responsible for it, so failure
// markers land next to the right directory without re-deriving context.
type IngestError struct {
	Err    error
	Bucket string
	Path   string
}

func (e *IngestError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("bucket %s (%s): %s", e.Bucket, e.Path, e.Err.Error())
	}
	return fmt.Sprintf("bucket %s: %s", e.Bucket, e.Err.Error())
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// Tag wraps err with the responsible bucket and path. If err already carries
// a bucket tag it is returned unchanged; the innermost tag wins.
func Tag(err error, bucket, path string) error {
	if err == nil {
		return nil
	}
	var tagged *IngestError
	if errors.As(err, &tagged) {
		return err
	}
	return &IngestError{Err: err, Bucket: bucket, Path: path}
}

// BucketOf extracts the bucket tag from an error chain.
func BucketOf(err error) (string, bool) {
	var tagged *IngestError
	if errors.As(err, &tagged) {
		return tagged.Bucket, true
	}
	return "", false
}

// UploadError reports a single file transfer failure. Fatal errors (auth,
// permission) abort the whole batch; non-fatal ones leave the file on disk
// for the next trawl pass.
type UploadError struct {
	Path  string
	Fatal bool
	Err   error
}

func (e *UploadError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("%s upload error for %s: %s", kind, e.Path, e.Err.Error())
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsFatalUpload reports whether err is an upload error that must abort the
// product's whole batch.
func IsFatalUpload(err error) bool {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Fatal
	}
	return false
}

// IsConnectivity reports whether err means the catalog or object store is
// unreachable, in which case the trawl loop suspends instead of failing
// individual products.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}
