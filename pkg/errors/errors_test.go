package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTagAttachesBucket(t *testing.T) {
	err := Tag(fmt.Errorf("boom"), "1606356963_sdp_l0", "/data/1606356963_sdp_l0")
	bucket, ok := BucketOf(err)
	if !ok || bucket != "1606356963_sdp_l0" {
		t.Fatalf("bucket = %q, ok = %v", bucket, ok)
	}
}

func TestTagInnermostWins(t *testing.T) {
	inner := Tag(fmt.Errorf("boom"), "inner-bucket", "")
	outer := Tag(fmt.Errorf("wrapping: %w", inner), "outer-bucket", "")
	bucket, _ := BucketOf(outer)
	if bucket != "inner-bucket" {
		t.Errorf("bucket = %q, want the innermost tag", bucket)
	}
}

func TestTagNil(t *testing.T) {
	if Tag(nil, "b", "p") != nil {
		t.Error("tagging nil should stay nil")
	}
}

func TestTagPreservesSentinels(t *testing.T) {
	err := Tag(fmt.Errorf("extract: %w", ErrExtraction), "b", "p")
	if !errors.Is(err, ErrExtraction) {
		t.Error("sentinel lost through tagging")
	}
}

func TestIsFatalUpload(t *testing.T) {
	fatal := &UploadError{Path: "/data/x", Fatal: true, Err: ErrAccessDenied}
	transient := &UploadError{Path: "/data/x", Err: fmt.Errorf("size mismatch")}

	if !IsFatalUpload(fatal) {
		t.Error("fatal upload error not recognised")
	}
	if IsFatalUpload(transient) {
		t.Error("transient upload error misclassified as fatal")
	}
	if IsFatalUpload(fmt.Errorf("unrelated")) {
		t.Error("plain error misclassified as fatal upload")
	}
	if !IsFatalUpload(fmt.Errorf("wrapped: %w", fatal)) {
		t.Error("wrapping should not hide the upload error")
	}
}

func TestIsConnectivity(t *testing.T) {
	err := fmt.Errorf("catalog: %w", ErrConnectivity)
	if !IsConnectivity(err) {
		t.Error("wrapped connectivity error not recognised")
	}
	if IsConnectivity(ErrExtraction) {
		t.Error("extraction error misclassified as connectivity")
	}
}
