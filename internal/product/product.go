// Package product defines the archive's product data model: the catalog
// record, the transfer lifecycle states, naming rules for capture blocks and
// capture streams, and the marker files used for out-of-band signalling
// between the data producer and the trawler.
package product

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Marker files written into a product directory. Complete and failed are
// zero-content sentinels; files carrying the writing infix are still being
// produced and must be ignored.
const (
	CompleteMarker = "complete"
	FailedMarker   = "failed"
	WritingInfix   = ".writing."
	FailedDirName  = "failed"
)

var (
	captureBlockRe  = regexp.MustCompile(`^[0-9]{10}$`)
	captureStreamRe = regexp.MustCompile(`^[0-9]{10}[-_].*$`)
	streamPrefixRe  = regexp.MustCompile(`^.*[0-9]{10}_[^.]*`)
)

// Kind classifies a trawl-root subdirectory.
type Kind string

const (
	KindCaptureBlock  Kind = "capture-block"
	KindCaptureStream Kind = "capture-stream"
)

// IsCaptureBlock reports whether name is a bare numeric capture block id.
func IsCaptureBlock(name string) bool {
	return captureBlockRe.MatchString(name)
}

// IsCaptureStream reports whether name is a capture stream directory
// (block id followed by a separator and a stream suffix).
func IsCaptureStream(name string) bool {
	return captureStreamRe.MatchString(name)
}

// IsPayloadFile reports whether name is one of the data files the producer
// writes: redis stream dumps and numpy visibility chunks. Anything else in a
// product directory is not part of the product and must not be uploaded.
func IsPayloadFile(name string) bool {
	return strings.HasSuffix(name, ".rdb") || strings.HasSuffix(name, ".npy")
}

// StreamPrefix extracts the product-id prefix from a matched file path: the
// path up to and including the block id and stream suffix, before the first
// dot. Multiple streams may share one capture block directory; grouping by
// this prefix yields one product per stream.
func StreamPrefix(path string) (string, bool) {
	m := streamPrefixRe.FindString(path)
	if m == "" {
		return "", false
	}
	return m, true
}

// IDFromDirName derives the stable product id from a candidate directory
// name. Stream separators are normalised to underscores so the id matches
// the filenames written by the producer.
func IDFromDirName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// Structure tells the catalog whether a product is a single file or a
// multi-file hierarchy.
type Structure string

const (
	StructureFlat         Structure = "Flat"
	StructureHierarchical Structure = "Hierarchical"
)

// StructureFor picks the structure flag from the number of original refs,
// excluding the common-path anchor.
func StructureFor(refs []string) Structure {
	if len(refs) <= 1 {
		return StructureFlat
	}
	return StructureHierarchical
}

// Metadata is the extractor-supplied key to ordered-values mapping attached
// to a catalog record. Keys are write-once within one ingest attempt.
type Metadata map[string][]string

// Set records values for key, failing if the key was already written in this
// attempt.
func (m Metadata) Set(key string, values ...string) error {
	if _, ok := m[key]; ok {
		return fmt.Errorf("metadata key %q already set", key)
	}
	m[key] = values
	return nil
}

// First returns the first value for key, or "" when absent.
func (m Metadata) First(key string) string {
	if vs, ok := m[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Merge copies every entry of other into m, overwriting existing keys.
// Used when re-ingesting after a cleared failure.
func (m Metadata) Merge(other Metadata) {
	for k, vs := range other {
		m[k] = append([]string(nil), vs...)
	}
}

// Clone returns a deep copy of the metadata map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, vs := range m {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Record is the typed catalog record for one product. The catalog is the
// durable system of record; an in-memory Record is always reconstructable
// from it. Version is the opaque optimistic-concurrency token returned by
// the last successful catalog read or write.
type Record struct {
	ID             string
	Name           string
	ProductType    string
	TransferStatus TransferStatus
	ReceivedTime   time.Time
	Structure      Structure
	RefOriginal    []string
	RefSizes       []int64
	RefMimeTypes   []string
	RefDatastore   []string
	FailureReason  string
	Metadata       Metadata
	Version        int64
}

// NewRecord creates the core record for a freshly discovered product.
func NewRecord(id, productType string) *Record {
	return &Record{
		ID:             id,
		Name:           id,
		ProductType:    productType,
		TransferStatus: StatusCreated,
		Metadata:       make(Metadata),
	}
}

// Clone returns a deep copy of the record, so callers can build an update
// without mutating a cached instance.
func (r *Record) Clone() *Record {
	out := *r
	out.RefOriginal = append([]string(nil), r.RefOriginal...)
	out.RefSizes = append([]int64(nil), r.RefSizes...)
	out.RefMimeTypes = append([]string(nil), r.RefMimeTypes...)
	out.RefDatastore = append([]string(nil), r.RefDatastore...)
	out.Metadata = r.Metadata.Clone()
	return &out
}

// CommonPathAnchor returns the shared parent directory of refs, prepended to
// reference lists as a synthetic first entry to signal a hierarchical
// product to the catalog. refs may be plain paths or URLs; the anchor is the
// common prefix cut at its last path separator, so URL schemes survive.
func CommonPathAnchor(refs []string) string {
	if len(refs) == 0 {
		return ""
	}
	prefix := refs[0]
	for _, ref := range refs[1:] {
		for !strings.HasPrefix(ref, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	idx := strings.LastIndex(prefix, "/")
	if idx <= 0 {
		return ""
	}
	return prefix[:idx]
}

// UnionRefs merges two reference lists into a sorted union with a freshly
// derived common-path anchor prepended. A leading anchor entry in either
// input is dropped before merging so it is never counted as a file; files
// confirmed on earlier passes therefore survive every later write.
func UnionRefs(existing, added []string) []string {
	set := make(map[string]struct{}, len(existing)+len(added))
	collect := func(refs []string) {
		for i, ref := range refs {
			if i == 0 && len(refs) > 1 && strings.HasPrefix(refs[1], ref+"/") {
				continue
			}
			set[ref] = struct{}{}
		}
	}
	collect(existing)
	collect(added)

	out := make([]string, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	sort.Strings(out)
	if anchor := CommonPathAnchor(out); anchor != "" {
		out = append([]string{anchor}, out...)
	}
	return out
}

// FileURL renders a local path as a file:// reference for the catalog.
func FileURL(path string) string {
	return "file://" + path
}

// DatastoreURL renders a bucket and key as the destination reference for the
// catalog.
func DatastoreURL(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// BucketName maps a trawl directory name to its destination bucket. S3
// bucket naming forbids underscores, so stream separators become dashes;
// IDFromDirName reverses the mapping when a bucket must be matched back to
// its product.
func BucketName(dir string) string {
	return strings.ReplaceAll(strings.ToLower(dir), "_", "-")
}
