// Package storage defines the uniform adapter contract (§4.1) that the S3
// and local-directory backends both implement. The pipeline never imports
// internal/storage/s3 or internal/storage/local directly — it depends only
// on the Adapter interface here, so the rest of the engine is backend
// agnostic.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectDescriptor is what a lister emits for one object or object version.
// Keys never carry the source's configured prefix or root.
type ObjectDescriptor struct {
	Key                string
	Size               int64
	LastModified       time.Time
	ETag               string
	VersionID          string
	IsLatest           bool
	IsDeleteMarker     bool
	ChecksumAlgorithm  string
	AdditionalChecksum string
}

// ListOptions configures a list_objects or list_object_versions call.
type ListOptions struct {
	MaxKeys      int32
	WarnAsError  bool
	FollowSymlinks bool
}

// SSEConfig carries the encryption settings a call needs to apply or be
// aware of, for both the SSE-C (caller-supplied key) and SSE-KMS cases.
type SSEConfig struct {
	Algorithm    string
	KMSKeyID     string
	CustomerKey  string
	CustomerMD5  string
}

// HeadOptions configures a head_object call.
type HeadOptions struct {
	VersionID         string
	ChecksumMode      string
	SourceSSE         SSEConfig
}

// ObjectMetadata is the result of head_object.
type ObjectMetadata struct {
	Size              int64
	LastModified      time.Time
	ETag              string
	SSEAlgorithm      string
	AdditionalChecksum string
	ChecksumAlgorithm string
	TagCount          int
	Metadata          map[string]string
	ContentType       string
}

// GetOptions configures a get_object call.
type GetOptions struct {
	VersionID    string
	RangeStart   int64
	RangeEnd     int64 // inclusive; 0 means "to end" when RangeStart is also 0
	HasRange     bool
	ChecksumMode string
	SourceSSE    SSEConfig
}

// GetObjectOutput is the streaming result of get_object. Callers must close
// Body.
type GetObjectOutput struct {
	Body          io.ReadCloser
	Size          int64
	ContentRange  string
	ETag          string
	LastModified  time.Time
	Metadata      map[string]string
}

// PartInfo describes one part's size, as discovered by get_object_parts or
// get_object_parts_attributes.
type PartInfo struct {
	PartNumber int
	Size       int64
}

// PutObjectInput carries everything the upload protocol (§4.9) needs,
// independent of whether it dispatches to single-part or multipart.
type PutObjectInput struct {
	Body                   io.Reader
	Size                   int64
	ContentType            string
	ContentEncoding        string
	ContentLanguage        string
	ContentDisposition     string
	CacheControl           string
	Expires                *time.Time
	Metadata               map[string]string
	Tagging                string // URL-encoded k1=v1&k2=v2
	CannedACL              string
	StorageClass           string
	TargetSSE              SSEConfig
	AdditionalChecksumAlgorithm string
	// SourceParts, when non-empty, dictates the exact part boundaries to
	// use (auto-chunksize mirroring the source's multipart geometry)
	// instead of MultipartChunksize.
	SourceParts []PartInfo
	MultipartThreshold int64
	MultipartChunksize int64
	PartParallelism    int
}

// PutObjectResult is returned from a successful put_object call.
type PutObjectResult struct {
	ETag              string
	AdditionalChecksum string
	PartCount         int
}

// DeleteOptions configures a delete_object call.
type DeleteOptions struct {
	VersionID string
	IfMatch   string // non-empty enables precondition-checked delete
}

// Adapter is the uniform interface over an S3 bucket or a local directory
// tree. Every method is cancellable via ctx. Adapters never retry
// internally — that is the SDK's job for S3 calls and the syncer's job
// across the whole get-transform-put path.
type Adapter interface {
	// ListObjects streams non-versioned descriptors for every object under
	// the adapter's root/prefix to out, closing out when done or ctx is
	// cancelled. It returns the first error encountered, if any, after out
	// has been closed.
	ListObjects(ctx context.Context, opts ListOptions, out chan<- ObjectDescriptor) error

	// ListObjectVersions streams every version (oldest-first, delete
	// markers included) to out. The local adapter closes out and returns a
	// KindOther error, since it has no versions.
	ListObjectVersions(ctx context.Context, opts ListOptions, out chan<- ObjectDescriptor) error

	// ListObjectVersionsForKey returns every version of exactly one key,
	// oldest-first. Local adapters return at most one entry (the current
	// file has no version id).
	ListObjectVersionsForKey(ctx context.Context, key string) ([]ObjectDescriptor, error)

	HeadObject(ctx context.Context, key string, opts HeadOptions) (*ObjectMetadata, error)
	GetObject(ctx context.Context, key string, opts GetOptions) (*GetObjectOutput, error)
	GetObjectParts(ctx context.Context, key string, opts GetOptions) ([]PartInfo, error)
	GetObjectPartsAttributes(ctx context.Context, key string, opts GetOptions) ([]PartInfo, error)

	PutObject(ctx context.Context, key string, input PutObjectInput) (*PutObjectResult, error)
	DeleteObject(ctx context.Context, key string, opts DeleteOptions) error

	GetObjectTagging(ctx context.Context, key, versionID string) (map[string]string, error)
	PutObjectTagging(ctx context.Context, key, versionID string, tags map[string]string) error
	DeleteObjectTagging(ctx context.Context, key, versionID string) error

	// IsVersioningEnabled reports the bucket's versioning state. Local
	// adapters always return false, nil.
	IsVersioningEnabled(ctx context.Context) (bool, error)

	// Close releases any pooled connections or open handles.
	Close() error
}
