// Package objstore defines the blob layer that backs the storage service.
//
// Stores implement a small surface focused on paged listing, metadata
// retrieval and whole-object reads, writes and deletes. Authentication uses
// SDK default credential chains; stores should not implement custom auth.
package objstore

import (
	"context"
	"io"
	"time"
)

// Store abstracts an object store holding service records and shard bytes.
//
// Implementations should:
//   - Support pagination via continuation tokens
//   - Return keys in lexicographic order
//   - Be safe for concurrent use
type Store interface {
	// List returns a page of objects with the given prefix.
	// Use ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Get opens an object for reading. The caller closes the body.
	Get(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)

	// Put creates or overwrites an object.
	Put(ctx context.Context, key string, body io.Reader, contentLength int64) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses the backend default (typically 1000).
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	// Objects contains the object summaries for this page.
	Objects []ObjectSummary

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string

	// IsTruncated indicates whether more results are available.
	IsTruncated bool
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	// Key is the full object key (path) in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag, typically an MD5 hash of the object.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type of the object.
	ContentType string
}

// Backend identifies a store implementation.
type Backend string

const (
	// BackendS3 represents AWS S3 or S3-compatible storage.
	BackendS3 Backend = "s3"

	// BackendFile represents a local directory tree.
	BackendFile Backend = "file"
)

// String returns the string representation of the backend.
func (b Backend) String() string {
	return string(b)
}
