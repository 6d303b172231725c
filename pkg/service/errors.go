package service

import (
	"errors"
	"fmt"

	"github.com/3leaps/gospace/pkg/did"
)

// Sentinel errors for service operations.
var (
	// ErrUploadNotFound indicates the space has no upload with the given root.
	ErrUploadNotFound = errors.New("upload not found")

	// ErrShardNotFound indicates the shard is not stored in the space.
	ErrShardNotFound = errors.New("shard not found")

	// ErrMalformedRecord indicates a stored record could not be decoded.
	ErrMalformedRecord = errors.New("malformed record")
)

// ServiceError wraps a failed service call with the operation and subject.
type ServiceError struct {
	// Op is the client method that failed (e.g., "ListUploads").
	Op string

	// Subject is the space or account the call addressed.
	Subject did.DID

	// Item is the upload root or shard CID, if applicable.
	Item string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Subject, e.Item, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Subject, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the addressed upload or shard does
// not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUploadNotFound) || errors.Is(err, ErrShardNotFound)
}
