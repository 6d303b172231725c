// Package service defines the storage service client consumed by the agent
// and a bucket-backed implementation of it.
//
// The client is the agent's single handle on the service for one command
// invocation. Implementations must be safe for concurrent use: bulk shard
// removal issues many requests at once through the same client.
package service

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/paginate"
)

// Client is the service surface used by command handlers.
type Client interface {
	// ListUploads returns one page of uploads registered in space.
	ListUploads(ctx context.Context, space did.DID, opts ListOptions) (*paginate.Page[Upload], error)

	// GetUpload returns a single upload. Returns ErrUploadNotFound when the
	// space has no upload with that root.
	GetUpload(ctx context.Context, space did.DID, root cid.Cid) (*Upload, error)

	// RemoveUpload unregisters an upload. Its shards are left in place.
	RemoveUpload(ctx context.Context, space did.DID, root cid.Cid) error

	// ListSubscriptions returns every subscription held by account.
	ListSubscriptions(ctx context.Context, account did.DID) ([]Subscription, error)

	// ReportUsage reports storage used by space during period, keyed by
	// provider DID.
	ReportUsage(ctx context.Context, space did.DID, period Period) (map[string]UsageReport, error)

	// RemoveShard deletes a stored shard. Returns ErrShardNotFound when the
	// shard does not exist.
	RemoveShard(ctx context.Context, space did.DID, shard cid.Cid) error

	// Close releases resources held by the client.
	Close() error
}

// ListOptions configures ListUploads.
type ListOptions struct {
	// Cursor resumes listing after a previous page. Empty starts from the
	// beginning.
	Cursor string

	// Size is the requested page size. Zero uses the client default.
	Size int
}

// Upload links a root CID to the shards that hold its DAG.
type Upload struct {
	Root       cid.Cid
	Shards     []cid.Cid
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// Subscription is an account's paid relationship with a provider covering
// one or more consumer spaces.
type Subscription struct {
	ID        string
	Provider  did.DID
	Consumers []did.DID
}

// Period is a half-open reporting window [From, To).
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Size holds stored bytes at the start and end of a period.
type Size struct {
	Initial int64 `json:"initial"`
	Final   int64 `json:"final"`
}

// UsageReport is a provider's usage figure for one space.
type UsageReport struct {
	Provider did.DID `json:"provider"`
	Space    did.DID `json:"space"`
	Size     Size    `json:"size"`
	Period   Period  `json:"period"`
}
