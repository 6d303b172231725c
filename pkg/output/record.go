// Package output provides JSONL output for agent commands.
//
// Output is structured as typed record envelopes containing uploads, usage
// rows, removal outcomes and so on. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/gospace/pkg/removal"
	"github.com/3leaps/gospace/pkg/service"
	"github.com/3leaps/gospace/pkg/usage"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: gospace.<type>.v<version>
const (
	// TypeUpload identifies upload listing records.
	TypeUpload = "gospace.upload.v1"

	// TypeUsage identifies per-space usage records.
	TypeUsage = "gospace.usage.v1"

	// TypeUsageTotal identifies the closing usage total.
	TypeUsageTotal = "gospace.usage_total.v1"

	// TypeRemoval identifies upload and shard removal outcomes.
	TypeRemoval = "gospace.removal.v1"

	// TypeDelegation identifies stored delegation records.
	TypeDelegation = "gospace.delegation.v1"

	// TypeAccount identifies known account records.
	TypeAccount = "gospace.account.v1"

	// TypeError identifies error records.
	TypeError = "gospace.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "gospace.upload.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// InvocationID correlates all records of one command run.
	InvocationID string `json:"invocation_id"`

	// Space is the current space DID, when the command has one.
	Space string `json:"space,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// UploadRecord is the data payload for upload listings.
type UploadRecord struct {
	Root       string    `json:"root"`
	Shards     []string  `json:"shards,omitempty"`
	InsertedAt time.Time `json:"inserted_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewUploadRecord converts an upload. Shards are included only when
// withShards is set.
func NewUploadRecord(u service.Upload, withShards bool) *UploadRecord {
	rec := &UploadRecord{
		Root:       u.Root.String(),
		InsertedAt: u.InsertedAt,
		UpdatedAt:  u.UpdatedAt,
	}
	if withShards {
		rec.Shards = make([]string, 0, len(u.Shards))
		for _, s := range u.Shards {
			rec.Shards = append(rec.Shards, s.String())
		}
	}
	return rec
}

// UsageRecord is the data payload for one space's usage under a provider.
type UsageRecord struct {
	Account      string    `json:"account"`
	Provider     string    `json:"provider"`
	Space        string    `json:"space"`
	InitialBytes int64     `json:"initial_bytes"`
	FinalBytes   int64     `json:"final_bytes"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
}

// NewUsageRecord converts an aggregated usage record.
func NewUsageRecord(r usage.Record) *UsageRecord {
	return &UsageRecord{
		Account:      r.Account.String(),
		Provider:     r.Provider.String(),
		Space:        r.Space.String(),
		InitialBytes: r.Size.Initial,
		FinalBytes:   r.Size.Final,
		From:         r.Period.From,
		To:           r.Period.To,
	}
}

// UsageTotalRecord closes a usage report.
type UsageTotalRecord struct {
	Records    int64 `json:"records"`
	FinalBytes int64 `json:"final_bytes"`
}

// Removal kinds.
const (
	KindUpload = "upload"
	KindShard  = "shard"
)

// RemovalRecord is the data payload for a removal outcome.
type RemovalRecord struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewShardRemovalRecord converts a shard removal outcome.
func NewShardRemovalRecord(o removal.Outcome) *RemovalRecord {
	return &RemovalRecord{
		Kind:   KindShard,
		ID:     o.ID.String(),
		Status: string(o.Status),
		Error:  o.Message(),
	}
}

// DelegationRecord is the data payload for stored delegations.
type DelegationRecord struct {
	Root       string    `json:"root"`
	Blocks     int       `json:"blocks"`
	SizeBytes  int64     `json:"size_bytes"`
	ImportedAt time.Time `json:"imported_at"`
}

// AccountRecord is the data payload for known accounts.
type AccountRecord struct {
	DID     string    `json:"did"`
	AddedAt time.Time `json:"added_at"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records so that JSONL consumers see failures in
// the same stream as results.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Subject is the DID or CID the error relates to, if applicable.
	Subject string `json:"subject,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the upload, shard or bucket was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
