package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for command results.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	WriteUpload(ctx context.Context, rec *UploadRecord) error
	WriteUsage(ctx context.Context, rec *UsageRecord) error
	WriteUsageTotal(ctx context.Context, rec *UsageTotalRecord) error
	WriteRemoval(ctx context.Context, rec *RemovalRecord) error
	WriteDelegation(ctx context.Context, rec *DelegationRecord) error
	WriteAccount(ctx context.Context, rec *AccountRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w            io.Writer
	invocationID string
	space        string
	mu           sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (normally stdout)
//   - invocationID: Correlation ID for this command run
//   - space: Current space DID, or "" for commands without one
func NewJSONLWriter(w io.Writer, invocationID, space string) *JSONLWriter {
	return &JSONLWriter{
		w:            w,
		invocationID: invocationID,
		space:        space,
	}
}

func (jw *JSONLWriter) WriteUpload(ctx context.Context, rec *UploadRecord) error {
	return jw.writeRecord(ctx, TypeUpload, rec)
}

func (jw *JSONLWriter) WriteUsage(ctx context.Context, rec *UsageRecord) error {
	return jw.writeRecord(ctx, TypeUsage, rec)
}

func (jw *JSONLWriter) WriteUsageTotal(ctx context.Context, rec *UsageTotalRecord) error {
	return jw.writeRecord(ctx, TypeUsageTotal, rec)
}

func (jw *JSONLWriter) WriteRemoval(ctx context.Context, rec *RemovalRecord) error {
	return jw.writeRecord(ctx, TypeRemoval, rec)
}

func (jw *JSONLWriter) WriteDelegation(ctx context.Context, rec *DelegationRecord) error {
	return jw.writeRecord(ctx, TypeDelegation, rec)
}

func (jw *JSONLWriter) WriteAccount(ctx context.Context, rec *AccountRecord) error {
	return jw.writeRecord(ctx, TypeAccount, rec)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line.
//
// This method holds the mutex for the entire operation to ensure
// atomic line writes. The record is written as a single line of
// JSON followed by a newline character.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	// Check context cancellation before acquiring lock
	if err := ctx.Err(); err != nil {
		return err
	}

	// Marshal the data payload first (outside the lock for better concurrency)
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	// Check if writer is closed
	if jw.closed {
		return ErrWriterClosed
	}

	// Check context again after acquiring lock
	if err := ctx.Err(); err != nil {
		return err
	}

	// Create the envelope record
	record := Record{
		Type:         recordType,
		TS:           time.Now().UTC(),
		InvocationID: jw.invocationID,
		Space:        jw.space,
		Data:         dataBytes,
	}

	// Marshal the complete record
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// Write the record followed by newline.
	// We must handle short writes: io.Writer is allowed to return n < len(p)
	// with nil error, which would silently truncate JSONL lines and corrupt output.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
//
// io.Writer.Write may return n < len(p) with a nil error (short write).
// This function loops until all bytes are written or an error occurs,
// ensuring complete JSONL lines are emitted.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			// No progress made - avoid infinite loop
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
