package car

import (
	"bufio"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-varint"
)

// Writer streams an archive to an underlying io.Writer. Output is buffered;
// Close flushes it. Writer does not close the underlying writer.
type Writer struct {
	bw     *bufio.Writer
	closed bool
	blocks int
}

// NewWriter writes the archive header naming roots and returns a writer for
// the blocks that follow.
func NewWriter(w io.Writer, roots []cid.Cid) (*Writer, error) {
	hdr, err := encodeHeader(roots)
	if err != nil {
		return nil, err
	}
	cw := &Writer{bw: bufio.NewWriter(w)}
	if err := cw.section(hdr); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return cw, nil
}

// Put appends a block section. Blocks are written in call order and are not
// deduplicated.
func (w *Writer) Put(b Block) error {
	if w.closed {
		return ErrClosed
	}
	if !b.CID.Defined() {
		return fmt.Errorf("%w: block %d has undefined CID", ErrMalformed, w.blocks)
	}
	id := b.CID.Bytes()
	if _, err := w.bw.Write(varint.ToUvarint(uint64(len(id) + len(b.Bytes)))); err != nil {
		return err
	}
	if _, err := w.bw.Write(id); err != nil {
		return err
	}
	if _, err := w.bw.Write(b.Bytes); err != nil {
		return err
	}
	w.blocks++
	return nil
}

// Blocks returns the number of blocks written so far.
func (w *Writer) Blocks() int { return w.blocks }

// Close flushes buffered output. Calling Close twice is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.bw.Flush()
}

func (w *Writer) section(data []byte) error {
	if _, err := w.bw.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return err
	}
	_, err := w.bw.Write(data)
	return err
}
