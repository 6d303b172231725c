package car

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-varint"
)

// Reader decodes an archive block by block.
type Reader struct {
	br    *bufio.Reader
	roots []cid.Cid
}

// NewReader reads and validates the archive header.
func NewReader(r io.Reader) (*Reader, error) {
	cr := &Reader{br: bufio.NewReader(r)}
	hdr, err := cr.section()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", ErrMalformed)
		}
		return nil, err
	}
	roots, err := decodeHeader(hdr)
	if err != nil {
		return nil, err
	}
	cr.roots = roots
	return cr, nil
}

// Roots returns the roots named in the header.
func (r *Reader) Roots() []cid.Cid { return r.roots }

// Next returns the next block, verifying its bytes against its CID. It
// returns io.EOF after the last block.
func (r *Reader) Next() (Block, error) {
	data, err := r.section()
	if err != nil {
		return Block{}, err
	}
	n, c, err := cid.CidFromReader(bytes.NewReader(data))
	if err != nil {
		return Block{}, fmt.Errorf("%w: block CID: %v", ErrMalformed, err)
	}
	b := Block{CID: c, Bytes: data[n:]}
	if err := b.Verify(); err != nil {
		return Block{}, err
	}
	return b, nil
}

// ReadAll drains the remaining blocks.
func (r *Reader) ReadAll() ([]Block, error) {
	var blocks []Block
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			return blocks, nil
		}
		if err != nil {
			return blocks, err
		}
		blocks = append(blocks, b)
	}
}

// section reads one varint length-prefixed section. A clean end of input
// before the length yields io.EOF.
func (r *Reader) section() ([]byte, error) {
	if _, err := r.br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	size, err := varint.ReadUvarint(r.br)
	if err != nil {
		return nil, fmt.Errorf("%w: section length: %v", ErrMalformed, err)
	}
	if size == 0 || size > MaxSectionSize {
		return nil, fmt.Errorf("%w: section length %d", ErrMalformed, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return nil, fmt.Errorf("%w: truncated section: %v", ErrMalformed, err)
	}
	return data, nil
}
