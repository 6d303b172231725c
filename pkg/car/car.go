// Package car reads and writes CAR v1 archives: a DAG-CBOR header naming the
// root CIDs followed by length-prefixed (CID, bytes) block sections.
package car

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Version is the only archive version this package reads or writes.
const Version = 1

// MaxSectionSize bounds a single header or block section when reading.
const MaxSectionSize = 32 << 20

// cidTag is the CBOR tag DAG-CBOR uses for CID links.
const cidTag = 42

var (
	// ErrMalformed indicates archive bytes that do not follow the CAR v1 layout.
	ErrMalformed = errors.New("malformed CAR archive")

	// ErrUnsupportedVersion indicates a header with a version other than 1.
	ErrUnsupportedVersion = errors.New("unsupported CAR version")

	// ErrHashMismatch indicates a block whose bytes do not hash to its CID.
	ErrHashMismatch = errors.New("block bytes do not match CID")

	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("car writer closed")
)

// Block is a content-addressed chunk of bytes.
type Block struct {
	CID   cid.Cid
	Bytes []byte
}

// NewBlock builds a CIDv1 sha2-256 block for data under the given multicodec.
func NewBlock(codec uint64, data []byte) (Block, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return Block{}, err
	}
	return Block{CID: cid.NewCidV1(codec, sum), Bytes: data}, nil
}

// Verify checks that b.Bytes hash to b.CID.
func (b Block) Verify() error {
	if !b.CID.Defined() {
		return fmt.Errorf("%w: undefined CID", ErrMalformed)
	}
	got, err := b.CID.Prefix().Sum(b.Bytes)
	if err != nil {
		return fmt.Errorf("hash block %s: %w", b.CID, err)
	}
	if !got.Equals(b.CID) {
		return fmt.Errorf("%w: %s", ErrHashMismatch, b.CID)
	}
	return nil
}

// header is the DAG-CBOR map at the start of every archive.
type header struct {
	Roots   []cbor.Tag `cbor:"roots"`
	Version uint64     `cbor:"version"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("car: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("car: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeHeader(roots []cid.Cid) ([]byte, error) {
	h := header{Roots: make([]cbor.Tag, 0, len(roots)), Version: Version}
	for _, r := range roots {
		if !r.Defined() {
			return nil, fmt.Errorf("%w: undefined root", ErrMalformed)
		}
		// Multibase identity prefix, as DAG-CBOR requires for links.
		link := append([]byte{0x00}, r.Bytes()...)
		h.Roots = append(h.Roots, cbor.Tag{Number: cidTag, Content: link})
	}
	return encMode.Marshal(h)
}

func decodeHeader(data []byte) ([]cid.Cid, error) {
	var h header
	if err := decMode.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	roots := make([]cid.Cid, 0, len(h.Roots))
	for i, tag := range h.Roots {
		if tag.Number != cidTag {
			return nil, fmt.Errorf("%w: root %d: tag %d is not a CID link", ErrMalformed, i, tag.Number)
		}
		raw, ok := tag.Content.([]byte)
		if !ok || len(raw) < 2 || raw[0] != 0x00 {
			return nil, fmt.Errorf("%w: root %d: bad link bytes", ErrMalformed, i)
		}
		c, err := cid.Cast(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: root %d: %v", ErrMalformed, i, err)
		}
		roots = append(roots, c)
	}
	return roots, nil
}
