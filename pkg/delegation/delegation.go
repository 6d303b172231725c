// Package delegation exports capability delegations as CAR archives and
// imports them back.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/gospace/pkg/car"
)

var (
	// ErrEmpty indicates a delegation without blocks.
	ErrEmpty = errors.New("delegation has no blocks")

	// ErrMissingRoot indicates the root block is not part of the delegation.
	ErrMissingRoot = errors.New("delegation root block missing")
)

// Delegation is an ordered block sequence with a designated root. When Root
// is undefined the last block is the root.
type Delegation struct {
	Root   cid.Cid
	Blocks []car.Block
}

// RootCID returns the explicit root, or the CID of the last block.
func (d Delegation) RootCID() (cid.Cid, error) {
	if d.Root.Defined() {
		return d.Root, nil
	}
	if len(d.Blocks) == 0 {
		return cid.Undef, ErrEmpty
	}
	return d.Blocks[len(d.Blocks)-1].CID, nil
}

// Size returns the total byte length of all blocks.
func (d Delegation) Size() int64 {
	var n int64
	for _, b := range d.Blocks {
		n += int64(len(b.Bytes))
	}
	return n
}

// Export writes d as a CAR archive to dest. The archive is produced on one
// goroutine and copied to dest on another through an io.Pipe, so dest sees
// bytes while blocks are still being encoded. dest is not closed.
func Export(ctx context.Context, d Delegation, dest io.Writer) error {
	root, err := d.RootCID()
	if err != nil {
		return err
	}
	if len(d.Blocks) == 0 {
		return ErrEmpty
	}

	pr, pw := io.Pipe()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := encode(ctx, d.Blocks, root, pw)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(dest, pr)
		if err != nil {
			err = fmt.Errorf("write archive: %w", err)
		}
		pr.CloseWithError(err)
		return err
	})

	return g.Wait()
}

func encode(ctx context.Context, blocks []car.Block, root cid.Cid, w io.Writer) (err error) {
	cw, err := car.NewWriter(w, []cid.Cid{root})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cw.Close(); err == nil {
			err = cerr
		}
	}()
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cw.Put(b); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a delegation archive. The first header root becomes the
// delegation root and must be one of the blocks.
func Decode(r io.Reader) (Delegation, error) {
	cr, err := car.NewReader(r)
	if err != nil {
		return Delegation{}, err
	}
	blocks, err := cr.ReadAll()
	if err != nil {
		return Delegation{}, err
	}
	if len(blocks) == 0 {
		return Delegation{}, ErrEmpty
	}

	d := Delegation{Blocks: blocks}
	if roots := cr.Roots(); len(roots) > 0 {
		d.Root = roots[0]
	} else {
		d.Root = blocks[len(blocks)-1].CID
	}
	for _, b := range blocks {
		if b.CID.Equals(d.Root) {
			return d, nil
		}
	}
	return Delegation{}, fmt.Errorf("%w: %s", ErrMissingRoot, d.Root)
}

// OpenDestination opens the export target. An empty path or "-" selects
// stdout, which the returned closer leaves open. Any other path is created
// exclusively and fails if it already exists.
func OpenDestination(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return f, nil
}

// ExportTo opens path with OpenDestination, exports d into it and closes it.
// A partially written file is left in place on failure.
func ExportTo(ctx context.Context, d Delegation, path string) (err error) {
	dest, err := OpenDestination(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dest.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()
	return Export(ctx, d, dest)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
