package agentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/3leaps/gospace/pkg/car"
	"github.com/3leaps/gospace/pkg/delegation"
)

// DelegationRow summarizes a stored delegation.
type DelegationRow struct {
	Root       cid.Cid
	Blocks     int
	SizeBytes  int64
	ImportedAt time.Time
}

// PutDelegation stores d under its root, replacing any previous copy.
func PutDelegation(ctx context.Context, db *sql.DB, d delegation.Delegation, now time.Time) error {
	root, err := d.RootCID()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	key := root.String()
	if _, err := tx.ExecContext(ctx, `DELETE FROM delegation_blocks WHERE root_cid = ?`, key); err != nil {
		return fmt.Errorf("clear delegation blocks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO delegations (root_cid, block_count, size_bytes, imported_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(root_cid) DO UPDATE SET
			block_count = excluded.block_count,
			size_bytes = excluded.size_bytes,
			imported_at = excluded.imported_at`,
		key, len(d.Blocks), d.Size(), formatTime(now)); err != nil {
		return fmt.Errorf("upsert delegation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO delegation_blocks (root_cid, position, cid, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare block insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, b := range d.Blocks {
		if _, err := stmt.ExecContext(ctx, key, i, b.CID.String(), b.Bytes); err != nil {
			return fmt.Errorf("insert block %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delegation: %w", err)
	}
	return nil
}

// GetDelegation loads the delegation rooted at root with its blocks in
// stored order.
func GetDelegation(ctx context.Context, db *sql.DB, root cid.Cid) (delegation.Delegation, error) {
	key := root.String()

	var count int
	err := db.QueryRowContext(ctx, `SELECT block_count FROM delegations WHERE root_cid = ?`, key).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return delegation.Delegation{}, fmt.Errorf("delegation %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return delegation.Delegation{}, fmt.Errorf("query delegation: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT cid, data FROM delegation_blocks WHERE root_cid = ? ORDER BY position`, key)
	if err != nil {
		return delegation.Delegation{}, fmt.Errorf("query delegation blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	d := delegation.Delegation{Root: root, Blocks: make([]car.Block, 0, count)}
	for rows.Next() {
		var rawCID string
		var data []byte
		if err := rows.Scan(&rawCID, &data); err != nil {
			return delegation.Delegation{}, fmt.Errorf("scan block: %w", err)
		}
		c, err := cid.Decode(rawCID)
		if err != nil {
			return delegation.Delegation{}, fmt.Errorf("stored block cid %q: %w", rawCID, err)
		}
		d.Blocks = append(d.Blocks, car.Block{CID: c, Bytes: data})
	}
	if err := rows.Err(); err != nil {
		return delegation.Delegation{}, fmt.Errorf("iterate blocks: %w", err)
	}
	return d, nil
}

// ListDelegations returns stored delegations, most recently imported first.
func ListDelegations(ctx context.Context, db *sql.DB) ([]DelegationRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT root_cid, block_count, size_bytes, imported_at
		FROM delegations
		ORDER BY imported_at DESC, root_cid`)
	if err != nil {
		return nil, fmt.Errorf("query delegations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DelegationRow
	for rows.Next() {
		var row DelegationRow
		var rawRoot, importedAt string
		if err := rows.Scan(&rawRoot, &row.Blocks, &row.SizeBytes, &importedAt); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		if row.Root, err = cid.Decode(rawRoot); err != nil {
			return nil, fmt.Errorf("stored delegation root %q: %w", rawRoot, err)
		}
		if row.ImportedAt, err = parseTime(importedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delegations: %w", err)
	}
	return out, nil
}
