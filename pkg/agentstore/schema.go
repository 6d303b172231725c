package agentstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the agent schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS accounts (
			did TEXT PRIMARY KEY,
			added_at TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS delegations (
			root_cid TEXT PRIMARY KEY,
			block_count INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			imported_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_delegations_imported_at ON delegations(imported_at);`,

		`CREATE TABLE IF NOT EXISTS delegation_blocks (
			root_cid TEXT NOT NULL,
			position INTEGER NOT NULL,
			cid TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY(root_cid, position),
			FOREIGN KEY(root_cid) REFERENCES delegations(root_cid) ON DELETE CASCADE
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
