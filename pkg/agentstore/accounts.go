package agentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/gospace/pkg/did"
)

// Account is an account the agent reports usage for.
type Account struct {
	DID     did.DID
	AddedAt time.Time
}

// AddAccount records an account. Adding a known account keeps its original
// added_at and reports created=false.
func AddAccount(ctx context.Context, db *sql.DB, account did.DID, now time.Time) (created bool, err error) {
	if !account.Defined() {
		return false, errors.New("account DID is required")
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO accounts (did, added_at) VALUES (?, ?) ON CONFLICT(did) DO NOTHING`,
		account.String(), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("insert account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert account: %w", err)
	}
	return n > 0, nil
}

// RemoveAccount forgets an account.
func RemoveAccount(ctx context.Context, db *sql.DB, account did.DID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM accounts WHERE did = ?`, account.String())
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", account, ErrNotFound)
	}
	return nil
}

// ListAccounts returns all accounts ordered by DID.
func ListAccounts(ctx context.Context, db *sql.DB) ([]Account, error) {
	rows, err := db.QueryContext(ctx, `SELECT did, added_at FROM accounts ORDER BY did`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Account
	for rows.Next() {
		var rawDID, addedAt string
		if err := rows.Scan(&rawDID, &addedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		id, err := did.Parse(rawDID)
		if err != nil {
			return nil, fmt.Errorf("stored account: %w", err)
		}
		t, err := parseTime(addedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, Account{DID: id, AddedAt: t})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// AccountDIDs returns the DIDs of all accounts ordered by DID.
func AccountDIDs(ctx context.Context, db *sql.DB) ([]did.DID, error) {
	accounts, err := ListAccounts(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]did.DID, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.DID)
	}
	return out, nil
}
