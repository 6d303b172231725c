package agentstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gospace/pkg/car"
	"github.com/3leaps/gospace/pkg/delegation"
	"github.com/3leaps/gospace/pkg/did"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "memory", path: ":memory:", want: ":memory:"},
		{name: "plain path", path: filepath.Join(dir, "a", "agent.db"), want: "file:" + filepath.Join(dir, "a", "agent.db")},
		{name: "file dsn", path: "file:" + filepath.Join(dir, "b", "agent.db"), want: "file:" + filepath.Join(dir, "b", "agent.db")},
		{name: "empty", path: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(Config{Path: tt.path})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.DirExists(t, filepath.Join(dir, "a"))
	assert.DirExists(t, filepath.Join(dir, "b"))
}

func TestOpen_FileAndMigrateTwice(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "agent.db")

	db, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	var version int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
	assert.FileExists(t, path)
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

	bob := did.MustParse("did:mailto:example.com:bob")
	alice := did.MustParse("did:mailto:example.com:alice")

	created, err := AddAccount(ctx, db, bob, now)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = AddAccount(ctx, db, alice, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = AddAccount(ctx, db, bob, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, created, "re-adding keeps the original row")

	accounts, err := ListAccounts(ctx, db)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, alice, accounts[0].DID)
	assert.Equal(t, bob, accounts[1].DID)
	assert.True(t, now.Equal(accounts[1].AddedAt))

	dids, err := AccountDIDs(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []did.DID{alice, bob}, dids)

	require.NoError(t, RemoveAccount(ctx, db, alice))
	assert.ErrorIs(t, RemoveAccount(ctx, db, alice), ErrNotFound)

	_, err = AddAccount(ctx, db, "", now)
	assert.Error(t, err)
}

func TestAccounts_Empty(t *testing.T) {
	accounts, err := ListAccounts(context.Background(), openTestDB(t))
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func testDelegation(t *testing.T, tag string, n int) delegation.Delegation {
	t.Helper()
	var d delegation.Delegation
	for i := range n {
		b, err := car.NewBlock(cid.DagCBOR, []byte(fmt.Sprintf("%s-%d", tag, i)))
		require.NoError(t, err)
		d.Blocks = append(d.Blocks, b)
	}
	return d
}

func TestDelegations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	first := testDelegation(t, "first", 3)
	second := testDelegation(t, "second", 1)
	require.NoError(t, PutDelegation(ctx, db, first, now))
	require.NoError(t, PutDelegation(ctx, db, second, now.Add(time.Minute)))

	root, err := first.RootCID()
	require.NoError(t, err)
	got, err := GetDelegation(ctx, db, root)
	require.NoError(t, err)
	assert.True(t, root.Equals(got.Root))
	require.Len(t, got.Blocks, 3)
	for i := range first.Blocks {
		assert.True(t, first.Blocks[i].CID.Equals(got.Blocks[i].CID))
		assert.Equal(t, first.Blocks[i].Bytes, got.Blocks[i].Bytes)
	}

	rows, err := ListDelegations(ctx, db)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	secondRoot, _ := second.RootCID()
	assert.True(t, secondRoot.Equals(rows[0].Root), "newest first")
	assert.Equal(t, 3, rows[1].Blocks)
	assert.Equal(t, first.Size(), rows[1].SizeBytes)
}

func TestPutDelegation_Replaces(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Now()

	d := testDelegation(t, "x", 3)
	root, _ := d.RootCID()
	require.NoError(t, PutDelegation(ctx, db, d, now))

	// Same root, fewer proofs.
	trimmed := delegation.Delegation{Root: root, Blocks: d.Blocks[1:]}
	require.NoError(t, PutDelegation(ctx, db, trimmed, now))

	got, err := GetDelegation(ctx, db, root)
	require.NoError(t, err)
	assert.Len(t, got.Blocks, 2)

	rows, err := ListDelegations(ctx, db)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGetDelegation_NotFound(t *testing.T) {
	d := testDelegation(t, "missing", 1)
	root, _ := d.RootCID()

	_, err := GetDelegation(context.Background(), openTestDB(t), root)
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, strings.Contains(err.Error(), root.String()))
}

func TestPutDelegation_Empty(t *testing.T) {
	err := PutDelegation(context.Background(), openTestDB(t), delegation.Delegation{}, time.Now())
	assert.ErrorIs(t, err, delegation.ErrEmpty)
}
