package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gospace/pkg/car"
	"github.com/3leaps/gospace/pkg/output"
)

// writeArchive writes a two-block delegation archive and returns its path
// and root.
func writeArchive(t *testing.T, dir string) (string, cid.Cid) {
	t.Helper()
	proof, err := car.NewBlock(cid.DagCBOR, []byte("proof"))
	require.NoError(t, err)
	root, err := car.NewBlock(cid.DagCBOR, []byte("delegation"))
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := car.NewWriter(&buf, []cid.Cid{root.CID})
	require.NoError(t, err)
	require.NoError(t, w.Put(proof))
	require.NoError(t, w.Put(root))
	require.NoError(t, w.Close())

	path := filepath.Join(dir, "delegation.car")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path, root.CID
}

func TestDelegationCommands(t *testing.T) {
	testEnv(t)
	dir := t.TempDir()
	archive, root := writeArchive(t, dir)

	out, err := runCLI(t, "delegation", "ls")
	require.NoError(t, err)
	assert.Equal(t, "No delegations\n", out)

	out, err = runCLI(t, "delegation", "import", archive)
	require.NoError(t, err)
	assert.Equal(t, "Imported delegation "+root.String()+" (2 blocks)\n", out)

	out, err = runCLI(t, "delegation", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, root.String())

	out, err = runCLI(t, "delegation", "ls", "--json")
	require.NoError(t, err)
	var env output.Record
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &env))
	assert.Equal(t, output.TypeDelegation, env.Type)

	original, err := os.ReadFile(archive)
	require.NoError(t, err)

	exported := filepath.Join(dir, "exported.car")
	_, err = runCLI(t, "delegation", "export", root.String(), "--output", exported)
	require.NoError(t, err)
	got, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Equal(t, original, got)

	out, err = runCLI(t, "delegation", "export", root.String())
	require.NoError(t, err)
	assert.Equal(t, string(original), out)

	_, err = runCLI(t, "delegation", "export", root.String(), "-o", exported)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestDelegationImport_Malformed(t *testing.T) {
	testEnv(t)
	path := filepath.Join(t.TempDir(), "bad.car")
	require.NoError(t, os.WriteFile(path, []byte("not a car"), 0o644))

	_, err := runCLI(t, "delegation", "import", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid delegation archive")
}

func TestDelegationExport_Unknown(t *testing.T) {
	testEnv(t)

	_, err := runCLI(t, "delegation", "export", testCID(t, "unknown").String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Delegation not available")
}
