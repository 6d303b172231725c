package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gospace/pkg/agentstore"
	"github.com/3leaps/gospace/pkg/output"
)

func TestAccountCommands(t *testing.T) {
	testEnv(t)
	alice := "did:mailto:example.com:alice"
	bob := "did:mailto:example.com:bob"

	out, err := runCLI(t, "account", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "No accounts")

	out, err = runCLI(t, "account", "add", bob)
	require.NoError(t, err)
	assert.Equal(t, "Added account "+bob+"\n", out)

	_, err = runCLI(t, "account", "add", alice)
	require.NoError(t, err)

	out, err = runCLI(t, "account", "add", alice)
	require.NoError(t, err)
	assert.Contains(t, out, "already known")

	out, err = runCLI(t, "account", "ls")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ACCOUNT"))
	assert.True(t, strings.HasPrefix(lines[1], alice))
	assert.True(t, strings.HasPrefix(lines[2], bob))

	out, err = runCLI(t, "account", "ls", "--json")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var env output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &env))
	assert.Equal(t, output.TypeAccount, env.Type)
	assert.NotEmpty(t, env.InvocationID)

	out, err = runCLI(t, "account", "rm", bob)
	require.NoError(t, err)
	assert.Equal(t, "Removed account "+bob+"\n", out)

	_, err = runCLI(t, "account", "rm", bob)
	require.Error(t, err)
	assert.ErrorIs(t, err, agentstore.ErrNotFound)
}

func TestAccountAdd_InvalidDID(t *testing.T) {
	testEnv(t)

	_, err := runCLI(t, "account", "add", "alice@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid account DID")
}
