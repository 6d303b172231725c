package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/output"
	"github.com/3leaps/gospace/pkg/service"
)

const testSpaceDID = did.DID("did:key:z6MkTestSpace")

func testCID(t *testing.T, s string) cid.Cid {
	t.Helper()
	sum, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, sum)
}

func seqOf(uploads []service.Upload, err error) iter.Seq2[service.Upload, error] {
	return func(yield func(service.Upload, error) bool) {
		for _, u := range uploads {
			if !yield(u, nil) {
				return
			}
		}
		if err != nil {
			yield(service.Upload{}, err)
		}
	}
}

func TestPrintUploads_EmptyHuman(t *testing.T) {
	var out bytes.Buffer
	n, err := printUploads(context.Background(), &out, nil, seqOf(nil, nil), false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "No uploads in space\n", out.String())
}

func TestPrintUploads_EmptyJSON(t *testing.T) {
	var out bytes.Buffer
	jw := output.NewJSONLWriter(&out, "inv", testSpaceDID.String())

	n, err := printUploads(context.Background(), &out, jw, seqOf(nil, nil), false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, out.String())
}

func TestPrintUploads_Shards(t *testing.T) {
	root := testCID(t, "root")
	s1, s2 := testCID(t, "s1"), testCID(t, "s2")
	uploads := []service.Upload{{Root: root, Shards: []cid.Cid{s1, s2}}}

	var out bytes.Buffer
	_, err := printUploads(context.Background(), &out, nil, seqOf(uploads, nil), true)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s\n  %s\n  %s\n", root, s1, s2), out.String())

	out.Reset()
	_, err = printUploads(context.Background(), &out, nil, seqOf(uploads, nil), false)
	require.NoError(t, err)
	assert.Equal(t, root.String()+"\n", out.String())
}

func TestPrintUploads_ErrorKeepsPrinted(t *testing.T) {
	uploads := []service.Upload{{Root: testCID(t, "a")}, {Root: testCID(t, "b")}}
	boom := errors.New("page 2 unavailable")

	var out bytes.Buffer
	n, err := printUploads(context.Background(), &out, nil, seqOf(uploads, boom), false)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
	assert.NotContains(t, out.String(), "No uploads")
}

type fakeUploadClient struct {
	mu        sync.Mutex
	upload    *service.Upload
	getErr    error
	removeErr error
	shardErrs map[cid.Cid]error
	gets      int
	removed   []cid.Cid
}

func (f *fakeUploadClient) GetUpload(_ context.Context, _ did.DID, _ cid.Cid) (*service.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.upload, nil
}

func (f *fakeUploadClient) RemoveUpload(_ context.Context, _ did.DID, _ cid.Cid) error {
	return f.removeErr
}

func (f *fakeUploadClient) RemoveShard(_ context.Context, _ did.DID, shard cid.Cid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, shard)
	return f.shardErrs[shard]
}

func TestRemoveUpload_PartialShardFailure(t *testing.T) {
	root := testCID(t, "root")
	a, b, c := testCID(t, "a"), testCID(t, "b"), testCID(t, "c")
	client := &fakeUploadClient{
		upload:    &service.Upload{Root: root, Shards: []cid.Cid{a, b, c}},
		shardErrs: map[cid.Cid]error{b: service.ErrShardNotFound},
	}

	var out bytes.Buffer
	err := removeUpload(context.Background(), &out, nil, client, testSpaceDID, root, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, errShardsFailed)
	assert.Contains(t, err.Error(), "1 of 3 failed")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Removed upload "+root.String(), lines[0])
	assert.Equal(t, "Removed shard "+a.String(), lines[1])
	assert.Equal(t, "Failed to remove shard "+b.String()+": shard not found", lines[2])
	assert.Equal(t, "Removed shard "+c.String(), lines[3])
	assert.Len(t, client.removed, 3)
}

func TestRemoveUpload_JSON(t *testing.T) {
	root := testCID(t, "root")
	a, b := testCID(t, "a"), testCID(t, "b")
	client := &fakeUploadClient{
		upload:    &service.Upload{Root: root, Shards: []cid.Cid{a, b}},
		shardErrs: map[cid.Cid]error{a: errors.New("throttled")},
	}

	var out bytes.Buffer
	jw := output.NewJSONLWriter(&out, "inv", testSpaceDID.String())
	err := removeUpload(context.Background(), &out, jw, client, testSpaceDID, root, true)
	require.ErrorIs(t, err, errShardsFailed)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var recs []output.RemovalRecord
	for _, line := range lines {
		var env output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &env))
		assert.Equal(t, output.TypeRemoval, env.Type)
		var rec output.RemovalRecord
		require.NoError(t, json.Unmarshal(env.Data, &rec))
		recs = append(recs, rec)
	}
	assert.Equal(t, output.KindUpload, recs[0].Kind)
	assert.Equal(t, "failure", recs[1].Status)
	assert.Equal(t, "throttled", recs[1].Error)
	assert.Equal(t, "success", recs[2].Status)
}

func TestRemoveUpload_WithoutShards(t *testing.T) {
	root := testCID(t, "root")
	client := &fakeUploadClient{}

	var out bytes.Buffer
	require.NoError(t, removeUpload(context.Background(), &out, nil, client, testSpaceDID, root, false))
	assert.Zero(t, client.gets)
	assert.Empty(t, client.removed)
	assert.Equal(t, "Removed upload "+root.String()+"\n", out.String())
}

func TestRemoveUpload_EmptyShardList(t *testing.T) {
	root := testCID(t, "root")
	client := &fakeUploadClient{upload: &service.Upload{Root: root}}

	var out bytes.Buffer
	require.NoError(t, removeUpload(context.Background(), &out, nil, client, testSpaceDID, root, true))
	assert.Empty(t, client.removed)
}

func TestRemoveUpload_NotFound(t *testing.T) {
	root := testCID(t, "root")
	client := &fakeUploadClient{getErr: service.ErrUploadNotFound}

	var out bytes.Buffer
	err := removeUpload(context.Background(), &out, nil, client, testSpaceDID, root, true)
	assert.ErrorIs(t, err, service.ErrUploadNotFound)
	assert.Empty(t, out.String())
}

func TestUploadCommands_EndToEnd(t *testing.T) {
	bucket := testEnv(t)
	space := string(testSpaceDID)

	root := testCID(t, "root")
	present, missing := testCID(t, "present"), testCID(t, "missing")

	shardPath := filepath.Join(bucket, "spaces", space, "shards", present.String()+".car")
	require.NoError(t, os.MkdirAll(filepath.Dir(shardPath), 0o755))
	require.NoError(t, os.WriteFile(shardPath, []byte("car bytes"), 0o644))

	out, err := runCLI(t, "--space", space, "upload", "ls", "--json")
	require.NoError(t, err)
	assert.Empty(t, out, "empty space prints no JSON lines")

	out, err = runCLI(t, "--space", space, "upload", "add", root.String(), present.String(), missing.String())
	require.NoError(t, err)
	assert.Contains(t, out, "with 2 shard(s)")

	out, err = runCLI(t, "--space", space, "upload", "ls", "--shards")
	require.NoError(t, err)
	assert.Contains(t, out, root.String())
	assert.Contains(t, out, "  "+present.String())

	out, err = runCLI(t, "--space", space, "upload", "rm", root.String(), "--shards")
	require.Error(t, err)
	assert.ErrorIs(t, err, errShardsFailed)
	assert.Contains(t, out, "Removed shard "+present.String())
	assert.Contains(t, out, "Failed to remove shard "+missing.String())
	assert.NoFileExists(t, shardPath)

	out, err = runCLI(t, "--space", space, "upload", "ls")
	require.NoError(t, err)
	assert.Equal(t, "No uploads in space\n", out)

	_, err = runCLI(t, "--space", space, "upload", "rm", root.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrUploadNotFound)
}

func TestUploadRm_InvalidCID(t *testing.T) {
	testEnv(t)

	_, err := runCLI(t, "--space", string(testSpaceDID), "upload", "rm", "not-a-cid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid root CID")
}

func TestUploadLs_NoSpace(t *testing.T) {
	testEnv(t)

	_, err := runCLI(t, "upload", "ls")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoSpace)
}

func TestUploadRm_JSONErrorRecord(t *testing.T) {
	testEnv(t)
	root := testCID(t, "absent")

	out, err := runCLI(t, "--space", string(testSpaceDID), "upload", "rm", root.String(), "--json")
	require.Error(t, err)

	var env output.Record
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &env))
	assert.Equal(t, output.TypeError, env.Type)
	var rec output.ErrorRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, output.ErrCodeNotFound, rec.Code)
	assert.Equal(t, root.String(), rec.Subject)
}
