//go:build cloudintegration

package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/paginate"
	"github.com/3leaps/gospace/pkg/removal"
	"github.com/3leaps/gospace/pkg/service"
	"github.com/3leaps/gospace/test/cloudtest"
)

func rawCID(t *testing.T, s string) cid.Cid {
	t.Helper()
	sum, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, sum)
}

func TestBucketClient_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()
	space := did.MustParse("did:key:z6MkCloudSpace")
	provider := did.MustParse("did:web:test.example")

	t.Run("uploads page through S3 continuation tokens", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		client := service.NewBucketClient(cloudtest.NewStore(t, ctx, bucket, 0), service.BucketConfig{Provider: provider})

		now := time.Now().UTC()
		for _, name := range []string{"a", "b", "c", "d", "e"} {
			require.NoError(t, client.PutUpload(ctx, space, service.Upload{Root: rawCID(t, name), InsertedAt: now, UpdatedAt: now}))
		}

		fetch := func(ctx context.Context, cursor string) (*paginate.Page[service.Upload], error) {
			return client.ListUploads(ctx, space, service.ListOptions{Cursor: cursor, Size: 2})
		}
		count := 0
		for _, err := range paginate.All(ctx, fetch) {
			require.NoError(t, err)
			count++
		}
		assert.Equal(t, 5, count)
	})

	t.Run("bulk shard removal reports missing shards", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		client := service.NewBucketClient(cloudtest.NewStore(t, ctx, bucket, 0), service.BucketConfig{Provider: provider, RateLimit: 50})

		a, b, c := rawCID(t, "a"), rawCID(t, "b"), rawCID(t, "c")
		cloudtest.PutShard(t, ctx, bucket, space, a, []byte("aaaa"))
		cloudtest.PutShard(t, ctx, bucket, space, c, []byte("cc"))

		res := removal.RemoveAll(ctx, client, space, []cid.Cid{a, b, c}, nil)
		require.Len(t, res.Outcomes, 3)
		assert.Equal(t, removal.StatusSuccess, res.Outcomes[0].Status)
		assert.Equal(t, removal.StatusFailure, res.Outcomes[1].Status)
		assert.ErrorIs(t, res.Outcomes[1].Err, service.ErrShardNotFound)
		assert.Equal(t, removal.StatusSuccess, res.Outcomes[2].Status)
		assert.Equal(t, 1, res.FailedCount())
	})

	t.Run("usage sums shard sizes", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		client := service.NewBucketClient(cloudtest.NewStore(t, ctx, bucket, 0), service.BucketConfig{Provider: provider})

		cloudtest.PutShard(t, ctx, bucket, space, rawCID(t, "x"), make([]byte, 100))
		cloudtest.PutShard(t, ctx, bucket, space, rawCID(t, "y"), make([]byte, 50))

		period := service.Period{From: time.Now().Add(-time.Hour), To: time.Now().Add(time.Hour)}
		reports, err := client.ReportUsage(ctx, space, period)
		require.NoError(t, err)
		require.Contains(t, reports, provider.String())
		assert.EqualValues(t, 150, reports[provider.String()].Size.Final)
		assert.Zero(t, reports[provider.String()].Size.Initial)
	})
}
