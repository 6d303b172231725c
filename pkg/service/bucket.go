package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"golang.org/x/time/rate"

	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/objstore"
	"github.com/3leaps/gospace/pkg/paginate"
)

// DefaultPageSize is the ListUploads page size when none is requested.
const DefaultPageSize = 100

// Object key layout inside the bucket:
//
//	spaces/<space>/uploads/<root>.json              upload records
//	spaces/<space>/shards/<shard>.car               shard bytes
//	accounts/<account>/subscriptions/<id>.json      subscription records
const (
	uploadSuffix       = ".json"
	shardSuffix        = ".car"
	subscriptionSuffix = ".json"
)

// BucketConfig configures a BucketClient.
type BucketConfig struct {
	// Provider is the DID usage is reported under.
	Provider did.DID

	// RateLimit caps requests per second to the store.
	// Zero means unlimited.
	RateLimit float64

	// PageSize is the default ListUploads page size.
	PageSize int
}

// BucketClient implements Client over an object store.
//
// BucketClient is safe for concurrent use.
type BucketClient struct {
	store    objstore.Store
	provider did.DID
	pageSize int

	// Rate limiter (nil if unlimited)
	limiter *rate.Limiter
}

var _ Client = (*BucketClient)(nil)

// NewBucketClient creates a client over store. The client owns store and
// closes it in Close.
func NewBucketClient(store objstore.Store, cfg BucketConfig) *BucketClient {
	c := &BucketClient{
		store:    store,
		provider: cfg.Provider,
		pageSize: cfg.PageSize,
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// uploadRecord is the stored form of an Upload.
type uploadRecord struct {
	Root       string    `json:"root"`
	Shards     []string  `json:"shards"`
	InsertedAt time.Time `json:"inserted_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// subscriptionRecord is the stored form of a Subscription.
type subscriptionRecord struct {
	ID        string   `json:"id"`
	Provider  string   `json:"provider"`
	Consumers []string `json:"consumers"`
}

func uploadsPrefix(space did.DID) string {
	return "spaces/" + space.String() + "/uploads/"
}

func uploadKey(space did.DID, root cid.Cid) string {
	return uploadsPrefix(space) + root.String() + uploadSuffix
}

func shardsPrefix(space did.DID) string {
	return "spaces/" + space.String() + "/shards/"
}

func shardKey(space did.DID, shard cid.Cid) string {
	return shardsPrefix(space) + shard.String() + shardSuffix
}

func subscriptionsPrefix(account did.DID) string {
	return "accounts/" + account.String() + "/subscriptions/"
}

// waitForRateLimit blocks until the rate limiter allows a request.
func (c *BucketClient) waitForRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// ListUploads returns one page of uploads. The cursor is the store's
// continuation token.
func (c *BucketClient) ListUploads(ctx context.Context, space did.DID, opts ListOptions) (*paginate.Page[Upload], error) {
	size := opts.Size
	if size <= 0 {
		size = c.pageSize
	}

	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}
	res, err := c.store.List(ctx, objstore.ListOptions{
		Prefix:            uploadsPrefix(space),
		ContinuationToken: opts.Cursor,
		MaxKeys:           size,
	})
	if err != nil {
		return nil, &ServiceError{Op: "ListUploads", Subject: space, Err: err}
	}

	page := &paginate.Page[Upload]{Items: make([]Upload, 0, len(res.Objects))}
	for _, obj := range res.Objects {
		if !strings.HasSuffix(obj.Key, uploadSuffix) {
			continue
		}
		upload, err := c.readUpload(ctx, obj.Key)
		if err != nil {
			// A record removed between list and read is skipped.
			if objstore.IsNotFound(err) {
				continue
			}
			return nil, &ServiceError{Op: "ListUploads", Subject: space, Item: obj.Key, Err: err}
		}
		page.Items = append(page.Items, *upload)
	}
	if res.IsTruncated {
		page.Cursor = res.ContinuationToken
	}
	return page, nil
}

// GetUpload returns the upload registered under root.
func (c *BucketClient) GetUpload(ctx context.Context, space did.DID, root cid.Cid) (*Upload, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}
	upload, err := c.readUpload(ctx, uploadKey(space, root))
	if err != nil {
		if objstore.IsNotFound(err) {
			err = ErrUploadNotFound
		}
		return nil, &ServiceError{Op: "GetUpload", Subject: space, Item: root.String(), Err: err}
	}
	return upload, nil
}

// RemoveUpload deletes the upload record. Shards are not touched.
func (c *BucketClient) RemoveUpload(ctx context.Context, space did.DID, root cid.Cid) error {
	key := uploadKey(space, root)
	if err := c.waitForRateLimit(ctx); err != nil {
		return err
	}
	if _, err := c.store.Head(ctx, key); err != nil {
		if objstore.IsNotFound(err) {
			err = ErrUploadNotFound
		}
		return &ServiceError{Op: "RemoveUpload", Subject: space, Item: root.String(), Err: err}
	}
	if err := c.store.Delete(ctx, key); err != nil {
		return &ServiceError{Op: "RemoveUpload", Subject: space, Item: root.String(), Err: err}
	}
	return nil
}

// ListSubscriptions drains the account's subscription records.
func (c *BucketClient) ListSubscriptions(ctx context.Context, account did.DID) ([]Subscription, error) {
	objects, err := paginate.Collect(ctx, c.listFetcher(subscriptionsPrefix(account)))
	if err != nil {
		return nil, &ServiceError{Op: "ListSubscriptions", Subject: account, Err: err}
	}

	subs := make([]Subscription, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, subscriptionSuffix) {
			continue
		}
		var rec subscriptionRecord
		if err := c.readJSON(ctx, obj.Key, &rec); err != nil {
			return nil, &ServiceError{Op: "ListSubscriptions", Subject: account, Item: obj.Key, Err: err}
		}
		sub, err := rec.decode()
		if err != nil {
			return nil, &ServiceError{Op: "ListSubscriptions", Subject: account, Item: obj.Key, Err: err}
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ReportUsage sums the bytes of the space's shards. A shard counts toward
// Initial when it was stored before period.From and toward Final when it was
// stored before period.To.
func (c *BucketClient) ReportUsage(ctx context.Context, space did.DID, period Period) (map[string]UsageReport, error) {
	report := UsageReport{Provider: c.provider, Space: space, Period: period}

	for obj, err := range paginate.All(ctx, c.listFetcher(shardsPrefix(space))) {
		if err != nil {
			return nil, &ServiceError{Op: "ReportUsage", Subject: space, Err: err}
		}
		if !strings.HasSuffix(obj.Key, shardSuffix) {
			continue
		}
		if obj.LastModified.Before(period.From) {
			report.Size.Initial += obj.Size
		}
		if obj.LastModified.Before(period.To) {
			report.Size.Final += obj.Size
		}
	}

	return map[string]UsageReport{c.provider.String(): report}, nil
}

// RemoveShard deletes one shard. Missing shards are reported as
// ErrShardNotFound rather than silently succeeding.
func (c *BucketClient) RemoveShard(ctx context.Context, space did.DID, shard cid.Cid) error {
	key := shardKey(space, shard)
	if err := c.waitForRateLimit(ctx); err != nil {
		return err
	}
	if _, err := c.store.Head(ctx, key); err != nil {
		if objstore.IsNotFound(err) {
			err = ErrShardNotFound
		}
		return &ServiceError{Op: "RemoveShard", Subject: space, Item: shard.String(), Err: err}
	}
	if err := c.waitForRateLimit(ctx); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, key); err != nil {
		return &ServiceError{Op: "RemoveShard", Subject: space, Item: shard.String(), Err: err}
	}
	return nil
}

// Close closes the underlying store.
func (c *BucketClient) Close() error {
	return c.store.Close()
}

// listFetcher adapts store listing under prefix to a paginate.FetchFunc.
func (c *BucketClient) listFetcher(prefix string) paginate.FetchFunc[objstore.ObjectSummary] {
	return func(ctx context.Context, cursor string) (*paginate.Page[objstore.ObjectSummary], error) {
		if err := c.waitForRateLimit(ctx); err != nil {
			return nil, err
		}
		res, err := c.store.List(ctx, objstore.ListOptions{Prefix: prefix, ContinuationToken: cursor})
		if err != nil {
			return nil, err
		}
		page := &paginate.Page[objstore.ObjectSummary]{Items: res.Objects}
		if res.IsTruncated {
			page.Cursor = res.ContinuationToken
		}
		return page, nil
	}
}

func (c *BucketClient) readUpload(ctx context.Context, key string) (*Upload, error) {
	var rec uploadRecord
	if err := c.readJSON(ctx, key, &rec); err != nil {
		return nil, err
	}
	return rec.decode()
}

func (c *BucketClient) readJSON(ctx context.Context, key string, v any) error {
	if err := c.waitForRateLimit(ctx); err != nil {
		return err
	}
	body, _, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, key, err)
	}
	return nil
}

func (r uploadRecord) decode() (*Upload, error) {
	root, err := cid.Decode(r.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q: %v", ErrMalformedRecord, r.Root, err)
	}
	shards := make([]cid.Cid, 0, len(r.Shards))
	for _, s := range r.Shards {
		shard, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: shard %q: %v", ErrMalformedRecord, s, err)
		}
		shards = append(shards, shard)
	}
	return &Upload{Root: root, Shards: shards, InsertedAt: r.InsertedAt, UpdatedAt: r.UpdatedAt}, nil
}

func (r subscriptionRecord) decode() (Subscription, error) {
	provider, err := did.Parse(r.Provider)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	consumers := make([]did.DID, 0, len(r.Consumers))
	for _, s := range r.Consumers {
		consumer, err := did.Parse(s)
		if err != nil {
			return Subscription{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		consumers = append(consumers, consumer)
	}
	return Subscription{ID: r.ID, Provider: provider, Consumers: consumers}, nil
}

// PutUpload registers an upload record. It is used by seeding tools and
// tests; uploading shard bytes is outside this client.
func (c *BucketClient) PutUpload(ctx context.Context, space did.DID, upload Upload) error {
	rec := uploadRecord{
		Root:       upload.Root.String(),
		Shards:     make([]string, 0, len(upload.Shards)),
		InsertedAt: upload.InsertedAt.UTC(),
		UpdatedAt:  upload.UpdatedAt.UTC(),
	}
	for _, s := range upload.Shards {
		rec.Shards = append(rec.Shards, s.String())
	}
	return c.putJSON(ctx, "PutUpload", space, uploadKey(space, upload.Root), rec)
}

// PutSubscription stores a subscription record for account.
func (c *BucketClient) PutSubscription(ctx context.Context, account did.DID, sub Subscription) error {
	rec := subscriptionRecord{ID: sub.ID, Provider: sub.Provider.String()}
	for _, consumer := range sub.Consumers {
		rec.Consumers = append(rec.Consumers, consumer.String())
	}
	return c.putJSON(ctx, "PutSubscription", account, subscriptionsPrefix(account)+sub.ID+subscriptionSuffix, rec)
}

func (c *BucketClient) putJSON(ctx context.Context, op string, subject did.DID, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &ServiceError{Op: op, Subject: subject, Item: key, Err: err}
	}
	if err := c.waitForRateLimit(ctx); err != nil {
		return err
	}
	if err := c.store.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return &ServiceError{Op: op, Subject: subject, Item: key, Err: err}
	}
	return nil
}
