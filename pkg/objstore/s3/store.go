package s3

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/gospace/pkg/objstore"
)

// Store implements objstore.Store for AWS S3 and S3-compatible storage.
type Store struct {
	client  *s3.Client
	bucket  string
	maxKeys int
}

var _ objstore.Store = (*Store)(nil)

// New creates a new S3 store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &objstore.StoreError{
			Op:      "New",
			Backend: objstore.BackendS3,
			Bucket:  cfg.Bucket,
			Err:     err,
		}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	return &Store{
		client:  s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:  cfg.Bucket,
		maxKeys: maxKeys,
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply an explicit region; let the SDK resolve env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// List returns a page of objects with the given prefix.
func (s *Store) List(ctx context.Context, opts objstore.ListOptions) (*objstore.ListResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(int32(clampMaxKeys(opts.MaxKeys, s.maxKeys))),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	output, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, s.wrapError("List", "", err)
	}

	objects := make([]objstore.ObjectSummary, 0, len(output.Contents))
	for _, obj := range output.Contents {
		objects = append(objects, objstore.ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         cleanETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}

	result := &objstore.ListResult{
		Objects:     objects,
		IsTruncated: aws.ToBool(output.IsTruncated),
	}
	if output.NextContinuationToken != nil {
		result.ContinuationToken = *output.NextContinuationToken
	}
	return result, nil
}

// Head returns metadata for a single object.
func (s *Store) Head(ctx context.Context, key string) (*objstore.ObjectMeta, error) {
	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}

	return &objstore.ObjectMeta{
		ObjectSummary: objstore.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(output.ContentLength),
			ETag:         cleanETag(aws.ToString(output.ETag)),
			LastModified: aws.ToTime(output.LastModified),
		},
		ContentType: aws.ToString(output.ContentType),
	}, nil
}

// Get opens an object for streaming reads.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, s.wrapError("Get", key, err)
	}
	return output.Body, aws.ToInt64(output.ContentLength), nil
}

// Put uploads an object.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: &contentLength,
	})
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

// Delete removes an object. S3 reports success for missing keys.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return s.wrapError("Delete", key, err)
	}
	return nil
}

// Close releases any resources held by the store.
// The S3 client doesn't require explicit cleanup.
func (s *Store) Close() error {
	return nil
}

// wrapError converts S3 errors to store errors with appropriate sentinels.
func (s *Store) wrapError(op, key string, err error) error {
	return &objstore.StoreError{
		Op:      op,
		Backend: objstore.BackendS3,
		Bucket:  s.bucket,
		Key:     key,
		Err:     classify(err),
	}
}

// classify maps SDK errors onto objstore sentinels, returning err unchanged
// when no mapping applies.
func classify(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return objstore.ErrNotFound
	case errors.As(err, &noSuchBucket):
		return objstore.ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return objstore.ErrNotFound
		case "NoSuchBucket":
			return objstore.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			return objstore.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return objstore.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			return objstore.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			return objstore.ErrUnavailable
		}
		return err
	}

	// Fallback: check error message for common cases
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound") || strings.Contains(msg, "404"):
		return objstore.ErrNotFound
	case strings.Contains(msg, "NoSuchBucket"):
		return objstore.ErrBucketNotFound
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "Forbidden") || strings.Contains(msg, "403"):
		return objstore.ErrAccessDenied
	case strings.Contains(msg, "InvalidAccessKeyId") || strings.Contains(msg, "SignatureDoesNotMatch"):
		return objstore.ErrInvalidCredentials
	case strings.Contains(msg, "SlowDown") || strings.Contains(msg, "Throttling") || strings.Contains(msg, "429"):
		return objstore.ErrThrottled
	case strings.Contains(msg, "ServiceUnavailable") || strings.Contains(msg, "503"):
		return objstore.ErrUnavailable
	}
	return err
}

// cleanETag removes surrounding quotes from an ETag value.
func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

// clampMaxKeys applies defaults and limits to maxKeys values.
func clampMaxKeys(requested, storeDefault int) int {
	if requested <= 0 {
		requested = storeDefault
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// resolveRegion applies the us-east-1 fallback for AWS S3 only.
// S3-compatible endpoints get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
