package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"github.com/3leaps/gospace/internal/config"
	"github.com/3leaps/gospace/pkg/agentstore"
	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/objstore"
	"github.com/3leaps/gospace/pkg/objstore/file"
	"github.com/3leaps/gospace/pkg/objstore/s3"
	"github.com/3leaps/gospace/pkg/output"
	"github.com/3leaps/gospace/pkg/service"
)

// openObjectStore creates the configured blob backend.
func openObjectStore(ctx context.Context, cfg *config.Config) (objstore.Store, error) {
	switch objstore.Backend(cfg.Store.Backend) {
	case objstore.BackendS3:
		return s3.New(ctx, s3.Config{
			Bucket:   cfg.Store.Bucket,
			Region:   cfg.Store.Region,
			Endpoint: cfg.Store.Endpoint,
			Profile:  cfg.Store.Profile,
			// S3-compatible services (moto, MinIO, etc.) require path-style URLs.
			ForcePathStyle: cfg.Store.Endpoint != "",
		})
	case objstore.BackendFile:
		return file.New(file.Config{BaseDir: cfg.Store.Path})
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// openServiceClient opens the bucket-backed service client. The caller
// closes it.
func openServiceClient(ctx context.Context, cfg *config.Config) (*service.BucketClient, error) {
	store, err := openObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return service.NewBucketClient(store, service.BucketConfig{
		Provider:  cfg.Service.Provider,
		RateLimit: cfg.Service.RateLimit,
		PageSize:  cfg.Service.PageSize,
	}), nil
}

// openAgentStore opens and migrates the local agent database.
func openAgentStore(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := agentstore.Open(ctx, agentstore.Config{Path: cfg.Agent.Store})
	if err != nil {
		return nil, err
	}
	if err := agentstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

var errNoSpace = errors.New("no space selected: set --space, GOSPACE_SPACE or space in the config file")

func currentSpace(cfg *config.Config) (did.DID, error) {
	if !cfg.Space.Defined() {
		return "", errNoSpace
	}
	return cfg.Space, nil
}

func parseCID(s string) (cid.Cid, error) {
	c, err := cid.Decode(strings.TrimSpace(s))
	if err != nil {
		return cid.Undef, fmt.Errorf("invalid CID %q: %w", s, err)
	}
	return c, nil
}

// newJSONWriter starts a JSONL stream on the command's stdout with a fresh
// invocation ID.
func newJSONWriter(cmd *cobra.Command, space did.DID) *output.JSONLWriter {
	return output.NewJSONLWriter(cmd.OutOrStdout(), uuid.NewString(), space.String())
}

// errorCode maps err onto an output error code.
func errorCode(err error) string {
	switch {
	case service.IsNotFound(err), objstore.IsNotFound(err), errors.Is(err, agentstore.ErrNotFound):
		return output.ErrCodeNotFound
	case objstore.IsAccessDenied(err):
		return output.ErrCodeAccessDenied
	case objstore.IsThrottled(err):
		return output.ErrCodeThrottled
	default:
		return output.ErrCodeInternal
	}
}

// emitError reports err as an error record when jw is set. Human mode relies
// on the returned command error alone.
func emitError(ctx context.Context, jw output.Writer, subject string, err error) {
	if jw == nil {
		return
	}
	_ = jw.WriteError(ctx, &output.ErrorRecord{Code: errorCode(err), Message: err.Error(), Subject: subject})
}
