package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gospace/internal/observability"
	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/output"
	"github.com/3leaps/gospace/pkg/paginate"
	"github.com/3leaps/gospace/pkg/removal"
	"github.com/3leaps/gospace/pkg/service"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "List, register and remove uploads in the current space",
}

var uploadLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List uploads in the current space",
	Long: `List every upload in the current space, following server cursors until
the listing is complete.

Examples:
  gospace upload ls
  gospace upload ls --shards
  gospace upload ls --json --size 50
  gospace upload ls --cursor <cursor-from-a-previous-run>`,
	Args: cobra.NoArgs,
	RunE: runUploadLs,
}

var uploadRmCmd = &cobra.Command{
	Use:   "rm <root-cid>",
	Short: "Remove an upload, optionally with its shards",
	Long: `Remove an upload record from the current space.

With --shards every shard of the upload is removed too. Shard removals run
concurrently and independently; the command reports each outcome and fails
if any shard could not be removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runUploadRm,
}

var uploadAddCmd = &cobra.Command{
	Use:   "add <root-cid> <shard-cid>...",
	Short: "Register an upload over shards already stored in the space",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runUploadAdd,
}

var (
	uploadLsJSON   bool
	uploadLsShards bool
	uploadLsCursor string
	uploadLsSize   int

	uploadRmShards bool
	uploadRmJSON   bool
)

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.AddCommand(uploadLsCmd, uploadRmCmd, uploadAddCmd)

	uploadLsCmd.Flags().BoolVar(&uploadLsJSON, "json", false, "Output as JSONL")
	uploadLsCmd.Flags().BoolVar(&uploadLsShards, "shards", false, "Include shard CIDs of each upload")
	uploadLsCmd.Flags().StringVar(&uploadLsCursor, "cursor", "", "Resume listing from this cursor")
	uploadLsCmd.Flags().IntVar(&uploadLsSize, "size", 0, "Page size requested from the service (0 = configured default)")

	uploadRmCmd.Flags().BoolVar(&uploadRmShards, "shards", false, "Also remove every shard of the upload")
	uploadRmCmd.Flags().BoolVar(&uploadRmJSON, "json", false, "Output as JSONL")
}

// uploadLister is the part of the service client upload ls needs.
type uploadLister interface {
	ListUploads(ctx context.Context, space did.DID, opts service.ListOptions) (*paginate.Page[service.Upload], error)
}

func runUploadLs(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	space, err := currentSpace(appConfig)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "No space", err)
	}
	if uploadLsSize < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --size value", fmt.Errorf("size must be >= 0"))
	}

	client, err := openServiceClient(ctx, appConfig)
	if err != nil {
		observability.CLILogger.Error("Failed to create service client", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage service", err)
	}
	defer func() { _ = client.Close() }()

	var jw output.Writer
	if uploadLsJSON {
		w := newJSONWriter(cmd, space)
		defer func() { _ = w.Close() }()
		jw = w
	}

	uploads := paginate.All(ctx, uploadFetcher(client, space, uploadLsSize), paginate.WithCursor(uploadLsCursor))
	n, err := printUploads(ctx, cmd.OutOrStdout(), jw, uploads, uploadLsShards)
	if err != nil {
		observability.CLILogger.Error("Failed to list uploads", zap.Int("printed", n), zap.Error(err))
		emitError(ctx, jw, space.String(), err)
		return exitError(exitCodeFor(err), "Failed to list uploads", err)
	}
	observability.CLILogger.Debug("Listed uploads", zap.String("space", space.String()), zap.Int("count", n))
	return nil
}

func uploadFetcher(client uploadLister, space did.DID, size int) paginate.FetchFunc[service.Upload] {
	return func(ctx context.Context, cursor string) (*paginate.Page[service.Upload], error) {
		observability.CLILogger.Debug("Fetching upload page", zap.String("cursor", cursor))
		return client.ListUploads(ctx, space, service.ListOptions{Cursor: cursor, Size: size})
	}
}

// printUploads writes each upload as it arrives. jw selects JSONL output;
// otherwise roots are printed one per line with shards indented beneath.
// An empty listing prints a notice in human mode and nothing in JSONL mode.
func printUploads(ctx context.Context, out io.Writer, jw output.Writer, uploads iter.Seq2[service.Upload, error], withShards bool) (int, error) {
	n := 0
	for u, err := range uploads {
		if err != nil {
			return n, err
		}
		n++
		if jw != nil {
			if err := jw.WriteUpload(ctx, output.NewUploadRecord(u, withShards)); err != nil {
				return n, err
			}
			continue
		}
		_, _ = fmt.Fprintln(out, u.Root)
		if withShards {
			for _, s := range u.Shards {
				_, _ = fmt.Fprintf(out, "  %s\n", s)
			}
		}
	}
	if n == 0 && jw == nil {
		_, _ = fmt.Fprintln(out, "No uploads in space")
	}
	return n, nil
}

// uploadRemover is the part of the service client upload rm needs.
type uploadRemover interface {
	GetUpload(ctx context.Context, space did.DID, root cid.Cid) (*service.Upload, error)
	RemoveUpload(ctx context.Context, space did.DID, root cid.Cid) error
	removal.ShardRemover
}

func runUploadRm(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	root, err := parseCID(args[0])
	if err != nil {
		observability.CLILogger.Error("Invalid root CID", zap.String("root", args[0]), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid root CID", err)
	}
	space, err := currentSpace(appConfig)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "No space", err)
	}

	client, err := openServiceClient(ctx, appConfig)
	if err != nil {
		observability.CLILogger.Error("Failed to create service client", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage service", err)
	}
	defer func() { _ = client.Close() }()

	var jw output.Writer
	if uploadRmJSON {
		w := newJSONWriter(cmd, space)
		defer func() { _ = w.Close() }()
		jw = w
	}

	if err := removeUpload(ctx, cmd.OutOrStdout(), jw, client, space, root, uploadRmShards); err != nil {
		if errors.Is(err, errShardsFailed) {
			return exitError(foundry.ExitExternalServiceUnavailable, "Upload removed with shard failures", err)
		}
		observability.CLILogger.Error("Failed to remove upload", zap.String("root", root.String()), zap.Error(err))
		emitError(ctx, jw, root.String(), err)
		return exitError(exitCodeFor(err), "Failed to remove upload", err)
	}
	return nil
}

// removeUpload removes the upload record and, with withShards, every shard
// it references. Shard outcomes are reported in the upload's shard order.
// A partial shard failure returns errShardsFailed after all outcomes are
// printed.
func removeUpload(ctx context.Context, out io.Writer, jw output.Writer, client uploadRemover, space did.DID, root cid.Cid, withShards bool) error {
	var shards []cid.Cid
	if withShards {
		upload, err := client.GetUpload(ctx, space, root)
		if err != nil {
			return err
		}
		shards = upload.Shards
	}

	if err := client.RemoveUpload(ctx, space, root); err != nil {
		return err
	}
	if jw != nil {
		rec := &output.RemovalRecord{Kind: output.KindUpload, ID: root.String(), Status: string(removal.StatusSuccess)}
		if err := jw.WriteRemoval(ctx, rec); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(out, "Removed upload %s\n", root)
	}
	if !withShards {
		return nil
	}

	res := removal.RemoveAll(ctx, client, space, shards, func(o removal.Outcome) {
		observability.CLILogger.Debug("Shard removal resolved",
			zap.String("shard", o.ID.String()),
			zap.String("status", string(o.Status)),
			zap.Error(o.Err))
	})

	for _, o := range res.Outcomes {
		if jw != nil {
			if err := jw.WriteRemoval(ctx, output.NewShardRemovalRecord(o)); err != nil {
				return err
			}
			continue
		}
		if o.Status == removal.StatusSuccess {
			_, _ = fmt.Fprintf(out, "Removed shard %s\n", o.ID)
		} else {
			_, _ = fmt.Fprintf(out, "Failed to remove shard %s: %s\n", o.ID, o.Message())
		}
	}

	if res.Failed() {
		observability.CLILogger.Error("Shard removal incomplete",
			zap.Int("failed", res.FailedCount()),
			zap.Int("total", len(res.Outcomes)))
		return fmt.Errorf("%w: %d of %d failed", errShardsFailed, res.FailedCount(), len(res.Outcomes))
	}
	return nil
}

func runUploadAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	root, err := parseCID(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid root CID", err)
	}
	shards := make([]cid.Cid, 0, len(args)-1)
	for _, arg := range args[1:] {
		s, err := parseCID(arg)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid shard CID", err)
		}
		shards = append(shards, s)
	}
	space, err := currentSpace(appConfig)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "No space", err)
	}

	client, err := openServiceClient(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage service", err)
	}
	defer func() { _ = client.Close() }()

	now := time.Now().UTC()
	upload := service.Upload{Root: root, Shards: shards, InsertedAt: now, UpdatedAt: now}
	if existing, err := client.GetUpload(ctx, space, root); err == nil {
		upload.InsertedAt = existing.InsertedAt
	} else if !service.IsNotFound(err) {
		return exitError(exitCodeFor(err), "Failed to read upload", err)
	}

	if err := client.PutUpload(ctx, space, upload); err != nil {
		observability.CLILogger.Error("Failed to register upload", zap.Error(err))
		return exitError(exitCodeFor(err), "Failed to register upload", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered upload %s with %d shard(s)\n", root, len(shards))
	return nil
}
