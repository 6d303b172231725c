package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gospace/internal/observability"
	"github.com/3leaps/gospace/pkg/agentstore"
	"github.com/3leaps/gospace/pkg/delegation"
	"github.com/3leaps/gospace/pkg/output"
)

var delegationCmd = &cobra.Command{
	Use:   "delegation",
	Short: "Import, list and export capability delegations",
}

var delegationImportCmd = &cobra.Command{
	Use:   "import <file.car>",
	Short: "Import a delegation archive into the agent store",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelegationImport,
}

var delegationLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stored delegations",
	Args:    cobra.NoArgs,
	RunE:    runDelegationLs,
}

var delegationExportCmd = &cobra.Command{
	Use:   "export <root-cid>",
	Short: "Export a stored delegation as a CAR archive",
	Long: `Write a stored delegation as a CAR v1 archive.

Without --output (or with --output -) the archive is streamed to stdout.
An output file must not already exist.

Examples:
  gospace delegation export bafy... --output proof.car
  gospace delegation export bafy... | base64`,
	Args: cobra.ExactArgs(1),
	RunE: runDelegationExport,
}

var (
	delegationLsJSON bool
	delegationOutput string
)

func init() {
	rootCmd.AddCommand(delegationCmd)
	delegationCmd.AddCommand(delegationImportCmd, delegationLsCmd, delegationExportCmd)

	delegationLsCmd.Flags().BoolVar(&delegationLsJSON, "json", false, "Output as JSONL")
	delegationExportCmd.Flags().StringVarP(&delegationOutput, "output", "o", "", "Output file (default stdout)")
}

func runDelegationImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	f, err := os.Open(args[0])
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Failed to open archive", err)
	}
	defer func() { _ = f.Close() }()

	d, err := delegation.Decode(f)
	if err != nil {
		observability.CLILogger.Error("Invalid delegation archive", zap.String("path", args[0]), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid delegation archive", err)
	}

	db, err := openAgentStore(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open agent store", err)
	}
	defer func() { _ = db.Close() }()

	if err := agentstore.PutDelegation(ctx, db, d, time.Now()); err != nil {
		observability.CLILogger.Error("Failed to store delegation", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to store delegation", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported delegation %s (%d blocks)\n", d.Root, len(d.Blocks))
	return nil
}

func runDelegationLs(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	db, err := openAgentStore(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open agent store", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := agentstore.ListDelegations(ctx, db)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list delegations", err)
	}

	if delegationLsJSON {
		w := newJSONWriter(cmd, "")
		defer func() { _ = w.Close() }()
		for _, r := range rows {
			rec := &output.DelegationRecord{Root: r.Root.String(), Blocks: r.Blocks, SizeBytes: r.SizeBytes, ImportedAt: r.ImportedAt}
			if err := w.WriteDelegation(ctx, rec); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return nil
	}

	if len(rows) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No delegations")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ROOT\tBLOCKS\tSIZE\tIMPORTED")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Root, r.Blocks, humanize.IBytes(uint64(r.SizeBytes)), humanize.Time(r.ImportedAt))
	}
	return tw.Flush()
}

func runDelegationExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	root, err := parseCID(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid root CID", err)
	}

	db, err := openAgentStore(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open agent store", err)
	}
	defer func() { _ = db.Close() }()

	d, err := agentstore.GetDelegation(ctx, db, root)
	if err != nil {
		observability.CLILogger.Error("Delegation not available", zap.String("root", root.String()), zap.Error(err))
		return exitError(exitCodeFor(err), "Delegation not available", err)
	}

	if delegationOutput == "" || delegationOutput == "-" {
		err = delegation.Export(ctx, d, cmd.OutOrStdout())
	} else {
		err = delegation.ExportTo(ctx, d, delegationOutput)
	}
	if err != nil {
		observability.CLILogger.Error("Export failed", zap.String("output", delegationOutput), zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Export failed", err)
	}
	observability.CLILogger.Debug("Exported delegation",
		zap.String("root", root.String()),
		zap.Int("blocks", len(d.Blocks)),
		zap.String("output", delegationOutput))
	return nil
}
