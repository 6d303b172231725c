package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gospace/internal/observability"
	"github.com/3leaps/gospace/pkg/agentstore"
	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/output"
	"github.com/3leaps/gospace/pkg/service"
	"github.com/3leaps/gospace/pkg/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Storage usage reporting",
}

var usageReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report last month's usage for every space of every known account",
	Long: `Walk every known account, its subscriptions and the spaces each
subscription pays for, and print one usage row per space and provider.

The period runs from the start of the previous calendar month (UTC) to now.
Rows are printed as soon as each space is reported; a total follows.

Examples:
  gospace usage report
  gospace usage report --human
  gospace usage report --json`,
	Args: cobra.NoArgs,
	RunE: runUsageReport,
}

var (
	usageJSON  bool
	usageHuman bool
)

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageReportCmd)

	usageReportCmd.Flags().BoolVar(&usageJSON, "json", false, "Output as JSONL")
	usageReportCmd.Flags().BoolVar(&usageHuman, "human", false, "Format sizes with binary units (KiB, MiB, ...)")
}

func runUsageReport(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	db, err := openAgentStore(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open agent store", err)
	}
	accounts, err := agentstore.AccountDIDs(ctx, db)
	_ = db.Close()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list accounts", err)
	}

	client, err := openServiceClient(ctx, appConfig)
	if err != nil {
		observability.CLILogger.Error("Failed to create service client", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage service", err)
	}
	defer func() { _ = client.Close() }()

	var jw output.Writer
	if usageJSON {
		w := newJSONWriter(cmd, "")
		defer func() { _ = w.Close() }()
		jw = w
	}

	period := usage.LastMonth(time.Now())
	observability.CLILogger.Debug("Reporting usage",
		zap.Int("accounts", len(accounts)),
		zap.Time("from", period.From),
		zap.Time("to", period.To))

	totals, err := reportUsage(ctx, cmd.OutOrStdout(), jw, client, accounts, period, usageHuman)
	if err != nil {
		observability.CLILogger.Error("Usage report failed", zap.Int64("records", totals.Records), zap.Error(err))
		emitError(ctx, jw, "", err)
		return exitError(exitCodeFor(err), "Usage report failed", err)
	}
	return nil
}

// reportUsage prints each aggregated record as it is produced, then the
// total. The first error stops the report; rows already printed stay.
func reportUsage(ctx context.Context, out io.Writer, jw output.Writer, reporter usage.Reporter, accounts []did.DID, period service.Period, human bool) (usage.Totals, error) {
	var totals usage.Totals
	if len(accounts) == 0 && jw == nil {
		_, _ = fmt.Fprintln(out, "No accounts. Add one with: gospace account add <did>")
		return totals, nil
	}

	for rec, err := range usage.Aggregate(ctx, reporter, accounts, period) {
		if err != nil {
			return totals, err
		}
		totals.Add(rec)

		if jw != nil {
			if err := jw.WriteUsage(ctx, output.NewUsageRecord(rec)); err != nil {
				return totals, err
			}
			continue
		}
		_, _ = fmt.Fprintf(out, "Account:  %s\nProvider: %s\nSpace:    %s\nSize:     %s\n\n",
			rec.Account, rec.Provider, rec.Space, usage.FormatSize(rec.Size.Final, human))
	}

	if jw != nil {
		return totals, jw.WriteUsageTotal(ctx, &output.UsageTotalRecord{Records: totals.Records, FinalBytes: totals.Final})
	}
	_, _ = fmt.Fprintf(out, "Total: %s\n", usage.FormatSize(totals.Final, human))
	return totals, nil
}
