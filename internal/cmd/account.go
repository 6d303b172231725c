package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gospace/internal/observability"
	"github.com/3leaps/gospace/pkg/agentstore"
	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/output"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts known to this agent",
	Long: `Manage the accounts this agent reports usage for.

Examples:
  gospace account add did:mailto:example.com:alice
  gospace account ls --json
  gospace account rm did:mailto:example.com:alice`,
}

var accountAddCmd = &cobra.Command{
	Use:   "add <did>",
	Short: "Remember an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountAdd,
}

var accountLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List known accounts",
	Args:    cobra.NoArgs,
	RunE:    runAccountLs,
}

var accountRmCmd = &cobra.Command{
	Use:   "rm <did>",
	Short: "Forget an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountRm,
}

var accountLsJSON bool

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountAddCmd, accountLsCmd, accountRmCmd)

	accountLsCmd.Flags().BoolVar(&accountLsJSON, "json", false, "Output as JSONL")
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	account, err := did.Parse(args[0])
	if err != nil {
		observability.CLILogger.Error("Invalid account DID", zap.String("did", args[0]), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid account DID", err)
	}

	db, err := openAgentStore(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open agent store", err)
	}
	defer func() { _ = db.Close() }()

	created, err := agentstore.AddAccount(ctx, db, account, time.Now())
	if err != nil {
		observability.CLILogger.Error("Failed to add account", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to add account", err)
	}
	if created {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added account %s\n", account)
	} else {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Account %s already known\n", account)
	}
	return nil
}

func runAccountLs(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	db, err := openAgentStore(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open agent store", err)
	}
	defer func() { _ = db.Close() }()

	accounts, err := agentstore.ListAccounts(ctx, db)
	if err != nil {
		observability.CLILogger.Error("Failed to list accounts", zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to list accounts", err)
	}

	if accountLsJSON {
		w := newJSONWriter(cmd, "")
		defer func() { _ = w.Close() }()
		for _, a := range accounts {
			if err := w.WriteAccount(ctx, &output.AccountRecord{DID: a.DID.String(), AddedAt: a.AddedAt}); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return nil
	}

	if len(accounts) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No accounts. Add one with: gospace account add <did>")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ACCOUNT\tADDED")
	for _, a := range accounts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", a.DID, a.AddedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func runAccountRm(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	account, err := did.Parse(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid account DID", err)
	}

	db, err := openAgentStore(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open agent store", err)
	}
	defer func() { _ = db.Close() }()

	if err := agentstore.RemoveAccount(ctx, db, account); err != nil {
		observability.CLILogger.Error("Failed to remove account", zap.Error(err))
		return exitError(exitCodeFor(err), "Failed to remove account", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed account %s\n", account)
	return nil
}
