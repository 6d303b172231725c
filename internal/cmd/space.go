package cmd

import (
	"context"
	"fmt"
	"slices"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gospace/internal/observability"
	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/service"
)

var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Space administration",
}

var spaceProvisionCmd = &cobra.Command{
	Use:   "provision <account-did>",
	Short: "Attach the current space to an account subscription",
	Long: `Add the current space to the consumers of an account subscription,
creating the subscription if needed. Usage of the space is then reported
under that account.

Examples:
  gospace --space did:key:z6Mk... space provision did:mailto:example.com:alice
  gospace space provision did:mailto:example.com:alice --subscription team`,
	Args: cobra.ExactArgs(1),
	RunE: runSpaceProvision,
}

var spaceSubscription string

func init() {
	rootCmd.AddCommand(spaceCmd)
	spaceCmd.AddCommand(spaceProvisionCmd)

	spaceProvisionCmd.Flags().StringVar(&spaceSubscription, "subscription", "default", "Subscription ID")
}

type subscriptionStore interface {
	ListSubscriptions(ctx context.Context, account did.DID) ([]service.Subscription, error)
	PutSubscription(ctx context.Context, account did.DID, sub service.Subscription) error
}

func runSpaceProvision(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	account, err := did.Parse(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid account DID", err)
	}
	space, err := currentSpace(appConfig)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "No space", err)
	}
	if spaceSubscription == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --subscription value", fmt.Errorf("subscription ID is required"))
	}

	client, err := openServiceClient(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage service", err)
	}
	defer func() { _ = client.Close() }()

	added, err := provisionSpace(ctx, client, account, spaceSubscription, appConfig.Service.Provider, space)
	if err != nil {
		observability.CLILogger.Error("Failed to provision space", zap.Error(err))
		return exitError(exitCodeFor(err), "Failed to provision space", err)
	}
	if added {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %s under %s (subscription %s)\n", space, account, spaceSubscription)
	} else {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is already provisioned under %s\n", space, account)
	}
	return nil
}

// provisionSpace adds space to the named subscription of account. It reports
// false when the space was already a consumer.
func provisionSpace(ctx context.Context, store subscriptionStore, account did.DID, subID string, provider, space did.DID) (bool, error) {
	subs, err := store.ListSubscriptions(ctx, account)
	if err != nil {
		return false, err
	}

	sub := service.Subscription{ID: subID, Provider: provider}
	for _, s := range subs {
		if s.ID == subID {
			sub = s
			break
		}
	}
	if slices.Contains(sub.Consumers, space) {
		return false, nil
	}
	sub.Consumers = append(sub.Consumers, space)
	if err := store.PutSubscription(ctx, account, sub); err != nil {
		return false, err
	}
	return true, nil
}
