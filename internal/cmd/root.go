package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gospace/internal/config"
	"github.com/3leaps/gospace/internal/observability"
)

// VersionInfo is stamped into the binary at build time.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "HEAD", BuildDate: "unknown"}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile   string
	verbose   bool
	spaceFlag string

	// appConfig is loaded once per invocation in PersistentPreRunE.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "gospace",
	Short: "Agent for a content-addressed storage service",
	Long: `gospace manages spaces, uploads, shards, usage reports and delegations
against a bucket-backed storage service.

Configuration is read from $XDG_CONFIG_HOME/gospace/config.yaml (or --config),
GOSPACE_* environment variables and flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/gospace/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&spaceFlag, "space", "", "Space DID to operate on (overrides config)")
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("gospace", verbose)

	config.SetConfigFile(cfgFile)
	var overrides []map[string]any
	if spaceFlag != "" {
		overrides = append(overrides, map[string]any{"space": spaceFlag})
	}

	cfg, err := config.Load(cmd.Context(), overrides...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	if !verbose {
		if err := observability.SetLevel(cfg.Logging.Level); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid logging level", err)
		}
	}
	appConfig = cfg

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("backend", cfg.Store.Backend),
		zap.String("space", cfg.Space.String()),
		zap.String("agent_store", cfg.Agent.Store))
	return nil
}

// commandContext applies the configured invocation timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if appConfig != nil && appConfig.Service.Timeout > 0 {
		return context.WithTimeout(ctx, appConfig.Service.Timeout)
	}
	return context.WithCancel(ctx)
}

// Execute runs the root command and exits non-zero on any error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Debug("Command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
