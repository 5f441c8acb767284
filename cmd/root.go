// Package cmd wires the CLI surface: flag parsing, layered configuration
// and logger setup happen here, before any subcommand body runs.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/internal/config"
	"github.com/nhantruonghcmut/uitf/internal/observability"
)

var (
	cfgFile     string
	environment string
	platform    string
	overrides   []string

	// resolver carries the layered configuration; subcommands read from it
	// lazily so test-scoped overrides never leak between lookups.
	resolver *config.Resolver

	// cfg is the point-in-time snapshot taken after flags are applied.
	cfg config.Interface
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "uitf",
	Short:   "uitf drives browser and Android UI test suites.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return err
		}

		snapshot, err := resolver.Snapshot()
		if err != nil {
			// Initialize a fallback logger so the error itself is visible.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "uitf"})
			return fmt.Errorf("failed to resolve config: %w", err)
		}
		if err := snapshot.Validate(); err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "uitf"})
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = snapshot

		observability.InitializeLogger(snapshot.Logger())
		observability.GetLogger().Info("Starting uitf",
			zap.String("version", Version),
			zap.String("environment", environment),
			zap.String("platform", platform))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. The logger is flushed before the process exits.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if observability.Initialized() {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		observability.Sync()
		os.Exit(1)
	}
	observability.Sync()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./uitf.yaml)")
	rootCmd.PersistentFlags().StringVarP(&environment, "env", "e", "", "environment overlay to apply (e.g. staging)")
	rootCmd.PersistentFlags().StringVarP(&platform, "platform", "p", "", "platform overlay to apply (web or android)")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "config override as key=value, repeatable")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig builds the resolver from the config file, overlays and
// --set overrides.
func initializeConfig() error {
	resolver = config.NewResolver()
	if err := resolver.LoadFile(cfgFile); err != nil {
		return err
	}
	if environment != "" {
		resolver.SetEnvironment(environment)
	}
	if platform != "" {
		resolver.SetPlatform(platform)
	}
	for _, kv := range overrides {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			return fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		resolver.SetOverride(key, value)
	}
	return nil
}
