// Command audiarrd runs the audiobook acquisition orchestrator daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiarr/audiarr/internal/config"
	"github.com/audiarr/audiarr/internal/platform/logger"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "audiarrd",
	Short: "Audiobook acquisition orchestrator",
	Long: `audiarrd schedules and drives audiobook acquisition pipelines:
license negotiation, resumable download, decryption, integrity validation,
and placement into the library, alongside recurring catalog and credential
maintenance jobs.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfigAndLogger loads the configuration and initializes the global
// logger from it. Shared by the subcommands.
func loadConfigAndLogger() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, err := logger.Setup(cfg.Server.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, nil
}
