package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veridia/parley/cmd/parley/commands"
	"github.com/veridia/parley/logger"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - conversation dataset ingestion pipeline",
	Long: `Parley ingests conversation datasets from local directories, remote
playlists, and S3/GCS buckets, validates them against the canonical
conversation schema, deduplicates them, and feeds the survivors to a
bounded ingestion queue. Failed records are quarantined for review.

Available commands:
  ingest     - Run the ingestion pipeline against configured sources
  quarantine - Review quarantined records (list, approve, reject, reprocess)
  queue      - Inspect the ingestion queue
  config     - Show the effective configuration
  version    - Show version information

Examples:
  parley ingest                    # Drain all configured sources once
  parley quarantine ls             # List records awaiting review
  parley quarantine reprocess ID   # Re-validate a quarantined record
  parley queue stats               # Show queue depth`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize the global logger before any command runs. Skip for
		// display-only commands so their output stays clean.
		if cmd.Name() != "show" && cmd.Name() != "version" {
			jsonOutput, _ := cmd.Flags().GetBool("log-json")
			if err := logger.Initialize(jsonOutput); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON instead of console output")
	rootCmd.PersistentFlags().String("config", "", "Path to a parley.toml configuration file")

	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.QuarantineCmd)
	rootCmd.AddCommand(commands.QueueCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
