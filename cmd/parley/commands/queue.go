package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/veridia/parley/logger"
	"github.com/veridia/parley/queue"
)

// QueueCmd groups queue inspection subcommands.
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the ingestion queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth and backend",
	RunE:  runQueueStats,
}

func init() {
	QueueCmd.AddCommand(queueStatsCmd)
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	backend := "memory (in-process, does not persist between runs)"
	if cfg.Queue.DurablePath != "" {
		backend = "durable (" + cfg.Queue.DurablePath + ")"
	}
	pterm.Printf("Backend:  %s\n", backend)
	pterm.Printf("Capacity: %d\n", cfg.Queue.Capacity)
	if cfg.Queue.BlockOnFull {
		pterm.Println("Policy:   block producers when full")
	} else {
		pterm.Println("Policy:   reject when full")
	}

	// Depth is only observable for the durable backend; the memory backend
	// lives and dies with the ingest process.
	if cfg.Queue.DurablePath == "" {
		return nil
	}
	q, err := queue.FromConfig(cfg.Queue, logger.Logger.Named("queue"))
	if err != nil {
		return err
	}
	defer q.Close()

	depth, err := q.Depth(context.Background())
	if err != nil {
		return err
	}
	pterm.Printf("Depth:    %d\n", depth)
	return nil
}
