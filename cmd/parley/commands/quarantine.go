package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/veridia/parley/db"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/logger"
	"github.com/veridia/parley/quarantine"
	"github.com/veridia/parley/schema"
)

// QuarantineCmd groups the review workflow subcommands.
var QuarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Review quarantined records",
	Long: `Review records that failed ingestion.

Quarantined records stay in PENDING_REVIEW until a reviewer approves them,
rejects them (deleting the record), or reprocesses them through validation.
Reprocessing is bounded: after 3 failed attempts a record stays pending for
manual disposition.

Examples:
  parley quarantine ls
  parley quarantine show RECORD_ID
  parley quarantine approve RECORD_ID
  parley quarantine reject RECORD_ID
  parley quarantine reprocess RECORD_ID`,
}

var (
	quarantineLimit  int
	quarantineOffset int
)

var quarantineLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List records awaiting review",
	RunE:  runQuarantineLs,
}

var quarantineShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one quarantined record with its raw payload",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineShow,
}

var quarantineApproveCmd = &cobra.Command{
	Use:   "approve ID",
	Short: "Approve a pending record",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineApprove,
}

var quarantineRejectCmd = &cobra.Command{
	Use:   "reject ID",
	Short: "Reject and delete a pending record",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineReject,
}

var quarantineReprocessCmd = &cobra.Command{
	Use:   "reprocess ID",
	Short: "Re-validate a pending record",
	Long: `Feed a quarantined record back through validation. On success the record
transitions to REPROCESSED and the canonical form is printed. Each failed
attempt burns one of the record's 3 reprocess attempts.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuarantineReprocess,
}

func init() {
	quarantineLsCmd.Flags().IntVar(&quarantineLimit, "limit", 50, "Maximum records to list")
	quarantineLsCmd.Flags().IntVar(&quarantineOffset, "offset", 0, "Listing offset for pagination")

	QuarantineCmd.AddCommand(quarantineLsCmd)
	QuarantineCmd.AddCommand(quarantineShowCmd)
	QuarantineCmd.AddCommand(quarantineApproveCmd)
	QuarantineCmd.AddCommand(quarantineRejectCmd)
	QuarantineCmd.AddCommand(quarantineReprocessCmd)
}

// openStore opens the quarantine database configured for this process.
func openStore(cmd *cobra.Command) (*quarantine.Store, *sql.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log := logger.Logger.Named("quarantine")
	conn, err := db.Open(cfg.Quarantine.DatabasePath, log)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open quarantine database")
	}
	if err := db.Migrate(conn, log); err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "failed to migrate quarantine database")
	}
	return quarantine.NewStore(conn), conn, nil
}

func runQuarantineLs(cmd *cobra.Command, args []string) error {
	store, conn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()
	ctx := context.Background()

	pending, err := store.ListPending(ctx, quarantineLimit, quarantineOffset)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		pterm.Info.Println("No records awaiting review")
		return nil
	}

	table := pterm.TableData{{"ID", "Source", "Type", "Attempts", "First failure", "Created"}}
	for _, qr := range pending {
		firstFailure := ""
		if len(qr.ValidationErrors) > 0 {
			firstFailure = qr.ValidationErrors[0].Field + ": " + qr.ValidationErrors[0].Message
		}
		table = append(table, []string{
			qr.ID,
			qr.SourceID,
			string(qr.SourceType),
			fmt.Sprintf("%d/3", qr.AttemptCount),
			firstFailure,
			qr.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
}

func runQuarantineShow(cmd *cobra.Command, args []string) error {
	store, conn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	qr, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	pterm.Printf("ID:       %s\n", qr.ID)
	pterm.Printf("Source:   %s (%s)\n", qr.SourceID, qr.SourceType)
	pterm.Printf("Status:   %s\n", qr.Status)
	pterm.Printf("Attempts: %d/3\n", qr.AttemptCount)
	pterm.Printf("Created:  %s\n", qr.CreatedAt.Format("2006-01-02 15:04:05"))
	pterm.Println()
	pterm.Println("Validation errors:")
	for _, fe := range qr.ValidationErrors {
		pterm.Printf("  %s: %s\n", fe.Field, fe.Message)
	}
	pterm.Println()

	payload, err := json.MarshalIndent(qr.RawPayload, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to format raw payload")
	}
	pterm.Println("Raw payload:")
	pterm.Println(string(payload))
	return nil
}

func runQuarantineApprove(cmd *cobra.Command, args []string) error {
	store, conn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	qr, err := store.Approve(context.Background(), args[0])
	if err != nil {
		return err
	}
	pterm.Success.Printf("Record %s approved\n", qr.ID)
	return nil
}

func runQuarantineReject(cmd *cobra.Command, args []string) error {
	store, conn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := store.Reject(context.Background(), args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Record %s rejected and deleted\n", args[0])
	return nil
}

func runQuarantineReprocess(cmd *cobra.Command, args []string) error {
	store, conn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	reviewer := quarantine.NewReviewer(store, schema.NewValidator())
	canonical, qr, err := reviewer.Reprocess(context.Background(), args[0])
	if err != nil {
		if qr != nil {
			pterm.Warning.Printf("Reprocess failed (attempt %d/3)\n", qr.AttemptCount)
		}
		return err
	}

	pterm.Success.Printf("Record %s reprocessed successfully\n", qr.ID)
	out, err := json.MarshalIndent(canonical, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to format canonical record")
	}
	pterm.Println(string(out))
	return nil
}
