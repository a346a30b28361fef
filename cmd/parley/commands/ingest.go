package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/connector"
	"github.com/veridia/parley/db"
	"github.com/veridia/parley/dedup"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/logger"
	"github.com/veridia/parley/metrics"
	"github.com/veridia/parley/pipeline"
	"github.com/veridia/parley/quarantine"
	"github.com/veridia/parley/queue"
	"github.com/veridia/parley/schema"
)

// IngestCmd runs the ingestion pipeline.
var IngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the ingestion pipeline against configured sources",
	Long: `Run the ingestion pipeline: fetch records from every configured source,
validate and deduplicate them, enqueue the survivors, and quarantine the
failures.

Finite sources (local directories without watch mode, buckets) run to
exhaustion. Polling sources (playlists, watched directories) run until
interrupted.

Examples:
  parley ingest                      # All configured sources
  parley ingest --source inbox       # A single source by name`,
	RunE: runIngest,
}

var ingestSourceName string

func init() {
	IngestCmd.Flags().StringVar(&ingestSourceName, "source", "", "Run only the named source")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sources := cfg.Sources
	if ingestSourceName != "" {
		sources = nil
		for _, s := range cfg.Sources {
			if s.Name == ingestSourceName {
				sources = append(sources, s)
			}
		}
		if len(sources) == 0 {
			return errors.Newf("no configured source named %q", ingestSourceName)
		}
	}
	if len(sources) == 0 {
		return errors.New("no sources configured; add [[sources]] entries to parley.toml")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Logger.Named("ingest")

	conn, err := db.Open(cfg.Quarantine.DatabasePath, log)
	if err != nil {
		return errors.Wrap(err, "failed to open quarantine database")
	}
	defer conn.Close()
	if err := db.Migrate(conn, log); err != nil {
		return errors.Wrap(err, "failed to migrate quarantine database")
	}

	q, err := queue.FromConfig(cfg.Queue, log)
	if err != nil {
		return errors.Wrap(err, "failed to open ingestion queue")
	}
	defer q.Close()

	connectors := make([]connector.Connector, 0, len(sources))
	for _, s := range sources {
		c, err := connector.FromConfig(ctx, s, log.Named(s.Name))
		if err != nil {
			return errors.Wrapf(err, "failed to build source %q", s.Name)
		}
		connectors = append(connectors, c)
	}

	m := metrics.New()
	monitor := metrics.NewAlertMonitor(m, cfg.Metrics, log.Named("alerts"))
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	go monitor.Run(monitorCtx)

	p := pipeline.New(pipeline.Options{
		Validator:           schema.NewValidator(),
		Dedup:               dedup.New(cfg.Dedup.Capacity, cfg.Dedup.FalsePositiveRate),
		Queue:               q,
		Store:               quarantine.NewStore(conn),
		Metrics:             m,
		Logger:              log,
		WorkersPerConnector: cfg.Pipeline.WorkersPerConnector,
	})

	pterm.Info.Printf("Ingesting from %d source(s)\n", len(connectors))

	result, err := p.Run(ctx, connectors)
	if err != nil {
		return err
	}

	pterm.Println()
	pterm.Success.Println("Ingestion run complete")
	pterm.Printf("  Fetched:             %d\n", result.Fetched)
	pterm.Printf("  Enqueued:            %d\n", result.Enqueued)
	pterm.Printf("  Duplicates:          %d\n", result.Duplicates)
	pterm.Printf("  Quarantined:         %d\n", result.Quarantined)
	pterm.Printf("  Security violations: %d\n", result.SecurityViolations)
	pterm.Printf("  Fetch errors:        %d\n", result.FetchErrors)
	for _, name := range result.SkippedSources {
		pterm.Warning.Printf("Source %q was unreachable and skipped\n", name)
	}
	return nil
}

// loadConfig honors --config when set, otherwise the usual search path.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
