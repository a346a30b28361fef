// Package config loads and validates the Parley process configuration.
package config

// Config represents the core Parley configuration
type Config struct {
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Quarantine QuarantineConfig `mapstructure:"quarantine"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Sources    []SourceConfig   `mapstructure:"sources"`
}

// PipelineConfig configures the ingestion orchestrator
type PipelineConfig struct {
	WorkersPerConnector int `mapstructure:"workers_per_connector"` // concurrent workers per source (default: 1)
	MaxRecords          int `mapstructure:"max_records"`           // per-run record cap; 0 = no cap for finite sources
}

// QueueConfig configures the ingestion queue
type QueueConfig struct {
	Capacity                 int    `mapstructure:"capacity"`      // bounded capacity (default: 1024)
	BlockOnFull              bool   `mapstructure:"block_on_full"` // true: enqueue blocks; false: returns queue-full
	DurablePath              string `mapstructure:"durable_path"`  // SQLite path; empty = in-process backend
	VisibilityTimeoutSeconds int    `mapstructure:"visibility_timeout_seconds"`
}

// QuarantineConfig configures quarantine persistence
type QuarantineConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// DedupConfig configures the bloom-filter deduplicator
type DedupConfig struct {
	Capacity          uint    `mapstructure:"capacity"`            // expected distinct records
	FalsePositiveRate float64 `mapstructure:"false_positive_rate"` // target FP bound
}

// MetricsConfig configures threshold alerting over pipeline counters
type MetricsConfig struct {
	FailureRateThreshold      float64 `mapstructure:"failure_rate_threshold"`      // rolling-window failure fraction
	QuarantineGrowthThreshold int64   `mapstructure:"quarantine_growth_threshold"` // inserts per window
	CheckIntervalSeconds      int     `mapstructure:"check_interval_seconds"`
}

// SourceConfig configures one connector instance. Type selects the variant;
// the variant reads only its own parameter fields.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"` // local | playlist | s3 | gcs

	// local
	Path       string   `mapstructure:"path"`
	Extensions []string `mapstructure:"extensions"`
	Watch      bool     `mapstructure:"watch"`

	// playlist
	URL                 string `mapstructure:"url"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`

	// s3 / gcs
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`

	// retry policy
	Retries           int     `mapstructure:"retries"`
	BackoffFactor     float64 `mapstructure:"backoff_factor"`
	MaxBackoffSeconds int     `mapstructure:"max_backoff_seconds"`

	// token bucket
	RateCapacity         int     `mapstructure:"rate_capacity"`
	RateRefillPerSecond  float64 `mapstructure:"rate_refill_per_second"`
	FetchTimeoutSeconds  int     `mapstructure:"fetch_timeout_seconds"`
	MaxRecords           int     `mapstructure:"max_records"` // per-source cap, overrides pipeline.max_records
}
