package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Pipeline defaults
	v.SetDefault("pipeline.workers_per_connector", 1)
	v.SetDefault("pipeline.max_records", 0) // 0 = unbounded for finite sources

	// Queue defaults
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.block_on_full", true) // backpressure: pause, never drop
	v.SetDefault("queue.durable_path", "")    // empty = in-process backend
	v.SetDefault("queue.visibility_timeout_seconds", 30)

	// Quarantine defaults
	v.SetDefault("quarantine.database_path", "parley.db")

	// Dedup defaults
	v.SetDefault("dedup.capacity", uint(1_000_000))
	v.SetDefault("dedup.false_positive_rate", 0.001)

	// Metrics / alerting defaults
	v.SetDefault("metrics.failure_rate_threshold", 0.25)
	v.SetDefault("metrics.quarantine_growth_threshold", int64(100))
	v.SetDefault("metrics.check_interval_seconds", 30)
}

// ApplySourceDefaults fills zero-valued per-source knobs with safe defaults.
// Viper defaults cannot cover [[sources]] array entries, so this runs after
// unmarshal.
func ApplySourceDefaults(s *SourceConfig) {
	if s.Retries <= 0 {
		s.Retries = 3
	}
	if s.BackoffFactor <= 1 {
		s.BackoffFactor = 2.0
	}
	if s.MaxBackoffSeconds <= 0 {
		s.MaxBackoffSeconds = 30
	}
	if s.RateCapacity <= 0 {
		s.RateCapacity = 10
	}
	if s.RateRefillPerSecond <= 0 {
		s.RateRefillPerSecond = 5
	}
	if s.FetchTimeoutSeconds <= 0 {
		s.FetchTimeoutSeconds = 30
	}
	if s.PollIntervalSeconds <= 0 {
		s.PollIntervalSeconds = 10
	}
	if len(s.Extensions) == 0 {
		// Only formats the local connector can decode.
		s.Extensions = []string{".json", ".jsonl"}
	}
}
