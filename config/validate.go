package config

import (
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Pipeline.WorkersPerConnector < 0 {
		return errors.Newf("pipeline.workers_per_connector must be >= 0, got %d", c.Pipeline.WorkersPerConnector)
	}
	if c.Pipeline.MaxRecords < 0 {
		return errors.Newf("pipeline.max_records must be >= 0, got %d", c.Pipeline.MaxRecords)
	}

	if c.Queue.Capacity <= 0 {
		return errors.Newf("queue.capacity must be > 0, got %d", c.Queue.Capacity)
	}
	if c.Queue.VisibilityTimeoutSeconds <= 0 {
		return errors.Newf("queue.visibility_timeout_seconds must be > 0, got %d", c.Queue.VisibilityTimeoutSeconds)
	}

	if c.Quarantine.DatabasePath == "" {
		return errors.New("quarantine.database_path cannot be empty")
	}

	if c.Dedup.Capacity == 0 {
		return errors.New("dedup.capacity must be > 0")
	}
	if c.Dedup.FalsePositiveRate <= 0 || c.Dedup.FalsePositiveRate >= 1 {
		return errors.Newf("dedup.false_positive_rate must be in (0,1), got %f", c.Dedup.FalsePositiveRate)
	}

	if c.Metrics.FailureRateThreshold < 0 || c.Metrics.FailureRateThreshold > 1 {
		return errors.Newf("metrics.failure_rate_threshold must be in [0,1], got %f", c.Metrics.FailureRateThreshold)
	}
	if c.Metrics.CheckIntervalSeconds <= 0 {
		return errors.Newf("metrics.check_interval_seconds must be > 0, got %d", c.Metrics.CheckIntervalSeconds)
	}

	names := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return errors.Newf("sources[%d].name cannot be empty", i)
		}
		if _, dup := names[src.Name]; dup {
			return errors.Newf("duplicate source name %q", src.Name)
		}
		names[src.Name] = struct{}{}

		switch src.Type {
		case "local":
			if src.Path == "" {
				return errors.Newf("sources[%d] (%s): local source requires path", i, src.Name)
			}
		case "playlist":
			if src.URL == "" {
				return errors.Newf("sources[%d] (%s): playlist source requires url", i, src.Name)
			}
		case "s3":
			if src.Bucket == "" || src.Region == "" {
				return errors.Newf("sources[%d] (%s): s3 source requires bucket and region", i, src.Name)
			}
		case "gcs":
			if src.Bucket == "" {
				return errors.Newf("sources[%d] (%s): gcs source requires bucket", i, src.Name)
			}
		default:
			return errors.Newf("sources[%d] (%s): unknown source type %q", i, src.Name, src.Type)
		}

		if src.Retries < 0 {
			return errors.Newf("sources[%d] (%s): retries must be >= 0, got %d", i, src.Name, src.Retries)
		}
	}

	return nil
}

// SourceType maps the config type tag to the record.SourceType enum.
func (s *SourceConfig) SourceType() record.SourceType {
	switch s.Type {
	case "local":
		return record.SourceLocalFile
	case "playlist":
		return record.SourcePlaylist
	case "s3":
		return record.SourceS3
	case "gcs":
		return record.SourceGCS
	default:
		return record.SourceCanonical
	}
}
