// Package connector implements the source adapters that feed the ingestion
// pipeline: local directories, remote playlists, and S3/GCS buckets. Every
// connector shares the same contract and the same fetch guard (token-bucket
// rate limiting plus bounded retry with jittered backoff).
package connector

import (
	"context"

	"go.uber.org/zap"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

// Connector is one configured source of raw records.
//
// Connect verifies reachability and credentials without fetching records;
// a source that fails Connect never gets a fetch attempt. Fetch streams
// records and per-item errors until the source is exhausted or ctx is
// cancelled; both channels close when the stream ends. Item errors are
// advisory: the stream continues past them.
type Connector interface {
	Name() string
	SourceType() record.SourceType
	Connect(ctx context.Context) error
	Fetch(ctx context.Context) (<-chan record.IngestRecord, <-chan error)
}

// FromConfig builds the connector variant selected by cfg.Type.
func FromConfig(ctx context.Context, cfg config.SourceConfig, logger *zap.SugaredLogger) (Connector, error) {
	switch cfg.Type {
	case "local":
		return NewLocal(cfg, logger)
	case "playlist":
		return NewPlaylist(cfg, logger)
	case "s3":
		return NewS3(ctx, cfg, logger)
	case "gcs":
		return NewGCS(ctx, cfg, logger)
	default:
		return nil, errors.WithDetail(
			errors.New("unknown source type"),
			"source: "+cfg.Name+", type: "+cfg.Type,
		)
	}
}

// emit delivers a record unless ctx ends first. Returns false when the
// caller should stop producing.
func emit(ctx context.Context, out chan<- record.IngestRecord, rec record.IngestRecord) bool {
	select {
	case out <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitErr delivers a per-item error unless ctx ends first.
func emitErr(ctx context.Context, errs chan<- error, err error) bool {
	select {
	case errs <- err:
		return true
	case <-ctx.Done():
		return false
	}
}
