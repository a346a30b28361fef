package connector

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

// GCS ingests JSON documents from a Google Cloud Storage bucket using
// application default credentials.
type GCS struct {
	name       string
	bucketName string
	prefix     string
	maxRecords int
	bucket     *storage.BucketHandle
	guard      *FetchGuard
	logger     *zap.SugaredLogger
}

// NewGCS builds a GCS connector.
func NewGCS(ctx context.Context, cfg config.SourceConfig, logger *zap.SugaredLogger) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.WithDetail(errors.New("gcs source requires a bucket"), "source: "+cfg.Name)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConnection, "failed to create storage client: %v", err)
	}
	return &GCS{
		name:       cfg.Name,
		bucketName: cfg.Bucket,
		prefix:     cfg.Prefix,
		maxRecords: cfg.MaxRecords,
		bucket:     client.Bucket(cfg.Bucket),
		guard:      NewFetchGuard(cfg),
		logger:     logger,
	}, nil
}

func (c *GCS) Name() string                  { return c.name }
func (c *GCS) SourceType() record.SourceType { return record.SourceGCS }

// Connect verifies the bucket exists and is readable.
func (c *GCS) Connect(ctx context.Context) error {
	err := c.guard.Do(ctx, "stat bucket "+c.bucketName, func(attemptCtx context.Context) error {
		_, err := c.bucket.Attrs(attemptCtx)
		return err
	})
	if err != nil {
		return errors.WithDetail(
			errors.Wrapf(errors.ErrConnection, "bucket %q unreachable: %v", c.bucketName, err),
			"source: "+c.name,
		)
	}
	return nil
}

func (c *GCS) Fetch(ctx context.Context) (<-chan record.IngestRecord, <-chan error) {
	out := make(chan record.IngestRecord)
	errs := make(chan error, 8)

	go func() {
		defer close(out)
		defer close(errs)

		var seq int64
		it := c.bucket.Objects(ctx, &storage.Query{Prefix: c.prefix})

		for {
			if ctx.Err() != nil {
				return
			}
			attrs, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				emitErr(ctx, errs, errors.Wrapf(err, "listing bucket %q failed", c.bucketName))
				return
			}
			if !isJSONKey(attrs.Name) {
				continue
			}

			doc, err := c.fetchObject(ctx, attrs.Name)
			if err != nil {
				emitErr(ctx, errs, err)
				continue
			}
			seq++
			rec := record.IngestRecord{
				SourceID:       "gs://" + c.bucketName + "/" + attrs.Name,
				SourceType:     record.SourceGCS,
				RawPayload:     doc,
				FetchTimestamp: time.Now().UTC(),
				Sequence:       seq,
			}
			if !emit(ctx, out, rec) {
				return
			}
			if c.maxRecords > 0 && seq >= int64(c.maxRecords) {
				return
			}
		}
	}()

	return out, errs
}

func (c *GCS) fetchObject(ctx context.Context, name string) (map[string]any, error) {
	var body []byte
	err := c.guard.Do(ctx, "read object "+name, func(attemptCtx context.Context) error {
		reader, err := c.bucket.Object(name).NewReader(attemptCtx)
		if err != nil {
			return err
		}
		defer reader.Close()
		body, err = io.ReadAll(io.LimitReader(reader, maxEntryBytes))
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "object fetch failed for %q", name)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrapf(err, "invalid JSON object at %q", name)
	}
	return doc, nil
}
