package connector

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/internal/util"
	"github.com/veridia/parley/record"
)

// s3API is the slice of the S3 client the connector uses. Narrowed to an
// interface so tests can substitute a fake.
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 ingests JSON documents from an S3 bucket, paginating the listing under
// the configured prefix. Credentials come from the standard chain
// (environment, shared config, instance role).
type S3 struct {
	name       string
	bucket     string
	prefix     string
	maxRecords int
	client     s3API
	guard      *FetchGuard
	logger     *zap.SugaredLogger
}

// NewS3 builds an S3 connector using the default credential chain.
func NewS3(ctx context.Context, cfg config.SourceConfig, logger *zap.SugaredLogger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.WithDetail(errors.New("s3 source requires a bucket"), "source: "+cfg.Name)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConnection, "failed to load AWS configuration: %v", err)
	}

	return &S3{
		name:       cfg.Name,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		maxRecords: cfg.MaxRecords,
		client:     s3.NewFromConfig(awsCfg),
		guard:      NewFetchGuard(cfg),
		logger:     logger,
	}, nil
}

func (c *S3) Name() string                  { return c.name }
func (c *S3) SourceType() record.SourceType { return record.SourceS3 }

// Connect verifies the bucket is reachable with the resolved credentials.
func (c *S3) Connect(ctx context.Context) error {
	err := c.guard.Do(ctx, "head bucket "+c.bucket, func(attemptCtx context.Context) error {
		_, err := c.client.HeadBucket(attemptCtx, &s3.HeadBucketInput{Bucket: util.Ptr(c.bucket)})
		return err
	})
	if err != nil {
		return errors.WithDetail(
			errors.Wrapf(errors.ErrConnection, "bucket %q unreachable: %v", c.bucket, err),
			"source: "+c.name,
		)
	}
	return nil
}

func (c *S3) Fetch(ctx context.Context) (<-chan record.IngestRecord, <-chan error) {
	out := make(chan record.IngestRecord)
	errs := make(chan error, 8)

	go func() {
		defer close(out)
		defer close(errs)

		var seq int64
		var continuation *string

		for {
			if ctx.Err() != nil {
				return
			}

			var page *s3.ListObjectsV2Output
			err := c.guard.Do(ctx, "list bucket "+c.bucket, func(attemptCtx context.Context) error {
				input := &s3.ListObjectsV2Input{
					Bucket:            util.Ptr(c.bucket),
					ContinuationToken: continuation,
				}
				if c.prefix != "" {
					input.Prefix = util.Ptr(c.prefix)
				}
				var lerr error
				page, lerr = c.client.ListObjectsV2(attemptCtx, input)
				return lerr
			})
			if err != nil {
				emitErr(ctx, errs, err)
				return
			}

			for _, obj := range page.Contents {
				if obj.Key == nil || !isJSONKey(*obj.Key) {
					continue
				}
				doc, err := c.fetchObject(ctx, *obj.Key)
				if err != nil {
					emitErr(ctx, errs, err)
					continue
				}
				seq++
				rec := record.IngestRecord{
					SourceID:       "s3://" + c.bucket + "/" + *obj.Key,
					SourceType:     record.SourceS3,
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

			if page.IsTruncated == nil || !*page.IsTruncated {
				return
			}
			continuation = page.NextContinuationToken
		}
	}()

	return out, errs
}

func (c *S3) fetchObject(ctx context.Context, key string) (map[string]any, error) {
	var body []byte
	err := c.guard.Do(ctx, "get object "+key, func(attemptCtx context.Context) error {
		resp, err := c.client.GetObject(attemptCtx, &s3.GetObjectInput{
			Bucket: util.Ptr(c.bucket),
			Key:    util.Ptr(key),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxEntryBytes))
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "object fetch failed for %q", key)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrapf(err, "invalid JSON object at %q", key)
	}
	return doc, nil
}

// isJSONKey filters object listings to conversation documents.
func isJSONKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".json")
}
