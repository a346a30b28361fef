// Package pipeline orchestrates ingestion: it drains connectors, validates
// and deduplicates records, enqueues the survivors, and quarantines the
// failures. One bad record never stops a run; only infrastructure failures
// are fatal.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veridia/parley/connector"
	"github.com/veridia/parley/dedup"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/metrics"
	"github.com/veridia/parley/quarantine"
	"github.com/veridia/parley/queue"
	"github.com/veridia/parley/record"
	"github.com/veridia/parley/schema"
)

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	validator *schema.Validator
	dedup     *dedup.Deduplicator
	queue     queue.Queue
	store     *quarantine.Store
	metrics   *metrics.Metrics
	logger    *zap.SugaredLogger
	workers   int
}

// Options configures a Pipeline.
type Options struct {
	Validator *schema.Validator
	Dedup     *dedup.Deduplicator
	Queue     queue.Queue
	Store     *quarantine.Store
	Metrics   *metrics.Metrics
	Logger    *zap.SugaredLogger
	// WorkersPerConnector is the number of concurrent record processors per
	// source. Per-producer ordering holds with one worker; more workers
	// trade ordering for throughput.
	WorkersPerConnector int
}

// New creates a Pipeline. A nil Metrics gets a private counter set so run
// results still tally.
func New(opts Options) *Pipeline {
	workers := opts.WorkersPerConnector
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Pipeline{
		validator: opts.Validator,
		dedup:     opts.Dedup,
		queue:     opts.Queue,
		store:     opts.Store,
		metrics:   opts.Metrics,
		logger:    logger,
		workers:   workers,
	}
}

// RunResult summarizes one ingestion run.
type RunResult struct {
	Fetched            int64
	Enqueued           int64
	Duplicates         int64
	Quarantined        int64
	SecurityViolations int64
	ValidationFailures int64
	FetchErrors        int64
	SkippedSources     []string
}

// Run drains every connector to exhaustion or ctx cancellation. A connector
// that fails Connect is skipped and reported in the result; the others still
// run. The error return is reserved for infrastructure failures.
func (p *Pipeline) Run(ctx context.Context, connectors []connector.Connector) (*RunResult, error) {
	before := p.metrics.Snapshot()
	result := &RunResult{}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, conn := range connectors {
		if err := conn.Connect(ctx); err != nil {
			p.logger.Errorw("Source unavailable, skipping",
				"source", conn.Name(),
				"error", err,
			)
			p.metrics.RecordFetchError()
			mu.Lock()
			result.SkippedSources = append(result.SkippedSources, conn.Name())
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(conn connector.Connector) {
			defer wg.Done()
			p.drainConnector(ctx, conn)
		}(conn)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil && err != context.Canceled {
		return result, errors.Wrap(err, "ingestion run aborted")
	}

	after := p.metrics.Snapshot()
	result.Fetched = after.Fetched - before.Fetched
	result.Enqueued = after.Enqueued - before.Enqueued
	result.Duplicates = after.Duplicates - before.Duplicates
	result.Quarantined = after.Quarantined - before.Quarantined
	result.SecurityViolations = after.SecurityViolations - before.SecurityViolations
	result.ValidationFailures = after.ValidationFailures - before.ValidationFailures
	result.FetchErrors = after.FetchErrors - before.FetchErrors
	return result, nil
}

// drainConnector consumes one connector's record and error streams with the
// configured number of workers.
func (p *Pipeline) drainConnector(ctx context.Context, conn connector.Connector) {
	records, fetchErrs := conn.Fetch(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raw := range records {
				p.metrics.RecordFetched()
				p.process(ctx, conn.Name(), raw)
			}
		}()
	}

	for err := range fetchErrs {
		p.metrics.RecordFetchError()
		if errors.IsSecurityViolation(err) {
			p.metrics.RecordSecurityViolation()
			p.logger.Warnw("Fetch blocked by security policy",
				"source", conn.Name(),
				"error", err,
			)
		} else {
			p.logger.Warnw("Fetch error",
				"source", conn.Name(),
				"error", err,
			)
		}
		// Fetch failures carry no payload but still land in quarantine so
		// they are visible on the review surface, not just in a counter.
		p.quarantineRecord(ctx, record.IngestRecord{
			SourceID:       conn.Name(),
			SourceType:     conn.SourceType(),
			FetchTimestamp: time.Now().UTC(),
		}, []record.FieldError{
			{Field: "fetch", Message: err.Error()},
		})
	}
	wg.Wait()
}

// process takes one raw record through validate, dedup, and enqueue.
func (p *Pipeline) process(ctx context.Context, producer string, raw record.IngestRecord) {
	canonical, err := p.validator.Validate(ctx, raw)
	if err != nil {
		if errors.IsSecurityViolation(err) {
			p.metrics.RecordSecurityViolation()
			p.logger.Warnw("Record rejected by security policy",
				"source", producer,
				"source_id", raw.SourceID,
				"error", err,
			)
		} else {
			p.metrics.RecordValidationFailure()
		}
		p.quarantineRecord(ctx, raw, schema.FieldsFromError(err))
		return
	}
	p.metrics.RecordValidated()

	if !p.dedup.CheckAndAdd(canonical) {
		// Duplicates are dropped on purpose: they are neither queued nor
		// quarantined.
		p.metrics.RecordDuplicate()
		p.logger.Debugw("Duplicate record skipped",
			"source", producer,
			"record_id", canonical.ID,
		)
		return
	}

	item := &record.QueueItem{
		ID:         uuid.New().String(),
		Producer:   producer,
		Sequence:   raw.Sequence,
		Record:     canonical,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := p.queue.Enqueue(ctx, item); err != nil {
		if errors.IsQueueFull(err) {
			// The reject policy refused the record; hold it for review so
			// nothing is lost.
			p.logger.Warnw("Queue full, quarantining record",
				"source", producer,
				"record_id", canonical.ID,
			)
			p.quarantineRecord(ctx, raw, []record.FieldError{
				{Field: "queue", Message: "ingestion queue at capacity"},
			})
			return
		}
		p.logger.Errorw("Enqueue failed",
			"source", producer,
			"record_id", canonical.ID,
			"error", err,
		)
		p.quarantineRecord(ctx, raw, []record.FieldError{
			{Field: "queue", Message: "enqueue failed: " + err.Error()},
		})
		return
	}
	p.metrics.RecordEnqueued()

	if depth, err := p.queue.Depth(ctx); err == nil {
		p.metrics.SetQueueDepth(depth)
	}
}

// quarantineRecord persists a failed record for review. Persistence failures
// are counted and logged but never abort the run.
func (p *Pipeline) quarantineRecord(ctx context.Context, raw record.IngestRecord, ferrs []record.FieldError) {
	// The insert must survive cancellation of the run context: a record
	// whose processing was interrupted is held for review, not dropped.
	ctx = context.WithoutCancel(ctx)
	if _, err := p.store.Quarantine(ctx, raw, ferrs); err != nil {
		p.metrics.RecordQuarantineFailure()
		p.logger.Errorw("Quarantine persistence failed",
			"source_id", raw.SourceID,
			"error", err,
		)
		return
	}
	p.metrics.RecordQuarantined()
}
