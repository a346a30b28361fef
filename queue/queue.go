// Package queue provides the bounded, backpressured ingestion queue that is
// the only boundary between the pipeline and downstream consumers.
//
// Two interchangeable backends expose the same contract: an in-process
// backend for single-node deployments and a durable SQLite-backed backend
// that survives restarts. Delivery is at-least-once; an item is owned by the
// consumer only after Ack. Ordering is guaranteed within a single producer's
// stream, never globally.
package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veridia/parley/config"
	parleydb "github.com/veridia/parley/db"
	"github.com/veridia/parley/record"
)

// Queue is the producer/consumer contract for canonical records.
type Queue interface {
	// Enqueue adds an item. When the queue is at capacity it either blocks
	// until space frees (block-on-full policy) or returns ErrQueueFull.
	// It never silently drops.
	Enqueue(ctx context.Context, item *record.QueueItem) error

	// DequeueBatch returns up to n items, blocking up to wait for the first
	// one. Items stay owned by the queue until acknowledged; unacked items
	// are redelivered after the visibility timeout.
	DequeueBatch(ctx context.Context, n int, wait time.Duration) ([]*record.QueueItem, error)

	// Ack acknowledges consumed items, releasing queue ownership.
	Ack(ctx context.Context, ids ...string) error

	// Depth returns the number of items awaiting delivery.
	Depth(ctx context.Context) (int, error)

	Close() error
}

// FromConfig selects the backend: a durable path means the SQLite-backed
// queue, otherwise the in-process backend.
func FromConfig(cfg config.QueueConfig, logger *zap.SugaredLogger) (Queue, error) {
	if cfg.DurablePath == "" {
		return NewMemory(cfg), nil
	}

	conn, err := parleydb.Open(cfg.DurablePath, logger)
	if err != nil {
		return nil, err
	}
	if err := parleydb.Migrate(conn, logger); err != nil {
		conn.Close()
		return nil, err
	}
	return NewDurable(conn, cfg, true), nil
}

// itemStatus values for the durable backend.
const (
	statusQueued    = "queued"
	statusDelivered = "delivered"
)
