package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

// Durable is the SQLite-backed queue backend. Items survive restarts; a
// delivered item whose visibility timeout lapses without an Ack returns to
// the queued state and is delivered again.
type Durable struct {
	db          *sql.DB
	capacity    int
	blockOnFull bool
	visibility  time.Duration
	ownsDB      bool

	mu     sync.Mutex
	closed bool
}

// NewDurable wraps an open, migrated database. When ownsDB is true Close
// also closes the underlying connection.
func NewDurable(db *sql.DB, cfg config.QueueConfig, ownsDB bool) *Durable {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	visibility := time.Duration(cfg.VisibilityTimeoutSeconds) * time.Second
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Durable{
		db:          db,
		capacity:    capacity,
		blockOnFull: cfg.BlockOnFull,
		visibility:  visibility,
		ownsDB:      ownsDB,
	}
}

func (d *Durable) Enqueue(ctx context.Context, item *record.QueueItem) error {
	payload, err := json.Marshal(item.Record)
	if err != nil {
		return errors.Wrap(err, "failed to serialize queue item")
	}

	for {
		inserted, err := d.tryInsert(ctx, item, payload)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
		if !d.blockOnFull {
			return errors.WithDetail(
				errors.Wrap(errors.ErrQueueFull, "queue at capacity"),
				fmt.Sprintf("item: %s, capacity: %d", item.ID, d.capacity),
			)
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "enqueue interrupted")
		}
	}
}

// tryInsert inserts the item unless the queued depth is at capacity. The
// check and insert share a transaction so concurrent producers cannot
// overshoot the bound.
func (d *Durable) tryInsert(ctx context.Context, item *record.QueueItem, payload []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, errors.Wrap(errors.ErrQueueFull, "queue closed")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin enqueue transaction")
	}
	defer tx.Rollback()

	var depth int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE status = ?`, statusQueued,
	).Scan(&depth); err != nil {
		return false, errors.Wrap(err, "failed to check queue depth")
	}
	if depth >= d.capacity {
		return false, nil
	}

	enqueuedAt := item.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO queue_items (id, producer, sequence, payload, status, enqueued_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.Producer, item.Sequence, string(payload), statusQueued, enqueuedAt,
	); err != nil {
		return false, errors.WithDetail(
			errors.Wrap(err, "failed to insert queue item"),
			"item: "+item.ID,
		)
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "failed to commit enqueue")
	}
	return true, nil
}

func (d *Durable) DequeueBatch(ctx context.Context, n int, wait time.Duration) ([]*record.QueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(wait)
	for {
		batch, err := d.claim(ctx, n)
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 || time.Now().After(deadline) {
			return batch, nil
		}
		select {
		case <-time.After(25 * time.Millisecond):
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "dequeue interrupted")
		}
	}
}

// claim atomically marks up to n items delivered and returns them. Expired
// deliveries are requeued first so redelivery candidates compete with fresh
// items in producer/sequence order.
func (d *Durable) claim(ctx context.Context, n int) ([]*record.QueueItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin dequeue transaction")
	}
	defer tx.Rollback()

	cutoff := time.Now().Add(-d.visibility)
	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, delivered_at = NULL
		 WHERE status = ? AND delivered_at < ?`,
		statusQueued, statusDelivered, cutoff,
	); err != nil {
		return nil, errors.Wrap(err, "failed to requeue expired deliveries")
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, producer, sequence, payload, enqueued_at
		 FROM queue_items WHERE status = ?
		 ORDER BY producer, sequence
		 LIMIT ?`,
		statusQueued, n,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select queue items")
	}

	var batch []*record.QueueItem
	var ids []string
	for rows.Next() {
		var item record.QueueItem
		var payload string
		if err := rows.Scan(&item.ID, &item.Producer, &item.Sequence, &payload, &item.EnqueuedAt); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan queue item")
		}
		if err := json.Unmarshal([]byte(payload), &item.Record); err != nil {
			rows.Close()
			return nil, errors.WithDetail(
				errors.Wrap(err, "failed to deserialize queue item"),
				"item: "+item.ID,
			)
		}
		batch = append(batch, &item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "failed to iterate queue items")
	}
	rows.Close()

	if len(ids) > 0 {
		query := fmt.Sprintf(
			`UPDATE queue_items SET status = ?, delivered_at = ? WHERE id IN (%s)`,
			placeholders(len(ids)),
		)
		args := make([]any, 0, len(ids)+2)
		args = append(args, statusDelivered, time.Now().UTC())
		for _, id := range ids {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, errors.Wrap(err, "failed to mark items delivered")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit dequeue")
	}
	return batch, nil
}

func (d *Durable) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM queue_items WHERE id IN (%s)`, placeholders(len(ids)))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to acknowledge queue items")
	}
	return nil
}

func (d *Durable) Depth(ctx context.Context) (int, error) {
	var depth int
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE status = ?`, statusQueued,
	).Scan(&depth); err != nil {
		return 0, errors.Wrap(err, "failed to read queue depth")
	}
	return depth, nil
}

func (d *Durable) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.ownsDB {
		return d.db.Close()
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
