package queue

import (
	"context"
	"sync"
	"time"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

// Memory is the in-process queue backend. Capacity is enforced by a bounded
// channel; delivered items are parked in a pending set until acknowledged and
// redelivered once their visibility deadline passes.
//
// Close signals through the done channel instead of closing items, so a
// producer blocked in Enqueue can never hit a send on a closed channel.
type Memory struct {
	items       chan *record.QueueItem
	done        chan struct{}
	blockOnFull bool
	visibility  time.Duration

	mu      sync.Mutex
	pending map[string]pendingItem
	closed  bool
}

type pendingItem struct {
	item     *record.QueueItem
	deadline time.Time
}

// NewMemory creates an in-process queue with the configured capacity and
// full-queue policy.
func NewMemory(cfg config.QueueConfig) *Memory {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	visibility := time.Duration(cfg.VisibilityTimeoutSeconds) * time.Second
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Memory{
		items:       make(chan *record.QueueItem, capacity),
		done:        make(chan struct{}),
		blockOnFull: cfg.BlockOnFull,
		visibility:  visibility,
		pending:     make(map[string]pendingItem),
	}
}

func (m *Memory) Enqueue(ctx context.Context, item *record.QueueItem) error {
	select {
	case <-m.done:
		return errors.Wrap(errors.ErrQueueFull, "queue closed")
	default:
	}

	if m.blockOnFull {
		select {
		case m.items <- item:
			return nil
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "enqueue interrupted")
		case <-m.done:
			return errors.Wrap(errors.ErrQueueFull, "queue closed")
		}
	}

	select {
	case m.items <- item:
		return nil
	default:
		return errors.WithDetail(
			errors.Wrap(errors.ErrQueueFull, "queue at capacity"),
			"item: "+item.ID,
		)
	}
}

func (m *Memory) DequeueBatch(ctx context.Context, n int, wait time.Duration) ([]*record.QueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	batch := make([]*record.QueueItem, 0, n)

	// Expired deliveries go out first so a crashed consumer's items are not
	// starved behind fresh ones.
	batch = append(batch, m.reclaimExpired(n)...)

	if len(batch) == 0 {
		// Block for the first item only.
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case item := <-m.items:
			batch = append(batch, item)
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "dequeue interrupted")
		case <-m.done:
			return nil, nil
		}
	}

	// Fill the rest of the batch without blocking.
fill:
	for len(batch) < n {
		select {
		case item := <-m.items:
			batch = append(batch, item)
		default:
			break fill
		}
	}
	m.park(batch)
	return batch, nil
}

// reclaimExpired pulls up to n pending items whose visibility deadline has
// passed, renewing their deadlines.
func (m *Memory) reclaimExpired(n int) []*record.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var out []*record.QueueItem
	for id, p := range m.pending {
		if len(out) >= n {
			break
		}
		if now.After(p.deadline) {
			out = append(out, p.item)
			m.pending[id] = pendingItem{item: p.item, deadline: now.Add(m.visibility)}
		}
	}
	return out
}

func (m *Memory) park(batch []*record.QueueItem) {
	if len(batch) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline := time.Now().Add(m.visibility)
	for _, item := range batch {
		m.pending[item.ID] = pendingItem{item: item, deadline: deadline}
	}
}

func (m *Memory) Ack(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.pending, id)
	}
	return nil
}

func (m *Memory) Depth(_ context.Context) (int, error) {
	return len(m.items), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}
