package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

func testItem(producer string, seq int64) *record.QueueItem {
	rec := &record.ConversationRecord{
		ID:         fmt.Sprintf("rec-%s-%d", producer, seq),
		SourceType: record.SourceLocalFile,
		SourceID:   fmt.Sprintf("%s/%d.json", producer, seq),
		Turns: []record.SpeakerTurn{
			{SpeakerID: "alice", Content: "hello"},
			{SpeakerID: "bob", Content: "hi there"},
		},
	}
	return &record.QueueItem{
		ID:         fmt.Sprintf("item-%s-%d", producer, seq),
		Producer:   producer,
		Sequence:   seq,
		Record:     rec,
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestMemoryEnqueueDequeueAck(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 8, VisibilityTimeoutSeconds: 30})
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testItem("local", 1)))
	require.NoError(t, q.Enqueue(ctx, testItem("local", 2)))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	batch, err := q.DequeueBatch(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(1), batch[0].Sequence)
	assert.Equal(t, int64(2), batch[1].Sequence)

	require.NoError(t, q.Ack(ctx, batch[0].ID, batch[1].ID))

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestMemoryRejectsWhenFull(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 2, BlockOnFull: false, VisibilityTimeoutSeconds: 30})
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testItem("local", 1)))
	require.NoError(t, q.Enqueue(ctx, testItem("local", 2)))

	err := q.Enqueue(ctx, testItem("local", 3))
	require.Error(t, err)
	assert.True(t, errors.IsQueueFull(err))

	// Nothing was dropped to make room.
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestMemoryBlocksWhenFull(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 1, BlockOnFull: true, VisibilityTimeoutSeconds: 30})
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testItem("local", 1)))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Enqueue(ctx, testItem("local", 2))
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("enqueue past capacity returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Draining one item releases the blocked producer.
	batch, err := q.DequeueBatch(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	select {
	case err := <-unblocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue stayed blocked after space freed")
	}
}

func TestMemoryBlockedEnqueueHonorsContext(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 1, BlockOnFull: true, VisibilityTimeoutSeconds: 30})
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), testItem("local", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, testItem("local", 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryDequeueWaitsForFirstItem(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 8, VisibilityTimeoutSeconds: 30})
	defer q.Close()
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = q.Enqueue(ctx, testItem("local", 1))
	}()

	batch, err := q.DequeueBatch(ctx, 4, time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestMemoryDequeueTimesOutEmpty(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 8, VisibilityTimeoutSeconds: 30})
	defer q.Close()

	start := time.Now()
	batch, err := q.DequeueBatch(context.Background(), 4, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryRedeliversUnacked(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 8, VisibilityTimeoutSeconds: 1})
	q.visibility = 30 * time.Millisecond
	defer q.Close()
	ctx := context.Background()

	item := testItem("local", 1)
	require.NoError(t, q.Enqueue(ctx, item))

	first, err := q.DequeueBatch(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Consumer never acks; after the visibility timeout the item comes back.
	time.Sleep(50 * time.Millisecond)
	second, err := q.DequeueBatch(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, item.ID, second[0].ID)
}

func TestMemoryAckStopsRedelivery(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 8, VisibilityTimeoutSeconds: 1})
	q.visibility = 20 * time.Millisecond
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testItem("local", 1)))
	batch, err := q.DequeueBatch(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, q.Ack(ctx, batch[0].ID))

	time.Sleep(40 * time.Millisecond)
	again, err := q.DequeueBatch(ctx, 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMemoryCloseUnblocksPendingEnqueue(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 1, BlockOnFull: true, VisibilityTimeoutSeconds: 30})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testItem("local", 1)))

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(ctx, testItem("local", 2))
	}()

	// Give the producer time to park in its send before closing.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-blocked:
		require.Error(t, err)
		assert.True(t, errors.IsQueueFull(err))
	case <-time.After(time.Second):
		t.Fatal("enqueue stayed blocked after close")
	}

	err := q.Enqueue(ctx, testItem("local", 3))
	require.Error(t, err)
	assert.True(t, errors.IsQueueFull(err))
}

func TestMemoryPerProducerOrdering(t *testing.T) {
	q := NewMemory(config.QueueConfig{Capacity: 64, VisibilityTimeoutSeconds: 30})
	defer q.Close()
	ctx := context.Background()

	// One producer's items enqueued in sequence order arrive in that order,
	// regardless of interleaving with other producers.
	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, q.Enqueue(ctx, testItem("alpha", seq)))
		require.NoError(t, q.Enqueue(ctx, testItem("beta", seq)))
	}

	batch, err := q.DequeueBatch(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 10)

	lastSeq := map[string]int64{}
	for _, item := range batch {
		assert.Greater(t, item.Sequence, lastSeq[item.Producer],
			"producer %s out of order", item.Producer)
		lastSeq[item.Producer] = item.Sequence
	}
}
