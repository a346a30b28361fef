package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
	parleytesting "github.com/veridia/parley/internal/testing"
)

func newTestDurable(t *testing.T, cfg config.QueueConfig) *Durable {
	t.Helper()
	conn := parleytesting.CreateTestDB(t)
	return NewDurable(conn, cfg, false)
}

func TestDurableRoundTrip(t *testing.T) {
	q := newTestDurable(t, config.QueueConfig{Capacity: 8, VisibilityTimeoutSeconds: 30})
	ctx := context.Background()

	item := testItem("s3-bucket", 1)
	require.NoError(t, q.Enqueue(ctx, item))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	batch, err := q.DequeueBatch(ctx, 4, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, item.ID, batch[0].ID)
	assert.Equal(t, item.Producer, batch[0].Producer)
	require.NotNil(t, batch[0].Record)
	assert.Equal(t, item.Record.ID, batch[0].Record.ID)
	assert.Len(t, batch[0].Record.Turns, 2)

	// Delivered but unacked items no longer count toward depth.
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	require.NoError(t, q.Ack(ctx, batch[0].ID))
}

func TestDurableRejectsWhenFull(t *testing.T) {
	q := newTestDurable(t, config.QueueConfig{Capacity: 2, BlockOnFull: false, VisibilityTimeoutSeconds: 30})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testItem("gcs", 1)))
	require.NoError(t, q.Enqueue(ctx, testItem("gcs", 2)))

	err := q.Enqueue(ctx, testItem("gcs", 3))
	require.Error(t, err)
	assert.True(t, errors.IsQueueFull(err))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestDurableBlocksUntilSpace(t *testing.T) {
	q := newTestDurable(t, config.QueueConfig{Capacity: 1, BlockOnFull: true, VisibilityTimeoutSeconds: 30})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testItem("gcs", 1)))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Enqueue(ctx, testItem("gcs", 2))
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("enqueue past capacity returned early: %v", err)
	case <-time.After(75 * time.Millisecond):
	}

	batch, err := q.DequeueBatch(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, q.Ack(ctx, batch[0].ID))

	select {
	case err := <-unblocked:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue stayed blocked after space freed")
	}
}

func TestDurableRedeliversAfterVisibilityTimeout(t *testing.T) {
	q := newTestDurable(t, config.QueueConfig{Capacity: 8, VisibilityTimeoutSeconds: 30})
	q.visibility = 30 * time.Millisecond
	ctx := context.Background()

	item := testItem("playlist", 7)
	require.NoError(t, q.Enqueue(ctx, item))

	first, err := q.DequeueBatch(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 1)

	time.Sleep(50 * time.Millisecond)
	second, err := q.DequeueBatch(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, item.ID, second[0].ID)

	// Ack ends the redelivery cycle for good.
	require.NoError(t, q.Ack(ctx, second[0].ID))
	time.Sleep(50 * time.Millisecond)
	third, err := q.DequeueBatch(ctx, 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestDurablePerProducerOrdering(t *testing.T) {
	q := newTestDurable(t, config.QueueConfig{Capacity: 64, VisibilityTimeoutSeconds: 30})
	ctx := context.Background()

	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, q.Enqueue(ctx, testItem("alpha", seq)))
		require.NoError(t, q.Enqueue(ctx, testItem("beta", seq)))
	}

	batch, err := q.DequeueBatch(ctx, 20, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 10)

	lastSeq := map[string]int64{}
	for _, item := range batch {
		assert.Greater(t, item.Sequence, lastSeq[item.Producer],
			"producer %s out of order", item.Producer)
		lastSeq[item.Producer] = item.Sequence
	}
}

func TestDurableSurvivesReopen(t *testing.T) {
	conn := parleytesting.CreateTestDB(t)
	ctx := context.Background()
	cfg := config.QueueConfig{Capacity: 8, VisibilityTimeoutSeconds: 30}

	q1 := NewDurable(conn, cfg, false)
	require.NoError(t, q1.Enqueue(ctx, testItem("local", 1)))
	require.NoError(t, q1.Close())

	// A fresh queue over the same database still sees the item.
	q2 := NewDurable(conn, cfg, false)
	batch, err := q2.DequeueBatch(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, int64(1), batch[0].Sequence)
}

func TestDurableDepthQueryFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM queue_items`).
		WillReturnError(assert.AnError)

	q := NewDurable(conn, config.QueueConfig{Capacity: 8}, false)
	_, err = q.Depth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read queue depth")
	require.NoError(t, mock.ExpectationsWereMet())
}
