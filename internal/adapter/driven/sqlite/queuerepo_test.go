package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

func collectPending(t *testing.T, q *QueueRepo) []model.QueuedEvent {
	t.Helper()

	var events []model.QueuedEvent
	for ev, err := range q.Pending(context.Background()) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestQueueRepo_EnqueueAssignsIncreasingSequences(t *testing.T) {
	db := setupTestDB(t)
	q := NewQueueRepo(db)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "reviewmesh-s1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "chatmesh-s1", []byte(`{"id":"m1"}`))
	require.NoError(t, err)

	assert.Greater(t, second, first)

	events := collectPending(t, q)
	require.Len(t, events, 2)
	assert.Equal(t, first, events[0].Sequence)
	assert.Equal(t, "reviewmesh-s1", events[0].Topic)
	assert.JSONEq(t, `{"id":"c1"}`, string(events[0].Payload))
	assert.False(t, events[0].EnqueuedAt.IsZero())
	assert.Equal(t, second, events[1].Sequence)
}

func TestQueueRepo_AcknowledgeRemovesFromPending(t *testing.T) {
	db := setupTestDB(t)
	q := NewQueueRepo(db)
	ctx := context.Background()

	seq1, err := q.Enqueue(ctx, "t", []byte("a"))
	require.NoError(t, err)
	seq2, err := q.Enqueue(ctx, "t", []byte("b"))
	require.NoError(t, err)

	require.NoError(t, q.Acknowledge(ctx, seq1))
	// Acknowledging twice and acknowledging an unknown sequence are both no-ops.
	require.NoError(t, q.Acknowledge(ctx, seq1))
	require.NoError(t, q.Acknowledge(ctx, 9999))

	events := collectPending(t, q)
	require.Len(t, events, 1)
	assert.Equal(t, seq2, events[0].Sequence)
}

func TestQueueRepo_PendingIsRestartable(t *testing.T) {
	db := setupTestDB(t)
	q := NewQueueRepo(db)
	ctx := context.Background()

	for range 3 {
		_, err := q.Enqueue(ctx, "t", []byte("x"))
		require.NoError(t, err)
	}

	pending := q.Pending(ctx)

	var firstPass int
	for _, err := range pending {
		require.NoError(t, err)
		firstPass++
		break
	}

	var secondPass int
	for _, err := range pending {
		require.NoError(t, err)
		secondPass++
	}

	assert.Equal(t, 1, firstPass)
	assert.Equal(t, 3, secondPass)
}

func TestQueueRepo_PendingPagesAndAcknowledgeWhileRanging(t *testing.T) {
	db := setupTestDB(t)
	q := NewQueueRepo(db)
	q.pageSize = 2
	ctx := context.Background()

	for range 5 {
		_, err := q.Enqueue(ctx, "t", []byte("x"))
		require.NoError(t, err)
	}

	var seen []int64
	for ev, err := range q.Pending(ctx) {
		require.NoError(t, err)
		seen = append(seen, ev.Sequence)
		require.NoError(t, q.Acknowledge(ctx, ev.Sequence))
	}

	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	assert.Empty(t, collectPending(t, q))
}

func TestQueueRepo_SequencesNotReusedAfterPrune(t *testing.T) {
	db := setupTestDB(t)
	q := NewQueueRepo(db)
	ctx := context.Background()

	seq, err := q.Enqueue(ctx, "t", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, q.Acknowledge(ctx, seq))

	removed, err := q.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	next, err := q.Enqueue(ctx, "t", []byte("y"))
	require.NoError(t, err)
	assert.Greater(t, next, seq)
}

func TestQueueRepo_PruneKeepsUnacknowledgedAndRecent(t *testing.T) {
	db := setupTestDB(t)
	q := NewQueueRepo(db)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return old }

	ackedOld, err := q.Enqueue(ctx, "t", []byte("acked-old"))
	require.NoError(t, err)
	require.NoError(t, q.Acknowledge(ctx, ackedOld))
	_, err = q.Enqueue(ctx, "t", []byte("pending-old"))
	require.NoError(t, err)

	q.now = func() time.Time { return old.Add(48 * time.Hour) }
	ackedNew, err := q.Enqueue(ctx, "t", []byte("acked-new"))
	require.NoError(t, err)
	require.NoError(t, q.Acknowledge(ctx, ackedNew))

	removed, err := q.Prune(ctx, old.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	events := collectPending(t, q)
	require.Len(t, events, 1)
	assert.Equal(t, "pending-old", string(events[0].Payload))
}
