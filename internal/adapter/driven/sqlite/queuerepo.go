package sqlite

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EventQueue = (*QueueRepo)(nil)

// defaultPageSize bounds how many pending events are held in memory at once.
const defaultPageSize = 100

// QueueRepo is the SQLite implementation of the EventQueue port interface.
// Events live in their own table, separate from the replicated records.
type QueueRepo struct {
	db       *DB
	pageSize int
	now      func() time.Time
}

// NewQueueRepo creates a new QueueRepo backed by the given DB.
func NewQueueRepo(db *DB) *QueueRepo {
	return &QueueRepo{db: db, pageSize: defaultPageSize, now: time.Now}
}

// Enqueue durably appends an event and returns its sequence number.
func (q *QueueRepo) Enqueue(ctx context.Context, topic string, payload []byte) (int64, error) {
	const query = `INSERT INTO offline_queue (topic, payload, enqueued_at) VALUES (?, ?, ?)`

	res, err := execWrite(ctx, q.db, query, topic, payload, toNanos(q.now()))
	if err != nil {
		return 0, fmt.Errorf("enqueue on %s: %w: %w", topic, driven.ErrQueue, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue on %s sequence: %w: %w", topic, driven.ErrQueue, err)
	}

	return seq, nil
}

// Pending yields unacknowledged events in ascending sequence order. Events
// are read one page at a time, so acknowledging while ranging is safe.
func (q *QueueRepo) Pending(ctx context.Context) iter.Seq2[model.QueuedEvent, error] {
	return func(yield func(model.QueuedEvent, error) bool) {
		var after int64
		for {
			page, err := q.pendingPage(ctx, after)
			if err != nil {
				yield(model.QueuedEvent{}, err)
				return
			}

			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
				after = ev.Sequence
			}

			if len(page) < q.pageSize {
				return
			}
		}
	}
}

func (q *QueueRepo) pendingPage(ctx context.Context, after int64) ([]model.QueuedEvent, error) {
	const query = `
		SELECT sequence, topic, payload, enqueued_at
		FROM offline_queue
		WHERE acknowledged = 0 AND sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`

	rows, err := q.db.Reader.QueryContext(ctx, query, after, q.pageSize)
	if err != nil {
		return nil, fmt.Errorf("read pending events: %w: %w", driven.ErrQueue, err)
	}
	defer rows.Close()

	var page []model.QueuedEvent
	for rows.Next() {
		var (
			ev         model.QueuedEvent
			enqueuedAt int64
		)
		if err := rows.Scan(&ev.Sequence, &ev.Topic, &ev.Payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan pending event: %w: %w", driven.ErrQueue, err)
		}
		ev.EnqueuedAt = fromNanos(enqueuedAt)
		page = append(page, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending events: %w: %w", driven.ErrQueue, err)
	}

	return page, nil
}

// Acknowledge marks the event with the given sequence as delivered.
func (q *QueueRepo) Acknowledge(ctx context.Context, sequence int64) error {
	const query = `UPDATE offline_queue SET acknowledged = 1 WHERE sequence = ? AND acknowledged = 0`

	if _, err := execWrite(ctx, q.db, query, sequence); err != nil {
		return fmt.Errorf("acknowledge event %d: %w: %w", sequence, driven.ErrQueue, err)
	}

	return nil
}

// Prune deletes acknowledged events enqueued before the cutoff and returns
// how many were removed. Unacknowledged events are always kept.
func (q *QueueRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	const query = `DELETE FROM offline_queue WHERE acknowledged = 1 AND enqueued_at < ?`

	res, err := execWrite(ctx, q.db, query, toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w: %w", driven.ErrQueue, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events rows affected: %w: %w", driven.ErrQueue, err)
	}

	return int(n), nil
}
