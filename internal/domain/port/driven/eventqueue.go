package driven

import (
	"context"
	"iter"
	"time"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

// EventQueue defines the driven port for the durable outbound event log.
// Sequence numbers are strictly increasing and never reused.
type EventQueue interface {
	Enqueue(ctx context.Context, topic string, payload []byte) (int64, error)
	// Pending yields unacknowledged events in ascending sequence order. Each
	// range over the returned sequence starts again from the oldest event.
	Pending(ctx context.Context) iter.Seq2[model.QueuedEvent, error]
	// Acknowledge marks an event as delivered. Unknown or already
	// acknowledged sequences are ignored.
	Acknowledge(ctx context.Context, sequence int64) error
	// Prune deletes acknowledged events enqueued before the cutoff.
	Prune(ctx context.Context, before time.Time) (int, error)
}
