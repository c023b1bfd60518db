package driven

import (
	"context"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

// ChatStore defines the driven port for persisting chat lines.
type ChatStore interface {
	// UpsertChat stores the chat line keyed by ID and reports whether it was new.
	UpsertChat(ctx context.Context, line model.ChatLine) (bool, error)
	// ListChat returns a session's chat lines ordered by creation time, then ID.
	ListChat(ctx context.Context, sessionID string) ([]model.ChatLine, error)
}
