package driven

import (
	"context"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

// CommentStore defines the driven port for persisting comments.
type CommentStore interface {
	// UpsertComment stores the comment keyed by ID and reports whether the
	// stored state changed. Re-applying the same comment is a no-op. Only a
	// newer resolution clock updates an existing comment.
	UpsertComment(ctx context.Context, comment model.Comment) (bool, error)
	GetComment(ctx context.Context, id string) (*model.Comment, error)
	// ListComments returns a session's comments ordered by creation time, then ID.
	ListComments(ctx context.Context, sessionID string) ([]model.Comment, error)
}
