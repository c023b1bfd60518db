package driven

import (
	"context"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

// DiffSource defines the driven port for computing the hunks under review.
type DiffSource interface {
	ComputeDiff(ctx context.Context) ([]model.DiffHunk, error)
}
