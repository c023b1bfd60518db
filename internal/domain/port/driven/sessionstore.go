package driven

import (
	"context"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

// SessionStore defines the driven port for persisting review sessions.
type SessionStore interface {
	// GetSession returns nil, nil when no session with the given ID exists.
	GetSession(ctx context.Context, id string) (*model.Session, error)
	SaveSession(ctx context.Context, session model.Session) error
}
