package driven

import (
	"context"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

// Notification describes a record that was newly stored or changed.
// Exactly one of Comment or Chat is set, matching Kind.
type Notification struct {
	Kind    model.EntityKind
	Comment *model.Comment
	Chat    *model.ChatLine
	Local   bool // True when the record originated on this peer.
}

// Observer receives a notification whenever the store gains or changes a
// comment or chat line, whether submitted locally or received from a peer.
type Observer interface {
	Notify(ctx context.Context, n Notification)
}
