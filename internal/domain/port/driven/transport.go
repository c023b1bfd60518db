package driven

import (
	"context"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

// Transport defines the driven port for the peer-to-peer gossip mesh.
// Delivery is best effort: a nil error from Publish only means the payload
// was handed to at least one subscribed peer connection.
type Transport interface {
	Join(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	// Events yields inbound messages and peer membership changes. The channel
	// stays open for as long as the transport runs.
	Events() <-chan model.MeshEvent
}
