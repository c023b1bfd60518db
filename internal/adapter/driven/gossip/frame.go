package gossip

// frameType names the messages exchanged over a mesh connection.
type frameType string

const (
	frameHello     frameType = "hello"
	frameSubscribe frameType = "subscribe"
	frameMessage   frameType = "message"
	framePing      frameType = "ping"
)

// frame is the JSON envelope for every websocket message between peers.
type frame struct {
	Type   frameType `json:"type"`
	PeerID string    `json:"peer_id,omitempty"`
	Token  string    `json:"token,omitempty"`
	Topics []string  `json:"topics,omitempty"`
	Topic  string    `json:"topic,omitempty"`
	Data   []byte    `json:"data,omitempty"`
}
