package gossip

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 5 * time.Second
	maxMessageSize = 1 << 20
)

// peerConn is one websocket connection to a remote peer. Reads happen on a
// dedicated goroutine; writes only ever come from the transport's run loop.
type peerConn struct {
	ws       *websocket.Conn
	addr     string
	outbound bool
	peerID   string // Set by the run loop once the peer said hello.
}

func newPeerConn(ws *websocket.Conn, addr string, outbound bool) *peerConn {
	ws.SetReadLimit(maxMessageSize)
	return &peerConn{ws: ws, addr: addr, outbound: outbound}
}

func (c *peerConn) send(f frame) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

func (c *peerConn) close() {
	_ = c.ws.Close()
}

// canonical reports whether this connection is the one both ends keep when
// two peers dialed each other: the connection opened by the smaller peer ID.
func (c *peerConn) canonical(selfID string) bool {
	if c.outbound {
		return selfID < c.peerID
	}
	return c.peerID < selfID
}

type inboundFrame struct {
	conn  *peerConn
	frame frame
}

// readLoop forwards frames to the run loop until the connection fails or the
// transport stops.
func (t *Transport) readLoop(c *peerConn) {
	defer func() {
		select {
		case t.closed <- c:
		case <-t.done:
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.logger.Debug("dropping undecodable frame", "addr", c.addr, "error", err)
			continue
		}

		select {
		case t.inbound <- inboundFrame{conn: c, frame: f}:
		case <-t.done:
			return
		}
	}
}
