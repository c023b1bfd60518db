// Package gossip implements the Transport port as a topic-based gossip mesh
// over websocket connections between peers found by local discovery.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Transport = (*Transport)(nil)

var (
	// ErrNoSubscribers is returned by Publish when no peer has joined the topic.
	ErrNoSubscribers = errors.New("no subscribed peers")
	// ErrPublish is returned by Publish when every send to a subscriber failed.
	ErrPublish = errors.New("publish failed")
	// ErrNotJoined is returned by Publish for a topic the local peer never joined.
	ErrNotJoined = errors.New("topic not joined")
	// ErrNotRunning is returned by commands issued after the run loop exited.
	ErrNotRunning = errors.New("transport not running")
)

const (
	meshPath           = "/mesh"
	dialTimeout        = 5 * time.Second
	defaultPeerTimeout = 30 * time.Second
	defaultEventBuffer = 256
)

// Config configures a Transport.
type Config struct {
	PeerID     string
	ListenAddr string
	// SessionID is the only session whose topics remote peers may subscribe
	// to. Peers must present an invite token for it signed with Secret.
	SessionID   string
	Secret      []byte
	PeerTimeout time.Duration
	EventBuffer int
	Discoverers []Discoverer
	Logger      *slog.Logger
}

type peerState struct {
	conn     *peerConn
	topics   map[string]struct{}
	lastSeen time.Time
}

type command struct {
	apply func() error
	reply chan error
}

type dialResult struct {
	addr string
	conn *peerConn
	err  error
}

// Transport is a gossip mesh endpoint. All membership state is owned by the
// goroutine executing Run; Join, Publish and Peers hand commands to it.
type Transport struct {
	cfg    Config
	token  string
	logger *slog.Logger
	now    func() time.Time

	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	events    chan model.MeshEvent
	cmds      chan command
	inbound   chan inboundFrame
	accepted  chan *peerConn
	dialed    chan dialResult
	closed    chan *peerConn
	sightings chan Sighting
	done      chan struct{}

	// Owned by the run loop.
	joined      map[string]struct{}
	peers       map[string]*peerState
	handshaking map[*peerConn]time.Time
	dialing     map[string]struct{}
	addrPeers   map[string]string
	view        *view
}

// New creates a Transport. Call Listen to bind the mesh address, then Run.
func New(cfg Config) (*Transport, error) {
	if cfg.PeerID == "" {
		return nil, errors.New("gossip: peer id is required")
	}
	if cfg.SessionID == "" {
		return nil, errors.New("gossip: session id is required")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("gossip: secret is required")
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = defaultPeerTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg:    cfg,
		token:  GenerateInviteToken(cfg.SessionID, cfg.Secret),
		logger: cfg.Logger.With("component", "gossip", "peer_id", cfg.PeerID),
		now:    time.Now,
		upgrader: websocket.Upgrader{
			// Peers are not browsers; the hello token authorizes them.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer:      websocket.Dialer{HandshakeTimeout: dialTimeout},
		events:      make(chan model.MeshEvent, cfg.EventBuffer),
		cmds:        make(chan command),
		inbound:     make(chan inboundFrame),
		accepted:    make(chan *peerConn),
		dialed:      make(chan dialResult),
		closed:      make(chan *peerConn),
		sightings:   make(chan Sighting),
		done:        make(chan struct{}),
		joined:      make(map[string]struct{}),
		peers:       make(map[string]*peerState),
		handshaking: make(map[*peerConn]time.Time),
		dialing:     make(map[string]struct{}),
		addrPeers:   make(map[string]string),
		view:        newView(),
	}, nil
}

// Listen binds the mesh listener and returns its address. Run calls it if
// it has not been called yet.
func (t *Transport) Listen() (string, error) {
	if t.listener != nil {
		return t.listener.Addr().String(), nil
	}

	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", t.cfg.ListenAddr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+meshPath, t.handleUpgrade)

	t.listener = ln
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	return ln.Addr().String(), nil
}

// Addr returns the bound mesh address, or "" before Listen.
func (t *Transport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Events implements driven.Transport.
func (t *Transport) Events() <-chan model.MeshEvent {
	return t.events
}

// Join implements driven.Transport. Joining a topic twice is a no-op.
func (t *Transport) Join(ctx context.Context, topic string) error {
	return t.do(ctx, func() error {
		t.join(topic)
		return nil
	})
}

// Publish implements driven.Transport.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	return t.do(ctx, func() error {
		return t.publish(topic, payload)
	})
}

// Peers returns the IDs of all connected peers in sorted order.
func (t *Transport) Peers(ctx context.Context) ([]string, error) {
	var ids []string
	err := t.do(ctx, func() error {
		ids = slices.Sorted(maps.Keys(t.peers))
		return nil
	})
	return ids, err
}

func (t *Transport) do(ctx context.Context, fn func() error) error {
	cmd := command{apply: fn, reply: make(chan error, 1)}

	select {
	case t.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrNotRunning
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrNotRunning
	}
}

// Run serves the mesh until ctx is canceled. It must be called at most once.
func (t *Transport) Run(ctx context.Context) error {
	if _, err := t.Listen(); err != nil {
		return err
	}

	defer func() {
		for _, p := range t.peers {
			p.conn.close()
		}
		for c := range t.handshaking {
			c.close()
		}
		_ = t.server.Close()
		close(t.done)
	}()

	go func() {
		if err := t.server.Serve(t.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("mesh listener failed", "error", err)
		}
	}()

	discoveryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, d := range t.cfg.Discoverers {
		go func() {
			if err := d.Discover(discoveryCtx, t.sightings); err != nil {
				t.logger.Warn("peer discovery stopped", "error", err)
			}
		}()
	}

	sweep := time.NewTicker(t.cfg.PeerTimeout / 3)
	defer sweep.Stop()

	t.logger.Info("gossip transport started", "addr", t.Addr(), "session_id", t.cfg.SessionID)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("gossip transport stopped")
			return nil
		case cmd := <-t.cmds:
			cmd.reply <- cmd.apply()
		case c := <-t.accepted:
			t.addConn(c)
		case res := <-t.dialed:
			if res.err != nil {
				delete(t.dialing, res.addr)
				t.logger.Debug("dial failed", "addr", res.addr, "error", res.err)
				continue
			}
			t.addConn(res.conn)
		case in := <-t.inbound:
			t.handleFrame(in)
		case c := <-t.closed:
			t.handleClosed(c)
		case s := <-t.sightings:
			t.handleSighting(ctx, s)
		case <-sweep.C:
			t.sweep()
		}
	}
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newPeerConn(ws, r.RemoteAddr, false)
	select {
	case t.accepted <- c:
	case <-t.done:
		c.close()
	}
}

func (t *Transport) dial(ctx context.Context, addr string) {
	u := url.URL{Scheme: "ws", Host: addr, Path: meshPath}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	res := dialResult{addr: addr}
	ws, resp, err := t.dialer.DialContext(dialCtx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		res.err = err
	} else {
		res.conn = newPeerConn(ws, addr, true)
	}

	select {
	case t.dialed <- res:
	case <-t.done:
		if res.conn != nil {
			res.conn.close()
		}
	}
}

func (t *Transport) addConn(c *peerConn) {
	t.handshaking[c] = t.now()

	hello := frame{
		Type:   frameHello,
		PeerID: t.cfg.PeerID,
		Token:  t.token,
		Topics: slices.Sorted(maps.Keys(t.joined)),
	}
	if err := c.send(hello); err != nil {
		t.logger.Debug("sending hello failed", "addr", c.addr, "error", err)
		delete(t.handshaking, c)
		c.close()
		// The read loop is not running yet, so release the dial slot here.
		if c.outbound {
			delete(t.dialing, c.addr)
		}
		return
	}

	go t.readLoop(c)
}

func (t *Transport) handleSighting(ctx context.Context, s Sighting) {
	if s.PeerID == t.cfg.PeerID {
		return
	}

	id := s.PeerID
	if id == "" {
		id = t.addrPeers[s.Addr]
	}
	if p, ok := t.peers[id]; ok {
		p.lastSeen = t.now()
		return
	}

	if _, ok := t.dialing[s.Addr]; ok {
		return
	}
	t.dialing[s.Addr] = struct{}{}
	go t.dial(ctx, s.Addr)
}

func (t *Transport) handleFrame(in inboundFrame) {
	c, f := in.conn, in.frame

	if f.Type == frameHello {
		t.handleHello(c, f)
		return
	}

	p, ok := t.peers[c.peerID]
	if c.peerID == "" || !ok || p.conn != c {
		return
	}
	p.lastSeen = t.now()

	switch f.Type {
	case frameSubscribe:
		for _, topic := range f.Topics {
			t.subscribePeer(p, c.peerID, topic)
		}
	case frameMessage:
		if _, joined := t.joined[f.Topic]; !joined {
			t.logger.Debug("dropping message for unjoined topic", "topic", f.Topic, "from", c.peerID)
			return
		}
		t.emit(model.MeshEvent{
			Kind:    model.MeshEventMessage,
			Topic:   f.Topic,
			Payload: f.Data,
			PeerID:  c.peerID,
		})
	case framePing:
	default:
		t.logger.Debug("dropping unknown frame", "type", f.Type, "from", c.peerID)
	}
}

func (t *Transport) handleHello(c *peerConn, f frame) {
	if c.peerID != "" {
		return
	}

	sid, ok := ParseInviteToken(f.Token, t.cfg.Secret)
	if !ok || sid != t.cfg.SessionID {
		t.logger.Warn("rejecting peer with invalid session token", "addr", c.addr, "claimed_peer_id", f.PeerID)
		delete(t.handshaking, c)
		c.close()
		return
	}
	if f.PeerID == "" || f.PeerID == t.cfg.PeerID {
		delete(t.handshaking, c)
		c.close()
		return
	}

	delete(t.handshaking, c)
	c.peerID = f.PeerID
	if c.outbound {
		t.addrPeers[c.addr] = f.PeerID
	}

	if existing, ok := t.peers[f.PeerID]; ok {
		if existing.conn.canonical(t.cfg.PeerID) || !c.canonical(t.cfg.PeerID) {
			c.close()
			return
		}
		old := existing.conn
		existing.conn = c
		existing.lastSeen = t.now()
		old.close()
		for _, topic := range f.Topics {
			t.subscribePeer(existing, f.PeerID, topic)
		}
		return
	}

	p := &peerState{conn: c, topics: make(map[string]struct{}), lastSeen: t.now()}
	t.peers[f.PeerID] = p
	t.logger.Info("peer connected", "remote_peer", f.PeerID, "addr", c.addr, "outbound", c.outbound)

	for _, topic := range f.Topics {
		t.subscribePeer(p, f.PeerID, topic)
	}
}

// subscribePeer records that peerID joined topic, admitting only topics in
// the local session's namespace.
func (t *Transport) subscribePeer(p *peerState, peerID, topic string) {
	if _, sid, ok := model.ParseTopic(topic); !ok || sid != t.cfg.SessionID {
		t.logger.Debug("ignoring foreign topic subscription", "topic", topic, "from", peerID)
		return
	}

	p.topics[topic] = struct{}{}
	if _, joined := t.joined[topic]; joined && t.view.add(topic, peerID) {
		t.emit(model.MeshEvent{Kind: model.MeshEventPeerJoined, Topic: topic, PeerID: peerID})
	}
}

func (t *Transport) handleClosed(c *peerConn) {
	delete(t.handshaking, c)
	if c.outbound {
		delete(t.dialing, c.addr)
	}

	if p, ok := t.peers[c.peerID]; ok && p.conn == c {
		t.dropPeer(c.peerID, "connection closed")
	}
}

func (t *Transport) join(topic string) {
	if _, ok := t.joined[topic]; ok {
		return
	}
	t.joined[topic] = struct{}{}

	for id, p := range t.peers {
		if _, ok := p.topics[topic]; ok && t.view.add(topic, id) {
			t.emit(model.MeshEvent{Kind: model.MeshEventPeerJoined, Topic: topic, PeerID: id})
		}
	}

	sub := frame{Type: frameSubscribe, Topics: []string{topic}}
	for id, p := range t.peers {
		if err := p.conn.send(sub); err != nil {
			t.dropPeer(id, err.Error())
		}
	}
}

func (t *Transport) publish(topic string, payload []byte) error {
	if _, ok := t.joined[topic]; !ok {
		return fmt.Errorf("publish to %s: %w", topic, ErrNotJoined)
	}

	members := t.view.members(topic)
	if len(members) == 0 {
		return fmt.Errorf("publish to %s: %w", topic, ErrNoSubscribers)
	}

	msg := frame{Type: frameMessage, Topic: topic, Data: payload}

	var (
		delivered int
		lastErr   error
	)
	for _, id := range members {
		p := t.peers[id]
		if err := p.conn.send(msg); err != nil {
			lastErr = err
			t.dropPeer(id, err.Error())
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("publish to %s: %w: %w", topic, ErrPublish, lastErr)
	}

	return nil
}

// sweep evicts peers that were neither sighted nor heard from within the
// peer timeout and pings the rest.
func (t *Transport) sweep() {
	now := t.now()

	for c, started := range t.handshaking {
		if now.Sub(started) > t.cfg.PeerTimeout {
			delete(t.handshaking, c)
			c.close()
		}
	}

	ping := frame{Type: framePing}
	for id, p := range t.peers {
		if now.Sub(p.lastSeen) > t.cfg.PeerTimeout {
			t.dropPeer(id, "discovery timeout")
			continue
		}
		if err := p.conn.send(ping); err != nil {
			t.dropPeer(id, err.Error())
		}
	}
}

func (t *Transport) dropPeer(id, reason string) {
	p, ok := t.peers[id]
	if !ok {
		return
	}
	delete(t.peers, id)
	p.conn.close()

	topics := t.view.removePeer(id)
	t.logger.Info("peer disconnected", "remote_peer", id, "reason", reason, "topics", len(topics))

	t.emit(model.MeshEvent{Kind: model.MeshEventPeerLeft, PeerID: id})
}

// emit never blocks: a full event buffer drops the event, which the queue's
// periodic replay tolerates.
func (t *Transport) emit(ev model.MeshEvent) {
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("event buffer full, dropping mesh event", "kind", ev.Kind, "topic", ev.Topic)
	}
}
