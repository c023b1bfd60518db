package gossip

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

var testSecret = []byte("test-secret")

func startTransport(t *testing.T, peerID, sessionID string, secret []byte, discoverers ...Discoverer) *Transport {
	t.Helper()

	return startTransportWith(t, Config{
		PeerID:      peerID,
		ListenAddr:  "127.0.0.1:0",
		SessionID:   sessionID,
		Secret:      secret,
		PeerTimeout: 5 * time.Second,
		Discoverers: discoverers,
	})
}

func startTransportWith(t *testing.T, cfg Config) *Transport {
	t.Helper()

	tr, err := New(cfg)
	require.NoError(t, err)

	_, err = tr.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tr.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	return tr
}

func staticTo(addrs ...string) Discoverer {
	return &StaticDiscoverer{Addrs: addrs, Interval: 50 * time.Millisecond}
}

// waitEvent returns the first event of the given kind, discarding others.
func waitEvent(t *testing.T, tr *Transport, kind model.MeshEventKind) model.MeshEvent {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-tr.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return model.MeshEvent{}
		}
	}
}

func TestNew_RequiresIdentity(t *testing.T) {
	_, err := New(Config{SessionID: "s1", Secret: testSecret})
	require.Error(t, err)

	_, err = New(Config{PeerID: "a", Secret: testSecret})
	require.Error(t, err)

	_, err = New(Config{PeerID: "a", SessionID: "s1"})
	require.Error(t, err)
}

func TestTransport_PublishWithoutJoin(t *testing.T) {
	a := startTransport(t, "peer-a", "s1", testSecret)

	err := a.Publish(context.Background(), model.CommentTopic("s1"), []byte("x"))
	require.ErrorIs(t, err, ErrNotJoined)
}

func TestTransport_PublishWithoutSubscribers(t *testing.T) {
	a := startTransport(t, "peer-a", "s1", testSecret)
	ctx := context.Background()

	require.NoError(t, a.Join(ctx, model.CommentTopic("s1")))
	require.NoError(t, a.Join(ctx, model.CommentTopic("s1")))

	err := a.Publish(ctx, model.CommentTopic("s1"), []byte("x"))
	require.ErrorIs(t, err, ErrNoSubscribers)
}

func TestTransport_DeliversToSubscribedPeer(t *testing.T) {
	ctx := context.Background()
	topic := model.CommentTopic("s1")

	a := startTransport(t, "peer-a", "s1", testSecret)
	require.NoError(t, a.Join(ctx, topic))

	b := startTransport(t, "peer-b", "s1", testSecret, staticTo(a.Addr()))
	require.NoError(t, b.Join(ctx, topic))

	joined := waitEvent(t, b, model.MeshEventPeerJoined)
	assert.Equal(t, "peer-a", joined.PeerID)
	assert.Equal(t, topic, joined.Topic)

	require.NoError(t, b.Publish(ctx, topic, []byte(`{"id":"c1"}`)))

	msg := waitEvent(t, a, model.MeshEventMessage)
	assert.Equal(t, topic, msg.Topic)
	assert.Equal(t, "peer-b", msg.PeerID)
	assert.JSONEq(t, `{"id":"c1"}`, string(msg.Payload))

	peers, err := a.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-b"}, peers)
}

func TestTransport_TopicsAreIsolated(t *testing.T) {
	ctx := context.Background()

	a := startTransport(t, "peer-a", "s1", testSecret)
	require.NoError(t, a.Join(ctx, model.ChatTopic("s1")))

	b := startTransport(t, "peer-b", "s1", testSecret, staticTo(a.Addr()))
	require.NoError(t, b.Join(ctx, model.CommentTopic("s1")))

	require.Eventually(t, func() bool {
		peers, err := b.Peers(ctx)
		return err == nil && len(peers) == 1
	}, 5*time.Second, 20*time.Millisecond)

	// Connected, but a has not joined the comment topic.
	err := b.Publish(ctx, model.CommentTopic("s1"), []byte("x"))
	require.ErrorIs(t, err, ErrNoSubscribers)
}

func TestTransport_RejectsWrongSecret(t *testing.T) {
	ctx := context.Background()
	topic := model.CommentTopic("s1")

	a := startTransport(t, "peer-a", "s1", testSecret)
	require.NoError(t, a.Join(ctx, topic))

	intruder := startTransport(t, "peer-x", "s1", []byte("other-secret"), staticTo(a.Addr()))
	require.NoError(t, intruder.Join(ctx, topic))

	// Give discovery several rounds to try.
	time.Sleep(300 * time.Millisecond)

	peers, err := a.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)

	err = intruder.Publish(ctx, topic, []byte("x"))
	require.ErrorIs(t, err, ErrNoSubscribers)
}

func TestTransport_RejectsOtherSession(t *testing.T) {
	ctx := context.Background()

	a := startTransport(t, "peer-a", "s1", testSecret)
	require.NoError(t, a.Join(ctx, model.CommentTopic("s1")))

	other := startTransport(t, "peer-o", "s2", testSecret, staticTo(a.Addr()))
	require.NoError(t, other.Join(ctx, model.CommentTopic("s2")))

	time.Sleep(300 * time.Millisecond)

	peers, err := a.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestTransport_PeerLeftOnShutdown(t *testing.T) {
	ctx := context.Background()
	topic := model.CommentTopic("s1")

	a := startTransport(t, "peer-a", "s1", testSecret)
	require.NoError(t, a.Join(ctx, topic))

	bTransport, err := New(Config{
		PeerID:      "peer-b",
		ListenAddr:  "127.0.0.1:0",
		SessionID:   "s1",
		Secret:      testSecret,
		Discoverers: []Discoverer{staticTo(a.Addr())},
	})
	require.NoError(t, err)

	bCtx, stopB := context.WithCancel(ctx)
	bDone := make(chan error, 1)
	go func() { bDone <- bTransport.Run(bCtx) }()
	require.NoError(t, bTransport.Join(ctx, topic))

	waitEvent(t, a, model.MeshEventPeerJoined)

	stopB()
	require.NoError(t, <-bDone)

	left := waitEvent(t, a, model.MeshEventPeerLeft)
	assert.Equal(t, "peer-b", left.PeerID)

	err = a.Publish(ctx, topic, []byte("x"))
	require.ErrorIs(t, err, ErrNoSubscribers)

	err = bTransport.Publish(ctx, topic, []byte("x"))
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestTransport_EvictsSilentPeer(t *testing.T) {
	ctx := context.Background()
	topic := model.CommentTopic("s1")
	timeout := 300 * time.Millisecond

	a := startTransportWith(t, Config{
		PeerID:      "peer-a",
		ListenAddr:  "127.0.0.1:0",
		SessionID:   "s1",
		Secret:      testSecret,
		PeerTimeout: timeout,
	})
	require.NoError(t, a.Join(ctx, topic))

	// A client that completes the hello and then never sends another frame.
	u := url.URL{Scheme: "ws", Host: a.Addr(), Path: meshPath}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, ws.WriteJSON(frame{
		Type:   frameHello,
		PeerID: "peer-silent",
		Token:  GenerateInviteToken("s1", testSecret),
		Topics: []string{topic},
	}))

	joined := waitEvent(t, a, model.MeshEventPeerJoined)
	assert.Equal(t, "peer-silent", joined.PeerID)
	start := time.Now()

	left := waitEvent(t, a, model.MeshEventPeerLeft)
	assert.Equal(t, "peer-silent", left.PeerID)
	assert.GreaterOrEqual(t, time.Since(start), timeout-50*time.Millisecond, "evicted before the peer timeout")

	peers, err := a.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)

	err = a.Publish(ctx, topic, []byte("x"))
	require.ErrorIs(t, err, ErrNoSubscribers)
}

func TestTransport_MutualDialKeepsOneConnection(t *testing.T) {
	ctx := context.Background()
	topic := model.CommentTopic("s1")

	// Each side learns the other's address before either dials.
	aDisc := &StaticDiscoverer{Interval: 50 * time.Millisecond}
	bDisc := &StaticDiscoverer{Interval: 50 * time.Millisecond}
	a, err := New(Config{PeerID: "peer-a", ListenAddr: "127.0.0.1:0", SessionID: "s1", Secret: testSecret, Discoverers: []Discoverer{aDisc}})
	require.NoError(t, err)
	b, err := New(Config{PeerID: "peer-b", ListenAddr: "127.0.0.1:0", SessionID: "s1", Secret: testSecret, Discoverers: []Discoverer{bDisc}})
	require.NoError(t, err)
	aAddr, err := a.Listen()
	require.NoError(t, err)
	bAddr, err := b.Listen()
	require.NoError(t, err)
	aDisc.Addrs = []string{bAddr}
	bDisc.Addrs = []string{aAddr}

	for _, tr := range []*Transport{a, b} {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- tr.Run(runCtx) }()
		t.Cleanup(func() {
			cancel()
			<-done
		})
		require.NoError(t, tr.Join(ctx, topic))
	}

	waitEvent(t, a, model.MeshEventPeerJoined)
	waitEvent(t, b, model.MeshEventPeerJoined)

	// Let several discovery rounds redial and settle the duplicate.
	time.Sleep(300 * time.Millisecond)

	for _, tr := range []*Transport{a, b} {
		var (
			peers       int
			handshaking int
			outbound    bool
		)
		require.NoError(t, tr.do(ctx, func() error {
			peers, handshaking = len(tr.peers), len(tr.handshaking)
			for _, p := range tr.peers {
				outbound = p.conn.outbound
			}
			return nil
		}))
		assert.Equal(t, 1, peers, tr.cfg.PeerID)
		assert.Zero(t, handshaking, tr.cfg.PeerID)
		// Both ends keep the connection dialed by the smaller peer ID.
		assert.Equal(t, tr.cfg.PeerID == "peer-a", outbound, tr.cfg.PeerID)
	}

	// Drain anything left over from the settling phase.
	for len(b.Events()) > 0 {
		<-b.Events()
	}

	const total = 100
	for i := range total {
		require.NoError(t, a.Publish(ctx, topic, []byte(fmt.Sprintf(`{"n":%d}`, i))))
	}

	seen := make(map[string]int)
	deadline := time.After(5 * time.Second)
	for len(seen) < total {
		select {
		case ev := <-b.Events():
			if ev.Kind == model.MeshEventMessage {
				seen[string(ev.Payload)]++
			}
		case <-deadline:
			t.Fatalf("received %d of %d messages", len(seen), total)
		}
	}

	// A second connection would show up as late duplicates.
	time.Sleep(100 * time.Millisecond)
	for len(b.Events()) > 0 {
		if ev := <-b.Events(); ev.Kind == model.MeshEventMessage {
			seen[string(ev.Payload)]++
		}
	}

	assert.Len(t, seen, total)
	for payload, n := range seen {
		assert.Equal(t, 1, n, "duplicate delivery of %s", payload)
	}
}
