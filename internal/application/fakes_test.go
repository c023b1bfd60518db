package application_test

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// --- In-memory store ---

type memStore struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	comments map[string]model.Comment
	chat     map[string]model.ChatLine
	err      error
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]model.Session),
		comments: make(map[string]model.Comment),
		chat:     make(map[string]model.ChatLine),
	}
}

func (m *memStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	s.Participants = slices.Clone(s.Participants)
	return &s, nil
}

func (m *memStore) SaveSession(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if existing, ok := m.sessions[s.ID]; ok {
		s.CreatedAt = existing.CreatedAt
	}
	s.Participants = slices.Clone(s.Participants)
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) UpsertComment(_ context.Context, c model.Comment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	existing, ok := m.comments[c.ID]
	if !ok {
		m.comments[c.ID] = c
		return true, nil
	}
	if !c.ResolutionNewer(existing) {
		return false, nil
	}
	existing.Resolved, existing.ResolvedAt, existing.ResolvedBy = c.Resolved, c.ResolvedAt, c.ResolvedBy
	m.comments[c.ID] = existing
	return true, nil
}

func (m *memStore) GetComment(_ context.Context, id string) (*model.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.comments[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) ListComments(_ context.Context, sessionID string) ([]model.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []model.Comment{}
	for _, c := range m.comments {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b model.Comment) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *memStore) UpsertChat(_ context.Context, l model.ChatLine) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.chat[l.ID]; ok {
		return false, nil
	}
	m.chat[l.ID] = l
	return true, nil
}

func (m *memStore) ListChat(_ context.Context, sessionID string) ([]model.ChatLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []model.ChatLine{}
	for _, l := range m.chat {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b model.ChatLine) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// --- In-memory offline queue ---

type memQueue struct {
	mu     sync.Mutex
	next   int64
	events []model.QueuedEvent
	err    error
}

func (q *memQueue) Enqueue(_ context.Context, topic string, payload []byte) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	q.next++
	q.events = append(q.events, model.QueuedEvent{
		Sequence:   q.next,
		Topic:      topic,
		Payload:    slices.Clone(payload),
		EnqueuedAt: time.Now(),
	})
	return q.next, nil
}

func (q *memQueue) Pending(_ context.Context) iter.Seq2[model.QueuedEvent, error] {
	return func(yield func(model.QueuedEvent, error) bool) {
		q.mu.Lock()
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			yield(model.QueuedEvent{}, err)
			return
		}
		var pending []model.QueuedEvent
		for _, ev := range q.events {
			if !ev.Acknowledged {
				pending = append(pending, ev)
			}
		}
		q.mu.Unlock()

		for _, ev := range pending {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (q *memQueue) Acknowledge(_ context.Context, seq int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	for i := range q.events {
		if q.events[i].Sequence == seq {
			q.events[i].Acknowledged = true
		}
	}
	return nil
}

func (q *memQueue) Prune(_ context.Context, before time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.events[:0]
	removed := 0
	for _, ev := range q.events {
		if ev.Acknowledged && ev.EnqueuedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	q.events = kept
	return removed, nil
}

func (q *memQueue) pendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, ev := range q.events {
		if !ev.Acknowledged {
			n++
		}
	}
	return n
}

// --- In-memory mesh ---

var errNoSubscribers = errors.New("no subscribers")

// mesh connects meshNodes in-process. Publishing on a topic delivers to every
// other online node that joined it.
type mesh struct {
	mu    sync.Mutex
	nodes []*meshNode
}

type meshNode struct {
	mesh   *mesh
	id     string
	online bool
	joined map[string]bool
	events chan model.MeshEvent
	sent   []string
}

var _ driven.Transport = (*meshNode)(nil)

func (m *mesh) node(id string, online bool) *meshNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &meshNode{
		mesh:   m,
		id:     id,
		online: online,
		joined: make(map[string]bool),
		events: make(chan model.MeshEvent, 256),
	}
	m.nodes = append(m.nodes, n)
	return n
}

func (n *meshNode) Join(_ context.Context, topic string) error {
	n.mesh.mu.Lock()
	defer n.mesh.mu.Unlock()
	n.joined[topic] = true
	return nil
}

func (n *meshNode) Publish(_ context.Context, topic string, payload []byte) error {
	n.mesh.mu.Lock()
	defer n.mesh.mu.Unlock()

	if !n.online {
		return errNoSubscribers
	}

	delivered := 0
	for _, other := range n.mesh.nodes {
		if other == n || !other.online || !other.joined[topic] {
			continue
		}
		other.events <- model.MeshEvent{
			Kind:    model.MeshEventMessage,
			Topic:   topic,
			Payload: slices.Clone(payload),
			PeerID:  n.id,
		}
		delivered++
	}

	if delivered == 0 {
		return errNoSubscribers
	}
	n.sent = append(n.sent, topic)
	return nil
}

func (n *meshNode) Events() <-chan model.MeshEvent {
	return n.events
}

// setOnline toggles a node's connectivity. Coming online announces the node
// to every online peer sharing a topic, and those peers to it.
func (n *meshNode) setOnline(online bool) {
	n.mesh.mu.Lock()
	defer n.mesh.mu.Unlock()

	n.online = online
	if !online {
		return
	}

	for _, other := range n.mesh.nodes {
		if other == n || !other.online {
			continue
		}
		for topic := range n.joined {
			if !other.joined[topic] {
				continue
			}
			other.events <- model.MeshEvent{Kind: model.MeshEventPeerJoined, Topic: topic, PeerID: n.id}
			n.events <- model.MeshEvent{Kind: model.MeshEventPeerJoined, Topic: topic, PeerID: other.id}
		}
	}
}

func (n *meshNode) sentCount() int {
	n.mesh.mu.Lock()
	defer n.mesh.mu.Unlock()
	return len(n.sent)
}

// --- Recording observer ---

type recordingObserver struct {
	mu            sync.Mutex
	notifications []driven.Notification
}

func (r *recordingObserver) Notify(_ context.Context, n driven.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifications)
}
