package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// ReplayStats summarizes one pass over the offline queue.
type ReplayStats struct {
	Republished  int
	Acknowledged int
}

// TickStats summarizes one Tick.
type TickStats struct {
	ReplayStats
	Inbound int
}

// SyncEngine applies local and remote comment and chat events for a single
// session. It writes to the store before touching the network and leaves
// every outbound event in the offline queue until the transport accepts it.
//
// A SyncEngine is not safe for concurrent use; SyncService owns it.
type SyncEngine struct {
	sessions  driven.SessionStore
	comments  driven.CommentStore
	chat      driven.ChatStore
	queue     driven.EventQueue
	transport driven.Transport
	observer  driven.Observer
	sessionID string
	now       func() time.Time
}

// NewSyncEngine creates a SyncEngine for sessionID. observer may be nil.
func NewSyncEngine(
	sessions driven.SessionStore,
	comments driven.CommentStore,
	chat driven.ChatStore,
	queue driven.EventQueue,
	transport driven.Transport,
	observer driven.Observer,
	sessionID string,
) *SyncEngine {
	if observer == nil {
		observer = ObserverFunc(func(context.Context, driven.Notification) {})
	}

	return &SyncEngine{
		sessions:  sessions,
		comments:  comments,
		chat:      chat,
		queue:     queue,
		transport: transport,
		observer:  observer,
		sessionID: sessionID,
		now:       time.Now,
	}
}

// SessionID returns the session the engine serves.
func (e *SyncEngine) SessionID() string {
	return e.sessionID
}

// Start ensures the session record exists, joins the session's topics and
// replays any events left over from a previous run. A store failure here is
// fatal to participation in the session.
func (e *SyncEngine) Start(ctx context.Context, title, localAuthor string) error {
	session, err := e.sessions.GetSession(ctx, e.sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", e.sessionID, err)
	}

	switch {
	case session == nil:
		session = &model.Session{ID: e.sessionID, Title: title, CreatedAt: e.now().UTC()}
		session.AddParticipant(localAuthor)
		if err := e.sessions.SaveSession(ctx, *session); err != nil {
			return fmt.Errorf("create session %s: %w", e.sessionID, err)
		}
		slog.Info("session created", "session_id", e.sessionID, "title", title)
	case session.AddParticipant(localAuthor):
		if err := e.sessions.SaveSession(ctx, *session); err != nil {
			return fmt.Errorf("update session %s: %w", e.sessionID, err)
		}
	}

	for _, topic := range []string{model.CommentTopic(e.sessionID), model.ChatTopic(e.sessionID)} {
		if err := e.transport.Join(ctx, topic); err != nil {
			return fmt.Errorf("join %s: %w", topic, err)
		}
	}

	stats := e.Replay(ctx)
	slog.Info("sync engine started",
		"session_id", e.sessionID,
		"republished", stats.Republished,
		"acknowledged", stats.Acknowledged,
	)

	return nil
}

// RenameSession changes the session title. Titles are local metadata and
// are not disseminated.
func (e *SyncEngine) RenameSession(ctx context.Context, title string) (model.Session, error) {
	if title == "" {
		return model.Session{}, fmt.Errorf("rename session %s: title %w", e.sessionID, errRequired)
	}

	session, err := e.sessions.GetSession(ctx, e.sessionID)
	if err != nil {
		return model.Session{}, fmt.Errorf("load session %s: %w", e.sessionID, err)
	}
	if session == nil {
		return model.Session{}, fmt.Errorf("rename session %s: %w", e.sessionID, ErrSessionNotFound)
	}

	session.Title = title
	if err := e.sessions.SaveSession(ctx, *session); err != nil {
		return model.Session{}, fmt.Errorf("rename session %s: %w", e.sessionID, err)
	}

	return *session, nil
}

// SubmitComment stores a locally authored comment and disseminates it. ID,
// SessionID and CreatedAt are filled in when empty. Resubmitting an existing
// ID returns the comment as first stored. Only a store failure is reported;
// network problems leave the event queued for replay.
func (e *SyncEngine) SubmitComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.SessionID == "" {
		c.SessionID = e.sessionID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = e.now().UTC()
	}

	if c.SessionID != e.sessionID {
		return model.Comment{}, fmt.Errorf("submit comment %s: %w", c.ID, ErrForeignSession)
	}
	if err := validateComment(c); err != nil {
		return model.Comment{}, fmt.Errorf("submit comment: %w", err)
	}

	return e.storeAndSend(ctx, c, true)
}

// ResolveComment sets or clears a comment's resolved flag. The change carries
// a fresh resolution clock, so it replaces any earlier resolution on every
// peer that receives it.
func (e *SyncEngine) ResolveComment(ctx context.Context, commentID string, resolved bool, by string) (model.Comment, error) {
	existing, err := e.comments.GetComment(ctx, commentID)
	if err != nil {
		return model.Comment{}, fmt.Errorf("resolve comment %s: %w", commentID, err)
	}
	if existing == nil || existing.SessionID != e.sessionID {
		return model.Comment{}, fmt.Errorf("resolve comment %s: %w", commentID, ErrCommentNotFound)
	}
	if by == "" {
		return model.Comment{}, fmt.Errorf("resolve comment %s: resolver %w", commentID, errRequired)
	}

	c := *existing
	c.Resolved = resolved
	c.ResolvedBy = by
	c.ResolvedAt = e.now().UTC()
	// Keep the local change ahead of the stored clock even if our wall clock lags.
	if !c.ResolutionNewer(*existing) {
		c.ResolvedAt = existing.ResolvedAt.Add(time.Nanosecond)
	}

	return e.storeAndSend(ctx, c, true)
}

// storeAndSend stores c and disseminates the record as stored. When the ID
// already exists with a body the upsert does not replace, the stored comment
// is what gets sent and returned.
func (e *SyncEngine) storeAndSend(ctx context.Context, c model.Comment, local bool) (model.Comment, error) {
	changed, err := e.comments.UpsertComment(ctx, c)
	if err != nil {
		return model.Comment{}, fmt.Errorf("store comment %s: %w", c.ID, err)
	}
	if !changed {
		stored, err := e.comments.GetComment(ctx, c.ID)
		if err != nil {
			return model.Comment{}, fmt.Errorf("load comment %s: %w", c.ID, err)
		}
		if stored != nil {
			c = *stored
		}
	}

	payload, err := encodeComment(c)
	if err != nil {
		return model.Comment{}, fmt.Errorf("encode comment %s: %w", c.ID, err)
	}
	e.disseminate(ctx, model.CommentTopic(e.sessionID), payload)

	e.noteParticipant(ctx, c.Author)
	if changed {
		e.observer.Notify(ctx, driven.Notification{Kind: model.EntityKindComment, Comment: &c, Local: local})
	}

	return c, nil
}

// SubmitChat stores a locally authored chat line and disseminates it.
func (e *SyncEngine) SubmitChat(ctx context.Context, l model.ChatLine) (model.ChatLine, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.SessionID == "" {
		l.SessionID = e.sessionID
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = e.now().UTC()
	}

	if l.SessionID != e.sessionID {
		return model.ChatLine{}, fmt.Errorf("submit chat line %s: %w", l.ID, ErrForeignSession)
	}
	if err := validateChat(l); err != nil {
		return model.ChatLine{}, fmt.Errorf("submit chat line: %w", err)
	}

	changed, err := e.chat.UpsertChat(ctx, l)
	if err != nil {
		return model.ChatLine{}, fmt.Errorf("store chat line %s: %w", l.ID, err)
	}

	payload, err := encodeChat(l)
	if err != nil {
		return model.ChatLine{}, fmt.Errorf("encode chat line %s: %w", l.ID, err)
	}
	e.disseminate(ctx, model.ChatTopic(e.sessionID), payload)

	e.noteParticipant(ctx, l.Author)
	if changed {
		e.observer.Notify(ctx, driven.Notification{Kind: model.EntityKindChat, Chat: &l, Local: true})
	}

	return l, nil
}

// disseminate records the event in the offline queue and attempts one
// immediate publish. A queue failure degrades to a best-effort publish.
func (e *SyncEngine) disseminate(ctx context.Context, topic string, payload []byte) {
	seq, qerr := e.queue.Enqueue(ctx, topic, payload)
	if qerr != nil {
		slog.Warn("offline queue unavailable, publishing without retry", "topic", topic, "error", qerr)
	}

	if err := e.transport.Publish(ctx, topic, payload); err != nil {
		slog.Debug("publish deferred", "topic", topic, "sequence", seq, "error", err)
		return
	}

	if qerr == nil {
		if err := e.queue.Acknowledge(ctx, seq); err != nil {
			slog.Warn("acknowledge failed, event will be republished", "sequence", seq, "error", err)
		}
	}
}

// OnInbound applies a payload received from the mesh. Payloads that cannot
// be decoded, or that belong to another session, are dropped.
func (e *SyncEngine) OnInbound(ctx context.Context, topic string, payload []byte) {
	family, sid, ok := model.ParseTopic(topic)
	if !ok || sid != e.sessionID {
		slog.Debug("dropping message on foreign topic", "topic", topic)
		return
	}

	switch family {
	case model.TopicFamilyComment:
		c, err := decodeComment(payload)
		if err != nil || c.SessionID != e.sessionID {
			slog.Debug("dropping undecodable comment", "topic", topic, "error", err)
			return
		}
		e.applyRemoteComment(ctx, c)
	case model.TopicFamilyChat:
		l, err := decodeChat(payload)
		if err != nil || l.SessionID != e.sessionID {
			slog.Debug("dropping undecodable chat line", "topic", topic, "error", err)
			return
		}
		e.applyRemoteChat(ctx, l)
	}
}

func (e *SyncEngine) applyRemoteComment(ctx context.Context, c model.Comment) {
	changed, err := e.comments.UpsertComment(ctx, c)
	if err != nil {
		slog.Error("storing inbound comment failed", "comment_id", c.ID, "error", err)
		return
	}
	if !changed {
		return
	}

	e.noteParticipant(ctx, c.Author)
	e.observer.Notify(ctx, driven.Notification{Kind: model.EntityKindComment, Comment: &c})
}

func (e *SyncEngine) applyRemoteChat(ctx context.Context, l model.ChatLine) {
	changed, err := e.chat.UpsertChat(ctx, l)
	if err != nil {
		slog.Error("storing inbound chat line failed", "chat_id", l.ID, "error", err)
		return
	}
	if !changed {
		return
	}

	e.noteParticipant(ctx, l.Author)
	e.observer.Notify(ctx, driven.Notification{Kind: model.EntityKindChat, Chat: &l})
}

// noteParticipant adds author to the session's participants on first sight.
func (e *SyncEngine) noteParticipant(ctx context.Context, author string) {
	session, err := e.sessions.GetSession(ctx, e.sessionID)
	if err != nil || session == nil {
		if err != nil {
			slog.Warn("loading session for participants failed", "session_id", e.sessionID, "error", err)
		}
		return
	}

	if !session.AddParticipant(author) {
		return
	}
	if err := e.sessions.SaveSession(ctx, *session); err != nil {
		slog.Warn("recording participant failed", "session_id", e.sessionID, "author", author, "error", err)
	}
}

// HandleEvent dispatches one transport event. A peer joining a topic
// triggers a replay so it receives everything still queued.
func (e *SyncEngine) HandleEvent(ctx context.Context, ev model.MeshEvent) {
	switch ev.Kind {
	case model.MeshEventMessage:
		e.OnInbound(ctx, ev.Topic, ev.Payload)
	case model.MeshEventPeerJoined:
		stats := e.Replay(ctx)
		slog.Info("peer joined", "peer", ev.PeerID, "topic", ev.Topic, "republished", stats.Republished)
	case model.MeshEventPeerLeft:
		slog.Info("peer left", "peer", ev.PeerID)
	}
}

// Replay republishes every pending event in sequence order and acknowledges
// those the transport accepts. After a publish on a topic fails, later events
// on that topic are left for the next replay so per-topic order is kept.
func (e *SyncEngine) Replay(ctx context.Context) ReplayStats {
	var stats ReplayStats
	blocked := make(map[string]bool)

	for ev, err := range e.queue.Pending(ctx) {
		if err != nil {
			slog.Warn("reading offline queue failed", "error", err)
			break
		}
		if blocked[ev.Topic] {
			continue
		}

		stats.Republished++
		if err := e.transport.Publish(ctx, ev.Topic, ev.Payload); err != nil {
			blocked[ev.Topic] = true
			continue
		}

		if err := e.queue.Acknowledge(ctx, ev.Sequence); err != nil {
			slog.Warn("acknowledge failed", "sequence", ev.Sequence, "error", err)
			continue
		}
		stats.Acknowledged++
	}

	return stats
}

// Tick drains the offline queue and then applies any transport events that
// are already buffered, without blocking.
func (e *SyncEngine) Tick(ctx context.Context) TickStats {
	stats := TickStats{ReplayStats: e.Replay(ctx)}

	for {
		select {
		case ev := <-e.transport.Events():
			e.HandleEvent(ctx, ev)
			stats.Inbound++
		default:
			return stats
		}
	}
}

// IsUnavailable reports whether err means the durable store cannot be used.
func IsUnavailable(err error) bool {
	return errors.Is(err, driven.ErrStoreUnavailable)
}
