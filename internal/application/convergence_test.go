package application_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqliteadapter "github.com/ericfisherdev/reviewmesh/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/reviewmesh/internal/application"
	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

type durablePeer struct {
	engine *application.SyncEngine
	db     *sqliteadapter.DB
	node   *meshNode
	queue  *sqliteadapter.QueueRepo
}

func openDurablePeer(t *testing.T, m *mesh, node *meshNode, path string) *durablePeer {
	t.Helper()
	ctx := context.Background()

	db, err := sqliteadapter.NewDB(ctx, path)
	require.NoError(t, err)
	require.NoError(t, sqliteadapter.RunMigrations(db.Writer))

	if node == nil {
		node = m.node(filepath.Base(path), true)
	}

	p := &durablePeer{db: db, node: node, queue: sqliteadapter.NewQueueRepo(db)}
	p.engine = application.NewSyncEngine(
		sqliteadapter.NewSessionRepo(db),
		sqliteadapter.NewCommentRepo(db),
		sqliteadapter.NewChatRepo(db),
		p.queue,
		node,
		nil,
		testSession,
	)
	require.NoError(t, p.engine.Start(ctx, "Durable review", filepath.Base(path)))

	return p
}

func (p *durablePeer) close(t *testing.T) {
	t.Helper()
	require.NoError(t, p.db.Close())
}

type commentState struct {
	ID         string
	Body       string
	Resolved   bool
	ResolvedBy string
	ResolvedAt int64
}

func snapshot(t *testing.T, p *durablePeer) ([]commentState, []string) {
	t.Helper()
	ctx := context.Background()

	comments, err := sqliteadapter.NewCommentRepo(p.db).ListComments(ctx, testSession)
	require.NoError(t, err)
	states := make([]commentState, 0, len(comments))
	for _, c := range comments {
		states = append(states, commentState{
			ID:         c.ID,
			Body:       c.Body,
			Resolved:   c.Resolved,
			ResolvedBy: c.ResolvedBy,
			ResolvedAt: c.ResolvedAt.UnixNano(),
		})
	}

	chat, err := sqliteadapter.NewChatRepo(p.db).ListChat(ctx, testSession)
	require.NoError(t, err)
	lines := make([]string, 0, len(chat))
	for _, l := range chat {
		lines = append(lines, l.ID)
	}

	return states, lines
}

func TestConvergence_ThreePeersWithOfflineMember(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := &mesh{}

	a := openDurablePeer(t, m, nil, filepath.Join(dir, "alice.db"))
	defer a.close(t)
	b := openDurablePeer(t, m, nil, filepath.Join(dir, "bob.db"))
	defer b.close(t)
	c := openDurablePeer(t, m, m.node("carol", false), filepath.Join(dir, "carol.db"))
	defer c.close(t)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a.engine.SetClock(fixedClock(base))
	b.engine.SetClock(fixedClock(base.Add(time.Second)))
	c.engine.SetClock(fixedClock(base.Add(2 * time.Second)))

	c1, err := a.engine.SubmitComment(ctx, newComment("alice", "rename this"))
	require.NoError(t, err)
	_, err = b.engine.SubmitComment(ctx, newComment("bob", "needs a test"))
	require.NoError(t, err)
	_, err = a.engine.SubmitChat(ctx, model.ChatLine{Author: "alice", Body: "starting"})
	require.NoError(t, err)

	c3, err := c.engine.SubmitComment(ctx, newComment("carol", "written on the train"))
	require.NoError(t, err)
	_, err = c.engine.ResolveComment(ctx, c3.ID, true, "carol")
	require.NoError(t, err)

	a.engine.Tick(ctx)
	b.engine.Tick(ctx)

	a.engine.SetClock(fixedClock(base.Add(5 * time.Second)))
	_, err = a.engine.ResolveComment(ctx, c1.ID, true, "alice")
	require.NoError(t, err)
	b.engine.SetClock(fixedClock(base.Add(5 * time.Second)))
	_, err = b.engine.ResolveComment(ctx, c1.ID, false, "bob")
	require.NoError(t, err)

	c.node.setOnline(true)
	for range 3 {
		a.engine.Tick(ctx)
		b.engine.Tick(ctx)
		c.engine.Tick(ctx)
	}

	aComments, aChat := snapshot(t, a)
	bComments, bChat := snapshot(t, b)
	cComments, _ := snapshot(t, c)

	require.Len(t, aComments, 3)
	assert.Equal(t, aComments, bComments)
	assert.Equal(t, aChat, bChat)

	for _, s := range aComments {
		switch s.ID {
		case c1.ID:
			// Equal resolution times tie-break on resolver, so bob's reopen wins.
			assert.False(t, s.Resolved)
			assert.Equal(t, "bob", s.ResolvedBy)
		case c3.ID:
			assert.True(t, s.Resolved)
			assert.Equal(t, "carol", s.ResolvedBy)
		}
	}

	// History acknowledged before carol joined is not backfilled.
	require.Len(t, cComments, 1)
	assert.Equal(t, c3.ID, cComments[0].ID)

	for _, p := range []*durablePeer{a, b, c} {
		for _, err := range p.queue.Pending(ctx) {
			require.NoError(t, err)
			t.Fatalf("%s still has pending events", p.node.id)
		}
	}
}

func TestConvergence_QueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := &mesh{}
	path := filepath.Join(dir, "alice.db")

	node := m.node("alice", true)
	a := openDurablePeer(t, m, node, path)
	c1, err := a.engine.SubmitComment(ctx, newComment("alice", "written offline"))
	require.NoError(t, err)
	a.close(t)

	b := openDurablePeer(t, m, m.node("bob", true), filepath.Join(dir, "bob.db"))
	defer b.close(t)

	// Reopening replays the stored queue now that bob is listening.
	a = openDurablePeer(t, m, node, path)
	defer a.close(t)

	b.engine.Tick(ctx)

	got, err := sqliteadapter.NewCommentRepo(b.db).GetComment(ctx, c1.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "written offline", got.Body)

	pending := 0
	for _, err := range a.queue.Pending(ctx) {
		require.NoError(t, err)
		pending++
	}
	assert.Equal(t, 0, pending)
}

func TestConvergence_EqualChatTimestampsOrderByID(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := &mesh{}

	a := openDurablePeer(t, m, nil, filepath.Join(dir, "alice.db"))
	defer a.close(t)
	b := openDurablePeer(t, m, nil, filepath.Join(dir, "bob.db"))
	defer b.close(t)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a.engine.SetClock(fixedClock(at))
	b.engine.SetClock(fixedClock(at))

	// Each peer stores its own line first, so arrival order differs per peer.
	_, err := a.engine.SubmitChat(ctx, model.ChatLine{ID: "line-2", Author: "alice", Body: "from alice"})
	require.NoError(t, err)
	_, err = b.engine.SubmitChat(ctx, model.ChatLine{ID: "line-1", Author: "bob", Body: "from bob"})
	require.NoError(t, err)
	_, err = a.engine.SubmitChat(ctx, model.ChatLine{ID: "line-3", Author: "alice", Body: "again"})
	require.NoError(t, err)

	for range 2 {
		a.engine.Tick(ctx)
		b.engine.Tick(ctx)
	}

	_, aChat := snapshot(t, a)
	_, bChat := snapshot(t, b)
	assert.Equal(t, []string{"line-1", "line-2", "line-3"}, aChat)
	assert.Equal(t, aChat, bChat)
}
