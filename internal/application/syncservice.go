// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// syncRequest is a unit of work handed to the owner goroutine.
type syncRequest struct {
	apply func(ctx context.Context)
}

// SyncServiceConfig holds the loop settings of a SyncService.
type SyncServiceConfig struct {
	Title          string
	LocalAuthor    string
	TickInterval   time.Duration
	PruneInterval  time.Duration
	QueueRetention time.Duration
	HandoffBuffer  int
}

// SyncService owns a SyncEngine. Every store mutation, queue access and
// publish happens on the goroutine running Run; other goroutines submit work
// through a bounded hand-off channel and wait for the result.
type SyncService struct {
	engine    *SyncEngine
	transport driven.Transport
	queue     driven.EventQueue
	cfg       SyncServiceConfig
	requests  chan syncRequest
}

// NewSyncService creates a SyncService around engine.
func NewSyncService(engine *SyncEngine, transport driven.Transport, queue driven.EventQueue, cfg SyncServiceConfig) *SyncService {
	if cfg.HandoffBuffer <= 0 {
		cfg.HandoffBuffer = 64
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}

	return &SyncService{
		engine:    engine,
		transport: transport,
		queue:     queue,
		cfg:       cfg,
		requests:  make(chan syncRequest, cfg.HandoffBuffer),
	}
}

// Run starts the engine and then serves submissions, transport events, the
// replay tick and queue pruning until ctx is canceled. A startup failure is
// returned immediately.
func (s *SyncService) Run(ctx context.Context) error {
	if err := s.engine.Start(ctx, s.cfg.Title, s.cfg.LocalAuthor); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	prune := time.NewTicker(s.cfg.PruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync service stopped")
			return nil
		case <-ticker.C:
			stats := s.engine.Tick(ctx)
			if stats.Republished > 0 || stats.Inbound > 0 {
				slog.Debug("sync tick",
					"republished", stats.Republished,
					"acknowledged", stats.Acknowledged,
					"inbound", stats.Inbound,
				)
			}
		case <-prune.C:
			s.pruneQueue(ctx)
		case ev := <-s.transport.Events():
			s.engine.HandleEvent(ctx, ev)
		case req := <-s.requests:
			req.apply(ctx)
		}
	}
}

func (s *SyncService) pruneQueue(ctx context.Context) {
	if s.cfg.QueueRetention <= 0 {
		return
	}

	removed, err := s.queue.Prune(ctx, time.Now().Add(-s.cfg.QueueRetention))
	if err != nil {
		slog.Warn("pruning offline queue failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("pruned acknowledged events", "removed", removed)
	}
}

// SessionID returns the session served by the underlying engine.
func (s *SyncService) SessionID() string {
	return s.engine.SessionID()
}

// SubmitComment stores and disseminates a locally authored comment.
func (s *SyncService) SubmitComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	return submit(ctx, s, func(ctx context.Context) (model.Comment, error) {
		return s.engine.SubmitComment(ctx, c)
	})
}

// SubmitChat stores and disseminates a locally authored chat line.
func (s *SyncService) SubmitChat(ctx context.Context, l model.ChatLine) (model.ChatLine, error) {
	return submit(ctx, s, func(ctx context.Context) (model.ChatLine, error) {
		return s.engine.SubmitChat(ctx, l)
	})
}

// ResolveComment sets or clears a comment's resolved flag.
func (s *SyncService) ResolveComment(ctx context.Context, commentID string, resolved bool, by string) (model.Comment, error) {
	return submit(ctx, s, func(ctx context.Context) (model.Comment, error) {
		return s.engine.ResolveComment(ctx, commentID, resolved, by)
	})
}

// RenameSession changes the served session's title.
func (s *SyncService) RenameSession(ctx context.Context, title string) (model.Session, error) {
	return submit(ctx, s, func(ctx context.Context) (model.Session, error) {
		return s.engine.RenameSession(ctx, title)
	})
}

// TickNow runs a replay and inbound drain immediately instead of waiting
// for the next tick.
func (s *SyncService) TickNow(ctx context.Context) (TickStats, error) {
	return submit(ctx, s, func(ctx context.Context) (TickStats, error) {
		return s.engine.Tick(ctx), nil
	})
}

// submit hands fn to the owner goroutine and waits for its result. fn runs
// with the service's context, so a caller giving up does not abort a write
// halfway through.
func submit[T any](ctx context.Context, s *SyncService, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	done := make(chan result, 1)
	req := syncRequest{apply: func(ctx context.Context) {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}}

	var zero T

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
