package application

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// ObserverFunc adapts a function to the driven.Observer interface.
type ObserverFunc func(ctx context.Context, n driven.Notification)

// Notify implements driven.Observer.
func (f ObserverFunc) Notify(ctx context.Context, n driven.Notification) {
	f(ctx, n)
}

// LogObserver logs every stored record at info level.
type LogObserver struct {
	Logger *slog.Logger
}

// Notify implements driven.Observer.
func (l LogObserver) Notify(_ context.Context, n driven.Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	origin := "remote"
	if n.Local {
		origin = "local"
	}

	switch n.Kind {
	case model.EntityKindComment:
		if n.Comment == nil {
			return
		}
		logger.Info("comment stored",
			"origin", origin,
			"comment_id", n.Comment.ID,
			"author", n.Comment.Author,
			"file", n.Comment.File,
			"resolved", n.Comment.Resolved,
		)
	case model.EntityKindChat:
		if n.Chat == nil {
			return
		}
		logger.Info("chat line stored", "origin", origin, "chat_id", n.Chat.ID, "author", n.Chat.Author)
	}
}
