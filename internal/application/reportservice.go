package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// ReportService assembles a session's stored records and current diff into
// a report for export.
type ReportService struct {
	sessions driven.SessionStore
	comments driven.CommentStore
	chat     driven.ChatStore
	diff     *DiffService
}

// NewReportService creates a ReportService. diff may be nil.
func NewReportService(sessions driven.SessionStore, comments driven.CommentStore, chat driven.ChatStore, diff *DiffService) *ReportService {
	return &ReportService{sessions: sessions, comments: comments, chat: chat, diff: diff}
}

// Build returns the report for sessionID. A diff that cannot be computed is
// left out rather than failing the report.
func (s *ReportService) Build(ctx context.Context, sessionID string) (model.SessionReport, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return model.SessionReport{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if session == nil {
		return model.SessionReport{}, fmt.Errorf("build report for %s: %w", sessionID, ErrSessionNotFound)
	}

	comments, err := s.comments.ListComments(ctx, sessionID)
	if err != nil {
		return model.SessionReport{}, fmt.Errorf("list comments for %s: %w", sessionID, err)
	}

	chat, err := s.chat.ListChat(ctx, sessionID)
	if err != nil {
		return model.SessionReport{}, fmt.Errorf("list chat for %s: %w", sessionID, err)
	}

	report := model.SessionReport{
		Session:  *session,
		Comments: comments,
		Chat:     chat,
	}

	if s.diff != nil {
		files, err := s.diff.Files(ctx)
		switch {
		case err == nil:
			report.Files = files
		case errors.Is(err, ErrNoDiffSource):
		default:
			slog.Warn("computing diff for report failed", "session_id", sessionID, "error", err)
		}
	}

	return report, nil
}
