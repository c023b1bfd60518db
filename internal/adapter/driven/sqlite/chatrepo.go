package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ChatStore = (*ChatRepo)(nil)

// ChatRepo is the SQLite implementation of the ChatStore port interface.
type ChatRepo struct {
	db *DB
}

// NewChatRepo creates a new ChatRepo backed by the given DB.
func NewChatRepo(db *DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// UpsertChat inserts a chat line. Chat lines are immutable, so a line whose
// ID is already stored is left untouched and false is returned.
func (r *ChatRepo) UpsertChat(ctx context.Context, line model.ChatLine) (bool, error) {
	const query = `
		INSERT INTO chat_lines (id, session_id, author, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	if err := storableTime("created_at", line.CreatedAt); err != nil {
		return false, fmt.Errorf("upsert chat line %s: %w", line.ID, err)
	}

	res, err := execWrite(ctx, r.db, query,
		line.ID, line.SessionID, line.Author, line.Body, toNanos(line.CreatedAt),
	)
	if err != nil {
		return false, unavailable(fmt.Sprintf("upsert chat line %s", line.ID), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(fmt.Sprintf("upsert chat line %s rows affected", line.ID), err)
	}

	return n > 0, nil
}

// ListChat returns all chat lines of a session ordered by created_at, then id.
func (r *ChatRepo) ListChat(ctx context.Context, sessionID string) ([]model.ChatLine, error) {
	const query = `
		SELECT id, session_id, author, body, created_at
		FROM chat_lines
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("list chat for session %s", sessionID), err)
	}
	defer rows.Close()

	lines := []model.ChatLine{}
	for rows.Next() {
		var (
			l         model.ChatLine
			createdAt int64
		)
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Author, &l.Body, &createdAt); err != nil {
			slog.Warn("skipping malformed chat line",
				"session_id", sessionID,
				"error", fmt.Errorf("%w: %w", driven.ErrMalformedRecord, err),
			)
			continue
		}
		l.CreatedAt = fromNanos(createdAt)
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Sprintf("iterate chat for session %s", sessionID), err)
	}

	return lines, nil
}
