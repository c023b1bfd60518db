package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CommentStore = (*CommentRepo)(nil)

// CommentRepo is the SQLite implementation of the CommentStore port interface.
type CommentRepo struct {
	db *DB
}

// NewCommentRepo creates a new CommentRepo backed by the given DB.
func NewCommentRepo(db *DB) *CommentRepo {
	return &CommentRepo{db: db}
}

const commentColumns = `id, session_id, author, file, hunk_id, line, body, created_at, resolved, resolved_at, resolved_by`

// UpsertComment inserts a comment or merges its resolution state into an
// existing one. The stored resolution is replaced only when the incoming
// (resolved_at, resolved_by) pair is greater, so replays and out-of-order
// deliveries converge to the same state on every peer.
func (r *CommentRepo) UpsertComment(ctx context.Context, c model.Comment) (bool, error) {
	const query = `
		INSERT INTO comments (` + commentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resolved = excluded.resolved,
			resolved_at = excluded.resolved_at,
			resolved_by = excluded.resolved_by
		WHERE excluded.resolved_at > comments.resolved_at
			OR (excluded.resolved_at = comments.resolved_at AND excluded.resolved_by > comments.resolved_by)
	`

	if err := errors.Join(
		storableTime("created_at", c.CreatedAt),
		storableTime("resolved_at", c.ResolvedAt),
	); err != nil {
		return false, fmt.Errorf("upsert comment %s: %w", c.ID, err)
	}

	resolved := 0
	if c.Resolved {
		resolved = 1
	}

	res, err := execWrite(ctx, r.db, query,
		c.ID, c.SessionID, c.Author, c.File, c.HunkID, c.Line, c.Body,
		toNanos(c.CreatedAt), resolved, toNanos(c.ResolvedAt), c.ResolvedBy,
	)
	if err != nil {
		return false, unavailable(fmt.Sprintf("upsert comment %s", c.ID), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(fmt.Sprintf("upsert comment %s rows affected", c.ID), err)
	}

	return n > 0, nil
}

// GetComment returns the comment with the given ID, or nil if none exists.
func (r *CommentRepo) GetComment(ctx context.Context, id string) (*model.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE id = ?`

	c, err := scanComment(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get comment %s", id), err)
	}

	return &c, nil
}

// ListComments returns all comments of a session ordered by created_at, then
// id. Rows that cannot be decoded are logged and skipped.
func (r *CommentRepo) ListComments(ctx context.Context, sessionID string) ([]model.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE session_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Reader.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("list comments for session %s", sessionID), err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			slog.Warn("skipping malformed comment",
				"session_id", sessionID,
				"error", fmt.Errorf("%w: %w", driven.ErrMalformedRecord, err),
			)
			continue
		}
		comments = append(comments, c)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Sprintf("iterate comments for session %s", sessionID), err)
	}

	return comments, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanComment(s scanner) (model.Comment, error) {
	var (
		c          model.Comment
		createdAt  int64
		resolved   int
		resolvedAt int64
	)

	if err := s.Scan(
		&c.ID, &c.SessionID, &c.Author, &c.File, &c.HunkID, &c.Line, &c.Body,
		&createdAt, &resolved, &resolvedAt, &c.ResolvedBy,
	); err != nil {
		return model.Comment{}, err
	}

	c.CreatedAt = fromNanos(createdAt)
	c.Resolved = resolved != 0
	c.ResolvedAt = fromNanos(resolvedAt)

	return c, nil
}
