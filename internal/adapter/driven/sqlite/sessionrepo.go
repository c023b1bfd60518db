package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SessionStore = (*SessionRepo)(nil)

// SessionRepo is the SQLite implementation of the SessionStore port interface.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new SessionRepo backed by the given DB.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// SaveSession inserts a session or replaces the title and participants of an
// existing one. The creation time of an existing session is never changed.
func (r *SessionRepo) SaveSession(ctx context.Context, session model.Session) error {
	const query = `
		INSERT INTO sessions (id, title, created_at, participants)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			participants = excluded.participants
	`

	if err := storableTime("created_at", session.CreatedAt); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}

	participants := session.Participants
	if participants == nil {
		participants = []string{}
	}

	encoded, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("encode participants for session %s: %w", session.ID, err)
	}

	if _, err := execWrite(ctx, r.db, query,
		session.ID, session.Title, toNanos(session.CreatedAt), string(encoded),
	); err != nil {
		return unavailable(fmt.Sprintf("save session %s", session.ID), err)
	}

	return nil
}

// GetSession returns the session with the given ID, or nil if none exists.
func (r *SessionRepo) GetSession(ctx context.Context, id string) (*model.Session, error) {
	const query = `SELECT id, title, created_at, participants FROM sessions WHERE id = ?`

	var (
		s            model.Session
		createdAt    int64
		participants string
	)

	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Title, &createdAt, &participants)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get session %s", id), err)
	}

	if err := json.Unmarshal([]byte(participants), &s.Participants); err != nil {
		return nil, fmt.Errorf("decode participants for session %s: %w: %w", id, driven.ErrMalformedRecord, err)
	}
	s.CreatedAt = fromNanos(createdAt)

	return &s, nil
}
