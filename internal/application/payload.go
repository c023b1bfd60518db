package application

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hay-kot/criterio"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

// commentPayload is the gossip wire form of a comment.
type commentPayload struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Author     string     `json:"author"`
	File       string     `json:"file"`
	HunkID     string     `json:"hunk_id"`
	Line       int        `json:"line"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// chatPayload is the gossip wire form of a chat line.
type chatPayload struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func encodeComment(c model.Comment) ([]byte, error) {
	p := commentPayload{
		ID:         c.ID,
		SessionID:  c.SessionID,
		Author:     c.Author,
		File:       c.File,
		HunkID:     c.HunkID,
		Line:       c.Line,
		Body:       c.Body,
		CreatedAt:  c.CreatedAt.UTC(),
		Resolved:   c.Resolved,
		ResolvedBy: c.ResolvedBy,
	}
	if !c.ResolvedAt.IsZero() {
		at := c.ResolvedAt.UTC()
		p.ResolvedAt = &at
	}
	return json.Marshal(p)
}

func decodeComment(data []byte) (model.Comment, error) {
	var p commentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Comment{}, fmt.Errorf("decode comment: %w", err)
	}

	c := model.Comment{
		ID:         p.ID,
		SessionID:  p.SessionID,
		Author:     p.Author,
		File:       p.File,
		HunkID:     p.HunkID,
		Line:       p.Line,
		Body:       p.Body,
		CreatedAt:  p.CreatedAt,
		Resolved:   p.Resolved,
		ResolvedBy: p.ResolvedBy,
	}
	if p.ResolvedAt != nil {
		c.ResolvedAt = *p.ResolvedAt
	}

	if err := validateComment(c); err != nil {
		return model.Comment{}, fmt.Errorf("decode comment: %w", err)
	}
	return c, nil
}

func encodeChat(l model.ChatLine) ([]byte, error) {
	return json.Marshal(chatPayload{
		ID:        l.ID,
		SessionID: l.SessionID,
		Author:    l.Author,
		Body:      l.Body,
		CreatedAt: l.CreatedAt.UTC(),
	})
}

func decodeChat(data []byte) (model.ChatLine, error) {
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.ChatLine{}, fmt.Errorf("decode chat line: %w", err)
	}

	l := model.ChatLine{
		ID:        p.ID,
		SessionID: p.SessionID,
		Author:    p.Author,
		Body:      p.Body,
		CreatedAt: p.CreatedAt,
	}

	if err := validateChat(l); err != nil {
		return model.ChatLine{}, fmt.Errorf("decode chat line: %w", err)
	}
	return l, nil
}

func validateComment(c model.Comment) error {
	var errs criterio.FieldErrorsBuilder
	if c.ID == "" {
		errs = errs.Append("id", errRequired)
	}
	if c.SessionID == "" {
		errs = errs.Append("session_id", errRequired)
	}
	if c.Author == "" {
		errs = errs.Append("author", errRequired)
	}
	if c.Body == "" {
		errs = errs.Append("body", errRequired)
	}
	if c.Line < 0 {
		errs = errs.Append("line", fmt.Errorf("must not be negative, got %d", c.Line))
	}
	if !model.TimestampInRange(c.CreatedAt) {
		errs = errs.Append("created_at", timestampRangeError(c.CreatedAt))
	}
	if !c.ResolvedAt.IsZero() && !model.TimestampInRange(c.ResolvedAt) {
		errs = errs.Append("resolved_at", timestampRangeError(c.ResolvedAt))
	}
	return errs.ToError()
}

func validateChat(l model.ChatLine) error {
	var errs criterio.FieldErrorsBuilder
	if l.ID == "" {
		errs = errs.Append("id", errRequired)
	}
	if l.SessionID == "" {
		errs = errs.Append("session_id", errRequired)
	}
	if l.Author == "" {
		errs = errs.Append("author", errRequired)
	}
	if l.Body == "" {
		errs = errs.Append("body", errRequired)
	}
	if !model.TimestampInRange(l.CreatedAt) {
		errs = errs.Append("created_at", timestampRangeError(l.CreatedAt))
	}
	return errs.ToError()
}

func timestampRangeError(t time.Time) error {
	return fmt.Errorf("must be between %s and %s, got %s",
		model.MinTimestamp.Format(time.RFC3339Nano),
		model.MaxTimestamp.Format(time.RFC3339Nano),
		t.Format(time.RFC3339Nano))
}
