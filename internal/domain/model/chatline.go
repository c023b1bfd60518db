package model

import "time"

// ChatLine is a free-form message scoped to a session. Chat lines are
// immutable once created.
type ChatLine struct {
	ID        string
	SessionID string
	Author    string
	Body      string
	CreatedAt time.Time
}
