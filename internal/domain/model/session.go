package model

import (
	"slices"
	"time"
)

// Session is a named collaborative review context. Its ID never changes once
// created and sessions are never deleted.
type Session struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	Participants []string // Display names in first-seen order.
}

// AddParticipant appends name to the participant list if it is not already
// present. It reports whether the list changed.
func (s *Session) AddParticipant(name string) bool {
	if name == "" || slices.Contains(s.Participants, name) {
		return false
	}
	s.Participants = append(s.Participants, name)
	return true
}
