package model

import "time"

// Comment is an annotation anchored to a hunk in a session's diff. All fields
// except the resolution triple (Resolved, ResolvedAt, ResolvedBy) are fixed
// at creation.
type Comment struct {
	ID        string
	SessionID string
	Author    string
	File      string
	HunkID    string // May reference a hunk absent from the current diff.
	Line      int
	Body      string
	CreatedAt time.Time

	Resolved   bool
	ResolvedAt time.Time // Zero when the comment has never been resolved or reopened.
	ResolvedBy string
}

// ResolutionNewer reports whether c's resolution clock is ahead of other's.
// Clocks compare by ResolvedAt, then by ResolvedBy, so every peer picks the
// same winner for concurrent resolution changes.
func (c Comment) ResolutionNewer(other Comment) bool {
	if !c.ResolvedAt.Equal(other.ResolvedAt) {
		return c.ResolvedAt.After(other.ResolvedAt)
	}
	return c.ResolvedBy > other.ResolvedBy
}
