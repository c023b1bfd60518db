package application

import "errors"

var (
	// ErrSessionNotFound is returned when a session ID has no stored session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCommentNotFound is returned when resolving an unknown comment.
	ErrCommentNotFound = errors.New("comment not found")
	// ErrForeignSession is returned when a record belongs to a session other
	// than the one the engine serves.
	ErrForeignSession = errors.New("record belongs to another session")
	// ErrNoDiffSource is returned when no diff source is configured.
	ErrNoDiffSource = errors.New("no diff source configured")

	errRequired = errors.New("is required")
)
