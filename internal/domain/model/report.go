package model

// SessionReport is everything known locally about a session, assembled for
// export.
type SessionReport struct {
	Session  Session
	Files    []FileDiff
	Comments []Comment
	Chat     []ChatLine
}

// CommentsByHunk indexes the report's comments by hunk ID, preserving order.
func (r SessionReport) CommentsByHunk() map[string][]Comment {
	out := make(map[string][]Comment)
	for _, c := range r.Comments {
		out[c.HunkID] = append(out[c.HunkID], c)
	}
	return out
}
