package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/reviewmesh/internal/adapter/driving/export"
	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Time      string `json:"time"`
}

// SessionResponse is the JSON representation of a review session.
type SessionResponse struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	CreatedAt    string   `json:"created_at"`
	Participants []string `json:"participants"`
}

// UpdateSessionRequest is the JSON body for renaming a session.
type UpdateSessionRequest struct {
	Title string `json:"title"`
}

// CommentResponse is the JSON representation of a comment.
type CommentResponse struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Author     string `json:"author"`
	File       string `json:"file"`
	HunkID     string `json:"hunk_id"`
	Line       int    `json:"line"`
	Body       string `json:"body"`
	BodyHTML   string `json:"body_html"`
	CreatedAt  string `json:"created_at"`
	Resolved   bool   `json:"resolved"`
	ResolvedAt string `json:"resolved_at,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// CreateCommentRequest is the JSON body for submitting a comment. Author
// defaults to the local author.
type CreateCommentRequest struct {
	Author string `json:"author"`
	File   string `json:"file"`
	HunkID string `json:"hunk_id"`
	Line   int    `json:"line"`
	Body   string `json:"body"`
}

// ResolveCommentRequest is the JSON body for resolving or reopening a
// comment. Resolved defaults to true and By to the local author.
type ResolveCommentRequest struct {
	Resolved *bool  `json:"resolved"`
	By       string `json:"by"`
}

// ChatLineResponse is the JSON representation of a chat line.
type ChatLineResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// CreateChatRequest is the JSON body for sending a chat line.
type CreateChatRequest struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// FileDiffResponse is one file of the current diff.
type FileDiffResponse struct {
	File  string         `json:"file"`
	Hunks []HunkResponse `json:"hunks"`
}

// HunkResponse is one hunk of the current diff with the number of comments
// anchored to it.
type HunkResponse struct {
	ID       string `json:"id"`
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Content  string `json:"content"`
	HTML     string `json:"html"`
	Comments int    `json:"comments"`
}

// InviteRequest is the JSON body for generating an invite. SessionID
// defaults to the served session.
type InviteRequest struct {
	SessionID string `json:"session_id"`
}

// InviteResponse carries an invite token and the session it grants.
type InviteResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// ParseInviteRequest is the JSON body for verifying an invite token.
type ParseInviteRequest struct {
	Token string `json:"token"`
}

// PeersResponse lists the peers currently connected to the mesh.
type PeersResponse struct {
	Peers []string `json:"peers"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toSessionResponse(s model.Session) SessionResponse {
	participants := s.Participants
	if participants == nil {
		participants = []string{}
	}

	return SessionResponse{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    formatTime(s.CreatedAt),
		Participants: participants,
	}
}

func toCommentResponse(c model.Comment) CommentResponse {
	return CommentResponse{
		ID:         c.ID,
		SessionID:  c.SessionID,
		Author:     c.Author,
		File:       c.File,
		HunkID:     c.HunkID,
		Line:       c.Line,
		Body:       c.Body,
		BodyHTML:   export.RenderMarkdown(c.Body),
		CreatedAt:  formatTime(c.CreatedAt),
		Resolved:   c.Resolved,
		ResolvedAt: formatTime(c.ResolvedAt),
		ResolvedBy: c.ResolvedBy,
	}
}

func toChatLineResponse(l model.ChatLine) ChatLineResponse {
	return ChatLineResponse{
		ID:        l.ID,
		SessionID: l.SessionID,
		Author:    l.Author,
		Body:      l.Body,
		CreatedAt: formatTime(l.CreatedAt),
	}
}

func toFileDiffResponse(f model.FileDiff, counts map[string]int) FileDiffResponse {
	hunks := make([]HunkResponse, 0, len(f.Hunks))
	for _, h := range f.Hunks {
		hunks = append(hunks, HunkResponse{
			ID:       h.ID,
			OldStart: h.OldStart,
			OldLines: h.OldLines,
			NewStart: h.NewStart,
			NewLines: h.NewLines,
			Content:  h.Content,
			HTML:     export.RenderDiffHunk(h.Content),
			Comments: counts[h.ID],
		})
	}

	return FileDiffResponse{File: f.File, Hunks: hunks}
}
