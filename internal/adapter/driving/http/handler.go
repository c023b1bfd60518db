package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hay-kot/criterio"

	"github.com/ericfisherdev/reviewmesh/internal/adapter/driven/gossip"
	"github.com/ericfisherdev/reviewmesh/internal/adapter/driving/export"
	"github.com/ericfisherdev/reviewmesh/internal/application"
	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// maxBodyBytes caps request bodies; comments and chat lines are small.
const maxBodyBytes = 1 << 20

// Syncer is the write side of the served session. All mutations go through
// it so they are applied by the single owner of the store.
type Syncer interface {
	SessionID() string
	SubmitComment(ctx context.Context, c model.Comment) (model.Comment, error)
	ResolveComment(ctx context.Context, commentID string, resolved bool, by string) (model.Comment, error)
	SubmitChat(ctx context.Context, l model.ChatLine) (model.ChatLine, error)
	RenameSession(ctx context.Context, title string) (model.Session, error)
}

// PeerLister reports the peers currently connected to the mesh.
type PeerLister func(ctx context.Context) ([]string, error)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	sessions    driven.SessionStore
	comments    driven.CommentStore
	chat        driven.ChatStore
	syncer      Syncer
	diff        *application.DiffService
	report      *application.ReportService
	peers       PeerLister
	secret      []byte
	localAuthor string
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. peers may be nil.
func NewHandler(
	sessions driven.SessionStore,
	comments driven.CommentStore,
	chat driven.ChatStore,
	syncer Syncer,
	diff *application.DiffService,
	report *application.ReportService,
	peers PeerLister,
	secret []byte,
	localAuthor string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		sessions:    sessions,
		comments:    comments,
		chat:        chat,
		syncer:      syncer,
		diff:        diff,
		report:      report,
		peers:       peers,
		secret:      secret,
		localAuthor: localAuthor,
		logger:      logger,
	}
}

const healthPath = "/api/v1/health"

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, h.Health)
	mux.HandleFunc("GET /api/v1/peers", h.ListPeers)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("PUT /api/v1/sessions/{id}", h.UpdateSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/comments", h.ListComments)
	mux.HandleFunc("POST /api/v1/sessions/{id}/comments", h.CreateComment)
	mux.HandleFunc("POST /api/v1/sessions/{id}/comments/{cid}/resolve", h.ResolveComment)
	mux.HandleFunc("GET /api/v1/sessions/{id}/chat", h.ListChat)
	mux.HandleFunc("POST /api/v1/sessions/{id}/chat", h.CreateChat)
	mux.HandleFunc("GET /api/v1/sessions/{id}/diff", h.GetDiff)
	mux.HandleFunc("GET /api/v1/sessions/{id}/export", h.Export)
	mux.HandleFunc("POST /api/v1/invites", h.CreateInvite)
	mux.HandleFunc("POST /api/v1/invites/parse", h.ParseInvite)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		SessionID: h.syncer.SessionID(),
		Time:      time.Now().UTC().Format(time.RFC3339),
	})
}

// ListPeers returns the peers currently connected to the mesh.
func (h *Handler) ListPeers(w http.ResponseWriter, r *http.Request) {
	if h.peers == nil {
		writeJSON(w, http.StatusOK, PeersResponse{Peers: []string{}})
		return
	}

	peers, err := h.peers(r.Context())
	if err != nil {
		h.logger.Warn("failed to list peers", "error", err)
		writeError(w, http.StatusServiceUnavailable, "mesh transport not running")
		return
	}
	if peers == nil {
		peers = []string{}
	}

	writeJSON(w, http.StatusOK, PeersResponse{Peers: peers})
}

// GetSession returns a stored session by ID.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	session, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		h.serverError(w, "failed to get session", err, "session_id", id)
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(*session))
}

// UpdateSession renames the served session.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	if !h.servesSession(w, r) {
		return
	}

	var req UpdateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.syncer.RenameSession(r.Context(), req.Title)
	if err != nil {
		h.writeSyncError(w, "failed to rename session", err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// ListComments returns a session's comments in creation order.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	comments, err := h.comments.ListComments(r.Context(), id)
	if err != nil {
		h.serverError(w, "failed to list comments", err, "session_id", id)
		return
	}

	resp := make([]CommentResponse, 0, len(comments))
	for _, c := range comments {
		resp = append(resp, toCommentResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateComment submits a comment to the served session.
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	if !h.servesSession(w, r) {
		return
	}

	var req CreateCommentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.syncer.SubmitComment(r.Context(), model.Comment{
		Author: h.authorOr(req.Author),
		File:   req.File,
		HunkID: req.HunkID,
		Line:   req.Line,
		Body:   req.Body,
	})
	if err != nil {
		h.writeSyncError(w, "failed to submit comment", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCommentResponse(c))
}

// ResolveComment resolves or reopens a comment.
func (h *Handler) ResolveComment(w http.ResponseWriter, r *http.Request) {
	if !h.servesSession(w, r) {
		return
	}

	req := ResolveCommentRequest{}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	resolved := true
	if req.Resolved != nil {
		resolved = *req.Resolved
	}

	c, err := h.syncer.ResolveComment(r.Context(), r.PathValue("cid"), resolved, h.authorOr(req.By))
	if err != nil {
		h.writeSyncError(w, "failed to resolve comment", err)
		return
	}

	writeJSON(w, http.StatusOK, toCommentResponse(c))
}

// ListChat returns a session's chat lines in creation order.
func (h *Handler) ListChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	lines, err := h.chat.ListChat(r.Context(), id)
	if err != nil {
		h.serverError(w, "failed to list chat", err, "session_id", id)
		return
	}

	resp := make([]ChatLineResponse, 0, len(lines))
	for _, l := range lines {
		resp = append(resp, toChatLineResponse(l))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateChat sends a chat line to the served session.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	if !h.servesSession(w, r) {
		return
	}

	var req CreateChatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	l, err := h.syncer.SubmitChat(r.Context(), model.ChatLine{Author: h.authorOr(req.Author), Body: req.Body})
	if err != nil {
		h.writeSyncError(w, "failed to send chat line", err)
		return
	}

	writeJSON(w, http.StatusCreated, toChatLineResponse(l))
}

// GetDiff returns the current diff grouped by file, with the number of the
// session's comments anchored to each hunk.
func (h *Handler) GetDiff(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	files, err := h.diff.Files(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrNoDiffSource) {
			writeError(w, http.StatusNotFound, "no diff source configured")
			return
		}
		h.logger.Error("failed to compute diff", "error", err)
		writeError(w, http.StatusBadGateway, "failed to compute diff")
		return
	}

	files, err = application.FilterFiles(files, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	comments, err := h.comments.ListComments(r.Context(), id)
	if err != nil {
		h.serverError(w, "failed to list comments", err, "session_id", id)
		return
	}

	counts := make(map[string]int, len(comments))
	for _, c := range comments {
		counts[c.HunkID]++
	}

	resp := make([]FileDiffResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, toFileDiffResponse(f, counts))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Export renders the session report as Markdown (default) or HTML.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	format := r.URL.Query().Get("format")
	if format != "" && format != "md" && format != "html" {
		writeError(w, http.StatusBadRequest, "format must be md or html")
		return
	}

	report, err := h.report.Build(r.Context(), id)
	if err != nil {
		if errors.Is(err, application.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.serverError(w, "failed to build report", err, "session_id", id)
		return
	}

	if format == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(export.HTML(report)))
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(export.Markdown(report)))
}

// CreateInvite returns an invite token for a session.
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	req := InviteRequest{}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	sid := req.SessionID
	if sid == "" {
		sid = h.syncer.SessionID()
	}

	writeJSON(w, http.StatusCreated, InviteResponse{
		Token:     gossip.GenerateInviteToken(sid, h.secret),
		SessionID: sid,
	})
}

// ParseInvite verifies an invite token and returns the session it grants.
func (h *Handler) ParseInvite(w http.ResponseWriter, r *http.Request) {
	var req ParseInviteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sid, ok := gossip.ParseInviteToken(req.Token, h.secret)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid invite token")
		return
	}

	writeJSON(w, http.StatusOK, InviteResponse{Token: req.Token, SessionID: sid})
}

// servesSession rejects writes addressed to a session other than the served
// one. It reports whether the request may proceed.
func (h *Handler) servesSession(w http.ResponseWriter, r *http.Request) bool {
	if r.PathValue("id") != h.syncer.SessionID() {
		writeError(w, http.StatusNotFound, "session is not served by this peer")
		return false
	}
	return true
}

func (h *Handler) authorOr(author string) string {
	if author != "" {
		return author
	}
	return h.localAuthor
}

// writeSyncError maps an error from the write side to a status code.
func (h *Handler) writeSyncError(w http.ResponseWriter, msg string, err error) {
	var fieldErrs criterio.FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		writeError(w, http.StatusUnprocessableEntity, fieldErrs.Error())
	case errors.Is(err, application.ErrCommentNotFound), errors.Is(err, application.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrForeignSession):
		writeError(w, http.StatusBadRequest, err.Error())
	case application.IsUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		h.serverError(w, msg, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error, args ...any) {
	h.logger.Error(msg, append(args, "error", err)...)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
