package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/lavlagaa/lavlagaa/internal/log"
	"github.com/lavlagaa/lavlagaa/internal/session"
)

// Session validation constants.
const (
	MaxTitleLength   = 100
	DefaultListLimit = 100
	MaxListLimit     = 1000
	MaxListOffset    = 100000

	DefaultMessageLimit = 200
	MaxMessageLimit     = 1000
)

// SessionStore is the slice of the session store the HTTP layer needs.
// *session.Store satisfies it.
type SessionStore interface {
	CreateSession(ctx context.Context, userID uuid.UUID, title *string) (*session.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error)
	ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]session.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]session.Message, error)
}

// SessionHandler handles session and message endpoints. Every operation is
// scoped to the authenticated caller; other users' sessions read as missing.
type SessionHandler struct {
	store  SessionStore
	logger log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store SessionStore, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// list returns the caller's sessions, most recently updated first.
// Query parameters: limit (default 100, max 1000) and offset.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing caller identity")
		return
	}

	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	sessions, err := h.store.ListSessions(r.Context(), userID, int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	})
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing caller identity")
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if len(req.Title) > MaxTitleLength {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "title too long (max 100 characters)")
		return
	}

	var title *string
	if req.Title != "" {
		title = &req.Title
	}

	sess, err := h.store.CreateSession(r.Context(), userID, title)
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteSession(r.Context(), sess.ID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
			return
		}
		h.logger.Error("failed to delete session", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// messages returns a session's messages in turn order.
// Query parameter limit returns only the most recent N, still oldest first.
func (h *SessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", DefaultMessageLimit, 1, MaxMessageLimit)

	messages, err := h.store.ListMessages(r.Context(), sess.ID, int32(limit))
	if err != nil {
		h.logger.Error("failed to list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    len(messages),
	})
}

// ownedSession resolves the {id} path value to a session owned by the caller.
// A session owned by someone else is reported as not found, never as
// forbidden, so session IDs cannot be probed.
func (h *SessionHandler) ownedSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing caller identity")
		return nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid session id")
		return nil, false
	}

	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
			return nil, false
		}
		h.logger.Error("failed to get session", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to get session")
		return nil, false
	}
	if sess.UserID != userID {
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
		return nil, false
	}
	return sess, true
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, minVal, maxVal int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
