package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/lavlagaa/lavlagaa/internal/log"
	"github.com/lavlagaa/lavlagaa/internal/mgl"
	"github.com/lavlagaa/lavlagaa/internal/pipeline"
	"github.com/lavlagaa/lavlagaa/internal/session"
)

// Answerer is the slice of the pipeline the HTTP layer needs.
// *pipeline.Pipeline satisfies it.
type Answerer interface {
	Answer(ctx context.Context, sessionID uuid.UUID, query string, stream pipeline.StreamFunc) (string, error)
	AnswerOnce(ctx context.Context, query string, stream pipeline.StreamFunc) (string, error)
}

// ChatHandler handles the streaming chat and voice endpoints.
type ChatHandler struct {
	pipeline Answerer
	store    SessionStore
	logger   log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(p Answerer, store SessionStore, logger log.Logger) *ChatHandler {
	return &ChatHandler{pipeline: p, store: store, logger: logger}
}

// ChatRequest is the request body for both chat endpoints.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
}

// SSEChunkData is the data for "chunk" events.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEDoneData is the data for "done" events.
type SSEDoneData struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// SSEErrorData is the data for "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleStream answers a question over Server-Sent Events.
//
// Request body: {"sessionId": "...", "query": "..."}
// Event types:
//   - chunk: partial answer text {"text": "..."}
//   - done:  full answer {"response": "...", "sessionId": "..."}
//   - error: terminal failure {"code": "...", "message": "..."}
//
// Chunks already sent before a failure are not retracted; the error event is
// the signal that the answer is incomplete.
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Query == "" {
		h.writeSSEError(w, flusher, "MISSING_QUERY", "query is required")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		h.writeSSEError(w, flusher, "MISSING_SESSION_ID", "sessionId must be a valid session UUID")
		return
	}

	if !h.authorizeSession(w, flusher, r, sessionID) {
		return
	}

	ctx := r.Context()
	h.logger.Info("SSE stream started", "session_id", sessionID)

	answer, err := h.pipeline.Answer(ctx, sessionID, req.Query,
		func(ctx context.Context, delta string) error {
			// Stop producing when the client goes away.
			if err := ctx.Err(); err != nil {
				return err
			}
			h.writeSSEChunk(w, flusher, delta)
			return nil
		})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "session_id", sessionID)
			return
		}
		h.logger.Error("stream failed", "error", err, "session_id", sessionID)
		h.writeSSEError(w, flusher, streamErrorCode(err), err.Error())
		return
	}

	h.writeSSEDone(w, flusher, answer, sessionID.String())
	h.logger.Info("SSE stream completed", "session_id", sessionID, "response_len", len(answer))
}

// VoiceResponse is the response body for the voice endpoint.
type VoiceResponse struct {
	Text string `json:"text"`
}

// handleVoice answers one question and returns the full answer reduced to
// TTS-friendly text: numbers spelled out in Mongolian, foreign characters
// stripped. No session history is read or written.
func (h *ChatHandler) handleVoice(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "query is required")
		return
	}

	answer, err := h.pipeline.AnswerOnce(r.Context(), req.Query, nil)
	if err != nil {
		h.logger.Error("voice answer failed", "error", err)
		writeError(w, http.StatusBadGateway, streamErrorCode(err), "failed to answer")
		return
	}

	writeJSON(w, http.StatusOK, VoiceResponse{Text: mgl.ForSpeech(answer)})
}

// authorizeSession checks the session exists and belongs to the caller,
// reporting failures on the already-open SSE stream.
func (h *ChatHandler) authorizeSession(w http.ResponseWriter, flusher http.Flusher, r *http.Request, sessionID uuid.UUID) bool {
	userID, ok := UserID(r.Context())
	if !ok {
		h.writeSSEError(w, flusher, "UNAUTHORIZED", "missing caller identity")
		return false
	}

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			h.writeSSEError(w, flusher, "SESSION_NOT_FOUND", "session not found")
			return false
		}
		h.logger.Error("failed to get session", "error", err)
		h.writeSSEError(w, flusher, "INTERNAL", "failed to get session")
		return false
	}
	if sess.UserID != userID {
		h.writeSSEError(w, flusher, "SESSION_NOT_FOUND", "session not found")
		return false
	}
	return true
}

// streamErrorCode maps pipeline failures to stable client-facing codes.
func streamErrorCode(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return "MISSING_QUERY"
	case errors.Is(err, pipeline.ErrCompletionStream):
		return "STREAM_ERROR"
	default:
		return "RETRIEVAL_ERROR"
	}
}

// writeSSEChunk writes a chunk event to the SSE stream.
func (h *ChatHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, text string) {
	data, _ := json.Marshal(SSEChunkData{Text: text})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEDone writes a done event to the SSE stream.
func (h *ChatHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, response, sessionID string) {
	data, _ := json.Marshal(SSEDoneData{Response: response, SessionID: sessionID})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEError writes an error event to the SSE stream.
func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}
