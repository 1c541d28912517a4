package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lavlagaa/lavlagaa/internal/auth"
	"github.com/lavlagaa/lavlagaa/internal/log"
	"github.com/lavlagaa/lavlagaa/internal/session"
)

// AuthHandler handles sign-in and token refresh endpoints.
type AuthHandler struct {
	service *auth.Service
	logger  log.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(service *auth.Service, logger log.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logger}
}

// RegisterRoutes registers auth routes on the given mux.
// These routes are unauthenticated.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/google", h.google)
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/refresh", h.refresh)
}

// GoogleLoginRequest is the request body for Google sign-in.
type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

// PasswordLoginRequest is the request body for email/password sign-in.
type PasswordLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the request body for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LoginResponse is the response body for both sign-in flows.
type LoginResponse struct {
	auth.TokenPair
	User *session.User `json:"user"`
}

func (h *AuthHandler) google(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "id_token is required")
		return
	}

	pair, user, err := h.service.LoginWithGoogle(r.Context(), req.IDToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "google id token rejected")
			return
		}
		h.logger.Error("google sign-in failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "sign-in failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{TokenPair: pair, User: user})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req PasswordLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required")
		return
	}

	pair, user, err := h.service.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is wrong")
			return
		}
		h.logger.Error("password sign-in failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "sign-in failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{TokenPair: pair, User: user})
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "refresh_token is required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrNotRefreshToken) {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "refresh token rejected")
			return
		}
		h.logger.Error("token refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}
