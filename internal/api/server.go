// Package api exposes the question-answering pipeline and its supporting
// user, session and auth operations over HTTP.
//
// Routes:
//
//	POST /auth/google                     exchange a Google ID token for a token pair
//	POST /auth/login                      email/password sign-in
//	POST /auth/refresh                    exchange a refresh token for a fresh pair
//	GET  /api/sessions                    list the caller's sessions
//	POST /api/sessions                    create a session
//	DELETE /api/sessions/{id}             delete a session
//	GET  /api/sessions/{id}/messages      list a session's messages
//	POST /api/chat/stream                 streamed grounded answer (SSE)
//	POST /api/voice                       one-shot answer prepared for TTS
//	GET  /health                          liveness probe
//	GET  /ready                           readiness probe
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavlagaa/lavlagaa/internal/auth"
	"github.com/lavlagaa/lavlagaa/internal/log"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to resist slowloris clients.
	ReadHeaderTimeout = 10 * time.Second

	// IdleTimeout is the maximum wait for the next keep-alive request.
	IdleTimeout = 120 * time.Second
)

// Config carries everything the server needs.
type Config struct {
	Store    SessionStore
	Pool     *pgxpool.Pool
	Auth     *auth.Service
	Pipeline Answerer
	Logger   log.Logger

	// Per-user throttle on completion-backed endpoints.
	RatePerSecond float64
	RateBurst     int
}

func (cfg Config) validate() error {
	if cfg.Store == nil {
		return errors.New("session store is required")
	}
	if cfg.Auth == nil {
		return errors.New("auth service is required")
	}
	if cfg.Pipeline == nil {
		return errors.New("pipeline is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Server is the HTTP front of the service.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health  *HealthHandler
	auth    *AuthHandler
	session *SessionHandler
	chat    *ChatHandler
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 5
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:     mux,
		logger:  cfg.Logger,
		health:  NewHealthHandler(cfg.Pool, cfg.Logger),
		auth:    NewAuthHandler(cfg.Auth, cfg.Logger),
		session: NewSessionHandler(cfg.Store, cfg.Logger),
		chat:    NewChatHandler(cfg.Pipeline, cfg.Store, cfg.Logger),
	}

	s.health.RegisterRoutes(mux)
	s.auth.RegisterRoutes(mux)

	requireAuth := authMiddleware(cfg.Auth.Tokens(), cfg.Logger)
	throttle := rateLimitMiddleware(newUserLimiters(perSecond, burst))

	protected := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }
	throttled := func(h http.HandlerFunc) http.Handler { return requireAuth(throttle(h)) }

	mux.Handle("GET /api/sessions", protected(s.session.list))
	mux.Handle("POST /api/sessions", protected(s.session.create))
	mux.Handle("DELETE /api/sessions/{id}", protected(s.session.delete))
	mux.Handle("GET /api/sessions/{id}/messages", protected(s.session.messages))
	mux.Handle("POST /api/chat/stream", throttled(s.chat.handleStream))
	mux.Handle("POST /api/voice", throttled(s.chat.handleVoice))

	return s, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery, then logging, then routing.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
