package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lavlagaa/lavlagaa/internal/auth"
	"github.com/lavlagaa/lavlagaa/internal/log"
)

// contextKey is unexported so only this package can set request identities.
type contextKey struct{}

var userIDKey contextKey

// UserID returns the authenticated caller stored by the auth middleware.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// loggingMiddleware logs all HTTP requests with method, path, and duration.
func loggingMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start))
		})
	}
}

// recoveryMiddleware recovers from panics and returns 500 Internal Server Error.
func recoveryMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware verifies the Bearer token and stores the caller's user ID
// in the request context.
func authMiddleware(tokens *auth.Manager, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}

			userID, err := tokens.VerifyAccess(token)
			if err != nil {
				logger.Debug("rejected access token", "error", err)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// userLimiters hands out one token-bucket limiter per user.
type userLimiters struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newUserLimiters(perSecond float64, burst int) *userLimiters {
	return &userLimiters{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (u *userLimiters) get(id uuid.UUID) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()
	l, ok := u.limiters[id]
	if !ok {
		l = rate.NewLimiter(u.limit, u.burst)
		u.limiters[id] = l
	}
	return l
}

// rateLimitMiddleware throttles completion-backed endpoints per user.
// Must run after authMiddleware.
func rateLimitMiddleware(limiters *userLimiters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserID(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing caller identity")
				return
			}
			if !limiters.get(userID).Allow() {
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware in order: first middleware wraps outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
