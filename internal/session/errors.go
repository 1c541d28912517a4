package session

import "errors"

// Sentinel errors for store operations.
// These are part of the Store's public API and should be checked with errors.Is().
//
// Example:
//
//	sess, err := store.GetSession(ctx, id)
//	if errors.Is(err, session.ErrSessionNotFound) {
//	    // 404
//	}
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken indicates a user with the same email already exists.
	ErrEmailTaken = errors.New("email already registered")
)
