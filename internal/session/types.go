// Package session persists users, chat sessions and messages in PostgreSQL.
//
// The store speaks raw SQL through pgx. Schema lives in db/migrations and is
// applied with golang-migrate at startup.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. Stored as text and checked by a database constraint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User is an account that owns sessions. Accounts are created either through
// Google sign-in (GoogleSub set) or with a password (PasswordHash set).
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Picture      *string   `json:"picture,omitempty"`
	PasswordHash *string   `json:"-"`
	GoogleSub    *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is one conversation thread.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     *string   `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a session. Seq orders messages within the session.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Seq       int32     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}
