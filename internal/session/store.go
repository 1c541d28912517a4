package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavlagaa/lavlagaa/internal/log"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaches.
const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the store uses.
// Following Go best practice, the interface is defined by the consumer.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// compile-time check: the production pool satisfies DB.
var _ DB = (*pgxpool.Pool)(nil)

// Store manages user, session and message persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a Store on top of a pgx pool (or any DB implementation).
func NewStore(db DB, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateUser inserts a new user. A duplicate email returns ErrEmailTaken.
// passwordHash and googleSub are optional; at least one should be set by the
// caller so the account stays reachable.
func (s *Store) CreateUser(ctx context.Context, email, name string, picture, passwordHash, googleSub *string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, name, picture, password_hash, google_sub)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, email, name, picture, password_hash, google_sub, created_at`,
		uuid.New(), email, name, picture, passwordHash, googleSub,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Picture, &u.PasswordHash, &u.GoogleSub, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrEmailTaken, email)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Debug("created user", "id", u.ID, "email", u.Email)
	return &u, nil
}

// GetUserByEmail looks a user up by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, name, picture, password_hash, google_sub, created_at
		FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Picture, &u.PasswordHash, &u.GoogleSub, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return &u, nil
}

// GetUser looks a user up by ID.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, name, picture, password_hash, google_sub, created_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Picture, &u.PasswordHash, &u.GoogleSub, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

// CreateSession opens a new conversation thread for a user.
func (s *Store) CreateSession(ctx context.Context, userID uuid.UUID, title *string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, title, created_at, updated_at`,
		uuid.New(), userID, title,
	).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "user_id", userID)
	return &sess, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns a user's sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM sessions WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and all its messages (CASCADE).
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// ListMessages returns up to limit messages of a session in turn order.
// limit <= 0 means no limit.
func (s *Store) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]Message, error) {
	query := `
		SELECT id, session_id, role, content, seq, created_at
		FROM messages WHERE session_id = $1
		ORDER BY seq ASC`
	args := []any{sessionID}
	if limit > 0 {
		// Window of the most recent messages, returned oldest first.
		query = `
			SELECT id, session_id, role, content, seq, created_at
			FROM (
				SELECT id, session_id, role, content, seq, created_at
				FROM messages WHERE session_id = $1
				ORDER BY seq DESC LIMIT $2
			) recent
			ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Seq, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return messages, nil
}

// AppendExchange persists one completed turn: the user message followed by
// the assistant message, with consecutive sequence numbers. The whole write
// is transactional and locks the session row, so concurrent completions on
// the same session cannot interleave their sequence numbers.
func (s *Store) AppendExchange(ctx context.Context, sessionID uuid.UUID, userText, assistantText string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("locking session: %w", err)
	}

	var maxSeq int32
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = $1`, sessionID,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("reading max sequence: %w", err)
	}

	batch := []struct {
		role    string
		content string
		seq     int32
	}{
		{RoleUser, userText, maxSeq + 1},
		{RoleAssistant, assistantText, maxSeq + 2},
	}
	for _, m := range batch {
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, session_id, role, content, seq)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), sessionID, m.role, m.content, m.seq)
		if err != nil {
			return fmt.Errorf("inserting %s message: %w", m.role, err)
		}
	}

	_, err = tx.Exec(ctx, `UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing exchange: %w", err)
	}

	s.logger.Debug("appended exchange", "session_id", sessionID, "seq", maxSeq+2)
	return nil
}
