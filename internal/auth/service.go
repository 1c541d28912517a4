package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lavlagaa/lavlagaa/internal/log"
	"github.com/lavlagaa/lavlagaa/internal/session"
)

// UserStore is the slice of the session store the auth service needs.
// Defined by the consumer.
type UserStore interface {
	CreateUser(ctx context.Context, email, name string, picture, passwordHash, googleSub *string) (*session.User, error)
	GetUserByEmail(ctx context.Context, email string) (*session.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*session.User, error)
}

// Service implements the two sign-in flows and token refresh.
type Service struct {
	store         UserStore
	tokens        *Manager
	google        GoogleVerifier
	allowPassword bool
	logger        log.Logger
}

// NewService wires the auth service. google may be nil when Google sign-in
// is not configured; LoginWithGoogle then always fails.
func NewService(store UserStore, tokens *Manager, google GoogleVerifier, allowPassword bool, logger log.Logger) *Service {
	return &Service{
		store:         store,
		tokens:        tokens,
		google:        google,
		allowPassword: allowPassword,
		logger:        logger,
	}
}

// Tokens exposes the token manager for middleware verification.
func (s *Service) Tokens() *Manager { return s.tokens }

// LoginWithGoogle verifies a Google ID token, finds or creates the matching
// user and returns a token pair.
func (s *Service) LoginWithGoogle(ctx context.Context, idToken string) (TokenPair, *session.User, error) {
	if s.google == nil {
		return TokenPair{}, nil, fmt.Errorf("%w: google sign-in not configured", ErrInvalidToken)
	}

	identity, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return TokenPair{}, nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		// Existing account, possibly created via password login.
	case errors.Is(err, session.ErrUserNotFound):
		var picture *string
		if identity.Picture != "" {
			picture = &identity.Picture
		}
		sub := identity.Sub
		user, err = s.store.CreateUser(ctx, identity.Email, identity.Name, picture, nil, &sub)
		if err != nil {
			return TokenPair{}, nil, fmt.Errorf("creating federated user: %w", err)
		}
		s.logger.Info("created user via google sign-in", "user_id", user.ID, "email", user.Email)
	default:
		return TokenPair{}, nil, fmt.Errorf("looking up user: %w", err)
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// LoginWithPassword checks email/password and returns a token pair.
// All failure modes collapse into ErrInvalidCredentials.
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (TokenPair, *session.User, error) {
	if !s.allowPassword {
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, session.ErrUserNotFound) {
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, fmt.Errorf("looking up user: %w", err)
	}
	if user.PasswordHash == nil || !CheckPassword(*user.PasswordHash, password) {
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Refresh exchanges a valid refresh token for a fresh pair. The user must
// still exist.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	userID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, session.ErrUserNotFound) {
			return TokenPair{}, fmt.Errorf("%w: user no longer exists", ErrInvalidToken)
		}
		return TokenPair{}, fmt.Errorf("looking up user: %w", err)
	}

	return s.tokens.IssuePair(userID)
}
