// Package auth issues and verifies the API's JWT credentials and handles the
// two sign-in paths: Google ID-token federation and password login.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken indicates a token that failed signature, expiry or
	// claim validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotRefreshToken indicates an access token was presented where a
	// refresh token is required (or vice versa).
	ErrNotRefreshToken = errors.New("not a refresh token")

	// ErrInvalidCredentials indicates a failed email/password login.
	// Deliberately indistinguishable between unknown user and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	issuer           = "lavlagaa"
	refreshTokenType = "refresh"
)

// TokenPair is what every successful sign-in returns.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"` // always "bearer"
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime, seconds
}

// claims is the JWT payload. Type distinguishes refresh tokens from access
// tokens so one can never stand in for the other.
type claims struct {
	Type string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 JWTs.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewManager creates a token manager. TTLs of zero fall back to 30 minutes
// for access and 30 days for refresh tokens.
func NewManager(secret string, accessTTL, refreshTTL time.Duration) *Manager {
	if accessTTL <= 0 {
		accessTTL = 30 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IssuePair signs a fresh access/refresh token pair for a user.
func (m *Manager) IssuePair(userID uuid.UUID) (TokenPair, error) {
	access, err := m.sign(userID, "", m.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("signing access token: %w", err)
	}
	refresh, err := m.sign(userID, refreshTokenType, m.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(m.accessTTL.Seconds()),
	}, nil
}

// VerifyAccess validates an access token and returns the user ID.
func (m *Manager) VerifyAccess(token string) (uuid.UUID, error) {
	c, err := m.parse(token)
	if err != nil {
		return uuid.Nil, err
	}
	if c.Type == refreshTokenType {
		return uuid.Nil, fmt.Errorf("%w: refresh token used as access token", ErrInvalidToken)
	}
	return m.subject(c)
}

// VerifyRefresh validates a refresh token and returns the user ID.
func (m *Manager) VerifyRefresh(token string) (uuid.UUID, error) {
	c, err := m.parse(token)
	if err != nil {
		return uuid.Nil, err
	}
	if c.Type != refreshTokenType {
		return uuid.Nil, ErrNotRefreshToken
	}
	return m.subject(c)
}

func (m *Manager) sign(userID uuid.UUID, tokenType string, ttl time.Duration) (string, error) {
	now := m.now()
	c := claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}

func (m *Manager) parse(token string) (*claims, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

func (m *Manager) subject(c *claims) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject: %w", ErrInvalidToken, err)
	}
	return id, nil
}
