// Package admin manages operator sessions and the audit trail. Sessions
// are HMAC-signed tokens tracked in an in-process active set, so a token
// is only good while both the signature verifies and the server still
// remembers issuing it. Logout is real revocation, not client-side
// forgetting.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/suifx/faucet/internal/store"
)

const sessionTTL = 24 * time.Hour

var (
	// ErrInvalidCredentials covers every login failure. Callers must not
	// reveal whether the username, password, or account state was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers bad signatures, expiry, and revoked tokens.
	ErrInvalidToken = errors.New("invalid or revoked session token")
)

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Session is a validated operator session.
type Session struct {
	Username  string
	Role      string
	ExpiresAt time.Time
}

// SessionManager issues, validates, and revokes admin sessions, and
// appends audit rows for operator actions.
type SessionManager struct {
	secret []byte
	store  store.Store
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]time.Time // token -> expiry

	now func() time.Time
}

func NewSessionManager(secret string, st store.Store, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		secret: []byte(secret),
		store:  st,
		logger: logger,
		active: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Login verifies the credentials and issues a session token. All
// authentication failures surface as ErrInvalidCredentials; other errors
// indicate the store itself failed.
func (m *SessionManager) Login(ctx context.Context, username, password, clientIP string) (string, *store.AdminUser, error) {
	user, err := m.store.AuthenticateAdmin(ctx, username, password)
	if err != nil {
		return "", nil, fmt.Errorf("admin lookup failed: %w", err)
	}
	if user == nil {
		m.Audit(ctx, username, "login_failed", "", clientIP)
		return "", nil, ErrInvalidCredentials
	}

	now := m.now()
	expiry := now.Add(sessionTTL)
	claims := sessionClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    "admin",
			Audience:  jwt.ClaimStrings{"api"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	m.mu.Lock()
	m.pruneLocked(now)
	m.active[token] = expiry
	m.mu.Unlock()

	m.Audit(ctx, username, "login", "", clientIP)
	m.logger.Info("admin_login",
		slog.String("username", username),
		slog.String("role", user.Role),
		slog.String("client_ip", clientIP),
	)
	return token, user, nil
}

// Validate checks signature, expiry, issuer, audience, and membership in
// the active set. Any failure is ErrInvalidToken.
func (m *SessionManager) Validate(token string) (*Session, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer("admin"),
		jwt.WithAudience("api"),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	m.mu.RLock()
	_, live := m.active[token]
	m.mu.RUnlock()
	if !live {
		return nil, ErrInvalidToken
	}

	return &Session{
		Username:  claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the token. Invalid tokens are rejected rather than
// silently ignored so callers can surface a 401.
func (m *SessionManager) Logout(ctx context.Context, token, clientIP string) error {
	sess, err := m.Validate(token)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.active, token)
	m.mu.Unlock()

	m.Audit(ctx, sess.Username, "logout", "", clientIP)
	m.logger.Info("admin_logout",
		slog.String("username", sess.Username),
		slog.String("client_ip", clientIP),
	)
	return nil
}

// ActiveSessions counts live tokens, expired entries included until the
// next prune.
func (m *SessionManager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Audit appends one activity row. Audit writes never fail the operation
// they describe.
func (m *SessionManager) Audit(ctx context.Context, username, action, details, clientIP string) {
	err := m.store.SaveAdminActivity(ctx, store.AdminActivity{
		AdminUsername: username,
		Action:        action,
		Details:       details,
		ClientIP:      clientIP,
		CreatedAt:     m.now().UTC(),
	})
	if err != nil {
		m.logger.Warn("audit_write_failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func (m *SessionManager) pruneLocked(now time.Time) {
	for token, expiry := range m.active {
		if now.After(expiry) {
			delete(m.active, token)
		}
	}
}
