package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/suifx/faucet/internal/store"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct-horse-battery"
)

func newTestManager(t *testing.T) (*SessionManager, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	if err := st.SeedAdminUser(ctx, "root", string(hash)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSessionManager(testSecret, st, logger), st
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLogin_issues_valid_session(t *testing.T) {
	m, _ := newTestManager(t)

	token, user, err := m.Login(context.Background(), "root", testPassword, "10.0.0.1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if user.Username != "root" || user.Role != store.RoleSuperAdmin {
		t.Errorf("user = %+v", user)
	}

	sess, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if sess.Username != "root" || sess.Role != store.RoleSuperAdmin {
		t.Errorf("session = %+v", sess)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl < 23*time.Hour || ttl > 25*time.Hour {
		t.Errorf("session TTL = %v, want about 24h", ttl)
	}
}

func TestLogin_failures_are_uniform(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cases := []struct{ username, password string }{
		{"root", "wrong-password"},
		{"nobody", testPassword},
		{"", ""},
	}
	for _, tc := range cases {
		_, _, err := m.Login(ctx, tc.username, tc.password, "10.0.0.1")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q, %q) = %v, want ErrInvalidCredentials", tc.username, tc.password, err)
		}
	}
}

func TestLogin_audited(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.Login(ctx, "root", testPassword, "10.0.0.9"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	m.Login(ctx, "root", "nope", "10.0.0.9")

	acts, err := st.ListAdminActivities(ctx, 10)
	if err != nil {
		t.Fatalf("ListAdminActivities failed: %v", err)
	}
	var seen []string
	for _, a := range acts {
		seen = append(seen, a.Action)
		if a.ClientIP != "10.0.0.9" {
			t.Errorf("activity %q ClientIP = %q", a.Action, a.ClientIP)
		}
	}
	joined := strings.Join(seen, ",")
	if !strings.Contains(joined, "login_failed") || !strings.Contains(joined, "login") {
		t.Errorf("audit actions = %v, want login and login_failed", seen)
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidate_rejects_forged_token(t *testing.T) {
	m, _ := newTestManager(t)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role: store.RoleSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "root",
			Issuer:    "admin",
			Audience:  jwt.ClaimStrings{"api"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("some-other-secret-entirely!!"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := m.Validate(forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("forged token validated: %v", err)
	}
}

func TestValidate_requires_set_membership(t *testing.T) {
	m, _ := newTestManager(t)

	// Correctly signed but never issued by this process.
	ghost, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role: store.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "root",
			Issuer:    "admin",
			Audience:  jwt.ClaimStrings{"api"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := m.Validate(ghost); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unissued token validated: %v", err)
	}
}

func TestValidate_rejects_wrong_issuer(t *testing.T) {
	m, _ := newTestManager(t)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "root",
			Issuer:    "someone-else",
			Audience:  jwt.ClaimStrings{"api"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := m.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong-issuer token validated: %v", err)
	}
}

func TestValidate_rejects_expired_session(t *testing.T) {
	m, _ := newTestManager(t)

	token, _, err := m.Login(context.Background(), "root", testPassword, "10.0.0.1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	m.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token validated: %v", err)
	}
}

func TestValidate_garbage_input(t *testing.T) {
	m, _ := newTestManager(t)

	for _, tok := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := m.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidToken", tok, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Revocation
// ---------------------------------------------------------------------------

func TestLogout_revokes_token(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	token, _, err := m.Login(ctx, "root", testPassword, "10.0.0.1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := m.Logout(ctx, token, "10.0.0.1"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token survived logout: %v", err)
	}

	acts, err := st.ListAdminActivities(ctx, 10)
	if err != nil {
		t.Fatalf("ListAdminActivities failed: %v", err)
	}
	if len(acts) == 0 || acts[0].Action != "logout" {
		t.Errorf("latest audit action = %v, want logout", acts)
	}
}

func TestLogout_invalid_token(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Logout(context.Background(), "bogus", "10.0.0.1"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Logout(bogus) = %v, want ErrInvalidToken", err)
	}
}

func TestActiveSessions_and_prune(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	tok1, _, err := m.Login(ctx, "root", testPassword, "10.0.0.1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, _, err := m.Login(ctx, "root", testPassword, "10.0.0.2"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if got := m.ActiveSessions(); got != 2 {
		t.Fatalf("ActiveSessions = %d, want 2", got)
	}

	if err := m.Logout(ctx, tok1, "10.0.0.1"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if got := m.ActiveSessions(); got != 1 {
		t.Fatalf("ActiveSessions after logout = %d, want 1", got)
	}

	// A login after the remaining token expires sweeps it from the set.
	m.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, _, err := m.Login(ctx, "root", testPassword, "10.0.0.3"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if got := m.ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions after prune = %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func TestAudit_tolerates_store_failure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewSessionManager(testSecret, &failingAuditStore{Store: store.NewNoop()}, logger)

	m.Audit(context.Background(), "root", "settings_updated", "faucet_mode=sdk", "10.0.0.1")
}

type failingAuditStore struct {
	store.Store
}

func (f *failingAuditStore) SaveAdminActivity(context.Context, store.AdminActivity) error {
	return errors.New("audit table is gone")
}
