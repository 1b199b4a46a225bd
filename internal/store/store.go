// Package store is the durable journal behind the faucet: transactions,
// daily metrics, API clients and their usage, admin users, audit entries,
// and the dynamic rate-limit settings. Three backends implement one
// interface: SQLite (embedded), Postgres (remote), and a no-op store used
// when persistence is unconfigured or unreachable. Callers never learn
// which backend is live.
package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrNotFound reports a write that matched no row.
var ErrNotFound = errors.New("store: not found")

// Transaction status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Admin roles.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superAdmin"
)

// Store defines the persistence interface for the faucet.
type Store interface {
	// Transaction journal. Records are written once and never mutated.
	SaveTransaction(ctx context.Context, tx TransactionRecord) error
	ListTransactions(ctx context.Context, limit, offset int) ([]TransactionRecord, error)
	TransactionStats(ctx context.Context) (TransactionStats, error)

	// Daily aggregates, keyed by UTC date. The upsert must be a single
	// atomic statement so concurrent writers never double-count.
	UpsertDailyMetrics(ctx context.Context, date string, delta MetricsDelta) error
	ListDailyMetrics(ctx context.Context, lastNDays int) ([]DailyMetrics, error)

	// API-client registry.
	CreateAPIClient(ctx context.Context, c APIClient) error
	FindAPIClientByKey(ctx context.Context, apiKey string) (*APIClient, error)
	FindAPIClientByID(ctx context.Context, clientID string) (*APIClient, error)
	ListAPIClients(ctx context.Context, limit, offset int) ([]APIClient, error)
	DeactivateAPIClient(ctx context.Context, clientID string) error
	// UpdateAPIClientKey replaces the stored key; generation happens in the
	// registry. The old key stops matching immediately.
	UpdateAPIClientKey(ctx context.Context, clientID, newKey string) error
	IncrementClientUsage(ctx context.Context, clientID string, lastUsedAt time.Time) error
	RecordClientUsage(ctx context.Context, rows []ClientUsage) error
	ListClientUsage(ctx context.Context, clientID string, limit int) ([]ClientUsage, error)

	// Admin users. AuthenticateAdmin returns nil without error on unknown
	// user, wrong password, or inactive account; on success it updates
	// last_login.
	SeedAdminUser(ctx context.Context, username, passwordHash string) error
	AuthenticateAdmin(ctx context.Context, username, password string) (*AdminUser, error)

	// Append-only audit trail.
	SaveAdminActivity(ctx context.Context, a AdminActivity) error
	ListAdminActivities(ctx context.Context, limit int) ([]AdminActivity, error)

	// Dynamic rate-limit settings. SeedSettings inserts missing defaults
	// without touching operator-modified rows.
	GetSetting(ctx context.Context, name string) (*Setting, error)
	ListSettings(ctx context.Context) ([]Setting, error)
	UpsertSetting(ctx context.Context, s Setting) error
	SeedSettings(ctx context.Context, defaults []Setting) error

	// Schema lifecycle and health.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Backend() string
	Close() error
}

// TransactionRecord journals one dispatch outcome.
type TransactionRecord struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id"`
	WalletAddress string    `json:"wallet_address"`
	Amount        string    `json:"amount"` // base-units as string, precision-safe
	TxHash        string    `json:"tx_hash,omitempty"`
	Status        string    `json:"status"` // success or failed
	ErrorMessage  string    `json:"error_message,omitempty"`
	ClientIP      string    `json:"client_ip"`
	UserAgent     string    `json:"user_agent"`
	CreatedAt     time.Time `json:"created_at"`
}

// TransactionStats aggregates the journal.
type TransactionStats struct {
	Total       int64 `json:"total"`
	Successful  int64 `json:"successful"`
	Failed      int64 `json:"failed"`
	TotalAmount int64 `json:"total_amount"` // Σ amount over successful rows
}

// MetricsDelta is one request's contribution to the daily aggregate.
type MetricsDelta struct {
	Total             int64
	Successful        int64
	Failed            int64
	AmountDistributed int64
	RateLimitErrors   int64
	NetworkErrors     int64
}

// DailyMetrics is the per-UTC-date aggregate row.
type DailyMetrics struct {
	Date                   string `json:"date"` // YYYY-MM-DD
	TotalRequests          int64  `json:"total_requests"`
	SuccessfulRequests     int64  `json:"successful_requests"`
	FailedRequests         int64  `json:"failed_requests"`
	TotalAmountDistributed int64  `json:"total_amount_distributed"`
	RateLimitErrors        int64  `json:"rate_limit_errors"`
	NetworkErrors          int64  `json:"network_errors"`
}

// APIClient is a registered third-party caller.
type APIClient struct {
	ClientID          string     `json:"client_id"`
	APIKey            string     `json:"-"`
	ClientSecret      string     `json:"-"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	HomepageURL       string     `json:"homepage_url,omitempty"`
	CallbackURL       string     `json:"callback_url,omitempty"`
	IsActive          bool       `json:"is_active"`
	RateLimitOverride *int       `json:"rate_limit_override,omitempty"`
	UsageCount        int64      `json:"usage_count"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ClientUsage is one authenticated request by a registered client.
type ClientUsage struct {
	ClientID       string    `json:"client_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	ResponseStatus int       `json:"response_status"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// AdminUser is an operator account.
type AdminUser struct {
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AdminActivity is one append-only audit entry.
type AdminActivity struct {
	ID            int64     `json:"id"`
	AdminUsername string    `json:"admin_username"`
	Action        string    `json:"action"`
	Details       string    `json:"details,omitempty"`
	ClientIP      string    `json:"client_ip"`
	CreatedAt     time.Time `json:"created_at"`
}

// Setting is one dynamic rate-limit setting row.
type Setting struct {
	Name      string    `json:"setting_name"`
	Value     string    `json:"setting_value"`
	Type      string    `json:"setting_type"` // number, boolean or string
	IsActive  bool      `json:"is_active"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open selects a backend by DB_URL scheme. An empty URL or an unreachable
// Postgres degrades to the no-op store with a warning: the faucet keeps
// dispatching, admin views read empty. A broken SQLite path is a local
// misconfiguration and fails startup.
func Open(ctx context.Context, dbURL string, logger *slog.Logger) (Store, error) {
	switch {
	case dbURL == "":
		logger.Warn("store: no DB_URL configured, persistence disabled")
		return NewNoop(), nil

	case strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://"):
		pg, err := NewPostgres(dbURL)
		if err == nil {
			err = pg.Migrate(ctx)
		}
		if err != nil {
			if pg != nil {
				_ = pg.Close()
			}
			logger.Warn("store: postgres unavailable, persistence disabled",
				slog.String("error", err.Error()))
			return NewNoop(), nil
		}
		logger.Info("store: postgres connected")
		return pg, nil

	default:
		s, err := NewSQLite(dbURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Info("store: sqlite opened", slog.String("path", dbURL))
		return s, nil
	}
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
