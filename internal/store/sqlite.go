package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN. A
// "sqlite:" scheme prefix is accepted and stripped.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimPrefix(dsn, "sqlite:")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	} else {
		// SQLite only supports one writer at a time. Limit connections to
		// avoid contention and keep a small idle pool for read concurrency.
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL DEFAULT '',
			wallet_address TEXT NOT NULL,
			amount TEXT NOT NULL,
			tx_hash TEXT,
			status TEXT NOT NULL,
			error_message TEXT,
			client_ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_wallet ON transactions(wallet_address)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at)`,
		`CREATE TABLE IF NOT EXISTS faucet_metrics (
			date TEXT PRIMARY KEY,
			total_requests INTEGER NOT NULL DEFAULT 0,
			successful_requests INTEGER NOT NULL DEFAULT 0,
			failed_requests INTEGER NOT NULL DEFAULT 0,
			total_amount_distributed INTEGER NOT NULL DEFAULT 0,
			rate_limit_errors INTEGER NOT NULL DEFAULT 0,
			network_errors INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS api_clients (
			client_id TEXT PRIMARY KEY,
			api_key TEXT NOT NULL,
			client_secret TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			homepage_url TEXT,
			callback_url TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			rate_limit_override INTEGER,
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_clients_key ON api_clients(api_key)`,
		`CREATE TABLE IF NOT EXISTS api_client_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			method TEXT NOT NULL,
			response_status INTEGER NOT NULL DEFAULT 0,
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_client_usage_client ON api_client_usage(client_id)`,
		`CREATE TABLE IF NOT EXISTS admin_users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'admin',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS admin_activities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_username TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT,
			client_ip TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rate_limit_settings (
			setting_name TEXT PRIMARY KEY,
			setting_value TEXT NOT NULL,
			setting_type TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			updated_by TEXT,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Backend() string { return "sqlite" }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Transactions

func (s *SQLiteStore) SaveTransaction(ctx context.Context, tx TransactionRecord) error {
	var txHash, errMsg *string
	if tx.TxHash != "" {
		txHash = &tx.TxHash
	}
	if tx.ErrorMessage != "" {
		errMsg = &tx.ErrorMessage
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, request_id, wallet_address, amount, tx_hash, status, error_message, client_ip, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.RequestID, tx.WalletAddress, tx.Amount, txHash, tx.Status,
		errMsg, tx.ClientIP, tx.UserAgent, tx.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, limit, offset int) ([]TransactionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, wallet_address, amount, tx_hash, status, error_message, client_ip, user_agent, created_at
		 FROM transactions ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txs []TransactionRecord
	for rows.Next() {
		var t TransactionRecord
		var txHash, errMsg sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.RequestID, &t.WalletAddress, &t.Amount,
			&txHash, &t.Status, &errMsg, &t.ClientIP, &t.UserAgent, &createdAt); err != nil {
			return nil, err
		}
		t.TxHash = txHash.String
		t.ErrorMessage = errMsg.String
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *SQLiteStore) TransactionStats(ctx context.Context) (TransactionStats, error) {
	var st TransactionStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'success' THEN CAST(amount AS INTEGER) ELSE 0 END), 0)
		 FROM transactions`).
		Scan(&st.Total, &st.Successful, &st.Failed, &st.TotalAmount)
	if err != nil {
		return TransactionStats{}, err
	}
	return st, nil
}

// Daily metrics

func (s *SQLiteStore) UpsertDailyMetrics(ctx context.Context, date string, delta MetricsDelta) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO faucet_metrics (date, total_requests, successful_requests, failed_requests, total_amount_distributed, rate_limit_errors, network_errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET
		   total_requests = total_requests + excluded.total_requests,
		   successful_requests = successful_requests + excluded.successful_requests,
		   failed_requests = failed_requests + excluded.failed_requests,
		   total_amount_distributed = total_amount_distributed + excluded.total_amount_distributed,
		   rate_limit_errors = rate_limit_errors + excluded.rate_limit_errors,
		   network_errors = network_errors + excluded.network_errors`,
		date, delta.Total, delta.Successful, delta.Failed,
		delta.AmountDistributed, delta.RateLimitErrors, delta.NetworkErrors)
	return err
}

func (s *SQLiteStore) ListDailyMetrics(ctx context.Context, lastNDays int) ([]DailyMetrics, error) {
	if lastNDays <= 0 {
		lastNDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -(lastNDays - 1)).Format("2006-01-02")
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, total_requests, successful_requests, failed_requests, total_amount_distributed, rate_limit_errors, network_errors
		 FROM faucet_metrics WHERE date >= ? ORDER BY date DESC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []DailyMetrics
	for rows.Next() {
		var m DailyMetrics
		if err := rows.Scan(&m.Date, &m.TotalRequests, &m.SuccessfulRequests,
			&m.FailedRequests, &m.TotalAmountDistributed, &m.RateLimitErrors, &m.NetworkErrors); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// API clients

func (s *SQLiteStore) CreateAPIClient(ctx context.Context, c APIClient) error {
	var desc, homepage, callback, lastUsed *string
	if c.Description != "" {
		desc = &c.Description
	}
	if c.HomepageURL != "" {
		homepage = &c.HomepageURL
	}
	if c.CallbackURL != "" {
		callback = &c.CallbackURL
	}
	if c.LastUsedAt != nil {
		t := c.LastUsedAt.UTC().Format(time.RFC3339)
		lastUsed = &t
	}
	activeInt := 0
	if c.IsActive {
		activeInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_clients (client_id, api_key, client_secret, name, description, homepage_url, callback_url, is_active, rate_limit_override, usage_count, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.APIKey, c.ClientSecret, c.Name, desc, homepage, callback,
		activeInt, c.RateLimitOverride, c.UsageCount, lastUsed,
		c.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

const apiClientColumns = `client_id, api_key, client_secret, name, description, homepage_url, callback_url, is_active, rate_limit_override, usage_count, last_used_at, created_at`

func scanAPIClientRow(row *sql.Row) (*APIClient, error) {
	var c APIClient
	var desc, homepage, callback, lastUsed sql.NullString
	var override sql.NullInt64
	var activeInt int
	var createdAt string
	err := row.Scan(&c.ClientID, &c.APIKey, &c.ClientSecret, &c.Name,
		&desc, &homepage, &callback, &activeInt, &override, &c.UsageCount,
		&lastUsed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Description = desc.String
	c.HomepageURL = homepage.String
	c.CallbackURL = callback.String
	c.IsActive = activeInt != 0
	if override.Valid {
		v := int(override.Int64)
		c.RateLimitOverride = &v
	}
	if lastUsed.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsed.String)
		c.LastUsedAt = &t
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func (s *SQLiteStore) FindAPIClientByKey(ctx context.Context, apiKey string) (*APIClient, error) {
	return scanAPIClientRow(s.db.QueryRowContext(ctx,
		`SELECT `+apiClientColumns+` FROM api_clients WHERE api_key = ?`, apiKey))
}

func (s *SQLiteStore) FindAPIClientByID(ctx context.Context, clientID string) (*APIClient, error) {
	return scanAPIClientRow(s.db.QueryRowContext(ctx,
		`SELECT `+apiClientColumns+` FROM api_clients WHERE client_id = ?`, clientID))
}

func (s *SQLiteStore) ListAPIClients(ctx context.Context, limit, offset int) ([]APIClient, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiClientColumns+` FROM api_clients ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var clients []APIClient
	for rows.Next() {
		var c APIClient
		var desc, homepage, callback, lastUsed sql.NullString
		var override sql.NullInt64
		var activeInt int
		var createdAt string
		if err := rows.Scan(&c.ClientID, &c.APIKey, &c.ClientSecret, &c.Name,
			&desc, &homepage, &callback, &activeInt, &override, &c.UsageCount,
			&lastUsed, &createdAt); err != nil {
			return nil, err
		}
		c.Description = desc.String
		c.HomepageURL = homepage.String
		c.CallbackURL = callback.String
		c.IsActive = activeInt != 0
		if override.Valid {
			v := int(override.Int64)
			c.RateLimitOverride = &v
		}
		if lastUsed.Valid {
			t, _ := time.Parse(time.RFC3339, lastUsed.String)
			c.LastUsedAt = &t
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *SQLiteStore) DeactivateAPIClient(ctx context.Context, clientID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_clients SET is_active = 0 WHERE client_id = ?`, clientID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

func (s *SQLiteStore) UpdateAPIClientKey(ctx context.Context, clientID, newKey string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_clients SET api_key = ? WHERE client_id = ?`, newKey, clientID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

func (s *SQLiteStore) IncrementClientUsage(ctx context.Context, clientID string, lastUsedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_clients SET usage_count = usage_count + 1, last_used_at = ? WHERE client_id = ?`,
		lastUsedAt.UTC().Format(time.RFC3339), clientID)
	return err
}

func (s *SQLiteStore) RecordClientUsage(ctx context.Context, usage []ClientUsage) error {
	if len(usage) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO api_client_usage (client_id, endpoint, method, response_status, response_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare usage batch: %w", err)
	}
	for _, u := range usage {
		if _, err := stmt.ExecContext(ctx, u.ClientID, u.Endpoint, u.Method,
			u.ResponseStatus, u.ResponseTimeMs, u.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert usage: %w", err)
		}
	}
	_ = stmt.Close()
	return tx.Commit()
}

func (s *SQLiteStore) ListClientUsage(ctx context.Context, clientID string, limit int) ([]ClientUsage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, endpoint, method, response_status, response_time_ms, created_at
		 FROM api_client_usage WHERE client_id = ? ORDER BY id DESC LIMIT ?`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var usage []ClientUsage
	for rows.Next() {
		var u ClientUsage
		var createdAt string
		if err := rows.Scan(&u.ClientID, &u.Endpoint, &u.Method,
			&u.ResponseStatus, &u.ResponseTimeMs, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// Admin users

func (s *SQLiteStore) SeedAdminUser(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_users (username, password_hash, role, is_active, created_at)
		 SELECT ?, ?, 'superAdmin', 1, ?
		 WHERE NOT EXISTS (SELECT 1 FROM admin_users)`,
		username, passwordHash, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) AuthenticateAdmin(ctx context.Context, username, password string) (*AdminUser, error) {
	var u AdminUser
	var lastLogin sql.NullString
	var activeInt int
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, role, is_active, last_login, created_at
		 FROM admin_users WHERE username = ?`, username).
		Scan(&u.Username, &u.PasswordHash, &u.Role, &activeInt, &lastLogin, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.IsActive = activeInt != 0
	if !u.IsActive {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE admin_users SET last_login = ? WHERE username = ?`,
		now.Format(time.RFC3339), username); err != nil {
		return nil, err
	}
	u.LastLogin = &now
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// Admin activity

func (s *SQLiteStore) SaveAdminActivity(ctx context.Context, a AdminActivity) error {
	var details *string
	if a.Details != "" {
		details = &a.Details
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_activities (admin_username, action, details, client_ip, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.AdminUsername, a.Action, details, a.ClientIP,
		a.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) ListAdminActivities(ctx context.Context, limit int) ([]AdminActivity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, admin_username, action, details, client_ip, created_at
		 FROM admin_activities ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var acts []AdminActivity
	for rows.Next() {
		var a AdminActivity
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.AdminUsername, &a.Action, &details, &a.ClientIP, &createdAt); err != nil {
			return nil, err
		}
		a.Details = details.String
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// Settings

func (s *SQLiteStore) GetSetting(ctx context.Context, name string) (*Setting, error) {
	var st Setting
	var updatedBy sql.NullString
	var activeInt int
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT setting_name, setting_value, setting_type, is_active, updated_by, updated_at
		 FROM rate_limit_settings WHERE setting_name = ?`, name).
		Scan(&st.Name, &st.Value, &st.Type, &activeInt, &updatedBy, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.IsActive = activeInt != 0
	st.UpdatedBy = updatedBy.String
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &st, nil
}

func (s *SQLiteStore) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT setting_name, setting_value, setting_type, is_active, updated_by, updated_at
		 FROM rate_limit_settings ORDER BY setting_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var settings []Setting
	for rows.Next() {
		var st Setting
		var updatedBy sql.NullString
		var activeInt int
		var updatedAt string
		if err := rows.Scan(&st.Name, &st.Value, &st.Type, &activeInt, &updatedBy, &updatedAt); err != nil {
			return nil, err
		}
		st.IsActive = activeInt != 0
		st.UpdatedBy = updatedBy.String
		st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

func (s *SQLiteStore) UpsertSetting(ctx context.Context, st Setting) error {
	activeInt := 0
	if st.IsActive {
		activeInt = 1
	}
	var updatedBy *string
	if st.UpdatedBy != "" {
		updatedBy = &st.UpdatedBy
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limit_settings (setting_name, setting_value, setting_type, is_active, updated_by, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(setting_name) DO UPDATE SET
		   setting_value=excluded.setting_value,
		   setting_type=excluded.setting_type,
		   is_active=excluded.is_active,
		   updated_by=excluded.updated_by,
		   updated_at=excluded.updated_at`,
		st.Name, st.Value, st.Type, activeInt, updatedBy,
		st.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) SeedSettings(ctx context.Context, defaults []Setting) error {
	for _, st := range defaults {
		activeInt := 0
		if st.IsActive {
			activeInt = 1
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO rate_limit_settings (setting_name, setting_value, setting_type, is_active, updated_by, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			st.Name, st.Value, st.Type, activeInt, "system",
			time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("seed setting %s: %w", st.Name, err)
		}
	}
	return nil
}
