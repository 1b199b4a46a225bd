package store

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate(t *testing.T) {
	s := newTestStore(t)
	// Running migrate twice should be idempotent.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestTransactionJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok := TransactionRecord{
		ID: "tx-1", RequestID: "req-1",
		WalletAddress: "0x" + repeatHex("a", 64),
		Amount:        "1000000000",
		TxHash:        "9WzSXdCNVyEFcVMmCKsAgsDgbXSZ1nqCjqiZzFuCbsbT",
		Status:        StatusSuccess,
		ClientIP:      "203.0.113.7",
		UserAgent:     "curl/8.4",
		CreatedAt:     now.Add(-time.Minute),
	}
	if err := s.SaveTransaction(ctx, ok); err != nil {
		t.Fatalf("save success tx failed: %v", err)
	}

	bad := TransactionRecord{
		ID: "tx-2", RequestID: "req-2",
		WalletAddress: "0x" + repeatHex("b", 64),
		Amount:        "1000000000",
		Status:        StatusFailed,
		ErrorMessage:  "insufficient gas",
		ClientIP:      "203.0.113.8",
		CreatedAt:     now,
	}
	if err := s.SaveTransaction(ctx, bad); err != nil {
		t.Fatalf("save failed tx failed: %v", err)
	}

	txs, err := s.ListTransactions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	// Most recent first.
	if txs[0].ID != "tx-2" {
		t.Errorf("expected tx-2 first, got %s", txs[0].ID)
	}
	if txs[0].TxHash != "" {
		t.Errorf("failed tx should have empty hash, got %q", txs[0].TxHash)
	}
	if txs[0].ErrorMessage != "insufficient gas" {
		t.Errorf("unexpected error message: %q", txs[0].ErrorMessage)
	}
	if txs[1].TxHash == "" {
		t.Error("success tx lost its hash")
	}
	if txs[1].ErrorMessage != "" {
		t.Errorf("success tx should have empty error, got %q", txs[1].ErrorMessage)
	}
}

func TestListTransactionsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		tx := TransactionRecord{
			ID:            "tx-" + string(rune('a'+i)),
			WalletAddress: "0x" + repeatHex("c", 64),
			Amount:        "1000000000",
			Status:        StatusSuccess,
			TxHash:        "hash",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	txs, err := s.ListTransactions(ctx, 3, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(txs) != 3 {
		t.Errorf("expected 3 with limit, got %d", len(txs))
	}
}

func TestTransactionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []TransactionRecord{
		{ID: "s1", WalletAddress: "0xaa", Amount: "1000000000", Status: StatusSuccess, TxHash: "h1", CreatedAt: now},
		{ID: "s2", WalletAddress: "0xbb", Amount: "2000000000", Status: StatusSuccess, TxHash: "h2", CreatedAt: now},
		{ID: "f1", WalletAddress: "0xcc", Amount: "1000000000", Status: StatusFailed, ErrorMessage: "boom", CreatedAt: now},
	}
	for _, r := range rows {
		if err := s.SaveTransaction(ctx, r); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	st, err := s.TransactionStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if st.Total != 3 || st.Successful != 2 || st.Failed != 1 {
		t.Errorf("unexpected counts: %+v", st)
	}
	// Failed rows do not count toward the distributed total.
	if st.TotalAmount != 3000000000 {
		t.Errorf("expected 3000000000 distributed, got %d", st.TotalAmount)
	}
}

func TestTransactionStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	st, err := s.TransactionStats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if st.Total != 0 || st.TotalAmount != 0 {
		t.Errorf("expected zero stats, got %+v", st)
	}
}

func TestDailyMetricsAccumulate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	today := time.Now().UTC().Format("2006-01-02")

	if err := s.UpsertDailyMetrics(ctx, today, MetricsDelta{Total: 1, Successful: 1, AmountDistributed: 1000000000}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := s.UpsertDailyMetrics(ctx, today, MetricsDelta{Total: 1, Failed: 1, RateLimitErrors: 1}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	days, err := s.ListDailyMetrics(ctx, 7)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("expected 1 day, got %d", len(days))
	}
	d := days[0]
	if d.TotalRequests != 2 || d.SuccessfulRequests != 1 || d.FailedRequests != 1 {
		t.Errorf("unexpected counts: %+v", d)
	}
	if d.TotalAmountDistributed != 1000000000 {
		t.Errorf("expected 1000000000 distributed, got %d", d.TotalAmountDistributed)
	}
	if d.RateLimitErrors != 1 {
		t.Errorf("expected 1 rate limit error, got %d", d.RateLimitErrors)
	}
}

func TestDailyMetricsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -40).Format("2006-01-02")
	today := time.Now().UTC().Format("2006-01-02")
	if err := s.UpsertDailyMetrics(ctx, old, MetricsDelta{Total: 5}); err != nil {
		t.Fatalf("upsert old failed: %v", err)
	}
	if err := s.UpsertDailyMetrics(ctx, today, MetricsDelta{Total: 1}); err != nil {
		t.Fatalf("upsert today failed: %v", err)
	}

	days, err := s.ListDailyMetrics(ctx, 30)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(days) != 1 || days[0].Date != today {
		t.Errorf("expected only today's row inside the window, got %+v", days)
	}
}

func TestAPIClientLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	override := 50
	c := APIClient{
		ClientID:          "suifx_0123456789abcdef0123456789abcdef",
		APIKey:            "suifx_key_original",
		ClientSecret:      repeatHex("d", 64),
		Name:              "integration bot",
		Description:       "CI wallet topper",
		HomepageURL:       "https://example.org",
		IsActive:          true,
		RateLimitOverride: &override,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.CreateAPIClient(ctx, c); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := s.FindAPIClientByKey(ctx, "suifx_key_original")
	if err != nil {
		t.Fatalf("find by key failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected client, got nil")
	}
	if got.Name != "integration bot" || !got.IsActive {
		t.Errorf("unexpected client: %+v", got)
	}
	if got.RateLimitOverride == nil || *got.RateLimitOverride != 50 {
		t.Errorf("override lost: %+v", got.RateLimitOverride)
	}

	got, err = s.FindAPIClientByID(ctx, c.ClientID)
	if err != nil || got == nil {
		t.Fatalf("find by id failed: %v %v", got, err)
	}

	// Usage bump.
	used := time.Now().UTC()
	if err := s.IncrementClientUsage(ctx, c.ClientID, used); err != nil {
		t.Fatalf("increment usage failed: %v", err)
	}
	got, _ = s.FindAPIClientByID(ctx, c.ClientID)
	if got.UsageCount != 1 {
		t.Errorf("expected usage 1, got %d", got.UsageCount)
	}
	if got.LastUsedAt == nil {
		t.Error("expected last_used_at to be set")
	}

	// Key rotation invalidates the old key immediately.
	if err := s.UpdateAPIClientKey(ctx, c.ClientID, "suifx_key_rotated"); err != nil {
		t.Fatalf("rotate key failed: %v", err)
	}
	stale, _ := s.FindAPIClientByKey(ctx, "suifx_key_original")
	if stale != nil {
		t.Error("old key should no longer resolve")
	}
	fresh, _ := s.FindAPIClientByKey(ctx, "suifx_key_rotated")
	if fresh == nil {
		t.Fatal("new key should resolve")
	}

	// Deactivation keeps the row visible so auth can distinguish
	// invalid keys from inactive clients.
	if err := s.DeactivateAPIClient(ctx, c.ClientID); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	got, _ = s.FindAPIClientByID(ctx, c.ClientID)
	if got == nil {
		t.Fatal("deactivated client should still be readable")
	}
	if got.IsActive {
		t.Error("expected inactive after deactivation")
	}
}

func TestAPIClientNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.FindAPIClientByKey(ctx, "suifx_key_unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for unknown key")
	}
	if err := s.DeactivateAPIClient(ctx, "ghost"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateAPIClientKey(ctx, "ghost", "k"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClientUsageBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []ClientUsage{
		{ClientID: "c1", Endpoint: "/api/v1/faucet/request", Method: "POST", ResponseStatus: 200, ResponseTimeMs: 950, CreatedAt: now},
		{ClientID: "c1", Endpoint: "/api/v1/faucet/request", Method: "POST", ResponseStatus: 429, ResponseTimeMs: 4, CreatedAt: now},
		{ClientID: "c2", Endpoint: "/api/v1/faucet/status", Method: "GET", ResponseStatus: 200, ResponseTimeMs: 12, CreatedAt: now},
	}
	if err := s.RecordClientUsage(ctx, batch); err != nil {
		t.Fatalf("batch insert failed: %v", err)
	}
	// Empty batch is a no-op.
	if err := s.RecordClientUsage(ctx, nil); err != nil {
		t.Fatalf("empty batch failed: %v", err)
	}

	usage, err := s.ListClientUsage(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("list usage failed: %v", err)
	}
	if len(usage) != 2 {
		t.Fatalf("expected 2 rows for c1, got %d", len(usage))
	}
	// Most recent insert first.
	if usage[0].ResponseStatus != 429 {
		t.Errorf("expected 429 row first, got %d", usage[0].ResponseStatus)
	}
}

func TestAdminAuthentication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse battery"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	if err := s.SeedAdminUser(ctx, "admin", string(hash)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// Wrong password and unknown user look identical to the caller.
	u, err := s.AuthenticateAdmin(ctx, "admin", "wrong")
	if err != nil || u != nil {
		t.Errorf("expected nil on wrong password, got %v %v", u, err)
	}
	u, err = s.AuthenticateAdmin(ctx, "nobody", "correct horse battery")
	if err != nil || u != nil {
		t.Errorf("expected nil on unknown user, got %v %v", u, err)
	}

	u, err = s.AuthenticateAdmin(ctx, "admin", "correct horse battery")
	if err != nil {
		t.Fatalf("auth failed: %v", err)
	}
	if u == nil {
		t.Fatal("expected admin user")
	}
	if u.Role != RoleSuperAdmin {
		t.Errorf("seeded user should be superAdmin, got %s", u.Role)
	}
	if u.LastLogin == nil {
		t.Error("expected last_login to be set on success")
	}
}

func TestSeedAdminUserOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h1, _ := bcrypt.GenerateFromPassword([]byte("first"), bcrypt.MinCost)
	h2, _ := bcrypt.GenerateFromPassword([]byte("second"), bcrypt.MinCost)
	if err := s.SeedAdminUser(ctx, "admin", string(h1)); err != nil {
		t.Fatalf("seed 1 failed: %v", err)
	}
	// Second seed is a no-op once any admin exists.
	if err := s.SeedAdminUser(ctx, "admin2", string(h2)); err != nil {
		t.Fatalf("seed 2 failed: %v", err)
	}

	if u, _ := s.AuthenticateAdmin(ctx, "admin", "first"); u == nil {
		t.Error("original admin should still authenticate")
	}
	if u, _ := s.AuthenticateAdmin(ctx, "admin2", "second"); u != nil {
		t.Error("second seed should not have created a user")
	}
}

func TestAdminActivityAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []AdminActivity{
		{AdminUsername: "admin", Action: "login", ClientIP: "198.51.100.1", CreatedAt: now.Add(-time.Minute)},
		{AdminUsername: "admin", Action: "update_settings", Details: `{"faucet_max_per_ip":20}`, ClientIP: "198.51.100.1", CreatedAt: now},
	}
	for _, e := range entries {
		if err := s.SaveAdminActivity(ctx, e); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	acts, err := s.ListAdminActivities(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(acts))
	}
	if acts[0].Action != "update_settings" {
		t.Errorf("expected newest first, got %s", acts[0].Action)
	}
	if acts[1].Details != "" {
		t.Errorf("login entry should have empty details, got %q", acts[1].Details)
	}
}

func TestSettingsSeedAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	defaults := []Setting{
		{Name: "faucet_max_per_ip", Value: "10", Type: "number", IsActive: true},
		{Name: "emergency_mode", Value: "false", Type: "boolean", IsActive: true},
	}
	if err := s.SeedSettings(ctx, defaults); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	got, err := s.GetSetting(ctx, "faucet_max_per_ip")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Value != "10" {
		t.Fatalf("unexpected setting: %+v", got)
	}

	// Operator update.
	if err := s.UpsertSetting(ctx, Setting{
		Name: "faucet_max_per_ip", Value: "25", Type: "number",
		IsActive: true, UpdatedBy: "admin", UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// Re-seeding must not clobber the operator's value.
	if err := s.SeedSettings(ctx, defaults); err != nil {
		t.Fatalf("re-seed failed: %v", err)
	}
	got, _ = s.GetSetting(ctx, "faucet_max_per_ip")
	if got.Value != "25" {
		t.Errorf("re-seed overwrote operator value: %s", got.Value)
	}
	if got.UpdatedBy != "admin" {
		t.Errorf("expected updated_by admin, got %s", got.UpdatedBy)
	}

	all, err := s.ListSettings(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 settings, got %d", len(all))
	}
}

func TestGetSettingNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSetting(context.Background(), "no_such_setting")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for unknown setting")
	}
}

func repeatHex(ch string, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = ch[0]
	}
	return string(out)
}
