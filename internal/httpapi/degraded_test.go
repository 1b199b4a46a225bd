package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/suifx/faucet/internal/admin"
	"github.com/suifx/faucet/internal/cache"
	"github.com/suifx/faucet/internal/clients"
	"github.com/suifx/faucet/internal/errcode"
	"github.com/suifx/faucet/internal/events"
	"github.com/suifx/faucet/internal/faucet"
	"github.com/suifx/faucet/internal/health"
	"github.com/suifx/faucet/internal/metrics"
	"github.com/suifx/faucet/internal/ratelimit"
	"github.com/suifx/faucet/internal/settings"
	"github.com/suifx/faucet/internal/stats"
	"github.com/suifx/faucet/internal/store"
)

// newDegradedEnv wires the surface the way the app does when the database
// is unreachable at startup: a no-op store behind every component,
// everything else live.
func newDegradedEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewNoop()
	sets := settings.New(st, logger, settings.WithTTL(0))

	mem := cache.NewMemory()
	t.Cleanup(func() { mem.Close() })

	fc := fundedChain()
	met := metrics.New()
	bus := events.NewBus()

	svc := faucet.New(faucet.Config{
		Network:          "testnet",
		DefaultAmount:    100_000_000,
		MaxAmount:        10_000_000_000,
		MinWalletBalance: 1_000_000_000,
		MaxPerGlobal:     1_000,
		ExplorerURL:      "https://suiscan.xyz/testnet/tx",
	}, faucet.Deps{
		Settings:   sets,
		Cache:      mem,
		Store:      st,
		Dispatcher: fc,
		Windows:    ratelimit.NewWindows(mem),
		Metrics:    met,
		Events:     bus,
		Logger:     logger,
	})

	env := &testEnv{
		cache:    mem,
		chain:    fc,
		settings: sets,
		sessions: admin.NewSessionManager(testJWTSecret, st, logger),
		registry: clients.NewRegistry(st, logger),
		bus:      bus,
		tracker:  health.NewTracker(health.DefaultConfig()),
	}
	env.deps = Dependencies{
		Faucet:        svc,
		Chain:         fc,
		Settings:      sets,
		Cache:         mem,
		Store:         st,
		Clients:       env.registry,
		Sessions:      env.sessions,
		Health:        env.tracker,
		Stats:         stats.NewCollector(),
		Metrics:       met,
		EventBus:      bus,
		Logger:        logger,
		MasterAPIKey:  testMasterKey,
		Environment:   "development",
		DefaultAmount: 100_000_000,
		MaxAmount:     10_000_000_000,
		StartedAt:     time.Now().Add(-5 * time.Second),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	MountRoutes(r, env.deps)

	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)
	return env
}

func TestDegradedPersistence(t *testing.T) {
	env := newDegradedEnv(t)
	botHdr := map[string]string{
		"X-API-Key":  testMasterKey,
		"User-Agent": "ops-probe SuiFaucetBot",
	}

	// Dispatch keeps working without a database; the journal write just
	// vanishes.
	addr := testAddr("9a")
	resp := env.post(t, "/api/v1/faucet/request",
		map[string]any{"walletAddress": addr}, masterKey())
	if resp.status != http.StatusOK {
		t.Fatalf("dispatch: status = %d (body %s)", resp.status, resp.raw)
	}

	// Rate limiting lives in the cache, not the store, so it still holds.
	resp = env.post(t, "/api/v1/faucet/request",
		map[string]any{"walletAddress": addr}, masterKey())
	wantCode(t, resp, http.StatusTooManyRequests, errcode.RateLimitExceeded.String())

	// Password login has no user table to check against.
	resp = env.post(t, "/api/v1/admin/login",
		map[string]string{"username": testAdminUser, "password": testAdminPassword}, nil)
	wantCode(t, resp, http.StatusUnauthorized, errcode.InvalidCredentials.String())

	// The bot credential still reaches the admin surface, and reads come
	// back empty rather than failing.
	resp = env.get(t, "/api/v1/admin/transactions", botHdr)
	if resp.status != http.StatusOK {
		t.Fatalf("transactions: status = %d (body %s)", resp.status, resp.raw)
	}
	rows, ok := resp.Data["transactions"].([]any)
	if !ok || len(rows) != 0 {
		t.Errorf("transactions = %v, want empty list", resp.Data["transactions"])
	}

	resp = env.get(t, "/api/v1/admin/dashboard", botHdr)
	if resp.status != http.StatusOK {
		t.Fatalf("dashboard: status = %d (body %s)", resp.status, resp.raw)
	}
	tx, _ := resp.Data["transactions"].(map[string]any)
	if tx == nil || tx["total"] != float64(0) {
		t.Errorf("dashboard transactions = %v", resp.Data["transactions"])
	}

	// Readiness holds: dispatch is the core duty and it still works.
	resp = env.get(t, "/api/v1/health/ready", nil)
	if resp.status != http.StatusOK {
		t.Errorf("ready: status = %d (body %s)", resp.status, resp.raw)
	}
}
