package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/suifx/faucet/internal/admin"
	"github.com/suifx/faucet/internal/cache"
	"github.com/suifx/faucet/internal/chain"
	"github.com/suifx/faucet/internal/clients"
	"github.com/suifx/faucet/internal/events"
	"github.com/suifx/faucet/internal/faucet"
	"github.com/suifx/faucet/internal/health"
	"github.com/suifx/faucet/internal/metrics"
	"github.com/suifx/faucet/internal/ratelimit"
	"github.com/suifx/faucet/internal/settings"
	"github.com/suifx/faucet/internal/stats"
	"github.com/suifx/faucet/internal/store"
)

const (
	testMasterKey     = "suisuisui"
	testAdminUser     = "admin"
	testAdminPassword = "correct horse battery"
	testJWTSecret     = "0123456789abcdef0123456789abcdef"
	testTxHash        = "9WzSXdCNtestdigest"
)

func testAddr(fill string) string {
	return "0x" + strings.Repeat(fill, 64/len(fill))
}

// fakeChain stands in for *chain.Dispatcher on both the pipeline and the
// status surfaces.
type fakeChain struct {
	mu sync.Mutex

	ready    bool
	network  string
	wallet   bool
	address  string
	balance  int64
	balErr   error
	result   *chain.SendResult
	sendErr  error
	sends    int
	lastAmt  int64
	lastMode chain.Mode
	lastTo   string
}

func (f *fakeChain) SendTokens(_ context.Context, mode chain.Mode, recipient string, amount int64, _ string) (*chain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	f.lastMode, f.lastTo, f.lastAmt = mode, recipient, amount
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.result, nil
}

func (f *fakeChain) WalletBalance(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balErr
}

func (f *fakeChain) WalletConfigured() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallet
}

func (f *fakeChain) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeChain) Network() string       { return f.network }
func (f *fakeChain) FaucetAddress() string { return f.address }

func (f *fakeChain) setWallet(on bool) {
	f.mu.Lock()
	f.wallet = on
	f.mu.Unlock()
}

func (f *fakeChain) setReady(on bool) {
	f.mu.Lock()
	f.ready = on
	f.mu.Unlock()
}

func (f *fakeChain) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeChain) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

// lastSend reports the most recent dispatch. Handlers run on server
// goroutines, so reads go through the mutex.
func (f *fakeChain) lastSend() (to string, amount int64, mode chain.Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTo, f.lastAmt, f.lastMode
}

func fundedChain() *fakeChain {
	return &fakeChain{
		ready:   true,
		network: "testnet",
		wallet:  true,
		address: testAddr("f"),
		balance: 50_000_000_000,
		result:  &chain.SendResult{TxHash: testTxHash, GasUsed: "750000"},
	}
}

type testEnv struct {
	srv      *httptest.Server
	store    *store.SQLiteStore
	cache    cache.Store
	chain    *fakeChain
	settings *settings.Service
	sessions *admin.SessionManager
	registry *clients.Registry
	bus      *events.Bus
	tracker  *health.Tracker
	deps     Dependencies
}

// newTestEnv wires the full surface over an in-memory store and cache, a
// fake chain, and a real router, then serves it from httptest.
func newTestEnv(t *testing.T, mutate ...func(*Dependencies)) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sets := settings.New(st, logger, settings.WithTTL(0))
	if err := sets.Seed(ctx); err != nil {
		t.Fatalf("failed to seed settings: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	if err := st.SeedAdminUser(ctx, testAdminUser, string(hash)); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

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
		store:    st,
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
	for _, m := range mutate {
		m(&env.deps)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	MountRoutes(r, env.deps)

	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)
	return env
}

// apiResponse is one decoded envelope plus the raw transport details.
type apiResponse struct {
	status  int
	headers http.Header
	raw     []byte

	Success bool
	Message string
	Data    map[string]any
	Err     *apiError
}

func (e *testEnv) request(t *testing.T, method, path string, body any, header map[string]string) apiResponse {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	out := apiResponse{status: resp.StatusCode, headers: resp.Header, raw: raw}
	var env struct {
		Success bool           `json:"success"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
		Error   *apiError      `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil {
		out.Success = env.Success
		out.Message = env.Message
		out.Data = env.Data
		out.Err = env.Error
	}
	return out
}

func (e *testEnv) get(t *testing.T, path string, header map[string]string) apiResponse {
	t.Helper()
	return e.request(t, http.MethodGet, path, nil, header)
}

func (e *testEnv) post(t *testing.T, path string, body any, header map[string]string) apiResponse {
	t.Helper()
	return e.request(t, http.MethodPost, path, body, header)
}

// adminToken logs in and returns a live session token.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	resp := e.post(t, "/api/v1/admin/login", map[string]string{
		"username": testAdminUser,
		"password": testAdminPassword,
	}, nil)
	if resp.status != http.StatusOK {
		t.Fatalf("login failed: status %d body %s", resp.status, resp.raw)
	}
	token, _ := resp.Data["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// wantCode asserts the failure envelope carries the expected error code.
func wantCode(t *testing.T, resp apiResponse, status int, code string) {
	t.Helper()
	if resp.status != status {
		t.Fatalf("status = %d, want %d (body %s)", resp.status, status, resp.raw)
	}
	if resp.Success {
		t.Error("failure envelope should have success=false")
	}
	if resp.Err == nil || resp.Err.Code != code {
		t.Fatalf("error = %+v, want code %s", resp.Err, code)
	}
}
