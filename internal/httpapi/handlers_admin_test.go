package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/suifx/faucet/internal/clients"
	"github.com/suifx/faucet/internal/errcode"
)

func TestAdminLogin(t *testing.T) {
	env := newTestEnv(t)

	token := env.adminToken(t)
	resp := env.get(t, "/api/v1/admin/dashboard", bearer(token))
	if resp.status != http.StatusOK {
		t.Fatalf("dashboard with session: status = %d (body %s)", resp.status, resp.raw)
	}
}

func TestAdminLogin_badCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/admin/login",
		map[string]string{"username": testAdminUser, "password": "wrong"}, nil)
	wantCode(t, resp, http.StatusUnauthorized, errcode.InvalidCredentials.String())

	resp = env.post(t, "/api/v1/admin/login",
		map[string]string{"username": testAdminUser}, nil)
	wantCode(t, resp, http.StatusBadRequest, errcode.ValidationError.String())
}

func TestAdmin_requiresCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/v1/admin/dashboard", nil)
	wantCode(t, resp, http.StatusUnauthorized, errcode.InvalidToken.String())

	resp = env.get(t, "/api/v1/admin/dashboard", bearer("not-a-token"))
	wantCode(t, resp, http.StatusUnauthorized, errcode.InvalidToken.String())
}

func TestAdminLogout_revokesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	resp := env.post(t, "/api/v1/admin/logout", nil, bearer(token))
	if resp.status != http.StatusOK {
		t.Fatalf("logout: status = %d (body %s)", resp.status, resp.raw)
	}

	resp = env.get(t, "/api/v1/admin/dashboard", bearer(token))
	wantCode(t, resp, http.StatusUnauthorized, errcode.InvalidToken.String())
}

func TestAdmin_botMasterKeyAllowance(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/v1/admin/dashboard", map[string]string{
		"X-API-Key":  testMasterKey,
		"User-Agent": "dispenser/2.1 SuiFaucetBot",
	})
	if resp.status != http.StatusOK {
		t.Fatalf("bot caller: status = %d (body %s)", resp.status, resp.raw)
	}

	// Master key without the bot user-agent is not an admin credential.
	resp = env.get(t, "/api/v1/admin/dashboard", map[string]string{
		"X-API-Key":  testMasterKey,
		"User-Agent": "curl/8.5.0",
	})
	wantCode(t, resp, http.StatusUnauthorized, errcode.InvalidToken.String())
}

func TestAdminDashboard_aggregates(t *testing.T) {
	env := newTestEnv(t)

	first := env.post(t, "/api/v1/faucet/request",
		map[string]any{"walletAddress": testAddr("1a")}, masterKey())
	if first.status != http.StatusOK {
		t.Fatalf("seed request failed: %s", first.raw)
	}

	resp := env.get(t, "/api/v1/admin/dashboard", bearer(env.adminToken(t)))
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.status, resp.raw)
	}

	tx, _ := resp.Data["transactions"].(map[string]any)
	if tx == nil || tx["total"] != float64(1) || tx["successful"] != float64(1) {
		t.Errorf("transactions = %v, want total 1 successful 1", resp.Data["transactions"])
	}
	if got := resp.Data["mode"]; got != "wallet" {
		t.Errorf("mode = %v", got)
	}
	daily, _ := resp.Data["dailyMetrics"].([]any)
	if len(daily) != 1 {
		t.Errorf("dailyMetrics has %d rows, want 1", len(daily))
	}
	if up, _ := resp.Data["uptimeSeconds"].(float64); up < 5 {
		t.Errorf("uptimeSeconds = %v, want >= 5", resp.Data["uptimeSeconds"])
	}
}

func TestAdminTransactions_pagination(t *testing.T) {
	env := newTestEnv(t)

	for _, fill := range []string{"2a", "2b", "2c"} {
		resp := env.post(t, "/api/v1/faucet/request",
			map[string]any{"walletAddress": testAddr(fill)}, masterKey())
		if resp.status != http.StatusOK {
			t.Fatalf("seed request %s failed: %s", fill, resp.raw)
		}
	}
	token := env.adminToken(t)

	resp := env.get(t, "/api/v1/admin/transactions?limit=2", bearer(token))
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.status, resp.raw)
	}
	rows, _ := resp.Data["transactions"].([]any)
	if len(rows) != 2 {
		t.Fatalf("limit=2 returned %d rows", len(rows))
	}
	row, _ := rows[0].(map[string]any)
	if _, ok := row["wallet_address"]; !ok {
		t.Error("journal rows should expose wallet_address")
	}

	resp = env.get(t, "/api/v1/admin/transactions?limit=2&offset=2", bearer(token))
	rows, _ = resp.Data["transactions"].([]any)
	if len(rows) != 1 {
		t.Errorf("offset=2 returned %d rows, want 1", len(rows))
	}
}

func TestAdminBulkSettings_partialSuccess(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	resp := env.request(t, http.MethodPut, "/api/v1/admin/rate-limits/bulk", map[string]any{
		"settings": map[string]any{
			"faucet_max_per_wallet":   5,
			"faucet_cooldown_seconds": 0,
			"nonexistent":             1,
		},
	}, bearer(token))
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.status, resp.raw)
	}

	updated, _ := resp.Data["updated"].([]any)
	if len(updated) != 2 {
		t.Fatalf("updated = %v, want 2 entries", resp.Data["updated"])
	}
	first, _ := updated[0].(map[string]any)
	if first["setting_name"] != "faucet_cooldown_seconds" || first["new_value"] != "0" {
		t.Errorf("updated[0] = %v", first)
	}
	second, _ := updated[1].(map[string]any)
	if second["setting_name"] != "faucet_max_per_wallet" || second["new_value"] != "5" {
		t.Errorf("updated[1] = %v", second)
	}

	errs, _ := resp.Data["errors"].([]any)
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want 1 entry", resp.Data["errors"])
	}
	bad, _ := errs[0].(map[string]any)
	if bad["setting_name"] != "nonexistent" || bad["error"] != "Setting not found" {
		t.Errorf("errors[0] = %v", bad)
	}

	// The raised wallet limit takes effect immediately.
	addr := testAddr("3a")
	for i := 0; i < 2; i++ {
		r := env.post(t, "/api/v1/faucet/request",
			map[string]any{"walletAddress": addr}, masterKey())
		if r.status != http.StatusOK {
			t.Fatalf("request %d under new limit: status = %d (body %s)", i+1, r.status, r.raw)
		}
	}
}

func TestAdminBulkSettings_rejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPut, "/api/v1/admin/rate-limits/bulk",
		map[string]any{}, bearer(env.adminToken(t)))
	wantCode(t, resp, http.StatusBadRequest, errcode.ValidationError.String())
}

func TestAdminRateLimits_listsSettings(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/v1/admin/rate-limits", bearer(env.adminToken(t)))
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.status, resp.raw)
	}
	rows, _ := resp.Data["settings"].([]any)
	if len(rows) != 13 {
		t.Fatalf("settings has %d rows, want 13", len(rows))
	}
	row, _ := rows[0].(map[string]any)
	if _, ok := row["setting_name"]; !ok {
		t.Error("settings rows should expose setting_name")
	}
}

func TestAdminConfig(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/v1/admin/config", bearer(env.adminToken(t)))
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.status, resp.raw)
	}
	want := map[string]any{
		"environment":         "development",
		"network":             "testnet",
		"mode":                "wallet",
		"walletConfigured":    true,
		"masterKeyConfigured": true,
		"storeBackend":        "sqlite",
		"defaultAmount":       "100000000",
	}
	for k, v := range want {
		if resp.Data[k] != v {
			t.Errorf("config[%s] = %v, want %v", k, resp.Data[k], v)
		}
	}
}

func TestAdminCacheFlush_resetsCounters(t *testing.T) {
	env := newTestEnv(t)
	addr := testAddr("4a")

	if r := env.post(t, "/api/v1/faucet/request",
		map[string]any{"walletAddress": addr}, masterKey()); r.status != http.StatusOK {
		t.Fatalf("seed request failed: %s", r.raw)
	}

	resp := env.post(t, "/api/v1/admin/cache/flush", nil, bearer(env.adminToken(t)))
	if resp.status != http.StatusOK {
		t.Fatalf("flush: status = %d (body %s)", resp.status, resp.raw)
	}

	// Counters and the cooldown marker are gone, so the wallet can draw again.
	if r := env.post(t, "/api/v1/faucet/request",
		map[string]any{"walletAddress": addr}, masterKey()); r.status != http.StatusOK {
		t.Errorf("request after flush: status = %d (body %s)", r.status, r.raw)
	}
}

func TestAdminTestTransaction(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/admin/test-transaction", nil, bearer(env.adminToken(t)))
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.status, resp.raw)
	}
	if got := resp.Data["amount"]; got != "1" {
		t.Errorf("amount = %v, want \"1\"", got)
	}
	if to, amt, _ := env.chain.lastSend(); to != testAddr("f") || amt != 1 {
		t.Errorf("dispatched %d to %s, want 1 base-unit to the faucet address", amt, to)
	}
}

func TestAdminTestTransaction_refusedInSDKMode(t *testing.T) {
	env := newTestEnv(t)
	env.chain.setWallet(false)

	resp := env.post(t, "/api/v1/admin/test-transaction", nil, bearer(env.adminToken(t)))
	wantCode(t, resp, http.StatusBadRequest, errcode.ValidationError.String())
	if env.chain.sendCount() != 0 {
		t.Error("sdk mode must not dispatch test transactions")
	}
}

func TestAdminClients_listAndManage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := env.adminToken(t)

	a, err := env.registry.Register(ctx, clients.NewClient{Name: "app a"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	b, err := env.registry.Register(ctx, clients.NewClient{Name: "app b"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp := env.get(t, "/api/v1/admin/clients", bearer(token))
	if resp.status != http.StatusOK {
		t.Fatalf("list: status = %d (body %s)", resp.status, resp.raw)
	}
	rows, _ := resp.Data["clients"].([]any)
	if len(rows) != 2 {
		t.Fatalf("clients has %d rows, want 2", len(rows))
	}
	row, _ := rows[0].(map[string]any)
	if _, leaked := row["api_key"]; leaked {
		t.Error("client listing must not carry api keys")
	}

	// Deactivation revokes the key on the faucet path.
	resp = env.post(t, "/api/v1/admin/clients/"+a.ClientID+"/deactivate", nil, bearer(token))
	if resp.status != http.StatusOK {
		t.Fatalf("deactivate: status = %d (body %s)", resp.status, resp.raw)
	}
	r := env.post(t, "/api/v1/faucet/request",
		map[string]any{"walletAddress": testAddr("5a")},
		map[string]string{"X-API-Key": a.APIKey})
	wantCode(t, r, http.StatusUnauthorized, errcode.InactiveClient.String())

	// Regeneration invalidates the old key and returns the new one once.
	resp = env.post(t, "/api/v1/admin/clients/"+b.ClientID+"/regenerate-key", nil, bearer(token))
	if resp.status != http.StatusOK {
		t.Fatalf("regenerate: status = %d (body %s)", resp.status, resp.raw)
	}
	newKey, _ := resp.Data["apiKey"].(string)
	if newKey == "" || newKey == b.APIKey {
		t.Fatalf("regenerate returned %q", newKey)
	}

	r = env.post(t, "/api/v1/faucet/request",
		map[string]any{"walletAddress": testAddr("5b")},
		map[string]string{"X-API-Key": b.APIKey})
	wantCode(t, r, http.StatusUnauthorized, errcode.InvalidAPIKey.String())

	r = env.post(t, "/api/v1/faucet/request",
		map[string]any{"walletAddress": testAddr("5c")},
		map[string]string{"X-API-Key": newKey})
	if r.status != http.StatusOK {
		t.Errorf("new key: status = %d (body %s)", r.status, r.raw)
	}
}

func TestAdminClients_unknownID(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	resp := env.post(t, "/api/v1/admin/clients/suifx_missing/deactivate", nil, bearer(token))
	wantCode(t, resp, http.StatusNotFound, errcode.NotFound.String())

	resp = env.post(t, "/api/v1/admin/clients/suifx_missing/regenerate-key", nil, bearer(token))
	wantCode(t, resp, http.StatusNotFound, errcode.NotFound.String())
}

func TestAdminActivities_recordsActions(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	env.request(t, http.MethodPut, "/api/v1/admin/rate-limits/bulk", map[string]any{
		"settings": map[string]any{"faucet_max_per_ip": 20},
	}, bearer(token))

	resp := env.get(t, "/api/v1/admin/activities", bearer(token))
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.status, resp.raw)
	}
	rows, _ := resp.Data["activities"].([]any)

	actions := map[string]bool{}
	for _, raw := range rows {
		row, _ := raw.(map[string]any)
		if a, _ := row["action"].(string); a != "" {
			actions[a] = true
		}
	}
	for _, want := range []string{"login", "update_settings"} {
		if !actions[want] {
			t.Errorf("activities missing action %q (got %v)", want, actions)
		}
	}
}
