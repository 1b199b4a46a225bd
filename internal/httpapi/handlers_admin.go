package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/suifx/faucet/internal/admin"
	"github.com/suifx/faucet/internal/chain"
	"github.com/suifx/faucet/internal/errcode"
	"github.com/suifx/faucet/internal/events"
	"github.com/suifx/faucet/internal/settings"
	"github.com/suifx/faucet/internal/store"
)

// Listing bounds for the admin views.
const (
	defaultPageLimit  = 50
	maxPageLimit      = 1000
	defaultActivities = 50
)

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AdminLoginHandler verifies operator credentials and issues a session
// token. Credential failures are uniform; nothing reveals which part was
// wrong.
func AdminLoginHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body loginBody
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Username == "" || body.Password == "" {
			respondError(w, errcode.ValidationError, "Username and password are required", "")
			return
		}

		token, user, err := d.Sessions.Login(r.Context(), body.Username, body.Password, clientIP(r))
		if err != nil {
			if errors.Is(err, admin.ErrInvalidCredentials) {
				respondError(w, errcode.InvalidCredentials, "Invalid credentials", "")
				return
			}
			respondError(w, errcode.DatabaseError, "Login unavailable", "")
			return
		}

		respond(w, http.StatusOK, "Login successful", map[string]any{
			"token": token,
			"user": map[string]any{
				"username": user.Username,
				"role":     user.Role,
			},
		})
	}
}

// AdminLogoutHandler revokes the presented session token. Bot callers hold
// no session, so for them logout reports an invalid token.
func AdminLogoutHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Sessions.Logout(r.Context(), extractCredential(r), clientIP(r)); err != nil {
			respondError(w, errcode.InvalidToken, "Invalid or expired session", "")
			return
		}
		respond(w, http.StatusOK, "Logged out", nil)
	}
}

// AdminDashboardHandler aggregates the operator overview: journal totals,
// the last seven days of metrics, rolling traffic aggregates, and component
// health.
func AdminDashboardHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txStats, err := d.Store.TransactionStats(r.Context())
		if err != nil {
			respondError(w, errcode.DatabaseError, "Failed to read transaction stats", "")
			return
		}
		daily, err := d.Store.ListDailyMetrics(r.Context(), 7)
		if err != nil {
			respondError(w, errcode.DatabaseError, "Failed to read daily metrics", "")
			return
		}

		respond(w, http.StatusOK, "", map[string]any{
			"transactions":   txStats,
			"dailyMetrics":   daily,
			"traffic":        d.Stats.Summary(),
			"health":         d.Health.AllStats(),
			"cache":          d.Cache.HealthCheck(r.Context()),
			"mode":           string(d.Faucet.EffectiveMode(r.Context())),
			"activeSessions": d.Sessions.ActiveSessions(),
			"uptimeSeconds":  int64(time.Since(d.StartedAt).Seconds()),
		})
	}
}

// AdminTransactionsHandler pages through the journal, newest first.
func AdminTransactionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := parsePagination(r)

		rows, err := d.Store.ListTransactions(r.Context(), limit, offset)
		if err != nil {
			respondError(w, errcode.DatabaseError, "Failed to list transactions", "")
			return
		}
		if rows == nil {
			rows = []store.TransactionRecord{}
		}

		respond(w, http.StatusOK, "", map[string]any{
			"transactions": rows,
			"limit":        limit,
			"offset":       offset,
		})
	}
}

// AdminActivitiesHandler lists the audit trail, newest first.
func AdminActivitiesHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultActivities)
		if limit <= 0 || limit > maxPageLimit {
			limit = defaultActivities
		}

		rows, err := d.Store.ListAdminActivities(r.Context(), limit)
		if err != nil {
			respondError(w, errcode.DatabaseError, "Failed to list activities", "")
			return
		}
		if rows == nil {
			rows = []store.AdminActivity{}
		}

		respond(w, http.StatusOK, "", map[string]any{"activities": rows})
	}
}

// AdminRateLimitsHandler returns the stored settings rows.
func AdminRateLimitsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := d.Settings.List(r.Context())
		if err != nil {
			respondError(w, errcode.DatabaseError, "Failed to read settings", "")
			return
		}

		respond(w, http.StatusOK, "", map[string]any{"settings": rows})
	}
}

type bulkSettingsBody struct {
	Settings map[string]any `json:"settings"`
}

// AdminRateLimitsBulkHandler applies a bulk settings update with partial
// success: valid entries persist and take effect, invalid ones come back in
// the errors list. Accepted changes are audited, published to the event
// stream, and, for the api_* settings, pushed into the live token bucket.
func AdminRateLimitsBulkHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body bulkSettingsBody
		if !decodeBody(w, r, &body) {
			return
		}
		if len(body.Settings) == 0 {
			respondError(w, errcode.ValidationError, "No settings provided",
				`expected body {"settings":{"name":value,...}}`)
			return
		}

		actor := actorName(r)
		updated, writeErrs := d.Settings.Write(r.Context(), body.Settings, actor)

		if len(updated) > 0 {
			names := make([]string, 0, len(updated))
			refreshBucket := false
			for _, u := range updated {
				names = append(names, u.Name+"="+u.NewValue)
				if strings.HasPrefix(u.Name, "api_") {
					refreshBucket = true
				}
				if d.EventBus != nil {
					d.EventBus.Publish(events.Event{
						Type:     events.EventSettingsChanged,
						Setting:  u.Name,
						NewValue: u.NewValue,
						Actor:    actor,
					})
				}
			}
			d.Sessions.Audit(r.Context(), actor, "update_settings",
				strings.Join(names, ", "), clientIP(r))

			if refreshBucket && d.Limiter != nil {
				snap := d.Settings.Snapshot(r.Context())
				d.Limiter.SetLimits(int(snap.APIMaxRequestsPerWindow),
					int(snap.APIBurstLimit), snap.Window())
			}
		}

		if updated == nil {
			updated = []settings.Update{}
		}
		if writeErrs == nil {
			writeErrs = []settings.WriteError{}
		}
		respond(w, http.StatusOK, "Settings processed", map[string]any{
			"updated": updated,
			"errors":  writeErrs,
		})
	}
}

// AdminConfigHandler reports the effective non-secret configuration.
func AdminConfigHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, "", map[string]any{
			"environment":         d.Environment,
			"network":             d.Chain.Network(),
			"mode":                string(d.Faucet.EffectiveMode(r.Context())),
			"walletConfigured":    d.Chain.WalletConfigured(),
			"masterKeyConfigured": d.MasterAPIKey != "",
			"defaultAmount":       strconv.FormatInt(d.DefaultAmount, 10),
			"maxAmount":           strconv.FormatInt(d.MaxAmount, 10),
			"cacheBackend":        d.Cache.HealthCheck(r.Context()).Backend,
			"storeBackend":        d.Store.Backend(),
		})
	}
}

// AdminCacheFlushHandler clears every cache entry under the configured
// prefix: rate counters, cooldown markers, KV. Unlike the request path this
// is an explicit operator action, so failures surface.
func AdminCacheFlushHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Cache.Flush(r.Context()); err != nil {
			respondError(w, errcode.ServerError, "Cache flush failed", err.Error())
			return
		}
		d.Sessions.Audit(r.Context(), actorName(r), "cache_flush", "", clientIP(r))
		respond(w, http.StatusOK, "Cache flushed", nil)
	}
}

type testTransactionBody struct {
	WalletAddress string `json:"walletAddress"`
}

// AdminTestTransactionHandler sends one base-unit through the live dispatch
// path to verify it end to end. The recipient defaults to the faucet's own
// address. SDK mode is refused: each upstream call spends real quota.
func AdminTestTransactionHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body testTransactionBody
		if !decodeBody(w, r, &body) {
			return
		}

		if d.Faucet.EffectiveMode(r.Context()) != chain.ModeWallet {
			respondError(w, errcode.ValidationError, "Test transactions require wallet mode",
				"sdk mode would consume upstream faucet quota")
			return
		}

		recipient := body.WalletAddress
		if recipient == "" {
			recipient = d.Chain.FaucetAddress()
		}

		actor := actorName(r)
		reqID := requestID(r)
		receipt, denial := d.Faucet.TestTransaction(r.Context(), recipient, reqID)
		if denial != nil {
			d.Sessions.Audit(r.Context(), actor, "test_transaction",
				fmt.Sprintf("failed: %s", denial.Code), clientIP(r))
			respondDenial(w, denial)
			return
		}

		d.Sessions.Audit(r.Context(), actor, "test_transaction",
			fmt.Sprintf("tx %s", receipt.TxHash), clientIP(r))
		respond(w, http.StatusOK, "Test transaction sent", faucetReceipt{
			TransactionHash: receipt.TxHash,
			Amount:          strconv.FormatInt(receipt.Amount, 10),
			WalletAddress:   receipt.WalletAddress,
			Network:         receipt.Network,
			ExplorerURL:     receipt.ExplorerURL,
		})
	}
}

// AdminClientsHandler pages through registered clients. Keys and secrets
// never serialize; the store type excludes them.
func AdminClientsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := parsePagination(r)

		rows, err := d.Clients.List(r.Context(), limit, offset)
		if err != nil {
			respondError(w, errcode.DatabaseError, "Failed to list clients", "")
			return
		}
		if rows == nil {
			rows = []store.APIClient{}
		}

		respond(w, http.StatusOK, "", map[string]any{
			"clients": rows,
			"limit":   limit,
			"offset":  offset,
		})
	}
}

// AdminClientDeactivateHandler revokes a client's access.
func AdminClientDeactivateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := chi.URLParam(r, "clientId")

		if err := d.Clients.Deactivate(r.Context(), clientID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, errcode.NotFound, "Client not found", "")
				return
			}
			respondError(w, errcode.DatabaseError, "Failed to deactivate client", "")
			return
		}

		d.Sessions.Audit(r.Context(), actorName(r), "deactivate_client", clientID, clientIP(r))
		respond(w, http.StatusOK, "Client deactivated", map[string]any{"clientId": clientID})
	}
}

// AdminClientRegenerateHandler rotates a client's API key. The old key
// stops resolving immediately; the new one is returned exactly once.
func AdminClientRegenerateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := chi.URLParam(r, "clientId")

		newKey, err := d.Clients.RotateKey(r.Context(), clientID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, errcode.NotFound, "Client not found", "")
				return
			}
			respondError(w, errcode.DatabaseError, "Failed to regenerate key", "")
			return
		}

		d.Sessions.Audit(r.Context(), actorName(r), "regenerate_client_key", clientID, clientIP(r))
		respond(w, http.StatusOK, "API key regenerated. Store it now; it cannot be retrieved again.", map[string]any{
			"clientId": clientID,
			"apiKey":   newKey,
		})
	}
}

// actorName attributes an admin action for the audit trail.
func actorName(r *http.Request) string {
	if sess := SessionFrom(r.Context()); sess != nil {
		return sess.Username
	}
	return "unknown"
}

// parseIntParam reads one integer query parameter, falling back to def on
// absence or junk.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// parsePagination reads limit/offset with the admin listing bounds applied.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = parseIntParam(r, "limit", defaultPageLimit)
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset = parseIntParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
