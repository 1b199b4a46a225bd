package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/suifx/faucet/internal/chain"
	"github.com/suifx/faucet/internal/health"
	"github.com/suifx/faucet/internal/stats"
)

// HealthLiveHandler is the liveness probe: the process answers, so it is
// alive.
func HealthLiveHandler(Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, "", map[string]any{"status": "alive"})
	}
}

// HealthReadyHandler is the readiness probe. Ready means the dispatcher has
// initialized and the cache and store answer. A cache running on its
// in-memory fallback and the no-op store both count as ready: the faucet is
// built to keep dispatching through those degradations.
func HealthReadyHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		ready := true

		if d.Chain.Ready() {
			checks["chain"] = "ok"
		} else {
			checks["chain"] = "not initialized"
			ready = false
		}

		ch := d.Cache.HealthCheck(r.Context())
		switch {
		case !ch.Healthy:
			checks["cache"] = "unavailable"
			ready = false
		case ch.Degraded:
			checks["cache"] = "degraded"
		default:
			checks["cache"] = "ok"
		}

		if err := d.Store.Ping(r.Context()); err != nil {
			checks["store"] = "unavailable"
			ready = false
		} else {
			checks["store"] = "ok"
		}

		if d.Health.Overall(health.ComponentFullnode) == health.StateDown {
			checks["fullnode"] = "down"
			ready = false
		}

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		writeEnvelope(w, status, envelope{
			Success: ready,
			Data:    map[string]any{"status": state, "checks": checks},
		})
	}
}

// HealthHandler is the health summary. The plain form reports the tracked
// component states; ?detailed=true adds the wallet view and process
// performance numbers.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall := d.Health.Overall()
		data := map[string]any{
			"status":        string(overall),
			"network":       d.Chain.Network(),
			"mode":          string(d.Faucet.EffectiveMode(r.Context())),
			"components":    d.Health.AllStats(),
			"cache":         d.Cache.HealthCheck(r.Context()),
			"uptimeSeconds": int64(time.Since(d.StartedAt).Seconds()),
		}

		if r.URL.Query().Get("detailed") == "true" {
			wallet := map[string]any{
				"mode":       string(d.Faucet.EffectiveMode(r.Context())),
				"configured": d.Chain.WalletConfigured(),
			}
			if d.Faucet.EffectiveMode(r.Context()) == chain.ModeWallet {
				wallet["address"] = d.Chain.FaucetAddress()
				if balance, err := d.Chain.WalletBalance(r.Context()); err == nil {
					wallet["balance"] = strconv.FormatInt(balance, 10)
				}
			}
			data["wallet"] = wallet
			data["performance"] = stats.CollectSystem(r.Context(), d.StartedAt)
		}

		status := http.StatusOK
		if overall == health.StateDown {
			status = http.StatusServiceUnavailable
		}
		writeEnvelope(w, status, envelope{Success: overall != health.StateDown, Data: data})
	}
}

// KeepaliveHandler answers external uptime monitors.
func KeepaliveHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, "", map[string]any{
			"status":        "ok",
			"uptimeSeconds": int64(time.Since(d.StartedAt).Seconds()),
		})
	}
}
