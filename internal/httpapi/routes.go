package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

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

// ChainStatus is the dispatcher surface the status and health handlers
// read. Implemented by *chain.Dispatcher.
type ChainStatus interface {
	Ready() bool
	Network() string
	WalletConfigured() bool
	FaucetAddress() string
	WalletBalance(ctx context.Context) (int64, error)
}

// Dependencies bundles the subsystems the HTTP surface serves. EventBus,
// Limiter, and Usage may be nil; the corresponding features are skipped.
type Dependencies struct {
	Faucet   *faucet.Service
	Chain    ChainStatus
	Settings *settings.Service
	Cache    cache.Store
	Store    store.Store
	Clients  *clients.Registry
	Usage    *clients.UsageWriter
	Sessions *admin.SessionManager
	Health   *health.Tracker
	Stats    *stats.Collector
	Metrics  *metrics.Registry
	EventBus *events.Bus
	Limiter  *ratelimit.Limiter
	Logger   *slog.Logger

	// MasterAPIKey is the legacy shared key; empty disables it.
	MasterAPIKey string

	Environment   string
	DefaultAmount int64
	MaxAmount     int64
	StartedAt     time.Time
}

// MountRoutes attaches the full API surface to r. The token dispatch path
// is governed by its own dimensional rate limits; every other /api/v1 route
// sits behind the management token bucket.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(g chi.Router) {
			g.Use(RequireAPIKey(d), TrackUsage(d))
			g.Post("/faucet/request", FaucetRequestHandler(d))
		})

		api.Group(func(g chi.Router) {
			if d.Limiter != nil {
				g.Use(d.Limiter.Middleware)
			}

			g.Get("/faucet/status", FaucetStatusHandler(d))
			g.With(RequireAPIKey(d), TrackUsage(d)).Get("/faucet/mode", FaucetModeHandler(d))

			g.Get("/health", HealthHandler(d))
			g.Get("/health/live", HealthLiveHandler(d))
			g.Get("/health/ready", HealthReadyHandler(d))
			g.Get("/keepalive", KeepaliveHandler(d))
			g.Get("/status", StatusPageHandler(d))

			g.Post("/clients/register", ClientRegisterHandler(d))
			g.Get("/clients/{clientId}", ClientGetHandler(d))

			g.Route("/admin", func(ar chi.Router) {
				ar.Post("/login", AdminLoginHandler(d))

				ar.Group(func(pr chi.Router) {
					pr.Use(RequireAdmin(d))
					pr.Post("/logout", AdminLogoutHandler(d))
					pr.Get("/dashboard", AdminDashboardHandler(d))
					pr.Get("/transactions", AdminTransactionsHandler(d))
					pr.Get("/activities", AdminActivitiesHandler(d))
					pr.Get("/rate-limits", AdminRateLimitsHandler(d))
					pr.Put("/rate-limits/bulk", AdminRateLimitsBulkHandler(d))
					pr.Get("/config", AdminConfigHandler(d))
					pr.Post("/cache/flush", AdminCacheFlushHandler(d))
					pr.Post("/test-transaction", AdminTestTransactionHandler(d))
					pr.Get("/clients", AdminClientsHandler(d))
					pr.Post("/clients/{clientId}/deactivate", AdminClientDeactivateHandler(d))
					pr.Post("/clients/{clientId}/regenerate-key", AdminClientRegenerateHandler(d))
					if d.EventBus != nil {
						pr.Get("/events", SSEHandler(d))
					}
				})
			})
		})
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

// TokenBucketRejection renders the envelope for requests dropped by the
// management-API token bucket. Wired into the limiter at construction.
func TokenBucketRejection() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, errcode.RateLimitExceeded, "Too many requests", "management API rate limit")
	}
}
