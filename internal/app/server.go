package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/crypto/bcrypt"

	"github.com/suifx/faucet/internal/admin"
	"github.com/suifx/faucet/internal/cache"
	"github.com/suifx/faucet/internal/chain"
	"github.com/suifx/faucet/internal/clients"
	"github.com/suifx/faucet/internal/events"
	"github.com/suifx/faucet/internal/faucet"
	"github.com/suifx/faucet/internal/health"
	"github.com/suifx/faucet/internal/httpapi"
	"github.com/suifx/faucet/internal/logging"
	"github.com/suifx/faucet/internal/metrics"
	"github.com/suifx/faucet/internal/ratelimit"
	"github.com/suifx/faucet/internal/settings"
	"github.com/suifx/faucet/internal/stats"
	"github.com/suifx/faucet/internal/store"
	"github.com/suifx/faucet/internal/tracing"
)

// statsSeedRows bounds how much journal history warms the dashboard
// aggregates after a restart. The 24h window rarely holds more.
const statsSeedRows = 200

// Server assembles every component behind the HTTP surface and owns their
// lifecycles. Construction wires the full pipeline; Close tears it down in
// reverse order.
type Server struct {
	mu  sync.Mutex
	cfg Config

	r      *chi.Mux
	logger *slog.Logger

	store   store.Store
	cache   cache.Store
	usage   *clients.UsageWriter
	limiter *ratelimit.Limiter
	prober  *health.Prober
	bus     *events.Bus
	sub     *events.Subscriber

	stop chan struct{}
	done chan struct{}

	shutdownTracing func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	ctx := context.Background()
	logger := logging.Setup(cfg.LogLevel)

	if cfg.JWTSecretGenerated {
		logger.Warn("JWT_SECRET not set, generated an ephemeral secret; admin sessions will not survive a restart")
	}

	shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "faucetd",
	})
	if err != nil {
		logger.Warn("tracing setup failed, continuing without export", slog.String("error", err.Error()))
		shutdownTracing = func(context.Context) error { return nil }
	}

	met := metrics.New()

	c, err := cache.Open(cfg.CacheURL, cfg.CacheKeyPrefix, logger, cache.WithFallbackCounter(met.CacheFallback))
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	st, err := store.Open(ctx, cfg.DBURL, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	// Seed runtime settings; env values only apply on first boot, after
	// that the stored rows win.
	sets := settings.New(st, logger)
	if err := sets.Seed(ctx,
		store.Setting{Name: "rate_limit_window_ms", Value: strconv.Itoa(cfg.RateWindowMs)},
		store.Setting{Name: "faucet_max_per_wallet", Value: strconv.Itoa(cfg.MaxPerWallet)},
		store.Setting{Name: "faucet_max_per_ip", Value: strconv.Itoa(cfg.MaxPerIP)},
	); err != nil {
		logger.Warn("settings seed failed, compiled defaults remain active", slog.String("error", err.Error()))
	}

	if err := seedAdminUser(ctx, cfg, st, logger); err != nil {
		c.Close()
		st.Close()
		return nil, err
	}

	// Chain access. A bad signing key is fatal; an unreachable fullnode is
	// not, the prober keeps retrying initialization in the background.
	rpc := chain.NewRPCClient(cfg.RPCURL, time.Duration(cfg.RPCTimeoutSecs)*time.Second)
	upstream := chain.NewUpstream(cfg.FaucetURL, logger)

	dispatchOpts := []chain.DispatcherOption{chain.WithMaxAmount(cfg.MaxAmount)}
	if cfg.PrivateKey != "" {
		signer, err := chain.NewSigner(cfg.PrivateKey)
		if err != nil {
			c.Close()
			st.Close()
			return nil, fmt.Errorf("PRIVATE_KEY: %w", err)
		}
		dispatchOpts = append(dispatchOpts, chain.WithSigner(signer))
		logger.Info("wallet signer loaded", slog.String("address", signer.Address()))
	} else {
		logger.Info("no signing key configured, dispatching through the upstream faucet")
	}

	dispatcher := chain.NewDispatcher(cfg.Network, rpc, upstream, logger, dispatchOpts...)
	if err := dispatcher.Initialize(ctx); err != nil {
		logger.Warn("fullnode unreachable at startup", slog.String("error", err.Error()))
	}

	bus := events.NewBus()
	tracker := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))

	collector := stats.NewCollector()
	seedStats(ctx, st, collector, logger)

	registry := clients.NewRegistry(st, logger)
	usage := clients.NewUsageWriter(st, logger)
	sessions := admin.NewSessionManager(cfg.JWTSecret, st, logger)

	svc := faucet.New(faucet.Config{
		Network:          cfg.Network,
		DefaultAmount:    cfg.DefaultAmount,
		MaxAmount:        cfg.MaxAmount,
		MinWalletBalance: cfg.MinWalletBalance,
		MaxPerGlobal:     int64(cfg.MaxPerGlobal),
		ExplorerURL:      cfg.ExplorerURL,
	}, faucet.Deps{
		Settings:   sets,
		Cache:      c,
		Store:      st,
		Dispatcher: dispatcher,
		Windows:    ratelimit.NewWindows(c, ratelimit.WithRejectionCounter(met.RateLimited)),
		Metrics:    met,
		Events:     bus,
		Logger:     logger,
	})

	snap := sets.Snapshot(ctx)
	limiter := ratelimit.NewPerWindow(
		int(snap.APIMaxRequestsPerWindow),
		int(snap.APIBurstLimit),
		snap.Window(),
		ratelimit.WithCounter(met.APIRejected),
		ratelimit.WithRejectionHandler(httpapi.TokenBucketRejection()),
	)

	prober := health.NewProber(health.DefaultProberConfig(), tracker, buildProbes(cfg, st, c, rpc, dispatcher, met, logger), logger)
	prober.Start()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}
	r.Use(logging.RequestLogger(logger, "/api/v1/health/live", "/api/v1/keepalive", "/metrics"))
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Server{
		cfg:             cfg,
		r:               r,
		logger:          logger,
		store:           st,
		cache:           c,
		usage:           usage,
		limiter:         limiter,
		prober:          prober,
		bus:             bus,
		sub:             bus.Subscribe(256),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		shutdownTracing: shutdownTracing,
	}
	go s.consumeEvents(collector, tracker)

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Faucet:   svc,
		Chain:    dispatcher,
		Settings: sets,
		Cache:    c,
		Store:    st,
		Clients:  registry,
		Usage:    usage,
		Sessions: sessions,
		Health:   tracker,
		Stats:    collector,
		Metrics:  met,
		EventBus: bus,
		Limiter:  limiter,
		Logger:   logger,

		MasterAPIKey: cfg.MasterAPIKey,

		Environment:   cfg.Environment,
		DefaultAmount: cfg.DefaultAmount,
		MaxAmount:     cfg.MaxAmount,
		StartedAt:     time.Now().UTC(),
	})

	logger.Info("server assembled",
		slog.String("network", cfg.Network),
		slog.String("store", st.Backend()),
		slog.Bool("wallet_configured", dispatcher.WalletConfigured()),
	)
	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies the runtime-adjustable slice of a freshly loaded
// configuration. Only the log level takes effect without a restart; rate
// limits live in the settings table and everything else is baked into
// components at construction.
func (s *Server) Reload(cfg Config) {
	s.mu.Lock()
	prev := s.cfg.LogLevel
	s.cfg = cfg
	s.mu.Unlock()

	logging.SetLevel(cfg.LogLevel)
	if prev != cfg.LogLevel {
		s.logger.Info("log level changed", slog.String("from", prev), slog.String("to", cfg.LogLevel))
	} else {
		s.logger.Info("configuration reloaded, no runtime-adjustable changes")
	}
}

func (s *Server) Close() error {
	s.prober.Stop()

	close(s.stop)
	<-s.done
	s.bus.Unsubscribe(s.sub)

	s.usage.Close()
	s.limiter.Stop()

	var errs []error
	if err := s.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	return errors.Join(errs...)
}

// consumeEvents feeds dispatch outcomes into the rolling stats collector and
// the health tracker. The upstream faucet has no active probe, so dispatch
// results are its only health signal; for the local wallet they supplement
// the balance probe between its 60s ticks.
func (s *Server) consumeEvents(collector *stats.Collector, tracker *health.Tracker) {
	defer close(s.done)

	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-prune.C:
			collector.Prune()
		case e := <-s.sub.C:
			switch e.Type {
			case events.EventDispatchSuccess:
				collector.Record(stats.Snapshot{
					Timestamp: e.Timestamp,
					Mode:      e.Mode,
					LatencyMs: e.LatencyMs,
					Amount:    e.Amount,
					Success:   true,
				})
				tracker.RecordSuccess(dispatchComponent(e.Mode), e.LatencyMs)
			case events.EventDispatchFailed:
				collector.Record(stats.Snapshot{
					Timestamp: e.Timestamp,
					Mode:      e.Mode,
					LatencyMs: e.LatencyMs,
				})
				tracker.RecordError(dispatchComponent(e.Mode), e.ErrorMsg)
			}
		}
	}
}

func dispatchComponent(mode string) string {
	if mode == string(chain.ModeSDK) {
		return health.ComponentUpstream
	}
	return health.ComponentFullnode
}

// seedAdminUser stores the bcrypt hash for the configured admin account.
// Without ADMIN_PASSWORD the password login stays disabled and the master
// key remains the only admin credential.
func seedAdminUser(ctx context.Context, cfg Config, st store.Store, logger *slog.Logger) error {
	if cfg.AdminPassword == "" {
		logger.Warn("ADMIN_PASSWORD not set, password login disabled")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("admin password hash: %w", err)
	}
	if err := st.SeedAdminUser(ctx, cfg.AdminUsername, string(hash)); err != nil {
		logger.Warn("admin user seed failed", slog.String("error", err.Error()))
	}
	return nil
}

// seedStats warms the dashboard aggregates from the most recent journal rows
// so the traffic view is not blank right after a restart.
func seedStats(ctx context.Context, st store.Store, collector *stats.Collector, logger *slog.Logger) {
	rows, err := st.ListTransactions(ctx, statsSeedRows, 0)
	if err != nil {
		logger.Warn("stats seed skipped", slog.String("error", err.Error()))
		return
	}
	snapshots := make([]stats.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap := stats.Snapshot{Timestamp: row.CreatedAt}
		if row.Status == store.StatusSuccess {
			snap.Success = true
			snap.Amount, _ = strconv.ParseInt(row.Amount, 10, 64)
		}
		snapshots = append(snapshots, snap)
	}
	collector.Seed(snapshots)
}

func buildProbes(cfg Config, st store.Store, c cache.Store, rpc *chain.RPCClient, dispatcher *chain.Dispatcher, met *metrics.Registry, logger *slog.Logger) []health.Probe {
	probes := []health.Probe{
		health.NewProbe(health.ComponentStore, st.Ping),
		health.NewProbe(health.ComponentCache, func(ctx context.Context) error {
			h := c.HealthCheck(ctx)
			if !h.Healthy {
				return fmt.Errorf("cache backend %s unavailable", h.Backend)
			}
			return nil
		}),
	}
	if dispatcher.WalletConfigured() {
		probes = append(probes, health.NewBalanceProbe(dispatcher, met.WalletBalance, cfg.MinWalletBalance, logger))
	} else {
		// Without a wallet there is no balance to watch; probe node
		// liveness directly.
		probes = append(probes, health.NewProbe(health.ComponentFullnode, func(ctx context.Context) error {
			if !dispatcher.Ready() {
				return dispatcher.Initialize(ctx)
			}
			_, err := rpc.SystemStateEpoch(ctx)
			return err
		}))
	}
	return probes
}
