// Package faucet runs the admission pipeline: every token request passes
// through validation, rate limiting, balance gating, dispatch, and
// journaling in a fixed order, short-circuiting on the first failure.
// Credentials are resolved at the HTTP boundary; this package receives
// requests already attributed to a caller.
package faucet

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suifx/faucet/internal/cache"
	"github.com/suifx/faucet/internal/chain"
	"github.com/suifx/faucet/internal/errcode"
	"github.com/suifx/faucet/internal/events"
	"github.com/suifx/faucet/internal/metrics"
	"github.com/suifx/faucet/internal/ratelimit"
	"github.com/suifx/faucet/internal/settings"
	"github.com/suifx/faucet/internal/store"
)

// Cache counter names mirrored alongside the durable daily metrics.
const (
	counterSuccess = "requests_success"
	counterFailed  = "requests_failed"
)

// Outcome labels for the requests metric.
const (
	outcomeSuccess = "success"
	outcomeDenied  = "denied"
	outcomeFailed  = "failed"
)

// Config carries the static faucet parameters. Runtime-tunable limits come
// from the settings snapshot instead.
type Config struct {
	Network          string
	DefaultAmount    int64
	MaxAmount        int64
	MinWalletBalance int64
	MaxPerGlobal     int64
	ExplorerURL      string // prefix for transaction links
}

// Dispatcher is the chain-facing surface the pipeline needs. Implemented
// by *chain.Dispatcher.
type Dispatcher interface {
	SendTokens(ctx context.Context, mode chain.Mode, recipient string, amount int64, requestID string) (*chain.SendResult, error)
	WalletBalance(ctx context.Context) (int64, error)
	WalletConfigured() bool
}

// Request is one attributed faucet request.
type Request struct {
	WalletAddress string
	Amount        int64 // 0 means use the configured default
	ClientIP      string
	UserAgent     string
	RequestID     string
	Client        *store.APIClient // nil for master-key callers
}

// Receipt is a successful admission.
type Receipt struct {
	TxHash        string
	Amount        int64
	WalletAddress string
	Network       string
	ExplorerURL   string
}

// Denial is a rejected admission. RetryAfter is set only for rate limits.
type Denial struct {
	Code       errcode.Code
	Message    string
	Details    string
	RetryAfter time.Duration
}

// Deps bundles the pipeline's collaborators. Events may be nil.
type Deps struct {
	Settings   *settings.Service
	Cache      cache.Store
	Store      store.Store
	Dispatcher Dispatcher
	Windows    *ratelimit.Windows
	Metrics    *metrics.Registry
	Events     *events.Bus
	Logger     *slog.Logger
}

// Service admits faucet requests.
type Service struct {
	cfg        Config
	settings   *settings.Service
	cache      cache.Store
	store      store.Store
	dispatcher Dispatcher
	windows    *ratelimit.Windows
	metrics    *metrics.Registry
	events     *events.Bus
	logger     *slog.Logger

	nowFunc func() time.Time
}

func New(cfg Config, d Deps) *Service {
	return &Service{
		cfg:        cfg,
		settings:   d.Settings,
		cache:      d.Cache,
		store:      d.Store,
		dispatcher: d.Dispatcher,
		windows:    d.Windows,
		metrics:    d.Metrics,
		events:     d.Events,
		logger:     d.Logger,
		nowFunc:    time.Now,
	}
}

// EffectiveMode resolves the dispatch mode: the faucet_mode setting, with
// wallet mode downgraded to sdk when no signing key is configured. A keyless
// deployment can never serve wallet mode, whatever the setting says.
func (s *Service) EffectiveMode(ctx context.Context) chain.Mode {
	return s.resolveMode(s.settings.Snapshot(ctx))
}

func (s *Service) resolveMode(snap settings.Snapshot) chain.Mode {
	if snap.FaucetMode == settings.ModeSDK || !s.dispatcher.WalletConfigured() {
		return chain.ModeSDK
	}
	return chain.ModeWallet
}

// Admit runs the pipeline end to end. Exactly one of the results is
// non-nil.
func (s *Service) Admit(ctx context.Context, req Request) (*Receipt, *Denial) {
	snap := s.settings.Snapshot(ctx)
	mode := s.resolveMode(snap)

	// Address validation.
	recipient := chain.NormalizeAddress(req.WalletAddress)
	if recipient == "" {
		return nil, s.deny(req, mode, &Denial{
			Code:    errcode.InvalidAddress,
			Message: "Invalid wallet address",
			Details: "address must be 64 hex characters with an optional 0x prefix",
		})
	}

	// Amount validation. Zero means the caller left it out.
	amount := req.Amount
	if amount == 0 {
		amount = s.cfg.DefaultAmount
	}
	if amount <= 0 || amount > s.cfg.MaxAmount {
		return nil, s.deny(req, mode, &Denial{
			Code:    errcode.InvalidAmount,
			Message: "Invalid amount",
			Details: "amount must be between 1 and " + strconv.FormatInt(s.cfg.MaxAmount, 10) + " base-units",
		})
	}

	// Rate limits, strictly wallet then ip then client then global. The
	// wallet dimension also enforces the cooldown. Counters increment
	// before dispatch and stay incremented if dispatch fails.
	if snap.RateLimitEnabled {
		if denial := s.checkRateLimits(ctx, req, snap, recipient); denial != nil {
			s.dailyDelta(ctx, store.MetricsDelta{RateLimitErrors: 1})
			return nil, s.deny(req, mode, denial)
		}
	}

	// Balance gate applies only when we would spend our own wallet.
	if mode == chain.ModeWallet {
		balance, err := s.dispatcher.WalletBalance(ctx)
		switch {
		case err != nil:
			// Dispatch re-reads the balance; the gate must not turn an RPC
			// blip into a false empty signal.
			s.logger.Warn("balance_precheck_failed",
				slog.String("request_id", req.RequestID),
				slog.String("error", err.Error()),
			)
		case balance < s.cfg.MinWalletBalance:
			return nil, s.deny(req, mode, &Denial{
				Code:    errcode.FaucetEmpty,
				Message: "Faucet wallet is low on funds",
				Details: "please try again later or use the public faucet",
			})
		}
	}

	// Dispatch.
	started := s.nowFunc()
	result, err := s.dispatcher.SendTokens(ctx, mode, recipient, amount, req.RequestID)
	latencyMs := float64(s.nowFunc().Sub(started).Milliseconds())
	s.metrics.DispatchLatency.WithLabelValues(string(mode)).Observe(latencyMs)

	if err != nil {
		s.recordFailure(ctx, req, recipient, amount, err)
		s.metrics.RequestsTotal.WithLabelValues(outcomeFailed, string(mode)).Inc()
		denial := s.dispatchDenial(err)
		s.publish(events.Event{
			Type:      events.EventDispatchFailed,
			RequestID: req.RequestID,
			Wallet:    recipient,
			Amount:    amount,
			Mode:      string(mode),
			LatencyMs: latencyMs,
			Code:      denial.Code.String(),
			ErrorMsg:  err.Error(),
		})
		return nil, denial
	}

	s.recordSuccess(ctx, req, snap, recipient, amount, result.TxHash)
	s.metrics.RequestsTotal.WithLabelValues(outcomeSuccess, string(mode)).Inc()
	s.metrics.AmountDistributed.Add(float64(amount))
	s.publish(events.Event{
		Type:      events.EventDispatchSuccess,
		RequestID: req.RequestID,
		Wallet:    recipient,
		TxHash:    result.TxHash,
		Amount:    amount,
		Mode:      string(mode),
		LatencyMs: latencyMs,
	})

	return &Receipt{
		TxHash:        result.TxHash,
		Amount:        amount,
		WalletAddress: recipient,
		Network:       s.cfg.Network,
		ExplorerURL:   s.explorerTxURL(result.TxHash),
	}, nil
}

// TestTransaction sends one base-unit to the recipient, bypassing rate
// limits and the balance gate. Operators use it to verify the dispatch
// path end to end; the outcome is journaled like any other dispatch.
func (s *Service) TestTransaction(ctx context.Context, recipient, requestID string) (*Receipt, *Denial) {
	normalized := chain.NormalizeAddress(recipient)
	if normalized == "" {
		return nil, &Denial{
			Code:    errcode.InvalidAddress,
			Message: "Invalid wallet address",
		}
	}
	mode := s.EffectiveMode(ctx)

	result, err := s.dispatcher.SendTokens(ctx, mode, normalized, 1, requestID)
	if err != nil {
		req := Request{RequestID: requestID, UserAgent: "admin-test"}
		s.recordFailure(ctx, req, normalized, 1, err)
		return nil, s.dispatchDenial(err)
	}

	s.journal(ctx, store.TransactionRecord{
		ID:            uuid.NewString(),
		RequestID:     requestID,
		WalletAddress: normalized,
		Amount:        "1",
		TxHash:        result.TxHash,
		Status:        store.StatusSuccess,
		UserAgent:     "admin-test",
		CreatedAt:     s.nowFunc().UTC(),
	})
	return &Receipt{
		TxHash:        result.TxHash,
		Amount:        1,
		WalletAddress: normalized,
		Network:       s.cfg.Network,
		ExplorerURL:   s.explorerTxURL(result.TxHash),
	}, nil
}

// checkRateLimits returns a denial for the first dimension over its limit.
func (s *Service) checkRateLimits(ctx context.Context, req Request, snap settings.Snapshot, recipient string) *Denial {
	maxPerWallet := snap.MaxPerWallet
	maxPerIP := snap.EffectiveMaxPerIP()
	var maxPerClient int64
	if req.Client != nil && req.Client.RateLimitOverride != nil {
		override := int64(*req.Client.RateLimitOverride)
		maxPerWallet = override
		maxPerIP = override
		maxPerClient = override
	}
	window := snap.Window()

	// Wallet window first.
	if exceeded := s.windows.Check(ctx, []ratelimit.Limit{
		{Dimension: ratelimit.DimensionWallet, ID: recipient, Max: maxPerWallet, Window: window},
	}); exceeded != nil {
		return rateLimitDenial(exceeded)
	}

	// Wallet cooldown rides on the same dimension but tracks elapsed time
	// since the last successful dispatch, independent of window position.
	cooldown := snap.EffectiveCooldown()
	if cooldown > 0 {
		if last, ok := s.cache.GetLastRequest(ctx, recipient); ok {
			elapsed := s.nowFunc().Sub(last)
			if elapsed < cooldown {
				remaining := cooldown - elapsed
				s.metrics.RateLimited.WithLabelValues(ratelimit.DimensionWallet).Inc()
				return &Denial{
					Code:       errcode.RateLimitExceeded,
					Message:    "Rate limit exceeded",
					Details:    "wallet is cooling down after a recent request",
					RetryAfter: remaining,
				}
			}
		}
	}

	limits := []ratelimit.Limit{
		{Dimension: ratelimit.DimensionIP, ID: req.ClientIP, Max: maxPerIP, Window: window},
	}
	if req.Client != nil {
		limits = append(limits, ratelimit.Limit{
			Dimension: ratelimit.DimensionClient, ID: req.Client.ClientID, Max: maxPerClient, Window: window,
		})
	}
	limits = append(limits, ratelimit.Limit{
		Dimension: ratelimit.DimensionGlobal, Max: s.cfg.MaxPerGlobal, Window: window,
	})

	if exceeded := s.windows.Check(ctx, limits); exceeded != nil {
		return rateLimitDenial(exceeded)
	}
	return nil
}

func rateLimitDenial(e *ratelimit.Exceeded) *Denial {
	return &Denial{
		Code:       errcode.RateLimitExceeded,
		Message:    "Rate limit exceeded",
		Details:    e.Dimension + " limit reached",
		RetryAfter: e.RetryAfter,
	}
}

// dispatchDenial maps a dispatch error onto a wire code.
func (s *Service) dispatchDenial(err error) *Denial {
	switch {
	case errors.Is(err, chain.ErrInvalidAddress):
		return &Denial{Code: errcode.InvalidAddress, Message: "Invalid wallet address"}
	case errors.Is(err, chain.ErrInvalidAmount), errors.Is(err, chain.ErrAmountTooLarge):
		return &Denial{Code: errcode.InvalidAmount, Message: "Invalid amount"}
	case errors.Is(err, chain.ErrInsufficientBalance):
		return &Denial{
			Code:    errcode.InsufficientBalance,
			Message: "Faucet balance too low to fulfill this request",
		}
	case errors.Is(err, chain.ErrUpstreamRateLimited):
		return &Denial{
			Code:    errcode.UpstreamRateLimited,
			Message: "Upstream faucet is rate limiting requests",
			Details: "please try again later",
		}
	case errors.Is(err, chain.ErrNotReady), errors.Is(err, chain.ErrWalletNotConfigured):
		return &Denial{Code: errcode.ServerError, Message: "Faucet is not ready to dispatch"}
	default:
		return &Denial{
			Code:    errcode.TransactionFailed,
			Message: "Token transfer failed",
			Details: err.Error(),
		}
	}
}

// deny logs and counts an admission denial.
func (s *Service) deny(req Request, mode chain.Mode, d *Denial) *Denial {
	s.metrics.RequestsTotal.WithLabelValues(outcomeDenied, string(mode)).Inc()
	s.logger.Info("faucet_denied",
		slog.String("request_id", req.RequestID),
		slog.String("code", d.Code.String()),
		slog.String("wallet", req.WalletAddress),
		slog.String("client_ip", req.ClientIP),
	)
	s.publish(events.Event{
		Type:      events.EventAdmissionDenied,
		RequestID: req.RequestID,
		Wallet:    req.WalletAddress,
		Mode:      string(mode),
		Code:      d.Code.String(),
		ErrorMsg:  d.Details,
	})
	return d
}

func (s *Service) publish(e events.Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}

func (s *Service) recordSuccess(ctx context.Context, req Request, snap settings.Snapshot, recipient string, amount int64, txHash string) {
	now := s.nowFunc()

	// The cooldown marker is written only after a successful dispatch so a
	// failed attempt never imposes a cooldown.
	s.cache.TrackLastRequest(ctx, recipient, now, snap.Window())
	s.cache.AddCounter(ctx, counterSuccess, 1)

	s.journal(ctx, store.TransactionRecord{
		ID:            uuid.NewString(),
		RequestID:     req.RequestID,
		WalletAddress: recipient,
		Amount:        strconv.FormatInt(amount, 10),
		TxHash:        txHash,
		Status:        store.StatusSuccess,
		ClientIP:      req.ClientIP,
		UserAgent:     req.UserAgent,
		CreatedAt:     now.UTC(),
	})
	s.dailyDelta(ctx, store.MetricsDelta{
		Total:             1,
		Successful:        1,
		AmountDistributed: amount,
	})
}

func (s *Service) recordFailure(ctx context.Context, req Request, recipient string, amount int64, dispatchErr error) {
	s.logger.Error("faucet_dispatch_failed",
		slog.String("request_id", req.RequestID),
		slog.String("wallet", recipient),
		slog.String("error", dispatchErr.Error()),
	)
	s.cache.AddCounter(ctx, counterFailed, 1)

	s.journal(ctx, store.TransactionRecord{
		ID:            uuid.NewString(),
		RequestID:     req.RequestID,
		WalletAddress: recipient,
		Amount:        strconv.FormatInt(amount, 10),
		Status:        store.StatusFailed,
		ErrorMessage:  dispatchErr.Error(),
		ClientIP:      req.ClientIP,
		UserAgent:     req.UserAgent,
		CreatedAt:     s.nowFunc().UTC(),
	})

	delta := store.MetricsDelta{Total: 1, Failed: 1}
	if isNetworkFailure(dispatchErr) {
		delta.NetworkErrors = 1
	}
	s.dailyDelta(ctx, delta)
}

// isNetworkFailure classifies dispatch errors that stem from reaching the
// chain or the upstream faucet rather than from the transfer itself.
func isNetworkFailure(err error) bool {
	if errors.Is(err, chain.ErrTransactionFailed) ||
		errors.Is(err, chain.ErrInsufficientBalance) ||
		errors.Is(err, chain.ErrInvalidAddress) ||
		errors.Is(err, chain.ErrInvalidAmount) ||
		errors.Is(err, chain.ErrAmountTooLarge) {
		return false
	}
	return true
}

// journal persists one transaction record. Journal failures are logged and
// swallowed: the caller already has their tokens or their error.
func (s *Service) journal(ctx context.Context, rec store.TransactionRecord) {
	if err := s.store.SaveTransaction(ctx, rec); err != nil {
		s.logger.Error("journal_write_failed",
			slog.String("request_id", rec.RequestID),
			slog.String("status", rec.Status),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) dailyDelta(ctx context.Context, delta store.MetricsDelta) {
	date := s.nowFunc().UTC().Format("2006-01-02")
	if err := s.store.UpsertDailyMetrics(ctx, date, delta); err != nil {
		s.logger.Error("daily_metrics_write_failed",
			slog.String("date", date),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) explorerTxURL(digest string) string {
	return strings.TrimRight(s.cfg.ExplorerURL, "/") + "/" + digest
}
