package httpapi

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/suifx/faucet/internal/chain"
	"github.com/suifx/faucet/internal/errcode"
	"github.com/suifx/faucet/internal/faucet"
)

// faucetRequestBody accepts both field spellings for the recipient;
// walletAddress wins when both are present. Amount may arrive as a JSON
// number or a base-units string.
type faucetRequestBody struct {
	WalletAddress string      `json:"walletAddress"`
	Address       string      `json:"address"`
	Amount        json.Number `json:"amount"`
}

// faucetReceipt is the success payload for a dispatched request. Amount is
// rendered as a string to avoid precision loss in JSON consumers.
type faucetReceipt struct {
	TransactionHash string `json:"transactionHash"`
	Amount          string `json:"amount"`
	WalletAddress   string `json:"walletAddress"`
	Network         string `json:"network"`
	ExplorerURL     string `json:"explorerURL"`
}

// FaucetRequestHandler admits one token request through the full pipeline.
func FaucetRequestHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body faucetRequestBody
		if !decodeBody(w, r, &body) {
			return
		}

		address := body.WalletAddress
		if address == "" {
			address = body.Address
		}

		var amount int64
		if body.Amount != "" {
			n, err := strconv.ParseInt(body.Amount.String(), 10, 64)
			if err != nil {
				respondError(w, errcode.InvalidAmount, "Invalid amount",
					"amount must be an integer number of base-units")
				return
			}
			amount = n
		}

		receipt, denial := d.Faucet.Admit(r.Context(), faucet.Request{
			WalletAddress: address,
			Amount:        amount,
			ClientIP:      clientIP(r),
			UserAgent:     r.UserAgent(),
			RequestID:     requestID(r),
			Client:        ClientFrom(r.Context()),
		})
		if denial != nil {
			respondDenial(w, denial)
			return
		}

		respond(w, http.StatusOK, "Tokens sent", faucetReceipt{
			TransactionHash: receipt.TxHash,
			Amount:          strconv.FormatInt(receipt.Amount, 10),
			WalletAddress:   receipt.WalletAddress,
			Network:         receipt.Network,
			ExplorerURL:     receipt.ExplorerURL,
		})
	}
}

// FaucetStatusHandler reports the public faucet state: network, dispatch
// mode, current limits, and in wallet mode the funding address and balance.
// The endpoint is unauthenticated, so a chain hiccup degrades the balance
// field rather than failing the response.
func FaucetStatusHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Settings.Snapshot(r.Context())
		mode := d.Faucet.EffectiveMode(r.Context())

		data := map[string]any{
			"network":       d.Chain.Network(),
			"mode":          string(mode),
			"defaultAmount": strconv.FormatInt(d.DefaultAmount, 10),
			"maxAmount":     strconv.FormatInt(d.MaxAmount, 10),
			"limits": map[string]any{
				"rateLimitEnabled": snap.RateLimitEnabled,
				"windowMs":         snap.WindowMs,
				"maxPerWallet":     snap.MaxPerWallet,
				"maxPerIp":         snap.EffectiveMaxPerIP(),
				"cooldownSeconds":  int64(snap.EffectiveCooldown().Seconds()),
			},
		}

		if mode == chain.ModeWallet {
			data["faucetAddress"] = d.Chain.FaucetAddress()
			if balance, err := d.Chain.WalletBalance(r.Context()); err == nil {
				data["balance"] = strconv.FormatInt(balance, 10)
			} else {
				d.Logger.Warn("status_balance_read_failed", slog.String("error", err.Error()))
			}
		}

		respond(w, http.StatusOK, "", data)
	}
}

// FaucetModeHandler reports the effective dispatch mode.
func FaucetModeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, "", map[string]any{
			"mode":             string(d.Faucet.EffectiveMode(r.Context())),
			"walletConfigured": d.Chain.WalletConfigured(),
		})
	}
}

// clientIP strips the port RemoteAddr carries; RealIP middleware has
// already resolved proxy headers by the time handlers run.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestID returns the middleware-assigned ID, minting one when the
// handler runs without the middleware stack.
func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
