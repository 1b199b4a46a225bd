package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
)

// Mode selects how tokens leave the faucet.
type Mode string

const (
	// ModeWallet signs and submits transfers from the local wallet.
	ModeWallet Mode = "wallet"
	// ModeSDK delegates to the public upstream faucet.
	ModeSDK Mode = "sdk"
)

// reservedGas is both the gas budget attached to a dispatch and the
// balance headroom kept for fees (0.01 native units).
const reservedGas int64 = 10_000_000

var (
	// ErrNotReady means Initialize has not succeeded yet.
	ErrNotReady = errors.New("dispatcher not initialized")
	// ErrWalletNotConfigured means wallet mode was requested without a key.
	ErrWalletNotConfigured = errors.New("no signing key configured")
	// ErrInvalidAddress means the recipient failed address validation.
	ErrInvalidAddress = errors.New("invalid recipient address")
	// ErrInvalidAmount means the requested amount is zero or negative.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountTooLarge means the request exceeds the per-request maximum.
	ErrAmountTooLarge = errors.New("amount exceeds per-request maximum")
	// ErrInsufficientBalance means the wallet cannot cover amount plus gas.
	ErrInsufficientBalance = errors.New("faucet balance too low")
	// ErrTransactionFailed means the chain executed the transfer with a
	// non-success effect status.
	ErrTransactionFailed = errors.New("transaction execution failed")
)

// SendResult reports a completed dispatch.
type SendResult struct {
	TxHash  string
	GasUsed string
}

// Dispatcher moves tokens to recipients, either by signing transfers from
// the local wallet or by delegating to the upstream faucet. It is safe
// for concurrent use.
type Dispatcher struct {
	network   string
	rpc       *RPCClient
	upstream  *Upstream
	signer    *Signer
	maxAmount int64
	logger    *slog.Logger
	ready     atomic.Bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSigner enables wallet mode with the given signing key.
func WithSigner(s *Signer) DispatcherOption {
	return func(d *Dispatcher) { d.signer = s }
}

// WithMaxAmount caps the per-request amount in base units.
func WithMaxAmount(n int64) DispatcherOption {
	return func(d *Dispatcher) { d.maxAmount = n }
}

// NewDispatcher wires a dispatcher for the given network. Without a
// WithSigner option only sdk mode can dispatch.
func NewDispatcher(network string, rpc *RPCClient, upstream *Upstream, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		network:   network,
		rpc:       rpc,
		upstream:  upstream,
		maxAmount: 10_000_000_000,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Initialize probes the fullnode and marks the dispatcher ready. It may
// be called again after a failure.
func (d *Dispatcher) Initialize(ctx context.Context) error {
	epoch, err := d.rpc.SystemStateEpoch(ctx)
	if err != nil {
		return fmt.Errorf("fullnode probe failed: %w", err)
	}
	d.ready.Store(true)

	attrs := []any{
		slog.String("network", d.network),
		slog.String("rpc_url", d.rpc.URL()),
		slog.String("epoch", epoch),
	}
	if d.signer != nil {
		attrs = append(attrs, slog.String("faucet_address", d.signer.Address()))
	}
	d.logger.Info("dispatcher_ready", attrs...)
	return nil
}

// Ready reports whether Initialize has succeeded.
func (d *Dispatcher) Ready() bool { return d.ready.Load() }

// Network returns the chain network name.
func (d *Dispatcher) Network() string { return d.network }

// WalletConfigured reports whether a signing key is loaded.
func (d *Dispatcher) WalletConfigured() bool { return d.signer != nil }

// FaucetAddress returns the wallet address, or "" without a key.
func (d *Dispatcher) FaucetAddress() string {
	if d.signer == nil {
		return ""
	}
	return d.signer.Address()
}

// WalletBalance returns the faucet wallet balance in base units. Without
// a signing key there is no wallet to drain, so a sentinel maximum is
// returned and balance checks always pass.
func (d *Dispatcher) WalletBalance(ctx context.Context) (int64, error) {
	if d.signer == nil {
		return math.MaxInt64, nil
	}
	return d.rpc.Balance(ctx, d.signer.Address())
}

// SendTokens dispatches amount base units to recipient using the given
// mode and returns the transaction digest. The recipient is re-validated
// here so no caller can bypass address checks.
func (d *Dispatcher) SendTokens(ctx context.Context, mode Mode, recipient string, amount int64, requestID string) (*SendResult, error) {
	if !d.ready.Load() {
		return nil, ErrNotReady
	}
	normalized := NormalizeAddress(recipient)
	if normalized == "" {
		return nil, ErrInvalidAddress
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if amount > d.maxAmount {
		return nil, fmt.Errorf("%w: %d > %d", ErrAmountTooLarge, amount, d.maxAmount)
	}

	switch mode {
	case ModeWallet:
		return d.sendFromWallet(ctx, normalized, amount, requestID)
	case ModeSDK:
		return d.sendViaUpstream(ctx, normalized, amount, requestID)
	default:
		return nil, fmt.Errorf("unknown faucet mode %q", mode)
	}
}

func (d *Dispatcher) sendFromWallet(ctx context.Context, recipient string, amount int64, requestID string) (*SendResult, error) {
	if d.signer == nil {
		return nil, ErrWalletNotConfigured
	}

	balance, err := d.rpc.Balance(ctx, d.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("balance check failed: %w", err)
	}
	if balance < amount+reservedGas {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, amount+reservedGas)
	}

	coin, err := d.rpc.LargestCoin(ctx, d.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("coin lookup failed: %w", err)
	}

	txBytes, err := d.rpc.PaySuiTxBytes(ctx, d.signer.Address(), coin.CoinObjectID, recipient, amount, reservedGas)
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer: %w", err)
	}

	signature, err := d.signer.SignTransaction(txBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transfer: %w", err)
	}

	res, err := d.rpc.ExecuteTransaction(ctx, txBytes, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer: %w", err)
	}
	if res.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrTransactionFailed, res.StatusError)
	}

	d.logger.Info("faucet_dispatch",
		slog.String("request_id", requestID),
		slog.String("tx_hash", res.Digest),
		slog.String("from", d.signer.Address()),
		slog.String("to", recipient),
		slog.Int64("amount", amount),
		slog.String("gas_used", res.ComputationCost),
		slog.String("mode", string(ModeWallet)),
	)
	return &SendResult{TxHash: res.Digest, GasUsed: res.ComputationCost}, nil
}

func (d *Dispatcher) sendViaUpstream(ctx context.Context, recipient string, amount int64, requestID string) (*SendResult, error) {
	digest, err := d.upstream.RequestTokens(ctx, recipient)
	if err != nil {
		return nil, err
	}

	d.logger.Info("faucet_dispatch",
		slog.String("request_id", requestID),
		slog.String("tx_hash", digest),
		slog.String("from", "upstream"),
		slog.String("to", recipient),
		slog.Int64("amount", amount),
		slog.String("mode", string(ModeSDK)),
	)
	return &SendResult{TxHash: digest}, nil
}
