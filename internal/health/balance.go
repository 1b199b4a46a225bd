package health

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// BalanceSource is the slice of the chain dispatcher the balance probe needs.
type BalanceSource interface {
	Ready() bool
	Initialize(ctx context.Context) error
	WalletBalance(ctx context.Context) (int64, error)
}

// BalanceProbe watches the faucet wallet. Each check refreshes the wallet
// balance gauge and warns when the balance drops below the configured floor.
// If startup left the dispatcher unready (fullnode unreachable) the probe
// retries initialization until it sticks.
type BalanceProbe struct {
	source  BalanceSource
	gauge   prometheus.Gauge
	logger  *slog.Logger
	minimum int64
}

// NewBalanceProbe builds the fullnode probe for wallet mode. gauge may be
// nil when metrics are not wired.
func NewBalanceProbe(source BalanceSource, gauge prometheus.Gauge, minimum int64, logger *slog.Logger) *BalanceProbe {
	return &BalanceProbe{
		source:  source,
		gauge:   gauge,
		logger:  logger,
		minimum: minimum,
	}
}

// Name implements Probe.
func (b *BalanceProbe) Name() string { return ComponentFullnode }

// Check implements Probe.
func (b *BalanceProbe) Check(ctx context.Context) error {
	if !b.source.Ready() {
		if err := b.source.Initialize(ctx); err != nil {
			return err
		}
		b.logger.Info("chain connection established")
	}

	balance, err := b.source.WalletBalance(ctx)
	if err != nil {
		return err
	}
	if b.gauge != nil {
		b.gauge.Set(float64(balance))
	}

	if balance < b.minimum {
		b.logger.Warn("faucet wallet balance low",
			slog.Int64("balance", balance),
			slog.Int64("minimum", b.minimum),
		)
	} else {
		b.logger.Info("faucet wallet balance",
			slog.Int64("balance", balance),
		)
	}
	return nil
}
