// Package metrics owns the Prometheus registry for the faucet. Everything
// is registered against a private registry rather than the global default
// so tests can build isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// RequestsTotal counts faucet requests by final outcome (success,
	// denied, failed) and dispatch mode.
	RequestsTotal *prometheus.CounterVec

	// DispatchLatency measures sendTokens wall time in milliseconds.
	DispatchLatency *prometheus.HistogramVec

	// AmountDistributed accumulates successfully sent base-units.
	AmountDistributed prometheus.Counter

	// RateLimited counts admission denials per rate-limit dimension.
	RateLimited *prometheus.CounterVec

	// APIRejected counts management-surface requests dropped by the token
	// bucket.
	APIRejected prometheus.Counter

	// WalletBalance is the faucet wallet balance in base-units, refreshed
	// by the health prober.
	WalletBalance prometheus.Gauge

	// CacheFallback counts transitions of the cache layer onto its
	// in-memory fallback.
	CacheFallback prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_requests_total",
			Help: "Faucet requests by outcome and dispatch mode",
		}, []string{"outcome", "mode"}),
		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faucet_dispatch_latency_ms",
			Help:    "Token dispatch latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"mode"}),
		AmountDistributed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faucet_amount_distributed_total",
			Help: "Total base-units distributed by successful dispatches",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_rate_limited_total",
			Help: "Admission denials per rate-limit dimension",
		}, []string{"dimension"}),
		APIRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faucet_api_rejected_total",
			Help: "Management API requests rejected by the token bucket",
		}),
		WalletBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucet_wallet_balance",
			Help: "Current faucet wallet balance in base-units",
		}),
		CacheFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faucet_cache_fallback_total",
			Help: "Cache layer transitions onto the in-memory fallback",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.DispatchLatency,
		m.AmountDistributed,
		m.RateLimited,
		m.APIRejected,
		m.WalletBalance,
		m.CacheFallback,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
