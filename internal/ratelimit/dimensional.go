package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/suifx/faucet/internal/cache"
)

// Dimension names. Admission checks them in exactly this order, so a
// wallet already over its bound never consumes IP or global slots.
const (
	DimensionWallet = "wallet"
	DimensionIP     = "ip"
	DimensionClient = "client"
	DimensionGlobal = "global"
)

// Limit bounds one dimension for a single admission check.
type Limit struct {
	Dimension string
	ID        string // empty for the global dimension
	Max       int64  // non-positive disables the dimension
	Window    time.Duration
}

// Exceeded identifies the first dimension over its bound.
type Exceeded struct {
	Dimension  string
	Count      int64
	Max        int64
	RetryAfter time.Duration
}

// Windows meters dispatches with fixed-window counters in the cache.
// Counters are never rolled back: a denial at a later dimension leaves
// earlier increments in place, and a dispatch that fails on-chain has
// still consumed its slot for the window.
type Windows struct {
	cache    cache.Store
	rejected *prometheus.CounterVec // optional, labeled by dimension
}

// WindowsOption configures a Windows limiter.
type WindowsOption func(*Windows)

// WithRejectionCounter records denials per dimension.
func WithRejectionCounter(vec *prometheus.CounterVec) WindowsOption {
	return func(w *Windows) {
		w.rejected = vec
	}
}

// NewWindows builds the dimensional limiter on top of the cache. Cache
// outages fail open through the store's sentinel increments, so a broken
// cache loosens limits instead of blocking dispatch.
func NewWindows(c cache.Store, opts ...WindowsOption) *Windows {
	w := &Windows{cache: c}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Check increments each limit's counter in order and returns the first
// dimension over its bound, or nil when the request is admitted.
func (w *Windows) Check(ctx context.Context, limits []Limit) *Exceeded {
	for _, lim := range limits {
		if lim.Max <= 0 {
			continue
		}
		count, ttl := w.cache.Incr(ctx, cache.RateLimitKey(lim.Dimension, lim.ID), lim.Window)
		if count <= lim.Max {
			continue
		}
		if w.rejected != nil {
			w.rejected.WithLabelValues(lim.Dimension).Inc()
		}
		if ttl <= 0 {
			ttl = lim.Window
		}
		return &Exceeded{
			Dimension:  lim.Dimension,
			Count:      count,
			Max:        lim.Max,
			RetryAfter: ttl,
		}
	}
	return nil
}

// Usage reads a dimension's current count without consuming a slot.
func (w *Windows) Usage(ctx context.Context, dimension, id string) (count int64, ttl time.Duration) {
	count, ttl, ok := w.cache.Get(ctx, cache.RateLimitKey(dimension, id))
	if !ok {
		return 0, 0
	}
	return count, ttl
}

// Reset clears a dimension's counter. Admin-only escape hatch.
func (w *Windows) Reset(ctx context.Context, dimension, id string) {
	w.cache.Reset(ctx, cache.RateLimitKey(dimension, id))
}
