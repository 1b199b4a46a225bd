// Package cache provides the ephemeral key/value store behind rate counters,
// wallet cooldown markers, and short-lived metadata. Two backends exist: a
// remote Redis store and a process-local map. When Redis is configured, a
// failover wrapper degrades to the local map after repeated outages and
// keeps probing for recovery in the background.
//
// Operational failures of the remote backend never surface as errors to
// callers. Each operation returns a fail-open sentinel instead, so a cache
// outage loosens rate limiting rather than taking the faucet down.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Store is the capability set rate limiting and admission rely on.
type Store interface {
	// Incr atomically increments a counter, arming its expiry on first hit.
	// Returns the post-increment count and remaining time to expiry. On
	// remote failure it returns the fail-open sentinel (1, window).
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration)

	// Get reads a counter without modifying it. ok is false on miss or
	// remote failure.
	Get(ctx context.Context, key string) (count int64, ttl time.Duration, ok bool)

	// Reset removes a counter.
	Reset(ctx context.Context, key string)

	// AddCounter adjusts a named operational counter (requests_success,
	// requests_failed). GetCounter reads it, returning 0 on miss.
	AddCounter(ctx context.Context, name string, delta int64)
	GetCounter(ctx context.Context, name string) int64

	// TrackLastRequest records the most recent successful dispatch for a
	// wallet. ttl bounds how long the marker lives; GetLastRequest reports
	// a miss once it expires.
	TrackLastRequest(ctx context.Context, walletAddress string, ts time.Time, ttl time.Duration)
	GetLastRequest(ctx context.Context, walletAddress string) (time.Time, bool)

	// Generic short-lived state. A non-positive ttl stores without expiry.
	SetKV(ctx context.Context, key, value string, ttl time.Duration)
	GetKV(ctx context.Context, key string) (string, bool)
	DeleteKV(ctx context.Context, key string)

	// Flush clears every entry under the configured prefix. Unlike the
	// hot-path operations this is an admin action, so failures surface.
	Flush(ctx context.Context) error

	HealthCheck(ctx context.Context) Health
	Close() error
}

// Health describes the live backend.
type Health struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Backend   string `json:"backend"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// metricsTTL bounds the lifetime of operational counters so abandoned names
// do not accumulate forever.
const metricsTTL = 48 * time.Hour

// RateLimitKey builds the counter key for one rate-limit dimension. The
// global dimension carries no identity.
func RateLimitKey(dimension, id string) string {
	if id == "" {
		return "rate_limit:" + dimension
	}
	return "rate_limit:" + dimension + ":" + id
}

func walletKey(address string) string { return "wallets:" + address }

func metricKey(name string) string { return "metrics:" + name }

// Last-request markers are stored as unix milliseconds so both backends
// share one encoding.
func formatTimestamp(ts time.Time) string {
	return strconv.FormatInt(ts.UnixMilli(), 10)
}

func parseTimestamp(v string) (time.Time, bool) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Open selects the backend from configuration: an empty URL yields the
// process-local store, anything else a Redis client wrapped in the failover.
// Only a malformed URL is an error; an unreachable Redis is handled at
// runtime by the failover discipline.
func Open(url, prefix string, logger *slog.Logger, opts ...FailoverOption) (Store, error) {
	if url == "" {
		logger.Info("cache: no CACHE_URL configured, using in-memory backend")
		return NewMemory(), nil
	}
	remote, err := NewRedis(url, prefix)
	if err != nil {
		return nil, err
	}
	return NewFailover(remote, NewMemory(), logger, opts...), nil
}
