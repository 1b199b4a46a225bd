package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/suifx/faucet/internal/circuitbreaker"
)

const probeInterval = 2 * time.Second

// Failover fronts the Redis backend with the in-memory store. A breaker
// counts consecutive remote failures; once tripped, every operation is
// served locally while a background loop probes Redis for recovery. While
// the breaker is closed, individual remote failures return the fail-open
// sentinel for that one call.
type Failover struct {
	remote  *Redis
	local   *Memory
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	fallbackCounter prometheus.Counter // optional: incremented per degradation

	stop     chan struct{}
	stopOnce sync.Once
}

// FailoverOption configures a Failover.
type FailoverOption func(*Failover)

// WithFallbackCounter sets a Prometheus counter incremented each time the
// store degrades to the in-memory backend.
func WithFallbackCounter(c prometheus.Counter) FailoverOption {
	return func(f *Failover) { f.fallbackCounter = c }
}

// NewFailover wires the two backends together and starts the recovery probe.
func NewFailover(remote *Redis, local *Memory, logger *slog.Logger, opts ...FailoverOption) *Failover {
	f := &Failover{
		remote: remote,
		local:  local,
		logger: logger,
		stop:   make(chan struct{}),
	}
	for _, o := range opts {
		o(f)
	}
	f.breaker = circuitbreaker.New(
		circuitbreaker.WithThreshold(5),
		circuitbreaker.WithCooldown(10*time.Second),
		circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
			switch to {
			case circuitbreaker.Open:
				logger.Warn("cache: remote backend unreachable, serving from memory",
					slog.String("previous", from.String()))
				if f.fallbackCounter != nil {
					f.fallbackCounter.Inc()
				}
			case circuitbreaker.Closed:
				logger.Info("cache: remote backend restored")
			}
		}),
	)
	go f.probeLoop()
	return f
}

// remoteLive reports whether user traffic should reach Redis. Recovery is
// driven exclusively by the probe loop so requests never pay for probing.
func (f *Failover) remoteLive() bool {
	return f.breaker.CurrentState() == circuitbreaker.Closed
}

// noteFailure feeds the breaker unless the caller itself gave up; a client
// disconnect must not count against the backend.
func (f *Failover) noteFailure(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	f.breaker.RecordFailure()
	f.logger.Debug("cache: remote operation failed", slog.String("error", err.Error()))
}

func (f *Failover) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration) {
	if f.remoteLive() {
		count, ttl, err := f.remote.incr(ctx, key, window)
		if err == nil {
			f.breaker.RecordSuccess()
			return count, ttl
		}
		f.noteFailure(err)
		return 1, window
	}
	return f.local.Incr(ctx, key, window)
}

func (f *Failover) Get(ctx context.Context, key string) (int64, time.Duration, bool) {
	if f.remoteLive() {
		count, ttl, ok, err := f.remote.get(ctx, key)
		if err == nil {
			f.breaker.RecordSuccess()
			return count, ttl, ok
		}
		f.noteFailure(err)
		return 0, 0, false
	}
	return f.local.Get(ctx, key)
}

func (f *Failover) Reset(ctx context.Context, key string) {
	if f.remoteLive() {
		if err := f.remote.reset(ctx, key); err == nil {
			f.breaker.RecordSuccess()
		} else {
			f.noteFailure(err)
		}
		return
	}
	f.local.Reset(ctx, key)
}

func (f *Failover) AddCounter(ctx context.Context, name string, delta int64) {
	if f.remoteLive() {
		if err := f.remote.addCounter(ctx, name, delta); err == nil {
			f.breaker.RecordSuccess()
		} else {
			f.noteFailure(err)
		}
		return
	}
	f.local.AddCounter(ctx, name, delta)
}

func (f *Failover) GetCounter(ctx context.Context, name string) int64 {
	if f.remoteLive() {
		v, err := f.remote.getCounter(ctx, name)
		if err == nil {
			f.breaker.RecordSuccess()
			return v
		}
		f.noteFailure(err)
		return 0
	}
	return f.local.GetCounter(ctx, name)
}

func (f *Failover) TrackLastRequest(ctx context.Context, walletAddress string, ts time.Time, ttl time.Duration) {
	f.SetKV(ctx, walletKey(walletAddress), formatTimestamp(ts), ttl)
}

func (f *Failover) GetLastRequest(ctx context.Context, walletAddress string) (time.Time, bool) {
	v, ok := f.GetKV(ctx, walletKey(walletAddress))
	if !ok {
		return time.Time{}, false
	}
	return parseTimestamp(v)
}

func (f *Failover) SetKV(ctx context.Context, key, value string, ttl time.Duration) {
	if f.remoteLive() {
		if err := f.remote.setKV(ctx, key, value, ttl); err == nil {
			f.breaker.RecordSuccess()
		} else {
			f.noteFailure(err)
		}
		return
	}
	f.local.SetKV(ctx, key, value, ttl)
}

func (f *Failover) GetKV(ctx context.Context, key string) (string, bool) {
	if f.remoteLive() {
		v, ok, err := f.remote.getKV(ctx, key)
		if err == nil {
			f.breaker.RecordSuccess()
			return v, ok
		}
		f.noteFailure(err)
		return "", false
	}
	return f.local.GetKV(ctx, key)
}

func (f *Failover) DeleteKV(ctx context.Context, key string) {
	if f.remoteLive() {
		if err := f.remote.deleteKV(ctx, key); err == nil {
			f.breaker.RecordSuccess()
		} else {
			f.noteFailure(err)
		}
		return
	}
	f.local.DeleteKV(ctx, key)
}

// Flush clears both backends. The local map is always cleared; the remote
// flush only runs while the backend is live, and its error surfaces because
// flushing is an explicit admin action.
func (f *Failover) Flush(ctx context.Context) error {
	_ = f.local.Flush(ctx)
	if !f.remoteLive() {
		return nil
	}
	if err := f.remote.flush(ctx); err != nil {
		f.noteFailure(err)
		return err
	}
	f.breaker.RecordSuccess()
	return nil
}

func (f *Failover) HealthCheck(ctx context.Context) Health {
	if f.remoteLive() {
		latency, err := f.remote.ping(ctx)
		if err != nil {
			f.noteFailure(err)
			return Health{Healthy: false, Backend: "redis"}
		}
		f.breaker.RecordSuccess()
		return Health{Healthy: true, LatencyMs: latency.Milliseconds(), Backend: "redis"}
	}
	h := f.local.HealthCheck(ctx)
	h.Degraded = true
	return h
}

func (f *Failover) Close() error {
	f.stopOnce.Do(func() { close(f.stop) })
	_ = f.local.Close()
	return f.remote.close()
}

// probeLoop drives recovery. While the breaker is not closed it asks for
// probe permission on each tick and pings Redis; a successful ping closes
// the breaker and user traffic moves back to the remote backend.
func (f *Failover) probeLoop() {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if f.breaker.CurrentState() == circuitbreaker.Closed {
				continue
			}
			if !f.breaker.Allow() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, err := f.remote.ping(ctx)
			cancel()
			if err != nil {
				f.breaker.RecordFailure()
				continue
			}
			f.breaker.RecordSuccess()
		case <-f.stop:
			return
		}
	}
}

