// Package ratelimit enforces the faucet's two rate-limiting layers: an
// in-memory token bucket that protects the management surface from bursts,
// and cache-backed fixed windows that meter token dispatch per wallet, IP,
// client, and globally.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Limiter is a per-IP token bucket. It fronts the non-dispensing routes;
// faucet admission uses Windows instead so counts survive restarts.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int           // tokens added per interval
	burst    int           // max tokens (bucket capacity)
	interval time.Duration // refill interval
	maxKeys  int           // max entries before evicting oldest
	stop     chan struct{}
	counter  prometheus.Counter // optional: incremented on each 429
	reject   http.HandlerFunc   // optional: renders the 429 response
}

type bucket struct {
	tokens   int
	lastFill time.Time
	lastSeen time.Time
}

// New creates a rate limiter. rate is tokens added per interval; burst is
// the maximum burst size.
func New(rate, burst int, interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		burst:    burst,
		interval: interval,
		maxKeys:  100000, // default cap: 100k unique IPs
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	// Periodically clean up stale entries.
	go l.cleanup()
	return l
}

// NewPerWindow sizes a limiter from the api_max_requests_per_window and
// api_burst_limit settings: sustained throughput of maxPerWindow requests
// per window, with bursts up to burst.
func NewPerWindow(maxPerWindow, burst int, window time.Duration, opts ...Option) *Limiter {
	return New(1, burst, perTokenInterval(maxPerWindow, window), opts...)
}

func perTokenInterval(maxPerWindow int, window time.Duration) time.Duration {
	if maxPerWindow <= 0 {
		maxPerWindow = 1
	}
	interval := window / time.Duration(maxPerWindow)
	if interval <= 0 {
		interval = time.Millisecond
	}
	return interval
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter sets a Prometheus counter that is incremented on each 429.
func WithCounter(c prometheus.Counter) Option {
	return func(l *Limiter) {
		l.counter = c
	}
}

// WithMaxKeys caps the number of tracked client keys.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// WithRejectionHandler renders rejected requests. Without it a plain-text
// 429 is written.
func WithRejectionHandler(h http.HandlerFunc) Option {
	return func(l *Limiter) {
		l.reject = h
	}
}

// SetLimits retunes the limiter when the api_* settings change. Existing
// buckets keep their tokens; the new capacity applies on the next refill.
func (l *Limiter) SetLimits(maxPerWindow, burst int, window time.Duration) {
	if burst <= 0 || window <= 0 {
		return
	}
	interval := perTokenInterval(maxPerWindow, window)
	l.mu.Lock()
	l.rate = 1
	l.burst = burst
	l.interval = interval
	l.mu.Unlock()
}

// Middleware returns an http.Handler middleware that enforces rate limits
// per client IP (X-Real-IP, falling back to RemoteAddr without the port).
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			if l.counter != nil {
				l.counter.Inc()
			}
			w.Header().Set("Retry-After", "1")
			if l.reject != nil {
				l.reject(w, r)
				return
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		// Evict the least recently seen entry if at capacity.
		if len(l.buckets) >= l.maxKeys {
			l.evictOldest()
		}
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}
	b.lastSeen = now

	// Refill tokens based on elapsed time.
	elapsed := now.Sub(b.lastFill)
	refill := int(elapsed/l.interval) * l.rate
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.lastFill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// evictOldest removes the bucket with the oldest lastSeen time.
// Must be called with l.mu held.
func (l *Limiter) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, b := range l.buckets {
		if first || b.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = b.lastSeen
			first = false
		}
	}
	if !first {
		delete(l.buckets, oldestKey)
	}
}

// Stop terminates the background cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for k, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
