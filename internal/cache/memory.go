package cache

import (
	"context"
	"sync"
	"time"
)

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Memory is the process-local backend. Entries are swept lazily on access
// and once per second by a background sweeper. It is the primary backend
// when no CACHE_URL is configured and the fallback when Redis is down.
type Memory struct {
	mu       sync.Mutex
	counters map[string]*counterEntry
	kv       map[string]kvEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates an in-memory store and starts its sweeper.
func NewMemory() *Memory {
	m := &Memory{
		counters: make(map[string]*counterEntry),
		kv:       make(map[string]kvEntry),
		stop:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.counters[key]
	if !ok || now.After(e.expiresAt) {
		m.counters[key] = &counterEntry{count: 1, expiresAt: now.Add(window)}
		return 1, window
	}
	e.count++
	return e.count, e.expiresAt.Sub(now)
}

func (m *Memory) Get(_ context.Context, key string) (int64, time.Duration, bool) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.counters[key]
	if !ok || now.After(e.expiresAt) {
		delete(m.counters, key)
		return 0, 0, false
	}
	return e.count, e.expiresAt.Sub(now), true
}

func (m *Memory) Reset(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, key)
}

func (m *Memory) AddCounter(_ context.Context, name string, delta int64) {
	now := time.Now()
	key := metricKey(name)
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.counters[key]
	if !ok || now.After(e.expiresAt) {
		m.counters[key] = &counterEntry{count: delta, expiresAt: now.Add(metricsTTL)}
		return
	}
	e.count += delta
	e.expiresAt = now.Add(metricsTTL)
}

func (m *Memory) GetCounter(_ context.Context, name string) int64 {
	now := time.Now()
	key := metricKey(name)
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.counters[key]
	if !ok || now.After(e.expiresAt) {
		return 0
	}
	return e.count
}

func (m *Memory) TrackLastRequest(ctx context.Context, walletAddress string, ts time.Time, ttl time.Duration) {
	m.SetKV(ctx, walletKey(walletAddress), formatTimestamp(ts), ttl)
}

func (m *Memory) GetLastRequest(ctx context.Context, walletAddress string) (time.Time, bool) {
	v, ok := m.GetKV(ctx, walletKey(walletAddress))
	if !ok {
		return time.Time{}, false
	}
	return parseTimestamp(v)
}

func (m *Memory) SetKV(_ context.Context, key, value string, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = kvEntry{value: value, expiresAt: exp}
}

func (m *Memory) GetKV(_ context.Context, key string) (string, bool) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.kv[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
		delete(m.kv, key)
		return "", false
	}
	return e.value, true
}

func (m *Memory) DeleteKV(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
}

func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]*counterEntry)
	m.kv = make(map[string]kvEntry)
	return nil
}

func (m *Memory) HealthCheck(_ context.Context) Health {
	return Health{Healthy: true, LatencyMs: 0, Backend: "memory"}
}

func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.counters {
		if now.After(e.expiresAt) {
			delete(m.counters, k)
		}
	}
	for k, e := range m.kv {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(m.kv, k)
		}
	}
}
