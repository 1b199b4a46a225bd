package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe is one periodic check against a faucet dependency. Check returns
// nil when the dependency answered; the prober measures latency and feeds
// the result into the Tracker under Name.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

type probeFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (p probeFunc) Name() string                    { return p.name }
func (p probeFunc) Check(ctx context.Context) error { return p.fn(ctx) }

// NewProbe wraps a named check function as a Probe.
func NewProbe(name string, fn func(ctx context.Context) error) Probe {
	return probeFunc{name: name, fn: fn}
}

// ProberConfig configures the health check prober.
type ProberConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// DefaultProberConfig returns sensible defaults.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval:     60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// Prober periodically runs dependency checks and feeds results into the
// health Tracker.
type Prober struct {
	cfg     ProberConfig
	tracker *Tracker
	logger  *slog.Logger
	stop    chan struct{}
	done    chan struct{}

	mu     sync.RWMutex
	probes map[string]Probe // keyed by component name
}

// NewProber creates a health check prober.
func NewProber(cfg ProberConfig, tracker *Tracker, probes []Probe, logger *slog.Logger) *Prober {
	m := make(map[string]Probe, len(probes))
	for _, p := range probes {
		m[p.Name()] = p
	}
	return &Prober{
		cfg:     cfg,
		tracker: tracker,
		probes:  m,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// AddProbe registers a new check at runtime. If a probe with the same name
// already exists it is replaced. Safe to call while the prober is running.
func (p *Prober) AddProbe(probe Probe) {
	p.mu.Lock()
	p.probes[probe.Name()] = probe
	p.mu.Unlock()
	p.logger.Info("health prober: added probe", slog.String("component", probe.Name()))
}

// RemoveProbe removes a check by component name. Safe to call while the
// prober is running.
func (p *Prober) RemoveProbe(name string) {
	p.mu.Lock()
	delete(p.probes, name)
	p.mu.Unlock()
	p.logger.Info("health prober: removed probe", slog.String("component", name))
}

// Start begins the periodic probe loop in a goroutine.
func (p *Prober) Start() {
	go p.run()
}

// Stop signals the prober to stop and waits for it to finish.
func (p *Prober) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Prober) run() {
	defer close(p.done)

	// Probe immediately on start.
	p.probeAll()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probeAll()
		case <-p.stop:
			return
		}
	}
}

func (p *Prober) probeAll() {
	p.mu.RLock()
	snapshot := make([]Probe, 0, len(p.probes))
	for _, probe := range p.probes {
		snapshot = append(snapshot, probe)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, probe := range snapshot {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			p.probe(probe)
		}(probe)
	}
	wg.Wait()
}

func (p *Prober) probe(probe Probe) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := probe.Check(ctx)
	latencyMs := float64(time.Since(start).Milliseconds())

	if err != nil {
		p.tracker.RecordError(probe.Name(), "probe: "+err.Error())
		p.logger.Warn("health probe failed",
			slog.String("component", probe.Name()),
			slog.String("error", err.Error()),
		)
		return
	}

	p.tracker.RecordSuccess(probe.Name(), latencyMs)
	p.logger.Debug("health probe ok",
		slog.String("component", probe.Name()),
		slog.Float64("latency_ms", latencyMs),
	)
}
