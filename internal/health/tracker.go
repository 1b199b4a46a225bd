// Package health tracks the runtime state of the faucet's dependencies
// (fullnode RPC, cache, persistence, upstream faucet) and runs the periodic
// probes that keep that state current.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/suifx/faucet/internal/events"
)

// Component names tracked by the faucet.
const (
	ComponentFullnode = "fullnode"
	ComponentCache    = "cache"
	ComponentStore    = "store"
	ComponentUpstream = "upstream"
)

// State represents the health state of a component.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// rank orders states by severity for aggregation.
func (s State) rank() int {
	switch s {
	case StateDown:
		return 2
	case StateDegraded:
		return 1
	default:
		return 0
	}
}

// Stats captures runtime health metrics for a single component.
type Stats struct {
	Component     string    `json:"component"`
	State         State     `json:"state"`
	TotalChecks   int64     `json:"total_checks"`
	TotalErrors   int64     `json:"total_errors"`
	ConsecErrors  int       `json:"consec_errors"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// TrackerConfig configures the health tracker thresholds.
type TrackerConfig struct {
	// ConsecErrorsForDegraded: how many consecutive errors before degraded state.
	ConsecErrorsForDegraded int
	// ConsecErrorsForDown: how many consecutive errors before down state.
	ConsecErrorsForDown int
	// CooldownDuration: how long to keep a component in down state.
	CooldownDuration time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ConsecErrorsForDegraded: 2,
		ConsecErrorsForDown:     5,
		CooldownDuration:        30 * time.Second,
	}
}

// Tracker tracks runtime health of all faucet components.
type Tracker struct {
	cfg      TrackerConfig
	EventBus *events.Bus
	onUpdate func(component string, state State)

	mu    sync.RWMutex
	stats map[string]*Stats
}

// TrackerOption configures optional Tracker behaviour.
type TrackerOption func(*Tracker)

// WithEventBus attaches an event bus to the tracker so that health state
// transitions are published as EventHealthChange events.
func WithEventBus(bus *events.Bus) TrackerOption {
	return func(t *Tracker) {
		t.EventBus = bus
	}
}

// WithOnUpdate registers a callback invoked on every RecordSuccess/RecordError
// call (not just state transitions). Use this to keep external gauges current.
func WithOnUpdate(fn func(component string, state State)) TrackerOption {
	return func(t *Tracker) {
		t.onUpdate = fn
	}
}

// NewTracker creates a health tracker with the given config.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cfg:   cfg,
		stats: make(map[string]*Stats),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordSuccess records a successful check against a component.
func (t *Tracker) RecordSuccess(component string, latencyMs float64) {
	t.mu.Lock()

	s := t.getOrCreate(component)
	oldState := s.State

	s.TotalChecks++
	s.ConsecErrors = 0
	s.LastSuccessAt = time.Now()
	s.State = StateHealthy
	s.CooldownUntil = time.Time{}

	// Running average (simple weighted).
	if s.TotalChecks == 1 {
		s.AvgLatencyMs = latencyMs
	} else {
		s.AvgLatencyMs = s.AvgLatencyMs*0.9 + latencyMs*0.1
	}

	newState := s.State
	t.mu.Unlock()

	if t.onUpdate != nil {
		t.onUpdate(component, newState)
	}
	if oldState != newState && t.EventBus != nil {
		t.EventBus.Publish(events.Event{
			Type:      events.EventHealthChange,
			Component: component,
			OldState:  string(oldState),
			NewState:  string(newState),
			Reason:    "check succeeded",
		})
	}
}

// RecordError records a failed check against a component.
func (t *Tracker) RecordError(component string, errMsg string) {
	t.mu.Lock()

	s := t.getOrCreate(component)
	oldState := s.State

	s.TotalChecks++
	s.TotalErrors++
	s.ConsecErrors++
	s.LastError = errMsg
	s.LastErrorTime = time.Now()

	if s.ConsecErrors >= t.cfg.ConsecErrorsForDown {
		s.State = StateDown
		s.CooldownUntil = time.Now().Add(t.cfg.CooldownDuration)
	} else if s.ConsecErrors >= t.cfg.ConsecErrorsForDegraded {
		s.State = StateDegraded
	}

	newState := s.State
	t.mu.Unlock()

	if t.onUpdate != nil {
		t.onUpdate(component, newState)
	}
	if oldState != newState && t.EventBus != nil {
		t.EventBus.Publish(events.Event{
			Type:      events.EventHealthChange,
			Component: component,
			OldState:  string(oldState),
			NewState:  string(newState),
			Reason:    errMsg,
		})
	}
}

// IsAvailable returns whether a component should be relied on right now.
func (t *Tracker) IsAvailable(component string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[component]
	if !ok {
		return true // unknown component is assumed available
	}
	if s.State == StateDown && time.Now().Before(s.CooldownUntil) {
		return false
	}
	return true
}

// Overall returns the worst state across the given components. Components
// never checked count as healthy. With no arguments it aggregates every
// known component.
func (t *Tracker) Overall(components ...string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(components) == 0 {
		for name := range t.stats {
			components = append(components, name)
		}
	}
	worst := StateHealthy
	for _, name := range components {
		s, ok := t.stats[name]
		if !ok {
			continue
		}
		if s.State.rank() > worst.rank() {
			worst = s.State
		}
	}
	return worst
}

// GetStats returns a copy of the health stats for a component.
func (t *Tracker) GetStats(component string) *Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[component]
	if !ok {
		return &Stats{Component: component, State: StateHealthy}
	}
	cp := *s
	return &cp
}

// AllStats returns a copy of health stats for all known components,
// ordered by component name.
func (t *Tracker) AllStats() []Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Stats, 0, len(t.stats))
	for _, s := range t.stats {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Component < result[j].Component })
	return result
}

// GetAvgLatencyMs returns the average check latency for a component.
func (t *Tracker) GetAvgLatencyMs(component string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.stats[component]; ok {
		return s.AvgLatencyMs
	}
	return 0
}

// GetErrorRate returns the check error rate for a component.
func (t *Tracker) GetErrorRate(component string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.stats[component]; ok && s.TotalChecks > 0 {
		return float64(s.TotalErrors) / float64(s.TotalChecks)
	}
	return 0
}

func (t *Tracker) getOrCreate(component string) *Stats {
	s, ok := t.stats[component]
	if !ok {
		s = &Stats{Component: component, State: StateHealthy}
		t.stats[component] = s
	}
	return s
}
