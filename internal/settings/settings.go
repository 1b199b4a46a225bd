// Package settings manages the operator-tunable rate-limit settings. The
// recognized names, their types, and defaults live here; rows persist in
// the store and a short-TTL snapshot keeps the admission path off the
// database. Unknown names are rejected at write time, never stored.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/suifx/faucet/internal/store"
)

// Setting types as stored.
const (
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeString  = "string"
)

// Faucet dispatch modes.
const (
	ModeWallet = "wallet"
	ModeSDK    = "sdk"
)

const defaultTTL = 15 * time.Second

type definition struct {
	typ   string
	def   string
	min   int64    // for numbers; values below are rejected
	oneOf []string // for strings; allowed values
}

// registry is the closed set of recognized setting names.
var registry = map[string]definition{
	"rate_limit_enabled":          {typ: TypeBoolean, def: "true"},
	"rate_limit_window_ms":        {typ: TypeNumber, def: "3600000", min: 1},
	"faucet_max_per_wallet":       {typ: TypeNumber, def: "1", min: 1},
	"faucet_max_per_ip":           {typ: TypeNumber, def: "10", min: 1},
	"faucet_cooldown_seconds":     {typ: TypeNumber, def: "3600", min: 0},
	"api_max_requests_per_window": {typ: TypeNumber, def: "1000", min: 1},
	"api_burst_limit":             {typ: TypeNumber, def: "20", min: 1},
	"wallet_daily_limit":          {typ: TypeNumber, def: "5", min: 1},
	"wallet_weekly_limit":         {typ: TypeNumber, def: "10", min: 1},
	"emergency_mode":              {typ: TypeBoolean, def: "false"},
	"emergency_max_per_ip":        {typ: TypeNumber, def: "1", min: 1},
	"emergency_cooldown":          {typ: TypeNumber, def: "7200", min: 0},
	"faucet_mode":                 {typ: TypeString, def: ModeWallet, oneOf: []string{ModeWallet, ModeSDK}},
}

// Defaults returns seed rows for every recognized setting, sorted by name.
func Defaults() []store.Setting {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]store.Setting, 0, len(names))
	for _, name := range names {
		d := registry[name]
		out = append(out, store.Setting{
			Name: name, Value: d.def, Type: d.typ, IsActive: true,
		})
	}
	return out
}

// Snapshot is the typed view of all settings at one point in time. The
// admission pipeline reads one snapshot per request so a mid-request
// settings change never mixes old and new values.
type Snapshot struct {
	RateLimitEnabled        bool
	WindowMs                int64
	MaxPerWallet            int64
	MaxPerIP                int64
	CooldownSeconds         int64
	APIMaxRequestsPerWindow int64
	APIBurstLimit           int64
	WalletDailyLimit        int64
	WalletWeeklyLimit       int64
	EmergencyMode           bool
	EmergencyMaxPerIP       int64
	EmergencyCooldown       int64
	FaucetMode              string
}

// Window returns the rate-limit window as a duration.
func (s Snapshot) Window() time.Duration {
	return time.Duration(s.WindowMs) * time.Millisecond
}

// EffectiveMaxPerIP applies the emergency override when emergency mode is
// on; wallet and global caps are unaffected.
func (s Snapshot) EffectiveMaxPerIP() int64 {
	if s.EmergencyMode {
		return s.EmergencyMaxPerIP
	}
	return s.MaxPerIP
}

// EffectiveCooldown applies the emergency cooldown when emergency mode is
// on.
func (s Snapshot) EffectiveCooldown() time.Duration {
	secs := s.CooldownSeconds
	if s.EmergencyMode {
		secs = s.EmergencyCooldown
	}
	return time.Duration(secs) * time.Second
}

func defaultSnapshot() Snapshot {
	var snap Snapshot
	for name, d := range registry {
		applyValue(&snap, name, d.def)
	}
	return snap
}

func applyValue(snap *Snapshot, name, value string) {
	switch name {
	case "rate_limit_enabled":
		snap.RateLimitEnabled = value == "true"
	case "rate_limit_window_ms":
		snap.WindowMs, _ = strconv.ParseInt(value, 10, 64)
	case "faucet_max_per_wallet":
		snap.MaxPerWallet, _ = strconv.ParseInt(value, 10, 64)
	case "faucet_max_per_ip":
		snap.MaxPerIP, _ = strconv.ParseInt(value, 10, 64)
	case "faucet_cooldown_seconds":
		snap.CooldownSeconds, _ = strconv.ParseInt(value, 10, 64)
	case "api_max_requests_per_window":
		snap.APIMaxRequestsPerWindow, _ = strconv.ParseInt(value, 10, 64)
	case "api_burst_limit":
		snap.APIBurstLimit, _ = strconv.ParseInt(value, 10, 64)
	case "wallet_daily_limit":
		snap.WalletDailyLimit, _ = strconv.ParseInt(value, 10, 64)
	case "wallet_weekly_limit":
		snap.WalletWeeklyLimit, _ = strconv.ParseInt(value, 10, 64)
	case "emergency_mode":
		snap.EmergencyMode = value == "true"
	case "emergency_max_per_ip":
		snap.EmergencyMaxPerIP, _ = strconv.ParseInt(value, 10, 64)
	case "emergency_cooldown":
		snap.EmergencyCooldown, _ = strconv.ParseInt(value, 10, 64)
	case "faucet_mode":
		snap.FaucetMode = value
	}
}

// Update reports one accepted write.
type Update struct {
	Name     string `json:"setting_name"`
	NewValue string `json:"new_value"`
}

// WriteError reports one rejected write.
type WriteError struct {
	Name  string `json:"setting_name"`
	Error string `json:"error"`
}

// Service loads, caches, and writes settings.
type Service struct {
	store  store.Store
	logger *slog.Logger
	ttl    time.Duration

	mu       sync.Mutex
	snap     Snapshot
	loadedAt time.Time

	nowFunc func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithTTL overrides the snapshot cache TTL.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// New returns a Service backed by st.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   st,
		logger:  logger,
		ttl:     defaultTTL,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed inserts defaults for any recognized setting missing from the store.
// Operator-modified rows are left alone. Overrides replace the compiled
// default for matching names, letting environment bootstrap values apply on
// first boot; unrecognized or ill-typed overrides are logged and skipped.
func (s *Service) Seed(ctx context.Context, overrides ...store.Setting) error {
	rows := Defaults()
	for _, o := range overrides {
		def, ok := registry[o.Name]
		if !ok {
			continue
		}
		value, err := coerce(def, o.Value)
		if err != nil {
			s.logger.Warn("settings: ignoring invalid seed override",
				slog.String("setting", o.Name),
				slog.String("value", o.Value),
				slog.String("error", err.Error()))
			continue
		}
		for i := range rows {
			if rows[i].Name == o.Name {
				rows[i].Value = value
				break
			}
		}
	}
	return s.store.SeedSettings(ctx, rows)
}

// Snapshot returns the current typed settings, served from cache within
// the TTL. A store failure keeps the last good snapshot; before the first
// successful load the compiled-in defaults apply.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if !s.loadedAt.IsZero() && now.Sub(s.loadedAt) < s.ttl {
		return s.snap
	}

	rows, err := s.store.ListSettings(ctx)
	if err != nil {
		s.logger.Warn("settings: reload failed, keeping last snapshot",
			slog.String("error", err.Error()))
		if s.loadedAt.IsZero() {
			s.snap = defaultSnapshot()
		}
		// Back off further reload attempts for one TTL.
		s.loadedAt = now
		return s.snap
	}

	snap := defaultSnapshot()
	for _, row := range rows {
		if _, ok := registry[row.Name]; !ok || !row.IsActive {
			continue
		}
		applyValue(&snap, row.Name, row.Value)
	}
	s.snap = snap
	s.loadedAt = now
	return s.snap
}

// Invalidate drops the cached snapshot so the next read hits the store.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

// List returns the raw stored rows for the admin view.
func (s *Service) List(ctx context.Context) ([]store.Setting, error) {
	return s.store.ListSettings(ctx)
}

// Write applies a bulk update. Each entry is validated independently:
// recognized names with well-typed values persist, the rest land in the
// error list. One bad entry never blocks the others. Names are processed
// in sorted order so responses are deterministic.
func (s *Service) Write(ctx context.Context, values map[string]any, actor string) ([]Update, []WriteError) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var updated []Update
	var errs []WriteError
	for _, name := range names {
		def, ok := registry[name]
		if !ok {
			errs = append(errs, WriteError{Name: name, Error: "Setting not found"})
			continue
		}
		normalized, err := coerce(def, values[name])
		if err != nil {
			errs = append(errs, WriteError{Name: name, Error: err.Error()})
			continue
		}
		row := store.Setting{
			Name: name, Value: normalized, Type: def.typ,
			IsActive: true, UpdatedBy: actor, UpdatedAt: s.nowFunc().UTC(),
		}
		if err := s.store.UpsertSetting(ctx, row); err != nil {
			s.logger.Error("settings: persist failed",
				slog.String("setting", name), slog.String("error", err.Error()))
			errs = append(errs, WriteError{Name: name, Error: "failed to persist setting"})
			continue
		}
		updated = append(updated, Update{Name: name, NewValue: normalized})
	}

	if len(updated) > 0 {
		s.Invalidate()
	}
	return updated, errs
}

// coerce normalizes a JSON-decoded value to the canonical stored string.
func coerce(def definition, value any) (string, error) {
	switch def.typ {
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return strconv.FormatBool(v), nil
		case string:
			if v == "true" || v == "false" {
				return v, nil
			}
		}
		return "", fmt.Errorf("expected boolean")

	case TypeNumber:
		var n int64
		switch v := value.(type) {
		case float64:
			if v != float64(int64(v)) {
				return "", fmt.Errorf("expected integer")
			}
			n = int64(v)
		case int:
			n = int64(v)
		case int64:
			n = v
		case string:
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return "", fmt.Errorf("expected integer")
			}
			n = parsed
		default:
			return "", fmt.Errorf("expected integer")
		}
		if n < def.min {
			return "", fmt.Errorf("must be at least %d", def.min)
		}
		return strconv.FormatInt(n, 10), nil

	case TypeString:
		v, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("expected string")
		}
		for _, allowed := range def.oneOf {
			if v == allowed {
				return v, nil
			}
		}
		return "", fmt.Errorf("must be one of %v", def.oneOf)
	}
	return "", fmt.Errorf("unknown setting type %q", def.typ)
}
