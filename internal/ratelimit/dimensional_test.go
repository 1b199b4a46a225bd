package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/suifx/faucet/internal/cache"
)

func newTestWindows(t *testing.T, opts ...WindowsOption) *Windows {
	t.Helper()
	c := cache.NewMemory()
	t.Cleanup(func() { _ = c.Close() })
	return NewWindows(c, opts...)
}

func TestCheckAdmitsWithinBounds(t *testing.T) {
	w := newTestWindows(t)
	ctx := context.Background()
	limits := []Limit{{Dimension: DimensionWallet, ID: "0xabc", Max: 2, Window: time.Minute}}

	for i := 0; i < 2; i++ {
		if exc := w.Check(ctx, limits); exc != nil {
			t.Fatalf("check %d denied: %+v", i+1, exc)
		}
	}

	exc := w.Check(ctx, limits)
	if exc == nil {
		t.Fatal("third check should be denied")
	}
	if exc.Dimension != DimensionWallet {
		t.Errorf("Dimension = %q, want wallet", exc.Dimension)
	}
	if exc.Count != 3 || exc.Max != 2 {
		t.Errorf("Count/Max = %d/%d, want 3/2", exc.Count, exc.Max)
	}
	if exc.RetryAfter <= 0 || exc.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within (0, 1m]", exc.RetryAfter)
	}
}

func TestCheckShortCircuits(t *testing.T) {
	w := newTestWindows(t)
	ctx := context.Background()
	limits := []Limit{
		{Dimension: DimensionWallet, ID: "0xabc", Max: 1, Window: time.Minute},
		{Dimension: DimensionIP, ID: "10.0.0.1", Max: 10, Window: time.Minute},
	}

	if exc := w.Check(ctx, limits); exc != nil {
		t.Fatalf("first check denied: %+v", exc)
	}
	if exc := w.Check(ctx, limits); exc == nil || exc.Dimension != DimensionWallet {
		t.Fatalf("second check: exceeded = %+v, want wallet denial", exc)
	}

	// The wallet denial must not have consumed an IP slot.
	if count, _ := w.Usage(ctx, DimensionIP, "10.0.0.1"); count != 1 {
		t.Errorf("ip count = %d, want 1 (no increment past the denied dimension)", count)
	}
}

func TestCheckGlobalDimension(t *testing.T) {
	w := newTestWindows(t)
	ctx := context.Background()

	// Distinct wallets share the global window.
	for i, wallet := range []string{"0xaaa", "0xbbb"} {
		limits := []Limit{
			{Dimension: DimensionWallet, ID: wallet, Max: 5, Window: time.Minute},
			{Dimension: DimensionGlobal, Max: 2, Window: time.Minute},
		}
		if exc := w.Check(ctx, limits); exc != nil {
			t.Fatalf("check %d denied: %+v", i+1, exc)
		}
	}

	limits := []Limit{
		{Dimension: DimensionWallet, ID: "0xccc", Max: 5, Window: time.Minute},
		{Dimension: DimensionGlobal, Max: 2, Window: time.Minute},
	}
	if exc := w.Check(ctx, limits); exc == nil || exc.Dimension != DimensionGlobal {
		t.Fatalf("exceeded = %+v, want global denial", exc)
	}
}

func TestCheckSkipsDisabledDimension(t *testing.T) {
	w := newTestWindows(t)
	ctx := context.Background()
	limits := []Limit{
		{Dimension: DimensionClient, ID: "client-1", Max: 0, Window: time.Minute},
		{Dimension: DimensionGlobal, Max: 100, Window: time.Minute},
	}

	for i := 0; i < 5; i++ {
		if exc := w.Check(ctx, limits); exc != nil {
			t.Fatalf("disabled dimension denied: %+v", exc)
		}
	}
	if count, _ := w.Usage(ctx, DimensionClient, "client-1"); count != 0 {
		t.Errorf("client count = %d, want 0 for a disabled dimension", count)
	}
}

func TestCheckRejectionCounter(t *testing.T) {
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_rate_limited_total"},
		[]string{"dimension"},
	)
	w := newTestWindows(t, WithRejectionCounter(vec))
	ctx := context.Background()
	limits := []Limit{{Dimension: DimensionIP, ID: "10.0.0.9", Max: 1, Window: time.Minute}}

	w.Check(ctx, limits)
	w.Check(ctx, limits)
	w.Check(ctx, limits)

	if got := testutil.ToFloat64(vec.WithLabelValues(DimensionIP)); got != 2 {
		t.Errorf("rejection counter = %v, want 2", got)
	}
}

func TestUsageAndReset(t *testing.T) {
	w := newTestWindows(t)
	ctx := context.Background()
	limits := []Limit{{Dimension: DimensionWallet, ID: "0xddd", Max: 10, Window: time.Minute}}

	w.Check(ctx, limits)
	w.Check(ctx, limits)

	count, ttl := w.Usage(ctx, DimensionWallet, "0xddd")
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if ttl <= 0 {
		t.Errorf("ttl = %v, want positive", ttl)
	}

	w.Reset(ctx, DimensionWallet, "0xddd")
	if count, _ := w.Usage(ctx, DimensionWallet, "0xddd"); count != 0 {
		t.Errorf("count after reset = %d, want 0", count)
	}
}
