package recommend

import (
	"testing"
	"time"

	"github.com/hazyhaar/redzone/mapping"
	"github.com/hazyhaar/redzone/telemetry"
)

// fakeClock drives an Applier tick by tick without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestApplier(cfg Config) (*Applier, *fakeClock) {
	a := NewApplier(cfg)
	clk := &fakeClock{t: time.Date(2026, 1, 4, 13, 0, 0, 0, time.UTC)}
	a.now = clk.now
	return a, clk
}

func twoGames(excA, excB float64) ([]telemetry.Snapshot, map[string]mapping.Mapping) {
	snaps := []telemetry.Snapshot{liveSnap("a", excA), liveSnap("b", excB)}
	maps := mapped(
		mapping.Mapping{ContestID: "a", Channel: 10, Priority: 1},
		mapping.Mapping{ContestID: "b", Channel: 20, Priority: 2},
	)
	return snaps, maps
}

func TestApplier_FirstCycleBypassesStabilityAndCooldown(t *testing.T) {
	// WHAT: The very first recommendation after monitoring starts is applied
	// immediately, with zero elapsed stability or cooldown time.
	a, _ := newTestApplier(Config{})
	snaps, maps := twoGames(50, 10)

	ch, apply := a.Tick(snaps, maps)
	if !apply || ch != 10 {
		t.Fatalf("first tick must apply channel 10, got %d (apply=%v)", ch, apply)
	}
}

func TestApplier_HysteresisRejectsFlapping(t *testing.T) {
	// WHAT: A recommendation toggling between two channels every tick never
	// accumulates the stability window and is never applied.
	a, clk := newTestApplier(Config{Stability: 30 * time.Second, Cooldown: 30 * time.Second})

	// Consume the first-cycle bypass.
	snaps, maps := twoGames(50, 10)
	if ch, apply := a.Tick(snaps, maps); !apply {
		t.Fatal("bypass tick must apply")
	} else {
		a.MarkApplied(ch)
	}

	// Flip the winner every 2s tick for two minutes.
	for i := 0; i < 60; i++ {
		clk.advance(2 * time.Second)
		if i%2 == 0 {
			snaps, maps = twoGames(10, 90)
		} else {
			snaps, maps = twoGames(90, 10)
		}
		if ch, apply := a.Tick(snaps, maps); apply {
			t.Fatalf("flapping recommendation applied at tick %d (channel %d)", i, ch)
		}
	}
}

func TestApplier_StableRecommendationAppliesAfterWindow(t *testing.T) {
	// WHAT: A recommendation that stays constant is applied once both the
	// stability window and the cooldown have elapsed, and not before.
	a, clk := newTestApplier(Config{Stability: 30 * time.Second, Cooldown: 30 * time.Second})

	snaps, maps := twoGames(50, 10)
	ch, _ := a.Tick(snaps, maps) // bypass
	a.MarkApplied(ch)

	// New stable winner on channel 20.
	snaps, maps = twoGames(10, 90)
	for elapsed := time.Duration(0); elapsed < 28*time.Second; elapsed += 2 * time.Second {
		clk.advance(2 * time.Second)
		if _, apply := a.Tick(snaps, maps); apply {
			t.Fatalf("applied before stability window at %v", elapsed)
		}
	}

	clk.advance(4 * time.Second) // past 30s stability and 30s cooldown
	ch, apply := a.Tick(snaps, maps)
	if !apply || ch != 20 {
		t.Fatalf("expected channel 20 applied, got %d (apply=%v)", ch, apply)
	}
}

func TestApplier_CooldownSuppressesSecondChange(t *testing.T) {
	// WHAT: Two eligible changes closer together than the cooldown — only
	// the first is applied.
	a, clk := newTestApplier(Config{Stability: 10 * time.Second, Cooldown: 60 * time.Second})

	snaps, maps := twoGames(50, 10)
	ch, _ := a.Tick(snaps, maps)
	a.MarkApplied(ch) // tuned=10, cooldown starts

	// Winner moves to channel 20 and stays stable past the window.
	snaps, maps = twoGames(10, 90)
	for i := 0; i < 10; i++ {
		clk.advance(2 * time.Second) // 20s total: stability met at 10s
		if _, apply := a.Tick(snaps, maps); apply {
			t.Fatalf("applied during cooldown at tick %d", i)
		}
	}

	clk.advance(50 * time.Second) // past the 60s cooldown
	ch, apply := a.Tick(snaps, maps)
	if !apply || ch != 20 {
		t.Fatalf("expected channel 20 after cooldown, got %d (apply=%v)", ch, apply)
	}
}

func TestApplier_FailedApplicationLeavesTimersUntouched(t *testing.T) {
	// WHAT: When actuation fails the caller skips MarkApplied, so the very
	// next tick re-offers the same channel.
	a, clk := newTestApplier(Config{Stability: 10 * time.Second, Cooldown: 10 * time.Second})

	snaps, maps := twoGames(50, 10)
	a.Tick(snaps, maps) // bypass consumed, application failed: no MarkApplied

	clk.advance(12 * time.Second)
	ch, apply := a.Tick(snaps, maps)
	if !apply || ch != 10 {
		t.Fatalf("expected retry of channel 10, got %d (apply=%v)", ch, apply)
	}
}

func TestApplier_NoChangeWhenAlreadyTuned(t *testing.T) {
	// WHAT: A stable recommendation equal to the tuned channel is not
	// re-applied.
	a, clk := newTestApplier(Config{Stability: 10 * time.Second, Cooldown: 10 * time.Second})

	snaps, maps := twoGames(50, 10)
	ch, _ := a.Tick(snaps, maps)
	a.MarkApplied(ch)

	for i := 0; i < 30; i++ {
		clk.advance(2 * time.Second)
		if _, apply := a.Tick(snaps, maps); apply {
			t.Fatalf("re-applied already-tuned channel at tick %d", i)
		}
	}
}

func TestApplier_ResetRestoresBypass(t *testing.T) {
	// WHAT: Stopping and restarting monitoring re-arms the first-cycle
	// bypass and clears recommendation state.
	a, clk := newTestApplier(Config{Stability: 30 * time.Second, Cooldown: 30 * time.Second})

	snaps, maps := twoGames(50, 10)
	ch, _ := a.Tick(snaps, maps)
	a.MarkApplied(ch)

	a.Reset()
	clk.advance(2 * time.Second)

	// Tuned survives reset, so re-recommending channel 10 does not apply;
	// a different winner applies immediately via the bypass.
	snaps, maps = twoGames(10, 90)
	ch, apply := a.Tick(snaps, maps)
	if !apply || ch != 20 {
		t.Fatalf("expected bypass after reset, got %d (apply=%v)", ch, apply)
	}
}
