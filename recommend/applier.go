package recommend

import (
	"sync"
	"time"

	"github.com/hazyhaar/redzone/mapping"
	"github.com/hazyhaar/redzone/telemetry"
)

// Applier wraps the pure engine with the application policy: a
// recommendation is acted on only once it has been stable for the stability
// window and the cooldown since the last applied change has elapsed. The
// very first recommendation after monitoring starts bypasses both.
//
// The recommended channel and the time it became recommended are always
// updated together under the same lock.
type Applier struct {
	engine *Engine
	cfg    Config
	now    func() time.Time

	mu            sync.Mutex
	recommended   int // 0 = none
	recommendedAt time.Time
	lastApplied   time.Time
	hasApplied    bool
	firstCycle    bool
	tuned         int // 0 = unknown
	seen          map[string]seenContest
}

// NewApplier creates an Applier for one monitoring session.
func NewApplier(cfg Config) *Applier {
	cfg.defaults()
	return &Applier{
		engine:     NewEngine(cfg),
		cfg:        cfg,
		now:        time.Now,
		firstCycle: true,
		seen:       make(map[string]seenContest),
	}
}

// Reset clears all per-session state. Called when monitoring stops.
// The tuned channel survives: the TV does not change when we stop watching.
func (a *Applier) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recommended = 0
	a.recommendedAt = time.Time{}
	a.lastApplied = time.Time{}
	a.hasApplied = false
	a.firstCycle = true
	a.seen = make(map[string]seenContest)
}

// Tick evaluates one poll cycle. When apply is true the caller should drive
// the actuation path with channel, then call MarkApplied on success. On
// failure the caller calls nothing: all timers stay untouched so the next
// tick can retry.
func (a *Applier) Tick(snaps []telemetry.Snapshot, mapped map[string]mapping.Mapping) (channel int, apply bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	ch, ok := a.engine.Evaluate(snaps, mapped, a.seen, now)
	a.updateSeen(snaps, now)

	if !ok {
		a.recommended = 0
		a.recommendedAt = time.Time{}
		return 0, false
	}

	if ch != a.recommended {
		a.recommended = ch
		a.recommendedAt = now
	}

	if a.firstCycle {
		a.firstCycle = false
		if ch != a.tuned {
			return ch, true
		}
		return 0, false
	}

	stable := now.Sub(a.recommendedAt) >= a.cfg.Stability
	cooled := !a.hasApplied || now.Sub(a.lastApplied) >= a.cfg.Cooldown
	if stable && cooled && ch != a.tuned {
		return ch, true
	}
	return 0, false
}

// MarkApplied records a successful channel change.
func (a *Applier) MarkApplied(channel int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tuned = channel
	a.lastApplied = a.now()
	a.hasApplied = true
}

// Tuned returns the channel the downstream TV is believed to be on,
// 0 when unknown.
func (a *Applier) Tuned() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tuned
}

// Recommended returns the current recommendation, 0 when none.
func (a *Applier) Recommended() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recommended
}

// updateSeen folds this tick's snapshots into the per-contest last-seen
// state. Must be called with a.mu held, after Evaluate consumed the
// previous tick's values.
func (a *Applier) updateSeen(snaps []telemetry.Snapshot, now time.Time) {
	for _, s := range snaps {
		prev, known := a.seen[s.ContestID]
		cur := seenContest{
			down:           s.Down,
			distance:       s.Distance,
			playMarker:     s.PlayMarker,
			timeout:        s.Timeout,
			scoreChanged:   s.ScoreChanged,
			lastPlayUpdate: prev.lastPlayUpdate,
		}
		if !known || newPlayDetected(s, prev) {
			cur.lastPlayUpdate = now
		}
		a.seen[s.ContestID] = cur
	}
}
