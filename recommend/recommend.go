// Package recommend turns noisy per-contest telemetry into one stable channel
// choice. The pure engine filters and scores each tick's snapshots; the
// Applier wraps it with hysteresis so the tuned channel does not flap; the
// Monitor runs the tick loop and drives the actuation path.
package recommend

import (
	"time"

	"github.com/hazyhaar/redzone/mapping"
	"github.com/hazyhaar/redzone/telemetry"
)

// Config tunes the engine and the application policy.
type Config struct {
	// TieBreakThreshold is the excitement range below which priority bonuses
	// participate in scoring. Default: 30.
	TieBreakThreshold float64 `yaml:"tie_break_threshold"`
	// StuckThreshold is how long a final-down contest may go without a play
	// update before it is considered stalled. Default: 60s.
	StuckThreshold time.Duration `yaml:"stuck_threshold"`
	// FinalDown is the last down of a set. Default: 4.
	FinalDown int `yaml:"final_down"`
	// Stability is how long a recommendation must persist unchanged before
	// it may be applied. Default: 30s.
	Stability time.Duration `yaml:"stability"`
	// Cooldown is the minimum spacing between applied changes. Default: 30s.
	Cooldown time.Duration `yaml:"cooldown"`
}

func (c *Config) defaults() {
	if c.TieBreakThreshold <= 0 {
		c.TieBreakThreshold = 30
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = 60 * time.Second
	}
	if c.FinalDown <= 0 {
		c.FinalDown = 4
	}
	if c.Stability <= 0 {
		c.Stability = 30 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
}

// seenContest is the last-seen play state for one contest, used to detect
// whether telemetry has actually advanced since the previous tick.
type seenContest struct {
	down           *int
	distance       *int
	playMarker     *string
	timeout        bool
	scoreChanged   bool
	lastPlayUpdate time.Time
}

// Engine is the pure recommendation function. It holds no state of its own;
// per-session state lives in the Applier.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// Evaluate computes the single best channel for this tick. It is
// deterministic: identical inputs always yield the same result. ok is false
// when no live, started, mapped contest exists.
func (e *Engine) Evaluate(snaps []telemetry.Snapshot, mapped map[string]mapping.Mapping, seen map[string]seenContest, now time.Time) (channel int, ok bool) {
	// Candidate filter: live, mapped, and actually underway.
	var eligible []telemetry.Snapshot
	for _, s := range snaps {
		if !s.Live || !s.Started {
			continue
		}
		if _, found := mapped[s.ContestID]; !found {
			continue
		}
		eligible = append(eligible, s)
	}
	if len(eligible) == 0 {
		return 0, false
	}

	// Activity filter: drop contests sitting in dead time.
	var active []telemetry.Snapshot
	for _, s := range eligible {
		prev, known := seen[s.ContestID]
		fresh := !known || newPlayDetected(s, prev)

		if !fresh && (s.Timeout || s.ScoreChanged) {
			continue
		}
		if !fresh && known && s.Down != nil && *s.Down == e.cfg.FinalDown &&
			now.Sub(prev.lastPlayUpdate) > e.cfg.StuckThreshold {
			continue
		}
		active = append(active, s)
	}

	// Fallback: everything is in dead time, hold the highest-priority game.
	if len(active) == 0 {
		best := eligible[0]
		for _, s := range eligible[1:] {
			if mapped[s.ContestID].Priority < mapped[best.ContestID].Priority {
				best = s
			}
		}
		return mapped[best.ContestID].Channel, true
	}

	// Scoring: when excitement alone cannot separate the field, priority
	// breaks the tie.
	lo, hi := active[0].Excitement, active[0].Excitement
	for _, s := range active[1:] {
		if s.Excitement < lo {
			lo = s.Excitement
		}
		if s.Excitement > hi {
			hi = s.Excitement
		}
	}
	usePriority := hi-lo < e.cfg.TieBreakThreshold

	winner := active[0]
	winScore := e.combined(active[0], mapped, usePriority)
	for _, s := range active[1:] {
		if sc := e.combined(s, mapped, usePriority); sc > winScore {
			winner, winScore = s, sc
		}
	}
	return mapped[winner.ContestID].Channel, true
}

func (e *Engine) combined(s telemetry.Snapshot, mapped map[string]mapping.Mapping, usePriority bool) float64 {
	score := s.Excitement
	if usePriority {
		score += float64(10-mapped[s.ContestID].Priority) * 10
	}
	return score
}

// newPlayDetected reports whether telemetry advanced since the previous
// tick: the play marker moved, or down/distance changed (both known).
func newPlayDetected(s telemetry.Snapshot, prev seenContest) bool {
	if s.PlayMarker != nil {
		if prev.playMarker == nil || *s.PlayMarker != *prev.playMarker {
			return true
		}
	}
	if s.Down != nil && s.Distance != nil && prev.down != nil && prev.distance != nil {
		if *s.Down != *prev.down || *s.Distance != *prev.distance {
			return true
		}
	}
	return false
}
