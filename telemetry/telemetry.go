// Package telemetry supplies per-contest telemetry from a sports data
// provider. Each poll tick yields a fresh, immutable set of Snapshot records;
// nothing in this package mutates a snapshot after it is built.
//
// The provider is explicitly allowed to be slow or stale — consumers detect
// staleness themselves by comparing play markers across ticks.
package telemetry

import "context"

// Snapshot is one contest's telemetry at a single poll tick. Pointer fields
// are nullable: the provider omits them when the contest has no active drive.
type Snapshot struct {
	ContestID string `json:"contest_id"`

	Live    bool `json:"live"`
	Started bool `json:"started"`

	HomeScore int `json:"home_score"`
	AwayScore int `json:"away_score"`
	Period    int `json:"period"`
	ClockSec  int `json:"clock_sec"`

	// Down and Distance describe the current set of downs, when known.
	Down     *int `json:"down,omitempty"`
	Distance *int `json:"distance,omitempty"`

	// PlayMarker identifies the most recent play. It increases monotonically
	// within a contest; a changed marker means a new play happened.
	PlayMarker *string `json:"play_marker,omitempty"`

	// Timeout is set while the last play is a charged or official timeout.
	Timeout bool `json:"timeout"`

	// ScoreChanged is set when the last play was a scoring play.
	ScoreChanged bool `json:"score_changed"`

	// DistanceToGoal is the offense's yards to the end zone, when known.
	DistanceToGoal *int `json:"distance_to_goal,omitempty"`

	// Excitement is the provider-side desirability score. Opaque to
	// consumers: only relative magnitude matters.
	Excitement float64 `json:"excitement"`

	// Possession is the id of the team with the ball, when known.
	Possession *string `json:"possession,omitempty"`
}

// Contest is a scheduled or live contest, used when assigning channels.
type Contest struct {
	ID       string `json:"id"`
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
	Status   string `json:"status"`
	Live     bool   `json:"live"`
}

// Source supplies telemetry on demand. Implementations must return a fresh
// snapshot slice per call.
type Source interface {
	// Snapshots returns telemetry for every contest on today's board.
	Snapshots(ctx context.Context) ([]Snapshot, error)
	// Contests returns today's schedule, live or not.
	Contests(ctx context.Context) ([]Contest, error)
}
