package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const scoreboardFixture = `{
  "events": [
    {
      "id": "401547601",
      "status": {"period": 4, "displayClock": "7:31", "type": {"name": "STATUS_IN_PROGRESS", "state": "in"}},
      "competitions": [
        {
          "competitors": [
            {"homeAway": "home", "score": "24", "team": {"id": "6", "displayName": "Dallas Cowboys"}},
            {"homeAway": "away", "score": "21", "team": {"id": "28", "displayName": "Washington Commanders"}}
          ],
          "status": {"period": 4, "displayClock": "7:31", "type": {"name": "STATUS_IN_PROGRESS", "state": "in"}},
          "situation": {
            "down": 2,
            "distance": 7,
            "isRedZone": true,
            "possession": "28",
            "lastPlay": {
              "id": "4015476013172",
              "text": "Pass complete to the DAL 14 for 9 yards",
              "scoreValue": 0,
              "type": {"text": "Pass Reception"},
              "end": {"yardsToEndzone": 14}
            }
          }
        }
      ]
    },
    {
      "id": "401547602",
      "status": {"period": 0, "displayClock": "15:00", "type": {"name": "STATUS_SCHEDULED", "state": "pre"}},
      "competitions": [
        {
          "competitors": [
            {"homeAway": "home", "score": "0", "team": {"id": "7", "displayName": "Denver Broncos"}},
            {"homeAway": "away", "score": "0", "team": {"id": "11", "displayName": "Indianapolis Colts"}}
          ],
          "status": {"period": 0, "displayClock": "15:00", "type": {"name": "STATUS_SCHEDULED", "state": "pre"}}
        }
      ]
    },
    {
      "id": "401547603",
      "status": {"period": 2, "displayClock": "0:24", "type": {"name": "STATUS_IN_PROGRESS", "state": "in"}},
      "competitions": [
        {
          "competitors": [
            {"homeAway": "home", "score": "3", "team": {"id": "24", "displayName": "Los Angeles Chargers"}},
            {"homeAway": "away", "score": "10", "team": {"id": "19", "displayName": "New York Giants"}}
          ],
          "status": {"period": 2, "displayClock": "0:24", "type": {"name": "STATUS_IN_PROGRESS", "state": "in"}},
          "situation": {
            "down": 0,
            "distance": 0,
            "isRedZone": false,
            "possession": "",
            "lastPlay": {
              "id": "4015476032201",
              "text": "Timeout #2 by LAC at 00:24",
              "scoreValue": 0,
              "type": {"text": "Timeout"},
              "end": {"yardsToEndzone": 0}
            }
          }
        }
      ]
    }
  ]
}`

func fixtureClient(t *testing.T) *ScoreboardClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(scoreboardFixture))
	}))
	t.Cleanup(srv.Close)
	return NewScoreboardClient(srv.URL)
}

func TestSnapshots_DecodesLiveContest(t *testing.T) {
	// WHAT: A live in-progress event yields a fully populated Snapshot.
	// WHY: The recommendation engine depends on every derived field.
	snaps, err := fixtureClient(t).Snapshots(context.Background())
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}

	s := snaps[0]
	if s.ContestID != "401547601" {
		t.Errorf("contest id: %q", s.ContestID)
	}
	if !s.Live || !s.Started {
		t.Errorf("expected live+started, got live=%v started=%v", s.Live, s.Started)
	}
	if s.HomeScore != 24 || s.AwayScore != 21 {
		t.Errorf("scores: %d-%d", s.HomeScore, s.AwayScore)
	}
	if s.Period != 4 || s.ClockSec != 7*60+31 {
		t.Errorf("period=%d clock=%d", s.Period, s.ClockSec)
	}
	if s.Down == nil || *s.Down != 2 || s.Distance == nil || *s.Distance != 7 {
		t.Errorf("down/distance not decoded: %v %v", s.Down, s.Distance)
	}
	if s.PlayMarker == nil || *s.PlayMarker != "4015476013172" {
		t.Errorf("play marker: %v", s.PlayMarker)
	}
	if s.DistanceToGoal == nil || *s.DistanceToGoal != 14 {
		t.Errorf("distance to goal: %v", s.DistanceToGoal)
	}
	if s.Possession == nil || *s.Possession != "28" {
		t.Errorf("possession: %v", s.Possession)
	}
	if s.Timeout || s.ScoreChanged {
		t.Errorf("unexpected timeout/scoreChanged flags")
	}
}

func TestSnapshots_NotStartedAndTimeout(t *testing.T) {
	// WHAT: Pre-game events are not started; timeout plays set the flag.
	// WHY: Both gates feed the candidate and activity filters directly.
	snaps, err := fixtureClient(t).Snapshots(context.Background())
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}

	pre := snaps[1]
	if pre.Live || pre.Started {
		t.Errorf("scheduled game must not be live/started: live=%v started=%v", pre.Live, pre.Started)
	}
	if pre.Down != nil || pre.PlayMarker != nil {
		t.Errorf("scheduled game should carry no situation fields")
	}

	to := snaps[2]
	if !to.Timeout {
		t.Errorf("timeout play not detected")
	}
	if to.Down != nil {
		t.Errorf("down 0 must decode as nil, got %v", *to.Down)
	}
}

func TestExcitement_Formula(t *testing.T) {
	// WHAT: Excitement sums close-game, high-total, and late-Q4 bonuses.
	tests := []struct {
		name                      string
		home, away, period, clock int
		want                      float64
	}{
		{"blowout early", 28, 0, 2, 600, 0},
		{"tied game", 10, 10, 1, 600, 20},
		{"high scoring", 31, 24, 3, 600, (10-7)*2 + (55-40)*0.5},
		{"late fourth quarter", 24, 21, 4, 120, (10-3)*2 + (45-40)*0.5 + (15-2)*3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := excitement(tt.home, tt.away, tt.period, tt.clock)
			if got != tt.want {
				t.Errorf("excitement(%d,%d,q%d,%ds) = %v, want %v",
					tt.home, tt.away, tt.period, tt.clock, got, tt.want)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"12:34", 754},
		{"0:00", 0},
		{"15:00", 900},
		{"", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseClock(tt.in); got != tt.want {
			t.Errorf("parseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestContests_Schedule(t *testing.T) {
	// WHAT: Contests returns every event with team names and live flag.
	contests, err := fixtureClient(t).Contests(context.Background())
	if err != nil {
		t.Fatalf("Contests: %v", err)
	}
	if len(contests) != 3 {
		t.Fatalf("expected 3 contests, got %d", len(contests))
	}
	if contests[0].HomeTeam != "Dallas Cowboys" || contests[0].AwayTeam != "Washington Commanders" {
		t.Errorf("teams: %q vs %q", contests[0].AwayTeam, contests[0].HomeTeam)
	}
	if !contests[0].Live || contests[1].Live {
		t.Errorf("live flags wrong: %v %v", contests[0].Live, contests[1].Live)
	}
}
