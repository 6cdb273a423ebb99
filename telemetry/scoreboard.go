package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultScoreboardURL = "https://site.api.espn.com/apis/site/v2/sports/football/nfl/scoreboard"

// ScoreboardClient reads a scoreboard-style JSON endpoint and converts each
// event into a Snapshot. It implements Source.
type ScoreboardClient struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// ClientOption customises a ScoreboardClient.
type ClientOption func(*ScoreboardClient)

// WithHTTPClient overrides the default HTTP client (10s timeout).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(s *ScoreboardClient) { s.client = c }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(s *ScoreboardClient) { s.logger = l }
}

// NewScoreboardClient creates a client for the given scoreboard URL.
// An empty URL selects the default NFL scoreboard.
func NewScoreboardClient(url string, opts ...ClientOption) *ScoreboardClient {
	if url == "" {
		url = defaultScoreboardURL
	}
	s := &ScoreboardClient{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Wire types for the scoreboard payload. Only the fields we read.
type scoreboardDoc struct {
	Events []scoreboardEvent `json:"events"`
}

type scoreboardEvent struct {
	ID           string `json:"id"`
	Competitions []struct {
		Competitors []struct {
			HomeAway string `json:"homeAway"`
			Score    string `json:"score"`
			Team     struct {
				ID          string `json:"id"`
				DisplayName string `json:"displayName"`
			} `json:"team"`
		} `json:"competitors"`
		Status    eventStatus `json:"status"`
		Situation *situation  `json:"situation"`
	} `json:"competitions"`
	Status eventStatus `json:"status"`
}

type eventStatus struct {
	Period       int    `json:"period"`
	DisplayClock string `json:"displayClock"`
	Type         struct {
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"type"`
}

type situation struct {
	Down       int    `json:"down"`
	Distance   int    `json:"distance"`
	IsRedZone  bool   `json:"isRedZone"`
	Possession string `json:"possession"`
	LastPlay   *struct {
		ID         string `json:"id"`
		Text       string `json:"text"`
		ScoreValue int    `json:"scoreValue"`
		Type       struct {
			Text string `json:"text"`
		} `json:"type"`
		End struct {
			YardsToEndzone int `json:"yardsToEndzone"`
		} `json:"end"`
	} `json:"lastPlay"`
}

// Snapshots fetches the scoreboard once and returns one Snapshot per event.
func (s *ScoreboardClient) Snapshots(ctx context.Context) ([]Snapshot, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(doc.Events))
	for _, ev := range doc.Events {
		snaps = append(snaps, snapshotFromEvent(ev))
	}
	return snaps, nil
}

// Contests fetches the scoreboard once and returns today's schedule.
func (s *ScoreboardClient) Contests(ctx context.Context) ([]Contest, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Contest, 0, len(doc.Events))
	for _, ev := range doc.Events {
		c := Contest{
			ID:     ev.ID,
			Status: ev.Status.Type.Name,
			Live:   ev.Status.Type.State == "in",
		}
		if len(ev.Competitions) > 0 {
			for _, comp := range ev.Competitions[0].Competitors {
				if comp.HomeAway == "home" {
					c.HomeTeam = comp.Team.DisplayName
				} else {
					c.AwayTeam = comp.Team.DisplayName
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *ScoreboardClient) fetch(ctx context.Context) (*scoreboardDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetry: fetch scoreboard: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telemetry: scoreboard status %d", resp.StatusCode)
	}

	var doc scoreboardDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("telemetry: decode scoreboard: %w", err)
	}
	return &doc, nil
}

func snapshotFromEvent(ev scoreboardEvent) Snapshot {
	snap := Snapshot{ContestID: ev.ID}
	if len(ev.Competitions) == 0 {
		return snap
	}
	comp := ev.Competitions[0]

	snap.Live = comp.Status.Type.State == "in"
	snap.Period = comp.Status.Period
	snap.ClockSec = parseClock(comp.Status.DisplayClock)

	for _, c := range comp.Competitors {
		score, _ := strconv.Atoi(c.Score)
		if c.HomeAway == "home" {
			snap.HomeScore = score
		} else {
			snap.AwayScore = score
		}
	}

	if sit := comp.Situation; sit != nil {
		if sit.Down > 0 {
			down := sit.Down
			dist := sit.Distance
			snap.Down = &down
			snap.Distance = &dist
		}
		if sit.Possession != "" {
			poss := sit.Possession
			snap.Possession = &poss
		}
		if lp := sit.LastPlay; lp != nil {
			if lp.ID != "" {
				marker := lp.ID
				snap.PlayMarker = &marker
			}
			snap.Timeout = isTimeoutPlay(lp.Type.Text) || isTimeoutPlay(lp.Text)
			snap.ScoreChanged = lp.ScoreValue > 0
			if lp.End.YardsToEndzone > 0 {
				yds := lp.End.YardsToEndzone
				snap.DistanceToGoal = &yds
			} else if sit.IsRedZone {
				// Provider marks the red zone without a drive position.
				yds := 20
				snap.DistanceToGoal = &yds
			}
		}
	}

	snap.Started = snap.Period > 0 || snap.Down != nil ||
		snap.HomeScore > 0 || snap.AwayScore > 0 || snap.PlayMarker != nil
	snap.Excitement = excitement(snap.HomeScore, snap.AwayScore, snap.Period, snap.ClockSec)
	return snap
}

func isTimeoutPlay(text string) bool {
	return strings.Contains(strings.ToLower(text), "timeout")
}

// parseClock converts a "MM:SS" display clock into seconds. Malformed input
// yields 0, matching an expired clock.
func parseClock(display string) int {
	mm, ss, ok := strings.Cut(display, ":")
	if !ok {
		return 0
	}
	m, err1 := strconv.Atoi(strings.TrimSpace(mm))
	s, err2 := strconv.Atoi(strings.TrimSpace(ss))
	if err1 != nil || err2 != nil || m < 0 || s < 0 {
		return 0
	}
	return m*60 + s
}

// excitement scores how watchable a contest currently is. Close games, high
// totals, and a running-out fourth-quarter clock all add points.
func excitement(home, away, period, clockSec int) float64 {
	diff := home - away
	if diff < 0 {
		diff = -diff
	}
	total := home + away
	minutes := float64(clockSec) / 60

	var score float64
	if diff <= 10 {
		score += float64(10-diff) * 2
	}
	if total > 40 {
		score += float64(total-40) * 0.5
	}
	if period == 4 && minutes <= 15 {
		score += (15 - minutes) * 3
	}
	return score
}
