// Package mapping persists the user's contest→channel assignments and the
// selected provider. It is the only writer of this state; the recommendation
// engine holds a read-only view.
package mapping

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Mapping assigns one contest to a tunable channel. Priority 1 is highest.
type Mapping struct {
	ContestID string    `json:"contest_id"`
	Channel   int       `json:"channel"`
	Priority  int       `json:"priority"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store wraps the mappings database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store from an already-opened database. Callers normally
// use Open instead.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for lifecycle management.
func (s *Store) DB() *sql.DB { return s.db }

// Init creates the schema if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("mapping: init schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS mappings (
    contest_id TEXT PRIMARY KEY,
    channel    INTEGER NOT NULL,
    priority   INTEGER NOT NULL,
    home_team  TEXT NOT NULL DEFAULT '',
    away_team  TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// List returns all mappings ordered by priority, then channel.
func (s *Store) List(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contest_id, channel, priority, home_team, away_team, updated_at
		FROM mappings ORDER BY priority, channel`)
	if err != nil {
		return nil, fmt.Errorf("mapping: list: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		var updated int64
		if err := rows.Scan(&m.ContestID, &m.Channel, &m.Priority, &m.HomeTeam, &m.AwayTeam, &updated); err != nil {
			return nil, fmt.Errorf("mapping: scan: %w", err)
		}
		m.UpdatedAt = time.UnixMilli(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ByContest returns the mappings keyed by contest id, the shape the
// recommendation engine consumes.
func (s *Store) ByContest(ctx context.Context) (map[string]Mapping, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Mapping, len(list))
	for _, m := range list {
		byID[m.ContestID] = m
	}
	return byID, nil
}

// Upsert inserts or replaces the mapping for a contest.
func (s *Store) Upsert(ctx context.Context, m Mapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mappings (contest_id, channel, priority, home_team, away_team, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contest_id) DO UPDATE SET
			channel = excluded.channel,
			priority = excluded.priority,
			home_team = excluded.home_team,
			away_team = excluded.away_team,
			updated_at = excluded.updated_at`,
		m.ContestID, m.Channel, m.Priority, m.HomeTeam, m.AwayTeam, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mapping: upsert %s: %w", m.ContestID, err)
	}
	return nil
}

// Remove deletes one contest's mapping. Removing an absent contest is a no-op.
func (s *Store) Remove(ctx context.Context, contestID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mappings WHERE contest_id = ?`, contestID); err != nil {
		return fmt.Errorf("mapping: remove %s: %w", contestID, err)
	}
	return nil
}

// Clear deletes all mappings.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mappings`); err != nil {
		return fmt.Errorf("mapping: clear: %w", err)
	}
	return nil
}

// Provider returns the persisted provider id, or "" when none was selected.
func (s *Store) Provider(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'provider'`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("mapping: read provider: %w", err)
	}
	return id, nil
}

// SetProvider persists the selected provider id for next-launch restoration.
func (s *Store) SetProvider(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('provider', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, id)
	if err != nil {
		return fmt.Errorf("mapping: set provider: %w", err)
	}
	return nil
}
