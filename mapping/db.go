package mapping

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Open opens the mappings database at path with production-safe pragmas
// (WAL, busy_timeout, foreign_keys) and initialises the schema. Parent
// directories are created as needed.
//
// The caller must blank-import an SQLite driver:
//
//	import _ "modernc.org/sqlite"
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mapping: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("mapping: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("mapping: %s: %w", p, err)
		}
	}

	st := NewStore(db)
	if err := st.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}
