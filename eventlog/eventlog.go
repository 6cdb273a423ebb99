// Package eventlog keeps a bounded in-memory ring of user-visible events.
// Failures along the actuation path are consolidated here as a single entry
// carrying a recovery action, and the HTTP API serves the recent tail.
package eventlog

import (
	"sync"
	"time"
)

// Level classifies an entry for display.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warning"
	LevelError Level = "error"
)

// Entry is one user-visible event. Recovery, when set, names the action the
// user can take (e.g. reopen the control surface).
type Entry struct {
	Time     time.Time `json:"time"`
	Level    Level     `json:"level"`
	Message  string    `json:"message"`
	Recovery string    `json:"recovery,omitempty"`
}

// Log is a fixed-capacity ring of entries. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	now     func() time.Time
}

// New creates a Log holding at most max entries. max <= 0 selects 100.
func New(max int) *Log {
	if max <= 0 {
		max = 100
	}
	return &Log{max: max, now: time.Now}
}

// Info records an informational entry.
func (l *Log) Info(msg string) { l.add(LevelInfo, msg, "") }

// Warn records a warning entry.
func (l *Log) Warn(msg string) { l.add(LevelWarn, msg, "") }

// Error records a failure, optionally with a recovery action.
func (l *Log) Error(msg, recovery string) { l.add(LevelError, msg, recovery) }

func (l *Log) add(level Level, msg, recovery string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		Time:     l.now(),
		Level:    level,
		Message:  msg,
		Recovery: recovery,
	})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Recent returns up to n entries, oldest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}
