package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/redzone/eventlog"
	"github.com/hazyhaar/redzone/mapping"
	"github.com/hazyhaar/redzone/telemetry"
)

// Actuator is the channel-change path exposed by the session orchestrator.
type Actuator interface {
	ChangeChannel(ctx context.Context, channel int) error
}

// MonitorConfig tunes the tick loop.
type MonitorConfig struct {
	// Interval is the poll frequency while monitoring is active. Default: 2s.
	Interval time.Duration `yaml:"interval"`
	Engine   Config        `yaml:"engine"`
}

func (c *MonitorConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
}

// Monitor runs the poll→recommend→actuate loop while monitoring is on.
type Monitor struct {
	source   telemetry.Source
	store    *mapping.Store
	actuator Actuator
	applier  *Applier
	cfg      MonitorConfig
	events   *eventlog.Log
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	// last tick's snapshots, for the status API.
	lastSnaps []telemetry.Snapshot
	// lastFailure dedupes the event-log entry while the same failure
	// repeats tick after tick.
	lastFailure string
}

// NewMonitor creates a Monitor. events may be nil.
func NewMonitor(source telemetry.Source, store *mapping.Store, actuator Actuator, cfg MonitorConfig, events *eventlog.Log, logger *slog.Logger) *Monitor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = eventlog.New(0)
	}
	return &Monitor{
		source:   source,
		store:    store,
		actuator: actuator,
		applier:  NewApplier(cfg.Engine),
		cfg:      cfg,
		events:   events,
		logger:   logger,
	}
}

// Start begins the tick loop. It is an error to start a running monitor.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("recommend: monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	go m.run(runCtx)

	m.events.Info("monitoring started")
	m.logger.Info("monitor: started", "interval", m.cfg.Interval)
	return nil
}

// Stop halts the loop and resets the per-session recommendation state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
	m.lastFailure = ""
	m.applier.Reset()
	m.events.Info("monitoring stopped")
	m.logger.Info("monitor: stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Tuned returns the channel the TV is believed to be on, 0 when unknown.
func (m *Monitor) Tuned() int { return m.applier.Tuned() }

// Recommended returns the current recommendation, 0 when none.
func (m *Monitor) Recommended() int { return m.applier.Recommended() }

// LastSnapshots returns the most recent tick's telemetry.
func (m *Monitor) LastSnapshots() []telemetry.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSnaps
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	// First evaluation happens immediately: the bypass rule wants a channel
	// change as soon as monitoring starts, not one interval later.
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	snaps, err := m.source.Snapshots(ctx)
	if err != nil {
		m.logger.Warn("monitor: telemetry fetch failed", "error", err)
		return
	}
	mapped, err := m.store.ByContest(ctx)
	if err != nil {
		m.logger.Warn("monitor: read mappings failed", "error", err)
		return
	}

	m.mu.Lock()
	m.lastSnaps = snaps
	m.mu.Unlock()

	ch, apply := m.applier.Tick(snaps, mapped)
	if !apply {
		return
	}

	if err := m.actuator.ChangeChannel(ctx, ch); err != nil {
		// Timers stay untouched: the next tick retries once constraints
		// are re-satisfied. The user sees one entry per distinct failure,
		// not one per tick.
		msg := fmt.Sprintf("channel change to %d failed: %v", ch, err)
		m.mu.Lock()
		repeat := msg == m.lastFailure
		m.lastFailure = msg
		m.mu.Unlock()
		if !repeat {
			m.events.Error(msg, recoveryOf(err))
		}
		m.logger.Warn("monitor: channel change failed", "channel", ch, "error", err)
		return
	}

	m.mu.Lock()
	m.lastFailure = ""
	m.mu.Unlock()
	m.applier.MarkApplied(ch)
	m.events.Info(fmt.Sprintf("tuned to channel %d", ch))
	m.logger.Info("monitor: channel applied", "channel", ch)
}

// recoveryOf extracts a user recovery action from an actuation error,
// when the error carries one.
func recoveryOf(err error) string {
	var r interface{ Recovery() string }
	if errors.As(err, &r) {
		return r.Recovery()
	}
	return ""
}
