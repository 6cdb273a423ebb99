// Package bridge drives a provider's embedded web remote. It injects a
// small script into the page, sends it commands through Eval, and receives
// results asynchronously as tagged JSON messages over a runtime binding.
// All timing-sensitive behavior lives here: the digit key cadence, the
// watchdog that clears a wedged change, and the probe timeouts.
package bridge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

//go:embed remote.js
var remoteJS string

const (
	probeReadyJS = "() => window.__rzRemote && window.__rzRemote.probeReady()"
	probeAuthJS  = "() => window.__rzRemote && window.__rzRemote.probeAuth()"
)

// Surface is the minimal contract the bridge needs from a browser page:
// evaluate script, stream binding payloads, report liveness.
type Surface interface {
	Eval(ctx context.Context, js string) error
	Inbound() <-chan []byte
	Alive() bool
	Close() error
}

// State is the bridge's view of the control surface.
type State int32

const (
	StateLoading State = iota
	StateReadinessUnknown
	StateNeedsAuth
	StateReady
	StateBusy
	StateLost
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReadinessUnknown:
		return "readiness_unknown"
	case StateNeedsAuth:
		return "needs_auth"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Config tunes the bridge's timing. Zero values take the defaults noted.
type Config struct {
	// DigitInterval spaces consecutive digit presses. Default: 400ms.
	DigitInterval time.Duration `yaml:"digit_interval"`
	// EnterDelay is the extra pause between the last digit slot and the
	// terminator press. Default: 300ms.
	EnterDelay time.Duration `yaml:"enter_delay"`
	// WatchdogSlack is how long after the terminator's slot the watchdog
	// waits before force-clearing a change that never confirmed.
	// Default: 500ms.
	WatchdogSlack time.Duration `yaml:"watchdog_slack"`
	// ProbeTimeout bounds the wait for a probe answer. Default: 2s.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// LoadSettle is the pause after navigation before the first probe,
	// letting the remote app mount. Default: 3s.
	LoadSettle time.Duration `yaml:"load_settle"`
	// AuthSettle is the pause between the readiness probe and the
	// authentication probe. Default: 2s.
	AuthSettle time.Duration `yaml:"auth_settle"`
	// Retry governs ChangeChannelWait's not-ready retries.
	Retry Policy `yaml:"retry"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.DigitInterval <= 0 {
		c.DigitInterval = 400 * time.Millisecond
	}
	if c.EnterDelay <= 0 {
		c.EnterDelay = 300 * time.Millisecond
	}
	if c.WatchdogSlack <= 0 {
		c.WatchdogSlack = 500 * time.Millisecond
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.LoadSettle <= 0 {
		c.LoadSettle = 3 * time.Second
	}
	if c.AuthSettle <= 0 {
		c.AuthSettle = 2 * time.Second
	}
	c.Retry.defaults()
}

// changeOp is one in-flight channel change.
type changeOp struct {
	channel  int
	done     chan error
	watchdog *time.Timer
}

// Bridge owns one control surface. Commands are fire-and-forget Evals;
// results arrive on the surface's inbound stream and are matched to the
// single pending operation or probe.
type Bridge struct {
	surface Surface
	cfg     Config
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	authed   atomic.Bool
	inFlight atomic.Bool

	mu          sync.Mutex
	readinessCh chan ReadinessResult // pending readiness probe, nil when none
	authCh      chan Message         // pending auth probe, nil when none
	op          *changeOp
	scheduled   []*time.Timer
}

// New wraps a surface and starts the inbound dispatch loop. The caller is
// expected to run Open before issuing channel changes.
func New(surface Surface, cfg Config) *Bridge {
	cfg.defaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		surface: surface,
		cfg:     cfg,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	b.state.Store(int32(StateLoading))
	go b.dispatch()
	return b
}

// Close stops the dispatch loop, fails any pending change, and closes the
// underlying surface.
func (b *Bridge) Close() error {
	b.cancel()
	b.resolveOp(ErrSessionLost)
	b.mu.Lock()
	b.cancelScheduledLocked()
	b.mu.Unlock()
	return b.surface.Close()
}

// State returns the current surface state.
func (b *Bridge) State() State { return State(b.state.Load()) }

// Authenticated reports whether the surface has shown its digit controls.
func (b *Bridge) Authenticated() bool { return b.authed.Load() }

// Alive reports whether the page behind the surface still answers.
func (b *Bridge) Alive() bool {
	return b.State() != StateLost && b.surface.Alive()
}

func (b *Bridge) setState(s State) { b.state.Store(int32(s)) }

// Open runs the post-navigation sequence: settle, inject, probe readiness,
// settle again, classify authentication. It leaves the bridge in Ready or
// NeedsAuth (or returns an error).
func (b *Bridge) Open(ctx context.Context) error {
	b.setState(StateLoading)
	// The remote is a client-rendered app; give it time to mount before
	// the first probe.
	if err := sleepCtx(ctx, b.cfg.LoadSettle); err != nil {
		return err
	}
	if err := b.Inject(ctx); err != nil {
		return err
	}
	b.setState(StateReadinessUnknown)
	if _, err := b.ProbeReadiness(ctx); err != nil {
		return err
	}
	// Authentication markers can lag readiness.
	if err := sleepCtx(ctx, b.cfg.AuthSettle); err != nil {
		return err
	}
	if _, err := b.CheckAuth(ctx); err != nil {
		var pt *ProbeTimeoutError
		if errors.As(err, &pt) {
			// Unanswered auth probe: stay in NeedsAuth, the operator can
			// re-check after signing in.
			return nil
		}
		return err
	}
	return nil
}

// Inject evaluates the embedded remote script in the page. Safe to repeat.
func (b *Bridge) Inject(ctx context.Context) error {
	if err := b.surface.Eval(ctx, remoteJS); err != nil {
		if sessionLost(err) {
			b.markLost()
			return ErrSessionLost
		}
		return fmt.Errorf("bridge: inject remote script: %w", err)
	}
	return nil
}

// ProbeReadiness asks the surface whether it is mounted and shows controls.
// An unanswered probe resolves optimistically as ready-but-unauthenticated:
// blocking forever on a page that swallowed the probe helps nobody.
func (b *Bridge) ProbeReadiness(ctx context.Context) (ReadinessResult, error) {
	ch := make(chan ReadinessResult, 1)
	b.mu.Lock()
	if b.readinessCh != nil {
		b.mu.Unlock()
		return ReadinessResult{}, errors.New("bridge: readiness probe already pending")
	}
	b.readinessCh = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.readinessCh = nil
		b.mu.Unlock()
	}()

	if err := b.surface.Eval(ctx, probeReadyJS); err != nil {
		if sessionLost(err) {
			b.markLost()
			return ReadinessResult{}, ErrSessionLost
		}
		return ReadinessResult{}, fmt.Errorf("bridge: readiness probe: %w", err)
	}

	timer := time.NewTimer(b.cfg.ProbeTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Ready {
			if res.Authenticated {
				b.setState(StateReady)
			} else {
				b.setState(StateNeedsAuth)
			}
		}
		return res, nil
	case <-timer.C:
		b.logger.Warn("bridge: readiness probe unanswered, assuming ready")
		b.setState(StateNeedsAuth)
		return ReadinessResult{Ready: true, Authenticated: false}, nil
	case <-ctx.Done():
		return ReadinessResult{}, ctx.Err()
	}
}

// CheckAuth probes the surface and classifies the answer: authenticated,
// needs sign-in, or inconclusive (logged, treated as not yet signed in).
func (b *Bridge) CheckAuth(ctx context.Context) (bool, error) {
	ch := make(chan Message, 1)
	b.mu.Lock()
	if b.authCh != nil {
		b.mu.Unlock()
		return false, errors.New("bridge: auth probe already pending")
	}
	b.authCh = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.authCh = nil
		b.mu.Unlock()
	}()

	if err := b.surface.Eval(ctx, probeAuthJS); err != nil {
		if sessionLost(err) {
			b.markLost()
			return false, ErrSessionLost
		}
		return false, fmt.Errorf("bridge: auth probe: %w", err)
	}

	timer := time.NewTimer(b.cfg.ProbeTimeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		switch msg.(type) {
		case Authenticated:
			return true, nil
		case NeedsAuth:
			return false, nil
		default:
			b.setState(StateNeedsAuth)
			return false, nil
		}
	case <-timer.C:
		b.setState(StateNeedsAuth)
		return false, &ProbeTimeoutError{Probe: "auth"}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ChangeChannel runs one attempt: schedule the digit presses and the
// terminator on their fixed offsets, arm the watchdog, and wait for the
// terminal message. At most one change runs at a time; a concurrent call
// fails fast with ErrAlreadyInFlight rather than queueing.
func (b *Bridge) ChangeChannel(ctx context.Context, channel int) error {
	plan, err := keyPlan(channel, b.cfg.DigitInterval, b.cfg.EnterDelay)
	if err != nil {
		return err
	}

	switch b.State() {
	case StateLost:
		return ErrSessionLost
	case StateBusy:
		return ErrAlreadyInFlight
	case StateNeedsAuth:
		return ErrNotAuthenticated
	}
	if !b.authed.Load() {
		return ErrNotAuthenticated
	}
	if b.State() != StateReady {
		return ErrNotReady
	}
	if !b.inFlight.CompareAndSwap(false, true) {
		return ErrAlreadyInFlight
	}
	b.setState(StateBusy)

	op := &changeOp{channel: channel, done: make(chan error, 1)}
	b.mu.Lock()
	// Presses left over from an older sequence must not interleave with
	// this one. Stopping a fired timer is a no-op, so only unfired presses
	// are cancelled.
	b.cancelScheduledLocked()
	b.op = op
	for _, kp := range plan {
		kp := kp
		b.scheduled = append(b.scheduled, time.AfterFunc(kp.At, func() {
			b.press(kp.Code, channel)
		}))
	}
	deadline := plan[len(plan)-1].At + b.cfg.WatchdogSlack
	op.watchdog = time.AfterFunc(deadline, func() { b.expire(op) })
	b.mu.Unlock()

	b.logger.Info("bridge: channel change started", "channel", channel, "presses", len(plan))

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		b.finish(op, ctx.Err())
		return ctx.Err()
	}
}

// ChangeChannelWait wraps ChangeChannel in the not-ready retry policy: one
// immediate attempt, then fixed-interval retries while the surface reports
// not ready. On exhaustion it returns a NotReadyError carrying the operator
// recovery action. All other errors pass through unchanged.
func (b *Bridge) ChangeChannelWait(ctx context.Context, channel int) error {
	attempts := 0
	err := b.cfg.Retry.Do(ctx, func() error {
		attempts++
		return b.ChangeChannel(ctx, channel)
	}, func(err error) bool {
		return errors.Is(err, ErrNotReady)
	})
	if errors.Is(err, ErrNotReady) {
		return &NotReadyError{Attempts: attempts}
	}
	return err
}

// dispatch reads the surface's inbound stream until it closes or the
// bridge shuts down. A closed stream means the page is gone.
func (b *Bridge) dispatch() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case data, ok := <-b.surface.Inbound():
			if !ok {
				b.markLost()
				return
			}
			msg, err := decodeMessage(data)
			if err != nil {
				b.logger.Warn("bridge: dropping undecodable message", "error", err)
				continue
			}
			b.handle(msg)
		}
	}
}

func (b *Bridge) handle(msg Message) {
	switch m := msg.(type) {
	case ReadinessResult:
		b.authed.Store(m.Authenticated)
		b.deliverReadiness(m)
	case Authenticated:
		b.authed.Store(true)
		if st := b.State(); st != StateBusy && st != StateLost {
			b.setState(StateReady)
		}
		b.deliverAuth(m)
	case NeedsAuth:
		b.authed.Store(false)
		if b.State() != StateLost {
			b.setState(StateNeedsAuth)
		}
		b.deliverAuth(m)
	case AuthInconclusive:
		b.logger.Warn("bridge: auth probe inconclusive", "snippet", m.Snippet)
		b.deliverAuth(m)
	case ControlClicked:
		b.logger.Debug("bridge: control clicked", "code", m.Code, "ts", m.Timestamp)
	case ControlNotFound:
		b.logger.Warn("bridge: control not found", "code", m.Code, "available", len(m.Available))
		if m.Code == terminatorCode {
			// A missing digit still gets its terminator (the surface may
			// have re-rendered), but a missing terminator ends the change.
			b.resolveOp(&ControlNotFoundError{Code: m.Code, Available: m.Available})
		}
	case ControlClickError:
		b.logger.Warn("bridge: control activation failed", "code", m.Code, "reason", m.Reason)
	case ChannelChanged:
		b.logger.Info("bridge: channel change confirmed", "channel", m.Channel)
		b.resolveOp(nil)
	case ChannelChangeError:
		b.resolveOp(&ChangeFailedError{Channel: m.Channel, Reason: m.Reason})
	}
}

func (b *Bridge) deliverReadiness(res ReadinessResult) {
	b.mu.Lock()
	ch := b.readinessCh
	b.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

func (b *Bridge) deliverAuth(msg Message) {
	b.mu.Lock()
	ch := b.authCh
	b.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// press evaluates one control activation. Failures never fail the change
// directly: the surface reports outcomes on the message stream and the
// watchdog covers silence. Platform noise is suppressed, session loss is
// terminal.
func (b *Bridge) press(code string, channel int) {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.ProbeTimeout)
	defer cancel()
	js := fmt.Sprintf("() => window.__rzRemote && window.__rzRemote.press(%q, %d)", code, channel)
	if err := b.surface.Eval(ctx, js); err != nil {
		switch {
		case sessionLost(err):
			b.markLost()
		case transientNoise(err):
			b.logger.Debug("bridge: suppressed platform noise", "code", code, "error", err)
		default:
			b.logger.Warn("bridge: key press eval failed", "code", code, "error", err)
		}
	}
}

// expire is the watchdog path: the terminal message never arrived, so the
// busy flag is force-cleared and the change fails with a timeout. Without
// this a lost confirmation would wedge the bridge permanently.
func (b *Bridge) expire(op *changeOp) {
	b.logger.Warn("bridge: channel change watchdog fired", "channel", op.channel)
	b.finish(op, &ChangeTimeoutError{Channel: op.channel})
}

// resolveOp finishes the current operation, if any.
func (b *Bridge) resolveOp(err error) {
	b.mu.Lock()
	op := b.op
	b.mu.Unlock()
	if op == nil {
		return
	}
	b.finish(op, err)
}

// finish settles op exactly once: the watchdog, a terminal message, context
// cancellation, and Close all funnel through here, and only the first wins.
func (b *Bridge) finish(op *changeOp, err error) {
	b.mu.Lock()
	if b.op != op {
		b.mu.Unlock()
		return
	}
	b.op = nil
	op.watchdog.Stop()
	b.cancelScheduledLocked()
	b.mu.Unlock()

	b.inFlight.Store(false)
	if b.State() == StateBusy {
		b.setState(StateReady)
	}
	select {
	case op.done <- err:
	default:
	}
}

// cancelScheduledLocked stops unfired press timers. Fired ones already ran;
// Stop on them is a no-op.
func (b *Bridge) cancelScheduledLocked() {
	for _, t := range b.scheduled {
		t.Stop()
	}
	b.scheduled = b.scheduled[:0]
}

// markLost transitions to Lost once, clears authentication, and fails any
// pending change. Recovery requires a fresh surface.
func (b *Bridge) markLost() {
	if State(b.state.Swap(int32(StateLost))) == StateLost {
		return
	}
	b.authed.Store(false)
	b.logger.Error("bridge: control surface lost")
	b.resolveOp(ErrSessionLost)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
