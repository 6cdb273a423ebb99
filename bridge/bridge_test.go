package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSurface answers Evals from a scripted hook and lets tests post
// inbound messages as the page would.
type fakeSurface struct {
	mu     sync.Mutex
	evals  []string
	onEval func(js string)

	inbound   chan []byte
	closeOnce sync.Once
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{inbound: make(chan []byte, 16)}
}

func (f *fakeSurface) Eval(ctx context.Context, js string) error {
	f.mu.Lock()
	f.evals = append(f.evals, js)
	hook := f.onEval
	f.mu.Unlock()
	if hook != nil {
		hook(js)
	}
	return nil
}

func (f *fakeSurface) Inbound() <-chan []byte { return f.inbound }
func (f *fakeSurface) Alive() bool            { return true }

func (f *fakeSurface) Close() error {
	f.closeOnce.Do(func() { close(f.inbound) })
	return nil
}

func (f *fakeSurface) post(msg string) { f.inbound <- []byte(msg) }

func (f *fakeSurface) evaluated(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, js := range f.evals {
		if strings.Contains(js, substr) {
			return true
		}
	}
	return false
}

// fastConfig shrinks all timing so tests run in milliseconds.
func fastConfig() Config {
	return Config{
		DigitInterval: time.Millisecond,
		EnterDelay:    time.Millisecond,
		WatchdogSlack: 50 * time.Millisecond,
		ProbeTimeout:  50 * time.Millisecond,
		LoadSettle:    time.Millisecond,
		AuthSettle:    time.Millisecond,
		Retry:         Policy{Attempts: 3, Interval: time.Millisecond},
	}
}

// readyBridge returns a bridge already past the open sequence.
func readyBridge(t *testing.T, f *fakeSurface, cfg Config) *Bridge {
	t.Helper()
	b := New(f, cfg)
	t.Cleanup(func() { b.Close() })
	b.setState(StateReady)
	b.authed.Store(true)
	return b
}

func TestChangeChannel_ConfirmedByTerminalMessage(t *testing.T) {
	// WHAT: The change resolves when the surface posts channel_changed,
	// after all presses were evaluated in their slots.
	f := newFakeSurface()
	f.onEval = func(js string) {
		if strings.Contains(js, `"ENTER"`) {
			f.post(`{"type":"channel_changed","channel":516}`)
		}
	}
	b := readyBridge(t, f, fastConfig())

	if err := b.ChangeChannel(context.Background(), 516); err != nil {
		t.Fatal(err)
	}
	for _, code := range []string{"NUMBER_5", "NUMBER_1", "NUMBER_6", "ENTER"} {
		if !f.evaluated(`"` + code + `"`) {
			t.Errorf("press %s never evaluated", code)
		}
	}
	if got := b.State(); got != StateReady {
		t.Fatalf("state after success = %v, want ready", got)
	}
}

func TestChangeChannel_SurfaceErrorFailsChange(t *testing.T) {
	// WHAT: A channel_change_error message fails the change with the
	// surface's reason.
	f := newFakeSurface()
	f.onEval = func(js string) {
		if strings.Contains(js, `"ENTER"`) {
			f.post(`{"type":"channel_change_error","channel":7,"error":"terminator control not found"}`)
		}
	}
	b := readyBridge(t, f, fastConfig())

	err := b.ChangeChannel(context.Background(), 7)
	var cf *ChangeFailedError
	if !errors.As(err, &cf) || cf.Channel != 7 {
		t.Fatalf("got %v, want ChangeFailedError for channel 7", err)
	}
}

func TestChangeChannel_WatchdogForceClears(t *testing.T) {
	// WHAT: When no terminal message ever arrives the watchdog fails the
	// change and the bridge is usable again; a lost confirmation must not
	// wedge it.
	f := newFakeSurface()
	b := readyBridge(t, f, fastConfig())

	err := b.ChangeChannel(context.Background(), 42)
	var te *ChangeTimeoutError
	if !errors.As(err, &te) || te.Channel != 42 {
		t.Fatalf("got %v, want ChangeTimeoutError for channel 42", err)
	}
	if got := b.State(); got != StateReady {
		t.Fatalf("state after watchdog = %v, want ready", got)
	}

	// The next change goes through normally.
	f.mu.Lock()
	f.onEval = func(js string) {
		if strings.Contains(js, `"ENTER"`) {
			f.post(`{"type":"channel_changed","channel":9}`)
		}
	}
	f.mu.Unlock()
	if err := b.ChangeChannel(context.Background(), 9); err != nil {
		t.Fatalf("change after watchdog: %v", err)
	}
}

func TestChangeChannel_MutualExclusion(t *testing.T) {
	// WHAT: A second change during an in-flight one fails fast instead of
	// queueing or interleaving key presses.
	f := newFakeSurface()
	b := readyBridge(t, f, fastConfig())

	done := make(chan error, 1)
	go func() { done <- b.ChangeChannel(context.Background(), 516) }()

	for b.State() != StateBusy {
		time.Sleep(time.Millisecond)
	}
	if err := b.ChangeChannel(context.Background(), 99); !errors.Is(err, ErrAlreadyInFlight) {
		t.Fatalf("concurrent change: got %v, want ErrAlreadyInFlight", err)
	}

	f.post(`{"type":"channel_changed","channel":516}`)
	if err := <-done; err != nil {
		t.Fatalf("first change: %v", err)
	}
}

func TestChangeChannel_GateChecks(t *testing.T) {
	// WHAT: Changes are rejected per state: unauthenticated, not ready,
	// and lost sessions each get their own error.
	f := newFakeSurface()
	b := New(f, fastConfig())
	t.Cleanup(func() { b.Close() })

	b.setState(StateNeedsAuth)
	if err := b.ChangeChannel(context.Background(), 5); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("needs_auth: got %v", err)
	}

	b.setState(StateReadinessUnknown)
	b.authed.Store(true)
	if err := b.ChangeChannel(context.Background(), 5); !errors.Is(err, ErrNotReady) {
		t.Fatalf("not ready: got %v", err)
	}

	b.setState(StateLost)
	if err := b.ChangeChannel(context.Background(), 5); !errors.Is(err, ErrSessionLost) {
		t.Fatalf("lost: got %v", err)
	}
}

func TestChangeChannelWait_RetriesThenSucceeds(t *testing.T) {
	// WHAT: Not-ready attempts are retried on the policy interval; once the
	// surface becomes ready the change proceeds.
	f := newFakeSurface()
	f.onEval = func(js string) {
		if strings.Contains(js, `"ENTER"`) {
			f.post(`{"type":"channel_changed","channel":11}`)
		}
	}
	cfg := fastConfig()
	cfg.Retry = Policy{Attempts: 200, Interval: time.Millisecond}
	b := New(f, cfg)
	t.Cleanup(func() { b.Close() })
	b.setState(StateReadinessUnknown)
	b.authed.Store(true)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.setState(StateReady)
	}()

	if err := b.ChangeChannelWait(context.Background(), 11); err != nil {
		t.Fatal(err)
	}
}

func TestChangeChannelWait_ExhaustionCarriesRecovery(t *testing.T) {
	// WHAT: When every attempt finds the surface not ready, the final error
	// names the attempt count and the operator recovery action.
	f := newFakeSurface()
	b := New(f, fastConfig())
	t.Cleanup(func() { b.Close() })
	b.setState(StateReadinessUnknown)
	b.authed.Store(true)

	err := b.ChangeChannelWait(context.Background(), 11)
	var nr *NotReadyError
	if !errors.As(err, &nr) {
		t.Fatalf("got %v, want NotReadyError", err)
	}
	if nr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", nr.Attempts)
	}
	if nr.Recovery() != "reopen the control surface" {
		t.Errorf("recovery = %q", nr.Recovery())
	}
}

func TestProbeReadiness_AnswerSetsState(t *testing.T) {
	// WHAT: A ready+authenticated answer moves the bridge straight to
	// Ready; ready-but-unauthenticated lands in NeedsAuth.
	f := newFakeSurface()
	f.onEval = func(js string) {
		if strings.Contains(js, "probeReady") {
			f.post(`{"type":"readiness_result","ready":true,"authenticated":true}`)
		}
	}
	b := New(f, fastConfig())
	t.Cleanup(func() { b.Close() })

	res, err := b.ProbeReadiness(context.Background())
	if err != nil || !res.Ready || !res.Authenticated {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if b.State() != StateReady {
		t.Fatalf("state = %v, want ready", b.State())
	}
}

func TestProbeReadiness_OptimisticOnTimeout(t *testing.T) {
	// WHAT: An unanswered probe resolves as ready-but-unauthenticated after
	// the timeout rather than blocking the open sequence.
	f := newFakeSurface()
	b := New(f, fastConfig())
	t.Cleanup(func() { b.Close() })

	start := time.Now()
	res, err := b.ProbeReadiness(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ready || res.Authenticated {
		t.Fatalf("res = %+v, want optimistic ready", res)
	}
	if time.Since(start) > time.Second {
		t.Fatal("probe blocked past its timeout")
	}
}

func TestCheckAuth_Classifies(t *testing.T) {
	// WHAT: The three surface answers map to signed-in, needs sign-in, and
	// inconclusive-treated-as-not-signed-in.
	cases := []struct {
		name string
		msg  string
		want bool
	}{
		{"authenticated", `{"type":"authenticated"}`, true},
		{"needs_auth", `{"type":"needs_auth"}`, false},
		{"inconclusive", `{"type":"auth_inconclusive","snippet":"spinner"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeSurface()
			f.onEval = func(js string) {
				if strings.Contains(js, "probeAuth") {
					f.post(tc.msg)
				}
			}
			b := New(f, fastConfig())
			t.Cleanup(func() { b.Close() })

			ok, err := b.CheckAuth(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if ok != tc.want {
				t.Fatalf("authenticated = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestSessionLoss_FailsPendingChange(t *testing.T) {
	// WHAT: The inbound stream closing mid-change marks the session lost
	// and fails the waiting caller.
	f := newFakeSurface()
	b := readyBridge(t, f, fastConfig())

	done := make(chan error, 1)
	go func() { done <- b.ChangeChannel(context.Background(), 516) }()
	for b.State() != StateBusy {
		time.Sleep(time.Millisecond)
	}

	f.Close()
	if err := <-done; !errors.Is(err, ErrSessionLost) {
		t.Fatalf("got %v, want ErrSessionLost", err)
	}
	if b.State() != StateLost {
		t.Fatalf("state = %v, want lost", b.State())
	}
	if b.Authenticated() {
		t.Fatal("authentication must not survive session loss")
	}
}
