// Package session owns the lifecycle of the provider control surface: which
// provider is selected, when the browser and bridge are opened and torn
// down, and how channel changes reach the bridge.
//
// Teardown happens only on explicit provider change, session loss, or
// shutdown. The surface is never torn down for presentation reasons; a UI
// hiding its view of the browser must not invalidate the signed-in session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/redzone/bridge"
	"github.com/hazyhaar/redzone/browser"
	"github.com/hazyhaar/redzone/eventlog"
	"github.com/hazyhaar/redzone/mapping"
)

// Provider is one supported TV provider and its web remote entry point.
type Provider struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	RemoteURL string `yaml:"remote_url" json:"-"`
}

// Config tunes the orchestrator.
type Config struct {
	Browser browser.Config `yaml:"browser"`
	Bridge  bridge.Config  `yaml:"bridge"`

	// DeferredRetry is the single delayed retry granted to a channel change
	// that arrives while the surface is still mounting. Default: 500ms.
	DeferredRetry time.Duration `yaml:"deferred_retry"`
}

func (c *Config) defaults() {
	if c.DeferredRetry <= 0 {
		c.DeferredRetry = 500 * time.Millisecond
	}
}

// NotOpenError means no control surface is currently open. It carries the
// operator recovery action.
type NotOpenError struct{}

func (e *NotOpenError) Error() string    { return "session: control surface not open" }
func (e *NotOpenError) Recovery() string { return "reopen the control surface" }

// controlBridge is the slice of bridge.Bridge the orchestrator drives.
type controlBridge interface {
	Open(ctx context.Context) error
	ChangeChannelWait(ctx context.Context, channel int) error
	CheckAuth(ctx context.Context) (bool, error)
	State() bridge.State
	Authenticated() bool
	Alive() bool
	Close() error
}

// Status is the orchestrator's snapshot for the status API.
type Status struct {
	Provider      string `json:"provider"`
	Open          bool   `json:"open"`
	State         string `json:"state"`
	Authenticated bool   `json:"authenticated"`
}

// Orchestrator coordinates provider selection, the browser session, and the
// bridge. All methods are safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	providers []Provider
	store     *mapping.Store
	events    *eventlog.Log
	logger    *slog.Logger

	// lifeCtx outlives any single request: the open sequence and the
	// bridge dispatch loop must not die with the HTTP request that
	// triggered them.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	// newBridge is swappable in tests.
	newBridge func(ctx context.Context, p Provider) (controlBridge, error)

	mu      sync.Mutex
	current Provider
	mgr     *browser.Manager
	bridge  controlBridge
}

// New creates an Orchestrator. events may be nil.
func New(providers []Provider, store *mapping.Store, cfg Config, events *eventlog.Log, logger *slog.Logger) *Orchestrator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = eventlog.New(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		providers:  providers,
		store:      store,
		events:     events,
		logger:     logger,
		lifeCtx:    ctx,
		lifeCancel: cancel,
	}
	o.newBridge = o.openBridge
	return o
}

// Providers lists the configured providers.
func (o *Orchestrator) Providers() []Provider { return o.providers }

// Current returns the selected provider, zero when none.
func (o *Orchestrator) Current() Provider {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Restore re-selects the provider persisted from a previous run. It does
// not open the surface; the operator triggers that explicitly.
func (o *Orchestrator) Restore(ctx context.Context) error {
	id, err := o.store.Provider(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	p, ok := o.lookup(id)
	if !ok {
		o.logger.Warn("session: persisted provider no longer configured", "id", id)
		return nil
	}
	o.mu.Lock()
	o.current = p
	o.mu.Unlock()
	o.logger.Info("session: restored provider", "id", id)
	return nil
}

// SelectProvider switches providers. Any open surface is torn down, which
// invalidates the current authentication even when re-selecting the same
// provider. The choice is persisted.
func (o *Orchestrator) SelectProvider(ctx context.Context, id string) error {
	p, ok := o.lookup(id)
	if !ok {
		return fmt.Errorf("session: unknown provider %q", id)
	}

	o.mu.Lock()
	o.teardownLocked()
	o.current = p
	o.mu.Unlock()

	if err := o.store.SetProvider(ctx, id); err != nil {
		return err
	}
	o.events.Info("provider set to " + p.Name)
	o.logger.Info("session: provider selected", "id", id)
	return nil
}

// Open launches the browser if needed, navigates to the provider's remote,
// and starts the bridge's open sequence in the background. Progress is
// observable through Status and CheckAuth.
func (o *Orchestrator) Open(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current.ID == "" {
		return errors.New("session: no provider selected")
	}
	if o.bridge != nil && o.bridge.Alive() {
		return nil
	}
	o.teardownLocked()

	br, err := o.newBridge(ctx, o.current)
	if err != nil {
		return err
	}
	o.bridge = br

	go func() {
		if err := br.Open(o.lifeCtx); err != nil {
			o.logger.Warn("session: surface open sequence failed", "error", err)
			o.events.Error("control surface open failed: "+err.Error(), "reopen the control surface")
		}
	}()

	o.events.Info("control surface opened for " + o.current.Name)
	return nil
}

// CheckAuth re-probes the open surface's authentication. Used after the
// operator signs in manually.
func (o *Orchestrator) CheckAuth(ctx context.Context) (bool, error) {
	br := o.currentBridge()
	if br == nil {
		return false, &NotOpenError{}
	}
	ok, err := br.CheckAuth(ctx)
	if errors.Is(err, bridge.ErrSessionLost) {
		o.handleLost()
	}
	return ok, err
}

// ChangeChannel drives a channel change through the bridge. A change that
// arrives before the surface finished mounting gets exactly one deferred
// retry; after that the caller sees the recovery-carrying not-open error.
func (o *Orchestrator) ChangeChannel(ctx context.Context, channel int) error {
	br := o.currentBridge()
	if br == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.DeferredRetry):
		}
		br = o.currentBridge()
		if br == nil {
			return &NotOpenError{}
		}
	}

	err := br.ChangeChannelWait(ctx, channel)
	if errors.Is(err, bridge.ErrSessionLost) {
		o.handleLost()
	}
	return err
}

// Status reports the surface state for the API.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{Provider: o.current.ID}
	if o.bridge != nil {
		st.Open = true
		st.State = o.bridge.State().String()
		st.Authenticated = o.bridge.Authenticated()
	}
	return st
}

// Close tears everything down. Called once at shutdown.
func (o *Orchestrator) Close() error {
	o.lifeCancel()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.teardownLocked()
	if o.mgr != nil {
		o.mgr.Close()
		o.mgr = nil
	}
	return nil
}

func (o *Orchestrator) lookup(id string) (Provider, bool) {
	for _, p := range o.providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

func (o *Orchestrator) currentBridge() controlBridge {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bridge
}

// handleLost reacts to a lost session: the surface is closed and the
// operator is told to sign in again. The browser itself stays up so the
// profile survives.
func (o *Orchestrator) handleLost() {
	o.mu.Lock()
	o.teardownLocked()
	o.mu.Unlock()
	o.events.Error("control surface session lost, sign in again", "reopen the control surface")
	o.logger.Warn("session: control surface lost")
}

func (o *Orchestrator) teardownLocked() {
	if o.bridge != nil {
		o.bridge.Close()
		o.bridge = nil
	}
}

// openBridge is the production newBridge: one shared Chrome, a fresh page
// per open.
func (o *Orchestrator) openBridge(ctx context.Context, p Provider) (controlBridge, error) {
	if o.mgr == nil {
		bcfg := o.cfg.Browser
		bcfg.Logger = o.logger
		o.mgr = browser.NewManager(bcfg)
	}
	rb, err := o.mgr.Start(ctx)
	if err != nil {
		return nil, err
	}
	surf, err := browser.OpenSurface(ctx, rb, p.RemoteURL, o.logger)
	if err != nil {
		return nil, err
	}
	cfg := o.cfg.Bridge
	cfg.Logger = o.logger
	return bridge.New(surf, cfg), nil
}
