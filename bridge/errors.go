package bridge

import (
	"errors"
	"fmt"
)

// Flag errors. These carry no payload and are matched with errors.Is.
var (
	// ErrNotAuthenticated rejects channel changes before the surface has
	// been signed in.
	ErrNotAuthenticated = errors.New("bridge: control surface not authenticated")

	// ErrNotReady marks a single attempt that found the surface mounted but
	// not yet able to take input. ChangeChannelWait retries on it.
	ErrNotReady = errors.New("bridge: control surface not ready")

	// ErrAlreadyInFlight rejects a second channel change while one is
	// still executing.
	ErrAlreadyInFlight = errors.New("bridge: channel change already in flight")

	// ErrSessionLost means the page or browser behind the surface is gone.
	// Recovery requires reopening and re-authenticating.
	ErrSessionLost = errors.New("bridge: control surface session lost")
)

// NotReadyError reports that the surface never became ready within the
// retry budget. It carries the recovery action shown to the operator.
type NotReadyError struct {
	Attempts int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("bridge: control surface not ready after %d attempts", e.Attempts)
}

// Recovery names the operator action that clears the condition.
func (e *NotReadyError) Recovery() string { return "reopen the control surface" }

// ProbeTimeoutError reports a probe whose answer never arrived.
type ProbeTimeoutError struct {
	Probe string
}

func (e *ProbeTimeoutError) Error() string {
	return fmt.Sprintf("bridge: %s probe timed out", e.Probe)
}

// ControlNotFoundError reports a control code absent from the surface.
type ControlNotFoundError struct {
	Code      string
	Available []string
}

func (e *ControlNotFoundError) Error() string {
	return fmt.Sprintf("bridge: control %q not found (surface exposes %d controls)", e.Code, len(e.Available))
}

// ChangeFailedError is the terminal failure of one channel change attempt,
// as reported by the surface.
type ChangeFailedError struct {
	Channel int
	Reason  string
}

func (e *ChangeFailedError) Error() string {
	return fmt.Sprintf("bridge: change to channel %d failed: %s", e.Channel, e.Reason)
}

// ChangeTimeoutError reports a key sequence whose terminal message never
// arrived before the watchdog fired.
type ChangeTimeoutError struct {
	Channel int
}

func (e *ChangeTimeoutError) Error() string {
	return fmt.Sprintf("bridge: change to channel %d timed out", e.Channel)
}
