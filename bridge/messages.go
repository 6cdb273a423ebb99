package bridge

import (
	"encoding/json"
	"fmt"
)

// Message is one inbound result message from the control surface. The
// concrete variants below form a closed set; the dispatch loop matches them
// exhaustively.
type Message interface{ isMessage() }

// Authenticated reports that the surface shows the digit controls.
type Authenticated struct{}

// NeedsAuth reports that the surface shows a sign-in form.
type NeedsAuth struct{}

// AuthInconclusive reports that neither marker was found. Snippet carries
// the start of the page text for the log; the surface is treated as not yet
// authenticated.
type AuthInconclusive struct {
	Snippet string
}

// ReadinessResult answers a readiness probe.
type ReadinessResult struct {
	Ready         bool
	Authenticated bool
}

// ControlClicked confirms one control activation.
type ControlClicked struct {
	Code      string
	Timestamp int64
}

// ControlNotFound reports a missing control, with the codes the surface
// does expose.
type ControlNotFound struct {
	Code      string
	Available []string
}

// ControlClickError reports a failed activation attempt.
type ControlClickError struct {
	Code   string
	Reason string
}

// ChannelChanged is the terminal success message of a channel change.
type ChannelChanged struct {
	Channel int
}

// ChannelChangeError is the terminal failure message of a channel change.
type ChannelChangeError struct {
	Channel int
	Reason  string
}

func (Authenticated) isMessage()      {}
func (NeedsAuth) isMessage()          {}
func (AuthInconclusive) isMessage()   {}
func (ReadinessResult) isMessage()    {}
func (ControlClicked) isMessage()     {}
func (ControlNotFound) isMessage()    {}
func (ControlClickError) isMessage()  {}
func (ChannelChanged) isMessage()     {}
func (ChannelChangeError) isMessage() {}

// envelope is the wire shape: a type tag plus the union of all fields.
type envelope struct {
	Type           string   `json:"type"`
	Ready          bool     `json:"ready"`
	Authenticated  bool     `json:"authenticated"`
	Snippet        string   `json:"snippet"`
	Code           string   `json:"code"`
	Timestamp      int64    `json:"timestamp"`
	AvailableCodes []string `json:"available_codes"`
	Channel        int      `json:"channel"`
	Error          string   `json:"error"`
}

// decodeMessage parses one inbound payload into its Message variant.
func decodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bridge: decode message: %w", err)
	}

	switch env.Type {
	case "authenticated":
		return Authenticated{}, nil
	case "needs_auth":
		return NeedsAuth{}, nil
	case "auth_inconclusive":
		return AuthInconclusive{Snippet: env.Snippet}, nil
	case "readiness_result":
		return ReadinessResult{Ready: env.Ready, Authenticated: env.Authenticated}, nil
	case "control_clicked":
		return ControlClicked{Code: env.Code, Timestamp: env.Timestamp}, nil
	case "control_not_found":
		return ControlNotFound{Code: env.Code, Available: env.AvailableCodes}, nil
	case "control_click_error":
		return ControlClickError{Code: env.Code, Reason: env.Error}, nil
	case "channel_changed":
		return ChannelChanged{Channel: env.Channel}, nil
	case "channel_change_error":
		return ChannelChangeError{Channel: env.Channel, Reason: env.Error}, nil
	default:
		return nil, fmt.Errorf("bridge: unknown message type %q", env.Type)
	}
}
