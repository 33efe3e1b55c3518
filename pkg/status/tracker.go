// Package status tracks one finite-state machine per streaming capability.
package status

import (
	"sync"
	"time"
)

type Capability string

const (
	CapVideo        Capability = "video"
	CapAudio        Capability = "audio"
	CapKeylogger    Capability = "keylogger"
	CapScreenRecord Capability = "screen_record"
)

// Capabilities lists every tracked capability.
var Capabilities = []Capability{CapVideo, CapAudio, CapKeylogger, CapScreenRecord}

type State string

const (
	Disconnected State = "Disconnected"
	Connecting   State = "Connecting"
	Streaming    State = "Streaming"
	Recording    State = "Recording"
	Failed       State = "Failed"
)

// Change represents a state transition event.
type Change struct {
	Capability Capability
	From       State
	To         State
	Timestamp  time.Time
	Reason     string
}

// Listener observes capability state changes.
type Listener interface {
	OnStatusChange(event Change)
}

// Transitions are driven from two sides: optimistic local transitions when
// a command is issued, and server-pushed confirmations (frame data promotes
// Connecting to Streaming; recording completion and error envelopes force
// terminal states). Failed is only left by re-issuing a start command or by
// a device disconnect.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Streaming, Recording},
	Connecting:   {Streaming, Recording, Failed, Disconnected},
	Streaming:    {Recording, Failed, Disconnected},
	Recording:    {Streaming, Failed, Disconnected},
	Failed:       {Connecting, Recording, Disconnected},
}

// Tracker holds the per-capability state machines for one session.
type Tracker struct {
	mu        sync.RWMutex
	states    map[Capability]State
	listeners []Listener
}

func NewTracker() *Tracker {
	states := make(map[Capability]State, len(Capabilities))
	for _, c := range Capabilities {
		states[c] = Disconnected
	}
	return &Tracker{states: states}
}

// State returns the current state of a capability.
func (t *Tracker) State(c Capability) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[c]
}

// AddListener registers a listener for state change events.
func (t *Tracker) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves a capability to a new state with validation. Moving to
// the current state is a no-op and fires no event.
func (t *Tracker) Transition(c Capability, to State, reason string) error {
	t.mu.Lock()
	from := t.states[c]
	if from == to {
		t.mu.Unlock()
		return nil
	}
	if !transitionValid(from, to) {
		t.mu.Unlock()
		return &InvalidTransitionError{Capability: c, From: from, To: to}
	}
	t.states[c] = to
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	event := Change{
		Capability: c,
		From:       from,
		To:         to,
		Timestamp:  time.Now(),
		Reason:     reason,
	}
	for _, l := range listeners {
		l.OnStatusChange(event)
	}
	return nil
}

// Promote applies a server-pushed frame confirmation: a capability that is
// Connecting (or idle, when frames arrive without a local start) moves to
// Streaming. Frames observed while Recording or Failed change nothing.
func (t *Tracker) Promote(c Capability) {
	switch t.State(c) {
	case Connecting, Disconnected:
		_ = t.Transition(c, Streaming, "frame data received")
	}
}

// ResetAll forces every capability back to Disconnected.
func (t *Tracker) ResetAll(reason string) {
	for _, c := range Capabilities {
		_ = t.Transition(c, Disconnected, reason)
	}
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	Capability Capability
	From       State
	To         State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid " + string(e.Capability) + " transition from " + string(e.From) + " to " + string(e.To)
}
