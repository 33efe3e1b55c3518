package status

import (
	"errors"
	"sync"
	"testing"
)

type captureListener struct {
	mu      sync.Mutex
	changes []Change
}

func (c *captureListener) OnStatusChange(event Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, event)
}

func (c *captureListener) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

func TestTrackerStartsDisconnected(t *testing.T) {
	tr := NewTracker()
	for _, c := range Capabilities {
		if tr.State(c) != Disconnected {
			t.Fatalf("expected %s to start Disconnected, got %s", c, tr.State(c))
		}
	}
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	tr := NewTracker()
	if err := tr.Transition(CapVideo, Failed, "no stream to fail"); err == nil {
		t.Fatalf("Disconnected -> Failed should be rejected")
	}
	var invalid *InvalidTransitionError
	err := tr.Transition(CapVideo, Failed, "again")
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if tr.State(CapVideo) != Disconnected {
		t.Fatalf("failed transition must not change state")
	}
}

func TestTransitionSameStateIsNoOp(t *testing.T) {
	tr := NewTracker()
	listener := &captureListener{}
	tr.AddListener(listener)
	if err := tr.Transition(CapAudio, Disconnected, "noop"); err != nil {
		t.Fatalf("same-state transition should succeed: %v", err)
	}
	if listener.Count() != 0 {
		t.Fatalf("same-state transition must not fire events")
	}
}

func TestPromoteConfirmsPendingStart(t *testing.T) {
	tr := NewTracker()
	if err := tr.Transition(CapAudio, Connecting, "start issued"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	tr.Promote(CapAudio)
	if tr.State(CapAudio) != Streaming {
		t.Fatalf("expected Streaming after frame confirmation, got %s", tr.State(CapAudio))
	}
}

func TestPromoteFromIdleHandlesUnsolicitedFrames(t *testing.T) {
	tr := NewTracker()
	tr.Promote(CapVideo)
	if tr.State(CapVideo) != Streaming {
		t.Fatalf("frames without a local start should still stream, got %s", tr.State(CapVideo))
	}
}

func TestPromoteLeavesRecordingAlone(t *testing.T) {
	tr := NewTracker()
	if err := tr.Transition(CapVideo, Recording, "record issued"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	tr.Promote(CapVideo)
	if tr.State(CapVideo) != Recording {
		t.Fatalf("frames during recording must not demote to Streaming")
	}
}

func TestFailedRecoversOnlyViaRestart(t *testing.T) {
	tr := NewTracker()
	if err := tr.Transition(CapAudio, Connecting, "start"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if err := tr.Transition(CapAudio, Failed, "device error"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	tr.Promote(CapAudio)
	if tr.State(CapAudio) != Failed {
		t.Fatalf("frames must not clear Failed, got %s", tr.State(CapAudio))
	}
	if err := tr.Transition(CapAudio, Connecting, "restart"); err != nil {
		t.Fatalf("restart should leave Failed: %v", err)
	}
}

func TestResetAllReturnsEveryCapability(t *testing.T) {
	tr := NewTracker()
	_ = tr.Transition(CapVideo, Streaming, "frames")
	_ = tr.Transition(CapAudio, Connecting, "start")
	_ = tr.Transition(CapAudio, Failed, "error")
	_ = tr.Transition(CapScreenRecord, Recording, "record")
	tr.ResetAll("device disconnected")
	for _, c := range Capabilities {
		if tr.State(c) != Disconnected {
			t.Fatalf("expected %s Disconnected after reset, got %s", c, tr.State(c))
		}
	}
}

func TestListenerReceivesChangeDetails(t *testing.T) {
	tr := NewTracker()
	listener := &captureListener{}
	tr.AddListener(listener)
	if err := tr.Transition(CapKeylogger, Connecting, "start issued"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if listener.Count() != 1 {
		t.Fatalf("expected one change event, got %d", listener.Count())
	}
	change := listener.changes[0]
	if change.Capability != CapKeylogger || change.From != Disconnected || change.To != Connecting {
		t.Fatalf("unexpected change: %+v", change)
	}
	if change.Reason != "start issued" {
		t.Fatalf("unexpected reason %q", change.Reason)
	}
}
