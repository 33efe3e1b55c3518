package console

import (
	"fmt"
	"testing"

	"github.com/monitorpro/console/pkg/events"
)

func TestStoreSmsCapped(t *testing.T) {
	s := NewStore()
	for i := 0; i < maxLiveSms+20; i++ {
		s.RecordSms(events.Sms{ID: events.NewID(), Content: fmt.Sprintf("msg %d", i)})
	}
	got := s.Sms()
	if len(got) != maxLiveSms {
		t.Fatalf("expected live sms cap %d, got %d", maxLiveSms, len(got))
	}
	if got[0].Content != fmt.Sprintf("msg %d", maxLiveSms+19) {
		t.Fatalf("expected newest first, got %q", got[0].Content)
	}
}

func TestStoreVideoFrameCopiesBytes(t *testing.T) {
	s := NewStore()
	src := []byte{1, 2, 3}
	s.SetVideoFrame(src)
	src[0] = 99
	frame, at := s.VideoFrame()
	if frame[0] != 1 {
		t.Fatalf("stored frame must own its bytes, got %v", frame)
	}
	if at.IsZero() {
		t.Fatalf("frame arrival time should be set")
	}
}

func TestStoreResetClearsEverything(t *testing.T) {
	s := NewStore()
	s.RecordKeylog(events.Keylog{ID: events.NewID()})
	s.RecordLocation(events.Location{ID: events.NewID()})
	s.RecordCallLog(events.CallLog{ID: events.NewID()})
	s.SetDeviceConnected(true)
	s.RenameDevice("d1", "Phone")
	s.SetVideoFrame([]byte{1})
	s.Reset()

	if len(s.Keylogs()) != 0 || len(s.Locations()) != 0 || len(s.CallLogs()) != 0 {
		t.Fatalf("collections should be empty after reset")
	}
	if s.DeviceConnected() || s.DeviceName() != "" {
		t.Fatalf("device flags should clear on reset")
	}
	if frame, _ := s.VideoFrame(); len(frame) != 0 {
		t.Fatalf("video frame should clear on reset")
	}
}

func TestStoreNewestFirstOrdering(t *testing.T) {
	s := NewStore()
	s.RecordKeylog(events.Keylog{ID: "first"})
	s.RecordKeylog(events.Keylog{ID: "second"})
	got := s.Keylogs()
	if got[0].ID != "second" {
		t.Fatalf("expected newest first, got %v", got[0].ID)
	}
}
