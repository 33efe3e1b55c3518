package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/monitorpro/console/pkg/errorsx"
	"github.com/monitorpro/console/pkg/playback"
	"github.com/monitorpro/console/pkg/status"
	"github.com/monitorpro/console/pkg/timeline"
)

func TestBuildCameraClampsFPS(t *testing.T) {
	req, err := BuildCamera(StartCamera, CameraOptions{FPS: 90, Resolution: "640x480"})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if req.FPS != 30 {
		t.Fatalf("fps should clamp to 30, got %d", req.FPS)
	}
	req, err = BuildCamera(StartCamera, CameraOptions{FPS: -5, Resolution: "640x480"})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if req.FPS != 1 {
		t.Fatalf("fps should clamp to 1, got %d", req.FPS)
	}
}

func TestBuildCameraRejectsUnknownResolution(t *testing.T) {
	_, err := BuildCamera(StartCamera, CameraOptions{FPS: 15, Resolution: "4096x2160"})
	if err == nil {
		t.Fatalf("expected resolution rejection")
	}
	if !errorsx.HasReason(err, errorsx.ReasonCommandValidate) {
		t.Fatalf("expected validation reason, got %v", err)
	}
}

func TestBuildCameraDefaultsToBackCamera(t *testing.T) {
	req, err := BuildCamera(StartCamera, CameraOptions{FPS: 15, Resolution: "320x240", CameraType: "wide"})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if req.CameraType != "back" {
		t.Fatalf("unknown camera type should fall back to back, got %q", req.CameraType)
	}
}

func TestBuildAudioValidatesEnumerations(t *testing.T) {
	if _, err := BuildAudio(StartAudio, AudioOptions{MicType: "default", SampleRate: 12345}); err == nil {
		t.Fatalf("expected sample rate rejection")
	}
	if _, err := BuildAudio(StartAudio, AudioOptions{MicType: "stereo", SampleRate: 44100}); err == nil {
		t.Fatalf("expected mic type rejection")
	}
	req, err := BuildAudio(StartAudio, AudioOptions{MicType: "voice", SampleRate: 16000})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if req.MicType != "voice" || req.SampleRate != 16000 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestBuildScreenRecordRequiresPositiveDuration(t *testing.T) {
	if _, err := BuildScreenRecord(ScreenRecordOptions{Duration: 0}); err == nil {
		t.Fatalf("expected duration rejection")
	}
	req, err := BuildScreenRecord(ScreenRecordOptions{Duration: 60, FPS: 10})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if req.Command != StartScreenRecording || req.Duration != 60 {
		t.Fatalf("unexpected request %+v", req)
	}
}

type commandServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	paths    []string
	requests []Request
	status   int
}

func newCommandServer(t *testing.T) *commandServer {
	t.Helper()
	cs := &commandServer{status: http.StatusOK}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		cs.mu.Lock()
		cs.paths = append(cs.paths, r.URL.Path)
		cs.requests = append(cs.requests, req)
		code := cs.status
		cs.mu.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func newTestDispatcher(baseURL string) (*Dispatcher, *status.Tracker, *timeline.Aggregator, *playback.Pipeline) {
	st := status.NewTracker()
	tl := timeline.NewAggregator(timeline.Config{})
	pl := playback.NewPipeline(nil, tl)
	return NewDispatcher(baseURL, st, tl, pl, nil), st, tl, pl
}

func TestSendPostsToDeviceEndpoint(t *testing.T) {
	cs := newCommandServer(t)
	d, st, _, _ := newTestDispatcher(cs.srv.URL)

	req, err := BuildCamera(StartCamera, CameraOptions{FPS: 15, Resolution: "640x480", CameraType: "front"})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if err := d.Send(context.Background(), "device-3", req); err != nil {
		t.Fatalf("send error: %v", err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.paths) != 1 || cs.paths[0] != "/api/command/device-3" {
		t.Fatalf("unexpected paths %v", cs.paths)
	}
	got := cs.requests[0]
	if got.Command != StartCamera || got.CameraType != "front" || got.Resolution != "640x480" {
		t.Fatalf("unexpected posted request %+v", got)
	}
	if st.State(status.CapVideo) != status.Connecting {
		t.Fatalf("start_camera should optimistically move video to Connecting, got %s", st.State(status.CapVideo))
	}
}

func TestSendFailureFlipsCapabilityToFailed(t *testing.T) {
	cs := newCommandServer(t)
	cs.status = http.StatusBadGateway
	d, st, tl, _ := newTestDispatcher(cs.srv.URL)

	req, _ := BuildAudio(StartAudio, AudioOptions{MicType: "default", SampleRate: 44100})
	err := d.Send(context.Background(), "device-3", req)
	if err == nil {
		t.Fatalf("expected dispatch failure")
	}
	if !errorsx.HasReason(err, errorsx.ReasonCommandSend) {
		t.Fatalf("expected send reason, got %v", err)
	}
	if st.State(status.CapAudio) != status.Failed {
		t.Fatalf("failed start should mark audio Failed, got %s", st.State(status.CapAudio))
	}
	notes := tl.Notifications()
	found := false
	for _, n := range notes {
		if n.Source == "Error" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error notification, got %+v", notes)
	}
}

func TestStopAudioClearsPlaybackQueue(t *testing.T) {
	cs := newCommandServer(t)
	d, st, _, pl := newTestDispatcher(cs.srv.URL)

	_ = st.Transition(status.CapAudio, status.Streaming, "frames")
	pl.Enqueue(playback.Item{Samples: make([]float32, 441)})

	if err := d.Send(context.Background(), "device-3", Request{Command: StopAudio}); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if st.State(status.CapAudio) != status.Disconnected {
		t.Fatalf("stop_audio should disconnect audio, got %s", st.State(status.CapAudio))
	}
	if pl.QueueLen() != 0 || pl.Playing() {
		t.Fatalf("stop_audio should drop queued audio")
	}
}

func TestStopCommandFailureDoesNotFlipToFailed(t *testing.T) {
	cs := newCommandServer(t)
	cs.status = http.StatusInternalServerError
	d, st, _, _ := newTestDispatcher(cs.srv.URL)

	_ = st.Transition(status.CapVideo, status.Streaming, "frames")
	err := d.Send(context.Background(), "device-3", Request{Command: StopCamera})
	if err == nil {
		t.Fatalf("expected dispatch failure")
	}
	if st.State(status.CapVideo) != status.Disconnected {
		t.Fatalf("stop commands keep their optimistic transition, got %s", st.State(status.CapVideo))
	}
}
