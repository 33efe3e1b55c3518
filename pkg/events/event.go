// Package events defines the canonical records every telemetry entry is
// normalized into, regardless of its original wire shape.
package events

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindKeylog       Kind = "keylog"
	KindLocation     Kind = "location"
	KindSms          Kind = "sms"
	KindCallLog      Kind = "call_log"
	KindDeviceInfo   Kind = "device_info"
	KindNotification Kind = "notification"
	KindActivity     Kind = "activity"
)

// Event is the tagged union over all canonical record variants.
type Event interface {
	EventKind() Kind
}

// NewID returns a collision-free identifier for a derived record.
func NewID() string {
	return uuid.NewString()
}

type Keylog struct {
	ID            string
	App           string
	Keys          string
	EventType     string
	SessionID     string
	ScreenContent string
	EventText     string
	Timestamp     time.Time
}

func (Keylog) EventKind() Kind { return KindKeylog }

type Location struct {
	ID        string
	Lat       float64
	Lng       float64
	Address   string
	Timestamp time.Time
}

func (Location) EventKind() Kind { return KindLocation }

type Sms struct {
	ID        string
	Number    string
	Type      string
	Content   string
	Timestamp time.Time
}

func (Sms) EventKind() Kind { return KindSms }

type CallLog struct {
	ID        string
	Name      string
	Number    string
	Type      string
	Duration  int
	Timestamp time.Time
}

func (CallLog) EventKind() Kind { return KindCallLog }

// DeviceInfo is a replace-on-arrival metadata snapshot. The agent decides
// which fields it reports, so the payload stays a free-form map.
type DeviceInfo struct {
	Fields    map[string]any
	UpdatedAt time.Time
}

func (DeviceInfo) EventKind() Kind { return KindDeviceInfo }

type Notification struct {
	ID        string
	Source    string
	Message   string
	Timestamp time.Time
	Read      bool
}

func (Notification) EventKind() Kind { return KindNotification }

type Activity struct {
	ID          string
	Type        string
	Title       string
	Description string
	PackageName string
	Timestamp   time.Time
}

func (Activity) EventKind() Kind { return KindActivity }
