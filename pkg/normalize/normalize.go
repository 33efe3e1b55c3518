// Package normalize converts heterogeneous agent-reported log entries into
// canonical records. Agents in the field report two generations of wire
// shape: structured payload objects and legacy free-text encodings. Both
// normalize to the same record; unparseable input degrades to sentinel
// values instead of being dropped.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/monitorpro/console/pkg/configutil"
	"github.com/monitorpro/console/pkg/events"
)

// Entry is one raw log entry as fetched from the relay. Data is either a
// legacy string or a payload object; Timestamp is a millisecond epoch or a
// formatted string depending on agent version.
type Entry struct {
	Data      any `mapstructure:"data"`
	Timestamp any `mapstructure:"timestamp"`
}

// Legacy free-text grammars. Each pattern is extracted independently; a
// missing group falls back to its sentinel.
var (
	locationPattern     = regexp.MustCompile(`Lat: ([-\d.]+), Lng: ([-\d.]+)`)
	smsPattern          = regexp.MustCompile(`(?s)From: ([^,]+), Message: (.*)`)
	callNumberPattern   = regexp.MustCompile(`Number: ([\d\w\s+()-]+)`)
	callDurationPattern = regexp.MustCompile(`Duration: (\d+)`)
	callTypePattern     = regexp.MustCompile(`Type: (\w+)`)
)

const unknownLocationFormat = "Unknown location format"

type locationPayload struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Address   string  `mapstructure:"address"`
}

type smsPayload struct {
	Address string `mapstructure:"address"`
	Type    string `mapstructure:"type"`
	Body    string `mapstructure:"body"`
}

type callPayload struct {
	Name     string `mapstructure:"name"`
	Number   string `mapstructure:"number"`
	Type     string `mapstructure:"type"`
	Duration int    `mapstructure:"duration"`
	Date     any    `mapstructure:"date"`
}

type keylogPayload struct {
	App           string `mapstructure:"app"`
	Keys          string `mapstructure:"keys"`
	EventType     string `mapstructure:"event_type"`
	Timestamp     any    `mapstructure:"timestamp"`
	SessionID     string `mapstructure:"session_id"`
	ScreenContent string `mapstructure:"screen_content"`
	EventText     string `mapstructure:"event_text"`
}

// Location normalizes a location entry. The returned record has an empty
// Address when the entry carried valid coordinates but no address; the
// caller decides whether to resolve one. A legacy string that matches no
// grammar yields (0, 0) with a sentinel address. The second return is
// false when the entry has no recoverable data at all.
func Location(entry Entry) (events.Location, bool) {
	rec := events.Location{ID: events.NewID(), Timestamp: ResolveTime(entry.Timestamp)}
	switch data := entry.Data.(type) {
	case string:
		m := locationPattern.FindStringSubmatch(data)
		if m == nil {
			rec.Address = unknownLocationFormat
			return rec, true
		}
		rec.Lat, _ = strconv.ParseFloat(m[1], 64)
		rec.Lng, _ = strconv.ParseFloat(m[2], 64)
		return rec, true
	case map[string]any:
		var p locationPayload
		if err := configutil.DecodeSettings(data, &p); err != nil {
			rec.Address = unknownLocationFormat
			return rec, true
		}
		rec.Lat = p.Latitude
		rec.Lng = p.Longitude
		rec.Address = p.Address
		return rec, true
	default:
		return events.Location{}, false
	}
}

// Sms normalizes an SMS entry. Legacy strings that match no grammar keep
// the original text as content with an "Unknown" sender.
func Sms(entry Entry) (events.Sms, bool) {
	rec := events.Sms{ID: events.NewID(), Timestamp: ResolveTime(entry.Timestamp)}
	switch data := entry.Data.(type) {
	case string:
		rec.Type = "received"
		m := smsPattern.FindStringSubmatch(data)
		if m == nil {
			rec.Number = "Unknown"
			rec.Content = data
			return rec, true
		}
		rec.Number = strings.TrimSpace(m[1])
		rec.Content = strings.TrimSpace(m[2])
		return rec, true
	case map[string]any:
		var p smsPayload
		if err := configutil.DecodeSettings(data, &p); err != nil {
			return events.Sms{}, false
		}
		rec.Number = orUnknown(p.Address)
		rec.Type = p.Type
		if rec.Type == "" {
			rec.Type = "received"
		}
		rec.Content = p.Body
		return rec, true
	default:
		return events.Sms{}, false
	}
}

// CallLog normalizes a call log entry. In the legacy string form the
// number, duration and type are extracted by independent patterns; any
// missing group defaults to "Unknown", 0 and "unknown" respectively.
func CallLog(entry Entry) (events.CallLog, bool) {
	rec := events.CallLog{ID: events.NewID(), Timestamp: ResolveTime(entry.Timestamp)}
	switch data := entry.Data.(type) {
	case string:
		rec.Number = "Unknown"
		rec.Type = "unknown"
		if m := callNumberPattern.FindStringSubmatch(data); m != nil {
			rec.Number = strings.TrimSpace(m[1])
		}
		if m := callDurationPattern.FindStringSubmatch(data); m != nil {
			rec.Duration, _ = strconv.Atoi(m[1])
		}
		if m := callTypePattern.FindStringSubmatch(data); m != nil {
			rec.Type = strings.ToLower(m[1])
		}
		return rec, true
	case map[string]any:
		var p callPayload
		if err := configutil.DecodeSettings(data, &p); err != nil {
			return events.CallLog{}, false
		}
		rec.Name = p.Name
		rec.Number = orUnknown(p.Number)
		rec.Type = strings.ToLower(p.Type)
		if rec.Type == "" {
			rec.Type = "unknown"
		}
		rec.Duration = p.Duration
		if p.Date != nil {
			rec.Timestamp = ResolveTime(p.Date)
		}
		return rec, true
	default:
		return events.CallLog{}, false
	}
}

// Keylog normalizes a keylog entry. Keylog payloads are always objects;
// missing fields degrade to sentinels rather than dropping the entry.
func Keylog(entry Entry) (events.Keylog, bool) {
	data, ok := entry.Data.(map[string]any)
	if !ok {
		return events.Keylog{}, false
	}
	var p keylogPayload
	if err := configutil.DecodeSettings(data, &p); err != nil {
		return events.Keylog{}, false
	}
	rec := events.Keylog{
		ID:            events.NewID(),
		App:           p.App,
		Keys:          p.Keys,
		EventType:     p.EventType,
		SessionID:     p.SessionID,
		ScreenContent: p.ScreenContent,
		EventText:     p.EventText,
	}
	if rec.App == "" {
		rec.App = "Unknown App"
	}
	if rec.EventType == "" {
		rec.EventType = "keylog"
	}
	if p.Timestamp != nil {
		rec.Timestamp = ResolveTime(p.Timestamp)
	} else {
		rec.Timestamp = ResolveTime(entry.Timestamp)
	}
	return rec, true
}

// ResolveTime converts a wire timestamp (millisecond epoch number, numeric
// string, or RFC 3339 string) into a time.Time. An absent or unreadable
// value resolves to the current time.
func ResolveTime(v any) time.Time {
	switch ts := v.(type) {
	case float64:
		if ts > 0 {
			return time.UnixMilli(int64(ts))
		}
	case int64:
		if ts > 0 {
			return time.UnixMilli(ts)
		}
	case int:
		if ts > 0 {
			return time.UnixMilli(int64(ts))
		}
	case string:
		if n, err := strconv.ParseInt(ts, 10, 64); err == nil && n > 0 {
			return time.UnixMilli(n)
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t
		}
	}
	return time.Now()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
