// Package timeline keeps the bounded, time-ordered in-memory history of
// derived events: user-visible notifications, the recent-activity strip,
// and the activity feed for the selected date window.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/monitorpro/console/pkg/events"
)

type Config struct {
	MaxNotifications int `mapstructure:"max_notifications"`
	MaxRecent        int `mapstructure:"max_recent"`
}

func (c Config) withDefaults() Config {
	if c.MaxNotifications <= 0 {
		c.MaxNotifications = 50
	}
	if c.MaxRecent <= 0 {
		c.MaxRecent = 5
	}
	return c
}

// Aggregator owns the derived-event history for one operator session.
// Notifications are newest-first and capped; activities are filtered to
// the selected date window and kept sorted by timestamp descending.
type Aggregator struct {
	cfg Config

	mu            sync.Mutex
	selectedDate  time.Time
	notifications []events.Notification
	activities    []events.Activity
	recent        []events.Activity
}

func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:          cfg.withDefaults(),
		selectedDate: time.Now().UTC(),
	}
}

// Notify appends a locally generated user-visible notification. These are
// not subject to the date window.
func (a *Aggregator) Notify(source, message string) {
	n := events.Notification{
		ID:        events.NewID(),
		Source:    source,
		Message:   message,
		Timestamp: time.Now(),
	}
	a.mu.Lock()
	a.notifications = append([]events.Notification{n}, a.notifications...)
	if len(a.notifications) > a.cfg.MaxNotifications {
		a.notifications = a.notifications[:a.cfg.MaxNotifications]
	}
	a.mu.Unlock()
}

// AddNotification appends a server-pushed notification if its timestamp
// falls inside the selected date window.
func (a *Aggregator) AddNotification(n events.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inWindow(n.Timestamp) {
		return
	}
	a.notifications = append(a.notifications, n)
	sort.SliceStable(a.notifications, func(i, j int) bool {
		return a.notifications[i].Timestamp.After(a.notifications[j].Timestamp)
	})
	if len(a.notifications) > a.cfg.MaxNotifications {
		a.notifications = a.notifications[:a.cfg.MaxNotifications]
	}
}

// AddActivity appends a server-pushed activity if it matches the selected
// date window. SMS and call-log activities are excluded: those feeds are
// rendered from their own canonical collections.
func (a *Aggregator) AddActivity(act events.Activity) {
	if act.Type == "sms" || act.Type == "call_log" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inWindow(act.Timestamp) {
		return
	}
	a.activities = append(a.activities, act)
	sort.SliceStable(a.activities, func(i, j int) bool {
		return a.activities[i].Timestamp.After(a.activities[j].Timestamp)
	})
}

// AddRecent records an entry on the short recent-activity strip and raises
// a matching notification.
func (a *Aggregator) AddRecent(act events.Activity) {
	a.mu.Lock()
	a.recent = append([]events.Activity{act}, a.recent...)
	if len(a.recent) > a.cfg.MaxRecent {
		a.recent = a.recent[:a.cfg.MaxRecent]
	}
	a.mu.Unlock()
	a.Notify(act.Type, act.Description)
}

// SetDate selects a new date window and clears window-scoped history. The
// caller reloads the window from a snapshot fetch.
func (a *Aggregator) SetDate(date time.Time) {
	a.mu.Lock()
	a.selectedDate = date.UTC()
	a.activities = nil
	a.mu.Unlock()
}

// LoadActivities replaces the activity feed from a snapshot fetch.
func (a *Aggregator) LoadActivities(acts []events.Activity) {
	filtered := acts[:0:0]
	for _, act := range acts {
		if act.Type == "sms" || act.Type == "call_log" {
			continue
		}
		filtered = append(filtered, act)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})
	a.mu.Lock()
	a.activities = filtered
	a.mu.Unlock()
}

// Dismiss removes one notification by id.
func (a *Aggregator) Dismiss(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, n := range a.notifications {
		if n.ID == id {
			a.notifications = append(a.notifications[:i], a.notifications[i+1:]...)
			return
		}
	}
}

// Reset clears all history, e.g. on device switch.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.activities = nil
	a.recent = nil
	a.mu.Unlock()
}

func (a *Aggregator) Notifications() []events.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]events.Notification, len(a.notifications))
	copy(out, a.notifications)
	return out
}

func (a *Aggregator) Activities() []events.Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]events.Activity, len(a.activities))
	copy(out, a.activities)
	return out
}

func (a *Aggregator) Recent() []events.Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]events.Activity, len(a.recent))
	copy(out, a.recent)
	return out
}

// SelectedDate returns the active date window.
func (a *Aggregator) SelectedDate() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selectedDate
}

// inWindow compares UTC calendar days, matching the wire format's
// YYYY-MM-DD date parameter. Callers hold a.mu.
func (a *Aggregator) inWindow(ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	return ts.UTC().Format(time.DateOnly) == a.selectedDate.Format(time.DateOnly)
}
