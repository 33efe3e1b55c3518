package metrics

import "time"

// IngestEvent is one counted occurrence in the ingestion path: a frame
// received, a reconnect scheduled, an event normalized, a frame dropped.
type IngestEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev IngestEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(IngestEvent) {}
