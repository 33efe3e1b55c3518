package metrics

import "sync"

type MemoryObserver struct {
	mu     sync.Mutex
	events []IngestEvent
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev IngestEvent) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *MemoryObserver) Events() []IngestEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]IngestEvent, len(m.events))
	copy(out, m.events)
	return out
}

// CountByName returns how many recorded events carry the given name.
func (m *MemoryObserver) CountByName(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}
