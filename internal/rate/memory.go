package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryWindow keeps event timestamps per key in process memory.
type MemoryWindow struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	windows map[string]time.Duration
	now     func() time.Time
}

// NewMemoryWindow returns an empty window. now may be nil.
func NewMemoryWindow(now func() time.Time) *MemoryWindow {
	if now == nil {
		now = time.Now
	}
	return &MemoryWindow{
		events:  make(map[string][]time.Time),
		windows: make(map[string]time.Duration),
		now:     now,
	}
}

// CheckAndRecord implements Window.
func (m *MemoryWindow) CheckAndRecord(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if err := validate(limit, window); err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := trim(m.events[key], now.Add(-window))
	m.windows[key] = window

	if len(kept) >= limit {
		m.events[key] = kept
		return Decision{
			Allowed:    false,
			Count:      len(kept),
			Limit:      limit,
			RetryAfter: retryAfter(kept[0], window, now),
		}, nil
	}

	kept = append(kept, now)
	m.events[key] = kept
	return Decision{Allowed: true, Count: len(kept), Limit: limit}, nil
}

// Prune drops expired timestamps and empty keys.
func (m *MemoryWindow) Prune(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, events := range m.events {
		kept := trim(events, now.Add(-m.windows[key]))
		if len(kept) == 0 {
			delete(m.events, key)
			delete(m.windows, key)
			continue
		}
		m.events[key] = kept
	}
	return nil
}

// Len reports how many keys hold state.
func (m *MemoryWindow) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// trim drops timestamps at or before cutoff. events is sorted ascending.
func trim(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0:0], events[i:]...)
}
