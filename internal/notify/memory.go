package notify

import (
	"context"
	"sync"
)

// Memory records notifications. Useful for tests; not intended for production use.
type Memory struct {
	mu    sync.Mutex
	items []Notification
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Notify(_ context.Context, n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
}

func (m *Memory) All() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.items))
	copy(out, m.items)
	return out
}

// Count returns how many notifications of kind were recorded.
func (m *Memory) Count(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
}
