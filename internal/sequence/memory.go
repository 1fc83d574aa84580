package sequence

import (
	"context"
	"sync"
)

// MemoryCounter keeps counters in process memory. It satisfies both
// AtomicCounter and CASCounter.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

func (m *MemoryCounter) Increment(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name]++
	return m.values[name], nil
}

func (m *MemoryCounter) Load(_ context.Context, name string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	return v, ok, nil
}

func (m *MemoryCounter) Insert(_ context.Context, name string, value int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[name]; ok {
		return false, nil
	}
	m.values[name] = value
	return true, nil
}

func (m *MemoryCounter) CompareAndSwap(_ context.Context, name string, prev, next int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[name]; !ok || v != prev {
		return false, nil
	}
	m.values[name] = next
	return true, nil
}
