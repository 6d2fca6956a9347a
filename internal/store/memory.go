package store

import (
	"context"
	"sync"
)

// Memory keeps the document in process memory. Useful for tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	Writes int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) EnsureSchema(context.Context) error { return nil }

func (m *Memory) Read(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *Memory) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.Writes++
	return nil
}

func (m *Memory) Close() error { return nil }
