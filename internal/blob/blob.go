// Package blob stores attachment bytes outside the task records. Tasks keep
// only the returned ids.
package blob

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrEmpty = errors.New("blob: empty payload")

type Store interface {
	Save(ctx context.Context, data []byte) (string, error)
	// Load reports false when no blob has the id.
	Load(ctx context.Context, id string) ([]byte, bool, error)
	Delete(ctx context.Context, id string) error
}

// Memory keeps blobs in process memory.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Save(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.blobs[id] = append([]byte(nil), data...)
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) Load(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Delete is a no-op for unknown ids.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.blobs, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
