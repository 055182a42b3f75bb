// Package memory provides an in-memory KV driver. It is the default for
// tests and for callers that do not want credentials to outlive the process.
package memory

import (
	"context"
	"sync"

	"github.com/chesspath/chessauth/pkg/tokenstore"
)

type KV struct {
	mu   sync.RWMutex
	data map[string]string

	// Fail, when set, is returned from every operation. Tests use it to
	// exercise the token store's error containment.
	Fail error
}

func New() *KV {
	return &KV{data: make(map[string]string)}
}

func (m *KV) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Fail != nil {
		return "", m.Fail
	}

	v, ok := m.data[key]
	if !ok {
		return "", tokenstore.ErrNotFound
	}
	return v, nil
}

func (m *KV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		return m.Fail
	}

	m.data[key] = value
	return nil
}

func (m *KV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		return m.Fail
	}

	delete(m.data, key)
	return nil
}

// Clear drops all data, useful for resetting between tests.
func (m *KV) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]string)
}

// Snapshot returns a copy of the stored data for assertions.
func (m *KV) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
