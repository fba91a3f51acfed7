// internal/cache/memory.go
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// memory implements Cache with nested maps.
// It's intended for development and testing purposes.
type memory struct {
	mu      sync.RWMutex                 // Protects entries
	entries map[string]map[string][]byte // namespace -> key -> value
}

// NewMemory creates a new in-memory cache.
func NewMemory() Cache {
	return &memory{entries: make(map[string]map[string][]byte)}
}

func (m *memory) Lookup(ctx context.Context, namespace, key string) (json.RawMessage, error) {
	if err := validate(namespace, key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy so callers cannot modify the stored value
	return bytes.Clone(v), nil
}

func (m *memory) Insert(ctx context.Context, namespace, key string, value json.RawMessage) error {
	if err := validate(namespace, key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.entries[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.entries[namespace] = ns
	}
	ns[key] = bytes.Clone(value)
	return nil
}
