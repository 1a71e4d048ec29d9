// Package settings persists the few per-Miniserver values the client keeps
// across connections: the password and the issued authentication token.
package settings

import (
	"sort"
	"sync"
)

// Keys used by the security layer.
const (
	KeyAuthToken = "authToken"
	KeyPassword  = "password"
	// KeyTokenHashAlg is the getkey2 hash algorithm the stored token was
	// issued under. Empty means SHA1.
	KeyTokenHashAlg = "tokenHashAlg"
)

// Store is a small string key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns a Memory store seeded with initial values.
func NewMemory(initial map[string]string) *Memory {
	m := &Memory{values: make(map[string]string, len(initial))}
	for k, v := range initial {
		m.values[k] = v
	}
	return m
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns the stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
