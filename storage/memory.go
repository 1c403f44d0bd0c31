package storage

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryStore is an in-process SecureStore used by tests and as a fallback
// when no platform keystore is available. Entries do not survive process
// restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// GateFunc, when set, is consulted before releasing gated entries.
	// Returning false simulates a failed or cancelled biometric prompt.
	GateFunc func(name string, gate Gate) bool
}

type memoryEntry struct {
	value []byte
	gate  Gate
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

// Put stores a copy of value under name.
func (m *MemoryStore) Put(name string, value []byte, gate Gate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[name] = memoryEntry{value: stored, gate: gate}

	logrus.WithFields(logrus.Fields{
		"function": "Put",
		"entry":    name,
		"gated":    gate == GateBiometric,
	}).Debug("Stored secure entry")

	return nil
}

// Get returns a copy of the value stored under name.
func (m *MemoryStore) Get(name string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[name]
	gateFn := m.GateFunc
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	if entry.gate == GateBiometric && gateFn != nil && !gateFn(name, entry.gate) {
		return nil, ErrGateDenied
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Delete removes the entry under name, if present.
func (m *MemoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, name)
	return nil
}
