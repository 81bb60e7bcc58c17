package storage

import (
	"sort"
	"sync"

	"github.com/chazu/bobbin/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// In-memory variable storage and host state
// ---------------------------------------------------------------------------

// MemoryStorage is a map-backed VariableStorage. Safe for concurrent use.
type MemoryStorage struct {
	mu   sync.RWMutex
	vars map[string]bytecode.Value
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{vars: make(map[string]bytecode.Value)}
}

// Get returns the stored value for a name.
func (m *MemoryStorage) Get(name string) (bytecode.Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vars[name]
	return v, ok
}

// Set stores a value, replacing any previous one.
func (m *MemoryStorage) Set(name string, value bytecode.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[name] = value
}

// InitializeIfAbsent stores the value only when the name is unset.
func (m *MemoryStorage) InitializeIfAbsent(name string, value bytecode.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vars[name]; !ok {
		m.vars[name] = value
	}
}

// Contains reports whether a name is set.
func (m *MemoryStorage) Contains(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.vars[name]
	return ok
}

// Names returns all stored names, sorted.
func (m *MemoryStorage) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.vars))
	for name := range m.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MapHostState is a map-backed HostState for extern variables.
type MapHostState struct {
	mu   sync.RWMutex
	vars map[string]bytecode.Value
}

// NewMapHostState creates an empty host state.
func NewMapHostState() *MapHostState {
	return &MapHostState{vars: make(map[string]bytecode.Value)}
}

// Lookup returns the host value for an extern name.
func (h *MapHostState) Lookup(name string) (bytecode.Value, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.vars[name]
	return v, ok
}

// Set publishes a value to scripts.
func (h *MapHostState) Set(name string, value bytecode.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vars[name] = value
}

// Delete removes a published value.
func (h *MapHostState) Delete(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.vars, name)
}
