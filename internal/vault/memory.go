package vault

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	state *State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: NewState()}
}

// View implements Store.
func (m *MemoryStore) View(_ context.Context, fn func(*State) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

// Update implements Store. fn receives a deep copy of the current state;
// the copy replaces the committed state only when fn returns nil, so a
// failing update leaves no partial writes behind.
func (m *MemoryStore) Update(_ context.Context, fn func(*State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	m.state = next
	return nil
}

// Seed replaces the store's accounts. Intended for tests and bootstrap.
func (m *MemoryStore) Seed(accounts ...Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range accounts {
		a := accounts[i]
		m.state.Accounts[a.ID] = &a
	}
}
