package store

import "sync"

type memoryStore struct {
	mu          sync.RWMutex
	settlements map[string]Settlement
}

// NewMemoryStore keeps the journal in process memory.
func NewMemoryStore() Store {
	return &memoryStore{settlements: make(map[string]Settlement)}
}

func (m *memoryStore) Set(identity string, settlement *Settlement) error {
	m.mu.Lock()
	m.settlements[identity] = *settlement
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(identity string) (*Settlement, error) {
	m.mu.RLock()
	s, ok := m.settlements[identity]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}
