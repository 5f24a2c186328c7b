package custody

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory SecurityStore for tests and previews. It does
// not survive process restart; production flows use SQLiteStore.
type MemoryStore struct {
	mu        sync.Mutex
	state     SecurityState
	biometric bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadSecurityState(ctx context.Context) (SecurityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Locked = false
	s.LockoutRemaining = 0
	return s, nil
}

func (m *MemoryStore) SaveSecurityState(ctx context.Context, s SecurityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Locked = false
	s.LockoutRemaining = 0
	m.state = s
	return nil
}

func (m *MemoryStore) BiometricEnabled(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.biometric, nil
}

func (m *MemoryStore) SetBiometricEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.biometric = enabled
	return nil
}
