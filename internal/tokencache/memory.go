package tokencache

import (
	"context"
	"sync"
)

// Memory is a process-local Cache. Entries do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[UserIdentity]CachedCredential
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[UserIdentity]CachedCredential)}
}

func (m *Memory) Get(_ context.Context, user UserIdentity) (CachedCredential, bool, error) {
	if user.IsZero() {
		return CachedCredential{}, false, ErrEmptyIdentity
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.entries[user]

	return cred, ok, nil
}

func (m *Memory) Set(_ context.Context, user UserIdentity, cred CachedCredential) error {
	if user.IsZero() {
		return ErrEmptyIdentity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[user] = cred

	return nil
}

func (m *Memory) Clear(_ context.Context, user UserIdentity) error {
	if user.IsZero() {
		return ErrEmptyIdentity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, user)

	return nil
}
