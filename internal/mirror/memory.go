package mirror

import (
	"context"
	"sync"

	"points_ledger/internal/domain"
)

// MemoryMirror is the in-process Mirror used in -memory mode and tests.
type MemoryMirror struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	seq      int
	watchers map[string]map[int]func(*domain.Account)
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{
		accounts: make(map[string]*domain.Account),
		watchers: make(map[string]map[int]func(*domain.Account)),
	}
}

func (m *MemoryMirror) Put(_ context.Context, acct *domain.Account) (bool, error) {
	m.mu.Lock()
	if cur, ok := m.accounts[acct.ID]; ok && cur.Version >= acct.Version {
		m.mu.Unlock()
		return false, nil
	}
	m.accounts[acct.ID] = acct.Clone()
	fns := make([]func(*domain.Account), 0, len(m.watchers[acct.ID]))
	for _, fn := range m.watchers[acct.ID] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(acct.Clone())
	}
	return true, nil
}

func (m *MemoryMirror) Get(_ context.Context, accountID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.NotFound("mirrored account", accountID)
	}
	return a.Clone(), nil
}

func (m *MemoryMirror) Watch(_ context.Context, accountID string, onUpdate func(*domain.Account), _ func(error)) (func(), error) {
	m.mu.Lock()
	m.seq++
	id := m.seq
	if m.watchers[accountID] == nil {
		m.watchers[accountID] = make(map[int]func(*domain.Account))
	}
	m.watchers[accountID][id] = onUpdate
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers[accountID], id)
		m.mu.Unlock()
	}, nil
}
