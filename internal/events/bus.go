package events

import (
	"context"
	"sync"

	"points_ledger/internal/domain"
)

// AccountChanged is emitted after a ledger transaction commits.
type AccountChanged struct {
	Account *domain.Account
	// Optimistic marks snapshots computed locally from queued writes.
	Optimistic bool
}

// Bus fans account changes out to in-process listeners. Handlers run
// synchronously in publish order and must not block.
type Bus struct {
	mu       sync.RWMutex
	seq      int
	handlers map[int]func(context.Context, AccountChanged)
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]func(context.Context, AccountChanged))}
}

// Subscribe registers fn and returns a function removing it.
func (b *Bus) Subscribe(fn func(context.Context, AccountChanged)) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.handlers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(ctx context.Context, ev AccountChanged) {
	b.mu.RLock()
	hs := make([]func(context.Context, AccountChanged), 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ctx, ev)
	}
}
