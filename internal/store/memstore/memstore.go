// Package memstore is an in-process implementation of store.Store. Transactions
// are serialized by a single mutex and staged until commit, which makes it a
// faithful stand-in for the Postgres store in tests and in -memory dev mode.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"points_ledger/internal/domain"
	"points_ledger/internal/store"
)

var errUnreachable = errors.New("memstore: store unreachable")

type taskKey struct{ account, task string }

type data struct {
	accounts    map[string]*domain.Account
	withdrawals map[string]*domain.WithdrawalRequest
	tasks       map[taskKey]*domain.TaskProgress
	referrals   map[string]*domain.ReferralEdge
	entries     []*domain.LedgerEntry
}

func newData() *data {
	return &data{
		accounts:    make(map[string]*domain.Account),
		withdrawals: make(map[string]*domain.WithdrawalRequest),
		tasks:       make(map[taskKey]*domain.TaskProgress),
		referrals:   make(map[string]*domain.ReferralEdge),
	}
}

// Store keeps every document in memory.
type Store struct {
	mu          sync.Mutex
	d           *data
	outbox      []domain.OutboxEvent
	unreachable atomic.Bool
	onCommit    func(ctx context.Context, events []domain.OutboxEvent)
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{d: newData()}
}

// OnCommit registers a hook receiving the outbox events of every committed transaction.
func (s *Store) OnCommit(fn func(ctx context.Context, events []domain.OutboxEvent)) {
	s.mu.Lock()
	s.onCommit = fn
	s.mu.Unlock()
}

// SetReachable simulates losing or regaining connectivity to the store.
func (s *Store) SetReachable(ok bool) {
	s.unreachable.Store(!ok)
}

// Outbox returns every event committed so far.
func (s *Store) Outbox() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxEvent(nil), s.outbox...)
}

func (s *Store) check(op string) error {
	if s.unreachable.Load() {
		return domain.SyncFailure(op, errUnreachable)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.check("ping")
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.check("begin tx"); err != nil {
		return err
	}
	t, hook, err := s.run(ctx, fn)
	if err != nil {
		return err
	}
	if hook != nil && len(t.events) > 0 {
		hook(ctx, t.events)
	}
	return nil
}

// run executes fn under the store lock and commits on success. A panicking
// fn leaves nothing staged and releases the lock.
func (s *Store) run(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (*tx, func(context.Context, []domain.OutboxEvent), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{base: s.d, staged: newData()}
	if err := fn(ctx, t); err != nil {
		return nil, nil, err
	}
	if err := s.check("commit tx"); err != nil {
		return nil, nil, err
	}
	t.commit()
	s.outbox = append(s.outbox, t.events...)
	return t, s.onCommit, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if err := s.check("get account"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.accounts[id]
	if !ok {
		return nil, domain.NotFound("account", id)
	}
	return a.Clone(), nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	if err := s.check("get withdrawal"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.d.withdrawals[id]
	if !ok {
		return nil, domain.NotFound("withdrawal", id)
	}
	return cloneWithdrawal(w), nil
}

func (s *Store) ListWithdrawals(ctx context.Context, accountID string, limit int) ([]*domain.WithdrawalRequest, error) {
	if err := s.check("list withdrawals"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*domain.WithdrawalRequest
	for _, w := range s.d.withdrawals {
		if w.AccountID == accountID {
			res = append(res, cloneWithdrawal(w))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RequestedAt.After(res[j].RequestedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *Store) ListReferrals(ctx context.Context, referrerID string) ([]domain.ReferralEdge, error) {
	if err := s.check("list referrals"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.ReferralEdge
	for _, e := range s.d.referrals {
		if e.ReferrerID == referrerID {
			res = append(res, *e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *Store) ListUncreditedReferrals(ctx context.Context, limit int) ([]domain.ReferralEdge, error) {
	if err := s.check("list uncredited referrals"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.ReferralEdge
	for _, e := range s.d.referrals {
		if !e.Credited {
			res = append(res, *e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error) {
	if err := s.check("list ledger entries"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*domain.LedgerEntry
	for i := len(s.d.entries) - 1; i >= 0; i-- {
		e := s.d.entries[i]
		if e.AccountID != accountID {
			continue
		}
		cp := *e
		res = append(res, &cp)
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func cloneWithdrawal(w *domain.WithdrawalRequest) *domain.WithdrawalRequest {
	cp := *w
	if w.MethodDetails != nil {
		cp.MethodDetails = make(map[string]string, len(w.MethodDetails))
		for k, v := range w.MethodDetails {
			cp.MethodDetails[k] = v
		}
	}
	return &cp
}
