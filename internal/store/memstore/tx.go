package memstore

import (
	"context"
	"time"

	"points_ledger/internal/domain"
)

// tx stages writes on top of the committed data. Store methods must not be
// called from inside InTx: the store mutex is held for the whole transaction.
type tx struct {
	base    *data
	staged  *data
	events  []domain.OutboxEvent
	entries []*domain.LedgerEntry
}

func (t *tx) account(id string) (*domain.Account, bool) {
	if a, ok := t.staged.accounts[id]; ok {
		return a, true
	}
	a, ok := t.base.accounts[id]
	return a, ok
}

func (t *tx) AccountForUpdate(_ context.Context, id string) (*domain.Account, error) {
	a, ok := t.account(id)
	if !ok {
		return nil, domain.NotFound("account", id)
	}
	return a.Clone(), nil
}

func (t *tx) CreateAccount(_ context.Context, a *domain.Account) error {
	if _, ok := t.account(a.ID); ok {
		return domain.Validation("account %q already exists", a.ID)
	}
	t.staged.accounts[a.ID] = a.Clone()
	return nil
}

func (t *tx) UpdateAccount(_ context.Context, a *domain.Account) error {
	if _, ok := t.account(a.ID); !ok {
		return domain.NotFound("account", a.ID)
	}
	t.staged.accounts[a.ID] = a.Clone()
	return nil
}

func (t *tx) InsertLedgerEntry(_ context.Context, e *domain.LedgerEntry) error {
	cp := *e
	t.entries = append(t.entries, &cp)
	return nil
}

func (t *tx) LedgerEntryByOperation(_ context.Context, accountID, operationID string) (*domain.LedgerEntry, error) {
	for _, list := range [][]*domain.LedgerEntry{t.base.entries, t.entries} {
		for _, e := range list {
			if e.AccountID == accountID && e.OperationID != nil && *e.OperationID == operationID {
				cp := *e
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (t *tx) withdrawal(id string) (*domain.WithdrawalRequest, bool) {
	if w, ok := t.staged.withdrawals[id]; ok {
		return w, true
	}
	w, ok := t.base.withdrawals[id]
	return w, ok
}

func (t *tx) InsertWithdrawal(_ context.Context, w *domain.WithdrawalRequest) error {
	if _, ok := t.withdrawal(w.ID); ok {
		return domain.Validation("withdrawal %q already exists", w.ID)
	}
	t.staged.withdrawals[w.ID] = cloneWithdrawal(w)
	return nil
}

func (t *tx) WithdrawalForUpdate(_ context.Context, id string) (*domain.WithdrawalRequest, error) {
	w, ok := t.withdrawal(id)
	if !ok {
		return nil, domain.NotFound("withdrawal", id)
	}
	return cloneWithdrawal(w), nil
}

func (t *tx) UpdateWithdrawal(_ context.Context, w *domain.WithdrawalRequest) error {
	if _, ok := t.withdrawal(w.ID); !ok {
		return domain.NotFound("withdrawal", w.ID)
	}
	t.staged.withdrawals[w.ID] = cloneWithdrawal(w)
	return nil
}

func (t *tx) TaskForUpdate(_ context.Context, accountID, taskID string) (*domain.TaskProgress, error) {
	k := taskKey{accountID, taskID}
	if p, ok := t.staged.tasks[k]; ok {
		cp := *p
		return &cp, nil
	}
	if p, ok := t.base.tasks[k]; ok {
		cp := *p
		return &cp, nil
	}
	return domain.NewTaskProgress(accountID, taskID), nil
}

func (t *tx) UpsertTask(_ context.Context, p *domain.TaskProgress) error {
	cp := *p
	t.staged.tasks[taskKey{p.AccountID, p.TaskID}] = &cp
	return nil
}

func (t *tx) referral(newAccountID string) (*domain.ReferralEdge, bool) {
	if e, ok := t.staged.referrals[newAccountID]; ok {
		return e, true
	}
	e, ok := t.base.referrals[newAccountID]
	return e, ok
}

func (t *tx) InsertReferral(_ context.Context, e *domain.ReferralEdge) (bool, error) {
	if _, ok := t.referral(e.NewAccountID); ok {
		return false, nil
	}
	cp := *e
	t.staged.referrals[e.NewAccountID] = &cp
	return true, nil
}

func (t *tx) MarkReferralCredited(_ context.Context, newAccountID string) (*domain.ReferralEdge, bool, error) {
	e, ok := t.referral(newAccountID)
	if !ok || e.Credited {
		return nil, false, nil
	}
	cp := *e
	now := time.Now().UTC()
	cp.Credited = true
	cp.CreditedAt = &now
	t.staged.referrals[newAccountID] = &cp
	res := cp
	return &res, true, nil
}

func (t *tx) Enqueue(_ context.Context, ev domain.OutboxEvent) error {
	t.events = append(t.events, ev)
	return nil
}

func (t *tx) commit() {
	for k, v := range t.staged.accounts {
		t.base.accounts[k] = v
	}
	for k, v := range t.staged.withdrawals {
		t.base.withdrawals[k] = v
	}
	for k, v := range t.staged.tasks {
		t.base.tasks[k] = v
	}
	for k, v := range t.staged.referrals {
		t.base.referrals[k] = v
	}
	t.base.entries = append(t.base.entries, t.entries...)
}
