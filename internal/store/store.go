package store

import (
	"context"

	"points_ledger/internal/domain"
)

// Store is the transactional store: the authoritative datastore supporting
// atomic read-modify-write per account.
type Store interface {
	// InTx runs fn inside one transaction. A non-nil error from fn rolls back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Ping is the lightweight reachability handshake used by the connection monitor.
	Ping(ctx context.Context) error

	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, accountID string, limit int) ([]*domain.WithdrawalRequest, error)
	ListReferrals(ctx context.Context, referrerID string) ([]domain.ReferralEdge, error)
	ListUncreditedReferrals(ctx context.Context, limit int) ([]domain.ReferralEdge, error)
	ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error)
}

// Tx is the set of reads and writes available inside a transaction. Reads that
// return documents for update lock them until the transaction ends.
type Tx interface {
	AccountForUpdate(ctx context.Context, id string) (*domain.Account, error)
	CreateAccount(ctx context.Context, a *domain.Account) error
	UpdateAccount(ctx context.Context, a *domain.Account) error

	InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error
	LedgerEntryByOperation(ctx context.Context, accountID, operationID string) (*domain.LedgerEntry, error)

	InsertWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error
	WithdrawalForUpdate(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error

	TaskForUpdate(ctx context.Context, accountID, taskID string) (*domain.TaskProgress, error)
	UpsertTask(ctx context.Context, t *domain.TaskProgress) error

	// InsertReferral returns false when an edge for the new account already exists.
	InsertReferral(ctx context.Context, e *domain.ReferralEdge) (bool, error)
	// MarkReferralCredited returns false when the edge is missing or already credited.
	MarkReferralCredited(ctx context.Context, newAccountID string) (*domain.ReferralEdge, bool, error)

	// Enqueue records an outbox event delivered after commit.
	Enqueue(ctx context.Context, ev domain.OutboxEvent) error
}
