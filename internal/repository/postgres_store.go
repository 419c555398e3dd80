package repository

import (
	"context"
	"fmt"

	"points_ledger/internal/domain"
	"points_ledger/internal/logger"
	"points_ledger/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnqueueFunc writes an outbox event inside the business transaction.
// main wires it to river.Client.InsertTx.
type EnqueueFunc func(ctx context.Context, tx pgx.Tx, ev domain.OutboxEvent) error

// PostgresStore is the transactional store backed by PostgreSQL.
type PostgresStore struct {
	db          *pgxpool.Pool
	accounts    *AccountRepository
	entries     *LedgerEntryRepository
	withdrawals *WithdrawalRepository
	referrals   *ReferralRepository
	tasks       *TaskRepository
	enqueue     EnqueueFunc
}

var _ store.Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db:          db,
		accounts:    NewAccountRepository(db),
		entries:     NewLedgerEntryRepository(db),
		withdrawals: NewWithdrawalRepository(db),
		referrals:   NewReferralRepository(db),
		tasks:       NewTaskRepository(),
	}
}

// SetEnqueue installs the outbox writer. Without one, events are only logged.
func (s *PostgresStore) SetEnqueue(fn EnqueueFunc) {
	s.enqueue = fn
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapConn("begin tx", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{s: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		// outcome unknown; retried deltas are deduplicated by operation id
		return domain.SyncFailure("commit tx", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return domain.SyncFailure("ping", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *PostgresStore) GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return s.withdrawals.GetByID(ctx, id)
}

func (s *PostgresStore) ListWithdrawals(ctx context.Context, accountID string, limit int) ([]*domain.WithdrawalRequest, error) {
	return s.withdrawals.GetByAccountID(ctx, accountID, limit)
}

func (s *PostgresStore) ListReferrals(ctx context.Context, referrerID string) ([]domain.ReferralEdge, error) {
	return s.referrals.GetByReferrer(ctx, referrerID)
}

func (s *PostgresStore) ListUncreditedReferrals(ctx context.Context, limit int) ([]domain.ReferralEdge, error) {
	return s.referrals.GetUncredited(ctx, limit)
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error) {
	return s.entries.GetByAccountID(ctx, accountID, limit)
}

// pgTx binds the repositories to one pgx transaction.
type pgTx struct {
	s  *PostgresStore
	tx pgx.Tx
}

func (t *pgTx) AccountForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	return t.s.accounts.GetForUpdate(ctx, t.tx, id)
}

func (t *pgTx) CreateAccount(ctx context.Context, a *domain.Account) error {
	return t.s.accounts.CreateWithTx(ctx, t.tx, a)
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *domain.Account) error {
	return t.s.accounts.UpdateWithTx(ctx, t.tx, a)
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	return t.s.entries.CreateWithTx(ctx, t.tx, e)
}

func (t *pgTx) LedgerEntryByOperation(ctx context.Context, accountID, operationID string) (*domain.LedgerEntry, error) {
	return t.s.entries.GetByOperationWithTx(ctx, t.tx, accountID, operationID)
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	return t.s.withdrawals.CreateWithTx(ctx, t.tx, w)
}

func (t *pgTx) WithdrawalForUpdate(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return t.s.withdrawals.GetForUpdate(ctx, t.tx, id)
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	return t.s.withdrawals.UpdateWithTx(ctx, t.tx, w)
}

func (t *pgTx) TaskForUpdate(ctx context.Context, accountID, taskID string) (*domain.TaskProgress, error) {
	return t.s.tasks.GetForUpdate(ctx, t.tx, accountID, taskID)
}

func (t *pgTx) UpsertTask(ctx context.Context, p *domain.TaskProgress) error {
	return t.s.tasks.UpsertWithTx(ctx, t.tx, p)
}

func (t *pgTx) InsertReferral(ctx context.Context, e *domain.ReferralEdge) (bool, error) {
	return t.s.referrals.CreateWithTx(ctx, t.tx, e)
}

func (t *pgTx) MarkReferralCredited(ctx context.Context, newAccountID string) (*domain.ReferralEdge, bool, error) {
	return t.s.referrals.MarkCreditedWithTx(ctx, t.tx, newAccountID)
}

func (t *pgTx) Enqueue(ctx context.Context, ev domain.OutboxEvent) error {
	if t.s.enqueue == nil {
		logger.Debug("outbox not wired, event dropped", "type", ev.Type, "account_id", ev.AccountID)
		return nil
	}
	return t.s.enqueue(ctx, t.tx, ev)
}
