package repository

import (
	"context"
	"encoding/json"
	"errors"

	"points_ledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ledgerEntryColumns = `transaction_id, account_id, coins_delta, xp_delta, requested_coins, requested_xp,
	reason, metadata, operation_id, balance_after, xp_after, created_at`

type LedgerEntryRepository struct {
	db *pgxpool.Pool
}

func NewLedgerEntryRepository(db *pgxpool.Pool) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

// GetByAccountID returns the most recent entries first.
func (r *LedgerEntryRepository) GetByAccountID(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+ledgerEntryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, wrapConn("list ledger entries", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *LedgerEntryRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	var meta []byte
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (`+ledgerEntryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.TransactionID, e.AccountID, e.CoinsDelta, e.XPDelta, e.RequestedCoins, e.RequestedXP,
		e.Reason, meta, e.OperationID, e.BalanceAfter, e.XPAfter, e.CreatedAt)
	return wrapConn("insert ledger entry", err)
}

// GetByOperationWithTx returns nil, nil when the operation was never applied.
func (r *LedgerEntryRepository) GetByOperationWithTx(ctx context.Context, tx pgx.Tx, accountID, operationID string) (*domain.LedgerEntry, error) {
	e, err := scanLedgerEntry(tx.QueryRow(ctx, `
		SELECT `+ledgerEntryColumns+`
		FROM ledger_entries
		WHERE account_id = $1 AND operation_id = $2
	`, accountID, operationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapConn("get ledger entry by operation", err)
	}
	return e, nil
}

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var meta []byte
	if err := row.Scan(
		&e.TransactionID, &e.AccountID, &e.CoinsDelta, &e.XPDelta, &e.RequestedCoins, &e.RequestedXP,
		&e.Reason, &meta, &e.OperationID, &e.BalanceAfter, &e.XPAfter, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}
