package repository

import (
	"context"
	"encoding/json"
	"errors"

	"points_ledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const withdrawalColumns = `id, account_id, amount, method, method_details, fee, net_amount, total_deducted,
	status, requested_at, processed_at, admin_notes, user_balance, refunded`

type WithdrawalRepository struct {
	db *pgxpool.Pool
}

func NewWithdrawalRepository(db *pgxpool.Pool) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// GetByID retrieves withdrawal by ID
func (r *WithdrawalRepository) GetByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return getWithdrawal(ctx, r.db, id, false)
}

func (r *WithdrawalRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.WithdrawalRequest, error) {
	return getWithdrawal(ctx, tx, id, true)
}

func getWithdrawal(ctx context.Context, q querier, id string, lock bool) (*domain.WithdrawalRequest, error) {
	sql := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	w, err := scanWithdrawal(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("withdrawal", id)
	}
	if err != nil {
		return nil, wrapConn("get withdrawal", err)
	}
	return w, nil
}

// GetByAccountID retrieves the newest withdrawals of an account
func (r *WithdrawalRepository) GetByAccountID(ctx context.Context, accountID string, limit int) ([]*domain.WithdrawalRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE account_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, wrapConn("list withdrawals", err)
	}
	defer rows.Close()

	var out []*domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *WithdrawalRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
	details, err := json.Marshal(w.MethodDetails)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, w.ID, w.AccountID, w.Amount, string(w.Method), details, w.Fee, w.NetAmount, w.TotalDeducted,
		string(w.Status), w.RequestedAt, w.ProcessedAt, w.AdminNotes, w.UserBalance, w.Refunded)
	return wrapConn("insert withdrawal", err)
}

func (r *WithdrawalRepository) UpdateWithTx(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
	tag, err := tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2, processed_at = $3, admin_notes = $4, refunded = $5
		WHERE id = $1
	`, w.ID, string(w.Status), w.ProcessedAt, w.AdminNotes, w.Refunded)
	if err != nil {
		return wrapConn("update withdrawal", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("withdrawal", w.ID)
	}
	return nil
}

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var method, status string
	var details []byte
	if err := row.Scan(
		&w.ID, &w.AccountID, &w.Amount, &method, &details, &w.Fee, &w.NetAmount, &w.TotalDeducted,
		&status, &w.RequestedAt, &w.ProcessedAt, &w.AdminNotes, &w.UserBalance, &w.Refunded,
	); err != nil {
		return nil, err
	}
	w.Method = domain.WithdrawalMethod(method)
	w.Status = domain.WithdrawalStatus(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &w.MethodDetails); err != nil {
			return nil, err
		}
	}
	return &w, nil
}
