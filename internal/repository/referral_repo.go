package repository

import (
	"context"
	"errors"
	"time"

	"points_ledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const referralColumns = `referrer_id, new_account_id, reward, credited, created_at, credited_at`

type ReferralRepository struct {
	db *pgxpool.Pool
}

func NewReferralRepository(db *pgxpool.Pool) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// GetByReferrer lists the accounts referred by referrerID, newest first.
func (r *ReferralRepository) GetByReferrer(ctx context.Context, referrerID string) ([]domain.ReferralEdge, error) {
	return r.list(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE referrer_id = $1
		ORDER BY created_at DESC
	`, referrerID)
}

// GetUncredited lists edges whose referrer has not been paid yet, oldest first.
func (r *ReferralRepository) GetUncredited(ctx context.Context, limit int) ([]domain.ReferralEdge, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE NOT credited
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
}

func (r *ReferralRepository) list(ctx context.Context, sql string, args ...any) ([]domain.ReferralEdge, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapConn("list referrals", err)
	}
	defer rows.Close()

	var out []domain.ReferralEdge
	for rows.Next() {
		var e domain.ReferralEdge
		if err := rows.Scan(&e.ReferrerID, &e.NewAccountID, &e.Reward, &e.Credited, &e.CreatedAt, &e.CreditedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateWithTx inserts the edge; false means one already exists for the new account.
func (r *ReferralRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, e *domain.ReferralEdge) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO referrals (`+referralColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (new_account_id) DO NOTHING
	`, e.ReferrerID, e.NewAccountID, e.Reward, e.Credited, e.CreatedAt, e.CreditedAt)
	if err != nil {
		return false, wrapConn("insert referral", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCreditedWithTx flips credited exactly once and returns the edge.
func (r *ReferralRepository) MarkCreditedWithTx(ctx context.Context, tx pgx.Tx, newAccountID string) (*domain.ReferralEdge, bool, error) {
	var e domain.ReferralEdge
	err := tx.QueryRow(ctx, `
		UPDATE referrals
		SET credited = TRUE, credited_at = $2
		WHERE new_account_id = $1 AND NOT credited
		RETURNING `+referralColumns,
		newAccountID, time.Now().UTC(),
	).Scan(&e.ReferrerID, &e.NewAccountID, &e.Reward, &e.Credited, &e.CreatedAt, &e.CreditedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapConn("mark referral credited", err)
	}
	return &e, true, nil
}
