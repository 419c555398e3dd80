package repository

import (
	"context"
	"errors"
	"time"

	"points_ledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, coins, xp, level, vip_tier, vip_expiry, farming_multiplier, referral_multiplier,
	daily_streak, last_claim_date, farming_start, farming_end, referrer_id, referral_count,
	referral_earnings, version, last_operation_id, created_at, updated_at`

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID returns the account or a not-found error.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, r.db, id, false)
}

// GetForUpdate locks the account row until tx ends.
func (r *AccountRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Account, error) {
	return getAccount(ctx, tx, id, true)
}

func getAccount(ctx context.Context, q querier, id string, lock bool) (*domain.Account, error) {
	sql := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	a, err := scanAccount(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("account", id)
	}
	if err != nil {
		return nil, wrapConn("get account", err)
	}
	return a, nil
}

func (r *AccountRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, a *domain.Account) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO NOTHING
	`, accountArgs(a)...)
	if err != nil {
		return wrapConn("create account", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Validation("account %q already exists", a.ID)
	}
	return nil
}

func (r *AccountRepository) UpdateWithTx(ctx context.Context, tx pgx.Tx, a *domain.Account) error {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET
			coins = $2, xp = $3, level = $4, vip_tier = $5, vip_expiry = $6,
			farming_multiplier = $7, referral_multiplier = $8, daily_streak = $9,
			last_claim_date = $10, farming_start = $11, farming_end = $12, referrer_id = $13,
			referral_count = $14, referral_earnings = $15, version = $16,
			last_operation_id = $17, created_at = $18, updated_at = $19
		WHERE id = $1
	`, accountArgs(a)...)
	if err != nil {
		return wrapConn("update account", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("account", a.ID)
	}
	return nil
}

func accountArgs(a *domain.Account) []any {
	return []any{
		a.ID, a.Coins, a.XP, a.Level, string(a.VIPTier), a.VIPExpiry, a.FarmingMultiplier, a.ReferralMultiplier,
		a.DailyStreak, a.LastClaimDate, a.Farming.Start(), a.Farming.End(), a.ReferrerID, a.ReferralCount,
		a.ReferralEarnings, a.Version, a.LastOperationID, a.CreatedAt, a.UpdatedAt,
	}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var tier string
	var farmingStart, farmingEnd *time.Time
	if err := row.Scan(
		&a.ID, &a.Coins, &a.XP, &a.Level, &tier, &a.VIPExpiry, &a.FarmingMultiplier, &a.ReferralMultiplier,
		&a.DailyStreak, &a.LastClaimDate, &farmingStart, &farmingEnd, &a.ReferrerID, &a.ReferralCount,
		&a.ReferralEarnings, &a.Version, &a.LastOperationID, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.VIPTier = domain.VIPTier(tier)
	a.Farming = domain.ClaimWindowFromBounds(farmingStart, farmingEnd)
	return &a, nil
}
