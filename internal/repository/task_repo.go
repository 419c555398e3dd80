package repository

import (
	"context"
	"errors"

	"points_ledger/internal/domain"

	"github.com/jackc/pgx/v5"
)

type TaskRepository struct{}

func NewTaskRepository() *TaskRepository {
	return &TaskRepository{}
}

// GetForUpdate locks the progress row. A task never touched is reported as available.
func (r *TaskRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, accountID, taskID string) (*domain.TaskProgress, error) {
	var p domain.TaskProgress
	var status string
	err := tx.QueryRow(ctx, `
		SELECT account_id, task_id, status, reward, completed_at, claimed_at
		FROM task_progress
		WHERE account_id = $1 AND task_id = $2
		FOR UPDATE
	`, accountID, taskID).Scan(&p.AccountID, &p.TaskID, &status, &p.Reward, &p.CompletedAt, &p.ClaimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewTaskProgress(accountID, taskID), nil
	}
	if err != nil {
		return nil, wrapConn("get task progress", err)
	}
	p.Status = domain.TaskStatus(status)
	return &p, nil
}

func (r *TaskRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, p *domain.TaskProgress) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO task_progress (account_id, task_id, status, reward, completed_at, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, task_id) DO UPDATE
		SET status = EXCLUDED.status, reward = EXCLUDED.reward,
		    completed_at = EXCLUDED.completed_at, claimed_at = EXCLUDED.claimed_at
	`, p.AccountID, p.TaskID, string(p.Status), p.Reward, p.CompletedAt, p.ClaimedAt)
	return wrapConn("upsert task progress", err)
}
