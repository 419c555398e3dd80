package domain

import "time"

// TaskStatus is the per-(account, task) claim state.
type TaskStatus string

const (
	TaskAvailable TaskStatus = "available"
	TaskCompleted TaskStatus = "completed"
	TaskClaimed   TaskStatus = "claimed"
)

type TaskProgress struct {
	AccountID   string     `json:"account_id"`
	TaskID      string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	Reward      int64      `json:"reward"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}

// NewTaskProgress returns the implicit state of a task never touched before.
func NewTaskProgress(accountID, taskID string) *TaskProgress {
	return &TaskProgress{AccountID: accountID, TaskID: taskID, Status: TaskAvailable}
}
