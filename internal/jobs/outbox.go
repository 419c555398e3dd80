// Package jobs drains the transactional outbox with river: events are inserted
// as jobs inside the business transaction and published after commit.
package jobs

import (
	"context"
	"fmt"

	"points_ledger/internal/domain"
	"points_ledger/internal/events"
	"points_ledger/internal/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

type LedgerEventArgs struct {
	Event domain.OutboxEvent `json:"event"`
}

func (LedgerEventArgs) Kind() string { return "ledger_event" }

// LedgerEventWorker hands outbox events to the publisher. A publish error
// makes river retry the job with its default backoff.
type LedgerEventWorker struct {
	river.WorkerDefaults[LedgerEventArgs]
	publisher events.Publisher
}

func NewLedgerEventWorker(p events.Publisher) *LedgerEventWorker {
	return &LedgerEventWorker{publisher: p}
}

func (w *LedgerEventWorker) Work(ctx context.Context, job *river.Job[LedgerEventArgs]) error {
	ev := job.Args.Event
	if err := w.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish %s for %s: %w", ev.Type, ev.AccountID, err)
	}
	return nil
}

// Migrate applies river's own schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("apply river migrations: %w", err)
	}
	return nil
}

func NewClient(pool *pgxpool.Pool, p events.Publisher, maxWorkers int) (*river.Client[pgx.Tx], error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, NewLedgerEventWorker(p))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return client, nil
}

// InsertTxFunc adapts the client to the store's outbox hook.
func InsertTxFunc(client *river.Client[pgx.Tx]) func(ctx context.Context, tx pgx.Tx, ev domain.OutboxEvent) error {
	return func(ctx context.Context, tx pgx.Tx, ev domain.OutboxEvent) error {
		if _, err := client.InsertTx(ctx, tx, LedgerEventArgs{Event: ev}, nil); err != nil {
			return fmt.Errorf("insert outbox job: %w", err)
		}
		return nil
	}
}

// PublishCommitted delivers events directly. It backs the in-memory store,
// which has no durable outbox.
func PublishCommitted(p events.Publisher) func(ctx context.Context, evs []domain.OutboxEvent) {
	return func(ctx context.Context, evs []domain.OutboxEvent) {
		for _, ev := range evs {
			if err := p.Publish(ctx, ev); err != nil {
				logger.Warn("outbox publish failed", "type", ev.Type, "account_id", ev.AccountID, "error", err)
			}
		}
	}
}
