package events

import (
	"context"

	"points_ledger/internal/domain"
	"points_ledger/internal/logger"
)

// Publisher delivers committed outbox events to collaborators outside the process.
type Publisher interface {
	Publish(ctx context.Context, ev domain.OutboxEvent) error
}

// LogPublisher is used when no message bus is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev domain.OutboxEvent) error {
	logger.Info("outbox event", "type", ev.Type, "account_id", ev.AccountID)
	return nil
}
