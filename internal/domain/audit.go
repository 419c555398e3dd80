package domain

import "time"

// OutboxEvent is written in the same transaction as the change it describes and
// delivered to subscribers after commit.
type OutboxEvent struct {
	Type       string         `json:"type"`
	AccountID  string         `json:"account_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Outbox event types
const (
	EventWithdrawalCreated       = "withdrawal.created"
	EventWithdrawalStatusChanged = "withdrawal.status_changed"
	EventReferralAttributed      = "referral.attributed"
	EventReferralCredited        = "referral.credited"
	EventVIPActivated            = "vip.activated"
)
