package domain

import "time"

// LedgerEntry is the audit record written by every successful balance mutation.
type LedgerEntry struct {
	TransactionID  string         `json:"transaction_id"`
	AccountID      string         `json:"account_id"`
	CoinsDelta     int64          `json:"coins_delta"`
	XPDelta        int64          `json:"xp_delta"`
	RequestedCoins int64          `json:"requested_coins"`
	RequestedXP    int64          `json:"requested_xp"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	OperationID    *string        `json:"operation_id,omitempty"`
	BalanceAfter   int64          `json:"balance_after"`
	XPAfter        int64          `json:"xp_after"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Ledger reasons
const (
	ReasonFarming          = "farming_claim"
	ReasonDaily            = "daily_claim"
	ReasonTask             = "task_claim"
	ReasonWithdrawal       = "withdrawal_reserve"
	ReasonWithdrawalRefund = "withdrawal_refund"
	ReasonReferral         = "referral_bonus"
	ReasonPayment          = "payment"
	ReasonAdjustment       = "admin_adjustment"
)
