package domain

import "time"

// WithdrawalMethod is a payout rail.
type WithdrawalMethod string

const (
	MethodUPI    WithdrawalMethod = "upi"
	MethodPayPal WithdrawalMethod = "paypal"
	MethodBank   WithdrawalMethod = "bank"
	MethodCrypto WithdrawalMethod = "crypto"
)

// RequiredDetails lists the method_details keys each method must carry.
var RequiredDetails = map[WithdrawalMethod][]string{
	MethodUPI:    {"upi_id"},
	MethodPayPal: {"email"},
	MethodBank:   {"account_number", "ifsc", "account_name"},
	MethodCrypto: {"address", "network"},
}

func (m WithdrawalMethod) Valid() bool {
	_, ok := RequiredDetails[m]
	return ok
}

// WithdrawalStatus represents withdrawal processing status
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalPaid      WithdrawalStatus = "paid"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:  {WithdrawalApproved, WithdrawalRejected, WithdrawalCancelled},
	WithdrawalApproved: {WithdrawalPaid, WithdrawalRejected},
}

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalPending, WithdrawalApproved, WithdrawalRejected, WithdrawalPaid, WithdrawalCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an admin may move a request from s to next.
func (s WithdrawalStatus) CanTransition(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Refundable statuses release the reserved balance back to the account.
func (s WithdrawalStatus) Refundable() bool {
	return s == WithdrawalRejected || s == WithdrawalCancelled
}

// WithdrawalRequest is created inside the transaction that debits the account.
type WithdrawalRequest struct {
	ID            string            `json:"id"`
	AccountID     string            `json:"account_id"`
	Amount        int64             `json:"amount"`
	Method        WithdrawalMethod  `json:"method"`
	MethodDetails map[string]string `json:"method_details"`
	Fee           int64             `json:"fee"`
	NetAmount     int64             `json:"net_amount"`
	TotalDeducted int64             `json:"total_deducted"`
	Status        WithdrawalStatus  `json:"status"`
	RequestedAt   time.Time         `json:"requested_at"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
	AdminNotes    *string           `json:"admin_notes,omitempty"`
	UserBalance   int64             `json:"user_balance"`
	Refunded      bool              `json:"refunded"`
}
