package domain

import "time"

// ReferralEdge links a new account to the account that referred it. At most one
// edge exists per new account.
type ReferralEdge struct {
	ReferrerID   string     `json:"referrer_id"`
	NewAccountID string     `json:"new_account_id"`
	Reward       int64      `json:"reward"`
	Credited     bool       `json:"credited"`
	CreatedAt    time.Time  `json:"created_at"`
	CreditedAt   *time.Time `json:"credited_at,omitempty"`
}

type ReferralStats struct {
	ReferralCount    int            `json:"referral_count"`
	ReferralEarnings int64          `json:"referral_earnings"`
	Referrals        []ReferralEdge `json:"referrals"`
}
