package domain

import "time"

// VIPTier is a multiplier/limit profile applied to rewards and withdrawals.
type VIPTier string

const (
	VIPFree  VIPTier = "free"
	VIPTier1 VIPTier = "tier1"
	VIPTier2 VIPTier = "tier2"
)

func (t VIPTier) Valid() bool {
	switch t {
	case VIPFree, VIPTier1, VIPTier2:
		return true
	}
	return false
}

// XPPerLevel is the amount of xp needed to gain one level.
const XPPerLevel = 1000

// Account is the ledger's unit of balance and claim state.
type Account struct {
	ID                 string      `json:"id"`
	Coins              int64       `json:"coins"`
	XP                 int64       `json:"xp"`
	Level              int         `json:"level"`
	VIPTier            VIPTier     `json:"vip_tier"`
	VIPExpiry          *time.Time  `json:"vip_expiry,omitempty"`
	FarmingMultiplier  float64     `json:"farming_multiplier"`
	ReferralMultiplier float64     `json:"referral_multiplier"`
	DailyStreak        int         `json:"daily_streak"`
	LastClaimDate      *string     `json:"last_claim_date,omitempty"`
	Farming            ClaimWindow `json:"farming"`
	ReferrerID         *string     `json:"referrer_id,omitempty"`
	ReferralCount      int         `json:"referral_count"`
	ReferralEarnings   int64       `json:"referral_earnings"`
	Version            int64       `json:"version"`
	LastOperationID    *string     `json:"last_operation_id,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// NewAccount returns a fresh free-tier account. It is the only constructor the
// write paths use, so every persisted account has all required fields set.
func NewAccount(id string, now time.Time) *Account {
	return &Account{
		ID:                 id,
		Level:              1,
		VIPTier:            VIPFree,
		FarmingMultiplier:  1,
		ReferralMultiplier: 1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// EffectiveTier returns the VIP tier taking expiry into account.
func (a *Account) EffectiveTier(now time.Time) VIPTier {
	if a.VIPTier == VIPFree || a.VIPTier == "" {
		return VIPFree
	}
	if a.VIPExpiry != nil && !now.Before(*a.VIPExpiry) {
		return VIPFree
	}
	return a.VIPTier
}

// LevelFor derives the level from xp.
func LevelFor(xp int64) int {
	if xp < 0 {
		xp = 0
	}
	return int(xp/XPPerLevel) + 1
}

// Clone returns a deep copy safe to hand to another goroutine.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.VIPExpiry = cloneTime(a.VIPExpiry)
	cp.LastClaimDate = cloneString(a.LastClaimDate)
	cp.ReferrerID = cloneString(a.ReferrerID)
	cp.LastOperationID = cloneString(a.LastOperationID)
	cp.Farming = ClaimWindow{start: cloneTime(a.Farming.start), end: cloneTime(a.Farming.end)}
	return &cp
}

// AccountPath is the sync path of an account document.
func AccountPath(id string) string {
	return "accounts/" + id
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a helper for optional string fields.
func StringPtr(s string) *string { return &s }
