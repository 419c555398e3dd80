package service

import (
	"time"

	"points_ledger/internal/domain"
)

// Rules are the economy constants shared by the claim, withdrawal and referral
// services. Config fills them from the environment.
type Rules struct {
	Location *time.Location

	FarmingDuration   time.Duration
	FarmingBaseReward int64

	DailyBaseReward int64
	DailyStreakStep int64
	DailyStreakCap  int64
	VIPDailyBonus   map[domain.VIPTier]int64

	ReferralReward int64

	MinWithdrawal    int64
	WithdrawalLimits map[domain.VIPTier]int64
}

func DefaultRules() Rules {
	return Rules{
		Location:          time.UTC,
		FarmingDuration:   8 * time.Hour,
		FarmingBaseReward: 100,
		DailyBaseReward:   50,
		DailyStreakStep:   10,
		DailyStreakCap:    100,
		VIPDailyBonus: map[domain.VIPTier]int64{
			domain.VIPFree:  0,
			domain.VIPTier1: 25,
			domain.VIPTier2: 50,
		},
		ReferralReward: 500,
		MinWithdrawal:  100,
		WithdrawalLimits: map[domain.VIPTier]int64{
			domain.VIPFree:  10_000,
			domain.VIPTier1: 50_000,
			domain.VIPTier2: 100_000,
		},
	}
}

func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// xpFor is the xp granted alongside a coin reward.
func xpFor(reward int64) int64 {
	return reward / 10
}
