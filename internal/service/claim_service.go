package service

import (
	"context"
	"math"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/ledger"
	"points_ledger/internal/store"
)

const dateLayout = "2006-01-02"

type ClaimResult struct {
	CoinsEarned int64 `json:"coins_earned"`
	XPEarned    int64 `json:"xp_earned"`
	NewBalance  int64 `json:"new_balance"`
}

type DailyResult struct {
	CoinsEarned int64 `json:"coins_earned"`
	XPEarned    int64 `json:"xp_earned"`
	NewStreak   int   `json:"new_streak"`
	NewBalance  int64 `json:"new_balance"`
}

// ClaimService runs the farming, daily and task claim state machines. Every
// state change commits in the same ledger transaction as its reward.
type ClaimService struct {
	core  *ledger.Core
	rules Rules
}

func NewClaimService(core *ledger.Core, rules Rules) *ClaimService {
	return &ClaimService{core: core, rules: rules}
}

// StartFarming opens an 8h (by default) farming window.
func (s *ClaimService) StartFarming(ctx context.Context, accountID string) error {
	_, err := s.core.Mutate(ctx, accountID, "farming_start", func(_ context.Context, _ store.Tx, a *domain.Account) (ledger.Change, error) {
		now := s.core.Now()
		switch a.Farming.State(now) {
		case domain.ClaimActive:
			return ledger.Change{}, domain.AlreadyClaimed("farming already in progress")
		case domain.ClaimClaimable:
			return ledger.Change{}, domain.AlreadyClaimed("farming reward is waiting to be claimed")
		}
		a.Farming = domain.NewClaimWindow(now, s.rules.FarmingDuration)
		return ledger.Change{}, nil
	})
	return err
}

func (s *ClaimService) ClaimFarming(ctx context.Context, accountID string) (ClaimResult, error) {
	var out ClaimResult
	res, err := s.core.Mutate(ctx, accountID, domain.ReasonFarming, func(_ context.Context, _ store.Tx, a *domain.Account) (ledger.Change, error) {
		now := s.core.Now()
		switch a.Farming.State(now) {
		case domain.ClaimIdle:
			return ledger.Change{}, domain.AlreadyClaimed("no farming reward to claim")
		case domain.ClaimActive:
			return ledger.Change{}, domain.Validation("farming in progress")
		}

		m := farmingMultiplier(a, now)
		reward := int64(math.Floor(float64(s.rules.FarmingBaseReward) * m))
		out.CoinsEarned = reward
		out.XPEarned = xpFor(reward)
		meta := map[string]any{"multiplier": m}
		if st := a.Farming.Start(); st != nil {
			meta["started_at"] = st.Format(time.RFC3339)
		}
		a.Farming = domain.ClaimWindow{}
		return ledger.Change{Coins: out.CoinsEarned, XP: out.XPEarned, Metadata: meta}, nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	out.NewBalance = res.NewCoins
	return out, nil
}

// ClaimDaily grants the daily reward once per calendar day in the ledger timezone.
func (s *ClaimService) ClaimDaily(ctx context.Context, accountID string) (DailyResult, error) {
	var out DailyResult
	res, err := s.core.Mutate(ctx, accountID, domain.ReasonDaily, func(_ context.Context, _ store.Tx, a *domain.Account) (ledger.Change, error) {
		now := s.core.Now().In(s.rules.location())
		today := now.Format(dateLayout)
		if a.LastClaimDate != nil && *a.LastClaimDate == today {
			return ledger.Change{}, domain.AlreadyClaimed("daily reward already claimed today")
		}

		streak := 1
		yesterday := now.AddDate(0, 0, -1).Format(dateLayout)
		if a.LastClaimDate != nil && *a.LastClaimDate == yesterday {
			streak = a.DailyStreak + 1
		}

		reward := s.DailyReward(streak, a.EffectiveTier(now))
		a.DailyStreak = streak
		a.LastClaimDate = domain.StringPtr(today)

		out = DailyResult{CoinsEarned: reward, XPEarned: xpFor(reward), NewStreak: streak}
		return ledger.Change{
			Coins:    reward,
			XP:       out.XPEarned,
			Metadata: map[string]any{"streak": streak, "date": today},
		}, nil
	})
	if err != nil {
		return DailyResult{}, err
	}
	out.NewBalance = res.NewCoins
	return out, nil
}

// DailyReward is base + min(streak*step, cap) + the tier bonus.
func (s *ClaimService) DailyReward(streak int, tier domain.VIPTier) int64 {
	bonus := min(int64(streak)*s.rules.DailyStreakStep, s.rules.DailyStreakCap)
	return s.rules.DailyBaseReward + bonus + s.rules.VIPDailyBonus[tier]
}

func (s *ClaimService) CompleteTask(ctx context.Context, accountID, taskID string) error {
	if taskID == "" {
		return domain.Validation("task id is required")
	}
	_, err := s.core.Mutate(ctx, accountID, "task_complete", func(ctx context.Context, tx store.Tx, _ *domain.Account) (ledger.Change, error) {
		p, err := tx.TaskForUpdate(ctx, accountID, taskID)
		if err != nil {
			return ledger.Change{}, err
		}
		if p.Status != domain.TaskAvailable {
			return ledger.Change{}, domain.AlreadyClaimed("task %q already %s", taskID, p.Status)
		}
		now := s.core.Now()
		p.Status = domain.TaskCompleted
		p.CompletedAt = &now
		return ledger.Change{Apply: func(ctx context.Context, tx store.Tx) error {
			return tx.UpsertTask(ctx, p)
		}}, nil
	})
	return err
}

func (s *ClaimService) ClaimTask(ctx context.Context, accountID, taskID string, reward int64) (ClaimResult, error) {
	if taskID == "" {
		return ClaimResult{}, domain.Validation("task id is required")
	}
	if reward <= 0 {
		return ClaimResult{}, domain.Validation("task reward must be positive")
	}
	res, err := s.core.Mutate(ctx, accountID, domain.ReasonTask, func(ctx context.Context, tx store.Tx, _ *domain.Account) (ledger.Change, error) {
		p, err := tx.TaskForUpdate(ctx, accountID, taskID)
		if err != nil {
			return ledger.Change{}, err
		}
		switch p.Status {
		case domain.TaskAvailable:
			return ledger.Change{}, domain.Validation("task %q is not completed", taskID)
		case domain.TaskClaimed:
			return ledger.Change{}, domain.AlreadyClaimed("task %q already claimed", taskID)
		}
		now := s.core.Now()
		p.Status = domain.TaskClaimed
		p.Reward = reward
		p.ClaimedAt = &now
		return ledger.Change{
			Coins:    reward,
			XP:       xpFor(reward),
			Metadata: map[string]any{"task_id": taskID},
			Apply: func(ctx context.Context, tx store.Tx) error {
				return tx.UpsertTask(ctx, p)
			},
		}, nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{CoinsEarned: reward, XPEarned: xpFor(reward), NewBalance: res.NewCoins}, nil
}

func multiplier(m float64) float64 {
	if m <= 0 {
		return 1
	}
	return m
}
