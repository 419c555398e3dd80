package service

import (
	"context"
	"testing"
	"time"

	"points_ledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFarmingWindow(t *testing.T) {
	core, s, clk := newTestCore(t, "u1")
	svc := NewClaimService(core, DefaultRules())
	ctx := context.Background()

	_, err := svc.ClaimFarming(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	require.NoError(t, svc.StartFarming(ctx, "u1"))
	assert.ErrorIs(t, svc.StartFarming(ctx, "u1"), domain.ErrAlreadyClaimed)

	clk.Advance(8*time.Hour - time.Second)
	_, err = svc.ClaimFarming(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	clk.Advance(time.Second)
	assert.ErrorIs(t, svc.StartFarming(ctx, "u1"), domain.ErrAlreadyClaimed)

	res, err := svc.ClaimFarming(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.CoinsEarned)
	assert.Equal(t, int64(10), res.XPEarned)

	// claiming again right away is a re-claim
	_, err = svc.ClaimFarming(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.Farming.IsIdle())
	assert.Nil(t, acct.Farming.End())
	assert.Equal(t, int64(100), acct.Coins)
}

func TestFarmingUsesMultiplierUntilVIPExpires(t *testing.T) {
	core, _, clk := newTestCore(t, "u1")
	svc := NewClaimService(core, DefaultRules())
	vip := NewVIPService(core)
	ctx := context.Background()

	_, err := vip.Activate(ctx, "u1", domain.VIPTier2, 24*time.Hour)
	require.NoError(t, err)

	require.NoError(t, svc.StartFarming(ctx, "u1"))
	clk.Advance(8 * time.Hour)
	res, err := svc.ClaimFarming(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.CoinsEarned)

	clk.Advance(20 * time.Hour)
	require.NoError(t, svc.StartFarming(ctx, "u1"))
	clk.Advance(8 * time.Hour)
	res, err = svc.ClaimFarming(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.CoinsEarned)
}

func TestDailyStreakLaw(t *testing.T) {
	core, s, clk := newTestCore(t, "u1")
	svc := NewClaimService(core, DefaultRules())
	ctx := context.Background()

	res, err := svc.ClaimDaily(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewStreak)
	assert.Equal(t, int64(60), res.CoinsEarned)

	_, err = svc.ClaimDaily(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	clk.Advance(24 * time.Hour)
	res, err = svc.ClaimDaily(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewStreak)
	assert.Equal(t, int64(70), res.CoinsEarned)

	clk.Advance(3 * 24 * time.Hour)
	res, err = svc.ClaimDaily(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewStreak)

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, acct.LastClaimDate)
	assert.Equal(t, "2026-03-14", *acct.LastClaimDate)
	assert.Equal(t, 1, acct.DailyStreak)
	assert.Equal(t, int64(60+70+60), acct.Coins)
}

func TestDailyUsesCalendarDayInLocation(t *testing.T) {
	core, _, clk := newTestCore(t, "u1")
	rules := DefaultRules()
	rules.Location = time.FixedZone("UTC+5", 5*3600)
	svc := NewClaimService(core, rules)
	ctx := context.Background()

	// 18:00 UTC is 23:00 local; two hours later is the next local day.
	clk.now = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	_, err := svc.ClaimDaily(ctx, "u1")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	res, err := svc.ClaimDaily(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewStreak)
}

func TestDailyRewardCapAndVIPBonus(t *testing.T) {
	svc := NewClaimService(nil, DefaultRules())
	assert.Equal(t, int64(60), svc.DailyReward(1, domain.VIPFree))
	assert.Equal(t, int64(150), svc.DailyReward(10, domain.VIPFree))
	assert.Equal(t, int64(150), svc.DailyReward(30, domain.VIPFree))
	assert.Equal(t, int64(175), svc.DailyReward(30, domain.VIPTier1))
	assert.Equal(t, int64(200), svc.DailyReward(30, domain.VIPTier2))
}

func TestTaskClaimSequence(t *testing.T) {
	core, s, _ := newTestCore(t, "u1")
	svc := NewClaimService(core, DefaultRules())
	ctx := context.Background()

	_, err := svc.ClaimTask(ctx, "u1", "join-channel", 250)
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, svc.CompleteTask(ctx, "u1", "join-channel"))
	assert.ErrorIs(t, svc.CompleteTask(ctx, "u1", "join-channel"), domain.ErrAlreadyClaimed)

	_, err = svc.ClaimTask(ctx, "u1", "join-channel", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	res, err := svc.ClaimTask(ctx, "u1", "join-channel", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), res.NewBalance)
	assert.Equal(t, int64(25), res.XPEarned)

	_, err = svc.ClaimTask(ctx, "u1", "join-channel", 250)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), acct.Coins)
}

func TestClaimsOnMissingAccount(t *testing.T) {
	core, _, _ := newTestCore(t)
	svc := NewClaimService(core, DefaultRules())
	assert.ErrorIs(t, svc.StartFarming(context.Background(), "ghost"), domain.ErrNotFound)
}
