package service

import (
	"context"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/ledger"
	"points_ledger/internal/store"
)

type tierProfile struct {
	farming  float64
	referral float64
}

var tierProfiles = map[domain.VIPTier]tierProfile{
	domain.VIPFree:  {farming: 1, referral: 1},
	domain.VIPTier1: {farming: 1.5, referral: 1.25},
	domain.VIPTier2: {farming: 2, referral: 1.5},
}

// VIPService is called by the payment collaborator after a successful purchase.
type VIPService struct {
	core *ledger.Core
}

func NewVIPService(core *ledger.Core) *VIPService {
	return &VIPService{core: core}
}

// Activate grants tier for d. Renewing the active tier extends its expiry.
func (s *VIPService) Activate(ctx context.Context, accountID string, tier domain.VIPTier, d time.Duration) (*domain.Account, error) {
	if !tier.Valid() {
		return nil, domain.Validation("unknown vip tier %q", tier)
	}
	if tier != domain.VIPFree && d <= 0 {
		return nil, domain.Validation("vip duration must be positive")
	}

	_, err := s.core.Mutate(ctx, accountID, "vip_activation", func(_ context.Context, _ store.Tx, a *domain.Account) (ledger.Change, error) {
		now := s.core.Now()
		p := tierProfiles[tier]
		a.FarmingMultiplier = p.farming
		a.ReferralMultiplier = p.referral

		if tier == domain.VIPFree {
			a.VIPTier = domain.VIPFree
			a.VIPExpiry = nil
		} else {
			from := now
			if a.EffectiveTier(now) == tier && a.VIPExpiry != nil {
				from = *a.VIPExpiry
			}
			exp := from.Add(d)
			a.VIPTier = tier
			a.VIPExpiry = &exp
		}

		payload := map[string]any{"tier": string(tier)}
		if a.VIPExpiry != nil {
			payload["expires_at"] = a.VIPExpiry.Format(time.RFC3339)
		}
		return ledger.Change{Apply: func(ctx context.Context, tx store.Tx) error {
			return tx.Enqueue(ctx, domain.OutboxEvent{
				Type:       domain.EventVIPActivated,
				AccountID:  accountID,
				Payload:    payload,
				OccurredAt: now,
			})
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.core.Store().GetAccount(ctx, accountID)
}

// farmingMultiplier drops an expired tier back to the free profile.
func farmingMultiplier(a *domain.Account, now time.Time) float64 {
	if a.VIPTier != domain.VIPFree && a.EffectiveTier(now) == domain.VIPFree {
		return tierProfiles[domain.VIPFree].farming
	}
	return multiplier(a.FarmingMultiplier)
}

// referralMultiplier is farmingMultiplier for the referral bonus.
func referralMultiplier(a *domain.Account, now time.Time) float64 {
	if a.VIPTier != domain.VIPFree && a.EffectiveTier(now) == domain.VIPFree {
		return tierProfiles[domain.VIPFree].referral
	}
	return multiplier(a.ReferralMultiplier)
}
