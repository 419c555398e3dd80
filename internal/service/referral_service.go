package service

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"points_ledger/internal/domain"
	"points_ledger/internal/ledger"
	"points_ledger/internal/logger"
	"points_ledger/internal/store"
)

// ReferralService attributes new accounts to referrers and credits the bonus
// exactly once. Attribution and credit are two single-account transactions;
// CreditPending heals edges left uncredited between them.
type ReferralService struct {
	core  *ledger.Core
	rules Rules
	log   *slog.Logger
}

func NewReferralService(core *ledger.Core, rules Rules) *ReferralService {
	return &ReferralService{core: core, rules: rules, log: logger.With("component", "referral")}
}

// RegisterAccount creates the account with its referrer recorded in the
// creating transaction, then credits the referrer.
func (s *ReferralService) RegisterAccount(ctx context.Context, accountID, referrerID string) (*domain.Account, error) {
	if referrerID != "" && referrerID != accountID {
		if _, err := s.core.Store().GetAccount(ctx, referrerID); err != nil {
			if domain.CodeOf(err) != domain.CodeNotFound {
				return nil, err
			}
			s.log.Warn("unknown referrer ignored", "account_id", accountID, "referrer_id", referrerID)
			referrerID = ""
		}
	}

	acct, created, err := s.core.EnsureAccount(ctx, accountID, referrerID)
	if err != nil {
		return nil, err
	}
	if created && acct.ReferrerID != nil {
		if _, err := s.AttributeReferral(ctx, accountID, *acct.ReferrerID); err != nil {
			return nil, err
		}
		return s.core.Store().GetAccount(ctx, accountID)
	}
	return acct, nil
}

// AttributeReferral links newAccountID to referrerID and credits the reward.
// It reports whether this call credited the referrer.
func (s *ReferralService) AttributeReferral(ctx context.Context, newAccountID, referrerID string) (bool, error) {
	if newAccountID == "" {
		return false, domain.Validation("account id is required")
	}
	if referrerID == "" || referrerID == newAccountID {
		return false, nil
	}

	referrer, err := s.core.Store().GetAccount(ctx, referrerID)
	if err != nil {
		return false, err
	}
	reward := int64(math.Floor(float64(s.rules.ReferralReward) * referralMultiplier(referrer, s.core.Now())))

	_, err = s.core.Mutate(ctx, newAccountID, "referral_attribution", func(ctx context.Context, tx store.Tx, a *domain.Account) (ledger.Change, error) {
		if a.ReferrerID != nil && *a.ReferrerID != referrerID {
			return ledger.Change{}, ledger.ErrNoChange
		}
		now := s.core.Now()
		a.ReferrerID = domain.StringPtr(referrerID)
		edge := &domain.ReferralEdge{
			ReferrerID:   referrerID,
			NewAccountID: newAccountID,
			Reward:       reward,
			CreatedAt:    now,
		}
		return ledger.Change{Apply: func(ctx context.Context, tx store.Tx) error {
			inserted, err := tx.InsertReferral(ctx, edge)
			if err != nil || !inserted {
				return err
			}
			return tx.Enqueue(ctx, domain.OutboxEvent{
				Type:       domain.EventReferralAttributed,
				AccountID:  newAccountID,
				Payload:    map[string]any{"referrer_id": referrerID, "reward": reward},
				OccurredAt: now,
			})
		}}, nil
	})
	if errors.Is(err, ledger.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return s.credit(ctx, referrerID, newAccountID)
}

// credit is the referrer-side transaction. It is a no-op once the edge is credited.
func (s *ReferralService) credit(ctx context.Context, referrerID, newAccountID string) (bool, error) {
	_, err := s.core.Mutate(ctx, referrerID, domain.ReasonReferral, func(ctx context.Context, tx store.Tx, a *domain.Account) (ledger.Change, error) {
		edge, ok, err := tx.MarkReferralCredited(ctx, newAccountID)
		if err != nil {
			return ledger.Change{}, err
		}
		if !ok || edge.ReferrerID != referrerID {
			return ledger.Change{}, ledger.ErrNoChange
		}
		a.ReferralCount++
		a.ReferralEarnings += edge.Reward

		now := s.core.Now()
		return ledger.Change{
			Coins:    edge.Reward,
			Metadata: map[string]any{"new_account_id": newAccountID},
			Apply: func(ctx context.Context, tx store.Tx) error {
				return tx.Enqueue(ctx, domain.OutboxEvent{
					Type:       domain.EventReferralCredited,
					AccountID:  referrerID,
					Payload:    map[string]any{"new_account_id": newAccountID, "reward": edge.Reward},
					OccurredAt: now,
				})
			},
		}, nil
	})
	if errors.Is(err, ledger.ErrNoChange) {
		return false, nil
	}
	return err == nil, err
}

// CreditPending credits edges whose referrer-side transaction never ran.
func (s *ReferralService) CreditPending(ctx context.Context, limit int) (int, error) {
	edges, err := s.core.Store().ListUncreditedReferrals(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range edges {
		ok, err := s.credit(ctx, e.ReferrerID, e.NewAccountID)
		if err != nil {
			if domain.IsTransient(err) {
				return n, err
			}
			s.log.Error("referral credit failed", "referrer_id", e.ReferrerID, "new_account_id", e.NewAccountID, "error", err)
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		s.log.Info("credited pending referrals", "count", n)
	}
	return n, nil
}

func (s *ReferralService) Stats(ctx context.Context, accountID string) (*domain.ReferralStats, error) {
	acct, err := s.core.Store().GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	edges, err := s.core.Store().ListReferrals(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if edges == nil {
		edges = []domain.ReferralEdge{}
	}
	return &domain.ReferralStats{
		ReferralCount:    acct.ReferralCount,
		ReferralEarnings: acct.ReferralEarnings,
		Referrals:        edges,
	}, nil
}
