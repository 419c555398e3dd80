package service

import (
	"context"
	"strings"

	"points_ledger/internal/domain"
	"points_ledger/internal/ledger"
	"points_ledger/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type feeRule struct {
	rate   decimal.Decimal
	minFee int64
}

var feeRules = map[domain.WithdrawalMethod]feeRule{
	domain.MethodUPI:    {rate: decimal.RequireFromString("0.02"), minFee: 5},
	domain.MethodPayPal: {rate: decimal.RequireFromString("0.03"), minFee: 10},
	domain.MethodBank:   {rate: decimal.RequireFromString("0.025"), minFee: 15},
	domain.MethodCrypto: {rate: decimal.RequireFromString("0.015"), minFee: 20},
}

var fallbackFee = feeRule{rate: decimal.RequireFromString("0.05")}

// CalculateFee returns max(minFee, ceil(amount*rate)) for the method.
func CalculateFee(amount int64, method domain.WithdrawalMethod) int64 {
	rule, ok := feeRules[method]
	if !ok {
		rule = fallbackFee
	}
	fee := decimal.NewFromInt(amount).Mul(rule.rate).Ceil().IntPart()
	return max(rule.minFee, fee)
}

type WithdrawalInput struct {
	AccountID     string                  `json:"-"`
	Amount        int64                   `json:"amount"`
	Method        domain.WithdrawalMethod `json:"method"`
	MethodDetails map[string]string       `json:"method_details"`
}

type WithdrawalResult struct {
	WithdrawalID  string `json:"withdrawal_id"`
	Fee           int64  `json:"fee"`
	NetAmount     int64  `json:"net_amount"`
	TotalDeducted int64  `json:"total_deducted"`
	NewBalance    int64  `json:"new_balance"`
}

type FeeEstimate struct {
	Amount        int64                   `json:"amount"`
	Method        domain.WithdrawalMethod `json:"method"`
	Fee           int64                   `json:"fee"`
	NetAmount     int64                   `json:"net_amount"`
	TotalDeducted int64                   `json:"total_deducted"`
}

// WithdrawalService reserves balance for payouts and records the request in
// the same transaction.
type WithdrawalService struct {
	core  *ledger.Core
	rules Rules
}

func NewWithdrawalService(core *ledger.Core, rules Rules) *WithdrawalService {
	return &WithdrawalService{core: core, rules: rules}
}

func (s *WithdrawalService) EstimateFee(amount int64, method domain.WithdrawalMethod) (FeeEstimate, error) {
	if amount <= 0 {
		return FeeEstimate{}, domain.Validation("amount must be positive")
	}
	if !method.Valid() {
		return FeeEstimate{}, domain.Validation("unsupported withdrawal method %q", method)
	}
	fee := CalculateFee(amount, method)
	return FeeEstimate{Amount: amount, Method: method, Fee: fee, NetAmount: amount, TotalDeducted: amount + fee}, nil
}

func validateDetails(method domain.WithdrawalMethod, details map[string]string) error {
	required, ok := domain.RequiredDetails[method]
	if !ok {
		return domain.Validation("unsupported withdrawal method %q", method)
	}
	for _, k := range required {
		if strings.TrimSpace(details[k]) == "" {
			return domain.Validation("method_details.%s is required for %s", k, method)
		}
	}
	return nil
}

func (s *WithdrawalService) CreateWithdrawal(ctx context.Context, in WithdrawalInput) (WithdrawalResult, error) {
	if in.AccountID == "" {
		return WithdrawalResult{}, domain.Validation("account id is required")
	}
	if in.Amount <= 0 {
		return WithdrawalResult{}, domain.Validation("amount must be positive")
	}
	if err := validateDetails(in.Method, in.MethodDetails); err != nil {
		return WithdrawalResult{}, err
	}

	fee := CalculateFee(in.Amount, in.Method)
	total := in.Amount + fee
	w := &domain.WithdrawalRequest{
		ID:            uuid.NewString(),
		AccountID:     in.AccountID,
		Amount:        in.Amount,
		Method:        in.Method,
		MethodDetails: in.MethodDetails,
		Fee:           fee,
		NetAmount:     in.Amount,
		TotalDeducted: total,
		Status:        domain.WithdrawalPending,
	}

	res, err := s.core.Mutate(ctx, in.AccountID, domain.ReasonWithdrawal, func(_ context.Context, _ store.Tx, a *domain.Account) (ledger.Change, error) {
		now := s.core.Now()
		if in.Amount < s.rules.MinWithdrawal {
			return ledger.Change{}, domain.LimitExceeded("minimum withdrawal is %d", s.rules.MinWithdrawal)
		}
		if limit, ok := s.rules.WithdrawalLimits[a.EffectiveTier(now)]; ok && in.Amount > limit {
			return ledger.Change{}, domain.LimitExceeded("maximum withdrawal for %s is %d", a.EffectiveTier(now), limit)
		}
		if a.Coins < total {
			return ledger.Change{}, domain.InsufficientBalance(a.Coins, total)
		}

		w.RequestedAt = now
		w.UserBalance = a.Coins
		return ledger.Change{
			Coins:    -total,
			Metadata: map[string]any{"withdrawal_id": w.ID, "method": string(w.Method), "fee": fee},
			Apply: func(ctx context.Context, tx store.Tx) error {
				if err := tx.InsertWithdrawal(ctx, w); err != nil {
					return err
				}
				return tx.Enqueue(ctx, domain.OutboxEvent{
					Type:       domain.EventWithdrawalCreated,
					AccountID:  w.AccountID,
					Payload:    map[string]any{"withdrawal_id": w.ID, "amount": w.Amount, "fee": w.Fee, "method": string(w.Method)},
					OccurredAt: now,
				})
			},
		}, nil
	})
	if err != nil {
		return WithdrawalResult{}, err
	}
	return WithdrawalResult{
		WithdrawalID:  w.ID,
		Fee:           fee,
		NetAmount:     in.Amount,
		TotalDeducted: total,
		NewBalance:    res.NewCoins,
	}, nil
}

// UpdateStatus moves a request along its lifecycle. Rejected and cancelled
// requests are refunded in the same transaction, once.
func (s *WithdrawalService) UpdateStatus(ctx context.Context, id string, status domain.WithdrawalStatus, notes string) (*domain.WithdrawalRequest, error) {
	if !status.Valid() {
		return nil, domain.Validation("invalid status %q", status)
	}
	cur, err := s.core.Store().GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *domain.WithdrawalRequest
	reason := "withdrawal_status"
	if status.Refundable() {
		reason = domain.ReasonWithdrawalRefund
	}
	_, err = s.core.Mutate(ctx, cur.AccountID, reason, func(ctx context.Context, tx store.Tx, _ *domain.Account) (ledger.Change, error) {
		w, err := tx.WithdrawalForUpdate(ctx, id)
		if err != nil {
			return ledger.Change{}, err
		}
		if !w.Status.CanTransition(status) {
			return ledger.Change{}, domain.Validation("cannot move withdrawal from %s to %s", w.Status, status)
		}

		now := s.core.Now()
		prev := w.Status
		w.Status = status
		w.ProcessedAt = &now
		if notes != "" {
			w.AdminNotes = domain.StringPtr(notes)
		}
		var refund int64
		if status.Refundable() && !w.Refunded {
			refund = w.TotalDeducted
			w.Refunded = true
		}
		updated = w

		return ledger.Change{
			Coins:    refund,
			Metadata: map[string]any{"withdrawal_id": w.ID, "status": string(status)},
			Apply: func(ctx context.Context, tx store.Tx) error {
				if err := tx.UpdateWithdrawal(ctx, w); err != nil {
					return err
				}
				return tx.Enqueue(ctx, domain.OutboxEvent{
					Type:       domain.EventWithdrawalStatusChanged,
					AccountID:  w.AccountID,
					Payload:    map[string]any{"withdrawal_id": w.ID, "from": string(prev), "to": string(status), "refund": refund},
					OccurredAt: now,
				})
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *WithdrawalService) GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return s.core.Store().GetWithdrawal(ctx, id)
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, accountID string, limit int) ([]*domain.WithdrawalRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.core.Store().ListWithdrawals(ctx, accountID, limit)
}
