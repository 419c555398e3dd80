package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/events"
	"points_ledger/internal/logger"
	"points_ledger/internal/store"

	"github.com/google/uuid"
)

// Delta is the validated input of ApplyDelta. Build it with NewDelta.
type Delta struct {
	AccountID   string
	Coins       int64
	XP          int64
	Reason      string
	Metadata    map[string]any
	OperationID string
}

// NewDelta validates the required fields of a balance change.
func NewDelta(accountID string, coins, xp int64, reason string) (Delta, error) {
	if accountID == "" {
		return Delta{}, domain.Validation("account id is required")
	}
	if reason == "" {
		return Delta{}, domain.Validation("reason is required")
	}
	if coins == 0 && xp == 0 {
		return Delta{}, domain.Validation("delta must change coins or xp")
	}
	return Delta{AccountID: accountID, Coins: coins, XP: xp, Reason: reason}, nil
}

// WithMetadata returns a copy of d carrying metadata.
func (d Delta) WithMetadata(m map[string]any) Delta {
	d.Metadata = m
	return d
}

// WithOperation returns a copy of d deduplicated by operation id.
func (d Delta) WithOperation(id string) Delta {
	d.OperationID = id
	return d
}

// Result is returned by every balance mutation.
type Result struct {
	NewCoins      int64  `json:"new_coins"`
	NewXP         int64  `json:"new_xp"`
	TransactionID string `json:"transaction_id"`
	// Queued is set when the write was accepted offline and awaits delivery.
	Queued bool `json:"queued,omitempty"`
	// Replayed is set when the operation id had already been applied.
	Replayed bool `json:"replayed,omitempty"`
}

// ErrNoChange may be returned by a Mutate callback to roll back without
// touching the account. Mutate passes it through to the caller.
var ErrNoChange = errors.New("ledger: no change")

// Change is what a Mutate callback asks the core to commit alongside the
// account. Coins and XP are deltas; Apply runs extra writes in the same tx.
type Change struct {
	Coins    int64
	XP       int64
	Metadata map[string]any
	Apply    func(ctx context.Context, tx store.Tx) error
}

// Core is the only component allowed to change a balance.
type Core struct {
	store store.Store
	bus   *events.Bus
	now   func() time.Time
	log   *slog.Logger
}

func NewCore(s store.Store, bus *events.Bus) *Core {
	return &Core{
		store: s,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.With("component", "ledger"),
	}
}

// SetClock replaces the time source.
func (c *Core) SetClock(now func() time.Time) { c.now = now }

func (c *Core) Now() time.Time { return c.now() }

func (c *Core) Store() store.Store { return c.store }

// ApplyDelta atomically adds the delta to the account, clamping at zero.
func (c *Core) ApplyDelta(ctx context.Context, d Delta) (Result, error) {
	if d.AccountID == "" || d.Reason == "" {
		return Result{}, domain.Validation("delta requires account id and reason")
	}

	var res Result
	var committed *domain.Account
	start := time.Now()
	err := c.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if d.OperationID != "" {
			prev, err := tx.LedgerEntryByOperation(ctx, d.AccountID, d.OperationID)
			if err != nil {
				return err
			}
			if prev != nil {
				res = Result{NewCoins: prev.BalanceAfter, NewXP: prev.XPAfter, TransactionID: prev.TransactionID, Replayed: true}
				// republish so caches that missed the original commit catch up
				committed, err = tx.AccountForUpdate(ctx, d.AccountID)
				return err
			}
		}

		acct, err := tx.AccountForUpdate(ctx, d.AccountID)
		if err != nil {
			return err
		}
		res, err = c.apply(ctx, tx, acct, d.Coins, d.XP, d.Reason, d.Metadata, d.OperationID)
		if err != nil {
			return err
		}
		committed = acct
		return nil
	})
	observeTx(d.Reason, start, err)
	if err != nil {
		return Result{}, err
	}
	if committed != nil {
		c.publish(ctx, committed)
	}
	return res, nil
}

// Mutate runs fn against the locked account and commits the returned change
// together with a ledger entry. fn may change claim state on the account but
// must leave Coins and XP to the core.
func (c *Core) Mutate(ctx context.Context, accountID, reason string, fn func(ctx context.Context, tx store.Tx, acct *domain.Account) (Change, error)) (Result, error) {
	var res Result
	var committed *domain.Account
	start := time.Now()
	err := c.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.AccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		coins, xp := acct.Coins, acct.XP
		ch, err := fn(ctx, tx, acct)
		if err != nil {
			return err
		}
		// the callback never owns the balance
		acct.Coins, acct.XP = coins, xp

		if ch.Apply != nil {
			if err := ch.Apply(ctx, tx); err != nil {
				return err
			}
		}
		if ch.Coins == 0 && ch.XP == 0 {
			acct.Version++
			acct.UpdatedAt = c.now()
			if err := tx.UpdateAccount(ctx, acct); err != nil {
				return err
			}
			res = Result{NewCoins: acct.Coins, NewXP: acct.XP}
		} else {
			res, err = c.apply(ctx, tx, acct, ch.Coins, ch.XP, reason, ch.Metadata, "")
			if err != nil {
				return err
			}
		}
		committed = acct
		return nil
	})
	observeTx(reason, start, err)
	if err != nil {
		return Result{}, err
	}
	c.publish(ctx, committed)
	return res, nil
}

// EnsureAccount creates the account when missing. A non-empty referrerID is
// recorded in the creating transaction so attribution cannot race creation.
// It reports whether the account was created.
func (c *Core) EnsureAccount(ctx context.Context, accountID, referrerID string) (*domain.Account, bool, error) {
	if accountID == "" {
		return nil, false, domain.Validation("account id is required")
	}
	var acct *domain.Account
	created := false
	err := c.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.AccountForUpdate(ctx, accountID)
		if err == nil {
			acct = existing
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		acct = domain.NewAccount(accountID, c.now())
		acct.Version = 1
		if referrerID != "" && referrerID != accountID {
			acct.ReferrerID = domain.StringPtr(referrerID)
		}
		created = true
		return tx.CreateAccount(ctx, acct)
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		c.publish(ctx, acct)
	}
	return acct, created, nil
}

// apply clamps and writes the delta on a locked account.
func (c *Core) apply(ctx context.Context, tx store.Tx, acct *domain.Account, coins, xp int64, reason string, meta map[string]any, opID string) (Result, error) {
	newCoins := acct.Coins + coins
	newXP := acct.XP + xp
	if newCoins < 0 || newXP < 0 {
		clampedTotal.Inc()
		c.log.Warn("delta clamped at zero", "account_id", acct.ID, "reason", reason, "coins_delta", coins, "xp_delta", xp)
	}
	newCoins = max(0, newCoins)
	newXP = max(0, newXP)

	now := c.now()
	entry := &domain.LedgerEntry{
		TransactionID:  uuid.NewString(),
		AccountID:      acct.ID,
		CoinsDelta:     newCoins - acct.Coins,
		XPDelta:        newXP - acct.XP,
		RequestedCoins: coins,
		RequestedXP:    xp,
		Reason:         reason,
		Metadata:       meta,
		BalanceAfter:   newCoins,
		XPAfter:        newXP,
		CreatedAt:      now,
	}
	if opID != "" {
		entry.OperationID = domain.StringPtr(opID)
		acct.LastOperationID = domain.StringPtr(opID)
	}

	acct.Coins = newCoins
	acct.XP = newXP
	acct.Level = domain.LevelFor(newXP)
	acct.Version++
	acct.UpdatedAt = now

	if err := tx.UpdateAccount(ctx, acct); err != nil {
		return Result{}, err
	}
	if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
		return Result{}, err
	}
	deltasTotal.WithLabelValues(reason).Inc()
	return Result{NewCoins: newCoins, NewXP: newXP, TransactionID: entry.TransactionID}, nil
}

func (c *Core) publish(ctx context.Context, acct *domain.Account) {
	if c.bus == nil || acct == nil {
		return
	}
	c.bus.Publish(ctx, events.AccountChanged{Account: acct.Clone()})
}

func isNotFound(err error) bool {
	return domain.CodeOf(err) == domain.CodeNotFound
}
