// Package mirror keeps a low-latency projection of accounts that clients can
// subscribe to. It is rebuilt from the transactional store and never written
// by callers directly.
package mirror

import (
	"context"

	"points_ledger/internal/domain"
)

// Mirror is the push-capable projection store. Put drops snapshots whose
// version is not newer than the stored one and reports whether it wrote.
type Mirror interface {
	Put(ctx context.Context, acct *domain.Account) (bool, error)
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	// Watch delivers every accepted snapshot of the account until stop is
	// called. onError is called at most once, after which the watch is dead.
	Watch(ctx context.Context, accountID string, onUpdate func(*domain.Account), onError func(error)) (stop func(), err error)
}
