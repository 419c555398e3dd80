package service

import (
	"context"
	"testing"
	"time"

	"points_ledger/internal/events"
	"points_ledger/internal/ledger"
	"points_ledger/internal/store/memstore"

	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCore(t *testing.T, ids ...string) (*ledger.Core, *memstore.Store, *clock) {
	t.Helper()
	s := memstore.New()
	core := ledger.NewCore(s, events.NewBus())
	clk := &clock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	core.SetClock(clk.Now)
	for _, id := range ids {
		_, _, err := core.EnsureAccount(context.Background(), id, "")
		require.NoError(t, err)
	}
	return core, s, clk
}

func fund(t *testing.T, core *ledger.Core, id string, coins int64) {
	t.Helper()
	_, err := core.ApplyDelta(context.Background(), ledger.Delta{AccountID: id, Coins: coins, Reason: "test_fund"})
	require.NoError(t, err)
}
