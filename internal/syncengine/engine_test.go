package syncengine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/events"
	"points_ledger/internal/ledger"
	"points_ledger/internal/localstore"
	"points_ledger/internal/mirror"
	"points_ledger/internal/store"
	"points_ledger/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ up atomic.Bool }

func (c *fakeConn) Connected() bool { return c.up.Load() }

type harness struct {
	store  *memstore.Store
	core   *ledger.Core
	bus    *events.Bus
	conn   *fakeConn
	mirror *mirror.MemoryMirror
	dbPath string
	db     *localstore.DB
	cache  *localstore.Cache
	queue  *localstore.Queue
	engine *Engine
	cfg    Config
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = 4 * time.Second
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:  memstore.New(),
		bus:    events.NewBus(),
		conn:   &fakeConn{},
		mirror: mirror.NewMemoryMirror(),
		dbPath: filepath.Join(t.TempDir(), "local.db"),
		cfg:    cfg,
	}
	h.conn.up.Store(true)
	h.core = ledger.NewCore(h.store, h.bus)
	t.Cleanup(mirror.NewProjector(h.mirror).Attach(h.bus))
	h.open(t)
	t.Cleanup(func() { h.close() })

	_, _, err := h.core.EnsureAccount(context.Background(), "u1", "")
	require.NoError(t, err)
	return h
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	db, err := localstore.Open(h.dbPath)
	require.NoError(t, err)
	h.db = db
	h.cache, err = localstore.NewCache(db, 0)
	require.NoError(t, err)
	h.queue = localstore.NewQueue(db)
	h.engine = New(h.core, h.conn, h.cache, h.queue, h.mirror, h.bus, h.cfg)
}

func (h *harness) close() {
	if h.engine != nil {
		h.engine.Stop()
		h.engine = nil
	}
	if h.db != nil {
		_ = h.db.Close()
		h.db = nil
	}
}

func (h *harness) setOnline(ok bool) {
	h.conn.up.Store(ok)
	h.store.SetReachable(ok)
}

func (h *harness) coins(t *testing.T, id string) int64 {
	t.Helper()
	a, err := h.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Coins
}

func delta(id string, coins int64) ledger.Delta {
	return ledger.Delta{AccountID: id, Coins: coins, Reason: domain.ReasonAdjustment}
}

func TestApplyDeltaWritesThroughWhenConnected(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	res, err := h.engine.ApplyDelta(ctx, delta("u1", 100))
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Equal(t, int64(100), res.NewCoins)

	var cached domain.Account
	ok, err := h.cache.Get(domain.AccountPath("u1"), &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), cached.Coins)
}

func TestApplyDeltaReturnsBusinessErrors(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.engine.ApplyDelta(context.Background(), delta("missing", 10))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n, err := h.engine.PendingCount("missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.engine.ApplyDelta(context.Background(), ledger.Delta{AccountID: "u1", Coins: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestApplyDeltaQueuesOnTransientFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.store.SetReachable(false)

	res, err := h.engine.ApplyDelta(ctx, delta("u1", 30))
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, int64(30), res.NewCoins)

	h.store.SetReachable(true)
	stats, err := h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, int64(30), h.coins(t, "u1"))
}

func TestOfflineWritesSurviveRestartAndDeliverOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.engine.ApplyDelta(ctx, delta("u1", 100))
	require.NoError(t, err)

	h.setOnline(false)
	first, err := h.engine.ApplyDelta(ctx, delta("u1", 50))
	require.NoError(t, err)
	assert.True(t, first.Queued)
	assert.Equal(t, int64(150), first.NewCoins)

	second, err := h.engine.ApplyDelta(ctx, delta("u1", 25))
	require.NoError(t, err)
	assert.Equal(t, int64(175), second.NewCoins)

	// restart with the store still down
	h.close()
	h.open(t)
	n, err := h.engine.PendingCount("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	eff, err := h.engine.Effective("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(175), eff.Coins)

	h.setOnline(true)
	stats, err := h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Delivered)
	assert.Equal(t, int64(175), h.coins(t, "u1"))

	stats, err = h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Delivered)

	// a redelivered operation is deduplicated by its id
	payload, err := encodeDelta(delta("u1", 50).WithOperation(first.TransactionID))
	require.NoError(t, err)
	require.NoError(t, h.queue.Enqueue(&domain.Operation{Type: domain.OpUpdate, Path: domain.AccountPath("u1"), Payload: payload}))
	stats, err = h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, int64(175), h.coins(t, "u1"))
}

func TestApplyDeltaKeepsPerAccountOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.setOnline(false)
	_, err := h.engine.ApplyDelta(ctx, delta("u1", 10))
	require.NoError(t, err)

	h.setOnline(true)
	res, err := h.engine.ApplyDelta(ctx, delta("u1", -4))
	require.NoError(t, err)
	assert.True(t, res.Queued, "must wait behind the earlier queued write")
	assert.Equal(t, int64(6), res.NewCoins)

	stats, err := h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Delivered)
	assert.Equal(t, int64(6), h.coins(t, "u1"))
}

func TestMerge(t *testing.T) {
	base := domain.NewAccount("u1", time.Now())
	base.Coins = 100
	base.XP = 990
	base.Version = 7

	op := func(id string, coins, xp int64) domain.Operation {
		p, err := encodeDelta(ledger.Delta{AccountID: "u1", Coins: coins, XP: xp, Reason: "x", OperationID: id})
		require.NoError(t, err)
		return domain.Operation{ID: id, Type: domain.OpUpdate, Path: domain.AccountPath("u1"), Payload: p}
	}

	eff := Merge(base, []domain.Operation{op("a", 20, 20), op("b", -5, 0)})
	assert.Equal(t, int64(115), eff.Coins)
	assert.Equal(t, int64(1010), eff.XP)
	assert.Equal(t, 2, eff.Level)
	assert.Equal(t, int64(7), eff.Version)
	assert.Equal(t, int64(100), base.Coins, "base must not change")

	eff = Merge(base, []domain.Operation{op("c", -150, 0), op("d", 30, 0)})
	assert.Equal(t, int64(30), eff.Coins, "clamped after each step like the ledger")

	other := op("e", 1000, 0)
	other.Path = domain.AccountPath("u2")
	eff = Merge(base, []domain.Operation{other})
	assert.Equal(t, int64(100), eff.Coins)

	base.LastOperationID = domain.StringPtr("a")
	eff = Merge(base, []domain.Operation{op("a", 20, 0)})
	assert.Equal(t, int64(100), eff.Coins, "already applied op is not counted twice")

	assert.Nil(t, Merge(nil, nil))
}

func TestDrainBackoffAndDeadLetter(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	h.engine.SetClock(func() time.Time { return now })

	var delivered []string
	h.engine.Handle(domain.OpSet, "flaky/", func(_ context.Context, op domain.Operation) error {
		if op.ID == "a1" {
			return domain.SyncFailure("flaky", errors.New("down"))
		}
		delivered = append(delivered, op.ID)
		return nil
	})
	for _, op := range []domain.Operation{
		{ID: "a1", Type: domain.OpSet, Path: "flaky/a"},
		{ID: "a2", Type: domain.OpSet, Path: "flaky/a"},
		{ID: "b1", Type: domain.OpSet, Path: "flaky/b"},
	} {
		require.NoError(t, h.queue.Enqueue(&op))
	}

	stats, err := h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Delivered: 1, Retried: 1, Skipped: 1}, stats)
	assert.Equal(t, []string{"b1"}, delivered)

	ops, err := h.queue.List()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "a1", ops[0].ID)
	assert.Equal(t, 1, ops[0].Retries)
	assert.Contains(t, ops[0].LastError, "down")
	require.NotNil(t, ops[0].NextTryAt)
	assert.True(t, now.Add(time.Second).Equal(*ops[0].NextTryAt))

	// still backing off
	stats, err = h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Skipped: 2}, stats)

	now = now.Add(time.Second)
	stats, err = h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	ops, err = h.queue.List()
	require.NoError(t, err)
	assert.True(t, now.Add(2*time.Second).Equal(*ops[0].NextTryAt))

	now = now.Add(2 * time.Second)
	stats, err = h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLettered)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, []string{"b1", "a2"}, delivered)

	dead, err := h.queue.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "a1", dead[0].ID)
	assert.Equal(t, 3, dead[0].Retries)

	n, err := h.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainDeadLettersPermanentFailures(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.engine.Handle(domain.OpSet, "bad/", func(context.Context, domain.Operation) error {
		return domain.Validation("rejected")
	})
	require.NoError(t, h.queue.Enqueue(&domain.Operation{ID: "p1", Type: domain.OpSet, Path: "bad/x"}))
	require.NoError(t, h.queue.Enqueue(&domain.Operation{ID: "p2", Type: domain.OpRemove, Path: "nowhere/x"}))
	require.NoError(t, h.queue.Enqueue(&domain.Operation{ID: "p3", Type: domain.OpUpdate, Path: domain.AccountPath("u1"), Payload: []byte(`"oops"`)}))

	stats, err := h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DeadLettered)

	dead, err := h.queue.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 3)
	assert.Contains(t, dead[0].LastError, "rejected")
	assert.Contains(t, dead[1].LastError, "no handler")
}

func TestDrainIsNoopOffline(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.setOnline(false)
	_, err := h.engine.ApplyDelta(ctx, delta("u1", 10))
	require.NoError(t, err)

	stats, err := h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{}, stats)
	n, err := h.engine.PendingCount("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.attempt, time.Second, 30*time.Second), "attempt %d", tc.attempt)
	}
}

type collector struct {
	mu   sync.Mutex
	got  []*domain.Account
	errs []error
}

func (c *collector) update(a *domain.Account) {
	c.mu.Lock()
	c.got = append(c.got, a)
	c.mu.Unlock()
}

func (c *collector) fail(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *collector) lastCoins() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.got) == 0 {
		return -1
	}
	return c.got[len(c.got)-1].Coins
}

func (c *collector) errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

func TestSubscribeDeliversCurrentValueAndPushes(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	var c collector
	unsub := h.engine.Subscribe(ctx, "u1", c.update, c.fail)
	require.Equal(t, 1, c.count())
	assert.Equal(t, int64(0), c.lastCoins())

	_, err := h.engine.ApplyDelta(ctx, delta("u1", 40))
	require.NoError(t, err)
	assert.Equal(t, int64(40), c.lastCoins())

	unsub()
	unsub()
	seen := c.count()
	_, err = h.engine.ApplyDelta(ctx, delta("u1", 1))
	require.NoError(t, err)
	assert.Equal(t, seen, c.count())
	assert.Empty(t, c.errors())
}

func TestSubscribeOfflineServesCacheAndOptimisticUpdates(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.setOnline(false)
	var c collector
	unsub := h.engine.Subscribe(ctx, "u1", c.update, c.fail)
	defer unsub()
	require.Equal(t, 1, c.count())
	assert.Equal(t, int64(0), c.lastCoins())

	_, err := h.engine.ApplyDelta(ctx, delta("u1", 70))
	require.NoError(t, err)
	assert.Equal(t, int64(70), c.lastCoins())

	h.setOnline(true)
	_, err = h.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(70), c.lastCoins(), "authoritative push must not double count the delivered op")
	assert.Equal(t, int64(70), h.coins(t, "u1"))
}

func TestSubscribeErrors(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	var missing collector
	h.engine.Subscribe(ctx, "missing", missing.update, missing.fail)()
	require.Len(t, missing.errors(), 1)
	assert.ErrorIs(t, missing.errors()[0], domain.ErrNotFound)

	h.setOnline(false)
	var ghost collector
	h.engine.Subscribe(ctx, "ghost", ghost.update, ghost.fail)()
	require.Len(t, ghost.errors(), 1)
	assert.ErrorIs(t, ghost.errors()[0], domain.ErrSync)
	assert.Zero(t, ghost.count())
}

// flakyMirror fails the first Watch calls.
type flakyMirror struct {
	*mirror.MemoryMirror
	failures atomic.Int32
	calls    atomic.Int32
}

func (m *flakyMirror) Watch(ctx context.Context, id string, onUpdate func(*domain.Account), onError func(error)) (func(), error) {
	defer m.calls.Add(1)
	if m.failures.Add(-1) >= 0 {
		return nil, domain.SyncFailure("mirror subscribe", errors.New("connection refused"))
	}
	return m.MemoryMirror.Watch(ctx, id, onUpdate, onError)
}

func TestSubscribeRecoversFromListenerFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	fm := &flakyMirror{MemoryMirror: h.mirror}
	fm.failures.Store(1)
	cfg := testConfig()
	cfg.BaseDelay = 10 * time.Millisecond
	cfg.MaxDelay = 50 * time.Millisecond
	e := New(h.core, h.conn, h.cache, h.queue, fm, nil, cfg)

	var c collector
	unsub := e.Subscribe(ctx, "u1", c.update, c.fail)
	defer unsub()

	require.Len(t, c.errors(), 1)
	assert.ErrorIs(t, c.errors()[0], domain.ErrSync)
	assert.Equal(t, 2, c.count(), "initial value then the cached fallback")

	require.Eventually(t, func() bool { return fm.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	_, err := h.core.ApplyDelta(ctx, delta("u1", 12))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.lastCoins() == 12 }, time.Second, 5*time.Millisecond)
}

type countingHealer struct{ calls int }

func (h *countingHealer) CreditPending(context.Context, int) (int, error) {
	h.calls++
	return 0, nil
}

func TestReconcileRefreshesCacheAndRebuildsMirror(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.core.ApplyDelta(ctx, delta("u1", 90))
	require.NoError(t, err)

	stale := domain.NewAccount("u1", time.Now())
	stale.Coins = 1
	require.NoError(t, h.cache.Put(domain.AccountPath("u1"), stale))
	require.NoError(t, h.cache.Put(domain.AccountPath("gone"), domain.NewAccount("gone", time.Now())))

	fresh := mirror.NewMemoryMirror()
	e := New(h.core, h.conn, h.cache, h.queue, fresh, nil, h.cfg)
	var healer countingHealer
	e.SetCreditHealer(&healer)

	require.NoError(t, e.Reconcile(ctx))

	var cached domain.Account
	ok, err := h.cache.Get(domain.AccountPath("u1"), &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(90), cached.Coins)
	assert.Empty(t, h.cache.Paths(domain.AccountPath("gone")))

	m, err := fresh.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), m.Coins)
	assert.Equal(t, 1, healer.calls)

	h.setOnline(false)
	require.NoError(t, e.Reconcile(ctx))
	assert.Equal(t, 1, healer.calls)
}

func TestReadFallsBackToCache(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.engine.ApplyDelta(ctx, delta("u1", 20))
	require.NoError(t, err)
	a, err := h.engine.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), a.Coins)

	h.setOnline(false)
	_, err = h.engine.ApplyDelta(ctx, delta("u1", 5))
	require.NoError(t, err)
	a, err = h.engine.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), a.Coins)

	_, err = h.engine.Read(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrSync)

	h.setOnline(true)
	_, err = h.engine.Read(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ackLostStore commits and then reports the commit as failed, like a
// connection dropped before the acknowledgement arrived.
type ackLostStore struct {
	*memstore.Store
	lose atomic.Bool
}

func (s *ackLostStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.Store.InTx(ctx, fn); err != nil {
		return err
	}
	if s.lose.CompareAndSwap(true, false) {
		return domain.SyncFailure("commit tx", errors.New("connection reset by peer"))
	}
	return nil
}

func TestApplyDeltaLostCommitAckAppliesOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	st := &ackLostStore{Store: h.store}
	e := New(ledger.NewCore(st, h.bus), h.conn, h.cache, h.queue, h.mirror, h.bus, h.cfg)
	t.Cleanup(e.Stop)

	st.lose.Store(true)
	res, err := e.ApplyDelta(ctx, delta("u1", 100))
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, int64(100), res.NewCoins)
	assert.Equal(t, int64(100), h.coins(t, "u1"))

	stats, err := e.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, int64(100), h.coins(t, "u1"))

	entries, err := h.store.ListLedgerEntries(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// the replay refreshed the cache with the committed snapshot
	eff, err := e.Effective("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), eff.Coins)
	n, err := e.PendingCount("u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
