// Package syncengine keeps the ledger usable while the transactional store is
// unreachable. Writes made offline land in a durable local queue and are
// replayed in order once the connection monitor reports the store is back.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/events"
	"points_ledger/internal/ledger"
	"points_ledger/internal/localstore"
	"points_ledger/internal/logger"
	"points_ledger/internal/mirror"
	"points_ledger/internal/scheduler"

	"github.com/google/uuid"
)

const accountPrefix = "accounts/"

// Config tunes queue delivery.
type Config struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	DrainInterval     time.Duration
	ReconcileInterval time.Duration
	CreditBatch       int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:        8,
		BaseDelay:         time.Second,
		MaxDelay:          5 * time.Minute,
		DrainInterval:     30 * time.Second,
		ReconcileInterval: 5 * time.Minute,
		CreditBatch:       100,
	}
}

// Connectivity reports whether the transactional store is reachable.
type Connectivity interface {
	Connected() bool
}

// ConnectionEvents is implemented by connection.Monitor.
type ConnectionEvents interface {
	Connectivity
	OnConnect(fn func(context.Context))
	OnDisconnect(fn func(context.Context))
}

// CreditHealer credits referral edges left uncredited by an interrupted attribution.
type CreditHealer interface {
	CreditPending(ctx context.Context, limit int) (int, error)
}

// Handler delivers one queued operation.
type Handler func(ctx context.Context, op domain.Operation) error

type route struct {
	typ    domain.OperationType
	prefix string
	fn     Handler
}

// DrainStats summarises one pass over the queue.
type DrainStats struct {
	Delivered    int
	Retried      int
	DeadLettered int
	Skipped      int
}

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

type Engine struct {
	core    *ledger.Core
	conn    Connectivity
	cache   *localstore.Cache
	queue   *localstore.Queue
	mirror  mirror.Mirror
	proj    *mirror.Projector
	bus     *events.Bus
	healer  CreditHealer
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
	drainMu sync.Mutex

	routesMu sync.RWMutex
	routes   []route

	subsMu sync.Mutex
	subSeq int
	subs   map[string]map[int]*subscription

	drainTask     *scheduler.Task
	reconcileTask *scheduler.Task
	detach        func()
}

func New(core *ledger.Core, conn Connectivity, cache *localstore.Cache, queue *localstore.Queue, m mirror.Mirror, bus *events.Bus, cfg Config) *Engine {
	e := &Engine{
		core:   core,
		conn:   conn,
		cache:  cache,
		queue:  queue,
		mirror: m,
		proj:   mirror.NewProjector(m),
		bus:    bus,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.With("component", "syncengine"),
		subs:   make(map[string]map[int]*subscription),
	}
	e.drainTask = scheduler.NewTask("queue-drain", cfg.DrainInterval, func(ctx context.Context) error {
		_, err := e.Drain(ctx)
		return err
	})
	e.reconcileTask = scheduler.NewTask("mirror-reconcile", cfg.ReconcileInterval, e.Reconcile)
	e.Handle(domain.OpUpdate, accountPrefix, e.deliverDelta)
	if bus != nil {
		e.detach = bus.Subscribe(e.onCommitted)
	}
	e.refreshDepth()
	return e
}

// SetClock replaces the time source used for backoff.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetCreditHealer enables referral credit healing during Reconcile.
func (e *Engine) SetCreditHealer(h CreditHealer) { e.healer = h }

// Handle registers fn for operations of type typ whose path starts with prefix.
// Later registrations win over earlier ones for the same type and prefix.
func (e *Engine) Handle(typ domain.OperationType, prefix string, fn Handler) {
	e.routesMu.Lock()
	defer e.routesMu.Unlock()
	e.routes = append([]route{{typ: typ, prefix: prefix, fn: fn}}, e.routes...)
}

func (e *Engine) handler(op domain.Operation) Handler {
	e.routesMu.RLock()
	defer e.routesMu.RUnlock()
	for _, r := range e.routes {
		if r.typ == op.Type && strings.HasPrefix(op.Path, r.prefix) {
			return r.fn
		}
	}
	return nil
}

// Start runs the drain task and hooks the reconcile task to connectivity
// transitions when conn reports them.
func (e *Engine) Start(ctx context.Context) {
	e.drainTask.Start(ctx)
	if ce, ok := e.conn.(ConnectionEvents); ok {
		ce.OnConnect(func(context.Context) {
			e.drainTask.Trigger()
			e.reconcileTask.Start(ctx)
		})
		ce.OnDisconnect(func(context.Context) {
			e.reconcileTask.Stop()
		})
	}
	if e.conn.Connected() {
		e.reconcileTask.Start(ctx)
		e.drainTask.Trigger()
	}
}

func (e *Engine) Stop() {
	e.drainTask.Stop()
	e.reconcileTask.Stop()
	if e.detach != nil {
		e.detach()
	}
}

// ApplyDelta writes through to the ledger when the store is reachable and
// queues the delta otherwise. Business errors are returned unchanged.
func (e *Engine) ApplyDelta(ctx context.Context, d ledger.Delta) (ledger.Result, error) {
	if d.AccountID == "" || d.Reason == "" {
		return ledger.Result{}, domain.Validation("delta requires account id and reason")
	}
	// fixed before the first attempt: a queued copy of a commit whose ack was
	// lost replays on drain instead of applying twice
	if d.OperationID == "" {
		d.OperationID = uuid.NewString()
	}
	if e.conn.Connected() {
		pending, err := e.pending(d.AccountID)
		if err != nil {
			return ledger.Result{}, err
		}
		// earlier offline writes for this account go first
		if len(pending) == 0 {
			res, err := e.core.ApplyDelta(ctx, d)
			if err == nil || !domain.IsTransient(err) {
				return res, err
			}
			e.log.Warn("store write failed, queueing", "account_id", d.AccountID, "reason", d.Reason, "error", err)
		}
	}
	return e.enqueue(ctx, d)
}

func (e *Engine) enqueue(ctx context.Context, d ledger.Delta) (ledger.Result, error) {
	payload, err := encodeDelta(d)
	if err != nil {
		return ledger.Result{}, err
	}
	op := &domain.Operation{
		ID:      d.OperationID,
		Type:    domain.OpUpdate,
		Path:    domain.AccountPath(d.AccountID),
		Payload: payload,
	}
	if err := e.queue.Enqueue(op); err != nil {
		return ledger.Result{}, fmt.Errorf("queue delta: %w", err)
	}
	opsTotal.WithLabelValues("queued").Inc()
	e.refreshDepth()

	res := ledger.Result{TransactionID: op.ID, Queued: true}
	if eff, err := e.Effective(d.AccountID); err == nil && eff != nil {
		res.NewCoins, res.NewXP = eff.Coins, eff.XP
		e.deliver(eff)
		if e.bus != nil {
			e.bus.Publish(ctx, events.AccountChanged{Account: eff, Optimistic: true})
		}
	}
	if e.conn.Connected() {
		e.drainTask.Trigger()
	}
	return res, nil
}

// Effective returns the cached authoritative snapshot merged with pending
// queued deltas, or nil when the account was never cached.
func (e *Engine) Effective(accountID string) (*domain.Account, error) {
	base, err := e.cached(accountID)
	if err != nil || base == nil {
		return nil, err
	}
	pending, err := e.pending(accountID)
	if err != nil {
		return nil, err
	}
	return Merge(base, pending), nil
}

// pending returns the queued ops for exactly this account's path.
func (e *Engine) pending(accountID string) ([]domain.Operation, error) {
	path := domain.AccountPath(accountID)
	ops, err := e.queue.Pending(path)
	if err != nil {
		return nil, err
	}
	out := ops[:0]
	for _, op := range ops {
		if op.Path == path {
			out = append(out, op)
		}
	}
	return out, nil
}

// Read returns the effective account: the store value when reachable, the
// cached value otherwise, with pending queued deltas applied either way.
func (e *Engine) Read(ctx context.Context, accountID string) (*domain.Account, error) {
	if e.conn.Connected() {
		acct, err := e.core.Store().GetAccount(ctx, accountID)
		if err == nil {
			if err := e.cache.Put(domain.AccountPath(acct.ID), acct); err != nil {
				e.log.Warn("cache write failed", "account_id", acct.ID, "error", err)
			}
			pending, err := e.pending(accountID)
			if err != nil {
				return nil, err
			}
			return Merge(acct, pending), nil
		}
		if !domain.IsTransient(err) {
			return nil, err
		}
		e.log.Warn("store read failed, serving cache", "account_id", accountID, "error", err)
	}
	eff, err := e.Effective(accountID)
	if err != nil {
		return nil, err
	}
	if eff == nil {
		return nil, domain.SyncFailure("read account", errNoSnapshot)
	}
	return eff, nil
}

// PendingCount reports how many queued operations wait for accountID.
func (e *Engine) PendingCount(accountID string) (int, error) {
	ops, err := e.pending(accountID)
	return len(ops), err
}

func (e *Engine) cached(accountID string) (*domain.Account, error) {
	entry, ok, fresh := e.cache.Entry(domain.AccountPath(accountID))
	if !ok {
		return nil, nil
	}
	var a domain.Account
	if err := json.Unmarshal(entry.Value, &a); err != nil {
		return nil, fmt.Errorf("decode cached account %s: %w", accountID, err)
	}
	if !fresh {
		e.log.Debug("serving stale cached account", "account_id", accountID, "cached_at", entry.Timestamp)
	}
	return &a, nil
}

// Drain delivers queued operations in FIFO order per path. A transient failure
// keeps the op at the head of its path and skips the rest of that path.
func (e *Engine) Drain(ctx context.Context) (DrainStats, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	var stats DrainStats
	if !e.conn.Connected() {
		return stats, nil
	}
	ops, err := e.queue.List()
	if err != nil {
		return stats, err
	}
	defer e.refreshDepth()

	blocked := make(map[string]bool)
	for _, op := range ops {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if blocked[op.Path] {
			stats.Skipped++
			continue
		}
		if op.NextTryAt != nil && e.now().Before(*op.NextTryAt) {
			blocked[op.Path] = true
			stats.Skipped++
			continue
		}

		h := e.handler(op)
		if h == nil {
			e.deadLetter(op, domain.Validation("no handler for %s %s", op.Type, op.Path))
			stats.DeadLettered++
			continue
		}

		err := h(ctx, op)
		switch {
		case err == nil:
			if err := e.queue.Remove(op.ID); err != nil && !errors.Is(err, localstore.ErrOperationNotFound) {
				return stats, err
			}
			opsTotal.WithLabelValues("delivered").Inc()
			stats.Delivered++
		case !domain.IsTransient(err):
			e.deadLetter(op, err)
			stats.DeadLettered++
		default:
			op.Retries++
			op.LastError = err.Error()
			if op.Retries >= e.cfg.MaxRetries {
				e.deadLetter(op, err)
				stats.DeadLettered++
				continue
			}
			next := e.now().Add(Backoff(op.Retries-1, e.cfg.BaseDelay, e.cfg.MaxDelay))
			op.NextTryAt = &next
			if err := e.queue.Update(op); err != nil {
				return stats, err
			}
			opsTotal.WithLabelValues("retried").Inc()
			e.log.Warn("delivery failed, will retry", "op_id", op.ID, "path", op.Path, "retries", op.Retries, "next_try_at", next, "error", err)
			blocked[op.Path] = true
			stats.Retried++
		}
	}
	if stats.Delivered+stats.DeadLettered > 0 {
		e.log.Info("queue drained", "delivered", stats.Delivered, "retried", stats.Retried, "dead_lettered", stats.DeadLettered, "skipped", stats.Skipped)
	}
	return stats, nil
}

func (e *Engine) deadLetter(op domain.Operation, cause error) {
	if err := e.queue.DeadLetter(op, cause); err != nil {
		e.log.Error("dead-letter failed", "op_id", op.ID, "error", err)
		return
	}
	opsTotal.WithLabelValues("dead_lettered").Inc()
	e.log.Error("operation dead-lettered", "op_id", op.ID, "path", op.Path, "retries", op.Retries, "error", cause)

	// the dropped delta no longer counts towards the effective balance
	if id, ok := strings.CutPrefix(op.Path, accountPrefix); ok {
		if eff, err := e.Effective(id); err == nil && eff != nil {
			e.deliver(eff)
		}
	}
}

// Backoff returns min(base * 2^attempt, ceiling).
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	return min(d, ceiling)
}

func (e *Engine) deliverDelta(ctx context.Context, op domain.Operation) error {
	d, err := decodeDelta(op.Payload)
	if err != nil {
		return err
	}
	if d.OperationID == "" {
		d.OperationID = op.ID
	}
	_, err = e.core.ApplyDelta(ctx, d)
	return err
}

// onCommitted keeps the cache in step with every committed snapshot.
func (e *Engine) onCommitted(_ context.Context, ev events.AccountChanged) {
	if ev.Optimistic || ev.Account == nil {
		return
	}
	if err := e.cache.Put(domain.AccountPath(ev.Account.ID), ev.Account); err != nil {
		e.log.Warn("cache write failed", "account_id", ev.Account.ID, "error", err)
	}
}

// Reconcile refreshes cached accounts from the store, republishes them to the
// mirror and credits referral edges left uncredited.
func (e *Engine) Reconcile(ctx context.Context) error {
	if !e.conn.Connected() {
		return nil
	}
	st := e.core.Store()
	var firstErr error
	for _, path := range e.cache.Paths(accountPrefix) {
		id := strings.TrimPrefix(path, accountPrefix)
		acct, err := st.GetAccount(ctx, id)
		if err != nil {
			if domain.CodeOf(err) == domain.CodeNotFound {
				_ = e.cache.Delete(path)
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.cache.Put(path, acct); err != nil {
			e.log.Warn("cache write failed", "account_id", id, "error", err)
		}
		_ = e.proj.Project(ctx, acct)
	}

	if e.healer != nil {
		n, err := e.healer.CreditPending(ctx, e.cfg.CreditBatch)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if n > 0 {
			e.log.Info("healed referral credits", "count", n)
		}
	}
	return firstErr
}

func (e *Engine) refreshDepth() {
	n, err := e.queue.Len()
	if err == nil {
		queueDepth.Set(float64(n))
	}
}
