package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"points_ledger/internal/domain"
)

var errNoSnapshot = errors.New("no cached snapshot while offline")

type subscription struct {
	e         *Engine
	id        int
	accountID string
	onUpdate  func(*domain.Account)
	onError   func(error)
	ctx       context.Context
	cancel    context.CancelFunc

	// emitMu serialises callbacks
	emitMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	stopWatch func()
	timer     *time.Timer
	attempt   int
}

// Subscribe delivers the current value of the account immediately, then every
// mirror push and local optimistic update. When the mirror listener fails,
// onError receives a sync error, the cached value is delivered and the
// listener is re-established with backoff.
func (e *Engine) Subscribe(ctx context.Context, accountID string, onUpdate func(*domain.Account), onError func(error)) Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		e:         e,
		accountID: accountID,
		onUpdate:  onUpdate,
		onError:   onError,
		ctx:       ctx,
		cancel:    cancel,
	}

	e.subsMu.Lock()
	e.subSeq++
	s.id = e.subSeq
	if e.subs[accountID] == nil {
		e.subs[accountID] = make(map[int]*subscription)
	}
	e.subs[accountID][s.id] = s
	e.subsMu.Unlock()

	s.initial()
	s.watch()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.close()
			e.subsMu.Lock()
			delete(e.subs[accountID], s.id)
			if len(e.subs[accountID]) == 0 {
				delete(e.subs, accountID)
			}
			e.subsMu.Unlock()
		})
	}
}

// deliver pushes an effective snapshot to the local subscribers of its account.
func (e *Engine) deliver(eff *domain.Account) {
	e.subsMu.Lock()
	subs := make([]*subscription, 0, len(e.subs[eff.ID]))
	for _, s := range e.subs[eff.ID] {
		subs = append(subs, s)
	}
	e.subsMu.Unlock()

	for _, s := range subs {
		s.emit(eff)
	}
}

func (s *subscription) initial() {
	e := s.e
	if e.conn.Connected() {
		acct, err := e.core.Store().GetAccount(s.ctx, s.accountID)
		if err == nil {
			if err := e.cache.Put(domain.AccountPath(acct.ID), acct); err != nil {
				e.log.Warn("cache write failed", "account_id", acct.ID, "error", err)
			}
			s.authoritative(acct)
			return
		}
		if !domain.IsTransient(err) {
			s.fail(err)
			return
		}
		e.log.Warn("store read failed, serving cache", "account_id", s.accountID, "error", err)
	}

	eff, err := e.Effective(s.accountID)
	switch {
	case err != nil:
		s.fail(err)
	case eff == nil:
		s.fail(domain.SyncFailure("subscribe", errNoSnapshot))
	default:
		s.emit(eff)
	}
}

// authoritative merges a pushed snapshot with the pending queue before delivery.
func (s *subscription) authoritative(acct *domain.Account) {
	pending, err := s.e.pending(acct.ID)
	if err != nil {
		s.e.log.Warn("read pending ops failed", "account_id", acct.ID, "error", err)
	}
	s.emit(Merge(acct, pending))
}

func (s *subscription) emit(a *domain.Account) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || a == nil {
		return
	}
	s.onUpdate(a.Clone())
}

func (s *subscription) fail(err error) {
	if s.onError == nil || s.ctx.Err() != nil {
		return
	}
	s.onError(err)
}

func (s *subscription) watch() {
	stop, err := s.e.mirror.Watch(s.ctx, s.accountID, s.authoritative, s.watchFailed)
	if err != nil {
		s.watchFailed(err)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go stop()
		return
	}
	s.stopWatch = stop
	s.attempt = 0
	s.mu.Unlock()
}

// watchFailed may run on the listener goroutine, so the old listener is torn
// down from the retry timer instead of here.
func (s *subscription) watchFailed(err error) {
	if s.ctx.Err() != nil {
		return
	}
	if !domain.IsTransient(err) {
		err = domain.SyncFailure("account subscription", err)
	}
	s.fail(err)
	if eff, cerr := s.e.Effective(s.accountID); cerr == nil && eff != nil {
		s.emit(eff)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	old := s.stopWatch
	s.stopWatch = nil
	delay := Backoff(s.attempt, s.e.cfg.BaseDelay, s.e.cfg.MaxDelay)
	s.attempt++
	s.e.log.Warn("account subscription lost, retrying", "account_id", s.accountID, "retry_in", delay, "error", err)
	s.timer = time.AfterFunc(delay, func() {
		if old != nil {
			old()
		}
		if s.ctx.Err() == nil {
			s.watch()
		}
	})
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	stop := s.stopWatch
	s.stopWatch = nil
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	if stop != nil {
		// stop waits for the listener goroutine, which may be the caller
		go stop()
	}
}
