// Package scheduler runs a function on an interval and on demand.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"points_ledger/internal/logger"
)

// Task runs Fn every Interval and whenever Trigger is called. Runs never
// overlap: triggers arriving during a run collapse into one follow-up run.
type Task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	log      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}
}

// NewTask builds a stopped task. A zero interval runs only on Trigger.
func NewTask(name string, interval time.Duration, fn func(ctx context.Context) error) *Task {
	return &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		log:      logger.With("component", "scheduler", "task", name),
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the loop. Calling Start on a running task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.done)
}

// Stop cancels the pending timer and waits for an in-flight run to return.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Trigger requests a run as soon as possible.
func (t *Task) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if t.interval > 0 {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-t.trigger:
		}
		t.run(ctx)
	}
}

func (t *Task) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("task panicked", "panic", r)
		}
	}()
	start := time.Now()
	if err := t.fn(ctx); err != nil && ctx.Err() == nil {
		t.log.Warn("task run failed", "error", err, "duration", time.Since(start))
		return
	}
	t.log.Debug("task run finished", "duration", time.Since(start))
}
