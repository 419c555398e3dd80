// Package connection tracks whether the transactional store is reachable.
package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"points_ledger/internal/logger"
	"points_ledger/internal/scheduler"
)

type Mode string

const (
	ModeLive     Mode = "live"
	ModeDegraded Mode = "degraded"
	ModeOffline  Mode = "offline"
)

// State is a snapshot of connectivity.
type State struct {
	Online          bool       `json:"online"`
	Connected       bool       `json:"connected"`
	Mode            Mode       `json:"mode"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	RetryCount      int        `json:"retry_count"`
}

// Pinger is the reachability handshake, satisfied by store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor polls the store and fires callbacks on connect/disconnect transitions.
type Monitor struct {
	pinger  Pinger
	timeout time.Duration
	poll    *scheduler.Task
	log     *slog.Logger

	mu           sync.Mutex
	ctx          context.Context
	state        State
	onConnect    []func(context.Context)
	onDisconnect []func(context.Context)
}

func NewMonitor(p Pinger, interval time.Duration) *Monitor {
	m := &Monitor{
		pinger:  p,
		timeout: 3 * time.Second,
		log:     logger.With("component", "connection"),
		ctx:     context.Background(),
		state:   State{Online: true, Mode: ModeDegraded},
	}
	m.poll = scheduler.NewTask("connection-poll", interval, func(ctx context.Context) error {
		m.Check(ctx)
		return nil
	})
	setModeGauge(m.state.Mode)
	return m
}

// OnConnect registers fn to run on every transition to connected.
func (m *Monitor) OnConnect(fn func(context.Context)) {
	m.mu.Lock()
	m.onConnect = append(m.onConnect, fn)
	m.mu.Unlock()
}

// OnDisconnect registers fn to run on every transition away from connected.
func (m *Monitor) OnDisconnect(fn func(context.Context)) {
	m.mu.Lock()
	m.onDisconnect = append(m.onDisconnect, fn)
	m.mu.Unlock()
}

// Start polls immediately and then every interval.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	m.poll.Start(ctx)
	m.poll.Trigger()
}

func (m *Monitor) Stop() {
	m.poll.Stop()
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Connected() bool {
	return m.State().Connected
}

// SetOnline feeds a platform network signal. Going offline disconnects at
// once; coming back online schedules a reachability check.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	m.state.Online = online
	ctx := m.ctx
	m.mu.Unlock()

	if !online {
		m.update(ctx, false)
		return
	}
	m.poll.Trigger()
}

// Check pings the store once and applies the result.
func (m *Monitor) Check(ctx context.Context) bool {
	if !m.State().Online {
		m.update(ctx, false)
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(pctx)
	cancel()
	if err != nil {
		m.log.Debug("store ping failed", "error", err)
	}
	m.update(ctx, err == nil)
	return err == nil
}

func (m *Monitor) update(ctx context.Context, reachable bool) {
	m.mu.Lock()
	prev := m.state
	next := prev
	next.Connected = reachable && prev.Online
	switch {
	case next.Connected:
		now := time.Now().UTC()
		next.LastConnectedAt = &now
		next.RetryCount = 0
		next.Mode = ModeLive
	case next.Online:
		next.RetryCount++
		next.Mode = ModeDegraded
	default:
		next.Mode = ModeOffline
	}
	m.state = next
	var callbacks []func(context.Context)
	if next.Connected != prev.Connected {
		if next.Connected {
			callbacks = append(callbacks, m.onConnect...)
		} else {
			callbacks = append(callbacks, m.onDisconnect...)
		}
	}
	m.mu.Unlock()

	if next.Mode != prev.Mode {
		setModeGauge(next.Mode)
		transitionsTotal.WithLabelValues(string(next.Mode)).Inc()
		m.log.Info("connection mode changed", "from", prev.Mode, "to", next.Mode)
	}
	for _, fn := range callbacks {
		fn(ctx)
	}
}
