package mirror

import (
	"context"
	"log/slog"

	"points_ledger/internal/domain"
	"points_ledger/internal/events"
	"points_ledger/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
)

var writesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mirror_writes_total",
		Help: "Mirror snapshot writes by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(writesTotal)
}

// Projector copies committed account snapshots from the bus into the mirror.
// Mirror failures are logged and never reach the ledger.
type Projector struct {
	mirror Mirror
	log    *slog.Logger
}

func NewProjector(m Mirror) *Projector {
	return &Projector{mirror: m, log: logger.With("component", "mirror")}
}

// Attach subscribes the projector to bus and returns the unsubscribe func.
func (p *Projector) Attach(bus *events.Bus) func() {
	return bus.Subscribe(func(ctx context.Context, ev events.AccountChanged) {
		if ev.Optimistic || ev.Account == nil {
			return
		}
		_ = p.Project(ctx, ev.Account)
	})
}

// Project writes one snapshot.
func (p *Projector) Project(ctx context.Context, acct *domain.Account) error {
	ok, err := p.mirror.Put(ctx, acct)
	switch {
	case err != nil:
		writesTotal.WithLabelValues("error").Inc()
		p.log.Warn("mirror write failed", "account_id", acct.ID, "version", acct.Version, "error", err)
		return err
	case !ok:
		writesTotal.WithLabelValues("stale").Inc()
		p.log.Debug("stale snapshot dropped", "account_id", acct.ID, "version", acct.Version)
	default:
		writesTotal.WithLabelValues("ok").Inc()
	}
	return nil
}
