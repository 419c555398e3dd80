package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	deltasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_deltas_total",
			Help: "Committed balance mutations by reason",
		},
		[]string{"reason"},
	)
	clampedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_clamped_total",
			Help: "Deltas that would have driven coins or xp below zero",
		},
	)
	txSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_transaction_seconds",
			Help:    "Duration of ledger transactions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"reason", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(deltasTotal)
	prometheus.MustRegister(clampedTotal)
	prometheus.MustRegister(txSeconds)
}

func observeTx(reason string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	txSeconds.WithLabelValues(reason, outcome).Observe(time.Since(start).Seconds())
}
