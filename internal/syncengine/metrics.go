package syncengine

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Operations waiting in the local queue",
		},
	)
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_operations_total",
			Help: "Queued operation outcomes",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(opsTotal)
}
