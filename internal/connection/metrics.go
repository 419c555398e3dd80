package connection

import "github.com/prometheus/client_golang/prometheus"

var (
	modeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connection_mode",
			Help: "1 for the current connectivity mode",
		},
		[]string{"mode"},
	)
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_transitions_total",
			Help: "Connectivity mode transitions by target mode",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(modeGauge)
	prometheus.MustRegister(transitionsTotal)
}

func setModeGauge(current Mode) {
	for _, m := range []Mode{ModeLive, ModeDegraded, ModeOffline} {
		v := 0.0
		if m == current {
			v = 1
		}
		modeGauge.WithLabelValues(string(m)).Set(v)
	}
}
