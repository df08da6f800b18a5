package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	latencyEMAGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "txkit",
		Subsystem: "endpoint",
		Name:      "latency_ema_ms",
		Help:      "Exponential moving average of endpoint RPC latency in milliseconds.",
	}, []string{"endpoint"})

	errorRateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "txkit",
		Subsystem: "endpoint",
		Name:      "error_rate",
		Help:      "Derived error rate (errors / (successes + errors)) for an endpoint.",
	}, []string{"endpoint"})

	slotLagGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "txkit",
		Subsystem: "endpoint",
		Name:      "slot_lag",
		Help:      "Slots behind the highest observed slot across the pool.",
	}, []string{"endpoint"})

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txkit",
		Subsystem: "endpoint",
		Name:      "requests_total",
		Help:      "Total RPC requests recorded against an endpoint, by outcome.",
	}, []string{"endpoint", "outcome"})
)

// RegisterMetrics registers this package's collectors with reg. Safe to
// call more than once: collectors already registered with reg are
// skipped. A nil registry uses the default registerer.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{latencyEMAGauge, errorRateGauge, slotLagGauge, requestsTotal} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func (t *Tracker) observeSuccess() {
	requestsTotal.WithLabelValues(t.Label, "success").Inc()
}

func (t *Tracker) observeFailure() {
	requestsTotal.WithLabelValues(t.Label, "failure").Inc()
}

func (t *Tracker) publishGauges(m Metrics) {
	latencyEMAGauge.WithLabelValues(t.Label).Set(m.LatencyEMAms)
	errorRateGauge.WithLabelValues(t.Label).Set(m.ErrorRate)
	slotLagGauge.WithLabelValues(t.Label).Set(float64(m.SlotLag))
}
