package daemon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts daemon exchanges by endpoint template and outcome class.
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daemon_requests_total",
				Help: "Total number of daemon requests",
			},
			[]string{"method", "endpoint", "class"},
		),
		LatencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "daemon_request_duration_seconds",
				Help:    "Daemon request latency in seconds, until response headers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
	for _, c := range []prometheus.Collector{m.RequestCounter, m.LatencyHistogram} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// observe is a no-op on a nil receiver.
func (m *Metrics) observe(ep Endpoint, class string, took time.Duration) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(ep.Method, ep.Path, class).Inc()
	m.LatencyHistogram.WithLabelValues(ep.Method, ep.Path).Observe(took.Seconds())
}
