package hub

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records one sample per hub call. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubbridge_hub_requests_total",
				Help: "Hub calls by operation, route and outcome",
			},
			[]string{"op", "route", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hubbridge_hub_request_duration_seconds",
				Help:    "Duration of hub calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "route"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *Metrics) observe(op string, route Route, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, string(route), outcome(err)).Inc()
	m.duration.WithLabelValues(op, string(route)).Observe(d.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrStatus):
		return "status"
	default:
		return "error"
	}
}
