package correlation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeDelivered      = "delivered"
	outcomeTimeout        = "timeout"
	outcomeCancelled      = "cancelled"
	outcomeDispatchFailed = "dispatch_failed"
)

// Metrics observes correlation waits.
type Metrics struct {
	Outcomes     *prometheus.CounterVec
	WaitDuration prometheus.Histogram
	Callbacks    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_manager_correlation_outcomes_total",
			Help: "Correlated gateway calls by outcome",
		}, []string{"outcome"}),
		WaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "consent_manager_correlation_wait_duration_seconds",
			Help:    "Time from dispatch to callback or timeout",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		Callbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "consent_manager_correlation_callbacks_total",
			Help: "Gateway callbacks written to the correlation store",
		}),
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveWait(d time.Duration) {
	if m != nil {
		m.WaitDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncCallback() {
	if m != nil {
		m.Callbacks.Inc()
	}
}
