package idempotency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts replay guard outcomes.
type Metrics struct {
	Admitted prometheus.Counter
	Rejected *prometheus.CounterVec
}

// NewMetrics registers the guard metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Admitted: f.NewCounter(prometheus.CounterOpts{
			Name: "consent_manager_idempotency_admitted_total",
			Help: "Inbound requests admitted by the replay guard",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_manager_idempotency_rejected_total",
			Help: "Inbound requests rejected by the replay guard",
		}, []string{"reason"}), // reason: duplicate, stale, future
	}
}

func (m *Metrics) IncAdmitted() {
	if m != nil {
		m.Admitted.Inc()
	}
}

func (m *Metrics) IncRejected(reason string) {
	if m != nil {
		m.Rejected.WithLabelValues(reason).Inc()
	}
}
