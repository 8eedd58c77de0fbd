package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the consent lifecycle.
type Metrics struct {
	// Transitions by entity (request, artefact) and status pair
	Transitions *prometheus.CounterVec

	// Artefacts created by approvals
	ArtefactsGranted prometheus.Counter

	// Fan-out publishes that failed after a committed transition
	NotifyFailures *prometheus.CounterVec
}

// New registers the consent metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_manager_consent_transitions_total",
			Help: "Consent lifecycle transitions by entity and status",
		}, []string{"entity", "from", "to"}),

		ArtefactsGranted: f.NewCounter(prometheus.CounterOpts{
			Name: "consent_manager_consent_artefacts_granted_total",
			Help: "Consent artefacts created by approvals",
		}),

		NotifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_manager_consent_notify_failures_total",
			Help: "Notification publishes that failed after a committed transition",
		}, []string{"status"}),
	}
}

// IncTransition records a committed status change.
func (m *Metrics) IncTransition(entity, from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(entity, from, to).Inc()
	}
}

func (m *Metrics) AddArtefactsGranted(n int) {
	if m != nil {
		m.ArtefactsGranted.Add(float64(n))
	}
}

func (m *Metrics) IncNotifyFailure(status string) {
	if m != nil {
		m.NotifyFailures.WithLabelValues(status).Inc()
	}
}
