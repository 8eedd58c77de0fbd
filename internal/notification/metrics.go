package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks fan-out and delivery outcomes.
type Metrics struct {
	Published  *prometheus.CounterVec
	Deliveries *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_manager_notifications_published_total",
			Help: "Notification envelopes produced, by topic",
		}, []string{"topic"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_manager_notification_deliveries_total",
			Help: "Notification delivery outcomes",
		}, []string{"outcome"}), // delivered, duplicate, requeued, parked, malformed
	}
}

func (m *Metrics) IncPublished(topic string) {
	if m != nil {
		m.Published.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) IncDelivery(outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(outcome).Inc()
	}
}
