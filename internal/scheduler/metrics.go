package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindRequest  = "request"
	kindArtefact = "artefact"

	outcomeExpired = "expired"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// Metrics observes expiry sweeps.
type Metrics struct {
	Records       *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_manager_scheduler_records_total",
			Help: "Records visited by expiry sweeps by kind and outcome",
		}, []string{"kind", "outcome"}),
		SweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consent_manager_scheduler_sweep_duration_seconds",
			Help:    "Wall time of one expiry sweep",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncRecord(kind, outcome string) {
	if m != nil {
		m.Records.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) ObserveSweep(kind string, d time.Duration) {
	if m != nil {
		m.SweepDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}
