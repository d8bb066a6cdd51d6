package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	cycles     *prometheus.CounterVec
	operations *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
	duration   prometheus.Histogram
}

// newMetrics registers the coordinator's collectors on reg. A nil reg
// yields working collectors that are not exported anywhere.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachkeeper_sync_cycles_total",
			Help: "Sync cycles by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachkeeper_sync_operations_total",
			Help: "Queued operations replayed by result",
		}, []string{"result"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coachkeeper_sync_queue_depth",
			Help: "Queued operations by status after the last cycle",
		}, []string{"status"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coachkeeper_sync_cycle_duration_seconds",
			Help:    "Time spent in one sync cycle",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

func (m *metrics) observe(s Summary) {
	outcome := "ok"
	switch {
	case s.Skipped:
		outcome = "skipped"
	case s.FailedCount > 0:
		outcome = "partial"
	}
	m.cycles.WithLabelValues(string(s.Trigger), outcome).Inc()
	m.operations.WithLabelValues("processed").Add(float64(s.ProcessedCount))
	m.operations.WithLabelValues("failed").Add(float64(s.FailedCount))
	m.operations.WithLabelValues("dead").Add(float64(s.DeadLetters))
	m.duration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
}
