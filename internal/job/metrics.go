package job

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sedlock"

// Job and device results used as metric labels.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultPartial = "partial"
	resultTimeout = "timeout"
)

// Metrics counts jobs and per-drive operations.
type Metrics struct {
	Jobs      *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	DeviceOps *prometheus.CounterVec
}

// NewMetrics creates the job metrics and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs finished, by operation and result.",
		}, []string{"operation", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall clock time of finished jobs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"operation"}),
		DeviceOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_operations_total",
			Help:      "Operations on single drives, by operation and result.",
		}, []string{"operation", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Jobs, m.Duration, m.DeviceOps)
	}
	return m
}

func (m *Metrics) observe(j *Job, r Report) {
	if m == nil {
		return
	}
	op := string(j.Operation)
	failed := 0
	for _, o := range r.Outcomes {
		result := resultSuccess
		if o.Err != nil {
			result = resultFailure
			failed++
		}
		m.DeviceOps.WithLabelValues(op, result).Inc()
	}

	result := resultSuccess
	switch {
	case failed == len(r.Outcomes) && failed > 0:
		result = resultFailure
	case failed > 0:
		result = resultPartial
	}
	m.Jobs.WithLabelValues(op, result).Inc()
	m.Duration.WithLabelValues(op).Observe(r.Elapsed.Seconds())
}

func (m *Metrics) timeout(j *Job) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(string(j.Operation), resultTimeout).Inc()
}
