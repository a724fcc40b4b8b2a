package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "storefront"

	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// CronJobMetrics tracks how long each scheduled job takes and how its runs end.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

// NewCronJobMetrics registers the job collectors on reg. A nil reg yields a
// recorder that drops everything.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one cron job run.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Cron job runs by outcome.",
		}, []string{"job", "outcome"}),
	}
	reg.MustRegister(m.duration, m.runs)
	return m
}

func (c *CronJobMetrics) ObserveDuration(job string, d time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
}

func (c *CronJobMetrics) IncSuccess(job string) { c.countRun(job, outcomeSuccess) }

func (c *CronJobMetrics) IncFailure(job string) { c.countRun(job, outcomeFailure) }

func (c *CronJobMetrics) countRun(job, outcome string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), outcome).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
