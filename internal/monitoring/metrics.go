package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records background job and queue activity.
type JobMetrics struct {
	jobRunsTotal *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	activeJobs   prometheus.Gauge
	queueDepth   prometheus.Gauge
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		jobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_job_runs_total",
			Help: "Background job executions by job name and outcome",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_job_duration_seconds",
			Help:    "Background job execution duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_active_jobs",
			Help: "Jobs currently executing in the worker pool",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_queue_depth",
			Help: "Jobs admitted and waiting or executing",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.jobRunsTotal, m.jobDuration, m.activeJobs, m.queueDepth)
	}

	return m
}

func (m *JobMetrics) ObserveJob(job string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.jobRunsTotal.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *JobMetrics) JobStarted() {
	m.activeJobs.Inc()
}

func (m *JobMetrics) JobFinished() {
	m.activeJobs.Dec()
}

func (m *JobMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}
