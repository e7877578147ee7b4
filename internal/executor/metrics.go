package executor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters spec §4.5 asks the load executor to emit,
// registered against a private registry so concurrent Executor instances in
// tests never collide on prometheus's default global registry.
type Metrics struct {
	JobsTotal            *prometheus.CounterVec
	LastPackageJobsTotal *prometheus.CounterVec
	JobWaitSeconds       prometheus.Summary
	PackagesTotal        prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics builds and registers a fresh Metrics set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loader_jobs_counter",
			Help: "Count of load jobs by terminal status.",
		}, []string{"status"}),
		LastPackageJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loader_last_package_jobs_counter",
			Help: "Count of load jobs by terminal status, reset at the start of each package.",
		}, []string{"status"}),
		JobWaitSeconds: prometheus.NewSummary(prometheus.SummaryOpts{
			Name:       "loader_job_wait_seconds",
			Help:       "Time a job spent between submission and completing.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		PackagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loader_load_package_counter",
			Help: "Count of load packages archived.",
		}),
		registry: reg,
	}

	reg.MustRegister(m.JobsTotal, m.LastPackageJobsTotal, m.JobWaitSeconds, m.PackagesTotal)
	return m
}

// Registry exposes the private registry backing m, for a caller that wants
// to expose it on an HTTP /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// resetPackageCounters zeroes the per-package counter vec at the start of
// each package's processing, per spec's "last package" naming.
func (m *Metrics) resetPackageCounters() {
	m.LastPackageJobsTotal.Reset()
}

func (m *Metrics) recordJobStatus(status string) {
	m.JobsTotal.WithLabelValues(status).Inc()
	m.LastPackageJobsTotal.WithLabelValues(status).Inc()
}
