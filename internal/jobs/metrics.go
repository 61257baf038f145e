// Package jobmetrics instruments the ledger's background jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes recorded on ledger_jobs_total.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Metrics holds the job collectors.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	issues      *prometheus.CounterVec
	accounts    *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer, or once on the default
// registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker measures one job run. A nil *Metrics yields a tracker that records
// nothing.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
	skipped bool
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// Skip marks the run as not having done any work, e.g. because another
// worker holds its lock. Skipped runs are neither failures nor successes.
func (t *Tracker) Skip() {
	if t != nil {
		t.skipped = true
	}
}

// End records the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	switch {
	case err != nil:
		m.failures.WithLabelValues(t.job).Inc()
		m.runs.WithLabelValues(t.job, StatusFailure).Inc()
	case t.skipped:
		m.runs.WithLabelValues(t.job, StatusSkipped).Inc()
		return nil
	default:
		m.runs.WithLabelValues(t.job, StatusSuccess).Inc()
		m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	}
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddIntegrityIssues counts GL integrity findings of one kind.
func (m *Metrics) AddIntegrityIssues(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.issues.WithLabelValues(kind).Add(float64(count))
}

// AddCloseResults counts accounts closed and skipped by a period-close run.
func (m *Metrics) AddCloseResults(closed, skipped int) {
	if m == nil {
		return
	}
	if closed > 0 {
		m.accounts.WithLabelValues("closed").Add(float64(closed))
	}
	if skipped > 0 {
		m.accounts.WithLabelValues("skipped").Add(float64(skipped))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_jobs_total",
			Help: "Job runs by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_jobs_failures_total",
			Help: "Failed job runs by job name.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_job_duration_seconds",
			Help:    "Duration of job runs that did work.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run by job name.",
		}, []string{"job"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_integrity_issues_total",
			Help: "GL integrity findings grouped by kind.",
		}, []string{"kind"}),
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_period_close_accounts_total",
			Help: "Accounts processed by scheduled period close, by result.",
		}, []string{"result"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.issues, m.accounts)
	return m
}
