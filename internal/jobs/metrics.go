package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	sweepEntries  *prometheus.CounterVec
	sweepSkipped  prometheus.Counter
	mismatches    *prometheus.CounterVec
	poolIssues    *prometheus.CounterVec
	lastAuditTime prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SweepOutcome adds count entries to the sweep outcome counter.
func (m *Metrics) SweepOutcome(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweepEntries.WithLabelValues(outcome).Add(float64(count))
}

// SweepSkipped counts sweeps skipped because another worker held the lock.
func (m *Metrics) SweepSkipped() {
	if m == nil {
		return
	}
	m.sweepSkipped.Inc()
}

// AddMismatches increments the balance mismatch counter of a location.
func (m *Metrics) AddMismatches(locationID int64, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.mismatches.WithLabelValues(strconv.FormatInt(locationID, 10)).Add(float64(count))
}

// AddPoolIssue counts one cost pool inconsistency.
func (m *Metrics) AddPoolIssue(problem string) {
	if m == nil {
		return
	}
	m.poolIssues.WithLabelValues(problem).Inc()
}

// AuditFinished stamps the completion time of the last ledger audit.
func (m *Metrics) AuditFinished(at time.Time) {
	if m == nil {
		return
	}
	m.lastAuditTime.Set(float64(at.Unix()))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	sweepEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_sweep_entries_total",
		Help: "Production queue entries visited by the sweep, by outcome.",
	}, []string{"outcome"})
	sweepSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_stock_sweep_skipped_total",
		Help: "Sweeps skipped because another worker held the sweep lock.",
	})
	mismatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_balance_mismatches_total",
		Help: "Materialised balances that disagree with the move ledger, by location.",
	}, []string{"location"})
	poolIssues := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_cost_pool_issues_total",
		Help: "Items whose cost pool breaks the moving average invariants, by problem.",
	}, []string{"problem"})
	lastAudit := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_stock_last_audit_timestamp_seconds",
		Help: "Unix time of the last completed ledger audit.",
	})
	registerer.MustRegister(runs, failures, duration, sweepEntries, sweepSkipped, mismatches, poolIssues, lastAudit)
	return &Metrics{
		runs:          runs,
		failures:      failures,
		duration:      duration,
		sweepEntries:  sweepEntries,
		sweepSkipped:  sweepSkipped,
		mismatches:    mismatches,
		poolIssues:    poolIssues,
		lastAuditTime: lastAudit,
	}
}
