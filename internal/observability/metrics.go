package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal tracks job outcomes by kind/resource/status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databridge_jobs_total",
			Help: "Total number of jobs by kind, resource and terminal status",
		},
		[]string{"kind", "resource", "status"},
	)

	// JobDuration tracks job run duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "databridge_job_duration_seconds",
			Help:    "Duration of job runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"kind", "resource", "status"},
	)

	// ActiveJobs tracks currently running jobs by kind.
	ActiveJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "databridge_active_jobs",
			Help: "Number of currently running jobs",
		},
		[]string{"kind"},
	)

	// RecordsProcessed tracks processed record counts.
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databridge_records_processed_total",
			Help: "Total number of records processed by kind, resource and outcome",
		},
		[]string{"kind", "resource", "outcome"},
	)

	// QueueEnqueued tracks enqueue attempts.
	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databridge_queue_enqueued_total",
			Help: "Total number of job enqueue attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// ArtifactBytes tracks bytes written to storage for export/error-report
	// artifacts.
	ArtifactBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "databridge_artifact_bytes",
			Help:    "Size in bytes of artifacts written to storage",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 20),
		},
		[]string{"kind"},
	)
)

// Metrics provides access to all application metrics through a narrow,
// mockable surface instead of package-level globals at every call site.
type Metrics struct{}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordJob records a terminal job outcome.
func (m *Metrics) RecordJob(kind, resource, status string) {
	JobsTotal.WithLabelValues(kind, resource, status).Inc()
}

// RecordJobDuration records how long a job run took.
func (m *Metrics) RecordJobDuration(kind, resource, status string, seconds float64) {
	JobDuration.WithLabelValues(kind, resource, status).Observe(seconds)
}

// SetActiveJobs adjusts the active-job gauge for a kind by delta.
func (m *Metrics) SetActiveJobs(kind string, delta float64) {
	ActiveJobs.WithLabelValues(kind).Add(delta)
}

// RecordRecords adds to the processed-record counter.
func (m *Metrics) RecordRecords(kind, resource, outcome string, n float64) {
	RecordsProcessed.WithLabelValues(kind, resource, outcome).Add(n)
}

// RecordEnqueue records a queue enqueue attempt outcome.
func (m *Metrics) RecordEnqueue(kind, outcome string) {
	QueueEnqueued.WithLabelValues(kind, outcome).Inc()
}

// RecordArtifactBytes records the size of a written artifact.
func (m *Metrics) RecordArtifactBytes(kind string, bytes float64) {
	ArtifactBytes.WithLabelValues(kind).Observe(bytes)
}
