package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingest exports ingestion service telemetry.
type Ingest struct {
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rows       prometheus.Counter
	duplicates prometheus.Counter
}

// NewIngest creates and registers ingestion metrics.
// Params: reg target registerer; nil keeps metrics unregistered.
// Returns: metrics set or registration error.
func NewIngest(reg prometheus.Registerer) (*Ingest, error) {
	m := &Ingest{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Batch submissions by transport and result.",
		}, []string{"transport", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "request_duration_seconds",
			Help:      "Batch submission latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_inserted_total",
			Help:      "Rows persisted by the ingestion service.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duplicates_suppressed_total",
			Help:      "Records skipped because their event_key was already stored.",
		}),
	}
	if err := register(reg, m.requests, m.latency, m.rows, m.duplicates); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveRequest records one submission.
func (m *Ingest) ObserveRequest(transport, result string, elapsed time.Duration) {
	m.requests.WithLabelValues(transport, result).Inc()
	m.latency.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// ObserveInsert records persisted and suppressed rows.
func (m *Ingest) ObserveInsert(inserted, duplicates int) {
	m.rows.Add(float64(inserted))
	m.duplicates.Add(float64(duplicates))
}
