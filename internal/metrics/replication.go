package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ashennwitch/mbg-tracker/internal/replication"
)

var replicationStates = []replication.State{
	replication.StateIdle,
	replication.StateSyncing,
	replication.StateBackoff,
}

// Replication exports replicator telemetry.
// Params: counters by outcome, per-record counters, cycle latency and gauges.
// Returns: replication.Observer implementation.
type Replication struct {
	cycles   *prometheus.CounterVec
	records  *prometheus.CounterVec
	latency  prometheus.Histogram
	unsynced prometheus.Gauge
	state    *prometheus.GaugeVec
}

// NewReplication creates and registers replication metrics.
// Params: reg target registerer; nil keeps metrics unregistered.
// Returns: metrics set or registration error.
func NewReplication(reg prometheus.Registerer) (*Replication, error) {
	m := &Replication{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "cycles_total",
			Help:      "Replication cycles by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "records_total",
			Help:      "Records by delivery result (submitted, synced, duplicates, dead_lettered).",
		}, []string{"result"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "cycle_duration_seconds",
			Help:      "Replication cycle duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		unsynced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "unsynced_records",
			Help:      "Records waiting for replication after the last cycle.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "state",
			Help:      "Current replicator state (1 for the active state).",
		}, []string{"state"}),
	}
	if err := register(reg, m.cycles, m.records, m.latency, m.unsynced, m.state); err != nil {
		return nil, err
	}
	m.StateChanged(replication.StateIdle)
	return m, nil
}

// CycleFinished records one cycle report.
func (m *Replication) CycleFinished(report replication.CycleReport) {
	m.cycles.WithLabelValues(string(report.Outcome)).Inc()
	m.latency.Observe(report.Elapsed.Seconds())
	m.records.WithLabelValues("submitted").Add(float64(report.Submitted))
	m.records.WithLabelValues("synced").Add(float64(report.Synced))
	m.records.WithLabelValues("duplicates").Add(float64(report.Duplicates))
	m.records.WithLabelValues("dead_lettered").Add(float64(report.DeadLettered))
}

// StateChanged sets the active state to 1 and others to 0.
func (m *Replication) StateChanged(state replication.State) {
	for _, candidate := range replicationStates {
		value := 0.0
		if candidate == state {
			value = 1
		}
		m.state.WithLabelValues(candidate.String()).Set(value)
	}
}

// Pending sets the unsynced gauge.
func (m *Replication) Pending(unsynced int64) {
	m.unsynced.Set(float64(unsynced))
}
