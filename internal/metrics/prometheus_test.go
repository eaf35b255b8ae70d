package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Ashennwitch/mbg-tracker/internal/replication"
)

// TestReplication_CycleFinished verifies counters per outcome and records.
// Params: testing.T for assertions.
// Returns: none.
func TestReplication_CycleFinished(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewReplication(registry)
	if err != nil {
		t.Fatalf("new replication metrics: %v", err)
	}

	m.CycleFinished(replication.CycleReport{Outcome: replication.OutcomeAccepted, Submitted: 3, Synced: 3, Elapsed: time.Millisecond})
	m.CycleFinished(replication.CycleReport{Outcome: replication.OutcomeUnreachable, Submitted: 2})
	m.Pending(2)

	if got := testutil.ToFloat64(m.cycles.WithLabelValues("accepted")); got != 1 {
		t.Fatalf("accepted cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.records.WithLabelValues("submitted")); got != 5 {
		t.Fatalf("submitted records = %v", got)
	}
	if got := testutil.ToFloat64(m.records.WithLabelValues("synced")); got != 3 {
		t.Fatalf("synced records = %v", got)
	}
	if got := testutil.ToFloat64(m.unsynced); got != 2 {
		t.Fatalf("unsynced gauge = %v", got)
	}
}

// TestReplication_StateGauge verifies exactly one active state.
// Params: testing.T for assertions.
// Returns: none.
func TestReplication_StateGauge(t *testing.T) {
	m, err := NewReplication(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new replication metrics: %v", err)
	}
	m.StateChanged(replication.StateBackoff)

	if got := testutil.ToFloat64(m.state.WithLabelValues("backoff")); got != 1 {
		t.Fatalf("backoff = %v", got)
	}
	if got := testutil.ToFloat64(m.state.WithLabelValues("idle")); got != 0 {
		t.Fatalf("idle = %v", got)
	}
}

// TestNewReplication_DuplicateRegistration verifies conflicts surface as errors.
// Params: testing.T for assertions.
// Returns: none.
func TestNewReplication_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := NewReplication(registry); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewReplication(registry); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

// TestIngest_Observe verifies request and row counters.
// Params: testing.T for assertions.
// Returns: none.
func TestIngest_Observe(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewIngest(registry)
	if err != nil {
		t.Fatalf("new ingest metrics: %v", err)
	}
	m.ObserveRequest("http", "accepted", 10*time.Millisecond)
	m.ObserveRequest("grpc", "rejected", time.Millisecond)
	m.ObserveInsert(4, 1)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("http", "accepted")); got != 1 {
		t.Fatalf("http accepted = %v", got)
	}
	if got := testutil.ToFloat64(m.rows); got != 4 {
		t.Fatalf("rows = %v", got)
	}
	if got := testutil.ToFloat64(m.duplicates); got != 1 {
		t.Fatalf("duplicates = %v", got)
	}
}

// TestDiskUsageCollector_Collect verifies usage metrics for the temp dir.
// Params: testing.T for assertions.
// Returns: none.
func TestDiskUsageCollector_Collect(t *testing.T) {
	dir := t.TempDir()
	usage, err := ReadDiskUsage(context.Background(), dir)
	if err != nil {
		t.Skipf("disk usage unavailable: %v", err)
	}
	if usage.TotalBytes == 0 {
		t.Skip("filesystem reports zero size")
	}

	collector := NewDiskUsageCollector(dir)
	if got := testutil.CollectAndCount(collector); got != 4 {
		t.Fatalf("expected 4 samples, got %d", got)
	}

	registry := NewRegistry()
	registry.MustRegister(collector)
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), "mbg_data_dir_") {
			found = true
		}
	}
	if !found {
		t.Fatal("data dir metrics not gathered")
	}
}

// TestReadDiskUsage_EmptyPath verifies input validation.
// Params: testing.T for assertions.
// Returns: none.
func TestReadDiskUsage_EmptyPath(t *testing.T) {
	if _, err := ReadDiskUsage(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestHostCollector_Collect verifies host metrics gather without descriptor errors.
// Params: testing.T for assertions.
// Returns: none.
func TestHostCollector_Collect(t *testing.T) {
	registry := prometheus.NewPedanticRegistry()
	if err := registry.Register(NewHostCollector()); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), "mbg_host_") {
			t.Fatalf("unexpected family %q", family.GetName())
		}
	}
}
