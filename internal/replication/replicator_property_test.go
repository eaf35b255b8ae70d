package replication

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Ashennwitch/mbg-tracker/internal/eventlog"
	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

// TestReplicator_UnreachableNeverSyncs checks that while the center is down
// no record is marked synced and the unsynced set only grows.
func TestReplicator_UnreachableNeverSyncs(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("unsynced count equals appended count", prop.ForAll(
		func(appendsPerCycle []int, batchMax int) bool {
			ctx := context.Background()
			log := eventlog.NewMemoryLog(nil)
			center := &fakeCenter{err: unreachable("down")}
			r, err := New(Config{OriginID: "g", BatchMax: batchMax}, log, center, discardLogger())
			if err != nil {
				return false
			}

			appended := 0
			for _, n := range appendsPerCycle {
				for i := 0; i < n; i++ {
					if _, err := log.Append(ctx, scan.Event{TagID: "T", Status: scan.StatusDispatched}); err != nil {
						return false
					}
					appended++
				}
				r.RunCycle(ctx)
				stats, err := log.Stats(ctx)
				if err != nil || stats.Synced != 0 || stats.Unsynced != int64(appended) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.IntRange(0, 4),
	))

	properties.Property("accepted cycles sync exactly what was appended", prop.ForAll(
		func(count, batchMax int) bool {
			ctx := context.Background()
			log := eventlog.NewMemoryLog(nil)
			center := &fakeCenter{}
			r, err := New(Config{OriginID: "g", BatchMax: batchMax}, log, center, discardLogger())
			if err != nil {
				return false
			}
			for i := 0; i < count; i++ {
				if _, err := log.Append(ctx, scan.Event{TagID: "T", Status: scan.StatusReceived}); err != nil {
					return false
				}
			}
			report := r.RunCycle(ctx)
			_, rows := center.snapshot()
			stats, err := log.Stats(ctx)
			if err != nil {
				return false
			}
			return report.Synced == count && len(rows) == count && stats.Unsynced == 0
		},
		gen.IntRange(0, 30),
		gen.IntRange(0, 7),
	))

	properties.TestingRun(t)
}
