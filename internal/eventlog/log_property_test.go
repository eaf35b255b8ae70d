package eventlog

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

// TestMemoryLog_SyncPartitionProperty checks that after marking any subset,
// the unsynced set is exactly the complement in ascending id order.
func TestMemoryLog_SyncPartitionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("unsynced is the ordered complement of marked ids", prop.ForAll(
		func(count int, mask []bool) bool {
			ctx := context.Background()
			l := NewMemoryLog(fixedClock())

			var marked []int64
			expected := map[int64]bool{}
			for i := 0; i < count; i++ {
				event, err := l.Append(ctx, scan.Event{TagID: "T", Status: scan.StatusDispatched})
				if err != nil {
					return false
				}
				if i < len(mask) && mask[i] {
					marked = append(marked, event.ID)
				} else {
					expected[event.ID] = true
				}
			}
			if err := l.MarkSynced(ctx, marked); err != nil {
				return false
			}

			pending, err := l.QueryUnsynced(ctx, 0)
			if err != nil || len(pending) != len(expected) {
				return false
			}
			var last int64
			for _, event := range pending {
				if !expected[event.ID] || event.ID <= last {
					return false
				}
				last = event.ID
			}
			return true
		},
		gen.IntRange(0, 60),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("limited queries are prefixes of the unbounded query", prop.ForAll(
		func(count, limit int) bool {
			ctx := context.Background()
			l := NewMemoryLog(fixedClock())
			for i := 0; i < count; i++ {
				if _, err := l.Append(ctx, scan.Event{TagID: "T", Status: scan.StatusReceived}); err != nil {
					return false
				}
			}
			all, err := l.QueryUnsynced(ctx, 0)
			if err != nil {
				return false
			}
			limited, err := l.QueryUnsynced(ctx, limit)
			if err != nil {
				return false
			}
			want := count
			if limit > 0 && limit < count {
				want = limit
			}
			if len(limited) != want {
				return false
			}
			for i := range limited {
				if limited[i].ID != all[i].ID {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 40),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
