package replication

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

// slowCenter tracks concurrent submissions.
type slowCenter struct {
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (c *slowCenter) SubmitBatch(_ context.Context, batch wire.Batch) (wire.Result, error) {
	c.calls.Add(1)
	current := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		seen := c.maxInFlight.Load()
		if current <= seen || c.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}
	time.Sleep(c.delay)
	return wire.Result{Accepted: batch.Len()}, nil
}
