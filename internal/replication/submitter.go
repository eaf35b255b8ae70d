package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

// ErrUnreachable marks transient delivery failures: transport errors, timeouts,
// or a center that is up but temporarily unable to accept.
var ErrUnreachable = errors.New("replication: ingestion service unreachable")

// Submitter delivers one batch to the ingestion service.
// A nil error means the batch was accepted as a whole.
type Submitter interface {
	SubmitBatch(ctx context.Context, batch wire.Batch) (wire.Result, error)
}

// TokenSource supplies bearer tokens for authenticated submissions.
type TokenSource interface {
	Token() (string, error)
}

// RejectedError means the service answered and refused the batch.
// Params: Status transport status text; Reason response body or rpc message.
// Returns: error kept distinct from ErrUnreachable.
type RejectedError struct {
	Status string
	Reason string
}

// Error renders status and reason.
// Params: none.
// Returns: error text.
func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("batch rejected: %s", e.Status)
	}
	return fmt.Sprintf("batch rejected: %s: %s", e.Status, e.Reason)
}

// unreachable wraps cause with ErrUnreachable.
func unreachable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnreachable, fmt.Sprintf(format, args...))
}
