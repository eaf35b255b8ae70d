package scan

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("scan: validation failure")
	// ErrStore marks local durable store I/O failures.
	ErrStore = errors.New("scan: store failure")
)

// ValidationError describes one invalid input field.
// Params: Field input name; Reason human readable cause.
// Returns: error matching ErrValidation via errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// Error renders field and reason.
// Params: none.
// Returns: error text.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is reports ErrValidation identity.
// Params: target compared error.
// Returns: true for ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StoreError wraps a store I/O failure so callers can match ErrStore.
// Params: op failed operation name; err underlying cause.
// Returns: wrapped error or nil when err is nil.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
