package scan

import (
	"fmt"
	"strings"

	"github.com/Ashennwitch/mbg-tracker/internal/match"
)

// Well-known status labels used by the field apps.
const (
	StatusDispatched = "dispatched"
	StatusReceived   = "received"
)

// StatusPolicy decides which status labels the write path admits.
// Params: compiled allowlist patterns; empty list admits any non-empty label.
// Returns: reusable policy.
type StatusPolicy struct {
	allow match.PatternSet
}

// NewStatusPolicy compiles allowlist patterns such as "dispatched" or "custom_*".
// Params: patterns list from configuration.
// Returns: policy or error on blank pattern.
func NewStatusPolicy(patterns []string) (StatusPolicy, error) {
	set, err := match.CompileSet(patterns)
	if err != nil {
		return StatusPolicy{}, fmt.Errorf("status allowlist: %w", err)
	}
	return StatusPolicy{allow: set}, nil
}

// Check validates the status label against the allowlist.
// Params: status label.
// Returns: *ValidationError when label is empty or not admitted.
func (p StatusPolicy) Check(status string) error {
	value := strings.TrimSpace(status)
	if value == "" {
		return &ValidationError{Field: "status", Reason: "is required"}
	}
	if p.allow.Empty() {
		return nil
	}
	if !p.allow.MatchAny(value) {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not an allowed label", value)}
	}
	return nil
}
