/*
errors.go - Error types for the derivation engine

PURPOSE:
  Validation failures for malformed inputs. Lifecycle errors (illegal
  transitions, stale versions, duplicate scope) live with the state machine
  in the needslist package; this file only covers errors the pure engine
  can produce.

ERROR PHILOSOPHY:
  Missing data is a warning, not an error: the engine picks the conservative
  numeric or approval outcome and attaches a structured warning code.
  Only malformed input (negative quantities, unknown enums) is rejected,
  before any computation.

SEE ALSO:
  - warnings.go: Structured warning codes for missing data
  - needslist/errors.go: Lifecycle error taxonomy
*/
package engine

import (
	"errors"
	"fmt"
)

// ErrValidation is the sentinel for all input validation failures.
// Use errors.Is to detect; errors.As for the structured form.
var ErrValidation = errors.New("validation failed")

// ValidationError reports malformed or out-of-range input. Rejected before
// any computation; never partially applied.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
