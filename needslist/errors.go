/*
errors.go - Lifecycle error taxonomy

PURPOSE:
  The four blocking error families of the workflow, each structured enough
  for the caller to resolve without guessing: the violated guard, the
  version mismatch, or the conflicting list identifiers.

USAGE:
  if errors.Is(err, needslist.ErrStaleVersion) { refetch and retry once }

  var conflict *needslist.DuplicateScopeConflict
  if errors.As(err, &conflict) { show conflict.ConflictingIDs }

SEE ALSO:
  - engine/errors.go: ValidationError for malformed input
  - machine.go: Produces StateTransitionError
  - guard.go: Produces DuplicateScopeConflict
*/
package needslist

import (
	"errors"
	"fmt"

	"github.com/reliefops/replenish-engine/engine"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStateTransition is returned for any illegal transition attempt:
	// wrong state, wrong actor, missing required field. Never partially
	// applied.
	ErrStateTransition = errors.New("illegal state transition")

	// ErrStaleVersion is returned when optimistic locking detects that the
	// stored version advanced past the caller's. Refetch and retry.
	ErrStaleVersion = errors.New("stale version")

	// ErrDuplicateScope is returned when an overlapping active list already
	// exists for the same (event, warehouse, phase) scope.
	ErrDuplicateScope = errors.New("duplicate scope conflict")

	// ErrNotFound is returned when a referenced needs list doesn't exist.
	ErrNotFound = errors.New("needs list not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry resolution context
// =============================================================================

// StateTransitionError reports the specific guard an attempt violated.
type StateTransitionError struct {
	ListID    ID
	From      Status
	Attempted string // the operation: "submit", "approve", ...
	Guard     string // the violated guard: "separation_of_duties", ...
	Message   string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s rejected for list %s in %s (guard %s): %s",
		e.Attempted, e.ListID, e.From, e.Guard, e.Message)
}

func (e *StateTransitionError) Unwrap() error {
	return ErrStateTransition
}

// StaleVersionError reports the version mismatch.
type StaleVersionError struct {
	ListID   ID
	Expected int64 // what the caller supplied
	Actual   int64 // what the store holds
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("list %s: version %d is stale, store holds %d",
		e.ListID, e.Expected, e.Actual)
}

func (e *StaleVersionError) Unwrap() error {
	return ErrStaleVersion
}

// DuplicateScopeConflict names the active lists that already cover the
// requested scope so the caller can view, supersede, or abandon.
type DuplicateScopeConflict struct {
	EventID        engine.EventID
	WarehouseID    engine.WarehouseID
	Phase          engine.Phase
	ConflictingIDs []ID
}

func (e *DuplicateScopeConflict) Error() string {
	return fmt.Sprintf("active needs list already covers (event %s, warehouse %s, phase %s): %v",
		e.EventID, e.WarehouseID, e.Phase, e.ConflictingIDs)
}

func (e *DuplicateScopeConflict) Unwrap() error {
	return ErrDuplicateScope
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed after a refetch.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleVersion)
}

// IsConflict returns true for scope-overlap conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateScope)
}

// IsClientError returns true if the error is due to the caller's input or
// timing rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrStaleVersion) ||
		errors.Is(err, ErrDuplicateScope) ||
		errors.Is(err, engine.ErrValidation)
}
