/*
store.go - Persistence interface for needs lists

PURPOSE:
  The storage seam of the lifecycle. Update carries the caller's expected
  version and must apply atomically: compare-and-swap on the version
  counter, bumping it on success and failing with StaleVersionError when
  the stored version has advanced.

IMPLEMENTATIONS:
  - store/sqlite: Production store (WAL, in-process migration)
  - store/memory: Mutex-guarded in-memory store for tests and dev

SEE ALSO:
  - service.go: The only writer
*/
package needslist

import (
	"context"

	"github.com/reliefops/replenish-engine/engine"
)

// Filter narrows List queries. Zero values match everything.
type Filter struct {
	EventID     engine.EventID
	WarehouseID engine.WarehouseID
	Phase       engine.Phase
	Status      Status
	CreatedBy   engine.ActorID

	// NonTerminalOnly restricts to the active statuses the dedup guard
	// cares about.
	NonTerminalOnly bool
}

// Store persists needs lists with optimistic concurrency.
type Store interface {
	// Create persists a new list at version 1.
	Create(ctx context.Context, l *NeedsList) error

	// Get returns the list or ErrNotFound. Implementations return a copy
	// safe for the caller to mutate.
	Get(ctx context.Context, id ID) (*NeedsList, error)

	// Update persists l if the stored version equals expectedVersion,
	// bumping the version by one. Fails with *StaleVersionError otherwise.
	Update(ctx context.Context, l *NeedsList, expectedVersion int64) error

	// List returns lists matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*NeedsList, error)
}
