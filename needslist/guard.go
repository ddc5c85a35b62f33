/*
guard.go - Concurrency & dedup guard

PURPOSE:
  Wraps draft creation to prevent duplicate active lists for the same
  (event, warehouse, phase) scope with overlapping items, and to make draft
  creation idempotent against identical content.

TWO CHECKS:
  1. Draft reuse: re-previewing with identical computed per-item required
     quantities for an existing DRAFT owned by the same actor for the same
     (event, phase, method) reuses that draft's identity. Equality is exact
     item-set match plus per-item required quantity within a small numeric
     tolerance - required quantity, not gap, so inventory drift between
     previews doesn't defeat the idempotency.
  2. Scope conflict: any other non-terminal list covering the same scope
     with item overlap surfaces a DuplicateScopeConflict naming the
     conflicting identifiers. The caller decides; the guard never silently
     proceeds.

SEE ALSO:
  - service.go: Runs the guard before every draft creation
*/
package needslist

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/reliefops/replenish-engine/engine"
)

// draftMatchTolerance absorbs float noise in recomputed required
// quantities when matching an existing draft.
var draftMatchTolerance = decimal.New(1, -4) // 1e-4

// Guard runs the duplicate-scope and draft-idempotency checks.
type Guard struct {
	Store Store
}

// FindReusableDraft returns an existing DRAFT to reuse for an identical
// preview, or nil when none matches.
func (g *Guard) FindReusableDraft(
	ctx context.Context,
	actor engine.ActorID,
	eventID engine.EventID,
	phase engine.Phase,
	method engine.Horizon,
	lines []engine.GapLine,
) (*NeedsList, error) {
	drafts, err := g.Store.List(ctx, Filter{
		EventID:   eventID,
		Phase:     phase,
		Status:    StatusDraft,
		CreatedBy: actor,
	})
	if err != nil {
		return nil, err
	}

	for _, d := range drafts {
		if d.Method == method && draftMatches(d, lines) {
			return d, nil
		}
	}
	return nil, nil
}

// CheckScope returns a DuplicateScopeConflict if any non-terminal list
// (other than ignore) covers the same (event, warehouse, phase) with an
// overlapping item set. Multiple lists over disjoint item sets are legal.
func (g *Guard) CheckScope(
	ctx context.Context,
	eventID engine.EventID,
	warehouseID engine.WarehouseID,
	phase engine.Phase,
	keys map[engine.ItemKey]bool,
	ignore ID,
) ([]*NeedsList, *DuplicateScopeConflict, error) {
	active, err := g.Store.List(ctx, Filter{
		EventID:         eventID,
		WarehouseID:     warehouseID,
		Phase:           phase,
		NonTerminalOnly: true,
	})
	if err != nil {
		return nil, nil, err
	}

	var conflicting []*NeedsList
	for _, l := range active {
		if l.ID == ignore {
			continue
		}
		if l.OverlapsItems(keys) {
			conflicting = append(conflicting, l)
		}
	}
	if len(conflicting) == 0 {
		return nil, nil, nil
	}

	conflict := &DuplicateScopeConflict{
		EventID:     eventID,
		WarehouseID: warehouseID,
		Phase:       phase,
	}
	for _, l := range conflicting {
		conflict.ConflictingIDs = append(conflict.ConflictingIDs, l.ID)
	}
	return conflicting, conflict, nil
}

// draftMatches compares an existing draft against freshly computed lines:
// exact item-key set and per-item required quantity within tolerance.
func draftMatches(d *NeedsList, lines []engine.GapLine) bool {
	if len(d.Items) != len(lines) {
		return false
	}

	required := make(map[engine.ItemKey]decimal.Decimal, len(d.Items))
	for _, it := range d.Items {
		required[it.Key()] = it.RequiredQty
	}

	for _, line := range lines {
		want, ok := required[line.Key()]
		if !ok {
			return false
		}
		if line.RequiredQty.Sub(want).Abs().GreaterThan(draftMatchTolerance) {
			return false
		}
	}
	return true
}
