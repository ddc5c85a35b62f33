/*
collab.go - Collaborator interfaces consumed by the engine

PURPOSE:
  The engine derives recommendations from data owned by external
  collaborators: inventory snapshots, phase configuration, cost estimates,
  transfer-scope and donation-restriction classifications, and permissions.
  This file defines those seams. The sqlite store implements the reference
  data providers; tests use inline fakes.

DESIGN:
  Every provider may legitimately answer "unavailable". Missing data is
  modeled explicitly (nil estimate, ok=false) so callers choose the
  conservative path instead of guessing.

SEE ALSO:
  - store/sqlite: Production provider implementations
  - needslist/service.go: Wires providers into preview and draft creation
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVENTORY
// =============================================================================

// InventoryProvider fetches the point-in-time observation for one line.
// Observations are read-only from the engine's perspective.
type InventoryProvider interface {
	Observation(ctx context.Context, item ItemID, warehouse WarehouseID) (InventoryObservation, error)
}

// ItemLister enumerates the items stocked at a warehouse, for previews
// that don't name items explicitly.
type ItemLister interface {
	StockedItems(ctx context.Context, warehouse WarehouseID) ([]ItemID, error)
}

// =============================================================================
// PHASE CONFIGURATION
// =============================================================================

// PhaseWindows carries the phase-dependent planning inputs.
type PhaseWindows struct {
	DemandWindowHours   decimal.Decimal
	PlanningWindowHours decimal.Decimal
	SafetyFactor        decimal.Decimal
}

// PhaseConfig resolves planning windows for a declared emergency phase.
type PhaseConfig interface {
	Windows(phase Phase) (PhaseWindows, error)
}

// =============================================================================
// COST / SUPPLIER
// =============================================================================

// CostEstimate is the procurement cost context for one item.
type CostEstimate struct {
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
}

// CostProvider returns the estimated procurement cost for an item, or nil
// when no cost context exists. A nil estimate makes the procurement horizon
// unevaluable.
type CostProvider interface {
	EstimatedCost(ctx context.Context, item ItemID) (*CostEstimate, error)
}

// =============================================================================
// TRANSFER SCOPE / DONATION RESTRICTION
// =============================================================================

// TransferScope classifies where transfer stock for an item would come from.
type TransferScope string

// Recognized transfer scope codes. Anything else forces escalation.
const (
	ScopeIntraParish TransferScope = "intra_parish"
	ScopeCrossParish TransferScope = "cross_parish"
)

// RecognizedScope reports whether a scope code is in the closed
// recognized set.
func RecognizedScope(scope TransferScope) bool {
	switch scope {
	case ScopeIntraParish, ScopeCrossParish:
		return true
	}
	return false
}

// ScopeProvider returns the raw transfer-scope code for an item, ok=false
// when the metadata is unavailable. The allocator classifies the code;
// unrecognized codes are conservative, never ignored.
type ScopeProvider interface {
	TransferScope(ctx context.Context, item ItemID, warehouse WarehouseID) (TransferScope, bool, error)
}

// Recognized donation restriction codes. Anything else forces escalation.
const (
	RestrictionNone            = "none"
	RestrictionSignoffRequired = "signoff_required"
	RestrictionUsageLimited    = "usage_limited"
)

// RecognizedRestriction reports whether a restriction code is in the
// closed recognized set.
func RecognizedRestriction(code string) bool {
	switch code {
	case RestrictionNone, RestrictionSignoffRequired, RestrictionUsageLimited:
		return true
	}
	return false
}

// RestrictionProvider returns the raw donation-restriction code for an item,
// ok=false when the metadata is unavailable. The allocator classifies the
// code; unrecognized codes are conservative, never ignored.
type RestrictionProvider interface {
	DonationRestriction(ctx context.Context, item ItemID) (code string, ok bool, err error)
}

// =============================================================================
// HORIZON AVAILABILITY
// =============================================================================

// AvailabilityProvider supplies the per-horizon ceilings: how much of an
// item other warehouses could transfer in, and how much allocated donation
// stock could cover.
type AvailabilityProvider interface {
	TransferCeiling(ctx context.Context, item ItemID, warehouse WarehouseID) (decimal.Decimal, error)
	DonationCeiling(ctx context.Context, item ItemID, warehouse WarehouseID) (decimal.Decimal, error)
}

// =============================================================================
// PERMISSIONS
// =============================================================================

// Permission keys checked by the state machine. Authorization enforcement
// (sessions, tokens) is out of scope; the engine receives an already
// authenticated actor ID and asks only these questions.
type Permission string

const (
	PermSubmit   Permission = "needs_list.submit"
	PermReview   Permission = "needs_list.review"
	PermApprove  Permission = "needs_list.approve"
	PermEscalate Permission = "needs_list.escalate"
	PermCancel   Permission = "needs_list.cancel"
)

// PermissionChecker answers permission and role questions for an actor.
type PermissionChecker interface {
	HasPermission(ctx context.Context, actor ActorID, perm Permission) (bool, error)
	Roles(ctx context.Context, actor ActorID) ([]Role, error)
}
