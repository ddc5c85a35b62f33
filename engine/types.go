/*
Package engine provides the core replenishment decision engine.

PURPOSE:
  This package contains the pure derivation logic that turns a point-in-time
  inventory observation into a replenishment recommendation: data freshness
  classification, gap calculation, fulfillment-horizon allocation, and
  approval-tier resolution. Everything here is side-effect free; persistence
  and lifecycle live in the needslist package.

KEY CONCEPTS IN THIS FILE (types.go):
  - InventoryObservation: A raw per-(item, warehouse) snapshot
  - GapLine: The derived shortfall record with severity and freshness
  - HorizonAllocation: The gap split across Transfer/Donation/Procurement
  - Stockout: Typed time-to-stockout value with a "no demand" sentinel
  - Phase/Freshness/Severity/Horizon: Closed classification enums

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Totality: Classifiers never panic for any well-typed input
  3. Determinism: Same inputs always produce the same outputs
  4. Type Safety: Strong typing for IDs prevents mixing item/warehouse IDs

USAGE:
  line, err := engine.ComputeGap(obs, params, policy, now)
  alloc, warns := engine.Allocate(line, itemCtx, policy.Allocation)
  summary := engine.ResolveApproval(alloc.Primary, cost, warns, policy.Approval)

SEE ALSO:
  - freshness.go: Freshness and burn-rate signal classification
  - gap.go: Gap and severity derivation
  - allocate.go: Horizon allocation
  - approval.go: Approval tier resolution
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type WarehouseID string
type EventID string
type ActorID string

// ItemKey identifies one line of a needs list. Used as a map key for
// overlap and idempotency checks; never a formatted string.
type ItemKey struct {
	ItemID      ItemID
	WarehouseID WarehouseID
}

// =============================================================================
// EMERGENCY PHASE
// =============================================================================

// Phase is the declared emergency phase. Demand windows and safety factors
// are phase-dependent and supplied by the PhaseConfig collaborator.
type Phase string

const (
	PhaseSurge      Phase = "SURGE"
	PhaseStabilized Phase = "STABILIZED"
	PhaseBaseline   Phase = "BASELINE"
)

// ParsePhase validates a raw phase string.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhaseSurge, PhaseStabilized, PhaseBaseline:
		return Phase(s), nil
	}
	return "", &ValidationError{Field: "phase", Message: "unknown phase: " + s}
}

// =============================================================================
// CLASSIFICATION ENUMS
// =============================================================================

// Freshness classifies how stale an inventory observation is.
// Unknown means the observation carries no timestamp at all.
type Freshness string

const (
	FreshnessFresh   Freshness = "FRESH"
	FreshnessWarn    Freshness = "WARN"
	FreshnessStale   Freshness = "STALE"
	FreshnessUnknown Freshness = "UNKNOWN"
)

// Severity classifies how urgent a gap line is, derived from time-to-stockout.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityWatch    Severity = "WATCH"
	SeverityOK       Severity = "OK"
)

// Horizon is one of the three fulfillment channels, in priority order:
// A inter-warehouse transfer (hours), B donation allocation (days),
// C open-market procurement (weeks).
type Horizon string

const (
	HorizonTransfer    Horizon = "A"
	HorizonDonation    Horizon = "B"
	HorizonProcurement Horizon = "C"
)

// ParseHorizon validates a raw horizon string.
func ParseHorizon(s string) (Horizon, error) {
	switch Horizon(s) {
	case HorizonTransfer, HorizonDonation, HorizonProcurement:
		return Horizon(s), nil
	}
	return "", &ValidationError{Field: "selected_method", Message: "unknown fulfillment method: " + s}
}

// =============================================================================
// INVENTORY OBSERVATION - Raw input from the inventory collaborator
// =============================================================================

// InventoryObservation is a point-in-time snapshot for one (item, warehouse).
// Immutable once read. InboundConfirmedQty counts only strictly committed
// inbound; unmodeled donation pledges are deliberately excluded (the
// allocator surfaces that exclusion as a warning instead).
type InventoryObservation struct {
	ItemID              ItemID
	WarehouseID         WarehouseID
	AvailableQty        decimal.Decimal
	InboundConfirmedQty decimal.Decimal

	// BurnRatePerHour is nil when there is no current demand signal.
	BurnRatePerHour *decimal.Decimal

	// ObservedAt is nil when the snapshot carries no timestamp,
	// which classifies as FreshnessUnknown.
	ObservedAt *time.Time

	// BurnRateEstimated is true when the burn rate came from a fallback
	// baseline rather than a fresh consumption sample. Surfaced as a hint,
	// never used in numeric derivation.
	BurnRateEstimated bool
}

// =============================================================================
// STOCKOUT - Typed time-to-stockout with "no current demand" sentinel
// =============================================================================

// Stockout is the projected time until available+inbound stock is exhausted.
// When the burn rate is zero or absent there is no projection; NoDemand is
// the typed sentinel so callers can format it per locale.
type Stockout struct {
	Hours    decimal.Decimal
	NoDemand bool
}

// StockoutNoDemand is the sentinel for a zero or absent burn rate.
func StockoutNoDemand() Stockout {
	return Stockout{NoDemand: true}
}

func StockoutIn(hours decimal.Decimal) Stockout {
	return Stockout{Hours: hours}
}

// String renders the default English presentation. Callers that need
// localization should branch on NoDemand instead.
func (s Stockout) String() string {
	if s.NoDemand {
		return "N/A – No current demand"
	}
	return s.Hours.StringFixed(1) + "h"
}

// =============================================================================
// GAP LINE - Derived shortfall record
// =============================================================================

// GapLine is the derived record for one (item, warehouse).
// Invariants: GapQty >= 0; Severity is OK whenever GapQty is zero.
type GapLine struct {
	ItemID      ItemID
	WarehouseID WarehouseID

	RequiredQty    decimal.Decimal
	GapQty         decimal.Decimal
	TimeToStockout Stockout
	Freshness      Freshness
	IsEstimated    bool
	Severity       Severity
}

func (g GapLine) Key() ItemKey {
	return ItemKey{ItemID: g.ItemID, WarehouseID: g.WarehouseID}
}

// =============================================================================
// HORIZON ALLOCATION - Gap split across fulfillment channels
// =============================================================================

// HorizonAllocation splits a gap across the three horizons. An invalid
// NullDecimal means the horizon could not be evaluated (currently only
// procurement, when cost context is unavailable). Non-null quantities are
// non-negative and sum to at most the line's GapQty.
type HorizonAllocation struct {
	Transfer    decimal.NullDecimal
	Donation    decimal.NullDecimal
	Procurement decimal.NullDecimal

	// UncoveredQty is the remainder no horizon could absorb, so downstream
	// UIs can flag "cannot be fully covered".
	UncoveredQty decimal.Decimal

	// Primary is the horizon that drives approval tiering: highest-priority
	// horizon with a positive quantity, defaulting to Transfer when the gap
	// is positive but nothing could be allocated.
	Primary Horizon
}

// Allocated returns the sum of the non-null horizon quantities.
func (a HorizonAllocation) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, q := range []decimal.NullDecimal{a.Transfer, a.Donation, a.Procurement} {
		if q.Valid {
			total = total.Add(q.Decimal)
		}
	}
	return total
}

// =============================================================================
// APPROVAL SUMMARY
// =============================================================================

// Tier is the approval authority level. Higher is stricter.
type Tier int

const (
	TierWarehouse Tier = iota + 1 // warehouse-level sign-off
	TierLogistics                 // logistics coordination sign-off
	TierDirector                  // operations directorate sign-off
	TierCommander                 // emergency command sign-off
)

// Role names the approver role required for a tier.
type Role string

const (
	RoleWarehouseManager     Role = "warehouse_manager"
	RoleLogisticsCoordinator Role = "logistics_coordinator"
	RoleOperationsDirector   Role = "operations_director"
	RoleEmergencyCommander   Role = "emergency_commander"
)

// ApprovalSummary is the resolved approval requirement for a needs list.
// Deterministic, order-independent function of its inputs; re-evaluating at
// approval time must reproduce the submission-time result unless the
// underlying inputs changed.
type ApprovalSummary struct {
	Tier               Tier
	ApproverRole       Role
	MethodsAllowed     []Horizon
	Warnings           []Warning
	EscalationRequired bool
}

// =============================================================================
// POLICY BUNDLE - All tunable thresholds, loaded via factory
// =============================================================================

// Policy bundles every policy constant the engine consumes. Thresholds are
// configuration, not logic; factory.DefaultPolicy provides compiled defaults.
type Policy struct {
	Freshness  FreshnessThresholds
	Severity   SeverityThresholds
	Allocation AllocationPolicy
	Approval   ApprovalPolicy

	// PendingEscalationAfter is how long a list may sit pending review
	// before a reminder response recommends escalation.
	PendingEscalationAfter time.Duration
}
