/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON policy definitions into engine.Policy and a phase-window
  table. This enables threshold tuning without code changes - an emergency
  operations center can adjust severity cutoffs, cost bands, and the
  cross-parish transfer limit in configuration between activations.

WHY JSON?
  - Non-developers can modify thresholds
  - Easy integration with admin tooling
  - Version control for policy definitions
  - Database storage of policy configs

JSON SCHEMA:
  {
    "id": "jamaica-default",
    "name": "Jamaica national default",
    "freshness": {"fresh_within_minutes": 60, "stale_after_minutes": 360},
    "severity": {"critical_under_hours": 8, "warning_under_hours": 24, "watch_under_hours": 72},
    "allocation": {"cross_parish_unit_limit": 500},
    "approval": {
      "transfer_base_tier": 1,
      "donation_base_tier": 2,
      "procurement_bands": [
        {"up_to": 1000, "tier": 2},
        {"up_to": 10000, "tier": 3},
        {"tier": 4}
      ],
      "max_tier": 4,
      "roles": {"1": "warehouse_manager", "2": "logistics_coordinator",
                "3": "operations_director", "4": "emergency_commander"}
    },
    "pending_escalation_after_hours": 8,
    "phases": {
      "SURGE":      {"demand_window_hours": 6,  "planning_window_hours": 6,  "safety_factor": 1.5},
      "STABILIZED": {"demand_window_hours": 24, "planning_window_hours": 24, "safety_factor": 1.25},
      "BASELINE":   {"demand_window_hours": 72, "planning_window_hours": 72, "safety_factor": 1.0}
    }
  }

KEY FEATURES:
  - Validates JSON structure
  - Sets sensible defaults for omitted sections
  - Builds the PhaseTable used as the engine's phase collaborator
  - Enforces ascending cost bands with an open-ended last band

USAGE:
  factory := NewPolicyFactory()
  policy, phases, err := factory.ParsePolicy(jsonString)

  // Or the built-in defaults
  policy := factory.DefaultPolicy()
  phases := factory.DefaultPhaseTable()

SEE ALSO:
  - engine/types.go: Policy type definition
  - engine/approval.go: How cost bands and tiers are consumed
  - cmd/server/main.go: Loads the policy file named in configuration
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reliefops/replenish-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of an engine policy.
type PolicyJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Freshness  *FreshnessJSON  `json:"freshness,omitempty"`
	Severity   *SeverityJSON   `json:"severity,omitempty"`
	Allocation *AllocationJSON `json:"allocation,omitempty"`
	Approval   *ApprovalJSON   `json:"approval,omitempty"`

	PendingEscalationAfterHours float64 `json:"pending_escalation_after_hours,omitempty"`

	Phases map[string]PhaseWindowsJSON `json:"phases,omitempty"`
}

// FreshnessJSON holds the observation-age thresholds in minutes.
type FreshnessJSON struct {
	FreshWithinMinutes int `json:"fresh_within_minutes"`
	StaleAfterMinutes  int `json:"stale_after_minutes"`
}

// SeverityJSON holds the time-to-stockout cutoffs in hours.
type SeverityJSON struct {
	CriticalUnderHours float64 `json:"critical_under_hours"`
	WarningUnderHours  float64 `json:"warning_under_hours"`
	WatchUnderHours    float64 `json:"watch_under_hours"`
}

// AllocationJSON holds the allocator constraints.
type AllocationJSON struct {
	CrossParishUnitLimit float64 `json:"cross_parish_unit_limit"`
}

// ApprovalJSON holds the tiering configuration.
type ApprovalJSON struct {
	TransferBaseTier int            `json:"transfer_base_tier"`
	DonationBaseTier int            `json:"donation_base_tier"`
	ProcurementBands []CostBandJSON `json:"procurement_bands"`
	MaxTier          int            `json:"max_tier"`

	// Roles maps tier number (as a JSON object key) to role name.
	Roles map[string]string `json:"roles"`
}

// CostBandJSON is one procurement cost band. A band with no up_to is
// open-ended and must come last.
type CostBandJSON struct {
	UpTo *float64 `json:"up_to,omitempty"`
	Tier int      `json:"tier"`
}

// PhaseWindowsJSON holds one phase's planning windows.
type PhaseWindowsJSON struct {
	DemandWindowHours   float64 `json:"demand_window_hours"`
	PlanningWindowHours float64 `json:"planning_window_hours"`
	SafetyFactor        float64 `json:"safety_factor"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a Policy and PhaseTable.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (engine.Policy, *PhaseTable, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return engine.Policy{}, nil, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts PolicyJSON to an engine.Policy and PhaseTable,
// filling omitted sections with the defaults.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (engine.Policy, *PhaseTable, error) {
	policy := f.DefaultPolicy()

	if pj.Freshness != nil {
		policy.Freshness = engine.FreshnessThresholds{
			FreshWithin: time.Duration(pj.Freshness.FreshWithinMinutes) * time.Minute,
			StaleAfter:  time.Duration(pj.Freshness.StaleAfterMinutes) * time.Minute,
		}
		if policy.Freshness.StaleAfter < policy.Freshness.FreshWithin {
			return engine.Policy{}, nil, fmt.Errorf("stale_after_minutes must be >= fresh_within_minutes")
		}
	}

	if pj.Severity != nil {
		policy.Severity = engine.SeverityThresholds{
			CriticalUnderHours: decimal.NewFromFloat(pj.Severity.CriticalUnderHours),
			WarningUnderHours:  decimal.NewFromFloat(pj.Severity.WarningUnderHours),
			WatchUnderHours:    decimal.NewFromFloat(pj.Severity.WatchUnderHours),
		}
	}

	if pj.Allocation != nil {
		policy.Allocation = engine.AllocationPolicy{
			CrossParishUnitLimit: decimal.NewFromFloat(pj.Allocation.CrossParishUnitLimit),
		}
	}

	if pj.Approval != nil {
		approval, err := parseApproval(*pj.Approval)
		if err != nil {
			return engine.Policy{}, nil, err
		}
		policy.Approval = approval
	}

	if pj.PendingEscalationAfterHours > 0 {
		policy.PendingEscalationAfter = time.Duration(pj.PendingEscalationAfterHours * float64(time.Hour))
	}

	phases := f.DefaultPhaseTable()
	for name, wj := range pj.Phases {
		phase, err := engine.ParsePhase(name)
		if err != nil {
			return engine.Policy{}, nil, fmt.Errorf("phases: %w", err)
		}
		phases.windows[phase] = engine.PhaseWindows{
			DemandWindowHours:   decimal.NewFromFloat(wj.DemandWindowHours),
			PlanningWindowHours: decimal.NewFromFloat(wj.PlanningWindowHours),
			SafetyFactor:        decimal.NewFromFloat(wj.SafetyFactor),
		}
	}

	return policy, phases, nil
}

func parseApproval(aj ApprovalJSON) (engine.ApprovalPolicy, error) {
	pol := engine.ApprovalPolicy{
		TransferBaseTier: engine.Tier(aj.TransferBaseTier),
		DonationBaseTier: engine.Tier(aj.DonationBaseTier),
		MaxTier:          engine.Tier(aj.MaxTier),
		RoleForTier:      map[engine.Tier]engine.Role{},
	}

	for key, role := range aj.Roles {
		n, err := strconv.Atoi(key)
		if err != nil {
			return pol, fmt.Errorf("approval.roles: tier key %q is not a number", key)
		}
		pol.RoleForTier[engine.Tier(n)] = engine.Role(role)
	}

	var prev *decimal.Decimal
	for i, bj := range aj.ProcurementBands {
		band := engine.CostBand{Tier: engine.Tier(bj.Tier)}
		if bj.UpTo == nil {
			if i != len(aj.ProcurementBands)-1 {
				return pol, fmt.Errorf("approval.procurement_bands: open-ended band must come last")
			}
		} else {
			upTo := decimal.NewFromFloat(*bj.UpTo)
			if prev != nil && !upTo.GreaterThan(*prev) {
				return pol, fmt.Errorf("approval.procurement_bands: bands must ascend")
			}
			prev = &upTo
			band.UpTo = decimal.NewNullDecimal(upTo)
		}
		pol.ProcurementBands = append(pol.ProcurementBands, band)
	}

	return pol, nil
}

// =============================================================================
// PHASE TABLE
// =============================================================================

// PhaseTable is the in-process phase-window collaborator.
type PhaseTable struct {
	windows map[engine.Phase]engine.PhaseWindows
}

// Windows resolves the planning windows for a phase.
func (t *PhaseTable) Windows(phase engine.Phase) (engine.PhaseWindows, error) {
	w, ok := t.windows[phase]
	if !ok {
		return engine.PhaseWindows{}, fmt.Errorf("no phase windows configured for %q", phase)
	}
	return w, nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultPolicy returns the national default thresholds. Every value here
// is overridable via PolicyJSON.
func (f *PolicyFactory) DefaultPolicy() engine.Policy {
	return engine.Policy{
		Freshness: engine.FreshnessThresholds{
			FreshWithin: 60 * time.Minute,
			StaleAfter:  6 * time.Hour,
		},
		Severity: engine.SeverityThresholds{
			CriticalUnderHours: decimal.NewFromInt(8),
			WarningUnderHours:  decimal.NewFromInt(24),
			WatchUnderHours:    decimal.NewFromInt(72),
		},
		Allocation: engine.AllocationPolicy{
			CrossParishUnitLimit: decimal.NewFromInt(500),
		},
		Approval: engine.ApprovalPolicy{
			TransferBaseTier: engine.TierWarehouse,
			DonationBaseTier: engine.TierLogistics,
			ProcurementBands: []engine.CostBand{
				{UpTo: decimal.NewNullDecimal(decimal.NewFromInt(1000)), Tier: engine.TierLogistics},
				{UpTo: decimal.NewNullDecimal(decimal.NewFromInt(10000)), Tier: engine.TierDirector},
				{Tier: engine.TierCommander},
			},
			RoleForTier: map[engine.Tier]engine.Role{
				engine.TierWarehouse: engine.RoleWarehouseManager,
				engine.TierLogistics: engine.RoleLogisticsCoordinator,
				engine.TierDirector:  engine.RoleOperationsDirector,
				engine.TierCommander: engine.RoleEmergencyCommander,
			},
			MaxTier: engine.TierCommander,
		},
		PendingEscalationAfter: 8 * time.Hour,
	}
}

// DefaultPhaseTable returns the phase windows used when configuration
// omits them: tight surge windows with a high safety factor, widening as
// the response stabilizes.
func (f *PolicyFactory) DefaultPhaseTable() *PhaseTable {
	return &PhaseTable{windows: map[engine.Phase]engine.PhaseWindows{
		engine.PhaseSurge: {
			DemandWindowHours:   decimal.NewFromInt(6),
			PlanningWindowHours: decimal.NewFromInt(6),
			SafetyFactor:        decimal.NewFromFloat(1.5),
		},
		engine.PhaseStabilized: {
			DemandWindowHours:   decimal.NewFromInt(24),
			PlanningWindowHours: decimal.NewFromInt(24),
			SafetyFactor:        decimal.NewFromFloat(1.25),
		},
		engine.PhaseBaseline: {
			DemandWindowHours:   decimal.NewFromInt(72),
			PlanningWindowHours: decimal.NewFromInt(72),
			SafetyFactor:        decimal.NewFromInt(1),
		},
	}}
}
