/*
approval.go - Approval tier resolution

PURPOSE:
  Maps (selected horizon, aggregate estimated cost, allocator warnings) to
  the approval tier and approver role a needs list requires. Table-driven:
  the cost bands and tier-to-role mapping are policy configuration, the
  direction of every rule is fixed here.

RULES (direction is invariant, thresholds are config):
  - Procurement base tier comes from ascending cost bands; missing cost
    resolves to the most conservative band and records why.
  - Transfer with a flagged over-limit cross-parish move escalates one tier
    regardless of cost.
  - Donation with a flagged restriction escalates one tier.
  - Any unrecognized scope/restriction flag escalates one tier; the
    originating warning stays on the summary.

DETERMINISM:
  The result is a pure, order-independent function of the inputs. The state
  machine re-resolves at approval time and must see the same tier the
  submitter saw, unless the underlying data actually changed.
*/
package engine

import "github.com/shopspring/decimal"

// CostBand maps an aggregate cost ceiling to a tier. Bands are evaluated in
// ascending UpTo order; a band with Valid=false is open-ended and must come
// last. Missing cost always resolves to the last (strictest) band.
type CostBand struct {
	UpTo decimal.NullDecimal
	Tier Tier
}

// ApprovalPolicy is the tiering configuration.
type ApprovalPolicy struct {
	// TransferBaseTier and DonationBaseTier are the base tiers for the
	// hours-scale and day-scale horizons.
	TransferBaseTier Tier
	DonationBaseTier Tier

	// ProcurementBands key the procurement base tier to aggregate cost.
	ProcurementBands []CostBand

	// RoleForTier maps each tier to the role that may approve at it.
	RoleForTier map[Tier]Role

	// MaxTier caps escalation.
	MaxTier Tier
}

// ResolveApproval computes the ApprovalSummary for a selected horizon.
// estimatedCost is nil when no aggregate cost could be computed.
// The allocator's warnings are consumed as a set; order never matters.
func ResolveApproval(method Horizon, estimatedCost *decimal.Decimal, warns []Warning, pol ApprovalPolicy) ApprovalSummary {
	summary := ApprovalSummary{Warnings: append([]Warning(nil), warns...)}

	switch method {
	case HorizonProcurement:
		tier, conservative := procurementBaseTier(estimatedCost, pol.ProcurementBands)
		summary.Tier = tier
		if conservative {
			summary.Warnings = append(summary.Warnings,
				Warning{Code: WarnCostMissingForApproval},
				Warning{Code: WarnApprovalTierConservative},
			)
		}
	case HorizonDonation:
		summary.Tier = pol.DonationBaseTier
	default:
		summary.Tier = pol.TransferBaseTier
	}

	escalate := false
	if method == HorizonTransfer && HasWarning(warns, WarnTransferCrossParishOverLimit) {
		escalate = true
	}
	if method == HorizonDonation && HasWarning(warns, WarnDonationRestrictionEscalation) {
		escalate = true
	}
	if HasWarning(warns, WarnDonationRestrictionUnrecognized) {
		escalate = true
	}
	if HasWarning(warns, WarnTransferScopeUnrecognized) {
		escalate = true
	}

	if escalate {
		summary.Tier = raiseTier(summary.Tier, pol.MaxTier)
		summary.EscalationRequired = true
	}

	summary.ApproverRole = pol.RoleForTier[summary.Tier]
	summary.MethodsAllowed = methodsAllowed(summary.Tier, pol)
	return summary
}

// RaiseTier bumps a tier by one level, capped at the policy maximum.
// Exposed for the escalation transition, which raises the effective tier
// without re-running allocation.
func RaiseTier(t Tier, pol ApprovalPolicy) Tier {
	return raiseTier(t, pol.MaxTier)
}

func raiseTier(t, max Tier) Tier {
	if t >= max {
		return max
	}
	return t + 1
}

// procurementBaseTier walks the ascending bands. Returns conservative=true
// when the missing-cost fallback applied.
func procurementBaseTier(cost *decimal.Decimal, bands []CostBand) (Tier, bool) {
	if len(bands) == 0 {
		return TierCommander, cost == nil
	}
	if cost == nil {
		return bands[len(bands)-1].Tier, true
	}
	for _, b := range bands {
		if !b.UpTo.Valid || cost.LessThanOrEqual(b.UpTo.Decimal) {
			return b.Tier, false
		}
	}
	return bands[len(bands)-1].Tier, false
}

// methodsAllowed lists every horizon whose base tier (at zero cost) is
// within reach of the resolved tier.
func methodsAllowed(t Tier, pol ApprovalPolicy) []Horizon {
	var methods []Horizon
	if pol.TransferBaseTier <= t {
		methods = append(methods, HorizonTransfer)
	}
	if pol.DonationBaseTier <= t {
		methods = append(methods, HorizonDonation)
	}
	if len(pol.ProcurementBands) > 0 && pol.ProcurementBands[0].Tier <= t {
		methods = append(methods, HorizonProcurement)
	}
	return methods
}
