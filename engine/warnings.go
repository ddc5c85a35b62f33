/*
warnings.go - Closed warning-code enumeration

PURPOSE:
  Structured, non-fatal signals about missing or suspicious data. Warnings
  never block a preview or submission; they travel with the response so
  downstream consumers can pattern-match exhaustively instead of parsing
  free text.

CONSERVATIVE BIAS:
  Whenever a warning reports missing data, the engine has already chosen
  the stricter outcome: an unevaluated procurement horizon, a higher
  approval tier, a forced escalation. A warning documents the choice,
  it never softens it.

SEE ALSO:
  - allocate.go: Emits the horizon warnings
  - approval.go: Emits the tiering warnings and reacts to the rest
*/
package engine

// WarningCode is a closed enumeration. Adding a code is a versioned API
// change; consumers switch exhaustively over KnownWarningCodes.
type WarningCode string

const (
	// WarnProcurementUnavailable: procurement could not be evaluated because
	// cost/supplier context is missing. Always paired with a null
	// procurement quantity on the allocation.
	WarnProcurementUnavailable WarningCode = "procurement_unavailable"

	// WarnDonationInboundUnmodeled: donation pledges that are not strictly
	// confirmed were excluded from the gap math, yet the donation horizon is
	// still recommended as a fallback. The true gap may be smaller.
	WarnDonationInboundUnmodeled WarningCode = "donation_inbound_unmodeled"

	// WarnTransferScopeUnavailable: transfer scope metadata is missing for
	// an item with a recommended transfer quantity.
	WarnTransferScopeUnavailable WarningCode = "transfer_scope_unavailable"

	// WarnTransferScopeUnrecognized: the transfer scope code is not in the
	// recognized set; escalation is forced.
	WarnTransferScopeUnrecognized WarningCode = "transfer_scope_unrecognized"

	// WarnTransferCrossParishOverLimit: a cross-parish transfer exceeds the
	// configured unit limit and forces escalation eligibility regardless of
	// cost.
	WarnTransferCrossParishOverLimit WarningCode = "transfer_cross_parish_over_500"

	// WarnDonationRestrictionUnrecognized: the donation restriction code is
	// missing or not in the recognized set; escalation is forced.
	WarnDonationRestrictionUnrecognized WarningCode = "donation_restriction_unrecognized"

	// WarnDonationRestrictionEscalation: a recognized restriction requires
	// sign-off one tier up.
	WarnDonationRestrictionEscalation WarningCode = "donation_restriction_escalation_required"

	// WarnCostMissingForApproval: aggregate cost was unavailable when
	// resolving the approval tier.
	WarnCostMissingForApproval WarningCode = "cost_missing_for_approval"

	// WarnApprovalTierConservative: the most conservative cost band was
	// applied because of missing cost data.
	WarnApprovalTierConservative WarningCode = "approval_tier_conservative"

	// WarnInventoryStale: the observation backing a line is past the stale
	// threshold.
	WarnInventoryStale WarningCode = "inventory_stale"

	// WarnInventoryUnobserved: the observation carries no timestamp at all.
	WarnInventoryUnobserved WarningCode = "inventory_unobserved"

	// WarnEscalationRecommended: a pending list exceeded the reminder
	// window; returned by the remind operation without changing state.
	WarnEscalationRecommended WarningCode = "escalation_recommended"
)

// KnownWarningCodes lists every code this engine version can emit.
func KnownWarningCodes() []WarningCode {
	return []WarningCode{
		WarnProcurementUnavailable,
		WarnDonationInboundUnmodeled,
		WarnTransferScopeUnavailable,
		WarnTransferScopeUnrecognized,
		WarnTransferCrossParishOverLimit,
		WarnDonationRestrictionUnrecognized,
		WarnDonationRestrictionEscalation,
		WarnCostMissingForApproval,
		WarnApprovalTierConservative,
		WarnInventoryStale,
		WarnInventoryUnobserved,
		WarnEscalationRecommended,
	}
}

// Warning attaches a code to the line that produced it. Item and warehouse
// are empty for list-level warnings.
type Warning struct {
	Code        WarningCode `json:"code"`
	ItemID      ItemID      `json:"item_id,omitempty"`
	WarehouseID WarehouseID `json:"warehouse_id,omitempty"`
	Detail      string      `json:"detail,omitempty"`
}

// HasWarning reports whether any warning in the set carries the given code.
// Order-independent by construction.
func HasWarning(warns []Warning, code WarningCode) bool {
	for _, w := range warns {
		if w.Code == code {
			return true
		}
	}
	return false
}
