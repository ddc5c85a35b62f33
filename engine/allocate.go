/*
allocate.go - Horizon allocation

PURPOSE:
  Splits a gap across the three fulfillment horizons with a greedy,
  priority-ordered pass: Transfer first (fastest), then Donation, then
  Procurement. Each horizon absorbs up to its externally supplied ceiling;
  procurement absorbs the remainder only when cost context exists.

WARNINGS OVER FAILURES:
  A horizon that cannot be evaluated never fails the allocation. The
  procurement quantity goes null, the remainder surfaces as UncoveredQty,
  and a structured warning explains why. Same for missing scope metadata
  and unrecognized scope or restriction codes: allocate conservatively,
  warn loudly.

POLICY FLAGS:
  - Cross-parish transfers above the configured unit limit flag escalation
    eligibility regardless of cost.
  - Transfer scope codes outside the recognized set flag escalation AND
    the unrecognized warning, same as donation restrictions.
  - Donation restrictions: recognized sign-off codes flag escalation;
    unrecognized or missing codes flag escalation AND the unrecognized
    warning, so reviewers see exactly why the tier was raised.
*/
package engine

import "github.com/shopspring/decimal"

// AllocationPolicy carries the allocator's policy constants.
type AllocationPolicy struct {
	// CrossParishUnitLimit is the transfer size above which a cross-parish
	// transfer forces escalation eligibility.
	CrossParishUnitLimit decimal.Decimal
}

// ItemContext is the per-item metadata the allocator consumes, gathered from
// the external collaborators. Missing metadata is represented explicitly.
type ItemContext struct {
	TransferCeiling decimal.Decimal
	DonationCeiling decimal.Decimal

	TransferScope TransferScope
	ScopeKnown    bool

	RestrictionCode  string
	RestrictionKnown bool

	// Cost is nil when procurement cost context is unavailable.
	Cost *CostEstimate
}

// Allocate runs the greedy split for one gap line. Pure function: the
// returned warnings are the only channel for missing-data conditions.
func Allocate(line GapLine, itemCtx ItemContext, pol AllocationPolicy) (HorizonAllocation, []Warning) {
	var warns []Warning
	warn := func(code WarningCode, detail string) {
		warns = append(warns, Warning{
			Code:        code,
			ItemID:      line.ItemID,
			WarehouseID: line.WarehouseID,
			Detail:      detail,
		})
	}

	remaining := line.GapQty

	transferQty := clampCeiling(remaining, itemCtx.TransferCeiling)
	remaining = remaining.Sub(transferQty)

	donationQty := clampCeiling(remaining, itemCtx.DonationCeiling)
	remaining = remaining.Sub(donationQty)

	alloc := HorizonAllocation{
		Transfer: decimal.NewNullDecimal(transferQty),
		Donation: decimal.NewNullDecimal(donationQty),
	}

	if itemCtx.Cost != nil {
		alloc.Procurement = decimal.NewNullDecimal(remaining)
		alloc.UncoveredQty = decimal.Zero
	} else {
		// Null quantity and the warning always travel together.
		alloc.Procurement = decimal.NullDecimal{}
		alloc.UncoveredQty = remaining
		warn(WarnProcurementUnavailable, "no cost or supplier context for item")
	}

	if transferQty.IsPositive() {
		switch {
		case !itemCtx.ScopeKnown:
			warn(WarnTransferScopeUnavailable, "transfer scope metadata missing")
		case !RecognizedScope(itemCtx.TransferScope):
			warn(WarnTransferScopeUnrecognized, "scope code: "+string(itemCtx.TransferScope))
		case itemCtx.TransferScope == ScopeCrossParish && transferQty.GreaterThan(pol.CrossParishUnitLimit):
			warn(WarnTransferCrossParishOverLimit,
				"cross-parish transfer of "+transferQty.String()+" units exceeds limit "+pol.CrossParishUnitLimit.String())
		}
	}

	if donationQty.IsPositive() {
		// Unmodeled donation inbound never counts toward the gap math, but
		// recommending the donation horizon anyway has to be called out.
		warn(WarnDonationInboundUnmodeled, "unconfirmed donation inbound excluded from gap")

		switch {
		case !itemCtx.RestrictionKnown || !RecognizedRestriction(itemCtx.RestrictionCode):
			warn(WarnDonationRestrictionUnrecognized, "restriction code: "+itemCtx.RestrictionCode)
		case itemCtx.RestrictionCode == RestrictionSignoffRequired:
			warn(WarnDonationRestrictionEscalation, "restricted donation requires sign-off")
		}
	}

	alloc.Primary = primaryHorizon(alloc)
	return alloc, warns
}

// primaryHorizon picks the horizon that drives approval tiering:
// highest priority (A > B > C) among those with positive quantity,
// Transfer by default when nothing was allocated.
func primaryHorizon(a HorizonAllocation) Horizon {
	switch {
	case a.Transfer.Valid && a.Transfer.Decimal.IsPositive():
		return HorizonTransfer
	case a.Donation.Valid && a.Donation.Decimal.IsPositive():
		return HorizonDonation
	case a.Procurement.Valid && a.Procurement.Decimal.IsPositive():
		return HorizonProcurement
	default:
		return HorizonTransfer
	}
}

func clampCeiling(remaining, ceiling decimal.Decimal) decimal.Decimal {
	if ceiling.IsNegative() {
		return decimal.Zero
	}
	if remaining.LessThan(ceiling) {
		return remaining
	}
	return ceiling
}
