/*
gap.go - Gap calculation and severity derivation

PURPOSE:
  Computes the per-(item, warehouse) shortfall from an inventory observation
  and the phase-dependent planning windows:

    required = burn_rate * demand_window * safety_factor   (0 without demand)
    gap      = max(required - available - inbound_confirmed, 0)
    stockout = (available + inbound_confirmed) / burn_rate (sentinel if none)

SEVERITY:
  Bucketed from time-to-stockout (critical/warning/watch thresholds).
  A zero gap is always OK, regardless of stockout time: nothing needs to be
  replenished, however fast the remaining stock is moving.

EDGE CASES:
  - Negative available/inbound quantities are a precondition violation,
    rejected with ValidationError, never silently clamped.
  - A burn rate of exactly zero (or negative, or absent) yields the
    no-demand sentinel; the division is never attempted.
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeverityThresholds bucket time-to-stockout into urgency classes.
// Expressed in hours; CriticalUnder < WarningUnder < WatchUnder.
type SeverityThresholds struct {
	CriticalUnderHours decimal.Decimal
	WarningUnderHours  decimal.Decimal
	WatchUnderHours    decimal.Decimal
}

// ComputeGap derives the GapLine for one observation.
func ComputeGap(obs InventoryObservation, windows PhaseWindows, pol Policy, now time.Time) (GapLine, error) {
	if obs.AvailableQty.IsNegative() {
		return GapLine{}, &ValidationError{Field: "available_qty", Message: "must not be negative"}
	}
	if obs.InboundConfirmedQty.IsNegative() {
		return GapLine{}, &ValidationError{Field: "inbound_confirmed_qty", Message: "must not be negative"}
	}

	signals := ClassifySignals(obs, now, pol.Freshness)

	line := GapLine{
		ItemID:      obs.ItemID,
		WarehouseID: obs.WarehouseID,
		Freshness:   signals.Freshness,
		IsEstimated: signals.IsEstimated,
	}

	onHand := obs.AvailableQty.Add(obs.InboundConfirmedQty)

	if obs.BurnRatePerHour == nil || !obs.BurnRatePerHour.IsPositive() {
		// No current demand: nothing required, no stockout projection.
		line.RequiredQty = decimal.Zero
		line.GapQty = decimal.Zero
		line.TimeToStockout = StockoutNoDemand()
		line.Severity = SeverityOK
		return line, nil
	}

	burn := *obs.BurnRatePerHour
	line.RequiredQty = burn.Mul(windows.DemandWindowHours).Mul(windows.SafetyFactor)
	line.TimeToStockout = StockoutIn(onHand.Div(burn))

	gap := line.RequiredQty.Sub(onHand)
	if gap.IsNegative() {
		gap = decimal.Zero
	}
	line.GapQty = gap
	line.Severity = classifySeverity(line, pol.Severity)

	return line, nil
}

func classifySeverity(line GapLine, th SeverityThresholds) Severity {
	// Zero gap is OK no matter how close the stockout is.
	if line.GapQty.IsZero() {
		return SeverityOK
	}
	if line.TimeToStockout.NoDemand {
		return SeverityOK
	}

	hours := line.TimeToStockout.Hours
	switch {
	case hours.LessThan(th.CriticalUnderHours):
		return SeverityCritical
	case hours.LessThan(th.WarningUnderHours):
		return SeverityWarning
	case hours.LessThan(th.WatchUnderHours):
		return SeverityWatch
	default:
		return SeverityOK
	}
}
