/*
freshness.go - Freshness & burn-rate signal classification

PURPOSE:
  Pure derivation of per-item data-quality signals from a raw inventory
  observation: how stale the snapshot is, and whether the burn rate is a
  real consumption sample or a fallback estimate.

RULES:
  - No timestamp            -> FreshnessUnknown
  - Age <= fresh threshold  -> FreshnessFresh
  - Age <= stale threshold  -> FreshnessWarn
  - Older                   -> FreshnessStale

  The estimated flag passes through from the observation; it is a UI hint
  and never feeds numeric derivation.

TOTALITY:
  Must not fail for any well-typed input, including all-nil fields.
*/
package engine

import "time"

// FreshnessThresholds buckets observation age. FreshWithin < StaleAfter.
type FreshnessThresholds struct {
	FreshWithin time.Duration
	StaleAfter  time.Duration
}

// Signals is the classifier output for one observation.
type Signals struct {
	Freshness   Freshness
	IsEstimated bool
}

// ClassifySignals derives freshness and the estimated-burn hint.
// Total function; no side effects.
func ClassifySignals(obs InventoryObservation, now time.Time, th FreshnessThresholds) Signals {
	s := Signals{IsEstimated: obs.BurnRateEstimated}

	if obs.ObservedAt == nil {
		s.Freshness = FreshnessUnknown
		return s
	}

	age := now.Sub(*obs.ObservedAt)
	switch {
	case age <= th.FreshWithin:
		s.Freshness = FreshnessFresh
	case age <= th.StaleAfter:
		s.Freshness = FreshnessWarn
	default:
		s.Freshness = FreshnessStale
	}
	return s
}

// FreshnessWarnings translates degraded freshness into line warnings so the
// caller can surface them without re-deriving the classification.
func FreshnessWarnings(line GapLine) []Warning {
	switch line.Freshness {
	case FreshnessUnknown:
		return []Warning{{
			Code:        WarnInventoryUnobserved,
			ItemID:      line.ItemID,
			WarehouseID: line.WarehouseID,
		}}
	case FreshnessStale:
		return []Warning{{
			Code:        WarnInventoryStale,
			ItemID:      line.ItemID,
			WarehouseID: line.WarehouseID,
		}}
	}
	return nil
}
