package engine_test

import (
	"testing"
	"time"

	"github.com/reliefops/replenish-engine/engine"
)

// =============================================================================
// FRESHNESS CLASSIFICATION TESTS
// =============================================================================

func TestClassifySignals_Buckets(t *testing.T) {
	// GIVEN: Thresholds of fresh<=1h, stale>6h
	// WHEN: Classifying observations of varying age
	// THEN: Age buckets into FRESH / WARN / STALE, boundaries inclusive

	now := time.Now()
	th := engine.FreshnessThresholds{
		FreshWithin: time.Hour,
		StaleAfter:  6 * time.Hour,
	}

	cases := []struct {
		name string
		age  time.Duration
		want engine.Freshness
	}{
		{"just observed", 0, engine.FreshnessFresh},
		{"at fresh boundary", time.Hour, engine.FreshnessFresh},
		{"past fresh boundary", time.Hour + time.Minute, engine.FreshnessWarn},
		{"at stale boundary", 6 * time.Hour, engine.FreshnessWarn},
		{"past stale boundary", 6*time.Hour + time.Minute, engine.FreshnessStale},
		{"days old", 72 * time.Hour, engine.FreshnessStale},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			observedAt := now.Add(-tc.age)
			obs := engine.InventoryObservation{ObservedAt: &observedAt}

			s := engine.ClassifySignals(obs, now, th)
			if s.Freshness != tc.want {
				t.Errorf("expected %s, got %s", tc.want, s.Freshness)
			}
		})
	}
}

func TestClassifySignals_MissingTimestampIsUnknown(t *testing.T) {
	// GIVEN: An observation with no timestamp at all
	// WHEN: Classifying
	// THEN: UNKNOWN, distinct from merely stale

	s := engine.ClassifySignals(engine.InventoryObservation{}, time.Now(), engine.FreshnessThresholds{
		FreshWithin: time.Hour,
		StaleAfter:  6 * time.Hour,
	})

	if s.Freshness != engine.FreshnessUnknown {
		t.Errorf("expected UNKNOWN, got %s", s.Freshness)
	}
}

func TestClassifySignals_EstimatedFlagPassesThrough(t *testing.T) {
	now := time.Now()
	obs := engine.InventoryObservation{
		ObservedAt:        &now,
		BurnRateEstimated: true,
	}

	s := engine.ClassifySignals(obs, now, engine.FreshnessThresholds{FreshWithin: time.Hour, StaleAfter: 6 * time.Hour})
	if !s.IsEstimated {
		t.Error("estimated flag should pass through to signals")
	}
}

// =============================================================================
// FRESHNESS WARNING TESTS
// =============================================================================

func TestFreshnessWarnings(t *testing.T) {
	cases := []struct {
		freshness engine.Freshness
		wantCode  engine.WarningCode
		wantNone  bool
	}{
		{engine.FreshnessFresh, "", true},
		{engine.FreshnessWarn, "", true},
		{engine.FreshnessStale, engine.WarnInventoryStale, false},
		{engine.FreshnessUnknown, engine.WarnInventoryUnobserved, false},
	}

	for _, tc := range cases {
		line := engine.GapLine{
			ItemID:      "tarpaulin",
			WarehouseID: "POR-01",
			Freshness:   tc.freshness,
		}

		warns := engine.FreshnessWarnings(line)
		if tc.wantNone {
			if len(warns) != 0 {
				t.Errorf("%s: expected no warnings, got %v", tc.freshness, warns)
			}
			continue
		}

		if len(warns) != 1 {
			t.Fatalf("%s: expected one warning, got %d", tc.freshness, len(warns))
		}
		if warns[0].Code != tc.wantCode {
			t.Errorf("%s: expected %s, got %s", tc.freshness, tc.wantCode, warns[0].Code)
		}
		if warns[0].ItemID != line.ItemID || warns[0].WarehouseID != line.WarehouseID {
			t.Errorf("%s: warning should carry the originating line's identity", tc.freshness)
		}
	}
}
