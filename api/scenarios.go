/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the database with self-contained disaster situations so the system
  can be explored locally without a live inventory feed. Each scenario
  resets reference data to a known state: events, warehouses, item
  catalogs, inventory observations, horizon availability, and actors.

SCENARIOS:
  hurricane-surge      First 72 hours after landfall. High burn rates,
                       fresh observations, critical water gaps, one item
                       with no cost quote to show the conservative
                       procurement fallback.
  stabilized-recovery  Week two. Lower burn, wider planning windows,
                       cross-parish transfers in play.
  data-gaps            Degraded reporting. Missing timestamps, estimated
                       burn rates, unrecognized restriction codes -
                       exercises every warning path.

ACTORS:
  Every scenario seeds the same four-actor chain so each approval tier has
  exactly one holder:
    marcia   warehouse_manager      submit, cancel
    devon    logistics_coordinator  review, approve, escalate
    althea   operations_director    review, approve, escalate
    winston  emergency_commander    review, approve, escalate, cancel

NOTE:
  Loading a scenario does NOT delete existing needs lists; it replaces the
  reference data underneath them. Use a fresh database file for a clean
  demo.

SEE ALSO:
  - handlers.go: LoadScenario endpoint
  - store/sqlite/reference.go: Seed helpers
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reliefops/replenish-engine/engine"
	"github.com/reliefops/replenish-engine/store/sqlite"
)

// scenarios is the registry of loadable demo situations.
var scenarios = []ScenarioDTO{
	{
		ID:          "hurricane-surge",
		Name:        "Hurricane surge (first 72h)",
		Description: "Post-landfall surge: high burn rates, critical water gaps, a no-quote item forcing conservative procurement tiering.",
	},
	{
		ID:          "stabilized-recovery",
		Name:        "Stabilized recovery (week two)",
		Description: "Stabilized phase with lower burn, cross-parish transfer pressure over the unit limit.",
	},
	{
		ID:          "data-gaps",
		Name:        "Degraded reporting",
		Description: "Missing timestamps, estimated burn rates, and unrecognized restriction codes across the board.",
	},
}

// ListScenarios returns the scenario registry.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario reports which scenario, if any, was last loaded.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario": h.currentScenario})
}

// LoadScenario seeds the database with the named scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scenario request", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.Scenario {
	case "hurricane-surge":
		err = loadHurricaneSurge(ctx, h.Store)
	case "stabilized-recovery":
		err = loadStabilizedRecovery(ctx, h.Store)
	case "data-gaps":
		err = loadDataGaps(ctx, h.Store)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.Scenario, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.Scenario
	h.previews.InvalidateAll()
	h.Log.WithField("scenario", req.Scenario).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"scenario": req.Scenario, "status": "loaded"})
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func decPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func scopePtr(s engine.TransferScope) *engine.TransferScope { return &s }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// seedActors creates the standard four-actor approval chain.
func seedActors(ctx context.Context, store *sqlite.Store) error {
	reviewPerms := []string{
		string(engine.PermReview), string(engine.PermApprove), string(engine.PermEscalate),
	}
	type actor struct {
		id    engine.ActorID
		name  string
		roles []engine.Role
		perms []string
	}
	chain := []actor{
		{"marcia", "Marcia Brown", []engine.Role{engine.RoleWarehouseManager},
			[]string{string(engine.PermSubmit), string(engine.PermCancel)}},
		{"devon", "Devon Clarke", []engine.Role{engine.RoleLogisticsCoordinator}, reviewPerms},
		{"althea", "Althea Gordon", []engine.Role{engine.RoleOperationsDirector}, reviewPerms},
		{"winston", "Winston Reid", []engine.Role{engine.RoleEmergencyCommander},
			append(append([]string{}, reviewPerms...), string(engine.PermCancel))},
	}
	for _, a := range chain {
		if err := store.SaveActor(ctx, a.id, a.name, a.roles, a.perms); err != nil {
			return err
		}
	}
	return nil
}

func seedWarehouses(ctx context.Context, store *sqlite.Store) error {
	warehouses := []sqlite.Warehouse{
		{ID: "KIN-01", Name: "Kingston Central Depot", Parish: "Kingston"},
		{ID: "STA-01", Name: "Ocho Rios Relief Hub", Parish: "St. Ann"},
		{ID: "POR-01", Name: "Port Antonio Forward Store", Parish: "Portland"},
	}
	for _, wh := range warehouses {
		if err := store.SaveWarehouse(ctx, wh); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO: HURRICANE SURGE
// =============================================================================

func loadHurricaneSurge(ctx context.Context, store *sqlite.Store) error {
	if err := seedActors(ctx, store); err != nil {
		return err
	}
	if err := seedWarehouses(ctx, store); err != nil {
		return err
	}
	if err := store.SaveEvent(ctx, sqlite.Event{
		ID: "EVT-MELISSA", Name: "Hurricane Melissa", Phase: engine.PhaseSurge,
	}); err != nil {
		return err
	}

	now := time.Now()

	catalog := []sqlite.CatalogSeed{
		{ItemID: "water-1l", Name: "Bottled water 1L", Unit: "bottle",
			TransferScope: scopePtr(engine.ScopeIntraParish),
			UnitCost:      decPtr(0.85)},
		{ItemID: "tarpaulin", Name: "Heavy-duty tarpaulin", Unit: "sheet",
			TransferScope:       scopePtr(engine.ScopeCrossParish),
			DonationRestriction: strPtr(engine.RestrictionNone),
			UnitCost:            decPtr(14.50)},
		{ItemID: "mre", Name: "Ready-to-eat meal", Unit: "pack",
			TransferScope:       scopePtr(engine.ScopeIntraParish),
			DonationRestriction: strPtr(engine.RestrictionSignoffRequired),
			UnitCost:            decPtr(6.20)},
		// No cost quote: forces the conservative procurement fallback.
		{ItemID: "hygiene-kit", Name: "Family hygiene kit", Unit: "kit",
			TransferScope:       scopePtr(engine.ScopeCrossParish),
			DonationRestriction: strPtr(engine.RestrictionNone)},
	}
	for _, c := range catalog {
		if err := store.SaveCatalogItem(ctx, c); err != nil {
			return err
		}
	}

	observations := []sqlite.ObservationSeed{
		// 2h to stockout at current burn: CRITICAL.
		{ItemID: "water-1l", WarehouseID: "KIN-01",
			AvailableQty: dec(2400), InboundConfirmedQty: dec(0),
			BurnRatePerHour: decPtr(1200), ObservedAt: timePtr(now.Add(-20 * time.Minute))},
		{ItemID: "water-1l", WarehouseID: "STA-01",
			AvailableQty: dec(9000), InboundConfirmedQty: dec(3000),
			BurnRatePerHour: decPtr(800), ObservedAt: timePtr(now.Add(-45 * time.Minute))},
		{ItemID: "tarpaulin", WarehouseID: "KIN-01",
			AvailableQty: dec(150), InboundConfirmedQty: dec(0),
			BurnRatePerHour: decPtr(40), ObservedAt: timePtr(now.Add(-2 * time.Hour))},
		{ItemID: "mre", WarehouseID: "KIN-01",
			AvailableQty: dec(5000), InboundConfirmedQty: dec(2000),
			BurnRatePerHour: decPtr(600), ObservedAt: timePtr(now.Add(-30 * time.Minute))},
		{ItemID: "hygiene-kit", WarehouseID: "STA-01",
			AvailableQty: dec(120), InboundConfirmedQty: dec(0),
			BurnRatePerHour: decPtr(35), ObservedAt: timePtr(now.Add(-90 * time.Minute))},
		// Held stock with no demand signal: the no-demand sentinel path.
		{ItemID: "tarpaulin", WarehouseID: "POR-01",
			AvailableQty: dec(600), InboundConfirmedQty: dec(0),
			ObservedAt: timePtr(now.Add(-time.Hour))},
	}
	for _, o := range observations {
		if err := store.SaveObservation(ctx, o); err != nil {
			return err
		}
	}

	availability := []struct {
		item               engine.ItemID
		warehouse          engine.WarehouseID
		transfer, donation float64
	}{
		{"water-1l", "KIN-01", 5000, 2000},
		{"water-1l", "STA-01", 2000, 4000},
		{"tarpaulin", "KIN-01", 100, 50},
		{"mre", "KIN-01", 1500, 3000},
		{"hygiene-kit", "STA-01", 80, 200},
	}
	for _, a := range availability {
		if err := store.SaveAvailability(ctx, a.item, a.warehouse, dec(a.transfer), dec(a.donation)); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO: STABILIZED RECOVERY
// =============================================================================

func loadStabilizedRecovery(ctx context.Context, store *sqlite.Store) error {
	if err := seedActors(ctx, store); err != nil {
		return err
	}
	if err := seedWarehouses(ctx, store); err != nil {
		return err
	}
	if err := store.SaveEvent(ctx, sqlite.Event{
		ID: "EVT-MELISSA", Name: "Hurricane Melissa", Phase: engine.PhaseStabilized,
	}); err != nil {
		return err
	}

	now := time.Now()

	catalog := []sqlite.CatalogSeed{
		{ItemID: "roof-sheet", Name: "Zinc roofing sheet", Unit: "sheet",
			TransferScope:       scopePtr(engine.ScopeCrossParish),
			DonationRestriction: strPtr(engine.RestrictionNone),
			UnitCost:            decPtr(22.00)},
		{ItemID: "water-1l", Name: "Bottled water 1L", Unit: "bottle",
			TransferScope: scopePtr(engine.ScopeIntraParish),
			UnitCost:      decPtr(0.85)},
		{ItemID: "med-kit", Name: "First aid kit", Unit: "kit",
			TransferScope:       scopePtr(engine.ScopeCrossParish),
			DonationRestriction: strPtr(engine.RestrictionUsageLimited),
			UnitCost:            decPtr(31.75)},
	}
	for _, c := range catalog {
		if err := store.SaveCatalogItem(ctx, c); err != nil {
			return err
		}
	}

	observations := []sqlite.ObservationSeed{
		// Big rebuild demand: the transfer split exceeds the 500-unit
		// cross-parish limit and triggers escalation.
		{ItemID: "roof-sheet", WarehouseID: "POR-01",
			AvailableQty: dec(200), InboundConfirmedQty: dec(0),
			BurnRatePerHour: decPtr(60), ObservedAt: timePtr(now.Add(-3 * time.Hour))},
		{ItemID: "water-1l", WarehouseID: "KIN-01",
			AvailableQty: dec(30000), InboundConfirmedQty: dec(10000),
			BurnRatePerHour: decPtr(400), ObservedAt: timePtr(now.Add(-time.Hour))},
		{ItemID: "med-kit", WarehouseID: "STA-01",
			AvailableQty: dec(45), InboundConfirmedQty: dec(20),
			BurnRatePerHour: decPtr(4), ObservedAt: timePtr(now.Add(-4 * time.Hour))},
	}
	for _, o := range observations {
		if err := store.SaveObservation(ctx, o); err != nil {
			return err
		}
	}

	if err := store.SaveAvailability(ctx, "roof-sheet", "POR-01", dec(900), dec(200)); err != nil {
		return err
	}
	if err := store.SaveAvailability(ctx, "med-kit", "STA-01", dec(10), dec(60)); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// SCENARIO: DATA GAPS
// =============================================================================

func loadDataGaps(ctx context.Context, store *sqlite.Store) error {
	if err := seedActors(ctx, store); err != nil {
		return err
	}
	if err := seedWarehouses(ctx, store); err != nil {
		return err
	}
	if err := store.SaveEvent(ctx, sqlite.Event{
		ID: "EVT-FIELDANE", Name: "Tropical Storm Fieldane", Phase: engine.PhaseSurge,
	}); err != nil {
		return err
	}

	now := time.Now()

	catalog := []sqlite.CatalogSeed{
		// No scope, no restriction, no cost: every "unavailable" warning.
		{ItemID: "blanket", Name: "Thermal blanket", Unit: "piece"},
		// Unrecognized restriction code from a legacy feed.
		{ItemID: "gen-fuel", Name: "Generator fuel", Unit: "litre",
			TransferScope:       scopePtr(engine.ScopeIntraParish),
			DonationRestriction: strPtr("hazmat_tier_2"),
			UnitCost:            decPtr(1.95)},
		{ItemID: "water-1l", Name: "Bottled water 1L", Unit: "bottle",
			TransferScope: scopePtr(engine.ScopeIntraParish),
			UnitCost:      decPtr(0.85)},
	}
	for _, c := range catalog {
		if err := store.SaveCatalogItem(ctx, c); err != nil {
			return err
		}
	}

	observations := []sqlite.ObservationSeed{
		// No timestamp at all: UNKNOWN freshness.
		{ItemID: "blanket", WarehouseID: "KIN-01",
			AvailableQty: dec(300), InboundConfirmedQty: dec(0),
			BurnRatePerHour: decPtr(25), BurnRateEstimated: true},
		// Stale observation with an estimated burn baseline.
		{ItemID: "gen-fuel", WarehouseID: "POR-01",
			AvailableQty: dec(800), InboundConfirmedQty: dec(0),
			BurnRatePerHour: decPtr(90), BurnRateEstimated: true,
			ObservedAt: timePtr(now.Add(-9 * time.Hour))},
		{ItemID: "water-1l", WarehouseID: "STA-01",
			AvailableQty: dec(4000), InboundConfirmedQty: dec(0),
			BurnRatePerHour: decPtr(500), ObservedAt: timePtr(now.Add(-7 * time.Hour))},
	}
	for _, o := range observations {
		if err := store.SaveObservation(ctx, o); err != nil {
			return err
		}
	}

	if err := store.SaveAvailability(ctx, "gen-fuel", "POR-01", dec(200), dec(400)); err != nil {
		return err
	}
	if err := store.SaveAvailability(ctx, "water-1l", "STA-01", dec(1000), dec(1500)); err != nil {
		return err
	}
	return nil
}
