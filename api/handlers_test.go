package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefops/replenish-engine/api"
	"github.com/reliefops/replenish-engine/engine"
	"github.com/reliefops/replenish-engine/factory"
	"github.com/reliefops/replenish-engine/needslist"
	"github.com/reliefops/replenish-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// newTestRouter wires a handler against an in-memory store seeded with one
// event, one warehouse, one item, and the standard actor cast.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	seed := func(err error) {
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	seed(store.SaveEvent(ctx, sqlite.Event{ID: "EVT-MELISSA", Name: "Hurricane Melissa", Phase: engine.PhaseSurge}))
	seed(store.SaveWarehouse(ctx, sqlite.Warehouse{ID: "KIN-01", Name: "Kingston Central", Parish: "Kingston"}))

	burn := decimal.NewFromInt(10)
	observedAt := time.Now()
	seed(store.SaveObservation(ctx, sqlite.ObservationSeed{
		ItemID:          "water-1l",
		WarehouseID:     "KIN-01",
		AvailableQty:    decimal.NewFromInt(20),
		BurnRatePerHour: &burn,
		ObservedAt:      &observedAt,
	}))

	scope := engine.ScopeIntraParish
	restriction := engine.RestrictionNone
	cost := decimal.NewFromInt(2)
	seed(store.SaveCatalogItem(ctx, sqlite.CatalogSeed{
		ItemID:              "water-1l",
		Name:                "Drinking water 1L",
		Unit:                "bottle",
		TransferScope:       &scope,
		DonationRestriction: &restriction,
		UnitCost:            &cost,
	}))
	seed(store.SaveAvailability(ctx, "water-1l", "KIN-01", decimal.NewFromInt(100), decimal.NewFromInt(50)))

	seed(store.SaveActor(ctx, "marcia", "Marcia Brown",
		[]engine.Role{engine.RoleWarehouseManager},
		[]string{string(engine.PermSubmit), string(engine.PermCancel)}))
	seed(store.SaveActor(ctx, "althea", "Althea Grant",
		[]engine.Role{engine.RoleWarehouseManager},
		[]string{string(engine.PermReview), string(engine.PermApprove)}))
	seed(store.SaveActor(ctx, "devon", "Devon Campbell",
		[]engine.Role{engine.RoleLogisticsCoordinator},
		[]string{string(engine.PermReview), string(engine.PermEscalate)}))

	log := logrus.New()
	log.SetOutput(io.Discard)

	f := factory.NewPolicyFactory()
	service := needslist.NewService(store, needslist.Providers{
		Inventory:    store,
		Catalog:      store,
		Phases:       f.DefaultPhaseTable(),
		Costs:        store,
		Scopes:       store,
		Restrictions: store,
		Availability: store,
		Perms:        store,
	}, f.DefaultPolicy(), log)

	return api.NewRouter(api.NewHandler(service, store, log))
}

// do issues a JSON request as the given actor and returns the recorder.
func do(t *testing.T, router http.Handler, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func createDraft(t *testing.T, router http.Handler) api.NeedsListDTO {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/needs-lists", "marcia", map[string]any{
		"event_id":     "EVT-MELISSA",
		"warehouse_id": "KIN-01",
		"phase":        "SURGE",
		"method":       "A",
		"items":        []map[string]string{{"item_id": "water-1l", "warehouse_id": "KIN-01"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.NeedsListDTO](t, rec)
}

// =============================================================================
// PREVIEW ENDPOINT TESTS
// =============================================================================

func TestPreviewEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/events/EVT-MELISSA/preview", "marcia", map[string]any{
		"warehouse_ids": []string{"KIN-01"},
		"phase":         "SURGE",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[api.PreviewResponse](t, rec)
	require.Len(t, resp.Lines, 1)

	line := resp.Lines[0]
	assert.Equal(t, "water-1l", line.ItemID)
	assert.InDelta(t, 90, line.RequiredQty, 0.001)
	assert.InDelta(t, 70, line.GapQty, 0.001)
	assert.Equal(t, "CRITICAL", line.Severity)
	require.NotNil(t, line.TimeToStockoutHours)
	assert.InDelta(t, 2, *line.TimeToStockoutHours, 0.001)
	assert.Equal(t, "2.0h", line.TimeToStockoutDisplay)

	require.NotNil(t, line.Allocation.Transfer)
	assert.InDelta(t, 70, *line.Allocation.Transfer, 0.001)

	assert.Equal(t, 1, resp.ApprovalPreview.Tier)
	assert.Equal(t, "warehouse_manager", resp.ApprovalPreview.ApproverRole)
}

func TestPreviewEndpoint_BadRequests(t *testing.T) {
	router := newTestRouter(t)

	t.Run("unknown phase", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/events/EVT-MELISSA/preview", "marcia", map[string]any{
			"warehouse_ids": []string{"KIN-01"},
			"phase":         "AFTERMATH",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no warehouses", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/events/EVT-MELISSA/preview", "marcia", map[string]any{
			"warehouse_ids": []string{},
			"phase":         "SURGE",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// LIFECYCLE ENDPOINT TESTS
// =============================================================================

func TestNeedsListLifecycle(t *testing.T) {
	// GIVEN: A seeded store with a critical water gap
	// WHEN: Walking create -> submit -> approve -> execution over HTTP
	// THEN: Each response reflects the next state and version

	router := newTestRouter(t)

	draft := createDraft(t, router)
	assert.Equal(t, "DRAFT", draft.Status)
	assert.EqualValues(t, 1, draft.Version)
	require.Len(t, draft.Items, 1)
	assert.InDelta(t, 70, draft.Items[0].GapQty, 0.001)
	require.NotNil(t, draft.Approval)
	assert.Equal(t, 1, draft.Approval.Tier)

	rec := do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/submit", "marcia",
		map[string]any{"version": draft.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	submitted := decode[api.NeedsListDTO](t, rec)
	assert.Equal(t, "SUBMITTED", submitted.Status)
	assert.EqualValues(t, 2, submitted.Version)
	require.NotNil(t, submitted.Submitted)
	assert.Equal(t, "marcia", submitted.Submitted.By)

	rec = do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/approve", "althea",
		map[string]any{"version": submitted.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[api.NeedsListDTO](t, rec)
	assert.Equal(t, "APPROVED", approved.Status)

	rec = do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/execution", "devon",
		map[string]any{
			"version": approved.Version,
			"signals": []map[string]any{
				{"item_id": "water-1l", "warehouse_id": "KIN-01", "covered_qty": 70},
			},
		})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fulfilled := decode[api.NeedsListDTO](t, rec)
	assert.Equal(t, "FULFILLED", fulfilled.Status)
	assert.InDelta(t, 70, fulfilled.Items[0].CoveredQty, 0.001)

	rec = do(t, router, http.MethodGet, "/api/needs-lists/"+draft.ID+"/fulfillment-sources", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sources := decode[[]api.SourceLineDTO](t, rec)
	require.Len(t, sources, 1)
	assert.True(t, sources[0].Covered)
	assert.InDelta(t, 0, sources[0].OutstandingQty, 0.001)
}

func TestTransitionConflicts(t *testing.T) {
	router := newTestRouter(t)

	draft := createDraft(t, router)

	rec := do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/submit", "marcia",
		map[string]any{"version": draft.Version})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("stale version carries actual", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/approve", "althea",
			map[string]any{"version": 1})
		require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

		errResp := decode[api.ErrorResponse](t, rec)
		require.NotNil(t, errResp.ActualVersion)
		assert.EqualValues(t, 2, *errResp.ActualVersion)
	})

	t.Run("illegal transition", func(t *testing.T) {
		// Submitting an already submitted list.
		rec := do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/submit", "marcia",
			map[string]any{"version": 2})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("submitter cannot approve", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/approve", "marcia",
			map[string]any{"version": 2})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestDuplicateScopeConflictResponse(t *testing.T) {
	router := newTestRouter(t)

	first := createDraft(t, router)

	// Same scope and item, different method: blocked with the conflicting ID.
	rec := do(t, router, http.MethodPost, "/api/needs-lists", "marcia", map[string]any{
		"event_id":     "EVT-MELISSA",
		"warehouse_id": "KIN-01",
		"phase":        "SURGE",
		"method":       "B",
		"items":        []map[string]string{{"item_id": "water-1l", "warehouse_id": "KIN-01"}},
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	errResp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, []string{first.ID}, errResp.ConflictingIDs)
}

func TestVersionValidation(t *testing.T) {
	router := newTestRouter(t)

	draft := createDraft(t, router)

	// version 0 fails struct validation before any domain call
	rec := do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/submit", "marcia",
		map[string]any{"version": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMissingNeedsList(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/needs-lists/no-such-id", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListNeedsListsFilters(t *testing.T) {
	router := newTestRouter(t)

	draft := createDraft(t, router)
	rec := do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/submit", "marcia",
		map[string]any{"version": draft.Version})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/needs-lists/"+draft.ID+"/reject", "devon",
		map[string]any{"version": 2, "reason": "covered by the regional convoy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/needs-lists?event=EVT-MELISSA", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.NeedsListDTO](t, rec), 1)

	rec = do(t, router, http.MethodGet, "/api/needs-lists?active=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.NeedsListDTO](t, rec), 0, "rejected list is terminal")
}

// =============================================================================
// REFERENCE / SCENARIO ENDPOINT TESTS
// =============================================================================

func TestReferenceEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]api.EventDTO](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, "SURGE", events[0].Phase)

	rec = do(t, router, http.MethodGet, "/api/warehouses", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	warehouses := decode[[]api.WarehouseDTO](t, rec)
	require.Len(t, warehouses, 1)
	assert.Equal(t, "Kingston", warehouses[0].Parish)
}

func TestScenarioEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	scenarios := decode[[]api.ScenarioDTO](t, rec)
	assert.NotEmpty(t, scenarios)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", "marcia",
		map[string]any{"scenario": "hurricane-surge"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]api.EventDTO](t, rec)
	assert.NotEmpty(t, events)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", "marcia",
		map[string]any{"scenario": "no-such-scenario"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
