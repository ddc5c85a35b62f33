package needslist_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefops/replenish-engine/engine"
	"github.com/reliefops/replenish-engine/factory"
	"github.com/reliefops/replenish-engine/needslist"
	"github.com/reliefops/replenish-engine/store/memory"
)

// =============================================================================
// STUB PROVIDERS
// =============================================================================

// stubProviders answers every collaborator interface from in-memory maps.
// Missing keys model "unavailable", mirroring the production providers.
type stubProviders struct {
	observations map[engine.ItemKey]engine.InventoryObservation
	stocked      map[engine.WarehouseID][]engine.ItemID
	costs        map[engine.ItemID]*engine.CostEstimate
	scopes       map[engine.ItemID]engine.TransferScope
	restrictions map[engine.ItemID]string
	transferCeil map[engine.ItemKey]decimal.Decimal
	donationCeil map[engine.ItemKey]decimal.Decimal
}

func (s *stubProviders) Observation(_ context.Context, item engine.ItemID, warehouse engine.WarehouseID) (engine.InventoryObservation, error) {
	obs, ok := s.observations[engine.ItemKey{ItemID: item, WarehouseID: warehouse}]
	if !ok {
		return engine.InventoryObservation{ItemID: item, WarehouseID: warehouse}, nil
	}
	return obs, nil
}

func (s *stubProviders) StockedItems(_ context.Context, warehouse engine.WarehouseID) ([]engine.ItemID, error) {
	return s.stocked[warehouse], nil
}

func (s *stubProviders) EstimatedCost(_ context.Context, item engine.ItemID) (*engine.CostEstimate, error) {
	return s.costs[item], nil
}

func (s *stubProviders) TransferScope(_ context.Context, item engine.ItemID, _ engine.WarehouseID) (engine.TransferScope, bool, error) {
	scope, ok := s.scopes[item]
	return scope, ok, nil
}

func (s *stubProviders) DonationRestriction(_ context.Context, item engine.ItemID) (string, bool, error) {
	code, ok := s.restrictions[item]
	return code, ok, nil
}

func (s *stubProviders) TransferCeiling(_ context.Context, item engine.ItemID, warehouse engine.WarehouseID) (decimal.Decimal, error) {
	return s.transferCeil[engine.ItemKey{ItemID: item, WarehouseID: warehouse}], nil
}

func (s *stubProviders) DonationCeiling(_ context.Context, item engine.ItemID, warehouse engine.WarehouseID) (decimal.Decimal, error) {
	return s.donationCeil[engine.ItemKey{ItemID: item, WarehouseID: warehouse}], nil
}

// waterAtKingston seeds one clean line: fresh observation, 20 on hand,
// burning 10/hour, generous transfer availability, cost known.
func waterAtKingston() *stubProviders {
	burn := decimal.NewFromInt(10)
	observedAt := time.Now()
	key := engine.ItemKey{ItemID: "water-1l", WarehouseID: "KIN-01"}

	return &stubProviders{
		observations: map[engine.ItemKey]engine.InventoryObservation{
			key: {
				ItemID:          "water-1l",
				WarehouseID:     "KIN-01",
				AvailableQty:    decimal.NewFromInt(20),
				BurnRatePerHour: &burn,
				ObservedAt:      &observedAt,
			},
		},
		stocked:      map[engine.WarehouseID][]engine.ItemID{"KIN-01": {"water-1l"}},
		costs:        map[engine.ItemID]*engine.CostEstimate{"water-1l": {UnitCost: decimal.NewFromInt(2), TotalCost: decimal.NewFromInt(2)}},
		scopes:       map[engine.ItemID]engine.TransferScope{"water-1l": engine.ScopeIntraParish},
		restrictions: map[engine.ItemID]string{"water-1l": engine.RestrictionNone},
		transferCeil: map[engine.ItemKey]decimal.Decimal{key: decimal.NewFromInt(100)},
		donationCeil: map[engine.ItemKey]decimal.Decimal{key: decimal.NewFromInt(50)},
	}
}

func newTestService(t *testing.T) (*needslist.Service, *stubProviders) {
	t.Helper()
	return newTestServiceWithStore(t, memory.New())
}

func newTestServiceWithStore(t *testing.T, store needslist.Store) (*needslist.Service, *stubProviders) {
	t.Helper()

	stub := waterAtKingston()
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := factory.NewPolicyFactory()
	svc := needslist.NewService(store, needslist.Providers{
		Inventory:    stub,
		Catalog:      stub,
		Phases:       f.DefaultPhaseTable(),
		Costs:        stub,
		Scopes:       stub,
		Restrictions: stub,
		Availability: stub,
		Perms:        testPerms(),
	}, f.DefaultPolicy(), log)
	return svc, stub
}

func waterDraft() needslist.DraftRequest {
	return needslist.DraftRequest{
		EventID:     "EVT-MELISSA",
		WarehouseID: "KIN-01",
		Phase:       engine.PhaseSurge,
		Keys:        []engine.ItemKey{{ItemID: "water-1l", WarehouseID: "KIN-01"}},
		Method:      engine.HorizonTransfer,
	}
}

// submittedDraft walks a fresh draft through submission and returns it.
func submittedDraft(t *testing.T, svc *needslist.Service) *needslist.NeedsList {
	t.Helper()
	ctx := context.Background()

	l, err := svc.CreateDraft(ctx, "marcia", waterDraft())
	require.NoError(t, err)

	l, err = svc.Submit(ctx, "marcia", l.ID, l.Version)
	require.NoError(t, err)
	return l
}

// =============================================================================
// PREVIEW TESTS
// =============================================================================

func TestPreviewGaps_Pipeline(t *testing.T) {
	// GIVEN: 20 on hand burning 10/hour in SURGE (6h window, 1.5 safety)
	// WHEN: Previewing the warehouse
	// THEN: required 90, gap 70, stockout 2h CRITICAL, transfer covers it

	svc, _ := newTestService(t)

	preview, err := svc.PreviewGaps(context.Background(), "EVT-MELISSA",
		[]engine.WarehouseID{"KIN-01"}, engine.PhaseSurge, nil)
	require.NoError(t, err)
	require.Len(t, preview.Lines, 1)

	line := preview.Lines[0]
	assert.True(t, line.Line.RequiredQty.Equal(decimal.NewFromInt(90)), "required %s", line.Line.RequiredQty)
	assert.True(t, line.Line.GapQty.Equal(decimal.NewFromInt(70)), "gap %s", line.Line.GapQty)
	assert.Equal(t, engine.SeverityCritical, line.Line.Severity)
	assert.Equal(t, engine.FreshnessFresh, line.Line.Freshness)

	require.True(t, line.Allocation.Transfer.Valid)
	assert.True(t, line.Allocation.Transfer.Decimal.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, engine.HorizonTransfer, line.Allocation.Primary)

	// Per-line estimated cost scales by the gap: 70 units at 2.
	require.NotNil(t, line.EstimatedCost)
	assert.True(t, line.EstimatedCost.TotalCost.Equal(decimal.NewFromInt(140)))

	assert.Equal(t, engine.TierWarehouse, preview.ApprovalPreview.Tier)
	assert.Equal(t, engine.RoleWarehouseManager, preview.ApprovalPreview.ApproverRole)
}

func TestPreviewGaps_RequiresWarehouses(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.PreviewGaps(context.Background(), "EVT-MELISSA", nil, engine.PhaseSurge, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrValidation))
}

func TestPreviewGaps_UnobservedItemStillPreviewed(t *testing.T) {
	// GIVEN: An explicitly named item with no observation at all
	// WHEN: Previewing
	// THEN: The line appears as UNKNOWN/no-demand with the unobserved warning

	svc, _ := newTestService(t)

	preview, err := svc.PreviewGaps(context.Background(), "EVT-MELISSA",
		[]engine.WarehouseID{"KIN-01"}, engine.PhaseSurge, []engine.ItemID{"blanket"})
	require.NoError(t, err)
	require.Len(t, preview.Lines, 1)

	line := preview.Lines[0]
	assert.Equal(t, engine.FreshnessUnknown, line.Line.Freshness)
	assert.True(t, line.Line.TimeToStockout.NoDemand)
	assert.True(t, engine.HasWarning(line.Warnings, engine.WarnInventoryUnobserved))
}

func TestPreviewGaps_UnrecognizedScopeCodeEscalates(t *testing.T) {
	// GIVEN: The catalog carries a scope code outside the recognized set
	// WHEN: Previewing a transfer-covered gap
	// THEN: The unrecognized warning surfaces and the approval preview is
	//       escalated one tier above the transfer base

	svc, stub := newTestService(t)
	stub.scopes["water-1l"] = engine.TransferScope("regional_compact")

	preview, err := svc.PreviewGaps(context.Background(), "EVT-MELISSA",
		[]engine.WarehouseID{"KIN-01"}, engine.PhaseSurge, nil)
	require.NoError(t, err)
	require.Len(t, preview.Lines, 1)

	assert.True(t, engine.HasWarning(preview.Lines[0].Warnings, engine.WarnTransferScopeUnrecognized))
	assert.Equal(t, engine.TierLogistics, preview.ApprovalPreview.Tier)
	assert.True(t, preview.ApprovalPreview.EscalationRequired)
	assert.True(t, engine.HasWarning(preview.ApprovalPreview.Warnings, engine.WarnTransferScopeUnrecognized))
}

// =============================================================================
// DRAFT CREATION TESTS
// =============================================================================

func TestCreateDraft(t *testing.T) {
	svc, _ := newTestService(t)

	l, err := svc.CreateDraft(context.Background(), "marcia", waterDraft())
	require.NoError(t, err)

	assert.Equal(t, needslist.StatusDraft, l.Status)
	assert.EqualValues(t, 1, l.Version)
	assert.Equal(t, engine.ActorID("marcia"), l.CreatedBy)
	require.Len(t, l.Items, 1)
	assert.True(t, l.Items[0].GapQty.Equal(decimal.NewFromInt(70)))
	require.NotNil(t, l.Approval)
	assert.Equal(t, engine.TierWarehouse, l.Approval.Tier)
}

func TestCreateDraft_IdenticalPreviewReusesDraft(t *testing.T) {
	// GIVEN: A draft created from a preview
	// WHEN: The same actor re-creates from an identical preview
	// THEN: The existing draft's identity is returned, no duplicate

	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateDraft(ctx, "marcia", waterDraft())
	require.NoError(t, err)

	second, err := svc.CreateDraft(ctx, "marcia", waterDraft())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	lists, err := svc.List(ctx, needslist.Filter{EventID: "EVT-MELISSA"})
	require.NoError(t, err)
	assert.Len(t, lists, 1)
}

func TestCreateDraft_InventoryDriftDefeatsReuse(t *testing.T) {
	// GIVEN: An existing draft
	// WHEN: Inventory moves enough to change the required quantity
	// THEN: Reuse does not apply; the overlap surfaces as a scope conflict

	svc, stub := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateDraft(ctx, "marcia", waterDraft())
	require.NoError(t, err)

	key := engine.ItemKey{ItemID: "water-1l", WarehouseID: "KIN-01"}
	obs := stub.observations[key]
	burn := decimal.NewFromInt(20) // required doubles
	obs.BurnRatePerHour = &burn
	stub.observations[key] = obs

	_, err = svc.CreateDraft(ctx, "marcia", waterDraft())
	require.Error(t, err)
	assert.True(t, needslist.IsConflict(err))
}

func TestCreateDraft_ScopeConflict(t *testing.T) {
	// GIVEN: An active list covering (event, warehouse, phase) for an item
	// WHEN: Another draft names the same item with a different method
	// THEN: DuplicateScopeConflict lists the blocking identifiers

	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateDraft(ctx, "marcia", waterDraft())
	require.NoError(t, err)

	req := waterDraft()
	req.Method = engine.HorizonDonation
	_, err = svc.CreateDraft(ctx, "marcia", req)
	require.Error(t, err)

	var conflict *needslist.DuplicateScopeConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []needslist.ID{first.ID}, conflict.ConflictingIDs)
}

func TestCreateDraft_SupersedeReplacesConflicting(t *testing.T) {
	// GIVEN: A conflicting active list
	// WHEN: The caller opts into supersession
	// THEN: The old list goes SUPERSEDED and both sides are linked

	svc, _ := newTestService(t)
	ctx := context.Background()

	old, err := svc.CreateDraft(ctx, "marcia", waterDraft())
	require.NoError(t, err)

	req := waterDraft()
	req.Method = engine.HorizonDonation
	req.Supersede = true
	replacement, err := svc.CreateDraft(ctx, "marcia", req)
	require.NoError(t, err)

	require.NotNil(t, replacement.Supersedes)
	assert.Equal(t, old.ID, *replacement.Supersedes)

	old, err = svc.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, needslist.StatusSuperseded, old.Status)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, replacement.ID, *old.SupersededBy)

	// The superseded list no longer blocks the scope.
	third, err := svc.CreateDraft(ctx, "marcia", req)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, third.ID, "identical preview reuses the replacement")
}

// failNextCreateStore wraps a Store to fail Create on demand.
type failNextCreateStore struct {
	needslist.Store
	fail bool
}

func (s *failNextCreateStore) Create(ctx context.Context, l *needslist.NeedsList) error {
	if s.fail {
		return errors.New("simulated storage failure")
	}
	return s.Store.Create(ctx, l)
}

func TestCreateDraft_FailedCreateNeverSupersedes(t *testing.T) {
	// GIVEN: A conflicting active list and a store whose insert fails
	// WHEN: The caller opts into supersession
	// THEN: The error surfaces and the conflicting list stays active; it
	//       must never point at a replacement that was not persisted

	store := &failNextCreateStore{Store: memory.New()}
	svc, _ := newTestServiceWithStore(t, store)
	ctx := context.Background()

	old, err := svc.CreateDraft(ctx, "marcia", waterDraft())
	require.NoError(t, err)

	store.fail = true
	req := waterDraft()
	req.Method = engine.HorizonDonation
	req.Supersede = true
	_, err = svc.CreateDraft(ctx, "marcia", req)
	require.Error(t, err)

	old, err = svc.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, needslist.StatusDraft, old.Status)
	assert.Nil(t, old.SupersededBy)

	// The scope is still held by the surviving list.
	store.fail = false
	req.Supersede = false
	_, err = svc.CreateDraft(ctx, "marcia", req)
	var conflict *needslist.DuplicateScopeConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []needslist.ID{old.ID}, conflict.ConflictingIDs)
}

func TestConcurrentDrafts_ExactlyOneHoldsScope(t *testing.T) {
	// GIVEN: Two drafts racing over the same (event, warehouse, item) scope
	// WHEN: Both create concurrently with different methods
	// THEN: Exactly one lands; the other sees the scope conflict

	svc, _ := newTestService(t)
	ctx := context.Background()

	reqA := waterDraft()
	reqB := waterDraft()
	reqB.Method = engine.HorizonDonation

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, req := range []needslist.DraftRequest{reqA, reqB} {
		wg.Add(1)
		go func(i int, req needslist.DraftRequest) {
			defer wg.Done()
			_, errs[i] = svc.CreateDraft(ctx, "marcia", req)
		}(i, req)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		var conflict *needslist.DuplicateScopeConflict
		switch {
		case err == nil:
			successes++
		case errors.As(err, &conflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	lists, err := svc.Store.List(ctx, needslist.Filter{})
	require.NoError(t, err)
	assert.Len(t, lists, 1)
}

// =============================================================================
// TRANSITION / CONCURRENCY TESTS
// =============================================================================

func TestSubmitApproveFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	l := submittedDraft(t, svc)
	assert.Equal(t, needslist.StatusSubmitted, l.Status)
	assert.EqualValues(t, 2, l.Version)

	l, err := svc.Approve(ctx, "althea", l.ID, l.Version)
	require.NoError(t, err)
	assert.Equal(t, needslist.StatusApproved, l.Status)
	assert.EqualValues(t, 3, l.Version)
	require.NotNil(t, l.Approved)
	assert.Equal(t, engine.ActorID("althea"), l.Approved.By)
}

func TestStaleVersionDetectedEagerly(t *testing.T) {
	svc, _ := newTestService(t)

	l := submittedDraft(t, svc)

	_, err := svc.Approve(context.Background(), "althea", l.ID, l.Version-1)
	require.Error(t, err)

	var stale *needslist.StaleVersionError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, l.Version-1, stale.Expected)
	assert.Equal(t, l.Version, stale.Actual)
	assert.True(t, needslist.IsRetryable(err))
}

func TestConcurrentDecisions_ExactlyOneWins(t *testing.T) {
	// GIVEN: Two reviewers racing on the same version of a pending list
	// WHEN: One approves and one rejects concurrently
	// THEN: Exactly one transition lands; the other gets a stale version

	svc, _ := newTestService(t)
	ctx := context.Background()

	l := submittedDraft(t, svc)

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.Approve(ctx, "althea", l.ID, l.Version)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.Reject(ctx, "devon", l.ID, l.Version, "scope already covered")
	}()
	wg.Wait()

	var wins, stales int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, needslist.ErrStaleVersion):
			stales++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one decision lands")
	assert.Equal(t, 1, stales, "the loser sees a stale version")

	final, err := svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Contains(t, []needslist.Status{needslist.StatusApproved, needslist.StatusRejected}, final.Status)
}

func TestReturnThenResubmit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	l := submittedDraft(t, svc)

	l, err := svc.Return(ctx, "devon", l.ID, l.Version, needslist.ReturnDataStale, "re-count after the convoy arrives")
	require.NoError(t, err)
	assert.Equal(t, needslist.StatusReturned, l.Status)

	l, err = svc.Submit(ctx, "marcia", l.ID, l.Version)
	require.NoError(t, err)
	assert.Equal(t, needslist.StatusSubmitted, l.Status)
	assert.True(t, l.WasReturned, "returned provenance survives resubmission")
}

func TestRemindService(t *testing.T) {
	svc, _ := newTestService(t)

	l := submittedDraft(t, svc)

	l, recommended, err := svc.Remind(context.Background(), "marcia", l.ID, l.Version)
	require.NoError(t, err)
	assert.False(t, recommended, "freshly submitted list is within the window")
	assert.Equal(t, needslist.StatusUnderReview, l.Status)
}

// =============================================================================
// OVERRIDE TESTS
// =============================================================================

func TestApplyOverrides(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	l, err := svc.CreateDraft(ctx, "marcia", waterDraft())
	require.NoError(t, err)

	key := engine.ItemKey{ItemID: "water-1l", WarehouseID: "KIN-01"}
	l, err = svc.ApplyOverrides(ctx, "marcia", l.ID, l.Version, []needslist.ItemOverride{
		{Key: key, Qty: decimal.NewFromInt(50), Reason: "field count from the shelter walk-through"},
	})
	require.NoError(t, err)

	require.NotNil(t, l.Items[0].Override)
	assert.True(t, l.Items[0].Override.Qty.Equal(decimal.NewFromInt(50)))
	assert.True(t, l.Items[0].TargetQty(l.Method).Equal(decimal.NewFromInt(50)))
}

func TestApplyOverrides_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	l, err := svc.CreateDraft(ctx, "marcia", waterDraft())
	require.NoError(t, err)

	key := engine.ItemKey{ItemID: "water-1l", WarehouseID: "KIN-01"}

	_, err = svc.ApplyOverrides(ctx, "marcia", l.ID, l.Version, []needslist.ItemOverride{
		{Key: key, Qty: decimal.NewFromInt(-1), Reason: "nope"},
	})
	assert.True(t, errors.Is(err, engine.ErrValidation), "negative override: %v", err)

	_, err = svc.ApplyOverrides(ctx, "marcia", l.ID, l.Version, []needslist.ItemOverride{
		{Key: key, Qty: decimal.NewFromInt(10)},
	})
	assert.True(t, errors.Is(err, engine.ErrValidation), "missing reason: %v", err)

	_, err = svc.ApplyOverrides(ctx, "marcia", l.ID, l.Version, []needslist.ItemOverride{
		{Key: engine.ItemKey{ItemID: "tarpaulin", WarehouseID: "KIN-01"}, Qty: decimal.NewFromInt(10), Reason: "r"},
	})
	assert.True(t, errors.Is(err, engine.ErrValidation), "unknown line: %v", err)
}

func TestApplyOverrides_ReturnedBecomesModified(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	l := submittedDraft(t, svc)
	l, err := svc.Return(ctx, "devon", l.ID, l.Version, needslist.ReturnQuantityDispute, "double-counted pallets")
	require.NoError(t, err)

	key := engine.ItemKey{ItemID: "water-1l", WarehouseID: "KIN-01"}
	l, err = svc.ApplyOverrides(ctx, "marcia", l.ID, l.Version, []needslist.ItemOverride{
		{Key: key, Qty: decimal.NewFromInt(35), Reason: "corrected pallet count"},
	})
	require.NoError(t, err)
	assert.Equal(t, needslist.StatusModified, l.Status)
	assert.True(t, l.WasReturned)
}

// =============================================================================
// EXECUTION TESTS
// =============================================================================

func TestRecordExecution_Lifecycle(t *testing.T) {
	// GIVEN: An approved list with a 70-unit transfer target
	// WHEN: Cumulative coverage signals arrive
	// THEN: APPROVED -> IN_PROGRESS on the first, FULFILLED on full coverage

	svc, _ := newTestService(t)
	ctx := context.Background()

	l := submittedDraft(t, svc)
	l, err := svc.Approve(ctx, "althea", l.ID, l.Version)
	require.NoError(t, err)

	key := engine.ItemKey{ItemID: "water-1l", WarehouseID: "KIN-01"}

	l, err = svc.RecordExecution(ctx, "devon", l.ID, l.Version, []needslist.ExecutionSignal{
		{Key: key, CoveredQty: decimal.NewFromInt(30)},
	})
	require.NoError(t, err)
	assert.Equal(t, needslist.StatusInProgress, l.Status)

	l, err = svc.RecordExecution(ctx, "devon", l.ID, l.Version, []needslist.ExecutionSignal{
		{Key: key, CoveredQty: decimal.NewFromInt(70)},
	})
	require.NoError(t, err)
	assert.Equal(t, needslist.StatusFulfilled, l.Status)
}

func TestRecordExecution_CoverageNeverDecreases(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	l := submittedDraft(t, svc)
	l, err := svc.Approve(ctx, "althea", l.ID, l.Version)
	require.NoError(t, err)

	key := engine.ItemKey{ItemID: "water-1l", WarehouseID: "KIN-01"}
	l, err = svc.RecordExecution(ctx, "devon", l.ID, l.Version, []needslist.ExecutionSignal{
		{Key: key, CoveredQty: decimal.NewFromInt(30)},
	})
	require.NoError(t, err)

	_, err = svc.RecordExecution(ctx, "devon", l.ID, l.Version, []needslist.ExecutionSignal{
		{Key: key, CoveredQty: decimal.NewFromInt(20)},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrValidation))
}

func TestFulfillmentSources(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	l := submittedDraft(t, svc)
	l, err := svc.Approve(ctx, "althea", l.ID, l.Version)
	require.NoError(t, err)

	key := engine.ItemKey{ItemID: "water-1l", WarehouseID: "KIN-01"}
	l, err = svc.RecordExecution(ctx, "devon", l.ID, l.Version, []needslist.ExecutionSignal{
		{Key: key, CoveredQty: decimal.NewFromInt(30)},
	})
	require.NoError(t, err)

	sources, err := svc.FulfillmentSources(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)

	src := sources[0]
	assert.Equal(t, engine.HorizonTransfer, src.Method)
	assert.True(t, src.TargetQty.Equal(decimal.NewFromInt(70)))
	assert.True(t, src.CoveredQty.Equal(decimal.NewFromInt(30)))
	assert.True(t, src.OutstandingQty.Equal(decimal.NewFromInt(40)))
	assert.False(t, src.Covered)
}
