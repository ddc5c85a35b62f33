/*
service.go - Needs-list operations exposed to callers

PURPOSE:
  Orchestrates the replenishment workflow end to end:

  1. Preview: classifier -> gap calculator -> allocator -> tier resolver,
     per line, aggregated with top-level warnings. Read-only.
  2. Draft: guarded by the dedup/scope guard, idempotent against an
     identical preview, optionally superseding conflicting lists.
  3. Transitions: every mutating operation takes the caller's last-known
     version, applies the state machine, and persists under version CAS -
     two concurrent reviewers racing on the same version leave exactly one
     winner and one StaleVersionError.

CONCURRENCY:
  Transitions are short atomic operations; the only suspension points are
  store and collaborator I/O. Draft creation holds a service-level mutex
  across the dedup check and the insert; nothing else holds locks.

SEE ALSO:
  - engine: The pure derivation pipeline
  - machine.go: Transition guards
  - guard.go: Dedup rules
*/
package needslist

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/reliefops/replenish-engine/engine"
)

// Providers groups the external collaborators the service consumes.
type Providers struct {
	Inventory    engine.InventoryProvider
	Catalog      engine.ItemLister
	Phases       engine.PhaseConfig
	Costs        engine.CostProvider
	Scopes       engine.ScopeProvider
	Restrictions engine.RestrictionProvider
	Availability engine.AvailabilityProvider
	Perms        engine.PermissionChecker
}

// Service implements the needs-list operations.
type Service struct {
	Store     Store
	Providers Providers
	Policy    engine.Policy
	Machine   *Machine
	Guard     *Guard
	Log       logrus.FieldLogger
	Now       func() time.Time

	// createMu serializes the guard checks and the insert in CreateDraft.
	// Without it two concurrent drafts for the same overlapping scope can
	// both pass CheckScope before either lands.
	createMu sync.Mutex
}

// NewService wires a service with its machine and guard.
func NewService(store Store, p Providers, pol engine.Policy, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		Store:     store,
		Providers: p,
		Policy:    pol,
		Machine:   NewMachine(p.Perms, pol),
		Guard:     &Guard{Store: store},
		Log:       log,
		Now:       time.Now,
	}
}

// =============================================================================
// PREVIEW
// =============================================================================

// PreviewLine is one derived line of a gap preview.
type PreviewLine struct {
	Line          engine.GapLine
	Allocation    engine.HorizonAllocation
	EstimatedCost *engine.CostEstimate
	Warnings      []engine.Warning
}

// Preview is the read-only response to previewGaps. No state is created.
type Preview struct {
	EventID engine.EventID
	Phase   engine.Phase

	Lines    []PreviewLine
	Warnings []engine.Warning

	// ApprovalPreview anticipates the tier for the dominant primary horizon
	// so submitters see the approval cost of their selection up front.
	ApprovalPreview engine.ApprovalSummary
}

// PreviewGaps runs the derivation pipeline for every (item, warehouse)
// pair in scope. itemIDs filters the catalog; empty means all stocked
// items per warehouse.
func (s *Service) PreviewGaps(
	ctx context.Context,
	eventID engine.EventID,
	warehouseIDs []engine.WarehouseID,
	phase engine.Phase,
	itemIDs []engine.ItemID,
) (*Preview, error) {
	if len(warehouseIDs) == 0 {
		return nil, &engine.ValidationError{Field: "warehouse_ids", Message: "at least one warehouse is required"}
	}
	windows, err := s.Providers.Phases.Windows(phase)
	if err != nil {
		return nil, err
	}

	preview := &Preview{EventID: eventID, Phase: phase}

	for _, warehouse := range warehouseIDs {
		items := itemIDs
		if len(items) == 0 {
			items, err = s.Providers.Catalog.StockedItems(ctx, warehouse)
			if err != nil {
				return nil, err
			}
		}
		for _, item := range items {
			line, err := s.computeLine(ctx, item, warehouse, windows)
			if err != nil {
				return nil, err
			}
			preview.Lines = append(preview.Lines, line)
			preview.Warnings = append(preview.Warnings, line.Warnings...)
		}
	}

	method := dominantHorizon(preview.Lines)
	cost := aggregateCost(preview.Lines, method)
	preview.ApprovalPreview = engine.ResolveApproval(method, cost, preview.Warnings, s.Policy.Approval)

	return preview, nil
}

// computeLine runs classifier, gap calculator, and allocator for one pair.
func (s *Service) computeLine(
	ctx context.Context,
	item engine.ItemID,
	warehouse engine.WarehouseID,
	windows engine.PhaseWindows,
) (PreviewLine, error) {
	obs, err := s.Providers.Inventory.Observation(ctx, item, warehouse)
	if err != nil {
		return PreviewLine{}, err
	}

	line, err := engine.ComputeGap(obs, windows, s.Policy, s.Now())
	if err != nil {
		return PreviewLine{}, err
	}

	itemCtx, cost, err := s.itemContext(ctx, item, warehouse)
	if err != nil {
		return PreviewLine{}, err
	}

	alloc, warns := engine.Allocate(line, itemCtx, s.Policy.Allocation)
	warns = append(engine.FreshnessWarnings(line), warns...)

	if cost != nil {
		scaled := *cost
		scaled.TotalCost = cost.UnitCost.Mul(line.GapQty)
		cost = &scaled
	}

	return PreviewLine{
		Line:          line,
		Allocation:    alloc,
		EstimatedCost: cost,
		Warnings:      warns,
	}, nil
}

// itemContext gathers the allocator's per-item metadata from the
// collaborators. "Unavailable" answers are modeled, never errors.
func (s *Service) itemContext(ctx context.Context, item engine.ItemID, warehouse engine.WarehouseID) (engine.ItemContext, *engine.CostEstimate, error) {
	var itemCtx engine.ItemContext
	var err error

	itemCtx.TransferCeiling, err = s.Providers.Availability.TransferCeiling(ctx, item, warehouse)
	if err != nil {
		return itemCtx, nil, err
	}
	itemCtx.DonationCeiling, err = s.Providers.Availability.DonationCeiling(ctx, item, warehouse)
	if err != nil {
		return itemCtx, nil, err
	}
	itemCtx.TransferScope, itemCtx.ScopeKnown, err = s.Providers.Scopes.TransferScope(ctx, item, warehouse)
	if err != nil {
		return itemCtx, nil, err
	}
	itemCtx.RestrictionCode, itemCtx.RestrictionKnown, err = s.Providers.Restrictions.DonationRestriction(ctx, item)
	if err != nil {
		return itemCtx, nil, err
	}

	cost, err := s.Providers.Costs.EstimatedCost(ctx, item)
	if err != nil {
		return itemCtx, nil, err
	}
	itemCtx.Cost = cost
	return itemCtx, cost, nil
}

// =============================================================================
// DRAFT CREATION
// =============================================================================

// DraftRequest is the createDraft input.
type DraftRequest struct {
	EventID     engine.EventID
	WarehouseID engine.WarehouseID
	Phase       engine.Phase
	Keys        []engine.ItemKey
	Method      engine.Horizon

	// Supersede replaces conflicting active lists instead of failing with
	// DuplicateScopeConflict. The caller opts in after seeing the conflict.
	Supersede bool
}

// CreateDraft persists a new DRAFT, reusing an identical existing draft
// and enforcing scope uniqueness.
func (s *Service) CreateDraft(ctx context.Context, actor engine.ActorID, req DraftRequest) (*NeedsList, error) {
	if len(req.Keys) == 0 {
		return nil, &engine.ValidationError{Field: "selected_item_keys", Message: "at least one item is required"}
	}
	for _, k := range req.Keys {
		if k.WarehouseID != req.WarehouseID {
			return nil, &engine.ValidationError{Field: "selected_item_keys", Message: "item key warehouse does not match draft warehouse"}
		}
	}
	windows, err := s.Providers.Phases.Windows(req.Phase)
	if err != nil {
		return nil, err
	}

	lines := make([]PreviewLine, 0, len(req.Keys))
	gapLines := make([]engine.GapLine, 0, len(req.Keys))
	keySet := make(map[engine.ItemKey]bool, len(req.Keys))
	for _, k := range req.Keys {
		line, err := s.computeLine(ctx, k.ItemID, k.WarehouseID, windows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
		gapLines = append(gapLines, line.Line)
		keySet[k] = true
	}

	// The dedup checks and the insert must observe a consistent store:
	// serialized so two racing drafts cannot both pass the scope check.
	s.createMu.Lock()
	defer s.createMu.Unlock()

	// Idempotency: identical re-preview reuses the existing draft.
	if existing, err := s.Guard.FindReusableDraft(ctx, actor, req.EventID, req.Phase, req.Method, gapLines); err != nil {
		return nil, err
	} else if existing != nil {
		s.Log.WithFields(logrus.Fields{
			"needs_list_id": existing.ID,
			"event_id":      req.EventID,
			"actor":         actor,
		}).Info("reusing identical draft")
		return existing, nil
	}

	conflicting, conflict, err := s.Guard.CheckScope(ctx, req.EventID, req.WarehouseID, req.Phase, keySet, "")
	if err != nil {
		return nil, err
	}
	if conflict != nil && !req.Supersede {
		return nil, conflict
	}

	now := s.Now()
	list := &NeedsList{
		ID:           NewID(),
		EventID:      req.EventID,
		WarehouseIDs: []engine.WarehouseID{req.WarehouseID},
		Phase:        req.Phase,
		Status:       StatusDraft,
		Method:       req.Method,
		CreatedBy:    actor,
		CreatedAt:    now,
		UpdatedBy:    actor,
		UpdatedAt:    now,
		Version:      1,
	}
	var allWarnings []engine.Warning
	for _, line := range lines {
		list.Items = append(list.Items, Item{
			ItemID:      line.Line.ItemID,
			WarehouseID: line.Line.WarehouseID,
			RequiredQty: line.Line.RequiredQty,
			GapQty:      line.Line.GapQty,
			Severity:    line.Line.Severity,
			Freshness:   line.Line.Freshness,
			Allocation:  line.Allocation,
		})
		allWarnings = append(allWarnings, line.Warnings...)
	}

	cost := aggregateCost(lines, req.Method)
	summary := engine.ResolveApproval(req.Method, cost, allWarnings, s.Policy.Approval)
	list.Approval = &summary

	if conflict != nil {
		// Caller chose to replace: point the new list at what it
		// supersedes before persisting it.
		first := conflicting[0].ID
		list.Supersedes = &first
	}

	if err := s.Store.Create(ctx, list); err != nil {
		return nil, err
	}

	// Supersede only after the replacement exists; a failed Create must
	// never leave the conflicting lists terminally superseded with a
	// pointer to a list that was never persisted.
	if conflict != nil {
		for _, old := range conflicting {
			if err := s.Machine.Supersede(old, list.ID, actor); err != nil {
				return nil, err
			}
			if err := s.Store.Update(ctx, old, old.Version); err != nil {
				return nil, err
			}
		}
	}
	s.Log.WithFields(logrus.Fields{
		"needs_list_id": list.ID,
		"event_id":      req.EventID,
		"warehouse_id":  req.WarehouseID,
		"phase":         req.Phase,
		"method":        req.Method,
		"items":         len(list.Items),
		"actor":         actor,
	}).Info("draft created")
	return list, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// withList loads, checks the caller's version, applies fn, and persists
// under CAS. The version check runs twice: eagerly here for a clean error,
// and atomically in Update for the race.
func (s *Service) withList(ctx context.Context, id ID, version int64, fn func(l *NeedsList) error) (*NeedsList, error) {
	l, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Version != version {
		return nil, &StaleVersionError{ListID: id, Expected: version, Actual: l.Version}
	}
	if err := fn(l); err != nil {
		return nil, err
	}
	if err := s.Store.Update(ctx, l, version); err != nil {
		return nil, err
	}
	return l, nil
}

// Submit moves an editable list to SUBMITTED.
func (s *Service) Submit(ctx context.Context, actor engine.ActorID, id ID, version int64) (*NeedsList, error) {
	l, err := s.withList(ctx, id, version, func(l *NeedsList) error {
		return s.Machine.Submit(ctx, l, actor)
	})
	if err != nil {
		return nil, err
	}
	s.transitionLog(l, actor, "submitted")
	return l, nil
}

// StartReview moves SUBMITTED to UNDER_REVIEW.
func (s *Service) StartReview(ctx context.Context, actor engine.ActorID, id ID, version int64) (*NeedsList, error) {
	return s.withList(ctx, id, version, func(l *NeedsList) error {
		return s.Machine.StartReview(ctx, l, actor)
	})
}

// Approve re-resolves the approval tier against current cost data and
// applies the approval transition.
func (s *Service) Approve(ctx context.Context, actor engine.ActorID, id ID, version int64) (*NeedsList, error) {
	l, err := s.withList(ctx, id, version, func(l *NeedsList) error {
		summary, err := s.resolveApprovalForList(ctx, l)
		if err != nil {
			return err
		}
		return s.Machine.Approve(ctx, l, actor, summary)
	})
	if err != nil {
		return nil, err
	}
	s.transitionLog(l, actor, "approved")
	return l, nil
}

// Reject terminally rejects a pending list.
func (s *Service) Reject(ctx context.Context, actor engine.ActorID, id ID, version int64, reason string) (*NeedsList, error) {
	l, err := s.withList(ctx, id, version, func(l *NeedsList) error {
		return s.Machine.Reject(ctx, l, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	s.transitionLog(l, actor, "rejected")
	return l, nil
}

// Return sends a pending list back to the submitter.
func (s *Service) Return(ctx context.Context, actor engine.ActorID, id ID, version int64, code ReturnReason, reason string) (*NeedsList, error) {
	l, err := s.withList(ctx, id, version, func(l *NeedsList) error {
		return s.Machine.Return(ctx, l, actor, code, reason)
	})
	if err != nil {
		return nil, err
	}
	s.transitionLog(l, actor, "returned")
	return l, nil
}

// Escalate stamps the escalation audit fields and raises the effective tier.
func (s *Service) Escalate(ctx context.Context, actor engine.ActorID, id ID, version int64) (*NeedsList, error) {
	l, err := s.withList(ctx, id, version, func(l *NeedsList) error {
		return s.Machine.Escalate(ctx, l, actor)
	})
	if err != nil {
		return nil, err
	}
	s.transitionLog(l, actor, "escalated")
	return l, nil
}

// Remind re-pings the pending reviewers. escalationRecommended signals the
// caller that the pending duration exceeded the policy window; state is
// otherwise only promoted to UNDER_REVIEW.
func (s *Service) Remind(ctx context.Context, actor engine.ActorID, id ID, version int64) (*NeedsList, bool, error) {
	var recommended bool
	l, err := s.withList(ctx, id, version, func(l *NeedsList) error {
		var err error
		recommended, err = s.Machine.Remind(l, actor)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return l, recommended, nil
}

// Cancel moves any non-terminal list to CANCELLED.
func (s *Service) Cancel(ctx context.Context, actor engine.ActorID, id ID, version int64) (*NeedsList, error) {
	l, err := s.withList(ctx, id, version, func(l *NeedsList) error {
		return s.Machine.Cancel(ctx, l, actor)
	})
	if err != nil {
		return nil, err
	}
	s.transitionLog(l, actor, "cancelled")
	return l, nil
}

// =============================================================================
// SUBMITTER EDITS
// =============================================================================

// ItemOverride sets or clears the per-line quantity override.
type ItemOverride struct {
	Key    engine.ItemKey
	Qty    decimal.Decimal
	Reason string
	Clear  bool
}

// ApplyOverrides edits line overrides on an editable list. A RETURNED list
// becomes MODIFIED, preserving the returned provenance.
func (s *Service) ApplyOverrides(ctx context.Context, actor engine.ActorID, id ID, version int64, overrides []ItemOverride) (*NeedsList, error) {
	for _, ov := range overrides {
		if ov.Clear {
			continue
		}
		if ov.Qty.IsNegative() {
			return nil, &engine.ValidationError{Field: "overridden_qty", Message: "must not be negative"}
		}
		if ov.Reason == "" {
			return nil, &engine.ValidationError{Field: "override_reason", Message: "a reason is required for every override"}
		}
	}

	return s.withList(ctx, id, version, func(l *NeedsList) error {
		if err := s.Machine.MarkEdited(l, actor); err != nil {
			return err
		}
		for _, ov := range overrides {
			idx := -1
			for i, it := range l.Items {
				if it.Key() == ov.Key {
					idx = i
					break
				}
			}
			if idx < 0 {
				return &engine.ValidationError{Field: "overrides", Message: "no such line on this list"}
			}
			if ov.Clear {
				l.Items[idx].Override = nil
			} else {
				l.Items[idx].Override = &Override{Qty: ov.Qty, Reason: ov.Reason}
			}
		}
		return nil
	})
}

// =============================================================================
// EXECUTION SIGNALS
// =============================================================================

// ExecutionSignal reports execution progress for one line. CoveredQty is
// cumulative, never a delta.
type ExecutionSignal struct {
	Key        engine.ItemKey
	CoveredQty decimal.Decimal
}

// RecordExecution applies downstream progress: APPROVED moves to
// IN_PROGRESS on the first signal, IN_PROGRESS moves to FULFILLED once
// every line is covered. Coverage is monotonic; completed execution is
// never undone.
func (s *Service) RecordExecution(ctx context.Context, actor engine.ActorID, id ID, version int64, signals []ExecutionSignal) (*NeedsList, error) {
	return s.withList(ctx, id, version, func(l *NeedsList) error {
		if l.Status == StatusApproved {
			if err := s.Machine.StartExecution(l, actor); err != nil {
				return err
			}
		} else if l.Status != StatusInProgress {
			return deny(l, "record_execution", "state", "execution signals apply to APPROVED or IN_PROGRESS lists")
		}

		for _, sig := range signals {
			idx := -1
			for i, it := range l.Items {
				if it.Key() == sig.Key {
					idx = i
					break
				}
			}
			if idx < 0 {
				return &engine.ValidationError{Field: "signals", Message: "no such line on this list"}
			}
			if sig.CoveredQty.LessThan(l.Items[idx].CoveredQty) {
				return &engine.ValidationError{Field: "covered_qty", Message: "coverage never decreases"}
			}
			l.Items[idx].CoveredQty = sig.CoveredQty
		}

		if l.AllCovered() {
			return s.Machine.CompleteFulfillment(l, actor)
		}
		return nil
	})
}

// SourceLine is the read-only fulfillment projection for one line.
type SourceLine struct {
	Key            engine.ItemKey
	Method         engine.Horizon
	TargetQty      decimal.Decimal
	CoveredQty     decimal.Decimal
	OutstandingQty decimal.Decimal
	Covered        bool
}

// FulfillmentSources projects execution progress per line.
func (s *Service) FulfillmentSources(ctx context.Context, id ID) ([]SourceLine, error) {
	l, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	lines := make([]SourceLine, 0, len(l.Items))
	for _, it := range l.Items {
		target := it.TargetQty(l.Method)
		outstanding := target.Sub(it.CoveredQty)
		if outstanding.IsNegative() {
			outstanding = decimal.Zero
		}
		lines = append(lines, SourceLine{
			Key:            it.Key(),
			Method:         l.Method,
			TargetQty:      target,
			CoveredQty:     it.CoveredQty,
			OutstandingQty: outstanding,
			Covered:        it.Covered(l.Method),
		})
	}
	return lines, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns one list.
func (s *Service) Get(ctx context.Context, id ID) (*NeedsList, error) {
	return s.Store.Get(ctx, id)
}

// List returns lists matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]*NeedsList, error) {
	return s.Store.List(ctx, f)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// resolveApprovalForList re-runs the tier resolver at approval time with
// fresh cost data and the allocation warnings frozen at submission. A prior
// escalation keeps raising the result.
func (s *Service) resolveApprovalForList(ctx context.Context, l *NeedsList) (engine.ApprovalSummary, error) {
	cost, err := s.listCost(ctx, l)
	if err != nil {
		return engine.ApprovalSummary{}, err
	}

	var warns []engine.Warning
	if l.Approval != nil {
		for _, w := range l.Approval.Warnings {
			// Tiering warnings get re-derived; carrying them over would
			// double-count.
			if w.Code == engine.WarnCostMissingForApproval || w.Code == engine.WarnApprovalTierConservative {
				continue
			}
			warns = append(warns, w)
		}
	}

	summary := engine.ResolveApproval(l.Method, cost, warns, s.Policy.Approval)
	if l.Escalated != nil {
		summary.Tier = engine.RaiseTier(summary.Tier, s.Policy.Approval)
		summary.ApproverRole = s.Policy.Approval.RoleForTier[summary.Tier]
		summary.EscalationRequired = true
	}
	return summary, nil
}

// listCost aggregates the estimated cost of the list's target quantities.
// Returns nil when any line lacks cost context: a partially costed list
// must resolve conservatively, never cheaply.
func (s *Service) listCost(ctx context.Context, l *NeedsList) (*decimal.Decimal, error) {
	total := decimal.Zero
	for _, it := range l.Items {
		est, err := s.Providers.Costs.EstimatedCost(ctx, it.ItemID)
		if err != nil {
			return nil, err
		}
		if est == nil {
			return nil, nil
		}
		total = total.Add(est.UnitCost.Mul(it.TargetQty(l.Method)))
	}
	return &total, nil
}

func (s *Service) transitionLog(l *NeedsList, actor engine.ActorID, event string) {
	s.Log.WithFields(logrus.Fields{
		"needs_list_id": l.ID,
		"event_id":      l.EventID,
		"status":        l.Status,
		"version":       l.Version,
		"actor":         actor,
	}).Info("needs list " + event)
}

// dominantHorizon picks the preview-level primary: the highest-priority
// horizon that is primary for any line.
func dominantHorizon(lines []PreviewLine) engine.Horizon {
	best := engine.HorizonProcurement
	seen := false
	for _, l := range lines {
		if !l.Line.GapQty.IsPositive() {
			continue
		}
		seen = true
		switch l.Allocation.Primary {
		case engine.HorizonTransfer:
			return engine.HorizonTransfer
		case engine.HorizonDonation:
			best = engine.HorizonDonation
		}
	}
	if !seen {
		return engine.HorizonTransfer
	}
	return best
}

// aggregateCost sums unit cost times the method quantity across lines,
// nil as soon as any line lacks cost context.
func aggregateCost(lines []PreviewLine, method engine.Horizon) *decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		if !l.Line.GapQty.IsPositive() {
			continue
		}
		if l.EstimatedCost == nil {
			return nil
		}
		qty := methodQty(l.Allocation, method, l.Line.GapQty)
		total = total.Add(l.EstimatedCost.UnitCost.Mul(qty))
	}
	return &total
}

func methodQty(a engine.HorizonAllocation, method engine.Horizon, gap decimal.Decimal) decimal.Decimal {
	var q decimal.NullDecimal
	switch method {
	case engine.HorizonTransfer:
		q = a.Transfer
	case engine.HorizonDonation:
		q = a.Donation
	case engine.HorizonProcurement:
		q = a.Procurement
	}
	if q.Valid {
		return q.Decimal
	}
	return gap
}
