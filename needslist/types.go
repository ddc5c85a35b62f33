/*
Package needslist implements the needs-list lifecycle on top of the
derivation engine.

PURPOSE:
  A needs list is the aggregate root of the replenishment workflow: the
  items a submitter selected from a gap preview, the fulfillment method,
  the resolved approval requirement, and the audit trail of every
  transition from DRAFT through the terminal states.

KEY CONCEPTS IN THIS FILE (types.go):
  - NeedsList: Aggregate root with status, items, audit stamps, version
  - Item: One (item, warehouse) line with computed quantities and override
  - Status: The lifecycle states and their classification helpers
  - ReturnReason: The closed reason-code enumeration for RETURNED

LIFECYCLE:
  Created as DRAFT by a submitter; content-mutable only while the submitter
  holds it (DRAFT/MODIFIED/RETURNED); frozen on SUBMITTED; advanced only by
  state-machine transitions; never destroyed - terminal states are retained
  for audit.

SEE ALSO:
  - machine.go: Legal transitions and their guards
  - guard.go: Scope dedup and draft idempotency
  - service.go: The operations exposed to callers
*/
package needslist

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/reliefops/replenish-engine/engine"
)

// =============================================================================
// IDENTITY
// =============================================================================

type ID string

// NewID mints a list identity.
func NewID() ID {
	return ID(uuid.NewString())
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusModified    Status = "MODIFIED"
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusReturned    Status = "RETURNED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusFulfilled   Status = "FULFILLED"
	StatusCancelled   Status = "CANCELLED"
	StatusSuperseded  Status = "SUPERSEDED"
)

// Terminal reports whether the status retains the list for audit only.
func (s Status) Terminal() bool {
	switch s {
	case StatusFulfilled, StatusRejected, StatusCancelled, StatusSuperseded:
		return true
	}
	return false
}

// Editable reports whether the owning submitter may still change content.
func (s Status) Editable() bool {
	switch s {
	case StatusDraft, StatusModified, StatusReturned:
		return true
	}
	return false
}

// PendingReview reports whether the list awaits a reviewer decision.
func (s Status) PendingReview() bool {
	return s == StatusSubmitted || s == StatusUnderReview
}

// NonTerminalStatuses is the active set checked by the dedup guard.
func NonTerminalStatuses() []Status {
	return []Status{
		StatusDraft, StatusModified, StatusSubmitted,
		StatusUnderReview, StatusApproved, StatusReturned, StatusInProgress,
	}
}

// =============================================================================
// RETURN REASONS
// =============================================================================

// ReturnReason is the closed reason-code enumeration for the RETURNED
// transition. Free text travels alongside, never instead.
type ReturnReason string

const (
	ReturnQuantityDispute ReturnReason = "quantity_dispute"
	ReturnWrongMethod     ReturnReason = "wrong_method"
	ReturnMissingEvidence ReturnReason = "missing_evidence"
	ReturnDataStale       ReturnReason = "data_stale"
	ReturnScopeObjection  ReturnReason = "scope_objection"
	ReturnOther           ReturnReason = "other"
)

// ValidReturnReason validates a raw reason code.
func ValidReturnReason(code ReturnReason) bool {
	switch code {
	case ReturnQuantityDispute, ReturnWrongMethod, ReturnMissingEvidence,
		ReturnDataStale, ReturnScopeObjection, ReturnOther:
		return true
	}
	return false
}

// =============================================================================
// AUDIT STAMPS
// =============================================================================

// AuditStamp records who did something and when.
type AuditStamp struct {
	By engine.ActorID
	At time.Time
}

// =============================================================================
// ITEM - One line of a needs list
// =============================================================================

// Override is a submitter correction of a computed quantity. The reason
// persists for traceability.
type Override struct {
	Qty    decimal.Decimal
	Reason string
}

// Item is one (item, warehouse) line: the computed gap snapshot frozen at
// draft time, the horizon allocation, an optional submitter override, and
// the fulfillment progress reported by execution collaborators.
type Item struct {
	ItemID      engine.ItemID
	WarehouseID engine.WarehouseID

	RequiredQty decimal.Decimal
	GapQty      decimal.Decimal
	Severity    engine.Severity
	Freshness   engine.Freshness
	Allocation  engine.HorizonAllocation

	Override *Override

	// CoveredQty is populated by downstream execution signals.
	CoveredQty decimal.Decimal
}

func (i Item) Key() engine.ItemKey {
	return engine.ItemKey{ItemID: i.ItemID, WarehouseID: i.WarehouseID}
}

// TargetQty is the quantity execution must cover for the selected method:
// the override when present, else the allocation for that horizon, else the
// full gap when the horizon was not evaluated.
func (i Item) TargetQty(method engine.Horizon) decimal.Decimal {
	if i.Override != nil {
		return i.Override.Qty
	}
	var q decimal.NullDecimal
	switch method {
	case engine.HorizonTransfer:
		q = i.Allocation.Transfer
	case engine.HorizonDonation:
		q = i.Allocation.Donation
	case engine.HorizonProcurement:
		q = i.Allocation.Procurement
	}
	if q.Valid {
		return q.Decimal
	}
	return i.GapQty
}

// Covered reports whether execution has fully covered this line.
func (i Item) Covered(method engine.Horizon) bool {
	return i.CoveredQty.GreaterThanOrEqual(i.TargetQty(method))
}

// =============================================================================
// NEEDS LIST - Aggregate root
// =============================================================================

// NeedsList is the aggregate root. Content freezes on submission; only
// status and audit fields change afterwards. Version is the optimistic
// concurrency counter bumped on every persisted mutation.
type NeedsList struct {
	ID           ID
	EventID      engine.EventID
	WarehouseIDs []engine.WarehouseID
	Phase        engine.Phase
	Status       Status
	Method       engine.Horizon

	Items    []Item
	Approval *engine.ApprovalSummary

	CreatedBy engine.ActorID
	CreatedAt time.Time
	UpdatedBy engine.ActorID
	UpdatedAt time.Time

	Submitted *AuditStamp
	Reviewed  *AuditStamp
	Approved  *AuditStamp
	Escalated *AuditStamp

	RejectReason     string
	ReturnReasonCode ReturnReason
	ReturnReason     string

	// WasReturned is the provenance flag: MODIFIED after a reviewer return
	// is distinguishable from a fresh DRAFT edit.
	WasReturned bool

	// PartiallyFulfilled marks an IN_PROGRESS list cancelled after some
	// execution already completed. Completed records are never undone.
	PartiallyFulfilled bool

	SupersededBy *ID
	Supersedes   *ID

	Version int64
}

// ItemKeys returns the line keys as a set for overlap checks.
func (l *NeedsList) ItemKeys() map[engine.ItemKey]bool {
	keys := make(map[engine.ItemKey]bool, len(l.Items))
	for _, it := range l.Items {
		keys[it.Key()] = true
	}
	return keys
}

// OverlapsItems reports whether any of the given keys appear on this list.
func (l *NeedsList) OverlapsItems(keys map[engine.ItemKey]bool) bool {
	for _, it := range l.Items {
		if keys[it.Key()] {
			return true
		}
	}
	return false
}

// CoversWarehouse reports whether the list includes the given warehouse.
func (l *NeedsList) CoversWarehouse(w engine.WarehouseID) bool {
	for _, id := range l.WarehouseIDs {
		if id == w {
			return true
		}
	}
	return false
}

// AllCovered reports whether every line is fully covered by execution.
func (l *NeedsList) AllCovered() bool {
	for _, it := range l.Items {
		if !it.Covered(l.Method) {
			return false
		}
	}
	return true
}

// AnyCovered reports whether any execution progress exists at all.
func (l *NeedsList) AnyCovered() bool {
	for _, it := range l.Items {
		if it.CoveredQty.IsPositive() {
			return true
		}
	}
	return false
}

// Clone deep-copies the aggregate so stores can hand out safe copies.
func (l *NeedsList) Clone() *NeedsList {
	c := *l
	c.WarehouseIDs = append([]engine.WarehouseID(nil), l.WarehouseIDs...)
	c.Items = make([]Item, len(l.Items))
	for i, it := range l.Items {
		c.Items[i] = it
		if it.Override != nil {
			ov := *it.Override
			c.Items[i].Override = &ov
		}
	}
	if l.Approval != nil {
		a := *l.Approval
		a.MethodsAllowed = append([]engine.Horizon(nil), l.Approval.MethodsAllowed...)
		a.Warnings = append([]engine.Warning(nil), l.Approval.Warnings...)
		c.Approval = &a
	}
	for _, pair := range []struct {
		src *AuditStamp
		dst **AuditStamp
	}{
		{l.Submitted, &c.Submitted},
		{l.Reviewed, &c.Reviewed},
		{l.Approved, &c.Approved},
		{l.Escalated, &c.Escalated},
	} {
		if pair.src != nil {
			s := *pair.src
			*pair.dst = &s
		}
	}
	if l.SupersededBy != nil {
		id := *l.SupersededBy
		c.SupersededBy = &id
	}
	if l.Supersedes != nil {
		id := *l.Supersedes
		c.Supersedes = &id
	}
	return &c
}
