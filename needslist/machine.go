/*
machine.go - Needs-list state machine

PURPOSE:
  The lifecycle controller: legal transitions, required actor permissions,
  audit-field stamping, and supersession. Each method checks every guard
  before touching the aggregate, so an illegal attempt is rejected
  atomically with no partial stamping.

STATE GRAPH:

  DRAFT ──────────────┐
  MODIFIED ───────────┼─▶ SUBMITTED ◀─────────────┐
  RETURNED ───────────┘       │                   │
                              ▼                   │ (resubmit after edit)
                        UNDER_REVIEW              │
                          │   │   │               │
              ┌───────────┘   │   └───────────┐   │
              ▼               ▼               ▼   │
          APPROVED        REJECTED        RETURNED┘
              │
              ▼
         IN_PROGRESS ──▶ FULFILLED

  Any non-terminal state may also go to CANCELLED or SUPERSEDED.

GUARDS:
  Violations carry the guard name ("separation_of_duties", "approver_role",
  "missing_reason", ...) so callers fix the cause instead of guessing.

SEE ALSO:
  - service.go: Loads, applies a transition, persists under version CAS
  - errors.go: StateTransitionError
*/
package needslist

import (
	"context"
	"time"

	"github.com/reliefops/replenish-engine/engine"
)

// Machine applies lifecycle transitions. It holds no mutable state of its
// own; every outcome is a function of the aggregate and the actor.
type Machine struct {
	Perms  engine.PermissionChecker
	Policy engine.Policy
	Now    func() time.Time
}

func NewMachine(perms engine.PermissionChecker, policy engine.Policy) *Machine {
	return &Machine{Perms: perms, Policy: policy, Now: time.Now}
}

func deny(l *NeedsList, attempted, guard, msg string) error {
	return &StateTransitionError{
		ListID:    l.ID,
		From:      l.Status,
		Attempted: attempted,
		Guard:     guard,
		Message:   msg,
	}
}

func (m *Machine) requirePermission(ctx context.Context, l *NeedsList, attempted string, actor engine.ActorID, perm engine.Permission) error {
	ok, err := m.Perms.HasPermission(ctx, actor, perm)
	if err != nil {
		return err
	}
	if !ok {
		return deny(l, attempted, "permission", string(perm)+" required")
	}
	return nil
}

func (m *Machine) touch(l *NeedsList, actor engine.ActorID) {
	l.UpdatedBy = actor
	l.UpdatedAt = m.Now()
}

// =============================================================================
// SUBMITTER TRANSITIONS
// =============================================================================

// Submit moves DRAFT/MODIFIED/RETURNED to SUBMITTED and freezes content.
func (m *Machine) Submit(ctx context.Context, l *NeedsList, actor engine.ActorID) error {
	if !l.Status.Editable() {
		return deny(l, "submit", "state", "only editable lists can be submitted")
	}
	if actor != l.CreatedBy {
		return deny(l, "submit", "actor_not_owner", "only the owning submitter may submit")
	}
	if len(l.Items) == 0 {
		return deny(l, "submit", "empty_items", "at least one selected item is required")
	}
	if err := m.requirePermission(ctx, l, "submit", actor, engine.PermSubmit); err != nil {
		return err
	}

	now := m.Now()
	l.Status = StatusSubmitted
	l.Submitted = &AuditStamp{By: actor, At: now}
	m.touch(l, actor)
	return nil
}

// MarkEdited records a submitter content edit. Editing after a reviewer
// return moves RETURNED to MODIFIED, preserving the returned provenance;
// DRAFT stays DRAFT.
func (m *Machine) MarkEdited(l *NeedsList, actor engine.ActorID) error {
	if !l.Status.Editable() {
		return deny(l, "edit", "state", "content is frozen after submission")
	}
	if actor != l.CreatedBy {
		return deny(l, "edit", "actor_not_owner", "only the owning submitter may edit")
	}
	if l.Status == StatusReturned {
		l.Status = StatusModified
	}
	m.touch(l, actor)
	return nil
}

// =============================================================================
// REVIEWER TRANSITIONS
// =============================================================================

// StartReview moves SUBMITTED to UNDER_REVIEW and records who picked it up.
func (m *Machine) StartReview(ctx context.Context, l *NeedsList, actor engine.ActorID) error {
	if !l.Status.PendingReview() {
		return deny(l, "start_review", "state", "list is not pending review")
	}
	if err := m.requirePermission(ctx, l, "start_review", actor, engine.PermReview); err != nil {
		return err
	}

	l.Status = StatusUnderReview
	l.Reviewed = &AuditStamp{By: actor, At: m.Now()}
	m.touch(l, actor)
	return nil
}

// Approve moves a pending list to APPROVED. The caller supplies the
// approval summary re-resolved at approval time; the actor must hold the
// approve permission, carry the summary's approver role, and must not be
// the submitter.
func (m *Machine) Approve(ctx context.Context, l *NeedsList, actor engine.ActorID, summary engine.ApprovalSummary) error {
	if !l.Status.PendingReview() {
		return deny(l, "approve", "state", "list is not pending review")
	}
	if l.Submitted != nil && actor == l.Submitted.By {
		return deny(l, "approve", "separation_of_duties", "submitter cannot approve their own list")
	}
	if err := m.requirePermission(ctx, l, "approve", actor, engine.PermApprove); err != nil {
		return err
	}

	roles, err := m.Perms.Roles(ctx, actor)
	if err != nil {
		return err
	}
	if !hasRole(roles, summary.ApproverRole) {
		return deny(l, "approve", "approver_role",
			"method "+string(l.Method)+" at tier requires role "+string(summary.ApproverRole))
	}

	now := m.Now()
	l.Status = StatusApproved
	l.Approval = &summary
	l.Approved = &AuditStamp{By: actor, At: now}
	m.touch(l, actor)
	return nil
}

// Reject terminally rejects a pending list. A non-empty reason is required.
func (m *Machine) Reject(ctx context.Context, l *NeedsList, actor engine.ActorID, reason string) error {
	if !l.Status.PendingReview() {
		return deny(l, "reject", "state", "list is not pending review")
	}
	if reason == "" {
		return deny(l, "reject", "missing_reason", "reject_reason is required")
	}
	if err := m.requirePermission(ctx, l, "reject", actor, engine.PermReview); err != nil {
		return err
	}

	l.Status = StatusRejected
	l.RejectReason = reason
	l.Reviewed = &AuditStamp{By: actor, At: m.Now()}
	m.touch(l, actor)
	return nil
}

// Return sends a pending list back to the submitter with a coded reason.
// The next submitter edit moves it to MODIFIED rather than DRAFT.
func (m *Machine) Return(ctx context.Context, l *NeedsList, actor engine.ActorID, code ReturnReason, reason string) error {
	if !l.Status.PendingReview() {
		return deny(l, "return", "state", "list is not pending review")
	}
	if !ValidReturnReason(code) {
		return deny(l, "return", "unknown_reason_code", "unknown return reason code: "+string(code))
	}
	if reason == "" {
		return deny(l, "return", "missing_reason", "return reason text is required")
	}
	if err := m.requirePermission(ctx, l, "return", actor, engine.PermReview); err != nil {
		return err
	}

	l.Status = StatusReturned
	l.WasReturned = true
	l.ReturnReasonCode = code
	l.ReturnReason = reason
	l.Reviewed = &AuditStamp{By: actor, At: m.Now()}
	m.touch(l, actor)
	return nil
}

// Remind is the pending self-transition ("send reminder"). It promotes
// SUBMITTED to UNDER_REVIEW without a decision, and reports whether the
// pending duration has exceeded the escalation window.
func (m *Machine) Remind(l *NeedsList, actor engine.ActorID) (escalationRecommended bool, err error) {
	if !l.Status.PendingReview() {
		return false, deny(l, "remind", "state", "reminders only apply while pending review")
	}

	now := m.Now()
	if l.Submitted != nil && now.Sub(l.Submitted.At) > m.Policy.PendingEscalationAfter {
		escalationRecommended = true
	}
	l.Status = StatusUnderReview
	m.touch(l, actor)
	return escalationRecommended, nil
}

// Escalate stamps escalated_by/at on a pending list and raises the
// effective approval tier by one. Status is unchanged; the escalation is
// audit-trail data.
func (m *Machine) Escalate(ctx context.Context, l *NeedsList, actor engine.ActorID) error {
	if !l.Status.PendingReview() {
		return deny(l, "escalate", "state", "escalation only applies while pending review")
	}
	if err := m.requirePermission(ctx, l, "escalate", actor, engine.PermEscalate); err != nil {
		return err
	}

	l.Escalated = &AuditStamp{By: actor, At: m.Now()}
	if l.Approval != nil {
		l.Approval.Tier = engine.RaiseTier(l.Approval.Tier, m.Policy.Approval)
		l.Approval.ApproverRole = m.Policy.Approval.RoleForTier[l.Approval.Tier]
		l.Approval.EscalationRequired = true
	}
	m.touch(l, actor)
	return nil
}

// =============================================================================
// EXECUTION TRANSITIONS
// =============================================================================

// StartExecution moves APPROVED to IN_PROGRESS on the first execution
// signal. Monotonic: no skipping backward.
func (m *Machine) StartExecution(l *NeedsList, actor engine.ActorID) error {
	if l.Status != StatusApproved {
		return deny(l, "start_execution", "state", "execution starts from APPROVED only")
	}
	l.Status = StatusInProgress
	m.touch(l, actor)
	return nil
}

// CompleteFulfillment moves IN_PROGRESS to FULFILLED once every line is
// covered.
func (m *Machine) CompleteFulfillment(l *NeedsList, actor engine.ActorID) error {
	if l.Status != StatusInProgress {
		return deny(l, "fulfill", "state", "fulfillment completes from IN_PROGRESS only")
	}
	if !l.AllCovered() {
		return deny(l, "fulfill", "uncovered_lines", "not all lines are covered")
	}
	l.Status = StatusFulfilled
	m.touch(l, actor)
	return nil
}

// =============================================================================
// TERMINAL TRANSITIONS
// =============================================================================

// Cancel moves any non-terminal list to CANCELLED. The owner may cancel
// their own list; anyone else needs the cancel permission. Cancelling a
// draft discards uncommitted overrides; cancelling IN_PROGRESS preserves
// completed execution and marks partial fulfillment.
func (m *Machine) Cancel(ctx context.Context, l *NeedsList, actor engine.ActorID) error {
	if l.Status.Terminal() {
		return deny(l, "cancel", "state", "list is already terminal")
	}
	if actor != l.CreatedBy {
		if err := m.requirePermission(ctx, l, "cancel", actor, engine.PermCancel); err != nil {
			return err
		}
	}

	if l.Status.Editable() {
		for i := range l.Items {
			l.Items[i].Override = nil
		}
	}
	if l.Status == StatusInProgress && l.AnyCovered() {
		l.PartiallyFulfilled = true
	}
	l.Status = StatusCancelled
	m.touch(l, actor)
	return nil
}

// Supersede marks a non-terminal list replaced by a newer one covering
// overlapping scope. Set automatically by draft creation, never by a
// direct caller.
func (m *Machine) Supersede(l *NeedsList, by ID, actor engine.ActorID) error {
	if l.Status.Terminal() {
		return deny(l, "supersede", "state", "list is already terminal")
	}
	l.Status = StatusSuperseded
	l.SupersededBy = &by
	m.touch(l, actor)
	return nil
}

func hasRole(roles []engine.Role, want engine.Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
