/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

QUANTITIES:
  Request quantities arrive as JSON numbers and convert to decimals at the
  boundary. Response quantities are rendered as floats for display;
  exact decimal arithmetic stays internal.

VALIDATION:
  Request types carry validator struct tags, checked in handlers via
  go-playground/validator before any domain call.

SEE ALSO:
  - handlers.go: Uses these types
  - needslist/service.go: The domain types these project
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/reliefops/replenish-engine/engine"
	"github.com/reliefops/replenish-engine/needslist"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PreviewRequest asks for a read-only gap derivation. Empty item_ids means
// every stocked item per warehouse.
type PreviewRequest struct {
	WarehouseIDs []string `json:"warehouse_ids" validate:"min=1,dive,required"`
	Phase        string   `json:"phase" validate:"required"`
	ItemIDs      []string `json:"item_ids,omitempty"`
}

// ItemKeyDTO identifies one (item, warehouse) line.
type ItemKeyDTO struct {
	ItemID      string `json:"item_id" validate:"required"`
	WarehouseID string `json:"warehouse_id" validate:"required"`
}

// CreateNeedsListRequest creates a draft from current derived gaps.
type CreateNeedsListRequest struct {
	EventID     string       `json:"event_id" validate:"required"`
	WarehouseID string       `json:"warehouse_id" validate:"required"`
	Phase       string       `json:"phase" validate:"required"`
	Items       []ItemKeyDTO `json:"items" validate:"min=1,dive"`
	Method      string       `json:"method" validate:"required"`

	// Supersede opts into replacing conflicting active lists after the
	// caller has seen a scope conflict.
	Supersede bool `json:"supersede,omitempty"`
}

// VersionedRequest carries the caller's last-observed version for
// optimistic concurrency.
type VersionedRequest struct {
	Version int64 `json:"version" validate:"gte=1"`
}

// RejectRequest rejects a pending list with a mandatory reason.
type RejectRequest struct {
	Version int64  `json:"version" validate:"gte=1"`
	Reason  string `json:"reason" validate:"required"`
}

// ReturnRequest sends a pending list back for rework.
type ReturnRequest struct {
	Version    int64  `json:"version" validate:"gte=1"`
	ReasonCode string `json:"reason_code" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

// OverrideDTO sets or clears one line's quantity override.
type OverrideDTO struct {
	ItemID      string  `json:"item_id" validate:"required"`
	WarehouseID string  `json:"warehouse_id" validate:"required"`
	Qty         float64 `json:"qty"`
	Reason      string  `json:"reason"`
	Clear       bool    `json:"clear,omitempty"`
}

// OverridesRequest edits line overrides on an editable list.
type OverridesRequest struct {
	Version   int64         `json:"version" validate:"gte=1"`
	Overrides []OverrideDTO `json:"overrides" validate:"min=1,dive"`
}

// SignalDTO reports cumulative execution coverage for one line.
type SignalDTO struct {
	ItemID      string  `json:"item_id" validate:"required"`
	WarehouseID string  `json:"warehouse_id" validate:"required"`
	CoveredQty  float64 `json:"covered_qty" validate:"gte=0"`
}

// ExecutionRequest applies downstream fulfillment progress.
type ExecutionRequest struct {
	Version int64       `json:"version" validate:"gte=1"`
	Signals []SignalDTO `json:"signals" validate:"min=1,dive"`
}

// LoadScenarioRequest loads a named demo scenario.
type LoadScenarioRequest struct {
	Scenario string `json:"scenario" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	// ConflictingIDs is set on duplicate-scope conflicts so the client can
	// offer supersession.
	ConflictingIDs []string `json:"conflicting_ids,omitempty"`

	// ActualVersion is set on stale-version conflicts so the client can
	// refetch and retry.
	ActualVersion *int64 `json:"actual_version,omitempty"`
}

// AllocationDTO is the horizon split for one line. Nil pointers mean the
// horizon could not be evaluated.
type AllocationDTO struct {
	Transfer     *float64 `json:"transfer_qty"`
	Donation     *float64 `json:"donation_qty"`
	Procurement  *float64 `json:"procurement_qty"`
	UncoveredQty float64  `json:"uncovered_qty"`
	Primary      string   `json:"primary_horizon"`
}

// CostDTO is a procurement cost estimate.
type CostDTO struct {
	UnitCost  float64 `json:"unit_cost"`
	TotalCost float64 `json:"total_cost"`
}

// GapLineDTO is one derived line. TimeToStockoutHours is nil when there is
// no current demand; Display always carries the renderable form.
type GapLineDTO struct {
	ItemID                string   `json:"item_id"`
	WarehouseID           string   `json:"warehouse_id"`
	RequiredQty           float64  `json:"required_qty"`
	GapQty                float64  `json:"gap_qty"`
	TimeToStockoutHours   *float64 `json:"time_to_stockout_hours"`
	TimeToStockoutDisplay string   `json:"time_to_stockout_display"`
	Freshness             string   `json:"freshness_state"`
	IsEstimated           bool     `json:"is_estimated"`
	Severity              string   `json:"severity"`
}

// PreviewLineDTO is one preview line with its allocation and cost.
type PreviewLineDTO struct {
	GapLineDTO
	Allocation    AllocationDTO    `json:"allocation"`
	EstimatedCost *CostDTO         `json:"estimated_cost"`
	Warnings      []engine.Warning `json:"warnings"`
}

// ApprovalDTO is the resolved approval requirement.
type ApprovalDTO struct {
	Tier               int              `json:"tier"`
	ApproverRole       string           `json:"approver_role"`
	MethodsAllowed     []string         `json:"methods_allowed"`
	Warnings           []engine.Warning `json:"warnings"`
	EscalationRequired bool             `json:"escalation_required"`
}

// PreviewResponse is the read-only gap preview.
type PreviewResponse struct {
	EventID         string           `json:"event_id"`
	Phase           string           `json:"phase"`
	Lines           []PreviewLineDTO `json:"lines"`
	Warnings        []engine.Warning `json:"warnings"`
	ApprovalPreview ApprovalDTO      `json:"approval_preview"`
}

// ItemDTO is one persisted needs-list line.
type ItemDTO struct {
	ItemID      string        `json:"item_id"`
	WarehouseID string        `json:"warehouse_id"`
	RequiredQty float64       `json:"required_qty"`
	GapQty      float64       `json:"gap_qty"`
	Severity    string        `json:"severity"`
	Freshness   string        `json:"freshness_state"`
	Allocation  AllocationDTO `json:"allocation"`
	Override    *OverrideDTO  `json:"override,omitempty"`
	TargetQty   float64       `json:"target_qty"`
	CoveredQty  float64       `json:"covered_qty"`
}

// AuditStampDTO records who did what, when.
type AuditStampDTO struct {
	By string `json:"by"`
	At string `json:"at"`
}

// NeedsListDTO is the full aggregate in API responses.
type NeedsListDTO struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	Phase        string    `json:"phase"`
	Status       string    `json:"status"`
	Method       string    `json:"method"`
	WarehouseIDs []string  `json:"warehouse_ids"`
	Items        []ItemDTO `json:"items"`

	Approval *ApprovalDTO `json:"approval,omitempty"`

	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
	UpdatedBy string `json:"updated_by"`
	UpdatedAt string `json:"updated_at"`

	Submitted *AuditStampDTO `json:"submitted,omitempty"`
	Reviewed  *AuditStampDTO `json:"reviewed,omitempty"`
	Approved  *AuditStampDTO `json:"approved,omitempty"`
	Escalated *AuditStampDTO `json:"escalated,omitempty"`

	RejectReason     string `json:"reject_reason,omitempty"`
	ReturnReasonCode string `json:"return_reason_code,omitempty"`
	ReturnReason     string `json:"return_reason,omitempty"`

	WasReturned        bool `json:"was_returned"`
	PartiallyFulfilled bool `json:"partially_fulfilled"`

	SupersededBy *string `json:"superseded_by,omitempty"`
	Supersedes   *string `json:"supersedes,omitempty"`

	Version int64 `json:"version"`
}

// RemindResponse reports the reminder outcome.
type RemindResponse struct {
	List                  NeedsListDTO `json:"list"`
	EscalationRecommended bool         `json:"escalation_recommended"`
}

// SourceLineDTO is the fulfillment projection for one line.
type SourceLineDTO struct {
	ItemID         string  `json:"item_id"`
	WarehouseID    string  `json:"warehouse_id"`
	Method         string  `json:"method"`
	TargetQty      float64 `json:"target_qty"`
	CoveredQty     float64 `json:"covered_qty"`
	OutstandingQty float64 `json:"outstanding_qty"`
	Covered        bool    `json:"covered"`
}

// EventDTO is a relief event.
type EventDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phase string `json:"phase"`
}

// WarehouseDTO is a warehouse.
type WarehouseDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Parish string `json:"parish"`
}

// ScenarioDTO describes one demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// DOMAIN TO DTO MAPPING
// =============================================================================

func toAllocationDTO(a engine.HorizonAllocation) AllocationDTO {
	return AllocationDTO{
		Transfer:     nullDecimalFloat(a.Transfer),
		Donation:     nullDecimalFloat(a.Donation),
		Procurement:  nullDecimalFloat(a.Procurement),
		UncoveredQty: decimalFloat(a.UncoveredQty),
		Primary:      string(a.Primary),
	}
}

func toGapLineDTO(g engine.GapLine) GapLineDTO {
	dto := GapLineDTO{
		ItemID:                string(g.ItemID),
		WarehouseID:           string(g.WarehouseID),
		RequiredQty:           decimalFloat(g.RequiredQty),
		GapQty:                decimalFloat(g.GapQty),
		TimeToStockoutDisplay: g.TimeToStockout.String(),
		Freshness:             string(g.Freshness),
		IsEstimated:           g.IsEstimated,
		Severity:              string(g.Severity),
	}
	if !g.TimeToStockout.NoDemand {
		h := decimalFloat(g.TimeToStockout.Hours)
		dto.TimeToStockoutHours = &h
	}
	return dto
}

func toApprovalDTO(a engine.ApprovalSummary) ApprovalDTO {
	dto := ApprovalDTO{
		Tier:               int(a.Tier),
		ApproverRole:       string(a.ApproverRole),
		Warnings:           a.Warnings,
		EscalationRequired: a.EscalationRequired,
	}
	if dto.Warnings == nil {
		dto.Warnings = []engine.Warning{}
	}
	dto.MethodsAllowed = make([]string, 0, len(a.MethodsAllowed))
	for _, m := range a.MethodsAllowed {
		dto.MethodsAllowed = append(dto.MethodsAllowed, string(m))
	}
	return dto
}

func toPreviewResponse(p *needslist.Preview) PreviewResponse {
	resp := PreviewResponse{
		EventID:         string(p.EventID),
		Phase:           string(p.Phase),
		Lines:           make([]PreviewLineDTO, 0, len(p.Lines)),
		Warnings:        p.Warnings,
		ApprovalPreview: toApprovalDTO(p.ApprovalPreview),
	}
	if resp.Warnings == nil {
		resp.Warnings = []engine.Warning{}
	}
	for _, line := range p.Lines {
		dto := PreviewLineDTO{
			GapLineDTO: toGapLineDTO(line.Line),
			Allocation: toAllocationDTO(line.Allocation),
			Warnings:   line.Warnings,
		}
		if dto.Warnings == nil {
			dto.Warnings = []engine.Warning{}
		}
		if line.EstimatedCost != nil {
			dto.EstimatedCost = &CostDTO{
				UnitCost:  decimalFloat(line.EstimatedCost.UnitCost),
				TotalCost: decimalFloat(line.EstimatedCost.TotalCost),
			}
		}
		resp.Lines = append(resp.Lines, dto)
	}
	return resp
}

func toNeedsListDTO(l *needslist.NeedsList) NeedsListDTO {
	dto := NeedsListDTO{
		ID:                 string(l.ID),
		EventID:            string(l.EventID),
		Phase:              string(l.Phase),
		Status:             string(l.Status),
		Method:             string(l.Method),
		CreatedBy:          string(l.CreatedBy),
		CreatedAt:          l.CreatedAt.Format(time.RFC3339),
		UpdatedBy:          string(l.UpdatedBy),
		UpdatedAt:          l.UpdatedAt.Format(time.RFC3339),
		RejectReason:       l.RejectReason,
		ReturnReasonCode:   string(l.ReturnReasonCode),
		ReturnReason:       l.ReturnReason,
		WasReturned:        l.WasReturned,
		PartiallyFulfilled: l.PartiallyFulfilled,
		Version:            l.Version,
	}

	dto.WarehouseIDs = make([]string, 0, len(l.WarehouseIDs))
	for _, w := range l.WarehouseIDs {
		dto.WarehouseIDs = append(dto.WarehouseIDs, string(w))
	}

	dto.Items = make([]ItemDTO, 0, len(l.Items))
	for _, it := range l.Items {
		item := ItemDTO{
			ItemID:      string(it.ItemID),
			WarehouseID: string(it.WarehouseID),
			RequiredQty: decimalFloat(it.RequiredQty),
			GapQty:      decimalFloat(it.GapQty),
			Severity:    string(it.Severity),
			Freshness:   string(it.Freshness),
			Allocation:  toAllocationDTO(it.Allocation),
			TargetQty:   decimalFloat(it.TargetQty(l.Method)),
			CoveredQty:  decimalFloat(it.CoveredQty),
		}
		if it.Override != nil {
			item.Override = &OverrideDTO{
				ItemID:      string(it.ItemID),
				WarehouseID: string(it.WarehouseID),
				Qty:         decimalFloat(it.Override.Qty),
				Reason:      it.Override.Reason,
			}
		}
		dto.Items = append(dto.Items, item)
	}

	if l.Approval != nil {
		a := toApprovalDTO(*l.Approval)
		dto.Approval = &a
	}
	dto.Submitted = toStampDTO(l.Submitted)
	dto.Reviewed = toStampDTO(l.Reviewed)
	dto.Approved = toStampDTO(l.Approved)
	dto.Escalated = toStampDTO(l.Escalated)

	if l.SupersededBy != nil {
		s := string(*l.SupersededBy)
		dto.SupersededBy = &s
	}
	if l.Supersedes != nil {
		s := string(*l.Supersedes)
		dto.Supersedes = &s
	}
	return dto
}

func toStampDTO(s *needslist.AuditStamp) *AuditStampDTO {
	if s == nil {
		return nil
	}
	return &AuditStampDTO{By: string(s.By), At: s.At.Format(time.RFC3339)}
}

func toSourceLineDTOs(lines []needslist.SourceLine) []SourceLineDTO {
	dtos := make([]SourceLineDTO, 0, len(lines))
	for _, l := range lines {
		dtos = append(dtos, SourceLineDTO{
			ItemID:         string(l.Key.ItemID),
			WarehouseID:    string(l.Key.WarehouseID),
			Method:         string(l.Method),
			TargetQty:      decimalFloat(l.TargetQty),
			CoveredQty:     decimalFloat(l.CoveredQty),
			OutstandingQty: decimalFloat(l.OutstandingQty),
			Covered:        l.Covered,
		})
	}
	return dtos
}

func decimalFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func nullDecimalFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := decimalFloat(d.Decimal)
	return &f
}
