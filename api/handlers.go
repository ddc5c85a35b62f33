/*
handlers.go - HTTP API handlers for the replenishment engine

PURPOSE:
  Exposes the replenishment decision engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Preview:
    POST   /api/events/{eventID}/preview       Derive gaps and allocations

  Needs lists:
    POST   /api/needs-lists                    Create draft (idempotent)
    GET    /api/needs-lists                    List with filters
    GET    /api/needs-lists/{id}               Get one list
    GET    /api/needs-lists/{id}/fulfillment-sources
    POST   /api/needs-lists/{id}/submit        Workflow transitions
    POST   /api/needs-lists/{id}/review
    POST   /api/needs-lists/{id}/approve
    POST   /api/needs-lists/{id}/reject
    POST   /api/needs-lists/{id}/return
    POST   /api/needs-lists/{id}/escalate
    POST   /api/needs-lists/{id}/remind
    POST   /api/needs-lists/{id}/overrides
    POST   /api/needs-lists/{id}/execution
    POST   /api/needs-lists/{id}/cancel

  Reference:
    GET    /api/events                         List relief events
    GET    /api/warehouses                     List warehouses

  Scenarios:
    GET    /api/scenarios                      List demo scenarios
    POST   /api/scenarios/load                 Load a demo scenario

ACTOR IDENTIFICATION:
  The acting user arrives in the X-Actor-ID header. There is no
  authentication layer here; an upstream gateway owns identity, this
  service owns authorization (permission and role checks per transition).

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (stale version, duplicate scope, state transition)
  - 500: Internal errors
  Stale-version responses carry the actual version; duplicate-scope
  responses carry the conflicting list IDs.

CACHING:
  The preview endpoint is the dashboard hot path and caches responses with
  a TTL chosen by the worst freshness state in the result. Every mutating
  transition invalidates the whole preview cache.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/reliefops/replenish-engine/engine"
	"github.com/reliefops/replenish-engine/needslist"
	"github.com/reliefops/replenish-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *needslist.Service
	Store    *sqlite.Store
	Validate *validator.Validate
	Log      logrus.FieldLogger

	previews *engine.Cache[PreviewResponse]

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given service and store.
func NewHandler(service *needslist.Service, store *sqlite.Store, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Service:  service,
		Store:    store,
		Validate: validator.New(),
		Log:      log,
		previews: engine.NewCache[PreviewResponse](engine.DefaultPreviewTTL()),
	}
}

// actorID extracts the acting user from the request.
func actorID(r *http.Request) engine.ActorID {
	return engine.ActorID(r.Header.Get("X-Actor-ID"))
}

// decodeAndValidate parses the JSON body and runs struct validation.
func (h *Handler) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return h.Validate.Struct(dst)
}

// =============================================================================
// PREVIEW
// =============================================================================

// PreviewGaps derives gaps and allocations for an event scope.
// POST /api/events/{eventID}/preview
func (h *Handler) PreviewGaps(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "eventID"))

	var req PreviewRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid preview request", err)
		return
	}
	phase, err := engine.ParsePhase(req.Phase)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid phase", err)
		return
	}

	warehouses := make([]engine.WarehouseID, 0, len(req.WarehouseIDs))
	for _, id := range req.WarehouseIDs {
		warehouses = append(warehouses, engine.WarehouseID(id))
	}
	items := make([]engine.ItemID, 0, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		items = append(items, engine.ItemID(id))
	}

	key := previewKey(eventID, req)
	resp, err := h.previews.Get(key, func() (PreviewResponse, engine.Freshness, error) {
		preview, err := h.Service.PreviewGaps(r.Context(), eventID, warehouses, phase, items)
		if err != nil {
			return PreviewResponse{}, engine.FreshnessUnknown, err
		}
		return toPreviewResponse(preview), worstFreshness(preview), nil
	})
	if err != nil {
		writeDomainError(w, "Failed to compute preview", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// previewKey builds a deterministic cache key for a preview scope.
func previewKey(eventID engine.EventID, req PreviewRequest) string {
	warehouses := append([]string(nil), req.WarehouseIDs...)
	sort.Strings(warehouses)
	items := append([]string(nil), req.ItemIDs...)
	sort.Strings(items)
	return fmt.Sprintf("%s|%s|%s|%s",
		eventID, req.Phase, strings.Join(warehouses, ","), strings.Join(items, ","))
}

// worstFreshness picks the least trustworthy freshness in a preview so the
// cache expires stale-driven responses fastest.
func worstFreshness(p *needslist.Preview) engine.Freshness {
	worst := engine.FreshnessFresh
	rank := map[engine.Freshness]int{
		engine.FreshnessFresh:   0,
		engine.FreshnessWarn:    1,
		engine.FreshnessStale:   2,
		engine.FreshnessUnknown: 3,
	}
	for _, line := range p.Lines {
		if rank[line.Line.Freshness] > rank[worst] {
			worst = line.Line.Freshness
		}
	}
	return worst
}

// =============================================================================
// NEEDS LIST CRUD
// =============================================================================

// CreateNeedsList creates a draft from current derived gaps.
// POST /api/needs-lists
func (h *Handler) CreateNeedsList(w http.ResponseWriter, r *http.Request) {
	var req CreateNeedsListRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid needs list request", err)
		return
	}
	phase, err := engine.ParsePhase(req.Phase)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid phase", err)
		return
	}
	method, err := engine.ParseHorizon(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fulfillment method", err)
		return
	}

	keys := make([]engine.ItemKey, 0, len(req.Items))
	for _, it := range req.Items {
		keys = append(keys, engine.ItemKey{
			ItemID:      engine.ItemID(it.ItemID),
			WarehouseID: engine.WarehouseID(it.WarehouseID),
		})
	}

	list, err := h.Service.CreateDraft(r.Context(), actorID(r), needslist.DraftRequest{
		EventID:     engine.EventID(req.EventID),
		WarehouseID: engine.WarehouseID(req.WarehouseID),
		Phase:       phase,
		Keys:        keys,
		Method:      method,
		Supersede:   req.Supersede,
	})
	if err != nil {
		writeDomainError(w, "Failed to create needs list", err)
		return
	}

	h.previews.InvalidateAll()
	writeJSON(w, http.StatusCreated, toNeedsListDTO(list))
}

// GetNeedsList returns one list.
// GET /api/needs-lists/{id}
func (h *Handler) GetNeedsList(w http.ResponseWriter, r *http.Request) {
	id := needslist.ID(chi.URLParam(r, "id"))

	list, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get needs list", err)
		return
	}
	writeJSON(w, http.StatusOK, toNeedsListDTO(list))
}

// ListNeedsLists returns lists matching query filters.
// GET /api/needs-lists?event=&warehouse=&phase=&status=&created_by=&active=
func (h *Handler) ListNeedsLists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := needslist.Filter{
		EventID:         engine.EventID(q.Get("event")),
		WarehouseID:     engine.WarehouseID(q.Get("warehouse")),
		Phase:           engine.Phase(q.Get("phase")),
		Status:          needslist.Status(q.Get("status")),
		CreatedBy:       engine.ActorID(q.Get("created_by")),
		NonTerminalOnly: q.Get("active") == "true",
	}

	lists, err := h.Service.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list needs lists", err)
		return
	}

	dtos := make([]NeedsListDTO, 0, len(lists))
	for _, l := range lists {
		dtos = append(dtos, toNeedsListDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetFulfillmentSources returns the per-line execution projection.
// GET /api/needs-lists/{id}/fulfillment-sources
func (h *Handler) GetFulfillmentSources(w http.ResponseWriter, r *http.Request) {
	id := needslist.ID(chi.URLParam(r, "id"))

	lines, err := h.Service.FulfillmentSources(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get fulfillment sources", err)
		return
	}
	writeJSON(w, http.StatusOK, toSourceLineDTOs(lines))
}

// =============================================================================
// WORKFLOW TRANSITIONS
// =============================================================================

// transition wraps the common shape of the versioned transition handlers.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, message string,
	fn func(id needslist.ID, actor engine.ActorID, version int64) (*needslist.NeedsList, error)) {

	id := needslist.ID(chi.URLParam(r, "id"))

	var req VersionedRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	list, err := fn(id, actorID(r), req.Version)
	if err != nil {
		writeDomainError(w, message, err)
		return
	}

	h.previews.InvalidateAll()
	writeJSON(w, http.StatusOK, toNeedsListDTO(list))
}

// SubmitNeedsList moves a draft into the review pipeline.
// POST /api/needs-lists/{id}/submit
func (h *Handler) SubmitNeedsList(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to submit", func(id needslist.ID, actor engine.ActorID, version int64) (*needslist.NeedsList, error) {
		return h.Service.Submit(r.Context(), actor, id, version)
	})
}

// StartReview claims a submitted list for review.
// POST /api/needs-lists/{id}/review
func (h *Handler) StartReview(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to start review", func(id needslist.ID, actor engine.ActorID, version int64) (*needslist.NeedsList, error) {
		return h.Service.StartReview(r.Context(), actor, id, version)
	})
}

// ApproveNeedsList approves a pending list.
// POST /api/needs-lists/{id}/approve
func (h *Handler) ApproveNeedsList(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to approve", func(id needslist.ID, actor engine.ActorID, version int64) (*needslist.NeedsList, error) {
		return h.Service.Approve(r.Context(), actor, id, version)
	})
}

// RejectNeedsList rejects a pending list with a reason.
// POST /api/needs-lists/{id}/reject
func (h *Handler) RejectNeedsList(w http.ResponseWriter, r *http.Request) {
	id := needslist.ID(chi.URLParam(r, "id"))

	var req RejectRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reject request", err)
		return
	}

	list, err := h.Service.Reject(r.Context(), actorID(r), id, req.Version, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject", err)
		return
	}

	h.previews.InvalidateAll()
	writeJSON(w, http.StatusOK, toNeedsListDTO(list))
}

// ReturnNeedsList sends a pending list back for rework.
// POST /api/needs-lists/{id}/return
func (h *Handler) ReturnNeedsList(w http.ResponseWriter, r *http.Request) {
	id := needslist.ID(chi.URLParam(r, "id"))

	var req ReturnRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid return request", err)
		return
	}

	list, err := h.Service.Return(r.Context(), actorID(r), id, req.Version,
		needslist.ReturnReason(req.ReasonCode), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to return", err)
		return
	}

	h.previews.InvalidateAll()
	writeJSON(w, http.StatusOK, toNeedsListDTO(list))
}

// EscalateNeedsList raises the effective approval tier.
// POST /api/needs-lists/{id}/escalate
func (h *Handler) EscalateNeedsList(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to escalate", func(id needslist.ID, actor engine.ActorID, version int64) (*needslist.NeedsList, error) {
		return h.Service.Escalate(r.Context(), actor, id, version)
	})
}

// RemindNeedsList nudges a pending list and reports whether the pending
// duration warrants escalation.
// POST /api/needs-lists/{id}/remind
func (h *Handler) RemindNeedsList(w http.ResponseWriter, r *http.Request) {
	id := needslist.ID(chi.URLParam(r, "id"))

	var req VersionedRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	list, recommended, err := h.Service.Remind(r.Context(), actorID(r), id, req.Version)
	if err != nil {
		writeDomainError(w, "Failed to remind", err)
		return
	}

	h.previews.InvalidateAll()
	writeJSON(w, http.StatusOK, RemindResponse{
		List:                  toNeedsListDTO(list),
		EscalationRecommended: recommended,
	})
}

// ApplyOverrides edits line quantity overrides on an editable list.
// POST /api/needs-lists/{id}/overrides
func (h *Handler) ApplyOverrides(w http.ResponseWriter, r *http.Request) {
	id := needslist.ID(chi.URLParam(r, "id"))

	var req OverridesRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid overrides request", err)
		return
	}

	overrides := make([]needslist.ItemOverride, 0, len(req.Overrides))
	for _, ov := range req.Overrides {
		overrides = append(overrides, needslist.ItemOverride{
			Key: engine.ItemKey{
				ItemID:      engine.ItemID(ov.ItemID),
				WarehouseID: engine.WarehouseID(ov.WarehouseID),
			},
			Qty:    decimal.NewFromFloat(ov.Qty),
			Reason: ov.Reason,
			Clear:  ov.Clear,
		})
	}

	list, err := h.Service.ApplyOverrides(r.Context(), actorID(r), id, req.Version, overrides)
	if err != nil {
		writeDomainError(w, "Failed to apply overrides", err)
		return
	}

	h.previews.InvalidateAll()
	writeJSON(w, http.StatusOK, toNeedsListDTO(list))
}

// RecordExecution applies downstream fulfillment progress.
// POST /api/needs-lists/{id}/execution
func (h *Handler) RecordExecution(w http.ResponseWriter, r *http.Request) {
	id := needslist.ID(chi.URLParam(r, "id"))

	var req ExecutionRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid execution request", err)
		return
	}

	signals := make([]needslist.ExecutionSignal, 0, len(req.Signals))
	for _, sig := range req.Signals {
		signals = append(signals, needslist.ExecutionSignal{
			Key: engine.ItemKey{
				ItemID:      engine.ItemID(sig.ItemID),
				WarehouseID: engine.WarehouseID(sig.WarehouseID),
			},
			CoveredQty: decimal.NewFromFloat(sig.CoveredQty),
		})
	}

	list, err := h.Service.RecordExecution(r.Context(), actorID(r), id, req.Version, signals)
	if err != nil {
		writeDomainError(w, "Failed to record execution", err)
		return
	}

	h.previews.InvalidateAll()
	writeJSON(w, http.StatusOK, toNeedsListDTO(list))
}

// CancelNeedsList cancels a list at any non-terminal point.
// POST /api/needs-lists/{id}/cancel
func (h *Handler) CancelNeedsList(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to cancel", func(id needslist.ID, actor engine.ActorID, version int64) (*needslist.NeedsList, error) {
		return h.Service.Cancel(r.Context(), actor, id, version)
	})
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// ListEvents returns all relief events.
// GET /api/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	dtos := make([]EventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, EventDTO{ID: string(e.ID), Name: e.Name, Phase: string(e.Phase)})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListWarehouses returns all warehouses.
// GET /api/warehouses
func (h *Handler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.Store.ListWarehouses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list warehouses", err)
		return
	}

	dtos := make([]WarehouseDTO, 0, len(warehouses))
	for _, wh := range warehouses {
		dtos = append(dtos, WarehouseDTO{ID: string(wh.ID), Name: wh.Name, Parish: wh.Parish})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP statuses and enriches
// conflict responses with retry context.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var stale *needslist.StaleVersionError
	if errors.As(err, &stale) {
		actual := stale.Actual
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:         message,
			Details:       err.Error(),
			ActualVersion: &actual,
		})
		return
	}

	var dup *needslist.DuplicateScopeConflict
	if errors.As(err, &dup) {
		ids := make([]string, 0, len(dup.ConflictingIDs))
		for _, id := range dup.ConflictingIDs {
			ids = append(ids, string(id))
		}
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:          message,
			Details:        err.Error(),
			ConflictingIDs: ids,
		})
		return
	}

	switch {
	case errors.Is(err, needslist.ErrNotFound):
		writeError(w, http.StatusNotFound, "Needs list not found", err)
	case errors.Is(err, needslist.ErrStateTransition):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, engine.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
