/*
handlers.go - HTTP API handlers for the WMS lifecycle engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the domain services.

ENDPOINTS:
  Requests:
    GET    /api/{kind}/requests                         List (status, created_after, created_before, limit)
    POST   /api/{kind}/requests                         Create (body per kind)
    GET    /api/requests/{id}                           Get one aggregate
    GET    /api/requests/{id}/events                    Transition log
    POST   /api/requests/{id}/transitions               Raw graph transition

  Domain actions:
    POST   /api/{kind}/requests/{id}/allocate           Outbound allocation from the supply source
    POST   /api/{kind}/requests/{id}/scan               Barcode scan (inbound, outbound)
    POST   /api/{kind}/requests/{id}/items/{itemID}/grade     Return grading
    POST   /api/{kind}/requests/{id}/items/{itemID}/decision  Rework decision

  Reporting:
    GET    /api/kpi/{kind}?period=DAILY&at=RFC3339      KPI snapshot
    GET    /api/graphs                                  Registered kinds
    GET    /api/graphs/{kind}                           Status graph

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    GET    /api/scenarios/current      Last loaded scenario
    POST   /api/scenarios/load         Load a demo scenario

  {kind} accepts inbound, outbound and returns, or the upper-case kind.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown kind
  - 404: Request or item not found
  - 409: Illegal transition, duplicate id, concurrent modification
  - 422: Policy violation
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Actor names in request bodies are trusted; the
  transition guards only check the role, not who sent it.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/wms-engine/engine"
	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/returns"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Logger *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over eng.
func NewHandler(eng *engine.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: eng, Logger: logger}
}

func (h *Handler) current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setCurrent(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

// =============================================================================
// REQUEST ENDPOINTS
// =============================================================================

// ListRequests returns the requests of one kind.
// GET /api/{kind}/requests
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	kind, err := lifecycle.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	filter := lifecycle.Filter{Kind: kind, Status: lifecycle.Status(r.URL.Query().Get("status"))}

	if filter.CreatedAfter, err = parseTimeParam(r, "created_after"); err != nil {
		writeDomainError(w, err)
		return
	}
	if filter.CreatedBefore, err = parseTimeParam(r, "created_before"); err != nil {
		writeDomainError(w, err)
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	aggs, err := h.Engine.List(r.Context(), filter)
	if err != nil {
		h.internal(w, "list requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(aggs))
}

// CreateRequest creates a request of the kind in the path.
// POST /api/{kind}/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, err := lifecycle.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var agg *lifecycle.Aggregate
	switch kind {
	case lifecycle.KindInbound:
		var req CreateInboundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		agg, err = h.Engine.Inbound.Create(ctx, req.options())

	case lifecycle.KindOutbound:
		var req CreateOutboundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		opts, convErr := req.options()
		if convErr != nil {
			writeDomainError(w, convErr)
			return
		}
		agg, err = h.Engine.Outbound.Create(ctx, opts)

	case lifecycle.KindReturn:
		var req CreateReturnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		opts, convErr := req.options()
		if convErr != nil {
			writeDomainError(w, convErr)
			return
		}
		agg, err = h.Engine.Returns.Create(ctx, opts)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(agg))
}

// GetRequest returns one aggregate.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	agg, err := h.Engine.Get(r.Context(), lifecycle.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(agg))
}

// GetEvents returns the transition log in sequence order.
// GET /api/requests/{id}/events
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	agg, err := h.Engine.Get(r.Context(), lifecycle.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(agg.Events))
}

// PostTransition applies a raw status change.
// POST /api/requests/{id}/transitions
func (h *Handler) PostTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.To == "" || req.Actor == "" {
		writeError(w, http.StatusBadRequest, "to and actor are required", nil)
		return
	}
	agg, err := h.Engine.Transition(r.Context(), lifecycle.RequestID(chi.URLParam(r, "id")), lifecycle.Status(req.To), req.Actor, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(agg))
}

// =============================================================================
// DOMAIN ACTION ENDPOINTS
// =============================================================================

// Allocate reserves stock for an outbound order.
// POST /api/{kind}/requests/{id}/allocate
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	if !h.requireKind(w, r, lifecycle.KindOutbound) {
		return
	}
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	agg, result, err := h.Engine.Allocate(r.Context(), lifecycle.RequestID(chi.URLParam(r, "id")), req.Actor)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AllocationResultDTO{
		Request:        toRequestDTO(agg),
		Records:        toAllocationDTOs(result.Records),
		Shortage:       result.HasShortage(),
		TotalAllocated: result.TotalAllocated(),
	})
}

// Scan checks a barcode against an item.
// POST /api/{kind}/requests/{id}/scan
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	kind, err := lifecycle.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in := lifecycle.ScanInput{
		ItemID:   lifecycle.ItemID(req.ItemID),
		Scanned:  req.Scanned,
		Expected: req.Expected,
		Location: req.Location,
		Actor:    req.Actor,
	}
	id := lifecycle.RequestID(chi.URLParam(r, "id"))

	var (
		agg    *lifecycle.Aggregate
		result lifecycle.BarcodeResult
	)
	switch kind {
	case lifecycle.KindInbound:
		agg, result, err = h.Engine.Inbound.ScanBarcode(r.Context(), id, in)
	case lifecycle.KindOutbound:
		agg, result, err = h.Engine.Outbound.ScanBarcode(r.Context(), id, in)
	default:
		writeError(w, http.StatusBadRequest, "Scanning applies to inbound and outbound requests", nil)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ScanResultDTO{Result: string(result), Request: toRequestDTO(agg)})
}

// GradeItem records the inspection grade of a returned item.
// POST /api/{kind}/requests/{id}/items/{itemID}/grade
func (h *Handler) GradeItem(w http.ResponseWriter, r *http.Request) {
	if !h.requireKind(w, r, lifecycle.KindReturn) {
		return
	}
	var req GradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	agg, err := h.Engine.Returns.Grade(r.Context(),
		lifecycle.RequestID(chi.URLParam(r, "id")),
		lifecycle.ItemID(chi.URLParam(r, "itemID")),
		lifecycle.Grade(req.Grade), req.Reason, req.Actor)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(agg))
}

// DecideItem records the rework decision for a graded item.
// POST /api/{kind}/requests/{id}/items/{itemID}/decision
func (h *Handler) DecideItem(w http.ResponseWriter, r *http.Request) {
	if !h.requireKind(w, r, lifecycle.KindReturn) {
		return
	}
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	agg, err := h.Engine.Returns.MakeReworkDecision(r.Context(),
		lifecycle.RequestID(chi.URLParam(r, "id")),
		lifecycle.ItemID(chi.URLParam(r, "itemID")),
		returns.Decision(req.Decision), req.Actor, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(agg))
}

// =============================================================================
// REPORTING ENDPOINTS
// =============================================================================

// GetKPI computes a snapshot for the period containing now, or ?at=.
// GET /api/kpi/{kind}
func (h *Handler) GetKPI(w http.ResponseWriter, r *http.Request) {
	kind, err := lifecycle.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	period, err := lifecycle.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	at, err := parseTimeParam(r, "at")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if at.IsZero() {
		at = h.Engine.Clock().Now()
	}

	snap, err := h.Engine.SnapshotAt(r.Context(), kind, period, at)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toKPIDTO(snap))
}

// ListGraphs returns the registered kinds.
// GET /api/graphs
func (h *Handler) ListGraphs(w http.ResponseWriter, r *http.Request) {
	kinds := lifecycle.ListKinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetGraph returns one status graph.
// GET /api/graphs/{kind}
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	kind, err := lifecycle.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	g, ok := lifecycle.LookupGraph(kind)
	if !ok {
		writeDomainError(w, lifecycle.ErrUnknownKind)
		return
	}
	writeJSON(w, http.StatusOK, toGraphDTO(g))
}

// =============================================================================
// HELPERS
// =============================================================================

// requireKind rejects action routes mounted under the wrong kind.
func (h *Handler) requireKind(w http.ResponseWriter, r *http.Request, want lifecycle.Kind) bool {
	kind, err := lifecycle.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return false
	}
	if kind != want {
		writeError(w, http.StatusNotFound, "Action not available for "+string(kind), nil)
		return false
	}
	return true
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &lifecycle.ValidationError{Field: name, Message: "must be RFC3339"}
	}
	return t, nil
}

// fail writes err with its mapped status and logs server errors.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		h.internal(w, "request failed", err)
		return
	}
	writeDomainError(w, err)
}

func (h *Handler) internal(w http.ResponseWriter, msg string, err error) {
	h.Logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal error", err)
}

// statusFor maps lifecycle error categories to HTTP status codes.
func statusFor(err error) int {
	switch {
	case lifecycle.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, lifecycle.ErrAlreadyExists),
		errors.Is(err, lifecycle.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrPolicyViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lifecycle.ErrValidation), errors.Is(err, lifecycle.ErrUnknownKind):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	switch {
	case lifecycle.IsNotFound(err):
		return "NOT_FOUND"
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return "ILLEGAL_TRANSITION"
	case errors.Is(err, lifecycle.ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, lifecycle.ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	case errors.Is(err, lifecycle.ErrPolicyViolation):
		return "POLICY_VIOLATION"
	case errors.Is(err, lifecycle.ErrValidation):
		return "VALIDATION"
	case errors.Is(err, lifecycle.ErrUnknownKind):
		return "UNKNOWN_KIND"
	}
	return "INTERNAL"
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{
		Error: err.Error(),
		Code:  errorCode(err),
	})
}

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
