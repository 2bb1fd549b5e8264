/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that drive requests through the real
	services so the API, the KPI endpoints and the CLI have data to show.
	Each scenario exercises one flow end to end.

AVAILABLE SCENARIOS:

	inbound-approval:   approval, zone assignment, receiving, inspection to DONE
	inbound-hold:       SLA breach, zone shortage, partial arrival, HOLD
	outbound-happy:     allocation, batch picking, packing, shipping to COMPLETED
	outbound-shortage:  one order parked short, one retried and allocated
	return-restock:     A/B grades restocked and refunded
	return-disposal:    grade C disposed after manager approval

HOW SCENARIOS WORK:
 1. Reset the repository when it supports it (memory store)
 2. Create requests through the domain services
 3. Advance the clock between steps when the engine runs on a ManualClock,
    so duration metrics have values
 4. Return the ids created

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "outbound-happy"}

USAGE FROM GO:

	aggs, err := api.RunScenario(ctx, eng, "return-restock")

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxx(ctx, run)
 3. Register it in scenarioLoaders

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - cmd/wmsctl: scenario and kpi commands
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wms-engine/engine"
	"github.com/warp/wms-engine/inbound"
	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/outbound"
	"github.com/warp/wms-engine/returns"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "inbound-approval",
		Name:        "Inbound With Approval",
		Description: "Supplier delivery approved, zoned, received and inspected",
		Category:    "inbound",
	},
	{
		ID:          "inbound-hold",
		Name:        "Inbound On Hold",
		Description: "Late approval, zone shortage, short delivery and a failed inspection",
		Category:    "inbound",
	},
	{
		ID:          "outbound-happy",
		Name:        "Outbound Fulfilment",
		Description: "Order allocated, batch picked, packed, shipped and completed",
		Category:    "outbound",
	},
	{
		ID:          "outbound-shortage",
		Name:        "Outbound Shortage",
		Description: "Insufficient stock, then a retried allocation",
		Category:    "outbound",
	},
	{
		ID:          "return-restock",
		Name:        "Return To Stock",
		Description: "Grade A and B items restocked and refunded",
		Category:    "returns",
	},
	{
		ID:          "return-disposal",
		Name:        "Return Disposal",
		Description: "Grade C item disposed after manager approval",
		Category:    "returns",
	},
}

// Scenarios returns the catalog of demo scenarios.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

type scenarioRun struct {
	eng   *engine.Engine
	clock *lifecycle.ManualClock
	ids   []lifecycle.RequestID
}

func (r *scenarioRun) advance(d time.Duration) {
	if r.clock != nil {
		r.clock.Advance(d)
	}
}

func (r *scenarioRun) created(agg *lifecycle.Aggregate) *lifecycle.Aggregate {
	r.ids = append(r.ids, agg.ID)
	return agg
}

type scenarioLoader func(ctx context.Context, run *scenarioRun) error

var scenarioLoaders = map[string]scenarioLoader{
	"inbound-approval":  loadInboundApproval,
	"inbound-hold":      loadInboundHold,
	"outbound-happy":    loadOutboundHappy,
	"outbound-shortage": loadOutboundShortage,
	"return-restock":    loadReturnRestock,
	"return-disposal":   loadReturnDisposal,
}

// RunScenario executes scenario id against eng and returns the requests it
// created, in their final state.
func RunScenario(ctx context.Context, eng *engine.Engine, id string) ([]*lifecycle.Aggregate, error) {
	load, ok := scenarioLoaders[id]
	if !ok {
		return nil, &lifecycle.ValidationError{Field: "scenario_id", Message: "unknown scenario " + id}
	}
	run := &scenarioRun{eng: eng}
	run.clock, _ = eng.Clock().(*lifecycle.ManualClock)

	if err := load(ctx, run); err != nil {
		return nil, err
	}
	out := make([]*lifecycle.Aggregate, 0, len(run.ids))
	for _, rid := range run.ids {
		agg, err := eng.Get(ctx, rid)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.current()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := scenarioLoaders[req.ScenarioID]; !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if resetter, ok := h.Engine.Flow.Repo.(interface{ Reset() }); ok {
		resetter.Reset()
	}
	aggs, err := RunScenario(r.Context(), h.Engine, req.ScenarioID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.setCurrent(req.ScenarioID)

	writeJSON(w, http.StatusOK, ScenarioResultDTO{
		Status:   "loaded",
		Scenario: req.ScenarioID,
		Requests: toRequestDTOs(aggs),
	})
}

// =============================================================================
// INBOUND SCENARIOS
// =============================================================================

func inboundLines() []inbound.Line {
	return []inbound.Line{
		{ID: "line-1", SKU: "SKU-CUP", Name: "Paper cup 12oz", Unit: "BOX", Quantity: 60},
		{ID: "line-2", SKU: "SKU-LID", Name: "Cup lid", Unit: "BOX", Quantity: 40},
	}
}

func loadInboundApproval(ctx context.Context, run *scenarioRun) error {
	svc := run.eng.Inbound
	agg, err := svc.Create(ctx, inbound.CreateOptions{ShipperID: "SHP-100", ShipperName: "Hanil Paper", Lines: inboundLines()})
	if err != nil {
		return err
	}
	id := run.created(agg).ID

	if _, err := svc.Submit(ctx, id, inbound.ActorSystem); err != nil {
		return err
	}
	run.advance(30 * time.Minute)
	if _, err := svc.Approve(ctx, id, inbound.ActorManager); err != nil {
		return err
	}
	if _, err := svc.AssignZone(ctx, id, inbound.ZoneRequest{Zone: "A", ZoneName: "Ambient", AvailableCapacity: 500, Actor: inbound.ActorManager}); err != nil {
		return err
	}
	run.advance(2 * time.Hour)
	if _, err := svc.Receive(ctx, id, []inbound.Receipt{{ItemID: "line-1", Quantity: 60}, {ItemID: "line-2", Quantity: 40}}, inbound.ActorWorker); err != nil {
		return err
	}
	run.advance(time.Hour)
	_, err = svc.Inspect(ctx, id, []inbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionPass},
		{ItemID: "line-2", Result: lifecycle.InspectionPass},
	}, inbound.ActorInspector)
	return err
}

func loadInboundHold(ctx context.Context, run *scenarioRun) error {
	svc := run.eng.Inbound
	agg, err := svc.Create(ctx, inbound.CreateOptions{ShipperID: "SHP-200", ShipperName: "Daesung Foods", Lines: inboundLines()})
	if err != nil {
		return err
	}
	id := run.created(agg).ID

	if _, err := svc.Submit(ctx, id, inbound.ActorSystem); err != nil {
		return err
	}
	run.advance(90 * time.Minute)
	if _, err := svc.FlagApprovalDelays(ctx); err != nil {
		return err
	}
	if _, err := svc.Approve(ctx, id, inbound.ActorManager); err != nil {
		return err
	}
	if _, err := svc.AssignZone(ctx, id, inbound.ZoneRequest{Zone: "B", ZoneName: "Cold", AvailableCapacity: 20, Actor: inbound.ActorManager}); err != nil {
		return err
	}
	run.advance(30 * time.Minute)
	if _, err := svc.AssignZone(ctx, id, inbound.ZoneRequest{Zone: "C", ZoneName: "Overflow", AvailableCapacity: 300, Actor: inbound.ActorManager}); err != nil {
		return err
	}
	if _, err := svc.Receive(ctx, id, []inbound.Receipt{{ItemID: "line-1", Quantity: 55}, {ItemID: "line-2", Quantity: 40}}, inbound.ActorWorker); err != nil {
		return err
	}
	_, err = svc.Inspect(ctx, id, []inbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionFail, Note: "wet cartons"},
		{ItemID: "line-2", Result: lifecycle.InspectionPass},
	}, inbound.ActorInspector)
	return err
}

// =============================================================================
// OUTBOUND SCENARIOS
// =============================================================================

func outboundLines() []outbound.Line {
	return []outbound.Line{
		{ID: "line-1", SKU: "SKU-MUG", Name: "Stoneware mug", Quantity: 5, UnitPrice: decimal.RequireFromString("10.00"), Barcode: "880001"},
		{ID: "line-2", SKU: "SKU-LID", Name: "Silicone lid", Quantity: 3, UnitPrice: decimal.RequireFromString("2.50"), Barcode: "880002"},
	}
}

func outboundSupply() lifecycle.StaticSupply {
	return lifecycle.StaticSupply{
		"SKU-MUG": {{Location: "A-01-01", Zone: "A", Quantity: 3}, {Location: "B-02-04", Zone: "B", Quantity: 10}},
		"SKU-LID": {{Location: "A-03-02", Zone: "A", Quantity: 8}},
	}
}

func loadOutboundHappy(ctx context.Context, run *scenarioRun) error {
	svc := run.eng.Outbound
	agg, err := svc.Create(ctx, outbound.CreateOptions{
		OrderID:       "ORD-1001",
		PickingMethod: outbound.PickBatch,
		Customer:      outbound.Customer{ID: "C-77", Name: "Minji Park", ShippingAddress: "12 Teheran-ro, Seoul"},
		Lines:         outboundLines(),
	})
	if err != nil {
		return err
	}
	id := run.created(agg).ID

	if _, _, err := svc.Allocate(ctx, id, outboundSupply(), outbound.ActorSystem); err != nil {
		return err
	}
	agg, err = svc.CreatePickingInstructions(ctx, id, "", outbound.ActorSystem)
	if err != nil {
		return err
	}
	for _, ins := range outbound.Instructions(agg) {
		if _, err := svc.StartPicking(ctx, id, ins.ID, outbound.ActorPicker, "worker-7"); err != nil {
			return err
		}
	}
	run.advance(25 * time.Minute)
	for _, ins := range outbound.Instructions(agg) {
		if _, err := svc.CompletePicking(ctx, id, ins.ID, ins.Quantity, outbound.ActorPicker); err != nil {
			return err
		}
	}
	run.advance(10 * time.Minute)
	if _, err := svc.Inspect(ctx, id, []outbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionPass},
		{ItemID: "line-2", Result: lifecycle.InspectionPass},
	}, outbound.ActorInspector); err != nil {
		return err
	}
	if _, err := svc.StartPacking(ctx, id, outbound.ActorPacker); err != nil {
		return err
	}
	run.advance(15 * time.Minute)
	if _, _, err := svc.CompletePacking(ctx, id, "cj", "EXPRESS", outbound.ActorPacker); err != nil {
		return err
	}
	if _, err := svc.ConfirmShipment(ctx, id, outbound.ActorShipper); err != nil {
		return err
	}
	_, err = svc.Complete(ctx, id, outbound.ActorOMS)
	return err
}

func loadOutboundShortage(ctx context.Context, run *scenarioRun) error {
	svc := run.eng.Outbound
	short := lifecycle.StaticSupply{"SKU-MUG": {{Location: "A-01-01", Zone: "A", Quantity: 4}}}
	lines := []outbound.Line{{ID: "line-1", SKU: "SKU-MUG", Name: "Stoneware mug", Quantity: 10, UnitPrice: decimal.RequireFromString("10.00")}}

	parked, err := svc.Create(ctx, outbound.CreateOptions{OrderID: "ORD-2001", Lines: lines})
	if err != nil {
		return err
	}
	run.created(parked)
	if _, _, err := svc.Allocate(ctx, parked.ID, short, outbound.ActorSystem); err != nil {
		return err
	}

	retried, err := svc.Create(ctx, outbound.CreateOptions{OrderID: "ORD-2002", Priority: lifecycle.PriorityHigh, Lines: lines})
	if err != nil {
		return err
	}
	run.created(retried)
	if _, _, err := svc.Allocate(ctx, retried.ID, short, outbound.ActorSystem); err != nil {
		return err
	}
	run.advance(time.Hour)
	if _, err := svc.RetryAllocation(ctx, retried.ID, outbound.ActorOMS); err != nil {
		return err
	}
	replenished := lifecycle.StaticSupply{"SKU-MUG": {{Location: "A-01-01", Zone: "A", Quantity: 4}, {Location: "C-09-01", Zone: "C", Quantity: 20}}}
	_, _, err = svc.Allocate(ctx, retried.ID, replenished, outbound.ActorSystem)
	return err
}

// =============================================================================
// RETURN SCENARIOS
// =============================================================================

// receiveReturn creates a return and walks it up to INSPECTION_IN_PROGRESS.
func receiveReturn(ctx context.Context, run *scenarioRun, orderID string, lines []returns.Line) (lifecycle.RequestID, error) {
	svc := run.eng.Returns
	agg, err := svc.Create(ctx, returns.CreateOptions{
		OrderID:     orderID,
		Customer:    returns.Customer{ID: "C-77", Name: "Minji Park"},
		PurchasedAt: run.eng.Clock().Now().AddDate(0, 0, -5),
		Lines:       lines,
	})
	if err != nil {
		return "", err
	}
	id := run.created(agg).ID

	if _, err := svc.Approve(ctx, id, returns.ActorCustomerService); err != nil {
		return "", err
	}
	if _, err := svc.ExpectInbound(ctx, id, "TRK-"+orderID, returns.ActorCustomerService); err != nil {
		return "", err
	}
	run.advance(time.Hour)
	if _, err := svc.ReceiveInbound(ctx, id, returns.Receipt{Zone: "RZ-1", Condition: "BOXED", Actor: returns.ActorInboundStaff}); err != nil {
		return "", err
	}
	if _, err := svc.StartInspection(ctx, id, returns.ActorInspector); err != nil {
		return "", err
	}
	return id, nil
}

func loadReturnRestock(ctx context.Context, run *scenarioRun) error {
	svc := run.eng.Returns
	id, err := receiveReturn(ctx, run, "ORD-3001", []returns.Line{
		{ID: "line-1", SKU: "SKU-MUG", Name: "Stoneware mug", Quantity: 1, OriginalPrice: decimal.RequireFromString("50.00"), Reason: returns.ReasonChangeOfMind},
		{ID: "line-2", SKU: "SKU-LID", Name: "Silicone lid", Quantity: 2, OriginalPrice: decimal.RequireFromString("20.00"), Reason: returns.ReasonWrongItem},
	})
	if err != nil {
		return err
	}

	if _, err := svc.Grade(ctx, id, "line-1", lifecycle.GradeA, "", returns.ActorInspector); err != nil {
		return err
	}
	if _, err := svc.Grade(ctx, id, "line-2", lifecycle.GradeB, "opened", returns.ActorInspector); err != nil {
		return err
	}
	for _, item := range []lifecycle.ItemID{"line-1", "line-2"} {
		if _, err := svc.MakeReworkDecision(ctx, id, item, returns.DecisionRestocking, returns.ActorReturnManager, ""); err != nil {
			return err
		}
	}
	run.advance(2 * time.Hour)
	if _, err := svc.ExecuteRestocking(ctx, id, "line-1", "A-01-01", returns.ActorRestockingStaff); err != nil {
		return err
	}
	if _, err := svc.ExecuteRestocking(ctx, id, "line-2", "A-03-02", returns.ActorRestockingStaff); err != nil {
		return err
	}
	if _, _, err := svc.ProcessRefund(ctx, id, returns.RefundOriginalPayment, returns.ActorCustomerService); err != nil {
		return err
	}
	_, err = svc.Complete(ctx, id, returns.ActorOMS)
	return err
}

func loadReturnDisposal(ctx context.Context, run *scenarioRun) error {
	svc := run.eng.Returns
	id, err := receiveReturn(ctx, run, "ORD-3002", []returns.Line{
		{ID: "line-1", SKU: "SKU-TOASTER", Name: "2-slot toaster", Quantity: 1, OriginalPrice: decimal.RequireFromString("30.00"), Reason: returns.ReasonProductDefect},
	})
	if err != nil {
		return err
	}

	if _, err := svc.Grade(ctx, id, "line-1", lifecycle.GradeC, "burnt element", returns.ActorInspector); err != nil {
		return err
	}
	if _, err := svc.MakeReworkDecision(ctx, id, "line-1", returns.DecisionDisposal, returns.ActorReturnManager, "unsafe"); err != nil {
		return err
	}
	if _, err := svc.RequestDisposalApproval(ctx, id, returns.ActorDisposalStaff, ""); err != nil {
		return err
	}
	run.advance(4 * time.Hour)
	if _, err := svc.ApproveDisposal(ctx, id, "line-1", returns.ActorWarehouseManager, "unsafe"); err != nil {
		return err
	}
	if _, err := svc.ExecuteDisposal(ctx, id, "line-1", returns.DisposalRecycling, returns.ActorDisposalStaff); err != nil {
		return err
	}
	if _, _, err := svc.ProcessRefund(ctx, id, "", returns.ActorCustomerService); err != nil {
		return err
	}
	_, err = svc.Complete(ctx, id, returns.ActorOMS)
	return err
}
