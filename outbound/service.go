package outbound

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wms-engine/lifecycle"
)

// =============================================================================
// OPTIONS AND POLICY
// =============================================================================

type PickingMethod string

const (
	PickSingle PickingMethod = "SINGLE_PICK"
	PickBatch  PickingMethod = "BATCH_PICK"
	PickZone   PickingMethod = "ZONE_PICK"
)

func (m PickingMethod) Valid() bool {
	return m == PickSingle || m == PickBatch || m == PickZone
}

// Request attribute keys.
const (
	AttrOrderID           = "order_id"
	AttrOMSOrderID        = "oms_order_id"
	AttrCustomerID        = "customer_id"
	AttrCustomerName      = "customer_name"
	AttrShippingAddress   = "shipping_address"
	AttrPhone             = "phone"
	AttrRequiredDelivery  = "required_delivery"
	AttrPickingMethod     = "picking_method"
	AttrStagingArea       = "staging_area"
	AttrCarrier           = "carrier"
	AttrCarrierService    = "carrier_service"
	AttrWaybillNumber     = "waybill_number"
	AttrEstimatedDelivery = "estimated_delivery"

	itemAttrBarcode = "barcode"
)

// Record types.
const (
	RecordPickInstruction lifecycle.RecordType = "PICK_INSTRUCTION"
	RecordPickStarted     lifecycle.RecordType = "PICK_STARTED"
	RecordPickCompleted   lifecycle.RecordType = "PICK_COMPLETED"
	RecordInspection      lifecycle.RecordType = "INSPECTION"
	RecordPacking         lifecycle.RecordType = "PACKING"
	RecordShipment        lifecycle.RecordType = "SHIPMENT"
)

// Policy holds carrier transit times.
type Policy struct {
	// ServiceDays maps a carrier service to days until delivery.
	ServiceDays map[string]int
	// DefaultServiceDays applies to services missing from ServiceDays.
	DefaultServiceDays int
}

func DefaultPolicy() Policy {
	return Policy{
		ServiceDays:        map[string]int{"EXPRESS": 1, "STANDARD": 2},
		DefaultServiceDays: 3,
	}
}

// DeliveryDays returns the transit time for a carrier service.
func (p Policy) DeliveryDays(service string) int {
	if d, ok := p.ServiceDays[service]; ok {
		return d
	}
	if p.DefaultServiceDays > 0 {
		return p.DefaultServiceDays
	}
	return DefaultPolicy().DefaultServiceDays
}

type Customer struct {
	ID              string
	Name            string
	ShippingAddress string
	Phone           string
}

// Line is one ordered item.
type Line struct {
	ID        lifecycle.ItemID
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Barcode   string
}

// CreateOptions lists every input of a new order. Zero values take the
// defaults: Priority NORMAL, PickingMethod SINGLE_PICK.
type CreateOptions struct {
	ID               lifecycle.RequestID
	OrderID          string
	OMSOrderID       string
	Priority         lifecycle.Priority
	PickingMethod    PickingMethod
	Customer         Customer
	RequiredDelivery time.Time
	Lines            []Line
}

// TotalAmount is the order value.
func TotalAmount(agg *lifecycle.Aggregate) decimal.Decimal {
	total := decimal.Zero
	for _, it := range agg.Items {
		total = total.Add(it.TotalPrice())
	}
	return total
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	flow   *lifecycle.Workflow
	policy Policy
	engine lifecycle.AllocationEngine
}

func NewService(flow *lifecycle.Workflow, policy Policy) *Service {
	if policy.ServiceDays == nil {
		policy.ServiceDays = DefaultPolicy().ServiceDays
	}
	return &Service{flow: flow, policy: policy}
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Create builds and stores an order in REQUEST_CREATED.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*lifecycle.Aggregate, error) {
	if opts.PickingMethod == "" {
		opts.PickingMethod = PickSingle
	}
	if !opts.PickingMethod.Valid() {
		return nil, &lifecycle.ValidationError{Field: "picking_method", Message: "unknown picking method " + string(opts.PickingMethod)}
	}

	items := make([]lifecycle.Item, 0, len(opts.Lines))
	for _, l := range opts.Lines {
		it := lifecycle.Item{
			ID:                l.ID,
			SKU:               l.SKU,
			Name:              l.Name,
			RequestedQuantity: l.Quantity,
			UnitPrice:         l.UnitPrice,
		}
		if l.Barcode != "" {
			it.Attributes = map[string]string{itemAttrBarcode: l.Barcode}
		}
		items = append(items, it)
	}

	attrs := map[string]string{
		AttrOrderID:         opts.OrderID,
		AttrOMSOrderID:      opts.OMSOrderID,
		AttrCustomerID:      opts.Customer.ID,
		AttrCustomerName:    opts.Customer.Name,
		AttrShippingAddress: opts.Customer.ShippingAddress,
		AttrPhone:           opts.Customer.Phone,
		AttrPickingMethod:   string(opts.PickingMethod),
	}
	if !opts.RequiredDelivery.IsZero() {
		attrs[AttrRequiredDelivery] = opts.RequiredDelivery.UTC().Format(time.RFC3339Nano)
	}

	agg, err := lifecycle.NewAggregate(lifecycle.KindOutbound, lifecycle.CreateOptions{
		ID:         opts.ID,
		Priority:   opts.Priority,
		Items:      items,
		Attributes: attrs,
	}, s.flow.Clock(), s.flow.IDs())
	if err != nil {
		return nil, err
	}
	return s.flow.Create(ctx, agg)
}

func (s *Service) Get(ctx context.Context, id lifecycle.RequestID) (*lifecycle.Aggregate, error) {
	return s.flow.Get(ctx, id)
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocate reserves stock from src. A full allocation moves the order to
// INVENTORY_ALLOCATED. Any PARTIAL or SHORT item sends it to
// INVENTORY_SHORTAGE with INVENTORY_INSUFFICIENT; whatever could be drawn is
// still recorded.
func (s *Service) Allocate(ctx context.Context, id lifecycle.RequestID, src lifecycle.SupplySource, actor string) (*lifecycle.Aggregate, lifecycle.AllocationResult, error) {
	cur, err := s.flow.Get(ctx, id)
	if err != nil {
		return nil, lifecycle.AllocationResult{}, err
	}
	supply, err := lifecycle.LoadSupply(ctx, src, cur.Items)
	if err != nil {
		return nil, lifecycle.AllocationResult{}, fmt.Errorf("failed to load supply for %s: %w", id, err)
	}

	var result lifecycle.AllocationResult
	agg, err := s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if err := ts.Permitted(cur, StatusInventoryAllocated, actor); err != nil {
			return nil, err
		}
		result = s.engine.AllocateItems(cur.Items, supply)

		next := cur.Clone()
		next.Allocations = result.Records
		for _, rec := range result.Records {
			allocated := rec.AllocatedQuantity
			_ = next.UpdateItem(rec.ItemID, func(it *lifecycle.Item) { it.AllocatedQuantity = allocated })
		}

		if result.HasShortage() {
			next.AddException(ExceptionInventoryInsufficient)
			short := 0
			for _, rec := range result.Records {
				if rec.Shortfall() > 0 {
					short++
				}
			}
			return ts.Transition(next, StatusInventoryShortage, actor, fmt.Sprintf("%d items short", short))
		}
		return ts.Transition(next, StatusInventoryAllocated, actor, "")
	})
	if err != nil {
		return nil, lifecycle.AllocationResult{}, err
	}
	return agg, result, nil
}

// RetryAllocation releases a failed allocation and returns the order to
// REQUEST_CREATED so Allocate can run again.
func (s *Service) RetryAllocation(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		if err := s.flow.Transitions.Permitted(cur, StatusRequestCreated, actor); err != nil {
			return nil, err
		}
		next := cur.Clone()
		next.Allocations = nil
		for i := range next.Items {
			next.Items[i].AllocatedQuantity = 0
		}
		return s.flow.Transitions.Transition(next, StatusRequestCreated, actor, "allocation retry")
	})
}

// =============================================================================
// PICKING
// =============================================================================

// Instruction is a pick task decoded from its record.
type Instruction struct {
	ID       string
	ItemID   lifecycle.ItemID
	Quantity int
	From     string
	Staging  string
	Method   PickingMethod
	Lines    []PickLine
	Started  bool
	Done     bool
}

// PickLine is the share of an instruction that belongs to one item.
type PickLine struct {
	ItemID   lifecycle.ItemID
	Quantity int
}

// CreatePickingInstructions turns the allocation into pick tasks and moves
// the order to PICKING_WAITING. SINGLE_PICK makes one task per allocation
// source; BATCH_PICK and ZONE_PICK make one task per zone. An empty method
// uses the one chosen at creation.
func (s *Service) CreatePickingInstructions(ctx context.Context, id lifecycle.RequestID, method PickingMethod, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if err := ts.Permitted(cur, StatusPickingWaiting, actor); err != nil {
			return nil, err
		}
		if method == "" {
			method = PickingMethod(cur.Attribute(AttrPickingMethod))
		}
		if !method.Valid() {
			return nil, &lifecycle.ValidationError{Field: "picking_method", Message: "unknown picking method " + string(method)}
		}

		staging := "STAGING-" + string(cur.ID)
		next := cur.Clone()
		next.SetAttribute(AttrPickingMethod, string(method))
		next.SetAttribute(AttrStagingArea, staging)
		now := ts.Clock.Now()
		for _, ins := range buildInstructions(cur.Allocations, method) {
			ins.ID = ts.IDs.NewID("PIN")
			ins.Staging = staging
			next.AppendRecord(ins.record(actor, now))
		}
		return ts.Transition(next, StatusPickingWaiting, actor, string(method))
	})
}

func buildInstructions(allocs []lifecycle.AllocationRecord, method PickingMethod) []Instruction {
	var out []Instruction
	if method == PickSingle {
		for _, rec := range allocs {
			for _, src := range rec.Sources {
				out = append(out, Instruction{
					ItemID:   rec.ItemID,
					Quantity: src.Quantity,
					From:     src.Location,
					Method:   method,
					Lines:    []PickLine{{ItemID: rec.ItemID, Quantity: src.Quantity}},
				})
			}
		}
		return out
	}

	index := map[string]int{}
	for _, rec := range allocs {
		for _, src := range rec.Sources {
			zone := src.Zone
			if zone == "" {
				zone = "DEFAULT"
			}
			i, ok := index[zone]
			if !ok {
				i = len(out)
				index[zone] = i
				out = append(out, Instruction{ItemID: rec.ItemID, From: zone, Method: method})
			}
			out[i].Quantity += src.Quantity
			out[i].Lines = append(out[i].Lines, PickLine{ItemID: rec.ItemID, Quantity: src.Quantity})
		}
	}
	return out
}

func (ins Instruction) record(actor string, at time.Time) lifecycle.ActionRecord {
	return lifecycle.ActionRecord{
		ID:       ins.ID,
		Type:     RecordPickInstruction,
		ItemID:   ins.ItemID,
		Ref:      ins.ID,
		Quantity: ins.Quantity,
		Actor:    actor,
		Data: map[string]string{
			"from":    ins.From,
			"staging": ins.Staging,
			"method":  string(ins.Method),
			"lines":   encodeLines(ins.Lines),
		},
		RecordedAt: at,
	}
}

func encodeLines(lines []PickLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = fmt.Sprintf("%s:%d", l.ItemID, l.Quantity)
	}
	return strings.Join(parts, ",")
}

func decodeLines(s string) []PickLine {
	if s == "" {
		return nil
	}
	var out []PickLine
	for _, part := range strings.Split(s, ",") {
		i := strings.LastIndex(part, ":")
		if i < 0 {
			continue
		}
		qty, err := strconv.Atoi(part[i+1:])
		if err != nil {
			continue
		}
		out = append(out, PickLine{ItemID: lifecycle.ItemID(part[:i]), Quantity: qty})
	}
	return out
}

// Instructions returns the pick tasks of an order with their progress.
func Instructions(agg *lifecycle.Aggregate) []Instruction {
	var out []Instruction
	for _, r := range agg.RecordsOf(RecordPickInstruction) {
		out = append(out, Instruction{
			ID:       r.Ref,
			ItemID:   r.ItemID,
			Quantity: r.Quantity,
			From:     r.Data["from"],
			Staging:  r.Data["staging"],
			Method:   PickingMethod(r.Data["method"]),
			Lines:    decodeLines(r.Data["lines"]),
			Started:  agg.HasRecord(RecordPickStarted, r.ItemID, r.Ref),
			Done:     agg.HasRecord(RecordPickCompleted, r.ItemID, r.Ref),
		})
	}
	return out
}

func findInstruction(agg *lifecycle.Aggregate, instructionID string) (Instruction, error) {
	for _, ins := range Instructions(agg) {
		if ins.ID == instructionID {
			return ins, nil
		}
	}
	return Instruction{}, &lifecycle.ValidationError{Field: "instruction_id", Message: "unknown pick instruction " + instructionID}
}

// StartPicking assigns a pick task to a worker. The first start moves the
// order to PICKING_IN_PROGRESS.
func (s *Service) StartPicking(ctx context.Context, id lifecycle.RequestID, instructionID, actor, worker string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if cur.Status != StatusPickingWaiting && cur.Status != StatusPickingInProgress {
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusPickingInProgress, Terminal: cur.IsTerminal()}
		}
		ins, err := findInstruction(cur, instructionID)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		next.AppendRecord(lifecycle.ActionRecord{
			ID:         ts.IDs.NewID("PKS"),
			Type:       RecordPickStarted,
			ItemID:     ins.ItemID,
			Ref:        ins.ID,
			Actor:      actor,
			Data:       map[string]string{"assigned_to": worker},
			RecordedAt: ts.Clock.Now(),
		})
		if next.Status == StatusPickingWaiting {
			return ts.Transition(next, StatusPickingInProgress, actor, "")
		}
		return next, nil
	})
}

// ScanBarcode checks a scan against the item's barcode, or in.Expected when
// set. A mismatch tags the order but never changes its status.
func (s *Service) ScanBarcode(ctx context.Context, id lifecycle.RequestID, in lifecycle.ScanInput) (*lifecycle.Aggregate, lifecycle.BarcodeResult, error) {
	var result lifecycle.BarcodeResult
	agg, err := s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		if in.Expected == "" {
			item, err := cur.Item(in.ItemID)
			if err != nil {
				return nil, err
			}
			in.Expected = item.Attribute(itemAttrBarcode)
		}
		next, r, err := lifecycle.ApplyBarcodeScan(cur, in, s.flow.IDs(), s.flow.Clock().Now())
		result = r
		return next, err
	})
	return agg, result, err
}

// CompletePicking records the picked quantity for a task. Completing a task
// twice is a no-op. A short pick raises SHORT_PICK. Once every task is done
// the order moves to PICKING_COMPLETED.
func (s *Service) CompletePicking(ctx context.Context, id lifecycle.RequestID, instructionID string, picked int, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if cur.Status != StatusPickingInProgress {
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusPickingCompleted, Terminal: cur.IsTerminal()}
		}
		ins, err := findInstruction(cur, instructionID)
		if err != nil {
			return nil, err
		}
		if ins.Done {
			return cur, nil
		}
		if picked < 0 || picked > ins.Quantity {
			return nil, &lifecycle.ValidationError{Field: "picked", Message: fmt.Sprintf("must be between 0 and %d", ins.Quantity)}
		}

		next := cur.Clone()
		remaining := picked
		for _, line := range ins.Lines {
			take := min(remaining, line.Quantity)
			remaining -= take
			if err := next.UpdateItem(line.ItemID, func(it *lifecycle.Item) { it.ProcessedQuantity += take }); err != nil {
				return nil, err
			}
		}
		if picked < ins.Quantity {
			next.AddException(ExceptionShortPick)
		}
		next.AppendRecord(lifecycle.ActionRecord{
			ID:         ts.IDs.NewID("PKC"),
			Type:       RecordPickCompleted,
			ItemID:     ins.ItemID,
			Ref:        ins.ID,
			Quantity:   picked,
			Actor:      actor,
			RecordedAt: ts.Clock.Now(),
		})

		for _, other := range Instructions(next) {
			if !other.Done {
				return next, nil
			}
		}
		return ts.Transition(next, StatusPickingCompleted, actor, "")
	})
}

// =============================================================================
// INSPECTION
// =============================================================================

type Finding struct {
	ItemID lifecycle.ItemID
	Result lifecycle.InspectionResult
	Note   string
}

// Inspect records a verdict per item. Any FAIL tags PRODUCT_DAMAGED and
// holds the order; otherwise it moves to INSPECTION_COMPLETED.
func (s *Service) Inspect(ctx context.Context, id lifecycle.RequestID, findings []Finding, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if cur.Status != StatusPickingCompleted {
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusInspectionCompleted, Terminal: cur.IsTerminal()}
		}
		byItem := make(map[lifecycle.ItemID]Finding, len(findings))
		for i, f := range findings {
			if _, err := cur.Item(f.ItemID); err != nil {
				return nil, err
			}
			if f.Result != lifecycle.InspectionPass && f.Result != lifecycle.InspectionFail {
				return nil, &lifecycle.ValidationError{Field: fmt.Sprintf("findings[%d].result", i), Message: "must be PASS or FAIL"}
			}
			byItem[f.ItemID] = f
		}
		if len(byItem) != len(cur.Items) {
			return nil, &lifecycle.ValidationError{Field: "findings", Message: "every item must be inspected"}
		}

		now := ts.Clock.Now()
		round := fmt.Sprintf("round-%d", len(cur.EventsTo(StatusInspectionHold))+1)
		next := cur.Clone()
		failed := 0
		for _, it := range cur.Items {
			f := byItem[it.ID]
			_ = next.UpdateItem(it.ID, func(item *lifecycle.Item) {
				item.InspectionResult = f.Result
				if f.Result == lifecycle.InspectionPass {
					item.InspectedQuantity = item.ProcessedQuantity
				} else {
					item.InspectedQuantity = 0
				}
			})
			next.AppendRecord(lifecycle.ActionRecord{
				ID:         ts.IDs.NewID("INS"),
				Type:       RecordInspection,
				ItemID:     it.ID,
				Ref:        round,
				Quantity:   it.ProcessedQuantity,
				Actor:      actor,
				Data:       map[string]string{"result": string(f.Result), "note": f.Note},
				RecordedAt: now,
			})
			if f.Result == lifecycle.InspectionFail {
				failed++
			}
		}
		if failed > 0 {
			next.AddException(ExceptionProductDamaged)
			return ts.Transition(next, StatusInspectionHold, actor, fmt.Sprintf("%d items failed inspection", failed))
		}
		return ts.Transition(next, StatusInspectionCompleted, actor, "")
	})
}

// Repick returns a held order to picking. Items that failed inspection get
// fresh pick tasks from their first allocated location and are picked again.
func (s *Service) Repick(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if err := ts.Permitted(cur, StatusPickingInProgress, actor); err != nil {
			return nil, err
		}
		now := ts.Clock.Now()
		next := cur.Clone()
		for _, rec := range cur.Allocations {
			it, err := cur.Item(rec.ItemID)
			if err != nil {
				return nil, err
			}
			if it.InspectionResult != lifecycle.InspectionFail {
				continue
			}
			ins := Instruction{
				ID:       ts.IDs.NewID("PIN"),
				ItemID:   rec.ItemID,
				Quantity: rec.AllocatedQuantity,
				From:     rec.SourceLocation(),
				Staging:  cur.Attribute(AttrStagingArea),
				Method:   PickSingle,
				Lines:    []PickLine{{ItemID: rec.ItemID, Quantity: rec.AllocatedQuantity}},
			}
			next.AppendRecord(ins.record(actor, now))
			_ = next.UpdateItem(rec.ItemID, func(item *lifecycle.Item) {
				item.ProcessedQuantity = 0
				item.InspectedQuantity = 0
				item.InspectionResult = ""
			})
		}
		return ts.Transition(next, StatusPickingInProgress, actor, "repick after inspection hold")
	})
}

// =============================================================================
// PACKING AND SHIPPING
// =============================================================================

func (s *Service) StartPacking(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Transition(ctx, id, StatusPackingInProgress, actor, "")
}

// Waybill is the shipping label issued when packing completes.
type Waybill struct {
	Number            string
	Carrier           string
	Service           string
	EstimatedDelivery time.Time
}

// CompletePacking packs every inspected unit, issues the waybill and moves
// the order to PACKING_COMPLETED.
func (s *Service) CompletePacking(ctx context.Context, id lifecycle.RequestID, carrier, service, actor string) (*lifecycle.Aggregate, Waybill, error) {
	if strings.TrimSpace(carrier) == "" {
		return nil, Waybill{}, &lifecycle.ValidationError{Field: "carrier", Message: "carrier is required"}
	}
	var wb Waybill
	agg, err := s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if err := ts.Permitted(cur, StatusPackingCompleted, actor); err != nil {
			return nil, err
		}
		now := ts.Clock.Now()
		wb = Waybill{
			Number:            ts.IDs.NewID(strings.ToUpper(carrier)),
			Carrier:           carrier,
			Service:           service,
			EstimatedDelivery: now.AddDate(0, 0, s.policy.DeliveryDays(service)),
		}

		next := cur.Clone()
		packed := 0
		for i := range next.Items {
			next.Items[i].PackedQuantity = next.Items[i].InspectedQuantity
			packed += next.Items[i].PackedQuantity
		}
		next.SetAttribute(AttrCarrier, carrier)
		next.SetAttribute(AttrCarrierService, service)
		next.SetAttribute(AttrWaybillNumber, wb.Number)
		next.SetAttribute(AttrEstimatedDelivery, wb.EstimatedDelivery.Format(time.RFC3339Nano))
		next.AppendRecord(lifecycle.ActionRecord{
			ID:         ts.IDs.NewID("PCK"),
			Type:       RecordPacking,
			Ref:        wb.Number,
			Quantity:   packed,
			Actor:      actor,
			Data:       map[string]string{"carrier": carrier, "service": service},
			RecordedAt: now,
		})
		return ts.Transition(next, StatusPackingCompleted, actor, "waybill "+wb.Number)
	})
	if err != nil {
		return nil, Waybill{}, err
	}
	return agg, wb, nil
}

// ConfirmShipment loads the packed units onto the carrier.
func (s *Service) ConfirmShipment(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if err := ts.Permitted(cur, StatusShipmentConfirmed, actor); err != nil {
			return nil, err
		}
		next := cur.Clone()
		cargo := 0
		for i := range next.Items {
			next.Items[i].ShippedQuantity = next.Items[i].PackedQuantity
			cargo += next.Items[i].ShippedQuantity
		}
		next.AppendRecord(lifecycle.ActionRecord{
			ID:         ts.IDs.NewID("SHC"),
			Type:       RecordShipment,
			Ref:        cur.Attribute(AttrWaybillNumber),
			Quantity:   cargo,
			Actor:      actor,
			RecordedAt: ts.Clock.Now(),
		})
		return ts.Transition(next, StatusShipmentConfirmed, actor, "")
	})
}

// Complete closes the order. Notifiers on the workflow tell the OMS.
func (s *Service) Complete(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Transition(ctx, id, StatusCompleted, actor, "")
}
