/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the lifecycle aggregate from the external API contract, allowing:
  - snake_case field names for clients
  - decimal amounts rendered as strings
  - per-kind create bodies over one generic aggregate

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Requests:
    RequestDTO, ItemDTO, AllocationDTO, RecordDTO, EventDTO
    CreateInboundRequest, CreateOutboundRequest, CreateReturnRequest

  Actions:
    TransitionRequest, AllocateRequest, ScanRequest, GradeRequest, DecisionRequest

  Reporting:
    KPIDTO, GraphDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest, ScenarioResultDTO

VALIDATION:
  Validation is done by the domain services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - lifecycle/types.go: Aggregate
*/
package api

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wms-engine/inbound"
	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/outbound"
	"github.com/warp/wms-engine/returns"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RequestDTO represents a request aggregate in API responses.
type RequestDTO struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Status      string            `json:"status"`
	Priority    string            `json:"priority"`
	Terminal    bool              `json:"terminal"`
	Items       []ItemDTO         `json:"items"`
	Exceptions  []string          `json:"exceptions"`
	Allocations []AllocationDTO   `json:"allocations,omitempty"`
	Records     []RecordDTO       `json:"records,omitempty"`
	Stamps      map[string]string `json:"stamps,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	EventCount  int               `json:"event_count"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
	Version     int               `json:"version"`
}

type ItemDTO struct {
	ID                string            `json:"id"`
	SKU               string            `json:"sku"`
	Name              string            `json:"name,omitempty"`
	Unit              string            `json:"unit,omitempty"`
	RequestedQuantity int               `json:"requested_quantity"`
	AllocatedQuantity int               `json:"allocated_quantity"`
	ProcessedQuantity int               `json:"processed_quantity"`
	InspectedQuantity int               `json:"inspected_quantity"`
	PackedQuantity    int               `json:"packed_quantity"`
	ShippedQuantity   int               `json:"shipped_quantity"`
	Grade             string            `json:"grade,omitempty"`
	GradeReason       string            `json:"grade_reason,omitempty"`
	InspectionResult  string            `json:"inspection_result,omitempty"`
	UnitPrice         string            `json:"unit_price"`
	RefundAmount      string            `json:"refund_amount,omitempty"`
	Attributes        map[string]string `json:"attributes,omitempty"`
}

type AllocationDTO struct {
	ItemID            string      `json:"item_id"`
	SKU               string      `json:"sku"`
	RequestedQuantity int         `json:"requested_quantity"`
	AllocatedQuantity int         `json:"allocated_quantity"`
	Status            string      `json:"status"`
	Sources           []SourceDTO `json:"sources"`
}

type SourceDTO struct {
	Location string `json:"location"`
	Zone     string `json:"zone"`
	Quantity int    `json:"quantity"`
}

// RecordDTO is one idempotent action record.
type RecordDTO struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	ItemID     string            `json:"item_id,omitempty"`
	Ref        string            `json:"ref,omitempty"`
	Quantity   int               `json:"quantity,omitempty"`
	Amount     string            `json:"amount,omitempty"`
	Actor      string            `json:"actor"`
	Data       map[string]string `json:"data,omitempty"`
	RecordedAt string            `json:"recorded_at"`
}

// EventDTO is one entry of the append-only transition log.
type EventDTO struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	Sequence  int    `json:"sequence"`
	From      string `json:"from"`
	To        string `json:"to"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// KPIDTO is a computed snapshot. Metric values are decimal strings.
type KPIDTO struct {
	Kind        string            `json:"kind"`
	Period      string            `json:"period"`
	WindowStart string            `json:"window_start"`
	WindowEnd   string            `json:"window_end"`
	ComputedAt  string            `json:"computed_at"`
	Metrics     map[string]string `json:"metrics"`
}

// GraphDTO describes a registered status graph.
type GraphDTO struct {
	Kind       string              `json:"kind"`
	Initial    string              `json:"initial"`
	Completion string              `json:"completion,omitempty"`
	Terminal   []string            `json:"terminal"`
	Edges      map[string][]string `json:"edges"`
	Retry      []EdgeDTO           `json:"retry,omitempty"`
}

type EdgeDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// AllocationResultDTO is returned by the allocate endpoint.
type AllocationResultDTO struct {
	Request        RequestDTO      `json:"request"`
	Records        []AllocationDTO `json:"records"`
	Shortage       bool            `json:"shortage"`
	TotalAllocated int             `json:"total_allocated"`
}

type ScanResultDTO struct {
	Result  string     `json:"result"`
	Request RequestDTO `json:"request"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "inbound", "outbound" or "returns"
}

// ScenarioResultDTO is returned after a scenario load.
type ScenarioResultDTO struct {
	Status   string       `json:"status"`
	Scenario string       `json:"scenario"`
	Requests []RequestDTO `json:"requests"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// LineRequest is one line of a create body. Each kind reads the fields it
// understands.
type LineRequest struct {
	ID              string `json:"id"`
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	Unit            string `json:"unit,omitempty"`
	Quantity        int    `json:"quantity"`
	UnitPrice       string `json:"unit_price,omitempty"`
	Barcode         string `json:"barcode,omitempty"`
	SpecialHandling bool   `json:"special_handling,omitempty"`
	Reason          string `json:"reason,omitempty"`
	FinalSale       bool   `json:"final_sale,omitempty"`
}

type CustomerRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type CreateInboundRequest struct {
	ID               string        `json:"id,omitempty"`
	ShipperID        string        `json:"shipper_id"`
	ShipperName      string        `json:"shipper_name"`
	Priority         string        `json:"priority,omitempty"`
	InboundType      string        `json:"inbound_type,omitempty"`
	RequiresApproval *bool         `json:"requires_approval,omitempty"`
	ExpectedArrival  *time.Time    `json:"expected_arrival,omitempty"`
	Lines            []LineRequest `json:"lines"`
}

type CreateOutboundRequest struct {
	ID               string          `json:"id,omitempty"`
	OrderID          string          `json:"order_id"`
	OMSOrderID       string          `json:"oms_order_id,omitempty"`
	Priority         string          `json:"priority,omitempty"`
	PickingMethod    string          `json:"picking_method,omitempty"`
	Customer         CustomerRequest `json:"customer"`
	RequiredDelivery *time.Time      `json:"required_delivery,omitempty"`
	Lines            []LineRequest   `json:"lines"`
}

type CreateReturnRequest struct {
	ID          string          `json:"id,omitempty"`
	OrderID     string          `json:"order_id"`
	OMSOrderID  string          `json:"oms_order_id,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	Customer    CustomerRequest `json:"customer"`
	PurchasedAt *time.Time      `json:"purchased_at,omitempty"`
	Lines       []LineRequest   `json:"lines"`
}

// TransitionRequest asks for a raw graph transition.
type TransitionRequest struct {
	To     string `json:"to"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

type AllocateRequest struct {
	Actor string `json:"actor"`
}

type GradeRequest struct {
	Grade  string `json:"grade"`
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor"`
}

type DecisionRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
	Actor    string `json:"actor"`
}

type ScanRequest struct {
	ItemID   string `json:"item_id"`
	Scanned  string `json:"scanned"`
	Expected string `json:"expected,omitempty"`
	Location string `json:"location,omitempty"`
	Actor    string `json:"actor"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.StringFixed(2)
}

func toRequestDTO(agg *lifecycle.Aggregate) RequestDTO {
	dto := RequestDTO{
		ID:          string(agg.ID),
		Kind:        string(agg.Kind),
		Status:      string(agg.Status),
		Priority:    string(agg.Priority),
		Terminal:    agg.IsTerminal(),
		Items:       make([]ItemDTO, 0, len(agg.Items)),
		Exceptions:  make([]string, 0, len(agg.Exceptions)),
		Allocations: toAllocationDTOs(agg.Allocations),
		Attributes:  agg.Attributes,
		EventCount:  len(agg.Events),
		CreatedAt:   formatTime(agg.CreatedAt),
		UpdatedAt:   formatTime(agg.UpdatedAt),
		Version:     agg.Version,
	}
	for _, it := range agg.Items {
		dto.Items = append(dto.Items, ItemDTO{
			ID:                string(it.ID),
			SKU:               it.SKU,
			Name:              it.Name,
			Unit:              it.Unit,
			RequestedQuantity: it.RequestedQuantity,
			AllocatedQuantity: it.AllocatedQuantity,
			ProcessedQuantity: it.ProcessedQuantity,
			InspectedQuantity: it.InspectedQuantity,
			PackedQuantity:    it.PackedQuantity,
			ShippedQuantity:   it.ShippedQuantity,
			Grade:             string(it.Grade),
			GradeReason:       it.GradeReason,
			InspectionResult:  string(it.InspectionResult),
			UnitPrice:         it.UnitPrice.StringFixed(2),
			RefundAmount:      formatAmount(it.RefundAmount),
			Attributes:        it.Attributes,
		})
	}
	for _, tag := range agg.Exceptions {
		dto.Exceptions = append(dto.Exceptions, string(tag))
	}
	for _, rec := range agg.Records {
		dto.Records = append(dto.Records, RecordDTO{
			ID:         rec.ID,
			Type:       string(rec.Type),
			ItemID:     string(rec.ItemID),
			Ref:        rec.Ref,
			Quantity:   rec.Quantity,
			Amount:     formatAmount(rec.Amount),
			Actor:      rec.Actor,
			Data:       rec.Data,
			RecordedAt: formatTime(rec.RecordedAt),
		})
	}
	if len(agg.Stamps) > 0 {
		dto.Stamps = make(map[string]string, len(agg.Stamps))
		for k, v := range agg.Stamps {
			dto.Stamps[k] = formatTime(v)
		}
	}
	return dto
}

func toRequestDTOs(aggs []*lifecycle.Aggregate) []RequestDTO {
	dtos := make([]RequestDTO, len(aggs))
	for i, agg := range aggs {
		dtos[i] = toRequestDTO(agg)
	}
	return dtos
}

func toAllocationDTOs(recs []lifecycle.AllocationRecord) []AllocationDTO {
	if len(recs) == 0 {
		return nil
	}
	dtos := make([]AllocationDTO, len(recs))
	for i, rec := range recs {
		srcs := make([]SourceDTO, len(rec.Sources))
		for j, s := range rec.Sources {
			srcs[j] = SourceDTO{Location: s.Location, Zone: s.Zone, Quantity: s.Quantity}
		}
		dtos[i] = AllocationDTO{
			ItemID:            string(rec.ItemID),
			SKU:               rec.SKU,
			RequestedQuantity: rec.RequestedQuantity,
			AllocatedQuantity: rec.AllocatedQuantity,
			Status:            string(rec.Status),
			Sources:           srcs,
		}
	}
	return dtos
}

func toEventDTOs(events []lifecycle.Event) []EventDTO {
	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = EventDTO{
			ID:        string(ev.ID),
			RequestID: string(ev.RequestID),
			Sequence:  ev.Sequence,
			From:      string(ev.From),
			To:        string(ev.To),
			Actor:     ev.Actor,
			Reason:    ev.Reason,
			Timestamp: formatTime(ev.Timestamp),
		}
	}
	return dtos
}

func toKPIDTO(s lifecycle.KPISnapshot) KPIDTO {
	dto := KPIDTO{
		Kind:        string(s.Kind()),
		Period:      string(s.Period()),
		WindowStart: formatTime(s.Window().Start),
		WindowEnd:   formatTime(s.Window().End),
		ComputedAt:  formatTime(s.ComputedAt()),
		Metrics:     make(map[string]string),
	}
	for name, v := range s.Metrics() {
		dto.Metrics[name] = v.String()
	}
	return dto
}

func toGraphDTO(g *lifecycle.StatusGraph) GraphDTO {
	dto := GraphDTO{
		Kind:       string(g.Kind),
		Initial:    string(g.Initial),
		Completion: string(g.Completion),
		Terminal:   make([]string, 0, len(g.Terminal)),
		Edges:      make(map[string][]string, len(g.Edges)),
	}
	for _, s := range g.Terminal {
		dto.Terminal = append(dto.Terminal, string(s))
	}
	for from, tos := range g.Edges {
		targets := make([]string, len(tos))
		for i, to := range tos {
			targets[i] = string(to)
		}
		sort.Strings(targets)
		dto.Edges[string(from)] = targets
	}
	for _, e := range g.Retry {
		dto.Retry = append(dto.Retry, EdgeDTO{From: string(e.From), To: string(e.To)})
	}
	return dto
}

// =============================================================================
// CREATE BODY CONVERSION
// =============================================================================

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &lifecycle.ValidationError{Field: field, Message: "not a decimal: " + s}
	}
	return d, nil
}

func (req CreateInboundRequest) options() inbound.CreateOptions {
	opts := inbound.CreateOptions{
		ID:               lifecycle.RequestID(req.ID),
		ShipperID:        req.ShipperID,
		ShipperName:      req.ShipperName,
		Priority:         lifecycle.Priority(req.Priority),
		InboundType:      inbound.InboundType(req.InboundType),
		RequiresApproval: req.RequiresApproval,
	}
	if req.ExpectedArrival != nil {
		opts.ExpectedArrival = *req.ExpectedArrival
	}
	for _, l := range req.Lines {
		opts.Lines = append(opts.Lines, inbound.Line{
			ID:              lifecycle.ItemID(l.ID),
			SKU:             l.SKU,
			Name:            l.Name,
			Unit:            l.Unit,
			Quantity:        l.Quantity,
			SpecialHandling: l.SpecialHandling,
		})
	}
	return opts
}

func (req CreateOutboundRequest) options() (outbound.CreateOptions, error) {
	opts := outbound.CreateOptions{
		ID:            lifecycle.RequestID(req.ID),
		OrderID:       req.OrderID,
		OMSOrderID:    req.OMSOrderID,
		Priority:      lifecycle.Priority(req.Priority),
		PickingMethod: outbound.PickingMethod(req.PickingMethod),
		Customer: outbound.Customer{
			ID:              req.Customer.ID,
			Name:            req.Customer.Name,
			ShippingAddress: req.Customer.Address,
			Phone:           req.Customer.Phone,
		},
	}
	if req.RequiredDelivery != nil {
		opts.RequiredDelivery = *req.RequiredDelivery
	}
	for _, l := range req.Lines {
		price, err := parseAmount("lines.unit_price", l.UnitPrice)
		if err != nil {
			return outbound.CreateOptions{}, err
		}
		opts.Lines = append(opts.Lines, outbound.Line{
			ID:        lifecycle.ItemID(l.ID),
			SKU:       l.SKU,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: price,
			Barcode:   l.Barcode,
		})
	}
	return opts, nil
}

func (req CreateReturnRequest) options() (returns.CreateOptions, error) {
	opts := returns.CreateOptions{
		ID:         lifecycle.RequestID(req.ID),
		OrderID:    req.OrderID,
		OMSOrderID: req.OMSOrderID,
		Priority:   lifecycle.Priority(req.Priority),
		Customer: returns.Customer{
			ID:            req.Customer.ID,
			Name:          req.Customer.Name,
			ReturnAddress: req.Customer.Address,
			Phone:         req.Customer.Phone,
		},
	}
	if req.PurchasedAt != nil {
		opts.PurchasedAt = *req.PurchasedAt
	}
	for _, l := range req.Lines {
		price, err := parseAmount("lines.unit_price", l.UnitPrice)
		if err != nil {
			return returns.CreateOptions{}, err
		}
		opts.Lines = append(opts.Lines, returns.Line{
			ID:            lifecycle.ItemID(l.ID),
			SKU:           l.SKU,
			Name:          l.Name,
			Quantity:      l.Quantity,
			OriginalPrice: price,
			Reason:        returns.Reason(l.Reason),
			FinalSale:     l.FinalSale,
		})
	}
	return opts, nil
}
