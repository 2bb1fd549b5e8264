/*
Package lifecycle provides the request lifecycle engine shared by every
warehouse request kind.

PURPOSE:
  Inbound receipts, outbound orders and customer returns all move through a
  fixed set of statuses, pick up exception tags when checks fail, and keep an
  audit trail of who moved them where. This package owns that shared model;
  the inbound, outbound and returns packages only declare their graphs and
  domain actions on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: which status graph applies (INBOUND, OUTBOUND, RETURN)
  - Aggregate: one request with its items, events and exception tags
  - Item: a line item with the quantities each flow tracks
  - Event: an immutable audit entry appended per successful transition
  - ActionRecord: an idempotent record written by a domain action
    (restocking, disposal, picking, refund...)

DESIGN PRINCIPLES:
  1. Status is written only by TransitionService
  2. Events and action records are append-only
  3. Operations return new aggregates; callers never see half-applied state
  4. Money uses decimal.Decimal

USAGE:
  agg, err := lifecycle.NewAggregate(lifecycle.KindOutbound, lifecycle.CreateOptions{
      Items: []lifecycle.Item{{ID: "line-1", SKU: "SKU-1", RequestedQuantity: 10}},
  }, clock, ids)

SEE ALSO:
  - graph.go: StatusGraph and the kind registry
  - transition.go: TransitionService, the only status mutator
  - allocation.go: AllocationEngine
  - kpi.go: KPIAggregator
*/
package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RequestID string
type ItemID string
type EventID string

// Kind selects the status graph a request follows.
type Kind string

const (
	KindInbound  Kind = "INBOUND"
	KindOutbound Kind = "OUTBOUND"
	KindReturn   Kind = "RETURN"
)

// ParseKind accepts the canonical upper-case names plus the lower-case forms
// used in URLs ("inbound", "outbound", "returns").
func ParseKind(s string) (Kind, error) {
	switch s {
	case "INBOUND", "inbound":
		return KindInbound, nil
	case "OUTBOUND", "outbound":
		return KindOutbound, nil
	case "RETURN", "return", "returns":
		return KindReturn, nil
	}
	return "", &ValidationError{Field: "kind", Message: "unknown request kind " + s}
}

// Status is a node of a StatusGraph. Values are only meaningful together with
// the Kind whose graph declares them.
type Status string

// ExceptionTag marks a failed domain check on an aggregate.
type ExceptionTag string

// ExceptionBarcodeMismatch is shared by every flow that scans barcodes.
const ExceptionBarcodeMismatch ExceptionTag = "BARCODE_MISMATCH"

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is one of the declared priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// =============================================================================
// INSPECTION OUTCOMES
// =============================================================================

// Grade is the quality tier recorded for a returned item.
type Grade string

const (
	GradeA Grade = "GRADE_A"
	GradeB Grade = "GRADE_B"
	GradeC Grade = "GRADE_C"
)

func (g Grade) Valid() bool {
	return g == GradeA || g == GradeB || g == GradeC
}

// InspectionResult is the pass/fail verdict used by inbound and outbound
// inspection.
type InspectionResult string

const (
	InspectionPass InspectionResult = "PASS"
	InspectionFail InspectionResult = "FAIL"
)

// =============================================================================
// ITEM
// =============================================================================

// Item is one line of a request. Not every flow uses every quantity: inbound
// uses ProcessedQuantity as the received count, outbound as the picked count.
type Item struct {
	ID                ItemID
	SKU               string
	Name              string
	Unit              string
	RequestedQuantity int
	AllocatedQuantity int
	ProcessedQuantity int
	InspectedQuantity int
	PackedQuantity    int
	ShippedQuantity   int

	Grade            Grade
	GradeReason      string
	InspectionResult InspectionResult

	UnitPrice    decimal.Decimal
	RefundAmount decimal.Decimal

	Attributes map[string]string
}

// TotalPrice is UnitPrice times RequestedQuantity.
func (it Item) TotalPrice() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.RequestedQuantity)))
}

// Attribute returns a kind-specific attribute or "".
func (it Item) Attribute(key string) string {
	return it.Attributes[key]
}

// =============================================================================
// EVENT - Audit entry, one per successful transition
// =============================================================================

type Event struct {
	ID        EventID
	RequestID RequestID
	Sequence  int
	From      Status
	To        Status
	Actor     string
	Reason    string
	Timestamp time.Time
}

// =============================================================================
// ACTION RECORD - Idempotent facts written by domain actions
// =============================================================================

type RecordType string

// ActionRecord captures that a domain action happened for an item (or for
// the request when ItemID is empty). Records are keyed by (Type, ItemID, Ref);
// appending an existing key is a no-op.
type ActionRecord struct {
	ID         string
	Type       RecordType
	ItemID     ItemID
	Ref        string
	Quantity   int
	Amount     decimal.Decimal
	Actor      string
	Data       map[string]string
	RecordedAt time.Time
}

func (r ActionRecord) key() recordKey {
	return recordKey{Type: r.Type, ItemID: r.ItemID, Ref: r.Ref}
}

type recordKey struct {
	Type   RecordType
	ItemID ItemID
	Ref    string
}

// =============================================================================
// AGGREGATE
// =============================================================================

// Aggregate is one inbound, outbound or return request.
//
// Fields are exported for storage and serialization. Callers treat a loaded
// aggregate as a value: every operation in this module works on a Clone and
// returns the new version.
type Aggregate struct {
	ID       RequestID
	Kind     Kind
	Status   Status
	Priority Priority

	Items       []Item
	Events      []Event
	Exceptions  []ExceptionTag
	Allocations []AllocationRecord
	Records     []ActionRecord

	// Stamps holds side timestamps such as approved_at or shipped_at, set by
	// TransitionService from the graph's stamp rules.
	Stamps     map[string]time.Time
	Attributes map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is bumped by repositories on every stored update.
	Version int
}
