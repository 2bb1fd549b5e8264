package inbound

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/wms-engine/lifecycle"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

type InboundType string

const (
	TypeNormal          InboundType = "NORMAL"
	TypeLargeOrder      InboundType = "LARGE_ORDER"
	TypeSpecialHandling InboundType = "SPECIAL_HANDLING"
	TypeReturn          InboundType = "RETURN"
)

// Actors that appear in inbound events.
const (
	ActorShipper   = "SHIPPER"
	ActorSystem    = "WMS_SYSTEM"
	ActorManager   = "WAREHOUSE_MANAGER"
	ActorWorker    = "FIELD_WORKER"
	ActorInspector = "INSPECTION_STAFF"
)

// Request attribute keys.
const (
	AttrShipperID        = "shipper_id"
	AttrShipperName      = "shipper_name"
	AttrInboundType      = "inbound_type"
	AttrClassification   = "classification"
	AttrRequiresApproval = "requires_approval"
	AttrExpectedArrival  = "expected_arrival"
	AttrZone             = "zone"
	AttrZoneName         = "zone_name"
	AttrLocations        = "locations"

	itemAttrSpecialHandling = "special_handling"
)

// Record types written by inbound actions.
const (
	RecordZoneAssignment lifecycle.RecordType = "ZONE_ASSIGNMENT"
	RecordReceipt        lifecycle.RecordType = "RECEIPT"
	RecordInspection     lifecycle.RecordType = "INSPECTION"
	RecordInventorySync  lifecycle.RecordType = "INVENTORY_SYNC"
)

// Inventory sync stages, used as the Ref of INVENTORY_SYNC records.
const (
	SyncPreAllocation     = "PRE_ALLOCATION"
	SyncPostInspection    = "POST_INSPECTION"
	SyncFinalConfirmation = "FINAL_CONFIRMATION"
)

// Policy holds the tunable inbound rules.
type Policy struct {
	// LargeOrderThreshold is the total quantity above which a request is a
	// LARGE_ORDER and needs approval.
	LargeOrderThreshold int
	// ApprovalSLA is how long a request may sit in APPROVAL_WAITING.
	ApprovalSLA time.Duration
	// LocationCapacity is the number of units one storage location holds.
	LocationCapacity int
	// DefaultLeadTime sets the expected arrival when the shipper gives none.
	DefaultLeadTime time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		LargeOrderThreshold: 100000,
		ApprovalSLA:         60 * time.Minute,
		LocationCapacity:    100,
		DefaultLeadTime:     24 * time.Hour,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.LargeOrderThreshold <= 0 {
		p.LargeOrderThreshold = d.LargeOrderThreshold
	}
	if p.ApprovalSLA <= 0 {
		p.ApprovalSLA = d.ApprovalSLA
	}
	if p.LocationCapacity <= 0 {
		p.LocationCapacity = d.LocationCapacity
	}
	if p.DefaultLeadTime <= 0 {
		p.DefaultLeadTime = d.DefaultLeadTime
	}
	return p
}

// Classification is the outcome of Classify.
type Classification struct {
	Type             InboundType
	RequiresApproval bool
}

// Classify applies the classification rules in order; later rules win.
// A request needs approval when any rule fires or when the shipper asked
// for it at creation.
func (p Policy) Classify(agg *lifecycle.Aggregate) Classification {
	p = p.withDefaults()
	c := Classification{Type: TypeNormal}

	total := 0
	special := false
	for _, it := range agg.Items {
		total += it.RequestedQuantity
		if it.Attribute(itemAttrSpecialHandling) == "true" {
			special = true
		}
	}
	if total > p.LargeOrderThreshold {
		c.Type = TypeLargeOrder
	}
	if special {
		c.Type = TypeSpecialHandling
	}
	if InboundType(agg.Attribute(AttrInboundType)) == TypeReturn {
		c.Type = TypeReturn
	}
	c.RequiresApproval = c.Type != TypeNormal || agg.Attribute(AttrRequiresApproval) == "true"
	return c
}

// =============================================================================
// SERVICE
// =============================================================================

// Line is one announced item.
type Line struct {
	ID              lifecycle.ItemID
	SKU             string
	Name            string
	Unit            string
	Quantity        int
	SpecialHandling bool
}

// CreateOptions lists every input of a new inbound request. Zero values take
// the defaults: InboundType NORMAL, RequiresApproval true, ExpectedArrival
// now plus the policy lead time.
type CreateOptions struct {
	ID               lifecycle.RequestID
	ShipperID        string
	ShipperName      string
	Priority         lifecycle.Priority
	InboundType      InboundType
	RequiresApproval *bool
	ExpectedArrival  time.Time
	Lines            []Line
}

type Service struct {
	flow   *lifecycle.Workflow
	policy Policy
}

func NewService(flow *lifecycle.Workflow, policy Policy) *Service {
	return &Service{flow: flow, policy: policy.withDefaults()}
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Create builds and stores a request in REQUEST_WAITING.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*lifecycle.Aggregate, error) {
	now := s.flow.Clock().Now()
	if opts.InboundType == "" {
		opts.InboundType = TypeNormal
	}
	requiresApproval := true
	if opts.RequiresApproval != nil {
		requiresApproval = *opts.RequiresApproval
	}
	if opts.ExpectedArrival.IsZero() {
		opts.ExpectedArrival = now.Add(s.policy.DefaultLeadTime)
	}

	items := make([]lifecycle.Item, 0, len(opts.Lines))
	for _, l := range opts.Lines {
		it := lifecycle.Item{
			ID:                l.ID,
			SKU:               l.SKU,
			Name:              l.Name,
			Unit:              l.Unit,
			RequestedQuantity: l.Quantity,
		}
		if l.SpecialHandling {
			it.Attributes = map[string]string{itemAttrSpecialHandling: "true"}
		}
		items = append(items, it)
	}

	agg, err := lifecycle.NewAggregate(lifecycle.KindInbound, lifecycle.CreateOptions{
		ID:       opts.ID,
		Priority: opts.Priority,
		Items:    items,
		Attributes: map[string]string{
			AttrShipperID:        opts.ShipperID,
			AttrShipperName:      opts.ShipperName,
			AttrInboundType:      string(opts.InboundType),
			AttrRequiresApproval: strconv.FormatBool(requiresApproval),
			AttrExpectedArrival:  opts.ExpectedArrival.UTC().Format(time.RFC3339Nano),
		},
	}, s.flow.Clock(), s.flow.IDs())
	if err != nil {
		return nil, err
	}
	return s.flow.Create(ctx, agg)
}

func (s *Service) Get(ctx context.Context, id lifecycle.RequestID) (*lifecycle.Aggregate, error) {
	return s.flow.Get(ctx, id)
}

// Submit classifies the request. If it needs approval it moves to
// APPROVAL_WAITING; otherwise it stays in REQUEST_WAITING ready for
// AssignZone.
func (s *Service) Submit(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		if cur.Status != StatusRequestWaiting {
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusApprovalWaiting, Terminal: cur.IsTerminal()}
		}
		c := s.policy.Classify(cur)
		next := cur.Clone()
		next.SetAttribute(AttrClassification, string(c.Type))
		next.SetAttribute(AttrRequiresApproval, strconv.FormatBool(c.RequiresApproval))
		if !c.RequiresApproval {
			return next, nil
		}
		return s.flow.Transitions.Transition(next, StatusApprovalWaiting, actor, "classified as "+string(c.Type))
	})
}

func (s *Service) Approve(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Transition(ctx, id, StatusApprovalCompleted, actor, "")
}

// Reject sends the request back to the shipper. A reason is required.
func (s *Service) Reject(ctx context.Context, id lifecycle.RequestID, actor, reason string) (*lifecycle.Aggregate, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &lifecycle.ValidationError{Field: "reason", Message: "a rejection reason is required"}
	}
	return s.flow.Transition(ctx, id, StatusApprovalRejected, actor, reason)
}

// Resubmit returns a rejected request to REQUEST_WAITING.
func (s *Service) Resubmit(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Transition(ctx, id, StatusRequestWaiting, actor, "resubmitted")
}

// =============================================================================
// ZONE ASSIGNMENT
// =============================================================================

// ZoneRequest asks for a storage zone with the given free capacity.
type ZoneRequest struct {
	Zone              string
	ZoneName          string
	AvailableCapacity int
	Actor             string
}

// AssignZone designates a zone for the request. With enough capacity the
// request ends in ZONE_ASSIGNED with generated locations. Without it the
// request is tagged ZONE_SHORTAGE and parked in ZONE_WAITING until a later
// AssignZone finds space.
//
// From REQUEST_WAITING this is only allowed when no approval is required.
func (s *Service) AssignZone(ctx context.Context, id lifecycle.RequestID, req ZoneRequest) (*lifecycle.Aggregate, error) {
	if strings.TrimSpace(req.Zone) == "" {
		return nil, &lifecycle.ValidationError{Field: "zone", Message: "zone is required"}
	}
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		return s.assignZone(cur, req)
	})
}

func (s *Service) assignZone(cur *lifecycle.Aggregate, req ZoneRequest) (*lifecycle.Aggregate, error) {
	ts := s.flow.Transitions
	switch cur.Status {
	case StatusRequestWaiting:
		if cur.Attribute(AttrRequiresApproval) == "true" {
			return nil, &lifecycle.PolicyViolationError{Rule: "approval_required", Detail: "request must be approved before zone assignment"}
		}
	case StatusApprovalCompleted, StatusZoneWaiting:
	default:
		return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusZoneAssigned, Terminal: cur.IsTerminal()}
	}

	required := 0
	for _, it := range cur.Items {
		required += it.RequestedQuantity
	}
	now := ts.Clock.Now()
	next := cur.Clone()

	if req.AvailableCapacity < required {
		next.AddException(ExceptionZoneShortage)
		reason := fmt.Sprintf("zone %s has %d free, %d required", req.Zone, req.AvailableCapacity, required)
		if next.Status == StatusZoneWaiting {
			return next, nil
		}
		assigned, err := ts.Transition(next, StatusZoneAssigned, req.Actor, "zone "+req.Zone)
		if err != nil {
			return nil, err
		}
		return ts.Transition(assigned, StatusZoneWaiting, req.Actor, reason)
	}

	locations := s.locations(req.Zone, required)
	next.SetAttribute(AttrZone, req.Zone)
	next.SetAttribute(AttrZoneName, req.ZoneName)
	next.SetAttribute(AttrLocations, strings.Join(locations, ","))
	next.AppendRecord(lifecycle.ActionRecord{
		ID:       ts.IDs.NewID("ZON"),
		Type:     RecordZoneAssignment,
		Ref:      req.Zone,
		Quantity: required,
		Actor:    req.Actor,
		Data: map[string]string{
			"zone":      req.Zone,
			"zone_name": req.ZoneName,
			"locations": strings.Join(locations, ","),
			"available": strconv.Itoa(req.AvailableCapacity),
		},
		RecordedAt: now,
	})
	next.AppendRecord(s.syncRecord(SyncPreAllocation, required, now))
	return ts.Transition(next, StatusZoneAssigned, req.Actor, "zone "+req.Zone)
}

// locations returns "<zone>-001".. one per LocationCapacity units.
func (s *Service) locations(zone string, required int) []string {
	n := (required + s.policy.LocationCapacity - 1) / s.policy.LocationCapacity
	if n < 1 {
		n = 1
	}
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%03d", zone, i+1)
	}
	return out
}

func (s *Service) syncRecord(stage string, qty int, at time.Time) lifecycle.ActionRecord {
	return lifecycle.ActionRecord{
		ID:         s.flow.IDs().NewID("SYN"),
		Type:       RecordInventorySync,
		Ref:        stage,
		Quantity:   qty,
		Actor:      ActorSystem,
		RecordedAt: at,
	}
}

// =============================================================================
// RECEIVING AND INSPECTION
// =============================================================================

// Receipt is the counted quantity of one item on arrival.
type Receipt struct {
	ItemID   lifecycle.ItemID
	Quantity int
}

// Receive records arrival counts and moves the request to INBOUND_COMPLETED.
// Items without a receipt count as zero. Short counts raise PARTIAL_ARRIVAL,
// over counts INFO_MISMATCH, and arrival after the expected time
// DELIVERY_DELAYED.
func (s *Service) Receive(ctx context.Context, id lifecycle.RequestID, receipts []Receipt, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if err := ts.Permitted(cur, StatusInboundCompleted, actor); err != nil {
			return nil, err
		}
		now := ts.Clock.Now()
		next := cur.Clone()

		counted := make(map[lifecycle.ItemID]int, len(receipts))
		for i, r := range receipts {
			if _, err := next.Item(r.ItemID); err != nil {
				return nil, err
			}
			if r.Quantity < 0 {
				return nil, &lifecycle.ValidationError{Field: fmt.Sprintf("receipts[%d].quantity", i), Message: "must be non-negative"}
			}
			counted[r.ItemID] += r.Quantity
		}

		for _, it := range cur.Items {
			got := counted[it.ID]
			_ = next.UpdateItem(it.ID, func(item *lifecycle.Item) { item.ProcessedQuantity = got })
			next.AppendRecord(lifecycle.ActionRecord{
				ID:         ts.IDs.NewID("RCV"),
				Type:       RecordReceipt,
				ItemID:     it.ID,
				Quantity:   got,
				Actor:      actor,
				RecordedAt: now,
			})
			switch {
			case got < it.RequestedQuantity:
				next.AddException(ExceptionPartialArrival)
			case got > it.RequestedQuantity:
				next.AddException(ExceptionInfoMismatch)
			}
		}
		if expected, err := time.Parse(time.RFC3339Nano, cur.Attribute(AttrExpectedArrival)); err == nil && now.After(expected) {
			next.AddException(ExceptionDeliveryDelayed)
		}
		return ts.Transition(next, StatusInboundCompleted, actor, "")
	})
}

// Finding is the operator's inspection verdict for one item.
type Finding struct {
	ItemID lifecycle.ItemID
	Result lifecycle.InspectionResult
	Note   string
}

// Inspect records a verdict for every item. Any FAIL tags the request
// INSPECTION_FAILED and puts it on HOLD; otherwise inventory is confirmed
// and the request is DONE.
func (s *Service) Inspect(ctx context.Context, id lifecycle.RequestID, findings []Finding, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if err := ts.Permitted(cur, StatusHold, actor); err != nil {
			return nil, err
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
		round := fmt.Sprintf("round-%d", len(cur.EventsTo(StatusHold))+1)
		next := cur.Clone()
		failed := false
		total := 0
		for _, it := range cur.Items {
			f := byItem[it.ID]
			_ = next.UpdateItem(it.ID, func(item *lifecycle.Item) {
				item.InspectionResult = f.Result
				item.InspectedQuantity = item.ProcessedQuantity
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
			total += it.ProcessedQuantity
			if f.Result == lifecycle.InspectionFail {
				failed = true
			}
		}

		if failed {
			next.AddException(ExceptionInspectionFailed)
			return ts.Transition(next, StatusHold, actor, "inspection failed")
		}
		next.AppendRecord(s.syncRecord(SyncPostInspection, total, now))
		next.AppendRecord(s.syncRecord(SyncFinalConfirmation, total, now))
		return ts.Transition(next, StatusDone, actor, "")
	})
}

// ReleaseHold returns a held request to INBOUND_COMPLETED for re-inspection.
func (s *Service) ReleaseHold(ctx context.Context, id lifecycle.RequestID, actor, reason string) (*lifecycle.Aggregate, error) {
	return s.flow.Transition(ctx, id, StatusInboundCompleted, actor, reason)
}

// ScanBarcode validates a scan against an item. A mismatch tags the request
// but never changes its status.
func (s *Service) ScanBarcode(ctx context.Context, id lifecycle.RequestID, in lifecycle.ScanInput) (*lifecycle.Aggregate, lifecycle.BarcodeResult, error) {
	var result lifecycle.BarcodeResult
	agg, err := s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		next, r, err := lifecycle.ApplyBarcodeScan(cur, in, s.flow.IDs(), s.flow.Clock().Now())
		result = r
		return next, err
	})
	return agg, result, err
}

// =============================================================================
// APPROVAL SLA
// =============================================================================

// SLAStatus describes how long a request has waited for approval.
type SLAStatus struct {
	Waiting  bool
	Elapsed  time.Duration
	Exceeded bool
	Delay    time.Duration
}

// CheckApprovalSLA measures the time since the request last entered
// APPROVAL_WAITING. Requests in any other status are not waiting.
func (p Policy) CheckApprovalSLA(agg *lifecycle.Aggregate, now time.Time) SLAStatus {
	p = p.withDefaults()
	if agg.Status != StatusApprovalWaiting {
		return SLAStatus{}
	}
	entries := agg.EventsTo(StatusApprovalWaiting)
	if len(entries) == 0 {
		return SLAStatus{}
	}
	elapsed := now.Sub(entries[len(entries)-1].Timestamp)
	st := SLAStatus{Waiting: true, Elapsed: elapsed}
	if elapsed > p.ApprovalSLA {
		st.Exceeded = true
		st.Delay = elapsed - p.ApprovalSLA
	}
	return st
}

// FlagApprovalDelays tags every request that has waited past the approval
// SLA with APPROVAL_DELAY. It returns the ids that were newly tagged.
func (s *Service) FlagApprovalDelays(ctx context.Context) ([]lifecycle.RequestID, error) {
	waiting, err := s.flow.Repo.List(ctx, lifecycle.Filter{Kind: lifecycle.KindInbound, Status: StatusApprovalWaiting})
	if err != nil {
		return nil, err
	}
	now := s.flow.Clock().Now()
	var flagged []lifecycle.RequestID
	for _, agg := range waiting {
		if agg.HasException(ExceptionApprovalDelay) || !s.policy.CheckApprovalSLA(agg, now).Exceeded {
			continue
		}
		_, err := s.flow.Apply(ctx, agg.ID, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
			next := cur.Clone()
			next.AddException(ExceptionApprovalDelay)
			return next, nil
		})
		if err != nil {
			return flagged, err
		}
		flagged = append(flagged, agg.ID)
	}
	return flagged, nil
}
