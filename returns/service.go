package returns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wms-engine/lifecycle"
)

// Request attribute keys.
const (
	AttrOrderID           = "order_id"
	AttrOMSOrderID        = "oms_order_id"
	AttrCustomerID        = "customer_id"
	AttrCustomerName      = "customer_name"
	AttrReturnAddress     = "return_address"
	AttrPhone             = "phone"
	AttrPurchasedAt       = "purchased_at"
	AttrRejectionReason   = "rejection_reason"
	AttrTrackingNumber    = "tracking_number"
	AttrReturnZone        = "return_zone"
	AttrPhysicalCondition = "physical_condition"
	AttrRefundMethod      = "refund_method"
	AttrTotalRefund       = "total_refund"

	itemAttrReason    = "reason"
	itemAttrFinalSale = "final_sale"
)

// Record types written by return actions.
const (
	RecordGrade            lifecycle.RecordType = "GRADE"
	RecordRework           lifecycle.RecordType = "REWORK_DECISION"
	RecordRestock          lifecycle.RecordType = "RESTOCK"
	RecordDisposalApproval lifecycle.RecordType = "DISPOSAL_APPROVAL"
	RecordDisposal         lifecycle.RecordType = "DISPOSAL"
	RecordConversion       lifecycle.RecordType = "DEFECTIVE_CONVERSION"
	RecordRefund           lifecycle.RecordType = "REFUND"
)

type DisposalMethod string

const (
	DisposalIncineration DisposalMethod = "INCINERATION"
	DisposalRecycling    DisposalMethod = "RECYCLING"
	DisposalDonation     DisposalMethod = "DONATION"
	DisposalLandfill     DisposalMethod = "LANDFILL"
)

func (m DisposalMethod) Valid() bool {
	switch m {
	case DisposalIncineration, DisposalRecycling, DisposalDonation, DisposalLandfill:
		return true
	}
	return false
}

type RefundMethod string

const (
	RefundOriginalPayment RefundMethod = "ORIGINAL_PAYMENT"
	RefundCredit          RefundMethod = "CREDIT"
	RefundVoucher         RefundMethod = "VOUCHER"
)

func (m RefundMethod) Valid() bool {
	return m == RefundOriginalPayment || m == RefundCredit || m == RefundVoucher
}

// ConversionOutcome ends the defective conversion of repair items.
type ConversionOutcome string

const (
	// ConversionRepaired sends repaired items back to stock.
	ConversionRepaired ConversionOutcome = "REPAIRED"
	// ConversionScrap hands the items to disposal.
	ConversionScrap ConversionOutcome = "SCRAP"
	// ConversionWriteOff keeps the items as defective stock; the request is
	// completed once refunded.
	ConversionWriteOff ConversionOutcome = "WRITE_OFF"
)

// DecisionWriteOff is the disposition of repair items written off as
// defective stock. It is never a valid rework decision.
const DecisionWriteOff Decision = "WRITE_OFF"

// DisposalApprovalWindow is how long an approved disposal may wait.
const DisposalApprovalWindow = 7 * 24 * time.Hour

type Customer struct {
	ID            string
	Name          string
	ReturnAddress string
	Phone         string
}

// Line is one returned item. OriginalPrice is the unit price paid.
type Line struct {
	ID            lifecycle.ItemID
	SKU           string
	Name          string
	Quantity      int
	OriginalPrice decimal.Decimal
	Reason        Reason
	FinalSale     bool
}

type CreateOptions struct {
	ID          lifecycle.RequestID
	OrderID     string
	OMSOrderID  string
	Priority    lifecycle.Priority
	Customer    Customer
	PurchasedAt time.Time
	Lines       []Line
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	flow   *lifecycle.Workflow
	policy Policy
}

func NewService(flow *lifecycle.Workflow, policy Policy) *Service {
	if len(policy.Reasons) == 0 || len(policy.Grades) == 0 {
		policy = DefaultPolicy()
	}
	return &Service{flow: flow, policy: policy}
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Create registers a return in RETURN_RECEIVED. Every line needs a reason
// known to the policy. A zero PurchasedAt means the purchase happened now.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*lifecycle.Aggregate, error) {
	items := make([]lifecycle.Item, 0, len(opts.Lines))
	for i, l := range opts.Lines {
		if _, ok := s.policy.Reasons[l.Reason]; !ok {
			return nil, &lifecycle.ValidationError{
				Field:   fmt.Sprintf("lines[%d].reason", i),
				Message: "unknown return reason " + string(l.Reason),
			}
		}
		attrs := map[string]string{itemAttrReason: string(l.Reason)}
		if l.FinalSale {
			attrs[itemAttrFinalSale] = "true"
		}
		items = append(items, lifecycle.Item{
			ID:                l.ID,
			SKU:               l.SKU,
			Name:              l.Name,
			RequestedQuantity: l.Quantity,
			UnitPrice:         l.OriginalPrice,
			Attributes:        attrs,
		})
	}

	purchased := opts.PurchasedAt
	if purchased.IsZero() {
		purchased = s.flow.Clock().Now()
	}
	agg, err := lifecycle.NewAggregate(lifecycle.KindReturn, lifecycle.CreateOptions{
		ID:       opts.ID,
		Priority: opts.Priority,
		Items:    items,
		Attributes: map[string]string{
			AttrOrderID:       opts.OrderID,
			AttrOMSOrderID:    opts.OMSOrderID,
			AttrCustomerID:    opts.Customer.ID,
			AttrCustomerName:  opts.Customer.Name,
			AttrReturnAddress: opts.Customer.ReturnAddress,
			AttrPhone:         opts.Customer.Phone,
			AttrPurchasedAt:   purchased.UTC().Format(time.RFC3339Nano),
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

// ReasonOf returns the return reason of an item.
func ReasonOf(it lifecycle.Item) Reason {
	return Reason(it.Attribute(itemAttrReason))
}

// =============================================================================
// APPROVAL
// =============================================================================

// Approve accepts the return. A final-sale item or an item past its reason's
// return window blocks approval: the request keeps its status, gains the
// matching exception tag, and the stored request is returned together with a
// *PolicyViolationError.
func (s *Service) Approve(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	var violation error
	agg, err := s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if err := ts.Permitted(cur, StatusReturnApproved, actor); err != nil {
			return nil, err
		}
		tag, v := s.checkEligibility(cur, ts.Clock.Now())
		if v != nil {
			violation = v
			next := cur.Clone()
			next.AddException(tag)
			return next, nil
		}
		return ts.Transition(cur, StatusReturnApproved, actor, "")
	})
	if err != nil {
		return nil, err
	}
	return agg, violation
}

func (s *Service) checkEligibility(agg *lifecycle.Aggregate, now time.Time) (lifecycle.ExceptionTag, error) {
	purchased, err := time.Parse(time.RFC3339Nano, agg.Attribute(AttrPurchasedAt))
	if err != nil {
		purchased = agg.CreatedAt
	}
	for _, it := range agg.Items {
		if it.Attribute(itemAttrFinalSale) == "true" {
			return ExceptionIneligible, &lifecycle.PolicyViolationError{
				Rule:   "ineligible_product",
				Detail: fmt.Sprintf("item %s was sold as final sale", it.ID),
			}
		}
		rp := s.policy.Reasons[ReasonOf(it)]
		window := time.Duration(rp.WindowDays) * 24 * time.Hour
		if now.Sub(purchased) > window {
			return ExceptionOutsideWindow, &lifecycle.PolicyViolationError{
				Rule:   "return_window",
				Detail: fmt.Sprintf("item %s: %s returns close after %d days", it.ID, ReasonOf(it), rp.WindowDays),
			}
		}
	}
	return "", nil
}

// Reject closes the return. A reason is required.
func (s *Service) Reject(ctx context.Context, id lifecycle.RequestID, actor, reason string) (*lifecycle.Aggregate, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &lifecycle.ValidationError{Field: "reason", Message: "rejection reason is required"}
	}
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		next := cur.Clone()
		next.SetAttribute(AttrRejectionReason, reason)
		return s.flow.Transitions.Transition(next, StatusReturnRejected, actor, reason)
	})
}

// =============================================================================
// INBOUND AND INSPECTION
// =============================================================================

// ExpectInbound registers the carrier tracking number of the return parcel.
func (s *Service) ExpectInbound(ctx context.Context, id lifecycle.RequestID, tracking, actor string) (*lifecycle.Aggregate, error) {
	if strings.TrimSpace(tracking) == "" {
		return nil, &lifecycle.ValidationError{Field: "tracking_number", Message: "tracking number is required"}
	}
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		next := cur.Clone()
		next.SetAttribute(AttrTrackingNumber, tracking)
		return s.flow.Transitions.Transition(next, StatusInboundWait, actor, "tracking "+tracking)
	})
}

// Receipt describes the physical arrival of a return parcel.
type Receipt struct {
	Zone      string
	Condition string
	Actor     string
}

// ReceiveInbound books the parcel into the return zone. Every line is
// received in full.
func (s *Service) ReceiveInbound(ctx context.Context, id lifecycle.RequestID, r Receipt) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		next := cur.Clone()
		next.SetAttribute(AttrReturnZone, r.Zone)
		next.SetAttribute(AttrPhysicalCondition, r.Condition)
		for i := range next.Items {
			next.Items[i].ProcessedQuantity = next.Items[i].RequestedQuantity
		}
		return s.flow.Transitions.Transition(next, StatusInboundCompleted, r.Actor, "")
	})
}

func (s *Service) StartInspection(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Transition(ctx, id, StatusInspectionInProgress, actor, "")
}

// Grade records the inspector's grade for an item. Grading may be revised
// until the last item is graded; at that point the request moves to
// REWORK_DECISION.
func (s *Service) Grade(ctx context.Context, id lifecycle.RequestID, itemID lifecycle.ItemID, grade lifecycle.Grade, reason, actor string) (*lifecycle.Aggregate, error) {
	if !grade.Valid() {
		return nil, &lifecycle.ValidationError{Field: "grade", Message: "unknown grade " + string(grade)}
	}
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if cur.Status != StatusInspectionInProgress {
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusReworkDecision, Terminal: cur.IsTerminal()}
		}
		next := cur.Clone()
		err := next.UpdateItem(itemID, func(it *lifecycle.Item) {
			it.Grade = grade
			it.GradeReason = reason
			it.InspectedQuantity = it.ProcessedQuantity
		})
		if err != nil {
			return nil, err
		}
		if grade == lifecycle.GradeC {
			next.AddException(ExceptionSevereDamage)
		}
		next.AppendRecord(lifecycle.ActionRecord{
			ID:         ts.IDs.NewID("GRD"),
			Type:       RecordGrade,
			ItemID:     itemID,
			Ref:        string(grade),
			Actor:      actor,
			Data:       map[string]string{"reason": reason},
			RecordedAt: ts.Clock.Now(),
		})
		if !next.AllItems(func(it lifecycle.Item) bool { return it.Grade != "" }) {
			return next, nil
		}
		return ts.Transition(next, StatusReworkDecision, actor, "all items graded")
	})
}

// =============================================================================
// REWORK DECISION
// =============================================================================

// DecisionOf returns the rework decision made for an item, or "".
func DecisionOf(agg *lifecycle.Aggregate, itemID lifecycle.ItemID) Decision {
	for _, r := range agg.RecordsOf(RecordRework) {
		if r.ItemID == itemID {
			return Decision(r.Data["decision"])
		}
	}
	return ""
}

// Disposition is where an item is headed: its rework decision, rewritten by
// the outcome of a defective conversion for repair items.
func Disposition(agg *lifecycle.Aggregate, itemID lifecycle.ItemID) Decision {
	for _, r := range agg.RecordsOf(RecordConversion) {
		if r.ItemID != itemID {
			continue
		}
		switch ConversionOutcome(r.Data["outcome"]) {
		case ConversionRepaired:
			return DecisionRestocking
		case ConversionScrap:
			return DecisionDisposal
		case ConversionWriteOff:
			return DecisionWriteOff
		}
	}
	return DecisionOf(agg, itemID)
}

// Decide is the grade policy gate for a rework decision.
func (s *Service) Decide(grade lifecycle.Grade, decision Decision) error {
	return s.policy.Decide(grade, decision)
}

// MakeReworkDecision records what happens to one graded item. Once every
// item has a decision the request takes a branch: DEFECTIVE_CONVERSION when
// any item is to be repaired, else DISPOSAL_TARGET when any item is to be
// disposed of, else RESTOCKING_DECISION. Deciding an item twice is a no-op.
func (s *Service) MakeReworkDecision(ctx context.Context, id lifecycle.RequestID, itemID lifecycle.ItemID, decision Decision, actor, reason string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if cur.Status != StatusReworkDecision {
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusRestockingDecision, Terminal: cur.IsTerminal()}
		}
		it, err := cur.Item(itemID)
		if err != nil {
			return nil, err
		}
		if err := s.policy.Decide(it.Grade, decision); err != nil {
			return nil, err
		}
		if cur.HasRecord(RecordRework, itemID, "") {
			return cur, nil
		}

		next := cur.Clone()
		next.AppendRecord(lifecycle.ActionRecord{
			ID:     ts.IDs.NewID("RWK"),
			Type:   RecordRework,
			ItemID: itemID,
			Actor:  actor,
			Data: map[string]string{
				"decision":          string(decision),
				"reason":            reason,
				"approval_required": fmt.Sprint(s.policy.Grades[it.Grade].RequiresApproval),
			},
			RecordedAt: ts.Clock.Now(),
		})
		if !next.AllItemsRecorded(RecordRework) {
			return next, nil
		}
		branch := branchFor(next)
		return ts.Transition(next, branch, actor, reason)
	})
}

func branchFor(agg *lifecycle.Aggregate) lifecycle.Status {
	repair, disposal := false, false
	for _, it := range agg.Items {
		switch DecisionOf(agg, it.ID) {
		case DecisionRepair:
			repair = true
		case DecisionDisposal:
			disposal = true
		}
	}
	switch {
	case repair:
		return StatusDefectiveConversion
	case disposal:
		return StatusDisposalTarget
	default:
		return StatusRestockingDecision
	}
}

// itemsHeadedTo lists items whose disposition is d.
func itemsHeadedTo(agg *lifecycle.Aggregate, d Decision) []lifecycle.ItemID {
	var out []lifecycle.ItemID
	for _, it := range agg.Items {
		if Disposition(agg, it.ID) == d {
			out = append(out, it.ID)
		}
	}
	return out
}

func allRecorded(agg *lifecycle.Aggregate, items []lifecycle.ItemID, t lifecycle.RecordType) bool {
	for _, id := range items {
		if !agg.HasRecord(t, id, "") {
			return false
		}
	}
	return true
}

// =============================================================================
// RESTOCKING
// =============================================================================

// ExecuteRestocking puts an item marked for restocking back on a shelf.
// Restock items of a request on another branch may be shelved at any point
// after the rework decision. On the restocking branch the request moves to
// RESTOCKING_COMPLETED once the last restock item is shelved. Restocking an
// item twice is a no-op.
func (s *Service) ExecuteRestocking(ctx context.Context, id lifecycle.RequestID, itemID lifecycle.ItemID, location, actor string) (*lifecycle.Aggregate, error) {
	if strings.TrimSpace(location) == "" {
		return nil, &lifecycle.ValidationError{Field: "location", Message: "location is required"}
	}
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		switch cur.Status {
		case StatusRestockingDecision, StatusDefectiveConversion, StatusRestockingCompleted,
			StatusDisposalTarget, StatusDisposalApprovalWait, StatusDisposalCompleted:
		default:
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusRestockingCompleted, Terminal: cur.IsTerminal()}
		}
		it, err := cur.Item(itemID)
		if err != nil {
			return nil, err
		}
		if d := Disposition(cur, itemID); d != DecisionRestocking {
			return nil, &lifecycle.PolicyViolationError{Rule: "decision_mismatch", Detail: fmt.Sprintf("item %s is marked %s", itemID, d)}
		}
		if cur.HasRecord(RecordRestock, itemID, "") {
			return cur, nil
		}

		next := cur.Clone()
		next.AppendRecord(lifecycle.ActionRecord{
			ID:         ts.IDs.NewID("RST"),
			Type:       RecordRestock,
			ItemID:     itemID,
			Quantity:   it.InspectedQuantity,
			Actor:      actor,
			Data:       map[string]string{"location": location},
			RecordedAt: ts.Clock.Now(),
		})
		if next.Status == StatusRestockingDecision && allRecorded(next, itemsHeadedTo(next, DecisionRestocking), RecordRestock) {
			return ts.Transition(next, StatusRestockingCompleted, actor, "")
		}
		return next, nil
	})
}

// =============================================================================
// DISPOSAL
// =============================================================================

func (s *Service) RequestDisposalApproval(ctx context.Context, id lifecycle.RequestID, actor, reason string) (*lifecycle.Aggregate, error) {
	return s.flow.Transition(ctx, id, StatusDisposalApprovalWait, actor, reason)
}

// ApproveDisposal is the warehouse manager's sign-off for disposing of one
// item. The approval expires after DisposalApprovalWindow.
func (s *Service) ApproveDisposal(ctx context.Context, id lifecycle.RequestID, itemID lifecycle.ItemID, actor, reason string) (*lifecycle.Aggregate, error) {
	if actor != ActorWarehouseManager && actor != ActorAdmin {
		return nil, &lifecycle.PolicyViolationError{Rule: "actor_permission", Detail: actor + " may not approve disposals"}
	}
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if cur.Status != StatusDisposalTarget && cur.Status != StatusDisposalApprovalWait {
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusDisposalCompleted, Terminal: cur.IsTerminal()}
		}
		if _, err := cur.Item(itemID); err != nil {
			return nil, err
		}
		if d := Disposition(cur, itemID); d != DecisionDisposal {
			return nil, &lifecycle.PolicyViolationError{Rule: "decision_mismatch", Detail: fmt.Sprintf("item %s is marked %s", itemID, d)}
		}
		now := ts.Clock.Now()
		next := cur.Clone()
		next.AppendRecord(lifecycle.ActionRecord{
			ID:     ts.IDs.NewID("DAP"),
			Type:   RecordDisposalApproval,
			ItemID: itemID,
			Actor:  actor,
			Data: map[string]string{
				"reason":   reason,
				"deadline": now.Add(DisposalApprovalWindow).Format(time.RFC3339Nano),
			},
			RecordedAt: now,
		})
		return next, nil
	})
}

// ExecuteDisposal disposes of an approved item. The request moves to
// DISPOSAL_COMPLETED once every item marked for disposal is gone. Disposing
// of an item twice is a no-op.
func (s *Service) ExecuteDisposal(ctx context.Context, id lifecycle.RequestID, itemID lifecycle.ItemID, method DisposalMethod, actor string) (*lifecycle.Aggregate, error) {
	if !method.Valid() {
		return nil, &lifecycle.ValidationError{Field: "method", Message: "unknown disposal method " + string(method)}
	}
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if cur.Status != StatusDisposalApprovalWait {
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusDisposalCompleted, Terminal: cur.IsTerminal()}
		}
		it, err := cur.Item(itemID)
		if err != nil {
			return nil, err
		}
		if d := Disposition(cur, itemID); d != DecisionDisposal {
			return nil, &lifecycle.PolicyViolationError{Rule: "decision_mismatch", Detail: fmt.Sprintf("item %s is marked %s", itemID, d)}
		}
		if cur.HasRecord(RecordDisposal, itemID, "") {
			return cur, nil
		}
		if !cur.HasRecord(RecordDisposalApproval, itemID, "") {
			return nil, &lifecycle.PolicyViolationError{Rule: "disposal_not_approved", Detail: fmt.Sprintf("item %s has no disposal approval", itemID)}
		}

		next := cur.Clone()
		next.AppendRecord(lifecycle.ActionRecord{
			ID:         ts.IDs.NewID("DIS"),
			Type:       RecordDisposal,
			ItemID:     itemID,
			Quantity:   it.InspectedQuantity,
			Actor:      actor,
			Data:       map[string]string{"method": string(method)},
			RecordedAt: ts.Clock.Now(),
		})
		if allRecorded(next, itemsHeadedTo(next, DecisionDisposal), RecordDisposal) {
			return ts.Transition(next, StatusDisposalCompleted, actor, "")
		}
		return next, nil
	})
}

// =============================================================================
// DEFECTIVE CONVERSION
// =============================================================================

// ConvertDefective settles every repair item at once. REPAIRED moves the
// request to RESTOCKING_COMPLETED and is refused while other items await
// disposal. SCRAP moves it to DISPOSAL_TARGET. WRITE_OFF also moves it to
// DISPOSAL_TARGET when other items await disposal, and otherwise keeps it in
// DEFECTIVE_CONVERSION until refunded and completed.
func (s *Service) ConvertDefective(ctx context.Context, id lifecycle.RequestID, outcome ConversionOutcome, actor, reason string) (*lifecycle.Aggregate, error) {
	var target lifecycle.Status
	switch outcome {
	case ConversionRepaired:
		target = StatusRestockingCompleted
	case ConversionScrap:
		target = StatusDisposalTarget
	case ConversionWriteOff:
	default:
		return nil, &lifecycle.ValidationError{Field: "outcome", Message: "unknown conversion outcome " + string(outcome)}
	}

	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if cur.Status != StatusDefectiveConversion {
			to := target
			if to == "" {
				to = StatusCompleted
			}
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: to, Terminal: cur.IsTerminal()}
		}
		if len(cur.RecordsOf(RecordConversion)) > 0 {
			return nil, &lifecycle.PolicyViolationError{Rule: "already_converted", Detail: "repair items were already converted"}
		}
		disposing := len(itemsHeadedTo(cur, DecisionDisposal)) > 0
		if outcome == ConversionRepaired && disposing {
			return nil, &lifecycle.PolicyViolationError{Rule: "pending_disposal", Detail: "other items still await disposal"}
		}
		to := target
		if outcome == ConversionWriteOff && disposing {
			to = StatusDisposalTarget
		}
		if to != "" {
			if err := ts.Permitted(cur, to, actor); err != nil {
				return nil, err
			}
		}

		now := ts.Clock.Now()
		next := cur.Clone()
		for _, itemID := range itemsHeadedTo(cur, DecisionRepair) {
			next.AppendRecord(lifecycle.ActionRecord{
				ID:         ts.IDs.NewID("CNV"),
				Type:       RecordConversion,
				ItemID:     itemID,
				Actor:      actor,
				Data:       map[string]string{"outcome": string(outcome), "reason": reason},
				RecordedAt: now,
			})
		}
		if to == "" {
			return next, nil
		}
		return ts.Transition(next, to, actor, reason)
	})
}

// =============================================================================
// REFUND AND COMPLETION
// =============================================================================

// CalculateRefund prices the refund for one graded item.
func (s *Service) CalculateRefund(it lifecycle.Item) (decimal.Decimal, error) {
	return s.policy.CalculateRefund(it)
}

// RefundTotal sums the refunds booked on a request.
func RefundTotal(agg *lifecycle.Aggregate) decimal.Decimal {
	total := decimal.Zero
	for _, it := range agg.Items {
		total = total.Add(it.RefundAmount)
	}
	return total
}

// settled reports whether an item has reached its final physical state.
func settled(agg *lifecycle.Aggregate, itemID lifecycle.ItemID) bool {
	if agg.HasRecord(RecordRestock, itemID, "") || agg.HasRecord(RecordDisposal, itemID, "") {
		return true
	}
	d := Disposition(agg, itemID)
	return d == DecisionWriteOff || (d == DecisionRestocking && agg.HasRecord(RecordConversion, itemID, ""))
}

// ProcessRefund books the refund once every item is restocked, disposed of
// or converted. Refunding twice returns the first refund unchanged.
func (s *Service) ProcessRefund(ctx context.Context, id lifecycle.RequestID, method RefundMethod, actor string) (*lifecycle.Aggregate, decimal.Decimal, error) {
	if method == "" {
		method = RefundOriginalPayment
	}
	if !method.Valid() {
		return nil, decimal.Zero, &lifecycle.ValidationError{Field: "method", Message: "unknown refund method " + string(method)}
	}
	agg, err := s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		ts := s.flow.Transitions
		if cur.IsTerminal() {
			return nil, &lifecycle.IllegalTransitionError{Kind: cur.Kind, From: cur.Status, To: StatusCompleted, Terminal: true}
		}
		if cur.HasRecord(RecordRefund, "", "") {
			return cur, nil
		}
		for _, it := range cur.Items {
			if !settled(cur, it.ID) {
				return nil, &lifecycle.PolicyViolationError{Rule: "refund_before_disposition", Detail: fmt.Sprintf("item %s is not restocked or disposed of", it.ID)}
			}
		}

		next := cur.Clone()
		total := decimal.Zero
		for i := range next.Items {
			amount, err := s.policy.CalculateRefund(next.Items[i])
			if err != nil {
				return nil, err
			}
			next.Items[i].RefundAmount = amount
			total = total.Add(amount)
		}
		next.SetAttribute(AttrRefundMethod, string(method))
		next.SetAttribute(AttrTotalRefund, total.StringFixed(2))
		next.AppendRecord(lifecycle.ActionRecord{
			ID:         ts.IDs.NewID("RFD"),
			Type:       RecordRefund,
			Amount:     total,
			Actor:      actor,
			Data:       map[string]string{"method": string(method)},
			RecordedAt: ts.Clock.Now(),
		})
		next.UpdatedAt = ts.Clock.Now()
		return next, nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return agg, RefundTotal(agg), nil
}

// Complete closes a refunded return.
func (s *Service) Complete(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, error) {
	return s.flow.Apply(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		if !cur.IsTerminal() && !cur.HasRecord(RecordRefund, "", "") {
			return nil, &lifecycle.PolicyViolationError{Rule: "refund_pending", Detail: "process the refund before completing"}
		}
		return s.flow.Transitions.Transition(cur, StatusCompleted, actor, "")
	})
}
