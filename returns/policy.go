package returns

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/wms-engine/lifecycle"
)

// =============================================================================
// REASONS AND DECISIONS
// =============================================================================

type Reason string

const (
	ReasonChangeOfMind   Reason = "CUSTOMER_CHANGE_OF_MIND"
	ReasonProductDefect  Reason = "PRODUCT_DEFECT"
	ReasonProductDamaged Reason = "PRODUCT_DAMAGED"
	ReasonShippingDamage Reason = "SHIPPING_DAMAGE"
	ReasonDeliveryDelay  Reason = "DELIVERY_DELAY"
	ReasonWrongItem      Reason = "WRONG_ITEM"
	ReasonExpiration     Reason = "EXPIRATION_DATE"
	ReasonOther          Reason = "OTHER"
)

// Decision is what happens to a graded item.
type Decision string

const (
	DecisionRestocking Decision = "RESTOCKING"
	DecisionRepair     Decision = "REPAIR"
	DecisionDisposal   Decision = "DISPOSAL"
)

func (d Decision) Valid() bool {
	return d == DecisionRestocking || d == DecisionRepair || d == DecisionDisposal
}

// ReasonPolicy bounds returns given for one reason. WindowDays gates
// approval and RefundPercent caps the refund. Restockable is informational:
// it tells operators whether items returned for the reason usually go back
// to stock, but only the grade decides whether an item may be restocked.
type ReasonPolicy struct {
	WindowDays    int
	RefundPercent int
	Restockable   bool
}

// GradePolicy is the treatment of an item graded at one level.
type GradePolicy struct {
	Restockable      bool
	RefundPercent    int
	RequiresApproval bool
}

// Policy holds every tunable return rule. Build variants with the factory
// package or start from DefaultPolicy.
type Policy struct {
	Reasons map[Reason]ReasonPolicy
	Grades  map[lifecycle.Grade]GradePolicy
}

func DefaultPolicy() Policy {
	return Policy{
		Reasons: map[Reason]ReasonPolicy{
			ReasonChangeOfMind:   {WindowDays: 30, RefundPercent: 100, Restockable: true},
			ReasonProductDefect:  {WindowDays: 365, RefundPercent: 100},
			ReasonProductDamaged: {WindowDays: 365, RefundPercent: 100},
			ReasonShippingDamage: {WindowDays: 14, RefundPercent: 100},
			ReasonDeliveryDelay:  {WindowDays: 7, RefundPercent: 100, Restockable: true},
			ReasonWrongItem:      {WindowDays: 30, RefundPercent: 100, Restockable: true},
			ReasonExpiration:     {WindowDays: 365, RefundPercent: 100},
			ReasonOther:          {WindowDays: 30, RefundPercent: 80},
		},
		Grades: map[lifecycle.Grade]GradePolicy{
			lifecycle.GradeA: {Restockable: true, RefundPercent: 100},
			lifecycle.GradeB: {Restockable: true, RefundPercent: 80, RequiresApproval: true},
			lifecycle.GradeC: {Restockable: false, RefundPercent: 50, RequiresApproval: true},
		},
	}
}

// Validate checks that percentages are within 0..100 and every grade has a
// policy. GRADE_A and GRADE_B must stay restockable and GRADE_C must not;
// only refunds and approvals are tunable per grade.
func (p Policy) Validate() error {
	for _, g := range []lifecycle.Grade{lifecycle.GradeA, lifecycle.GradeB, lifecycle.GradeC} {
		gp, ok := p.Grades[g]
		if !ok {
			return &lifecycle.ValidationError{Field: "grades", Message: "missing policy for " + string(g)}
		}
		if gp.RefundPercent < 0 || gp.RefundPercent > 100 {
			return &lifecycle.ValidationError{Field: "grades." + string(g), Message: "refund percent must be 0..100"}
		}
		if want := g != lifecycle.GradeC; gp.Restockable != want {
			return &lifecycle.ValidationError{Field: "grades." + string(g), Message: fmt.Sprintf("restockable must be %t", want)}
		}
	}
	if len(p.Reasons) == 0 {
		return &lifecycle.ValidationError{Field: "reasons", Message: "at least one reason is required"}
	}
	for r, rp := range p.Reasons {
		if rp.WindowDays <= 0 {
			return &lifecycle.ValidationError{Field: "reasons." + string(r), Message: "window must be positive"}
		}
		if rp.RefundPercent < 0 || rp.RefundPercent > 100 {
			return &lifecycle.ValidationError{Field: "reasons." + string(r), Message: "refund percent must be 0..100"}
		}
	}
	return nil
}

// ReasonNames returns the configured reasons, sorted.
func (p Policy) ReasonNames() []Reason {
	out := make([]Reason, 0, len(p.Reasons))
	for r := range p.Reasons {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decide checks a rework decision against the grade policy. An item whose
// grade is not restockable cannot be restocked; repair and disposal are
// always allowed.
func (p Policy) Decide(grade lifecycle.Grade, decision Decision) error {
	if !decision.Valid() {
		return &lifecycle.ValidationError{Field: "decision", Message: "unknown decision " + string(decision)}
	}
	gp, ok := p.Grades[grade]
	if !ok {
		return &lifecycle.ValidationError{Field: "grade", Message: "item is not graded"}
	}
	if decision == DecisionRestocking && !gp.Restockable {
		return &lifecycle.PolicyViolationError{
			Rule:   "grade_not_restockable",
			Detail: fmt.Sprintf("%s items cannot be restocked", grade),
		}
	}
	return nil
}

// CalculateRefund is unit price x quantity x the lower of the grade and
// reason refund percentages, rounded to cents.
func (p Policy) CalculateRefund(it lifecycle.Item) (decimal.Decimal, error) {
	gp, ok := p.Grades[it.Grade]
	if !ok {
		return decimal.Zero, &lifecycle.ValidationError{Field: "items." + string(it.ID) + ".grade", Message: "item is not graded"}
	}
	reason := Reason(it.Attribute(itemAttrReason))
	rp, ok := p.Reasons[reason]
	if !ok {
		return decimal.Zero, &lifecycle.ValidationError{Field: "items." + string(it.ID) + ".reason", Message: "unknown reason " + string(reason)}
	}
	pct := min(gp.RefundPercent, rp.RefundPercent)
	return it.TotalPrice().
		Mul(decimal.NewFromInt(int64(pct))).
		Div(decimal.NewFromInt(100)).
		Round(2), nil
}
