package returns

import (
	"fmt"

	"github.com/warp/wms-engine/lifecycle"
)

// Gate holds return requests to the rules the actions enforce, so a raw
// transition cannot skip them:
//
//	RETURN_APPROVED        return window and final sale eligibility
//	REWORK_DECISION        every item graded
//	decision branches      every item decided, each decision allowed by its
//	                       grade, branch matching the decisions
//	DISPOSAL_TARGET        (from DEFECTIVE_CONVERSION) repair items converted
//	                       and items left to dispose of
//	RESTOCKING_COMPLETED   restock items shelved, or repair items REPAIRED
//	                       with nothing left to dispose of
//	DISPOSAL_COMPLETED     disposal items disposed of
//	COMPLETED              refund booked
func (s *Service) Gate() lifecycle.Guard {
	return func(agg *lifecycle.Aggregate, to lifecycle.Status, actor string) error {
		if agg.Kind != lifecycle.KindReturn {
			return nil
		}
		switch to {
		case StatusReturnApproved:
			_, err := s.checkEligibility(agg, s.flow.Clock().Now())
			return err
		case StatusReworkDecision:
			for _, it := range agg.Items {
				if it.Grade == "" {
					return refuse("grading_incomplete", fmt.Sprintf("item %s is not graded", it.ID))
				}
			}
		case StatusRestockingDecision, StatusDefectiveConversion, StatusDisposalTarget:
			if agg.Status == StatusReworkDecision {
				return s.checkBranch(agg, to)
			}
			if err := checkConverted(agg); err != nil {
				return err
			}
			if len(itemsHeadedTo(agg, DecisionDisposal)) == 0 {
				return refuse("nothing_to_dispose", "no item is headed to disposal")
			}
		case StatusRestockingCompleted:
			if agg.Status == StatusDefectiveConversion {
				if err := checkConverted(agg); err != nil {
					return err
				}
				if len(itemsHeadedTo(agg, DecisionWriteOff)) > 0 {
					return refuse("decision_mismatch", "written off items are not restocked")
				}
				if ids := itemsHeadedTo(agg, DecisionDisposal); len(ids) > 0 {
					return refuse("pending_disposal", fmt.Sprintf("item %s still awaits disposal", ids[0]))
				}
				return nil
			}
			return pending(agg, DecisionRestocking, RecordRestock, "restock_pending")
		case StatusDisposalCompleted:
			return pending(agg, DecisionDisposal, RecordDisposal, "disposal_pending")
		case StatusCompleted:
			if !agg.HasRecord(RecordRefund, "", "") {
				return refuse("refund_pending", "process the refund before completing")
			}
		}
		return nil
	}
}

// checkBranch verifies the decisions taken in REWORK_DECISION lead to to.
func (s *Service) checkBranch(agg *lifecycle.Aggregate, to lifecycle.Status) error {
	for _, it := range agg.Items {
		d := DecisionOf(agg, it.ID)
		if d == "" {
			return refuse("decision_incomplete", fmt.Sprintf("item %s has no rework decision", it.ID))
		}
		if err := s.policy.Decide(it.Grade, d); err != nil {
			return err
		}
	}
	if want := branchFor(agg); want != to {
		return refuse("branch_mismatch", fmt.Sprintf("decisions lead to %s", want))
	}
	return nil
}

// checkConverted requires every repair item to carry a conversion outcome.
func checkConverted(agg *lifecycle.Aggregate) error {
	if ids := itemsHeadedTo(agg, DecisionRepair); len(ids) > 0 {
		return refuse("conversion_pending", fmt.Sprintf("item %s is not converted", ids[0]))
	}
	return nil
}

func pending(agg *lifecycle.Aggregate, d Decision, t lifecycle.RecordType, rule string) error {
	for _, id := range itemsHeadedTo(agg, d) {
		if !agg.HasRecord(t, id, "") {
			return refuse(rule, fmt.Sprintf("item %s is not done", id))
		}
	}
	return nil
}

func refuse(rule, detail string) error {
	return &lifecycle.PolicyViolationError{Rule: rule, Detail: detail}
}
