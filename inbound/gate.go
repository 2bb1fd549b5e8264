package inbound

import (
	"fmt"

	"github.com/warp/wms-engine/lifecycle"
)

// Gate holds inbound requests to the same preconditions the actions check:
// no zone before approval when one is required, no receipt before a zone,
// no DONE or HOLD without a verdict on every item.
func Gate() lifecycle.Guard {
	return func(agg *lifecycle.Aggregate, to lifecycle.Status, actor string) error {
		if agg.Kind != lifecycle.KindInbound {
			return nil
		}
		switch to {
		case StatusZoneAssigned:
			if agg.Status == StatusRequestWaiting && agg.Attribute(AttrRequiresApproval) == "true" {
				return &lifecycle.PolicyViolationError{Rule: "approval_required", Detail: "request must be approved before zone assignment"}
			}
			if agg.Status == StatusZoneWaiting && agg.Attribute(AttrZone) == "" {
				return &lifecycle.PolicyViolationError{Rule: "zone_missing", Detail: "no zone with enough capacity assigned"}
			}
		case StatusInboundCompleted:
			if agg.Status != StatusZoneAssigned {
				return nil
			}
			if agg.Attribute(AttrZone) == "" {
				return &lifecycle.PolicyViolationError{Rule: "zone_missing", Detail: "receive into an assigned zone"}
			}
			for _, it := range agg.Items {
				if !agg.HasRecord(RecordReceipt, it.ID, "") {
					return &lifecycle.PolicyViolationError{Rule: "receipt_missing", Detail: fmt.Sprintf("item %s has no receipt count", it.ID)}
				}
			}
		case StatusDone:
			for _, it := range agg.Items {
				if it.InspectionResult != lifecycle.InspectionPass {
					return &lifecycle.PolicyViolationError{Rule: "inspection_incomplete", Detail: fmt.Sprintf("item %s has not passed inspection", it.ID)}
				}
			}
		case StatusHold:
			if agg.AllItems(func(it lifecycle.Item) bool { return it.InspectionResult != lifecycle.InspectionFail }) {
				return &lifecycle.PolicyViolationError{Rule: "inspection_not_failed", Detail: "no item failed inspection"}
			}
		}
		return nil
	}
}
