package outbound

import (
	"fmt"

	"github.com/warp/wms-engine/lifecycle"
)

// Gate refuses to move an order into a status before the work it stands for
// is on the order. It holds for every caller, the raw transition endpoint
// included; the actions in this package satisfy it by construction.
//
//	REQUEST_CREATED       no allocation held (after a retry)
//	INVENTORY_ALLOCATED   every item fully allocated
//	INVENTORY_SHORTAGE    allocation recorded, some item short
//	PICKING_WAITING       pick tasks created
//	PICKING_IN_PROGRESS   a task started, or open tasks after a repick
//	PICKING_COMPLETED     every task done
//	INSPECTION_COMPLETED  every item passed
//	INSPECTION_HOLD       some item failed
//	PACKING_COMPLETED     waybill issued
//	SHIPMENT_CONFIRMED    shipment recorded
//	COMPLETED             shipment recorded
func Gate() lifecycle.Guard {
	return func(agg *lifecycle.Aggregate, to lifecycle.Status, actor string) error {
		if agg.Kind != lifecycle.KindOutbound {
			return nil
		}
		switch to {
		case StatusRequestCreated:
			if len(agg.Allocations) > 0 {
				return violation("allocation_not_released", "release the failed allocation before retrying")
			}
		case StatusInventoryAllocated:
			if len(agg.Allocations) == 0 {
				return violation("allocation_incomplete", "no allocation recorded")
			}
			if it, ok := firstItem(agg, func(it lifecycle.Item) bool { return it.AllocatedQuantity < it.RequestedQuantity }); ok {
				return violation("allocation_incomplete", fmt.Sprintf("item %s has %d of %d allocated", it.ID, it.AllocatedQuantity, it.RequestedQuantity))
			}
		case StatusInventoryShortage:
			if len(agg.Allocations) == 0 {
				return violation("allocation_incomplete", "no allocation recorded")
			}
			if agg.AllItems(func(it lifecycle.Item) bool { return it.AllocatedQuantity >= it.RequestedQuantity }) {
				return violation("no_shortage", "every item is fully allocated")
			}
		case StatusPickingWaiting:
			if len(Instructions(agg)) == 0 {
				return violation("picking_not_planned", "no pick instructions created")
			}
		case StatusPickingInProgress:
			if !pickingUnderway(agg) {
				return violation("picking_not_started", "no pick task is started or open")
			}
		case StatusPickingCompleted:
			tasks := Instructions(agg)
			if len(tasks) == 0 {
				return violation("picking_incomplete", "no pick instructions created")
			}
			for _, ins := range tasks {
				if !ins.Done {
					return violation("picking_incomplete", "pick task "+ins.ID+" is not done")
				}
			}
		case StatusInspectionCompleted:
			if it, ok := firstItem(agg, func(it lifecycle.Item) bool { return it.InspectionResult != lifecycle.InspectionPass }); ok {
				return violation("inspection_incomplete", fmt.Sprintf("item %s has not passed inspection", it.ID))
			}
		case StatusInspectionHold:
			if _, ok := firstItem(agg, func(it lifecycle.Item) bool { return it.InspectionResult == lifecycle.InspectionFail }); !ok {
				return violation("inspection_not_failed", "no item failed inspection")
			}
		case StatusPackingCompleted:
			if agg.Attribute(AttrWaybillNumber) == "" {
				return violation("waybill_missing", "packing completes with a waybill")
			}
		case StatusShipmentConfirmed, StatusCompleted:
			if len(agg.RecordsOf(RecordShipment)) == 0 {
				return violation("shipment_pending", "no shipment recorded")
			}
		}
		return nil
	}
}

func pickingUnderway(agg *lifecycle.Aggregate) bool {
	for _, ins := range Instructions(agg) {
		if agg.Status == StatusInspectionHold && !ins.Done {
			return true
		}
		if agg.Status != StatusInspectionHold && ins.Started {
			return true
		}
	}
	return false
}

func firstItem(agg *lifecycle.Aggregate, pred func(lifecycle.Item) bool) (lifecycle.Item, bool) {
	for _, it := range agg.Items {
		if pred(it) {
			return it, true
		}
	}
	return lifecycle.Item{}, false
}

func violation(rule, detail string) error {
	return &lifecycle.PolicyViolationError{Rule: rule, Detail: detail}
}
