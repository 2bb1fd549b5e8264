package outbound

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wms-engine/lifecycle"
)

// Outbound metric names.
const (
	MetricAvgPickingMinutes     = "avg_picking_minutes"
	MetricAvgInspectionMinutes  = "avg_inspection_minutes"
	MetricAvgPackingMinutes     = "avg_packing_minutes"
	MetricInspectionFailureRate = "inspection_failure_rate"
	MetricPartialShipmentRate   = "partial_shipment_rate"
	MetricAverageOrderValue     = "average_order_value"
	MetricShortageRate          = "shortage_rate"
)

// Metrics computes the outbound metric set.
//
// Partial shipment rate counts only orders that shipped: an order is partial
// when any item left with fewer units than requested.
func Metrics(aggs []*lifecycle.Aggregate) lifecycle.Metrics {
	inspected, failed := 0, 0
	shipped, partial := 0, 0
	values := make([]decimal.Decimal, 0, len(aggs))

	for _, a := range aggs {
		for _, r := range a.RecordsOf(RecordInspection) {
			inspected++
			if r.Data["result"] == string(lifecycle.InspectionFail) {
				failed++
			}
		}
		if _, ok := a.Stamp(lifecycle.StampShippedAt); ok {
			shipped++
			if !a.AllItems(func(it lifecycle.Item) bool { return it.ShippedQuantity >= it.RequestedQuantity }) {
				partial++
			}
		}
		values = append(values, TotalAmount(a))
	}

	return lifecycle.Metrics{
		MetricAvgPickingMinutes:     lifecycle.AverageDuration(aggs, StatusPickingInProgress, StatusPickingCompleted, time.Minute),
		MetricAvgInspectionMinutes:  avgInspection(aggs),
		MetricAvgPackingMinutes:     lifecycle.AverageDuration(aggs, StatusPackingInProgress, StatusPackingCompleted, time.Minute),
		MetricInspectionFailureRate: lifecycle.Rate(failed, inspected),
		MetricPartialShipmentRate:   lifecycle.Rate(partial, shipped),
		MetricAverageOrderValue:     lifecycle.Average(values),
		MetricShortageRate:          lifecycle.Rate(lifecycle.ReachedCount(aggs, StatusInventoryShortage), len(aggs)),
	}
}

// avgInspection measures from PICKING_COMPLETED to whichever inspection
// outcome came first.
func avgInspection(aggs []*lifecycle.Aggregate) decimal.Decimal {
	var values []decimal.Decimal
	for _, a := range aggs {
		start, ok := a.EnteredAt(StatusPickingCompleted)
		if !ok {
			continue
		}
		for _, ev := range a.Events {
			if ev.From == StatusPickingCompleted && (ev.To == StatusInspectionCompleted || ev.To == StatusInspectionHold) {
				d := ev.Timestamp.Sub(start)
				values = append(values, decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(time.Minute))))
				break
			}
		}
	}
	return lifecycle.Average(values)
}
