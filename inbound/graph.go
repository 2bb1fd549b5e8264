/*
Package inbound implements the receiving flow: a shipper announces goods,
the warehouse classifies and approves the request, assigns a storage zone,
receives the goods and inspects them.

STATUS GRAPH:

	REQUEST_WAITING ──▶ APPROVAL_WAITING ──▶ APPROVAL_COMPLETED ──┐
	      │   ▲                 │                                  │
	      │   └──── APPROVAL_REJECTED (retry)                      │
	      │                                                        ▼
	      └─────────────────────────────────────────────▶ ZONE_ASSIGNED ◀──┐
	                                                           │    │      │
	                                                           │    └▶ ZONE_WAITING (retry)
	                                                           ▼
	                                    HOLD ◀──────▶ INBOUND_COMPLETED ──▶ DONE
	                                   (retry back)

	DONE is the only terminal status.

SIDE TIMESTAMPS:
  approved_at on APPROVAL_COMPLETED, completed_at on DONE.

SEE ALSO:
  - service.go: the domain actions
  - kpi.go: inbound metrics
*/
package inbound

import (
	"github.com/warp/wms-engine/lifecycle"
)

const (
	StatusRequestWaiting    lifecycle.Status = "REQUEST_WAITING"
	StatusApprovalWaiting   lifecycle.Status = "APPROVAL_WAITING"
	StatusApprovalCompleted lifecycle.Status = "APPROVAL_COMPLETED"
	StatusApprovalRejected  lifecycle.Status = "APPROVAL_REJECTED"
	StatusZoneAssigned      lifecycle.Status = "ZONE_ASSIGNED"
	StatusZoneWaiting       lifecycle.Status = "ZONE_WAITING"
	StatusInboundCompleted  lifecycle.Status = "INBOUND_COMPLETED"
	StatusHold              lifecycle.Status = "HOLD"
	StatusDone              lifecycle.Status = "DONE"
)

// Exception tags raised by inbound checks.
const (
	ExceptionZoneShortage     lifecycle.ExceptionTag = "ZONE_SHORTAGE"
	ExceptionPartialArrival   lifecycle.ExceptionTag = "PARTIAL_ARRIVAL"
	ExceptionInfoMismatch     lifecycle.ExceptionTag = "INFO_MISMATCH"
	ExceptionDeliveryDelayed  lifecycle.ExceptionTag = "DELIVERY_DELAYED"
	ExceptionInspectionFailed lifecycle.ExceptionTag = "INSPECTION_FAILED"
	ExceptionApprovalDelay    lifecycle.ExceptionTag = "APPROVAL_DELAY"
)

// Graph is the inbound transition table.
var Graph = &lifecycle.StatusGraph{
	Kind:       lifecycle.KindInbound,
	Initial:    StatusRequestWaiting,
	Completion: StatusDone,
	Terminal:   []lifecycle.Status{StatusDone},
	Edges: map[lifecycle.Status][]lifecycle.Status{
		StatusRequestWaiting:    {StatusApprovalWaiting, StatusZoneAssigned},
		StatusApprovalWaiting:   {StatusApprovalCompleted, StatusApprovalRejected},
		StatusApprovalCompleted: {StatusZoneAssigned},
		StatusApprovalRejected:  {StatusRequestWaiting},
		StatusZoneAssigned:      {StatusZoneWaiting, StatusInboundCompleted},
		StatusZoneWaiting:       {StatusZoneAssigned},
		StatusInboundCompleted:  {StatusHold, StatusDone},
		StatusHold:              {StatusInboundCompleted},
	},
	Retry: []lifecycle.Edge{
		{From: StatusApprovalRejected, To: StatusRequestWaiting},
		{From: StatusZoneWaiting, To: StatusZoneAssigned},
		{From: StatusHold, To: StatusInboundCompleted},
	},
	Stamps: map[lifecycle.Status]string{
		StatusApprovalCompleted: lifecycle.StampApprovedAt,
		StatusDone:              lifecycle.StampCompletedAt,
	},
}

func init() {
	lifecycle.RegisterGraph(Graph)
	lifecycle.RegisterMetrics(lifecycle.KindInbound, Metrics)
}
