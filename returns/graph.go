/*
Package returns implements customer returns: approval against the return
window, inbound receipt, grading, the rework decision, restocking or
disposal, and the refund.

STATUS GRAPH:

	RETURN_RECEIVED ──▶ RETURN_APPROVED ──▶ INBOUND_WAIT ──▶ INBOUND_COMPLETED
	      │                                                        │
	      ▼                                                        ▼
	RETURN_REJECTED (terminal)                          INSPECTION_IN_PROGRESS
	                                                               │
	                                                               ▼
	                                                        REWORK_DECISION
	                               ┌───────────────────────────────┼──────────────────────┐
	                               ▼                               ▼                      ▼
	                      RESTOCKING_DECISION            DEFECTIVE_CONVERSION       DISPOSAL_TARGET
	                               │                     │       │        │               │
	                               ▼                     │       │        └──────────────▶│
	                      RESTOCKING_COMPLETED ◀─────────┘       │                        ▼
	                               │                             │              DISPOSAL_APPROVAL_WAIT
	                               ▼                             │                        │
	                           COMPLETED ◀───────────────────────┘                        ▼
	                               ▲                                            DISPOSAL_COMPLETED
	                               └──────────────────────────────────────────────────────┘

	The graph has no retry edges.

ACTOR PERMISSIONS:
  Permissions names the roles allowed to enter each status. ADMIN may enter
  any status.

SIDE TIMESTAMPS:
  approved_at on RETURN_APPROVED, rejected_at on RETURN_REJECTED,
  completed_at on COMPLETED.
*/
package returns

import (
	"github.com/warp/wms-engine/lifecycle"
)

const (
	StatusReturnReceived       lifecycle.Status = "RETURN_RECEIVED"
	StatusReturnApproved       lifecycle.Status = "RETURN_APPROVED"
	StatusReturnRejected       lifecycle.Status = "RETURN_REJECTED"
	StatusInboundWait          lifecycle.Status = "INBOUND_WAIT"
	StatusInboundCompleted     lifecycle.Status = "INBOUND_COMPLETED"
	StatusInspectionInProgress lifecycle.Status = "INSPECTION_IN_PROGRESS"
	StatusReworkDecision       lifecycle.Status = "REWORK_DECISION"
	StatusRestockingDecision   lifecycle.Status = "RESTOCKING_DECISION"
	StatusDefectiveConversion  lifecycle.Status = "DEFECTIVE_CONVERSION"
	StatusDisposalTarget       lifecycle.Status = "DISPOSAL_TARGET"
	StatusDisposalApprovalWait lifecycle.Status = "DISPOSAL_APPROVAL_WAIT"
	StatusRestockingCompleted  lifecycle.Status = "RESTOCKING_COMPLETED"
	StatusDisposalCompleted    lifecycle.Status = "DISPOSAL_COMPLETED"
	StatusCompleted            lifecycle.Status = "COMPLETED"
)

const (
	ExceptionOutsideWindow lifecycle.ExceptionTag = "RETURN_OUTSIDE_WINDOW"
	ExceptionIneligible    lifecycle.ExceptionTag = "INELIGIBLE_PRODUCT"
	ExceptionSevereDamage  lifecycle.ExceptionTag = "SEVERE_DAMAGE"
)

// Roles.
const (
	ActorCustomerService  = "CUSTOMER_SERVICE"
	ActorSystem           = "WMS_SYSTEM"
	ActorInboundStaff     = "INBOUND_STAFF"
	ActorInspector        = "INSPECTION_STAFF"
	ActorReturnManager    = "RETURN_MANAGER"
	ActorRestockingStaff  = "RESTOCKING_STAFF"
	ActorDisposalStaff    = "DISPOSAL_STAFF"
	ActorWarehouseManager = "WAREHOUSE_MANAGER"
	ActorOMS              = "OMS_OPERATOR"
	ActorAdmin            = "ADMIN"
)

var Graph = &lifecycle.StatusGraph{
	Kind:       lifecycle.KindReturn,
	Initial:    StatusReturnReceived,
	Completion: StatusCompleted,
	Terminal:   []lifecycle.Status{StatusReturnRejected, StatusCompleted},
	Edges: map[lifecycle.Status][]lifecycle.Status{
		StatusReturnReceived:       {StatusReturnApproved, StatusReturnRejected},
		StatusReturnApproved:       {StatusInboundWait},
		StatusInboundWait:          {StatusInboundCompleted},
		StatusInboundCompleted:     {StatusInspectionInProgress},
		StatusInspectionInProgress: {StatusReworkDecision},
		StatusReworkDecision:       {StatusRestockingDecision, StatusDefectiveConversion, StatusDisposalTarget},
		StatusRestockingDecision:   {StatusRestockingCompleted},
		StatusDisposalTarget:       {StatusDisposalApprovalWait},
		StatusDisposalApprovalWait: {StatusDisposalCompleted},
		StatusDefectiveConversion:  {StatusDisposalTarget, StatusRestockingCompleted, StatusCompleted},
		StatusRestockingCompleted:  {StatusCompleted},
		StatusDisposalCompleted:    {StatusCompleted},
	},
	Stamps: map[lifecycle.Status]string{
		StatusReturnApproved: lifecycle.StampApprovedAt,
		StatusReturnRejected: lifecycle.StampRejectedAt,
		StatusCompleted:      lifecycle.StampCompletedAt,
	},
}

// Permissions lists the roles allowed to enter each status.
var Permissions = map[lifecycle.Status][]string{
	StatusReturnApproved:       {ActorCustomerService},
	StatusReturnRejected:       {ActorCustomerService},
	StatusInboundWait:          {ActorCustomerService, ActorSystem},
	StatusInboundCompleted:     {ActorInboundStaff},
	StatusInspectionInProgress: {ActorInspector},
	StatusReworkDecision:       {ActorInspector},
	StatusRestockingDecision:   {ActorReturnManager},
	StatusDefectiveConversion:  {ActorReturnManager},
	StatusDisposalTarget:       {ActorReturnManager},
	StatusDisposalApprovalWait: {ActorDisposalStaff, ActorWarehouseManager},
	StatusRestockingCompleted:  {ActorRestockingStaff, ActorReturnManager, ActorSystem},
	StatusDisposalCompleted:    {ActorDisposalStaff},
	StatusCompleted:            {ActorOMS, ActorSystem, ActorReturnManager},
}

// ActorGuard enforces Permissions on return transitions.
func ActorGuard() lifecycle.Guard {
	return lifecycle.ActorGuard(lifecycle.KindReturn, Permissions, ActorAdmin)
}

func init() {
	lifecycle.RegisterGraph(Graph)
	lifecycle.RegisterMetrics(lifecycle.KindReturn, Metrics)
}
