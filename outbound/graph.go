/*
Package outbound implements order fulfilment: allocate stock, pick, inspect,
pack, ship and hand the order back to the OMS.

STATUS GRAPH:

	REQUEST_CREATED ──▶ INVENTORY_ALLOCATED ──▶ PICKING_WAITING ──▶ PICKING_IN_PROGRESS
	   ▲      │                                                    ▲         │
	   │      ▼                                                    │         ▼
	   └─ INVENTORY_SHORTAGE (retry)              INSPECTION_HOLD ─┘   PICKING_COMPLETED
	                                                    ▲   (retry)          │
	                                                    └────────────────────┤
	                                                                         ▼
	COMPLETED ◀── SHIPMENT_CONFIRMED ◀── PACKING_COMPLETED ◀── PACKING_IN_PROGRESS ◀── INSPECTION_COMPLETED

	COMPLETED is the only terminal status.

ACTOR PERMISSIONS:
  Each target status names the roles that may enter it (Permissions).
  ADMIN may enter any status. Install the rule with ActorGuard().

SIDE TIMESTAMPS:
  shipped_at on SHIPMENT_CONFIRMED, completed_at on COMPLETED.
*/
package outbound

import (
	"github.com/warp/wms-engine/lifecycle"
)

const (
	StatusRequestCreated      lifecycle.Status = "REQUEST_CREATED"
	StatusInventoryAllocated  lifecycle.Status = "INVENTORY_ALLOCATED"
	StatusInventoryShortage   lifecycle.Status = "INVENTORY_SHORTAGE"
	StatusPickingWaiting      lifecycle.Status = "PICKING_WAITING"
	StatusPickingInProgress   lifecycle.Status = "PICKING_IN_PROGRESS"
	StatusPickingCompleted    lifecycle.Status = "PICKING_COMPLETED"
	StatusInspectionCompleted lifecycle.Status = "INSPECTION_COMPLETED"
	StatusInspectionHold      lifecycle.Status = "INSPECTION_HOLD"
	StatusPackingInProgress   lifecycle.Status = "PACKING_IN_PROGRESS"
	StatusPackingCompleted    lifecycle.Status = "PACKING_COMPLETED"
	StatusShipmentConfirmed   lifecycle.Status = "SHIPMENT_CONFIRMED"
	StatusCompleted           lifecycle.Status = "COMPLETED"
)

const (
	ExceptionInventoryInsufficient lifecycle.ExceptionTag = "INVENTORY_INSUFFICIENT"
	ExceptionProductDamaged        lifecycle.ExceptionTag = "PRODUCT_DAMAGED"
	ExceptionShortPick             lifecycle.ExceptionTag = "SHORT_PICK"
)

// Roles.
const (
	ActorSystem    = "WMS_SYSTEM"
	ActorOMS       = "OMS_OPERATOR"
	ActorPicker    = "PICKING_STAFF"
	ActorInspector = "INSPECTION_STAFF"
	ActorPacker    = "PACKING_STAFF"
	ActorShipper   = "SHIPPING_STAFF"
	ActorAdmin     = "ADMIN"
)

var Graph = &lifecycle.StatusGraph{
	Kind:       lifecycle.KindOutbound,
	Initial:    StatusRequestCreated,
	Completion: StatusCompleted,
	Terminal:   []lifecycle.Status{StatusCompleted},
	Edges: map[lifecycle.Status][]lifecycle.Status{
		StatusRequestCreated:      {StatusInventoryAllocated, StatusInventoryShortage},
		StatusInventoryShortage:   {StatusRequestCreated},
		StatusInventoryAllocated:  {StatusPickingWaiting},
		StatusPickingWaiting:      {StatusPickingInProgress},
		StatusPickingInProgress:   {StatusPickingCompleted},
		StatusPickingCompleted:    {StatusInspectionCompleted, StatusInspectionHold},
		StatusInspectionHold:      {StatusPickingInProgress},
		StatusInspectionCompleted: {StatusPackingInProgress},
		StatusPackingInProgress:   {StatusPackingCompleted},
		StatusPackingCompleted:    {StatusShipmentConfirmed},
		StatusShipmentConfirmed:   {StatusCompleted},
	},
	Retry: []lifecycle.Edge{
		{From: StatusInventoryShortage, To: StatusRequestCreated},
		{From: StatusInspectionHold, To: StatusPickingInProgress},
	},
	Stamps: map[lifecycle.Status]string{
		StatusShipmentConfirmed: lifecycle.StampShippedAt,
		StatusCompleted:         lifecycle.StampCompletedAt,
	},
}

// Permissions lists the roles allowed to enter each status.
var Permissions = map[lifecycle.Status][]string{
	StatusRequestCreated:      {ActorSystem, ActorOMS},
	StatusInventoryAllocated:  {ActorSystem},
	StatusInventoryShortage:   {ActorSystem, ActorOMS},
	StatusPickingWaiting:      {ActorSystem, ActorPicker},
	StatusPickingInProgress:   {ActorPicker},
	StatusPickingCompleted:    {ActorPicker},
	StatusInspectionCompleted: {ActorInspector},
	StatusInspectionHold:      {ActorInspector},
	StatusPackingInProgress:   {ActorPacker},
	StatusPackingCompleted:    {ActorPacker},
	StatusShipmentConfirmed:   {ActorShipper},
	StatusCompleted:           {ActorSystem, ActorOMS},
}

// ActorGuard enforces Permissions on outbound transitions.
func ActorGuard() lifecycle.Guard {
	return lifecycle.ActorGuard(lifecycle.KindOutbound, Permissions, ActorAdmin)
}

func init() {
	lifecycle.RegisterGraph(Graph)
	lifecycle.RegisterMetrics(lifecycle.KindOutbound, Metrics)
}
