package inbound_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wms-engine/inbound"
	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/lifecycle/store"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*inbound.Service, *lifecycle.ManualClock) {
	t.Helper()
	clock := lifecycle.NewManualClock(t0)
	ts := lifecycle.NewTransitionService(clock, lifecycle.NewSequentialIDs(t.Name()))
	ts.Gates = append(ts.Gates, inbound.Gate())
	flow := lifecycle.NewWorkflow(store.NewMemory(), ts, nil)
	return inbound.NewService(flow, inbound.DefaultPolicy()), clock
}

func twoLines() []inbound.Line {
	return []inbound.Line{
		{ID: "line-1", SKU: "SKU-1", Name: "Widget", Quantity: 60},
		{ID: "line-2", SKU: "SKU-2", Name: "Gadget", Quantity: 40},
	}
}

func noApproval() *bool {
	b := false
	return &b
}

// =============================================================================
// GRAPH
// =============================================================================

func TestGraph_IsValid(t *testing.T) {
	require.NoError(t, inbound.Graph.Validate())
	assert.Equal(t, inbound.StatusRequestWaiting, lifecycle.InitialStatus(lifecycle.KindInbound))
	assert.True(t, lifecycle.IsTerminal(lifecycle.KindInbound, inbound.StatusDone))
}

func TestGraph_DirectZoneAssignmentButNoWayBack(t *testing.T) {
	// GIVEN: a request in REQUEST_WAITING
	// THEN: ZONE_ASSIGNED is one step away, while the reverse edge does not exist
	assert.True(t, lifecycle.IsLegalTransition(lifecycle.KindInbound, inbound.StatusRequestWaiting, inbound.StatusZoneAssigned))
	assert.False(t, lifecycle.IsLegalTransition(lifecycle.KindInbound, inbound.StatusZoneAssigned, inbound.StatusRequestWaiting))

	ts := lifecycle.NewTransitionService(lifecycle.NewManualClock(t0), nil)
	agg, err := lifecycle.NewAggregate(lifecycle.KindInbound, lifecycle.CreateOptions{
		Items: []lifecycle.Item{{ID: "line-1", RequestedQuantity: 1}},
	}, lifecycle.NewManualClock(t0), lifecycle.UUIDGenerator{})
	require.NoError(t, err)

	assigned, err := ts.Transition(agg, inbound.StatusZoneAssigned, inbound.ActorManager, "")
	require.NoError(t, err)
	_, err = ts.Transition(assigned, inbound.StatusRequestWaiting, inbound.ActorManager, "")
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
}

func TestGate_MirrorsActionRules(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	gate := inbound.Gate()

	// GIVEN: a request that still needs approval
	// THEN: it may not take a zone straight from REQUEST_WAITING
	agg, err := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines()})
	require.NoError(t, err)
	var pv *lifecycle.PolicyViolationError
	require.ErrorAs(t, gate(agg, inbound.StatusZoneAssigned, inbound.ActorManager), &pv)
	assert.Equal(t, "approval_required", pv.Rule)

	// GIVEN: a request without approval in ZONE_ASSIGNED but no zone or counts
	free, err := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines(), RequiresApproval: noApproval()})
	require.NoError(t, err)
	require.NoError(t, gate(free, inbound.StatusZoneAssigned, inbound.ActorManager))
	free = free.Clone()
	free.Status = inbound.StatusZoneAssigned
	require.ErrorAs(t, gate(free, inbound.StatusInboundCompleted, inbound.ActorManager), &pv)
	assert.Equal(t, "zone_missing", pv.Rule)

	free.SetAttribute(inbound.AttrZone, "A")
	require.ErrorAs(t, gate(free, inbound.StatusInboundCompleted, inbound.ActorManager), &pv)
	assert.Equal(t, "receipt_missing", pv.Rule)

	// No verdict yet: neither DONE nor HOLD
	assert.ErrorIs(t, gate(free, inbound.StatusDone, inbound.ActorInspector), lifecycle.ErrPolicyViolation)
	assert.ErrorIs(t, gate(free, inbound.StatusHold, inbound.ActorInspector), lifecycle.ErrPolicyViolation)
}

// =============================================================================
// CREATE AND CLASSIFY
// =============================================================================

func TestCreate_AppliesDefaults(t *testing.T) {
	svc, _ := newService(t)
	agg, err := svc.Create(context.Background(), inbound.CreateOptions{ShipperID: "SHP-1", Lines: twoLines()})
	require.NoError(t, err)

	assert.Equal(t, inbound.StatusRequestWaiting, agg.Status)
	assert.Empty(t, agg.Events)
	assert.Equal(t, lifecycle.PriorityNormal, agg.Priority)
	assert.Equal(t, "NORMAL", agg.Attribute(inbound.AttrInboundType))
	assert.Equal(t, "true", agg.Attribute(inbound.AttrRequiresApproval))
	assert.Equal(t, t0.Add(24*time.Hour).Format(time.RFC3339Nano), agg.Attribute(inbound.AttrExpectedArrival))
}

func TestCreate_RejectsEmptyLines(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(context.Background(), inbound.CreateOptions{ShipperID: "SHP-1"})
	assert.ErrorIs(t, err, lifecycle.ErrValidation)
}

func TestClassify_Rules(t *testing.T) {
	policy := inbound.DefaultPolicy()
	build := func(attrs map[string]string, items ...lifecycle.Item) *lifecycle.Aggregate {
		agg, err := lifecycle.NewAggregate(lifecycle.KindInbound, lifecycle.CreateOptions{Items: items, Attributes: attrs},
			lifecycle.NewManualClock(t0), lifecycle.UUIDGenerator{})
		require.NoError(t, err)
		return agg
	}

	normal := policy.Classify(build(nil, lifecycle.Item{ID: "1", RequestedQuantity: 10}))
	assert.Equal(t, inbound.Classification{Type: inbound.TypeNormal}, normal)

	large := policy.Classify(build(nil, lifecycle.Item{ID: "1", RequestedQuantity: 100001}))
	assert.Equal(t, inbound.TypeLargeOrder, large.Type)
	assert.True(t, large.RequiresApproval)

	atThreshold := policy.Classify(build(nil, lifecycle.Item{ID: "1", RequestedQuantity: 100000}))
	assert.Equal(t, inbound.TypeNormal, atThreshold.Type)

	special := policy.Classify(build(nil,
		lifecycle.Item{ID: "1", RequestedQuantity: 200000},
		lifecycle.Item{ID: "2", RequestedQuantity: 1, Attributes: map[string]string{"special_handling": "true"}}))
	assert.Equal(t, inbound.TypeSpecialHandling, special.Type, "special handling wins over size")

	ret := policy.Classify(build(map[string]string{inbound.AttrInboundType: "RETURN"}, lifecycle.Item{ID: "1", RequestedQuantity: 1}))
	assert.Equal(t, inbound.TypeReturn, ret.Type)
	assert.True(t, ret.RequiresApproval)
}

// =============================================================================
// APPROVAL FLOW
// =============================================================================

func TestFullApprovalFlow(t *testing.T) {
	// GIVEN: a request that needs approval
	// WHEN: it is submitted, approved, zoned, received and passes inspection
	// THEN: it ends DONE with both side timestamps and three inventory syncs
	ctx := context.Background()
	svc, clock := newService(t)
	agg, err := svc.Create(ctx, inbound.CreateOptions{ShipperID: "SHP-1", Lines: twoLines()})
	require.NoError(t, err)

	agg, err = svc.Submit(ctx, agg.ID, inbound.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusApprovalWaiting, agg.Status)
	assert.Equal(t, "NORMAL", agg.Attribute(inbound.AttrClassification))

	clock.Advance(30 * time.Minute)
	agg, err = svc.Approve(ctx, agg.ID, inbound.ActorManager)
	require.NoError(t, err)
	approvedAt, ok := agg.Stamp(lifecycle.StampApprovedAt)
	require.True(t, ok)
	assert.Equal(t, t0.Add(30*time.Minute), approvedAt)

	agg, err = svc.AssignZone(ctx, agg.ID, inbound.ZoneRequest{Zone: "A", ZoneName: "Ambient", AvailableCapacity: 500, Actor: inbound.ActorManager})
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusZoneAssigned, agg.Status)
	assert.Equal(t, "A-001", agg.Attribute(inbound.AttrLocations))

	agg, err = svc.Receive(ctx, agg.ID, []inbound.Receipt{{ItemID: "line-1", Quantity: 60}, {ItemID: "line-2", Quantity: 40}}, inbound.ActorWorker)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusInboundCompleted, agg.Status)
	assert.Empty(t, agg.Exceptions)

	clock.Advance(time.Hour)
	agg, err = svc.Inspect(ctx, agg.ID, []inbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionPass},
		{ItemID: "line-2", Result: lifecycle.InspectionPass},
	}, inbound.ActorInspector)
	require.NoError(t, err)

	assert.Equal(t, inbound.StatusDone, agg.Status)
	assert.True(t, agg.IsTerminal())
	_, ok = agg.Stamp(lifecycle.StampCompletedAt)
	assert.True(t, ok)
	assert.Len(t, agg.Events, 5)
	assert.Len(t, agg.RecordsOf(inbound.RecordInventorySync), 3)
	assert.Len(t, agg.RecordsOf(inbound.RecordInspection), 2)

	item, _ := agg.Item("line-1")
	assert.Equal(t, 60, item.InspectedQuantity)
	assert.Equal(t, lifecycle.InspectionPass, item.InspectionResult)
}

func TestSubmit_WithoutApprovalStaysWaiting(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg, err := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines(), RequiresApproval: noApproval()})
	require.NoError(t, err)

	agg, err = svc.Submit(ctx, agg.ID, inbound.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusRequestWaiting, agg.Status)
	assert.Equal(t, "false", agg.Attribute(inbound.AttrRequiresApproval))

	agg, err = svc.AssignZone(ctx, agg.ID, inbound.ZoneRequest{Zone: "B", AvailableCapacity: 250, Actor: inbound.ActorManager})
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusZoneAssigned, agg.Status)
	require.Len(t, agg.Events, 1)
	assert.Equal(t, inbound.StatusRequestWaiting, agg.Events[0].From)
}

func TestSubmit_LargeOrderOverridesShipperFlag(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg, err := svc.Create(ctx, inbound.CreateOptions{
		Lines:            []inbound.Line{{ID: "line-1", Quantity: 150000}},
		RequiresApproval: noApproval(),
	})
	require.NoError(t, err)

	agg, err = svc.Submit(ctx, agg.ID, inbound.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusApprovalWaiting, agg.Status)
	assert.Equal(t, "LARGE_ORDER", agg.Attribute(inbound.AttrClassification))
}

func TestSubmit_TwiceIsIllegal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg, _ := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines()})
	_, err := svc.Submit(ctx, agg.ID, inbound.ActorSystem)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, agg.ID, inbound.ActorSystem)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
}

func TestAssignZone_RequiresApprovalFirst(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg, _ := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines()})

	_, err := svc.AssignZone(ctx, agg.ID, inbound.ZoneRequest{Zone: "A", AvailableCapacity: 1000})
	assert.ErrorIs(t, err, lifecycle.ErrPolicyViolation)

	got, _ := svc.Get(ctx, agg.ID)
	assert.Equal(t, inbound.StatusRequestWaiting, got.Status)
	assert.Empty(t, got.Events)
}

func TestRejectAndResubmit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg, _ := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines()})
	agg, _ = svc.Submit(ctx, agg.ID, inbound.ActorSystem)

	_, err := svc.Reject(ctx, agg.ID, inbound.ActorManager, "  ")
	assert.ErrorIs(t, err, lifecycle.ErrValidation)

	agg, err = svc.Reject(ctx, agg.ID, inbound.ActorManager, "missing documents")
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusApprovalRejected, agg.Status)
	last, _ := agg.LastEvent()
	assert.Equal(t, "missing documents", last.Reason)

	agg, err = svc.Resubmit(ctx, agg.ID, inbound.ActorShipper)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusRequestWaiting, agg.Status)

	agg, err = svc.Submit(ctx, agg.ID, inbound.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusApprovalWaiting, agg.Status)
	assert.Len(t, agg.Events, 4)
}

// =============================================================================
// ZONE SHORTAGE
// =============================================================================

func TestAssignZone_ShortageWaitsThenRetries(t *testing.T) {
	// GIVEN: an approved request for 100 units
	// WHEN: the zone has only 80 free
	// THEN: it is tagged ZONE_SHORTAGE and waits; a later zone with space assigns it
	ctx := context.Background()
	svc, _ := newService(t)
	agg, _ := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines()})
	agg, _ = svc.Submit(ctx, agg.ID, inbound.ActorSystem)
	agg, _ = svc.Approve(ctx, agg.ID, inbound.ActorManager)

	agg, err := svc.AssignZone(ctx, agg.ID, inbound.ZoneRequest{Zone: "A", AvailableCapacity: 80, Actor: inbound.ActorManager})
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusZoneWaiting, agg.Status)
	assert.True(t, agg.HasException(inbound.ExceptionZoneShortage))
	assert.Empty(t, agg.RecordsOf(inbound.RecordZoneAssignment))

	events := len(agg.Events)
	agg, err = svc.AssignZone(ctx, agg.ID, inbound.ZoneRequest{Zone: "A", AvailableCapacity: 90, Actor: inbound.ActorManager})
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusZoneWaiting, agg.Status)
	assert.Len(t, agg.Events, events, "still short: no new event")

	agg, err = svc.AssignZone(ctx, agg.ID, inbound.ZoneRequest{Zone: "B", AvailableCapacity: 250, Actor: inbound.ActorManager})
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusZoneAssigned, agg.Status)
	assert.Equal(t, "B", agg.Attribute(inbound.AttrZone))
	assert.True(t, agg.HasException(inbound.ExceptionZoneShortage), "tags are never cleared")
}

func TestAssignZone_GeneratesOneLocationPerCapacityUnit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg, _ := svc.Create(ctx, inbound.CreateOptions{
		Lines:            []inbound.Line{{ID: "line-1", Quantity: 250}},
		RequiresApproval: noApproval(),
	})

	agg, err := svc.AssignZone(ctx, agg.ID, inbound.ZoneRequest{Zone: "C", AvailableCapacity: 300})
	require.NoError(t, err)
	assert.Equal(t, "C-001,C-002,C-003", agg.Attribute(inbound.AttrLocations))
}

// =============================================================================
// RECEIVING AND INSPECTION
// =============================================================================

func assigned(t *testing.T, svc *inbound.Service) *lifecycle.Aggregate {
	t.Helper()
	ctx := context.Background()
	agg, err := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines(), RequiresApproval: noApproval()})
	require.NoError(t, err)
	agg, err = svc.AssignZone(ctx, agg.ID, inbound.ZoneRequest{Zone: "A", AvailableCapacity: 1000})
	require.NoError(t, err)
	return agg
}

func TestReceive_TagsDiscrepancies(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)
	agg := assigned(t, svc)

	clock.Advance(48 * time.Hour)
	agg, err := svc.Receive(ctx, agg.ID, []inbound.Receipt{{ItemID: "line-1", Quantity: 50}, {ItemID: "line-2", Quantity: 45}}, inbound.ActorWorker)
	require.NoError(t, err)

	assert.Equal(t, inbound.StatusInboundCompleted, agg.Status)
	assert.True(t, agg.HasException(inbound.ExceptionPartialArrival))
	assert.True(t, agg.HasException(inbound.ExceptionInfoMismatch))
	assert.True(t, agg.HasException(inbound.ExceptionDeliveryDelayed))

	item, _ := agg.Item("line-1")
	assert.Equal(t, 50, item.ProcessedQuantity)
}

func TestReceive_UnknownItem(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg := assigned(t, svc)

	_, err := svc.Receive(ctx, agg.ID, []inbound.Receipt{{ItemID: "nope", Quantity: 1}}, inbound.ActorWorker)
	assert.True(t, lifecycle.IsNotFound(err))
}

func TestInspect_FailHoldsThenReinspects(t *testing.T) {
	// GIVEN: received goods with one damaged line
	// WHEN: inspected, released and inspected again
	// THEN: HOLD with INSPECTION_FAILED, then DONE; each round is recorded
	ctx := context.Background()
	svc, _ := newService(t)
	agg := assigned(t, svc)
	agg, err := svc.Receive(ctx, agg.ID, []inbound.Receipt{{ItemID: "line-1", Quantity: 60}, {ItemID: "line-2", Quantity: 40}}, inbound.ActorWorker)
	require.NoError(t, err)

	agg, err = svc.Inspect(ctx, agg.ID, []inbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionPass},
		{ItemID: "line-2", Result: lifecycle.InspectionFail, Note: "crushed box"},
	}, inbound.ActorInspector)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusHold, agg.Status)
	assert.True(t, agg.HasException(inbound.ExceptionInspectionFailed))
	assert.Len(t, agg.RecordsOf(inbound.RecordInventorySync), 1, "only the pre-allocation sync so far")

	agg, err = svc.ReleaseHold(ctx, agg.ID, inbound.ActorManager, "repacked")
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusInboundCompleted, agg.Status)

	agg, err = svc.Inspect(ctx, agg.ID, []inbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionPass},
		{ItemID: "line-2", Result: lifecycle.InspectionPass},
	}, inbound.ActorInspector)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusDone, agg.Status)
	assert.Len(t, agg.RecordsOf(inbound.RecordInspection), 4)
}

func TestInspect_RequiresEveryItem(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg := assigned(t, svc)
	agg, _ = svc.Receive(ctx, agg.ID, nil, inbound.ActorWorker)

	_, err := svc.Inspect(ctx, agg.ID, []inbound.Finding{{ItemID: "line-1", Result: lifecycle.InspectionPass}}, inbound.ActorInspector)
	assert.ErrorIs(t, err, lifecycle.ErrValidation)

	_, err = svc.Inspect(ctx, agg.ID, []inbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionPass},
		{ItemID: "line-2", Result: "MAYBE"},
	}, inbound.ActorInspector)
	assert.ErrorIs(t, err, lifecycle.ErrValidation)
}

func TestInspect_BeforeReceivingIsIllegal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg := assigned(t, svc)

	_, err := svc.Inspect(ctx, agg.ID, []inbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionPass},
		{ItemID: "line-2", Result: lifecycle.InspectionPass},
	}, inbound.ActorInspector)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
}

func TestScanBarcode_MismatchTagsOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg := assigned(t, svc)

	agg, result, err := svc.ScanBarcode(ctx, agg.ID, lifecycle.ScanInput{ItemID: "line-1", Scanned: "880001", Expected: "880002", Actor: inbound.ActorWorker})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.BarcodeMismatch, result)
	assert.Equal(t, inbound.StatusZoneAssigned, agg.Status)
	assert.True(t, agg.HasException(lifecycle.ExceptionBarcodeMismatch))
}

// =============================================================================
// APPROVAL SLA
// =============================================================================

func TestApprovalSLA(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)
	agg, _ := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines()})
	agg, _ = svc.Submit(ctx, agg.ID, inbound.ActorSystem)

	clock.Advance(45 * time.Minute)
	st := svc.Policy().CheckApprovalSLA(agg, clock.Now())
	assert.True(t, st.Waiting)
	assert.False(t, st.Exceeded)

	flagged, err := svc.FlagApprovalDelays(ctx)
	require.NoError(t, err)
	assert.Empty(t, flagged)

	clock.Advance(45 * time.Minute)
	st = svc.Policy().CheckApprovalSLA(agg, clock.Now())
	assert.True(t, st.Exceeded)
	assert.Equal(t, 30*time.Minute, st.Delay)

	flagged, err = svc.FlagApprovalDelays(ctx)
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.RequestID{agg.ID}, flagged)

	again, err := svc.FlagApprovalDelays(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "already tagged")

	got, _ := svc.Get(ctx, agg.ID)
	assert.True(t, got.HasException(inbound.ExceptionApprovalDelay))
	assert.Equal(t, inbound.StatusApprovalWaiting, got.Status)
}

func TestApprovalSLA_NotWaiting(t *testing.T) {
	svc, clock := newService(t)
	agg := assigned(t, svc)
	assert.Equal(t, inbound.SLAStatus{}, svc.Policy().CheckApprovalSLA(agg, clock.Now()))
}

// =============================================================================
// KPI
// =============================================================================

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	// approved, received, passed: 2h lead time, 30m approval
	a, _ := svc.Create(ctx, inbound.CreateOptions{Lines: twoLines()})
	svc.Submit(ctx, a.ID, inbound.ActorSystem)
	clock.Advance(30 * time.Minute)
	svc.Approve(ctx, a.ID, inbound.ActorManager)
	svc.AssignZone(ctx, a.ID, inbound.ZoneRequest{Zone: "A", AvailableCapacity: 1000})
	svc.Receive(ctx, a.ID, []inbound.Receipt{{ItemID: "line-1", Quantity: 60}, {ItemID: "line-2", Quantity: 40}}, inbound.ActorWorker)
	clock.Advance(90 * time.Minute)
	a, err := svc.Inspect(ctx, a.ID, []inbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionPass},
		{ItemID: "line-2", Result: lifecycle.InspectionPass},
	}, inbound.ActorInspector)
	require.NoError(t, err)
	require.Equal(t, inbound.StatusDone, a.Status)

	// short delivery that fails inspection
	b := assigned(t, svc)
	svc.Receive(ctx, b.ID, []inbound.Receipt{{ItemID: "line-1", Quantity: 10}}, inbound.ActorWorker)
	b, err = svc.Inspect(ctx, b.ID, []inbound.Finding{
		{ItemID: "line-1", Result: lifecycle.InspectionFail},
		{ItemID: "line-2", Result: lifecycle.InspectionPass},
	}, inbound.ActorInspector)
	require.NoError(t, err)

	m := inbound.Metrics([]*lifecycle.Aggregate{a, b})
	assert.Equal(t, "50", m[inbound.MetricHoldRate].String())
	assert.Equal(t, "50", m[inbound.MetricApprovalRequiredRate].String())
	assert.Equal(t, "50", m[inbound.MetricPartialArrivalRate].String())
	assert.Equal(t, "30", m[inbound.MetricAvgApprovalMinutes].String())
	assert.Equal(t, "2", m[inbound.MetricAvgLeadTimeHours].String())
	assert.Equal(t, "0", m[inbound.MetricRejectedRequests].String())

	snap := (&lifecycle.KPIAggregator{Clock: clock}).Compute(lifecycle.KindInbound, lifecycle.PeriodDaily, []*lifecycle.Aggregate{a, b})
	rate, ok := snap.Metric(lifecycle.MetricCompletionRate)
	require.True(t, ok)
	assert.Equal(t, "50", rate.String())
	_, ok = snap.Metric(inbound.MetricHoldRate)
	assert.True(t, ok, "domain metrics are merged into the snapshot")
}
