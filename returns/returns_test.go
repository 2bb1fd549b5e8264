package returns_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/lifecycle/store"
	"github.com/warp/wms-engine/returns"
)

var t0 = time.Date(2025, time.May, 12, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*returns.Service, *lifecycle.ManualClock) {
	t.Helper()
	clock := lifecycle.NewManualClock(t0)
	ts := lifecycle.NewTransitionService(clock, lifecycle.NewSequentialIDs(t.Name()))
	ts.Guards = append(ts.Guards, returns.ActorGuard())
	flow := lifecycle.NewWorkflow(store.NewMemory(), ts, nil)
	svc := returns.NewService(flow, returns.DefaultPolicy())
	ts.Gates = append(ts.Gates, svc.Gate())
	return svc, clock
}

func mug() returns.Line {
	return returns.Line{ID: "line-1", SKU: "SKU-MUG", Quantity: 1, OriginalPrice: decimal.RequireFromString("50.00"), Reason: returns.ReasonChangeOfMind}
}

func lids() returns.Line {
	return returns.Line{ID: "line-2", SKU: "SKU-LID", Quantity: 2, OriginalPrice: decimal.RequireFromString("20.00"), Reason: returns.ReasonWrongItem}
}

// inspecting creates a return and walks it up to INSPECTION_IN_PROGRESS.
func inspecting(t *testing.T, svc *returns.Service, lines ...returns.Line) *lifecycle.Aggregate {
	t.Helper()
	ctx := context.Background()
	agg, err := svc.Create(ctx, returns.CreateOptions{OrderID: "ORD-9", Lines: lines})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, agg.ID, returns.ActorCustomerService)
	require.NoError(t, err)
	_, err = svc.ExpectInbound(ctx, agg.ID, "TRK-1", returns.ActorCustomerService)
	require.NoError(t, err)
	_, err = svc.ReceiveInbound(ctx, agg.ID, returns.Receipt{Zone: "RZ-1", Condition: "GOOD", Actor: returns.ActorInboundStaff})
	require.NoError(t, err)
	agg, err = svc.StartInspection(ctx, agg.ID, returns.ActorInspector)
	require.NoError(t, err)
	require.Equal(t, returns.StatusInspectionInProgress, agg.Status)
	return agg
}

// =============================================================================
// GRAPH
// =============================================================================

func TestGraph_IsValid(t *testing.T) {
	require.NoError(t, returns.Graph.Validate())
	assert.Equal(t, returns.StatusReturnReceived, lifecycle.InitialStatus(lifecycle.KindReturn))
	assert.True(t, lifecycle.IsTerminal(lifecycle.KindReturn, returns.StatusReturnRejected))
	assert.True(t, lifecycle.IsTerminal(lifecycle.KindReturn, returns.StatusCompleted))
	assert.True(t, lifecycle.IsLegalTransition(lifecycle.KindReturn, returns.StatusDefectiveConversion, returns.StatusCompleted))
	assert.False(t, lifecycle.IsLegalTransition(lifecycle.KindReturn, returns.StatusReworkDecision, returns.StatusRestockingCompleted))
}

// =============================================================================
// CREATE, APPROVE, REJECT
// =============================================================================

func TestCreate(t *testing.T) {
	svc, _ := newService(t)
	agg, err := svc.Create(context.Background(), returns.CreateOptions{Lines: []returns.Line{mug()}})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(agg.ID), "RRQ-"))
	assert.Equal(t, returns.StatusReturnReceived, agg.Status)
	assert.Equal(t, returns.ReasonChangeOfMind, returns.ReasonOf(agg.Items[0]))
	assert.Equal(t, t0.Format(time.RFC3339Nano), agg.Attribute(returns.AttrPurchasedAt))

	bad := mug()
	bad.Reason = "LOST_INTEREST"
	_, err = svc.Create(context.Background(), returns.CreateOptions{Lines: []returns.Line{bad}})
	assert.ErrorIs(t, err, lifecycle.ErrValidation)
}

func TestApprove_WithinWindow(t *testing.T) {
	svc, clock := newService(t)
	agg, err := svc.Create(context.Background(), returns.CreateOptions{
		PurchasedAt: t0.AddDate(0, 0, -10),
		Lines:       []returns.Line{mug()},
	})
	require.NoError(t, err)

	agg, err = svc.Approve(context.Background(), agg.ID, returns.ActorCustomerService)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusReturnApproved, agg.Status)
	at, ok := agg.Stamp(lifecycle.StampApprovedAt)
	require.True(t, ok)
	assert.Equal(t, clock.Now(), at)
}

func TestApprove_OutsideWindow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	// GIVEN: a change-of-mind return 40 days after purchase (window 30)
	agg, err := svc.Create(ctx, returns.CreateOptions{
		PurchasedAt: t0.AddDate(0, 0, -40),
		Lines:       []returns.Line{mug()},
	})
	require.NoError(t, err)

	// WHEN: customer service approves
	got, err := svc.Approve(ctx, agg.ID, returns.ActorCustomerService)

	// THEN: approval is refused, the request is tagged but keeps its status
	require.ErrorIs(t, err, lifecycle.ErrPolicyViolation)
	var pv *lifecycle.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "return_window", pv.Rule)
	require.NotNil(t, got)
	assert.Equal(t, returns.StatusReturnReceived, got.Status)
	assert.True(t, got.HasException(returns.ExceptionOutsideWindow))
	assert.Empty(t, got.Events)

	stored, err := svc.Get(ctx, agg.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasException(returns.ExceptionOutsideWindow))

	// A long-window reason is still accepted at 40 days
	defect := mug()
	defect.Reason = returns.ReasonProductDefect
	ok, err := svc.Create(ctx, returns.CreateOptions{PurchasedAt: t0.AddDate(0, 0, -40), Lines: []returns.Line{defect}})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, ok.ID, returns.ActorCustomerService)
	assert.NoError(t, err)
}

func TestApprove_FinalSaleIsIneligible(t *testing.T) {
	svc, _ := newService(t)
	line := mug()
	line.FinalSale = true
	agg, err := svc.Create(context.Background(), returns.CreateOptions{Lines: []returns.Line{line}})
	require.NoError(t, err)

	got, err := svc.Approve(context.Background(), agg.ID, returns.ActorCustomerService)
	assert.ErrorIs(t, err, lifecycle.ErrPolicyViolation)
	assert.True(t, got.HasException(returns.ExceptionIneligible))
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg, err := svc.Create(ctx, returns.CreateOptions{Lines: []returns.Line{mug()}})
	require.NoError(t, err)

	_, err = svc.Reject(ctx, agg.ID, returns.ActorCustomerService, " ")
	require.ErrorIs(t, err, lifecycle.ErrValidation)

	agg, err = svc.Reject(ctx, agg.ID, returns.ActorCustomerService, "used product")
	require.NoError(t, err)
	assert.True(t, agg.IsTerminal())
	assert.Equal(t, "used product", agg.Attribute(returns.AttrRejectionReason))
	_, ok := agg.Stamp(lifecycle.StampRejectedAt)
	assert.True(t, ok)

	_, err = svc.Approve(ctx, agg.ID, returns.ActorCustomerService)
	var ite *lifecycle.IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.True(t, ite.Terminal)
}

func TestActorGuard(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg, err := svc.Create(ctx, returns.CreateOptions{Lines: []returns.Line{mug()}})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, agg.ID, returns.ActorInspector)
	assert.ErrorIs(t, err, lifecycle.ErrPolicyViolation)

	agg, err = svc.Approve(ctx, agg.ID, returns.ActorAdmin)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusReturnApproved, agg.Status)
}

// =============================================================================
// GRADING
// =============================================================================

func TestGrade(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg := inspecting(t, svc, mug(), lids())

	_, err := svc.Grade(ctx, agg.ID, "line-1", "GRADE_Z", "", returns.ActorInspector)
	require.ErrorIs(t, err, lifecycle.ErrValidation)
	_, err = svc.Grade(ctx, agg.ID, "line-9", lifecycle.GradeA, "", returns.ActorInspector)
	require.ErrorIs(t, err, lifecycle.ErrNotFound)

	// First item graded: still inspecting
	agg, err = svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeB, "box opened", returns.ActorInspector)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusInspectionInProgress, agg.Status)

	// Regrade before the last item is allowed
	agg, err = svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeA, "as new", returns.ActorInspector)
	require.NoError(t, err)
	line1, err := agg.Item("line-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.GradeA, line1.Grade)
	assert.Equal(t, 1, line1.InspectedQuantity)

	// Last item graded C: rework decision, severe damage flagged
	agg, err = svc.Grade(ctx, agg.ID, "line-2", lifecycle.GradeC, "cracked", returns.ActorInspector)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusReworkDecision, agg.Status)
	assert.True(t, agg.HasException(returns.ExceptionSevereDamage))
	assert.Len(t, agg.RecordsOf(returns.RecordGrade), 3)

	_, err = svc.Grade(ctx, agg.ID, "line-2", lifecycle.GradeB, "", returns.ActorInspector)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
}

func TestMakeReworkDecision_GradeCCannotBeRestocked(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg := inspecting(t, svc, mug())
	_, err := svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeC, "broken", returns.ActorInspector)
	require.NoError(t, err)

	_, err = svc.MakeReworkDecision(ctx, agg.ID, "line-1", returns.DecisionRestocking, returns.ActorReturnManager, "")
	assert.ErrorIs(t, err, lifecycle.ErrPolicyViolation)
	assert.ErrorIs(t, svc.Decide(lifecycle.GradeC, returns.DecisionRestocking), lifecycle.ErrPolicyViolation)
}

// =============================================================================
// RESTOCKING PATH
// =============================================================================

func TestRestockingPath(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)
	agg := inspecting(t, svc, mug(), lids())

	_, err := svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeA, "", returns.ActorInspector)
	require.NoError(t, err)
	_, err = svc.Grade(ctx, agg.ID, "line-2", lifecycle.GradeB, "", returns.ActorInspector)
	require.NoError(t, err)

	agg, err = svc.MakeReworkDecision(ctx, agg.ID, "line-1", returns.DecisionRestocking, returns.ActorReturnManager, "")
	require.NoError(t, err)
	assert.Equal(t, returns.StatusReworkDecision, agg.Status)
	agg, err = svc.MakeReworkDecision(ctx, agg.ID, "line-2", returns.DecisionRestocking, returns.ActorReturnManager, "resell")
	require.NoError(t, err)
	assert.Equal(t, returns.StatusRestockingDecision, agg.Status)

	// Refund and completion wait for the items to be shelved
	_, _, err = svc.ProcessRefund(ctx, agg.ID, "", returns.ActorCustomerService)
	require.ErrorIs(t, err, lifecycle.ErrPolicyViolation)
	_, err = svc.Complete(ctx, agg.ID, returns.ActorOMS)
	require.ErrorIs(t, err, lifecycle.ErrPolicyViolation)

	_, err = svc.ExecuteRestocking(ctx, agg.ID, "line-1", "", returns.ActorRestockingStaff)
	require.ErrorIs(t, err, lifecycle.ErrValidation)

	agg, err = svc.ExecuteRestocking(ctx, agg.ID, "line-1", "A-01", returns.ActorRestockingStaff)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusRestockingDecision, agg.Status)
	agg, err = svc.ExecuteRestocking(ctx, agg.ID, "line-1", "A-02", returns.ActorRestockingStaff)
	require.NoError(t, err)
	assert.Len(t, agg.RecordsOf(returns.RecordRestock), 1)

	agg, err = svc.ExecuteRestocking(ctx, agg.ID, "line-2", "A-03", returns.ActorRestockingStaff)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusRestockingCompleted, agg.Status)

	// GIVEN: A at 100% of 50.00, B at 80% of 40.00
	agg, total, err := svc.ProcessRefund(ctx, agg.ID, returns.RefundCredit, returns.ActorCustomerService)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("82.00").Equal(total), "total %s", total)
	assert.Equal(t, "82.00", agg.Attribute(returns.AttrTotalRefund))
	assert.Equal(t, string(returns.RefundCredit), agg.Attribute(returns.AttrRefundMethod))

	// Refunding twice returns the first refund
	_, again, err := svc.ProcessRefund(ctx, agg.ID, returns.RefundVoucher, returns.ActorCustomerService)
	require.NoError(t, err)
	assert.True(t, total.Equal(again))

	clock.Advance(6 * time.Hour)
	agg, err = svc.Complete(ctx, agg.ID, returns.ActorOMS)
	require.NoError(t, err)
	assert.True(t, agg.IsTerminal())
	assert.Len(t, agg.Events, 8)

	m := returns.Metrics([]*lifecycle.Aggregate{agg})
	assert.Equal(t, "50", m[returns.MetricGradeARate].String())
	assert.Equal(t, "100", m[returns.MetricRestockingRate].String())
	assert.Equal(t, "0", m[returns.MetricDisposalRate].String())
	assert.True(t, decimal.RequireFromString("82").Equal(m[returns.MetricTotalRefund]))
	assert.Equal(t, "6", m[returns.MetricAvgProcessingHours].String())
}

// =============================================================================
// DISPOSAL PATH
// =============================================================================

func TestDisposalPath(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	defect := returns.Line{ID: "line-1", SKU: "SKU-TOASTER", Quantity: 1, OriginalPrice: decimal.RequireFromString("30.00"), Reason: returns.ReasonProductDefect}
	agg := inspecting(t, svc, defect)

	_, err := svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeC, "burnt", returns.ActorInspector)
	require.NoError(t, err)
	agg, err = svc.MakeReworkDecision(ctx, agg.ID, "line-1", returns.DecisionDisposal, returns.ActorReturnManager, "unsafe")
	require.NoError(t, err)
	assert.Equal(t, returns.StatusDisposalTarget, agg.Status)

	// Disposal waits for the approval status
	_, err = svc.ExecuteDisposal(ctx, agg.ID, "line-1", returns.DisposalRecycling, returns.ActorDisposalStaff)
	require.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	_, err = svc.RequestDisposalApproval(ctx, agg.ID, returns.ActorDisposalStaff, "")
	require.NoError(t, err)

	// ...and for the manager's sign-off
	_, err = svc.ExecuteDisposal(ctx, agg.ID, "line-1", returns.DisposalRecycling, returns.ActorDisposalStaff)
	require.ErrorIs(t, err, lifecycle.ErrPolicyViolation)
	_, err = svc.ApproveDisposal(ctx, agg.ID, "line-1", returns.ActorDisposalStaff, "")
	require.ErrorIs(t, err, lifecycle.ErrPolicyViolation)

	_, err = svc.ApproveDisposal(ctx, agg.ID, "line-1", returns.ActorWarehouseManager, "unsafe")
	require.NoError(t, err)
	_, err = svc.ExecuteDisposal(ctx, agg.ID, "line-1", "BURY", returns.ActorDisposalStaff)
	require.ErrorIs(t, err, lifecycle.ErrValidation)

	agg, err = svc.ExecuteDisposal(ctx, agg.ID, "line-1", returns.DisposalRecycling, returns.ActorDisposalStaff)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusDisposalCompleted, agg.Status)

	_, total, err := svc.ProcessRefund(ctx, agg.ID, "", returns.ActorCustomerService)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("15").Equal(total), "total %s", total)

	agg, err = svc.Complete(ctx, agg.ID, returns.ActorOMS)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusCompleted, agg.Status)
}

func TestMixedRestockAndDisposal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg := inspecting(t, svc, mug(), lids())

	_, err := svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeA, "", returns.ActorInspector)
	require.NoError(t, err)
	_, err = svc.Grade(ctx, agg.ID, "line-2", lifecycle.GradeC, "", returns.ActorInspector)
	require.NoError(t, err)
	_, err = svc.MakeReworkDecision(ctx, agg.ID, "line-1", returns.DecisionRestocking, returns.ActorReturnManager, "")
	require.NoError(t, err)
	agg, err = svc.MakeReworkDecision(ctx, agg.ID, "line-2", returns.DecisionDisposal, returns.ActorReturnManager, "")
	require.NoError(t, err)
	assert.Equal(t, returns.StatusDisposalTarget, agg.Status)

	// The restock item is shelved while disposal is pending
	agg, err = svc.ExecuteRestocking(ctx, agg.ID, "line-1", "A-01", returns.ActorRestockingStaff)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusDisposalTarget, agg.Status)

	// Restocking the disposal item is refused
	_, err = svc.ExecuteRestocking(ctx, agg.ID, "line-2", "A-01", returns.ActorRestockingStaff)
	require.ErrorIs(t, err, lifecycle.ErrPolicyViolation)

	_, err = svc.RequestDisposalApproval(ctx, agg.ID, returns.ActorDisposalStaff, "")
	require.NoError(t, err)
	_, err = svc.ApproveDisposal(ctx, agg.ID, "line-2", returns.ActorWarehouseManager, "")
	require.NoError(t, err)
	agg, err = svc.ExecuteDisposal(ctx, agg.ID, "line-2", returns.DisposalLandfill, returns.ActorDisposalStaff)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusDisposalCompleted, agg.Status)

	// 50.00 at 100% + 40.00 at 50%
	_, total, err := svc.ProcessRefund(ctx, agg.ID, "", returns.ActorCustomerService)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("70").Equal(total), "total %s", total)
}

// =============================================================================
// DEFECTIVE CONVERSION PATH
// =============================================================================

func TestDefectiveConversion(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*returns.Service, *lifecycle.Aggregate) {
		svc, _ := newService(t)
		agg := inspecting(t, svc, mug())
		_, err := svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeB, "scratched", returns.ActorInspector)
		require.NoError(t, err)
		agg, err = svc.MakeReworkDecision(ctx, agg.ID, "line-1", returns.DecisionRepair, returns.ActorReturnManager, "")
		require.NoError(t, err)
		require.Equal(t, returns.StatusDefectiveConversion, agg.Status)
		return svc, agg
	}

	t.Run("repaired items return to stock", func(t *testing.T) {
		svc, agg := setup(t)
		agg, err := svc.ConvertDefective(ctx, agg.ID, returns.ConversionRepaired, returns.ActorReturnManager, "polished")
		require.NoError(t, err)
		assert.Equal(t, returns.StatusRestockingCompleted, agg.Status)
		assert.Equal(t, returns.DecisionRestocking, returns.Disposition(agg, "line-1"))
		assert.Equal(t, returns.DecisionRepair, returns.DecisionOf(agg, "line-1"))

		_, total, err := svc.ProcessRefund(ctx, agg.ID, "", returns.ActorCustomerService)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("40").Equal(total), "total %s", total)
	})

	t.Run("scrap hands over to disposal", func(t *testing.T) {
		svc, agg := setup(t)
		agg, err := svc.ConvertDefective(ctx, agg.ID, returns.ConversionScrap, returns.ActorReturnManager, "")
		require.NoError(t, err)
		assert.Equal(t, returns.StatusDisposalTarget, agg.Status)
		assert.Equal(t, returns.DecisionDisposal, returns.Disposition(agg, "line-1"))
	})

	t.Run("write-off completes after refund", func(t *testing.T) {
		svc, agg := setup(t)
		agg, err := svc.ConvertDefective(ctx, agg.ID, returns.ConversionWriteOff, returns.ActorReturnManager, "")
		require.NoError(t, err)
		assert.Equal(t, returns.StatusDefectiveConversion, agg.Status)

		_, err = svc.ConvertDefective(ctx, agg.ID, returns.ConversionScrap, returns.ActorReturnManager, "")
		require.ErrorIs(t, err, lifecycle.ErrPolicyViolation)

		_, _, err = svc.ProcessRefund(ctx, agg.ID, "", returns.ActorCustomerService)
		require.NoError(t, err)
		agg, err = svc.Complete(ctx, agg.ID, returns.ActorReturnManager)
		require.NoError(t, err)
		assert.Equal(t, returns.StatusCompleted, agg.Status)
	})

	t.Run("unknown outcome", func(t *testing.T) {
		svc, agg := setup(t)
		_, err := svc.ConvertDefective(ctx, agg.ID, "MELT", returns.ActorReturnManager, "")
		assert.ErrorIs(t, err, lifecycle.ErrValidation)
	})
}

func TestDefectiveConversion_WithPendingDisposal(t *testing.T) {
	// GIVEN: one item to repair and one to dispose of
	// WHEN: the repair item is converted
	// THEN: no outcome leaves the request stuck in DEFECTIVE_CONVERSION
	ctx := context.Background()

	setup := func(t *testing.T) (*returns.Service, *lifecycle.Aggregate) {
		svc, _ := newService(t)
		agg := inspecting(t, svc, mug(), lids())
		_, err := svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeB, "scratched", returns.ActorInspector)
		require.NoError(t, err)
		_, err = svc.Grade(ctx, agg.ID, "line-2", lifecycle.GradeC, "cracked", returns.ActorInspector)
		require.NoError(t, err)
		_, err = svc.MakeReworkDecision(ctx, agg.ID, "line-1", returns.DecisionRepair, returns.ActorReturnManager, "")
		require.NoError(t, err)
		agg, err = svc.MakeReworkDecision(ctx, agg.ID, "line-2", returns.DecisionDisposal, returns.ActorReturnManager, "")
		require.NoError(t, err)
		require.Equal(t, returns.StatusDefectiveConversion, agg.Status)
		return svc, agg
	}

	dispose := func(t *testing.T, svc *returns.Service, id lifecycle.RequestID) *lifecycle.Aggregate {
		_, err := svc.RequestDisposalApproval(ctx, id, returns.ActorDisposalStaff, "")
		require.NoError(t, err)
		_, err = svc.ApproveDisposal(ctx, id, "line-2", returns.ActorWarehouseManager, "")
		require.NoError(t, err)
		agg, err := svc.ExecuteDisposal(ctx, id, "line-2", returns.DisposalRecycling, returns.ActorDisposalStaff)
		require.NoError(t, err)
		require.Equal(t, returns.StatusDisposalCompleted, agg.Status)
		return agg
	}

	t.Run("repaired is refused", func(t *testing.T) {
		svc, agg := setup(t)
		_, err := svc.ConvertDefective(ctx, agg.ID, returns.ConversionRepaired, returns.ActorReturnManager, "")
		require.ErrorIs(t, err, lifecycle.ErrPolicyViolation)

		got, err := svc.Get(ctx, agg.ID)
		require.NoError(t, err)
		assert.Equal(t, returns.StatusDefectiveConversion, got.Status)
		assert.Empty(t, got.RecordsOf(returns.RecordConversion))
	})

	t.Run("scrap disposes of both items", func(t *testing.T) {
		svc, agg := setup(t)
		agg, err := svc.ConvertDefective(ctx, agg.ID, returns.ConversionScrap, returns.ActorReturnManager, "")
		require.NoError(t, err)
		assert.Equal(t, returns.StatusDisposalTarget, agg.Status)
		assert.Equal(t, returns.DecisionDisposal, returns.Disposition(agg, "line-1"))
		assert.Equal(t, returns.DecisionDisposal, returns.Disposition(agg, "line-2"))
	})

	t.Run("write-off hands the rest to disposal", func(t *testing.T) {
		svc, agg := setup(t)
		agg, err := svc.ConvertDefective(ctx, agg.ID, returns.ConversionWriteOff, returns.ActorReturnManager, "")
		require.NoError(t, err)
		assert.Equal(t, returns.StatusDisposalTarget, agg.Status)
		assert.Equal(t, returns.DecisionWriteOff, returns.Disposition(agg, "line-1"))
		assert.Equal(t, returns.DecisionDisposal, returns.Disposition(agg, "line-2"))

		// The written off item is not part of the disposal
		_, err = svc.ApproveDisposal(ctx, agg.ID, "line-1", returns.ActorWarehouseManager, "")
		require.ErrorIs(t, err, lifecycle.ErrPolicyViolation)

		dispose(t, svc, agg.ID)

		// 50.00 at 80% + 40.00 at 50%
		_, total, err := svc.ProcessRefund(ctx, agg.ID, "", returns.ActorCustomerService)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("60").Equal(total), "total %s", total)

		agg, err = svc.Complete(ctx, agg.ID, returns.ActorOMS)
		require.NoError(t, err)
		assert.Equal(t, returns.StatusCompleted, agg.Status)
	})
}

// =============================================================================
// GATE
// =============================================================================

func TestGate_GradeGateOnBranch(t *testing.T) {
	// GIVEN: a GRADE_C item carrying a RESTOCKING decision that never went
	//        through MakeReworkDecision
	// WHEN: the request is moved to RESTOCKING_DECISION
	// THEN: the grade rule still refuses it
	ctx := context.Background()
	svc, _ := newService(t)
	agg := inspecting(t, svc, mug())
	agg, err := svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeC, "shattered", returns.ActorInspector)
	require.NoError(t, err)
	require.Equal(t, returns.StatusReworkDecision, agg.Status)

	gate := svc.Gate()
	err = gate(agg, returns.StatusRestockingDecision, returns.ActorAdmin)
	var pv *lifecycle.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "decision_incomplete", pv.Rule)

	forged := agg.Clone()
	forged.AppendRecord(lifecycle.ActionRecord{
		ID:     "RWK-X",
		Type:   returns.RecordRework,
		ItemID: "line-1",
		Data:   map[string]string{"decision": string(returns.DecisionRestocking)},
	})
	err = gate(forged, returns.StatusRestockingDecision, returns.ActorAdmin)
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "grade_not_restockable", pv.Rule)
}

func TestGate_BranchMustMatchDecisions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	agg := inspecting(t, svc, mug())
	agg, err := svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeA, "", returns.ActorInspector)
	require.NoError(t, err)

	decided := agg.Clone()
	decided.AppendRecord(lifecycle.ActionRecord{
		ID:     "RWK-X",
		Type:   returns.RecordRework,
		ItemID: "line-1",
		Data:   map[string]string{"decision": string(returns.DecisionRestocking)},
	})

	gate := svc.Gate()
	assert.NoError(t, gate(decided, returns.StatusRestockingDecision, returns.ActorAdmin))
	assert.ErrorIs(t, gate(decided, returns.StatusDisposalTarget, returns.ActorAdmin), lifecycle.ErrPolicyViolation)
	assert.ErrorIs(t, gate(decided, returns.StatusDefectiveConversion, returns.ActorAdmin), lifecycle.ErrPolicyViolation)
}

func TestGate_OtherKindsPass(t *testing.T) {
	svc, _ := newService(t)
	agg := &lifecycle.Aggregate{Kind: lifecycle.KindOutbound, Status: "REQUEST_CREATED"}
	assert.NoError(t, svc.Gate()(agg, returns.StatusCompleted, returns.ActorAdmin))
}

func TestReworkDecision_ReasonRestockableIsAdvisory(t *testing.T) {
	// GIVEN: a defect return whose reason is not marked restockable
	// WHEN: the item grades GRADE_A and is restocked
	// THEN: the grade decides and the decision is accepted
	ctx := context.Background()
	svc, _ := newService(t)
	defect := returns.Line{ID: "line-1", SKU: "SKU-TOASTER", Quantity: 1, OriginalPrice: decimal.RequireFromString("30.00"), Reason: returns.ReasonProductDefect}
	require.False(t, svc.Policy().Reasons[returns.ReasonProductDefect].Restockable)

	agg := inspecting(t, svc, defect)
	_, err := svc.Grade(ctx, agg.ID, "line-1", lifecycle.GradeA, "works fine", returns.ActorInspector)
	require.NoError(t, err)
	agg, err = svc.MakeReworkDecision(ctx, agg.ID, "line-1", returns.DecisionRestocking, returns.ActorReturnManager, "")
	require.NoError(t, err)
	assert.Equal(t, returns.StatusRestockingDecision, agg.Status)
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetrics_ApprovalCounts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	approved, err := svc.Create(ctx, returns.CreateOptions{Lines: []returns.Line{mug()}})
	require.NoError(t, err)
	approved, err = svc.Approve(ctx, approved.ID, returns.ActorCustomerService)
	require.NoError(t, err)

	rejected, err := svc.Create(ctx, returns.CreateOptions{Lines: []returns.Line{mug()}})
	require.NoError(t, err)
	rejected, err = svc.Reject(ctx, rejected.ID, returns.ActorCustomerService, "worn")
	require.NoError(t, err)

	m := returns.Metrics([]*lifecycle.Aggregate{approved, rejected})
	assert.Equal(t, "1", m[returns.MetricApprovedRequests].String())
	assert.Equal(t, "1", m[returns.MetricRejectedRequests].String())
	assert.Equal(t, "0", m[returns.MetricGradeARate].String())
	assert.Equal(t, "0", m[returns.MetricAverageRefund].String())
}
